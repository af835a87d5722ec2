package erc4337

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// PaymasterDirective tells the paymaster who pays gas and how.
// Token is omitted entirely for sponsored operations.
type PaymasterDirective struct {
	Type   string          `json:"type"`
	APIKey string          `json:"apikey"`
	RPC    string          `json:"rpc"`
	Token  *common.Address `json:"token,omitempty"`
}

// SponsorContext is the fourth pm_sponsor_userop parameter
type SponsorContext struct {
	Type  string          `json:"type"`
	Token *common.Address `json:"token,omitempty"`
}

// SponsorResult holds the fields a paymaster fills in. Absent fields stay nil.
type SponsorResult struct {
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	CallGasLimit         *hexutil.Big  `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big  `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big  `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big  `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big  `json:"maxPriorityFeePerGas"`
}

// Apply copies the sponsored fields onto op
func (r *SponsorResult) Apply(op *UserOperation) {
	op.PaymasterAndData = common.CopyBytes(r.PaymasterAndData)
	if r.CallGasLimit != nil {
		op.CallGasLimit = r.CallGasLimit
	}
	if r.VerificationGasLimit != nil {
		op.VerificationGasLimit = r.VerificationGasLimit
	}
	if r.PreVerificationGas != nil {
		op.PreVerificationGas = r.PreVerificationGas
	}
	if r.MaxFeePerGas != nil {
		op.MaxFeePerGas = r.MaxFeePerGas
	}
	if r.MaxPriorityFeePerGas != nil {
		op.MaxPriorityFeePerGas = r.MaxPriorityFeePerGas
	}
}

type Paymaster interface {
	// SupportedTokens returns the raw pm_supported_tokens result
	SupportedTokens(ctx context.Context, probe *UserOperation, apiKey string, entryPoint common.Address) (json.RawMessage, error)
	SponsorUserOperation(ctx context.Context, op *UserOperation, apiKey string, entryPoint common.Address, sponsor SponsorContext) (*SponsorResult, error)
}

type PaymasterClient struct {
	client *rpc.Client
}

func DialPaymaster(ctx context.Context, rawurl string) (Paymaster, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return NewPaymasterClient(c), nil
}

func NewPaymasterClient(c *rpc.Client) Paymaster {
	return &PaymasterClient{c}
}

func (p *PaymasterClient) SupportedTokens(ctx context.Context, probe *UserOperation, apiKey string, entryPoint common.Address) (json.RawMessage, error) {
	var result json.RawMessage
	err := p.client.CallContext(ctx, &result, "pm_supported_tokens", probe, apiKey, entryPoint)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PaymasterClient) SponsorUserOperation(ctx context.Context, op *UserOperation, apiKey string, entryPoint common.Address, sponsor SponsorContext) (*SponsorResult, error) {
	var result SponsorResult
	err := p.client.CallContext(ctx, &result, "pm_sponsor_userop", op, apiKey, entryPoint, sponsor)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
