package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

const (
	DefaultCallGasLimit         = 300000
	DefaultVerificationGasLimit = 2000000
	DefaultPreVerificationGas   = 100000
)

var (
	minPriorityFee = big.NewInt(1e9)
	ErrNilSigner   = errors.New("signer is required")
)

// ChainClient is the subset of ethclient.Client the builder reads from
type ChainClient interface {
	ethereum.ContractCaller
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type AccountConfig struct {
	EntryPoint common.Address
	Factory    common.Address
	Salt       *big.Int
}

// AccountBuilder assembles user operations for the smart account owned by one
// signer. It is not safe for concurrent use.
type AccountBuilder struct {
	client  ChainClient
	gateway *PaymasterGateway
	config  AccountConfig

	owner    common.Address
	address  common.Address
	chainID  *big.Int
	initCode []byte

	option               domain.PaymentOption
	callGasLimit         *big.Int
	verificationGasLimit *big.Int
	preVerificationGas   *big.Int
	maxFeePerGas         *big.Int
	maxPriorityFeePerGas *big.Int
}

// NewAccountBuilder resolves the counterfactual account address of signer
// through the factory and reads the chain id.
func NewAccountBuilder(ctx context.Context, signer erc4337.Signer, client ChainClient, gateway *PaymasterGateway, config AccountConfig) (*AccountBuilder, error) {
	if signer == nil {
		return nil, domain.NewError(domain.ErrorCodeInvalidSigner, ErrNilSigner,
			domain.WithMsg("A signer is required"), domain.WithStage(domain.StageBuilder))
	}
	owner, err := signer.Address(ctx)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInvalidSigner, fmt.Errorf("failed to get signer address: %w", err),
			domain.WithMsg("Signer address is unavailable"), domain.WithStage(domain.StageBuilder))
	}

	salt := config.Salt
	if salt == nil {
		salt = big.NewInt(0)
	}
	config.Salt = new(big.Int).Set(salt)

	b := &AccountBuilder{
		client:               client,
		gateway:              gateway,
		config:               config,
		owner:                owner,
		option:               domain.PaymentOption{Mode: domain.PaymentModeSponsored},
		callGasLimit:         big.NewInt(DefaultCallGasLimit),
		verificationGasLimit: big.NewInt(DefaultVerificationGasLimit),
		preVerificationGas:   big.NewInt(DefaultPreVerificationGas),
	}

	b.address, err = b.resolveAddress(ctx)
	if err != nil {
		return nil, err
	}

	b.initCode, err = erc4337.InitCode(config.Factory, owner, config.Salt)
	if err != nil {
		return nil, stageError(domain.StageBuilder, fmt.Errorf("failed to encode init code: %w", err))
	}

	b.chainID, err = client.ChainID(ctx)
	if err != nil {
		return nil, rpcError(domain.StageBuilder, "get chain id", err)
	}

	b.logger(ctx).Debug().
		Str("owner", owner.Hex()).
		Str("account", b.address.Hex()).
		Str("chain_id", b.chainID.String()).
		Msg("account builder ready")

	return b, nil
}

func (b *AccountBuilder) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "account-builder").Logger()
	return &l
}

func (b *AccountBuilder) resolveAddress(ctx context.Context) (common.Address, error) {
	data, err := erc4337.AccountFactoryABI.Pack("getAddress", b.owner, b.config.Salt)
	if err != nil {
		return common.Address{}, stageError(domain.StageBuilder, fmt.Errorf("failed to pack getAddress: %w", err))
	}

	factory := b.config.Factory
	result, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, rpcError(domain.StageBuilder, "get account address", err)
	}

	address, err := erc4337.UnpackAddress(erc4337.AccountFactoryABI, "getAddress", result)
	if err != nil {
		return common.Address{}, stageError(domain.StageBuilder, fmt.Errorf("failed to decode account address: %w", err))
	}
	return address, nil
}

func (b *AccountBuilder) Address() common.Address {
	return b.address
}

func (b *AccountBuilder) Owner() common.Address {
	return b.owner
}

func (b *AccountBuilder) ChainID() *big.Int {
	return new(big.Int).Set(b.chainID)
}

func (b *AccountBuilder) EntryPoint() common.Address {
	return b.config.EntryPoint
}

// IsDeployed reports whether the account already has code on chain
func (b *AccountBuilder) IsDeployed(ctx context.Context) (bool, error) {
	code, err := b.client.CodeAt(ctx, b.address, nil)
	if err != nil {
		return false, rpcError(domain.StageBuilder, "get account code", err)
	}
	return len(code) > 0, nil
}

// SetPaymentOption stores the gas payment option applied by BuildOperation
func (b *AccountBuilder) SetPaymentOption(option domain.PaymentOption) {
	if option.Token != nil {
		token := *option.Token
		option.Token = &token
	}
	b.option = option
}

func (b *AccountBuilder) SetGasLimits(callGasLimit, verificationGasLimit, preVerificationGas *big.Int) error {
	limits := []struct {
		name  string
		value *big.Int
	}{
		{"call gas limit", callGasLimit},
		{"verification gas limit", verificationGasLimit},
		{"pre-verification gas", preVerificationGas},
	}
	for _, limit := range limits {
		if limit.value == nil || limit.value.Sign() <= 0 {
			return domain.NewError(domain.ErrorCodeValidation, fmt.Errorf("%s must be positive", limit.name),
				domain.WithMsg("Gas limits must be positive"), domain.WithStage(domain.StageBuilder))
		}
	}

	b.callGasLimit = new(big.Int).Set(callGasLimit)
	b.verificationGasLimit = new(big.Int).Set(verificationGasLimit)
	b.preVerificationGas = new(big.Int).Set(preVerificationGas)
	return nil
}

func (b *AccountBuilder) SetGasFees(maxFeePerGas, maxPriorityFeePerGas *big.Int) {
	b.maxFeePerGas = copyInt(maxFeePerGas)
	b.maxPriorityFeePerGas = copyInt(maxPriorityFeePerGas)
}

// RefreshGasFees sets EIP-1559 fees from the node: the suggested tip plus 13%
// (at least 1 gwei), and twice the latest base fee plus the tip.
func (b *AccountBuilder) RefreshGasFees(ctx context.Context) error {
	tip, err := b.client.SuggestGasTipCap(ctx)
	if err != nil {
		return rpcError(domain.StageBuilder, "suggest gas tip cap", err)
	}
	tip = new(big.Int).Div(new(big.Int).Mul(tip, big.NewInt(113)), big.NewInt(100))
	if tip.Cmp(minPriorityFee) < 0 {
		tip = new(big.Int).Set(minPriorityFee)
	}

	head, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return rpcError(domain.StageBuilder, "get latest header", err)
	}
	baseFee := big.NewInt(0)
	if head.BaseFee != nil {
		baseFee = head.BaseFee
	}
	maxFee := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	b.SetGasFees(maxFee, tip)

	b.logger(ctx).Debug().
		Str("max_fee_per_gas", maxFee.String()).
		Str("max_priority_fee_per_gas", tip.String()).
		Msg("gas fees refreshed")
	return nil
}

func (b *AccountBuilder) nonce(ctx context.Context) (*big.Int, error) {
	data, err := erc4337.EntryPointABI.Pack("getNonce", b.address, big.NewInt(0))
	if err != nil {
		return nil, stageError(domain.StageBuilder, fmt.Errorf("failed to pack getNonce: %w", err))
	}

	entryPoint := b.config.EntryPoint
	result, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &entryPoint, Data: data}, nil)
	if err != nil {
		return nil, rpcError(domain.StageBuilder, "get nonce", err)
	}

	nonce, err := erc4337.UnpackBig(erc4337.EntryPointABI, "getNonce", result)
	if err != nil {
		return nil, stageError(domain.StageBuilder, fmt.Errorf("failed to decode nonce: %w", err))
	}
	return nonce, nil
}

// BuildOperation returns an unsigned operation executing callData on target
// from the account, with gas and the stored payment option applied.
func (b *AccountBuilder) BuildOperation(ctx context.Context, target common.Address, value *big.Int, callData []byte) (*erc4337.UserOperation, error) {
	if err := b.option.Validate(); err != nil {
		return nil, domain.NewError(domain.ErrorCodeValidation, err,
			domain.WithMsg(clientMsgOf(err)), domain.WithStage(domain.StageBuilder))
	}

	nonce, err := b.nonce(ctx)
	if err != nil {
		return nil, err
	}

	execute, err := erc4337.PackExecute(target, value, callData)
	if err != nil {
		return nil, stageError(domain.StageBuilder, fmt.Errorf("failed to pack execute: %w", err))
	}

	op := erc4337.NewUserOperation(b.address)
	op.Nonce = (*hexutil.Big)(nonce)
	op.CallData = execute
	if nonce.Sign() == 0 {
		op.InitCode = common.CopyBytes(b.initCode)
	}
	op.CallGasLimit = (*hexutil.Big)(new(big.Int).Set(b.callGasLimit))
	op.VerificationGasLimit = (*hexutil.Big)(new(big.Int).Set(b.verificationGasLimit))
	op.PreVerificationGas = (*hexutil.Big)(new(big.Int).Set(b.preVerificationGas))
	op.MaxFeePerGas = (*hexutil.Big)(copyInt(b.maxFeePerGas))
	op.MaxPriorityFeePerGas = (*hexutil.Big)(copyInt(b.maxPriorityFeePerGas))

	if err := op.Advance(erc4337.StateGasConfigured); err != nil {
		return nil, stageError(domain.StageBuilder, err)
	}

	logger := b.logger(ctx).With().
		Str("account", b.address.Hex()).
		Str("nonce", nonce.String()).
		Str("mode", b.option.Mode.String()).
		Logger()

	if b.option.Mode == domain.PaymentModeSponsored {
		logger.Debug().Bool("init_code", len(op.InitCode) > 0).Msg("user operation built")
		return op, nil
	}

	directive, err := b.gateway.SelectDirective(b.option.Mode, b.option.Token)
	if err != nil {
		return nil, err
	}
	sponsored, err := b.gateway.Sponsor(ctx, op, directive)
	if err != nil {
		return nil, err
	}
	if err := sponsored.Advance(erc4337.StatePaymasterConfigured); err != nil {
		return nil, stageError(domain.StageBuilder, err)
	}

	logger.Debug().
		Bool("init_code", len(sponsored.InitCode) > 0).
		Str("token", b.option.Token.Hex()).
		Msg("user operation built with paymaster")
	return sponsored, nil
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
