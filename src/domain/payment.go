package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PaymentMode selects who pays gas for an operation
type PaymentMode int

const (
	PaymentModeSponsored PaymentMode = iota
	PaymentModePrepay
	PaymentModePostpay
)

var ErrTokenRequired = errors.New("token is required for non-sponsored payment modes")

// Code is the paymaster's string encoding of the mode
func (m PaymentMode) Code() string {
	return strconv.Itoa(int(m))
}

func (m PaymentMode) String() string {
	switch m {
	case PaymentModeSponsored:
		return "sponsored"
	case PaymentModePrepay:
		return "prepay"
	case PaymentModePostpay:
		return "postpay"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m PaymentMode) Valid() bool {
	return m >= PaymentModeSponsored && m <= PaymentModePostpay
}

// ParsePaymentMode accepts a mode name or its numeric code
func ParsePaymentMode(s string) (PaymentMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sponsored", "0":
		return PaymentModeSponsored, nil
	case "prepay", "1":
		return PaymentModePrepay, nil
	case "postpay", "2":
		return PaymentModePostpay, nil
	}
	return 0, NewError(ErrorCodeValidation, fmt.Errorf("unknown payment mode %q", s),
		WithMsg("payment mode must be one of sponsored, prepay, postpay"))
}

// PaymentOption is the gas payment choice applied when an operation is built
type PaymentOption struct {
	Mode  PaymentMode
	Token *common.Address
}

func (o PaymentOption) Validate() error {
	if !o.Mode.Valid() {
		return NewError(ErrorCodeValidation, fmt.Errorf("invalid payment mode %d", int(o.Mode)))
	}
	if o.Mode != PaymentModeSponsored && o.Token == nil {
		return NewError(ErrorCodeValidation, ErrTokenRequired, WithMsg(ErrTokenRequired.Error()))
	}
	return nil
}

// SupportedToken is a paymaster token normalized at the RPC boundary
type SupportedToken struct {
	Address  common.Address   `json:"address"`
	Decimals int              `json:"decimals"`
	Symbol   string           `json:"symbol"`
	Type     int              `json:"type"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Prepay   bool             `json:"prepay"`
	Postpay  bool             `json:"postpay"`
	Freepay  bool             `json:"freepay"`
}

// QualifiesFor reports whether the token can pay gas under mode. The type
// code and the flags are accepted independently of each other.
func (t SupportedToken) QualifiesFor(mode PaymentMode) bool {
	return t.Type == int(mode) ||
		(mode == PaymentModePrepay && t.Prepay) ||
		(mode == PaymentModePostpay && t.Postpay)
}

// PaymentRequest asks for amount of token to be sent to recipient
type PaymentRequest struct {
	Recipient common.Address
	// Amount is a human readable decimal string, e.g. "10.5"
	Amount string
	Token  common.Address
	Mode   PaymentMode
}

// PaymentResult is the outcome of a confirmed payment
type PaymentResult struct {
	PaymentID       string                        `json:"paymentId,omitempty"`
	OpHash          common.Hash                   `json:"opHash"`
	TransactionHash common.Hash                   `json:"transactionHash"`
	Receipt         *erc4337.UserOperationReceipt `json:"receipt"`
}

// AccountInfo describes the smart account controlled by a signer
type AccountInfo struct {
	Address    common.Address `json:"address"`
	Owner      common.Address `json:"owner"`
	ChainID    int64          `json:"chainId"`
	EntryPoint common.Address `json:"entryPoint"`
	Deployed   bool           `json:"deployed"`
}
