package service

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/shopspring/decimal"
)

var amountPattern = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)$`)

// maxTokenDecimals keeps 10^decimals within uint256
const maxTokenDecimals = 77

// ToBaseUnits converts a human readable decimal amount into the token's base
// units. Fractional digits beyond decimals are rejected, trailing zeros are not
// counted.
func ToBaseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if decimals < 0 || decimals > maxTokenDecimals {
		return nil, validationError(fmt.Errorf("invalid token decimals %d", decimals), "Token decimals are out of range")
	}
	if strings.HasPrefix(amount, "-") {
		return nil, validationError(fmt.Errorf("negative amount %q", amount), "Amount must not be negative")
	}
	if !amountPattern.MatchString(amount) {
		return nil, validationError(fmt.Errorf("invalid amount %q", amount), "Amount must be a decimal number")
	}

	if i := strings.IndexByte(amount, '.'); i >= 0 {
		fraction := strings.TrimRight(amount[i+1:], "0")
		if len(fraction) > decimals {
			return nil, validationError(
				fmt.Errorf("amount %q has more than %d fractional digits", amount, decimals),
				fmt.Sprintf("Amount supports at most %d decimal places", decimals),
			)
		}
	}

	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, validationError(fmt.Errorf("invalid amount %q: %w", amount, err), "Amount must be a decimal number")
	}

	return value.Shift(int32(decimals)).BigInt(), nil
}

// FromBaseUnits formats base units as a decimal amount
func FromBaseUnits(value *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(value, -int32(decimals))
}

func validationError(err error, msg string) error {
	return domain.NewError(domain.ErrorCodeValidation, err, domain.WithMsg(msg), domain.WithStage(domain.StageOrchestrator))
}
