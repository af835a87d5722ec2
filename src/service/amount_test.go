package service

import (
	"math/big"
	"testing"

	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		name        string
		amount      string
		decimals    int
		expected    string
		expectError bool
	}{
		{name: "integer stablecoin", amount: "10", decimals: 6, expected: "10000000"},
		{name: "fraction", amount: "10.5", decimals: 6, expected: "10500000"},
		{name: "max precision", amount: "0.000001", decimals: 6, expected: "1"},
		{name: "trailing zeros beyond precision", amount: "1.50000000", decimals: 6, expected: "1500000"},
		{name: "leading dot", amount: ".25", decimals: 2, expected: "25"},
		{name: "trailing dot", amount: "7.", decimals: 0, expected: "7"},
		{name: "18 decimals", amount: "1.123456789012345678", decimals: 18, expected: "1123456789012345678"},
		{name: "zero", amount: "0", decimals: 18, expected: "0"},
		{name: "large", amount: "123456789012345678901234567890", decimals: 18, expected: "123456789012345678901234567890000000000000000000"},
		{name: "surrounding spaces", amount: " 3 ", decimals: 1, expected: "30"},
		{name: "too precise", amount: "0.0000001", decimals: 6, expectError: true},
		{name: "negative", amount: "-1", decimals: 6, expectError: true},
		{name: "non numeric", amount: "ten", decimals: 6, expectError: true},
		{name: "scientific notation", amount: "1e6", decimals: 6, expectError: true},
		{name: "empty", amount: "", decimals: 6, expectError: true},
		{name: "two dots", amount: "1.2.3", decimals: 6, expectError: true},
		{name: "bad decimals", amount: "1", decimals: -1, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToBaseUnits(tt.amount, tt.decimals)
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, domain.HasCode(err, domain.ErrorCodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.String())
		})
	}
}

func TestFromBaseUnits(t *testing.T) {
	assert.Equal(t, "10.5", FromBaseUnits(big.NewInt(10500000), 6).String())
	assert.Equal(t, "0", FromBaseUnits(big.NewInt(0), 18).String())
}
