package main

import (
	"testing"

	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayRequest(t *testing.T) {
	const (
		recipient = "0x5a6B842891032d702517a4E52ec38eE561063539"
		token     = "0xD5a6dcff7AC339A03f6964c315575bF65c3c6cF1"
	)

	tests := []struct {
		name     string
		to       string
		token    string
		mode     string
		wantMode domain.PaymentMode
		wantErr  bool
	}{
		{name: "sponsored", to: recipient, token: token, mode: "sponsored", wantMode: domain.PaymentModeSponsored},
		{name: "postpay by code", to: recipient, token: token, mode: "2", wantMode: domain.PaymentModePostpay},
		{name: "bad recipient", to: "bob", token: token, mode: "prepay", wantErr: true},
		{name: "bad token", to: recipient, token: "0x12", mode: "prepay", wantErr: true},
		{name: "bad mode", to: recipient, token: token, mode: "later", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payTo, payToken, payMode, payAmount = tt.to, tt.token, tt.mode, "1.25"

			req, err := payRequest()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, common.HexToAddress(recipient), req.Recipient)
			assert.Equal(t, common.HexToAddress(token), req.Token)
			assert.Equal(t, "1.25", req.Amount)
			assert.Equal(t, tt.wantMode, req.Mode)
		})
	}
}
