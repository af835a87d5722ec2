package erc4337

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrivateKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func TestNewPrivateKeySigner(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		expectError bool
	}{
		{name: "plain hex", key: testPrivateKey},
		{name: "0x prefixed", key: "0x" + testPrivateKey},
		{name: "invalid", key: "invalid_key", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewPrivateKeySigner(tt.key)
			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "failed to parse private key")
				return
			}
			require.NoError(t, err)

			addr, err := signer.Address(context.Background())
			require.NoError(t, err)
			// second anvil/hardhat default account
			assert.Equal(t, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), addr)
		})
	}
}

func TestPrivateKeySigner_SignOperation(t *testing.T) {
	signer, err := NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)

	op := testUserOperation()
	chainId := big.NewInt(689)

	sig, err := signer.SignOperation(context.Background(), op, EntryPointV06, chainId)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	userOpHash, err := op.GetUserOpHash(EntryPointV06, chainId)
	require.NoError(t, err)

	recoverable := make([]byte, 65)
	copy(recoverable, sig)
	recoverable[64] -= 27
	pub, err := crypto.SigToPub(PersonalSignHash(userOpHash.Bytes()).Bytes(), recoverable)
	require.NoError(t, err)

	expected, _ := signer.Address(context.Background())
	assert.Equal(t, expected, crypto.PubkeyToAddress(*pub))
}

func TestPersonalSignHash(t *testing.T) {
	// keccak256("\x19Ethereum Signed Message:\n5hello")
	assert.Equal(t,
		common.HexToHash("0x50b2c43fd39106bafbba0da34fc430e1f91e3c96ea2acee2bc34119f92b37750"),
		PersonalSignHash([]byte("hello")),
	)
}
