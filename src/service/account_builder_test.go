package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/ethaccount/tokenpay/src/testutil"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChain answers the few node calls the builder makes
type fakeChain struct {
	mu sync.Mutex

	account common.Address
	nonce   *big.Int
	code    []byte
	chainID *big.Int
	tip     *big.Int
	baseFee *big.Int
	callErr error

	calls map[string]int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		account: testAccount,
		nonce:   big.NewInt(0),
		chainID: big.NewInt(689),
		tip:     big.NewInt(2e9),
		baseFee: big.NewInt(10e9),
		calls:   make(map[string]int),
	}
}

func (f *fakeChain) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.callErr != nil {
		return nil, f.callErr
	}

	switch {
	case bytes.HasPrefix(call.Data, erc4337.AccountFactoryABI.Methods["getAddress"].ID):
		f.calls["getAddress"]++
		return erc4337.AccountFactoryABI.Methods["getAddress"].Outputs.Pack(f.account)
	case bytes.HasPrefix(call.Data, erc4337.EntryPointABI.Methods["getNonce"].ID):
		f.calls["getNonce"]++
		return erc4337.EntryPointABI.Methods["getNonce"].Outputs.Pack(f.nonce)
	case bytes.HasPrefix(call.Data, erc4337.ERC20ABI.Methods["decimals"].ID):
		f.calls["decimals"]++
		return erc4337.ERC20ABI.Methods["decimals"].Outputs.Pack(uint8(6))
	}
	return nil, errors.New("execution reverted")
}

func (f *fakeChain) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["getCode"]++
	return f.code, nil
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["chainId"]++
	return new(big.Int).Set(f.chainID), nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["tip"]++
	return new(big.Int).Set(f.tip), nil
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["header"]++
	return &types.Header{BaseFee: f.baseFee}, nil
}

type failingSigner struct{}

func (failingSigner) Address(context.Context) (common.Address, error) {
	return common.Address{}, errors.New("hardware wallet disconnected")
}

func (failingSigner) SignOperation(context.Context, *erc4337.UserOperation, common.Address, *big.Int) ([]byte, error) {
	return nil, errors.New("hardware wallet disconnected")
}

func testAccountConfig() AccountConfig {
	return AccountConfig{
		EntryPoint: erc4337.EntryPointV06,
		Factory:    testFactory,
		Salt:       big.NewInt(0),
	}
}

func newTestSigner(t *testing.T) *erc4337.PrivateKeySigner {
	signer, err := erc4337.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)
	return signer
}

func TestNewAccountBuilder(t *testing.T) {
	chain := newFakeChain()
	builder, err := NewAccountBuilder(context.Background(), newTestSigner(t), chain, nil, testAccountConfig())
	require.NoError(t, err)

	assert.Equal(t, testAccount, builder.Address())
	assert.Equal(t, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), builder.Owner())
	assert.Equal(t, int64(689), builder.ChainID().Int64())
	assert.Equal(t, erc4337.EntryPointV06, builder.EntryPoint())
	assert.Equal(t, 1, chain.count("getAddress"))
	assert.Equal(t, 1, chain.count("chainId"))
}

func TestNewAccountBuilder_Errors(t *testing.T) {
	t.Run("nil signer", func(t *testing.T) {
		_, err := NewAccountBuilder(context.Background(), nil, newFakeChain(), nil, testAccountConfig())
		assert.True(t, domain.HasCode(err, domain.ErrorCodeInvalidSigner))
		assert.ErrorIs(t, err, ErrNilSigner)
	})

	t.Run("signer without address", func(t *testing.T) {
		_, err := NewAccountBuilder(context.Background(), failingSigner{}, newFakeChain(), nil, testAccountConfig())
		assert.True(t, domain.HasCode(err, domain.ErrorCodeInvalidSigner))
		assert.Contains(t, err.Error(), "hardware wallet disconnected")
	})

	t.Run("node unreachable", func(t *testing.T) {
		chain := newFakeChain()
		chain.callErr = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")

		_, err := NewAccountBuilder(context.Background(), newTestSigner(t), chain, nil, testAccountConfig())
		assert.True(t, domain.HasCode(err, domain.ErrorCodeConnectivity))
		assert.Equal(t, domain.StageBuilder, domain.StageOf(err))
	})
}

func TestAccountBuilder_SetGasLimits(t *testing.T) {
	builder, err := NewAccountBuilder(context.Background(), newTestSigner(t), newFakeChain(), nil, testAccountConfig())
	require.NoError(t, err)

	tests := []struct {
		name         string
		call         *big.Int
		verification *big.Int
		pre          *big.Int
		hasError     bool
	}{
		{name: "positive", call: big.NewInt(1), verification: big.NewInt(2), pre: big.NewInt(3)},
		{name: "zero call gas", call: big.NewInt(0), verification: big.NewInt(2), pre: big.NewInt(3), hasError: true},
		{name: "negative verification gas", call: big.NewInt(1), verification: big.NewInt(-2), pre: big.NewInt(3), hasError: true},
		{name: "nil pre-verification gas", call: big.NewInt(1), verification: big.NewInt(2), hasError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := builder.SetGasLimits(tt.call, tt.verification, tt.pre)
			if tt.hasError {
				assert.True(t, domain.HasCode(err, domain.ErrorCodeValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAccountBuilder_RefreshGasFees(t *testing.T) {
	tests := []struct {
		name           string
		tip            *big.Int
		baseFee        *big.Int
		expectedTip    int64
		expectedMaxFee int64
	}{
		{name: "tip raised by 13 percent", tip: big.NewInt(2e9), baseFee: big.NewInt(10e9), expectedTip: 2.26e9, expectedMaxFee: 22.26e9},
		{name: "tip floored at 1 gwei", tip: big.NewInt(1000), baseFee: big.NewInt(7), expectedTip: 1e9, expectedMaxFee: 1e9 + 14},
		{name: "no base fee", tip: big.NewInt(1e9), expectedTip: 1.13e9, expectedMaxFee: 1.13e9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newFakeChain()
			chain.tip = tt.tip
			chain.baseFee = tt.baseFee
			chain.nonce = big.NewInt(1)

			builder, err := NewAccountBuilder(context.Background(), newTestSigner(t), chain, nil, testAccountConfig())
			require.NoError(t, err)
			require.NoError(t, builder.RefreshGasFees(context.Background()))

			op, err := builder.BuildOperation(context.Background(), testToken, nil, []byte{0x01})
			require.NoError(t, err)
			assert.Equal(t, tt.expectedTip, op.MaxPriorityFeePerGas.ToInt().Int64())
			assert.Equal(t, tt.expectedMaxFee, op.MaxFeePerGas.ToInt().Int64())
		})
	}
}

func TestAccountBuilder_BuildOperation(t *testing.T) {
	callData, err := erc4337.PackTransfer(testRecipient, big.NewInt(1000))
	require.NoError(t, err)

	t.Run("undeployed account gets init code", func(t *testing.T) {
		chain := newFakeChain()
		builder, err := NewAccountBuilder(context.Background(), newTestSigner(t), chain, nil, testAccountConfig())
		require.NoError(t, err)

		op, err := builder.BuildOperation(context.Background(), testToken, big.NewInt(0), callData)
		require.NoError(t, err)

		assert.Equal(t, testAccount, op.Sender)
		assert.Equal(t, int64(0), op.Nonce.ToInt().Int64())
		require.Greater(t, len(op.InitCode), common.AddressLength+4)
		assert.Equal(t, testFactory.Bytes(), []byte(op.InitCode[:common.AddressLength]))
		assert.Equal(t, erc4337.AccountFactoryABI.Methods["createAccount"].ID, []byte(op.InitCode[common.AddressLength:common.AddressLength+4]))

		expected, err := erc4337.PackExecute(testToken, big.NewInt(0), callData)
		require.NoError(t, err)
		assert.Equal(t, expected, []byte(op.CallData))

		assert.Equal(t, int64(DefaultCallGasLimit), op.CallGasLimit.ToInt().Int64())
		assert.Equal(t, int64(DefaultVerificationGasLimit), op.VerificationGasLimit.ToInt().Int64())
		assert.Equal(t, int64(DefaultPreVerificationGas), op.PreVerificationGas.ToInt().Int64())
		assert.Empty(t, op.PaymasterAndData)
		assert.Empty(t, op.Signature)
		assert.Equal(t, erc4337.StateGasConfigured, op.State())

		// the nonce is the only read while building
		assert.Equal(t, 1, chain.count("getNonce"))
		assert.Equal(t, 0, chain.count("getCode"))
	})

	t.Run("deployed account has no init code", func(t *testing.T) {
		chain := newFakeChain()
		chain.nonce = big.NewInt(7)
		builder, err := NewAccountBuilder(context.Background(), newTestSigner(t), chain, nil, testAccountConfig())
		require.NoError(t, err)

		op, err := builder.BuildOperation(context.Background(), testToken, nil, callData)
		require.NoError(t, err)
		assert.Equal(t, int64(7), op.Nonce.ToInt().Int64())
		assert.Empty(t, op.InitCode)
	})

	t.Run("custom gas limits", func(t *testing.T) {
		builder, err := NewAccountBuilder(context.Background(), newTestSigner(t), newFakeChain(), nil, testAccountConfig())
		require.NoError(t, err)
		require.NoError(t, builder.SetGasLimits(big.NewInt(100), big.NewInt(200), big.NewInt(300)))

		op, err := builder.BuildOperation(context.Background(), testToken, nil, callData)
		require.NoError(t, err)
		assert.Equal(t, int64(100), op.CallGasLimit.ToInt().Int64())
		assert.Equal(t, int64(200), op.VerificationGasLimit.ToInt().Int64())
		assert.Equal(t, int64(300), op.PreVerificationGas.ToInt().Int64())
	})

	t.Run("token mode without token", func(t *testing.T) {
		builder, err := NewAccountBuilder(context.Background(), newTestSigner(t), newFakeChain(), nil, testAccountConfig())
		require.NoError(t, err)
		builder.SetPaymentOption(domain.PaymentOption{Mode: domain.PaymentModePostpay})

		_, err = builder.BuildOperation(context.Background(), testToken, nil, callData)
		assert.True(t, domain.HasCode(err, domain.ErrorCodeValidation))
		assert.ErrorIs(t, err, domain.ErrTokenRequired)
	})
}

func TestAccountBuilder_BuildOperationWithPaymaster(t *testing.T) {
	server := testutil.NewRPCServer(t)
	gateway := newTestPaymasterGateway(t, server)

	server.Handle("pm_sponsor_userop", func(params []json.RawMessage) (interface{}, *testutil.RPCError) {
		var op erc4337.UserOperation
		if !assert.NoError(t, json.Unmarshal(params[0], &op)) {
			return nil, &testutil.RPCError{Code: -32602, Message: "invalid params"}
		}
		assert.Equal(t, testAccount, op.Sender)
		assert.Empty(t, op.PaymasterAndData)

		var sponsor map[string]string
		assert.NoError(t, json.Unmarshal(params[3], &sponsor))
		assert.Equal(t, "2", sponsor["type"])

		return map[string]string{
			"paymasterAndData":   "0x9406cc6185a346906296840746125a0e44976454aabb",
			"preVerificationGas": "0xc350",
		}, nil
	})

	builder, err := NewAccountBuilder(context.Background(), newTestSigner(t), newFakeChain(), gateway, testAccountConfig())
	require.NoError(t, err)

	token := testToken
	builder.SetPaymentOption(domain.PaymentOption{Mode: domain.PaymentModePostpay, Token: &token})

	op, err := builder.BuildOperation(context.Background(), testToken, nil, []byte{0x01})
	require.NoError(t, err)

	assert.Len(t, op.PaymasterAndData, 22)
	assert.Equal(t, int64(0xc350), op.PreVerificationGas.ToInt().Int64())
	assert.Equal(t, int64(DefaultCallGasLimit), op.CallGasLimit.ToInt().Int64())
	assert.Equal(t, erc4337.StatePaymasterConfigured, op.State())
	assert.Equal(t, 1, server.Calls("pm_sponsor_userop"))
}

func TestAccountBuilder_IsDeployed(t *testing.T) {
	chain := newFakeChain()
	builder, err := NewAccountBuilder(context.Background(), newTestSigner(t), chain, nil, testAccountConfig())
	require.NoError(t, err)

	deployed, err := builder.IsDeployed(context.Background())
	require.NoError(t, err)
	assert.False(t, deployed)

	chain.code = []byte{0x60, 0x80}
	deployed, err = builder.IsDeployed(context.Background())
	require.NoError(t, err)
	assert.True(t, deployed)
}
