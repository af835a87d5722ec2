package erc4337

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationLifecycle(t *testing.T) {
	sender := common.HexToAddress("0x1234567890123456789012345678901234567890")

	t.Run("full progression with paymaster", func(t *testing.T) {
		op := NewUserOperation(sender)
		assert.Equal(t, StateEmpty, op.State())

		require.NoError(t, op.Advance(StateGasConfigured))
		require.NoError(t, op.Advance(StatePaymasterConfigured))
		require.NoError(t, op.SetSignature([]byte{0x01}))
		assert.True(t, op.IsSigned())
		require.NoError(t, op.MarkSubmitted())
		require.NoError(t, op.MarkConfirmed())
		assert.Equal(t, StateConfirmed, op.State())
	})

	t.Run("paymaster step can be skipped", func(t *testing.T) {
		op := NewUserOperation(sender)
		require.NoError(t, op.Advance(StateGasConfigured))
		require.NoError(t, op.SetSignature([]byte{0x01}))
		assert.Equal(t, StateSigned, op.State())
	})

	t.Run("unsigned operation cannot be submitted", func(t *testing.T) {
		op := NewUserOperation(sender)
		require.NoError(t, op.Advance(StateGasConfigured))
		assert.ErrorIs(t, op.MarkSubmitted(), ErrOperationNotSigned)
	})

	t.Run("submitted operation cannot be re-signed", func(t *testing.T) {
		op := NewUserOperation(sender)
		require.NoError(t, op.Advance(StateGasConfigured))
		require.NoError(t, op.SetSignature([]byte{0x01}))
		require.NoError(t, op.MarkSubmitted())

		assert.ErrorIs(t, op.SetSignature([]byte{0x02}), ErrOperationSubmitted)
		assert.Equal(t, []byte{0x01}, []byte(op.Signature))
	})

	t.Run("empty operation cannot be signed", func(t *testing.T) {
		op := NewUserOperation(sender)
		assert.ErrorIs(t, op.SetSignature([]byte{0x01}), ErrInvalidStateTransition)
	})

	t.Run("states cannot be skipped", func(t *testing.T) {
		op := NewUserOperation(sender)
		assert.ErrorIs(t, op.Advance(StateSigned), ErrInvalidStateTransition)
		assert.ErrorIs(t, op.Advance(StateConfirmed), ErrInvalidStateTransition)
	})

	t.Run("signing before submission can be repeated", func(t *testing.T) {
		op := NewUserOperation(sender)
		require.NoError(t, op.Advance(StateGasConfigured))
		require.NoError(t, op.SetSignature([]byte{0x01}))
		require.NoError(t, op.SetSignature([]byte{0x02}))
		assert.Equal(t, []byte{0x02}, []byte(op.Signature))
	})
}

func TestOperationState_String(t *testing.T) {
	assert.Equal(t, "empty", StateEmpty.String())
	assert.Equal(t, "paymaster_configured", StatePaymasterConfigured.String())
	assert.Equal(t, "unknown(42)", OperationState(42).String())
}
