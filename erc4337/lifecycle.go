package erc4337

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OperationState tracks how far an operation has progressed towards inclusion
type OperationState int

const (
	StateEmpty OperationState = iota
	StateGasConfigured
	StatePaymasterConfigured
	StateSigned
	StateSubmitted
	StateConfirmed
)

var (
	ErrOperationNotSigned     = errors.New("user operation is not signed")
	ErrOperationSubmitted     = errors.New("user operation was already submitted")
	ErrInvalidStateTransition = errors.New("invalid user operation state transition")
)

func (s OperationState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateGasConfigured:
		return "gas_configured"
	case StatePaymasterConfigured:
		return "paymaster_configured"
	case StateSigned:
		return "signed"
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// State returns the current lifecycle state
func (uo *UserOperation) State() OperationState {
	return uo.state
}

// Advance moves the operation one step forward. Skipping the paymaster step is
// allowed so that self-paid and sponsored operations can go straight to signing.
func (uo *UserOperation) Advance(next OperationState) error {
	if uo.state >= StateSubmitted && next <= StateSigned {
		return ErrOperationSubmitted
	}
	allowed := next == uo.state+1 ||
		(uo.state == StateGasConfigured && next == StateSigned)
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, uo.state, next)
	}
	uo.state = next
	return nil
}

// SetSignature attaches a signature and marks the operation as signed
func (uo *UserOperation) SetSignature(sig []byte) error {
	switch {
	case uo.state >= StateSubmitted:
		return ErrOperationSubmitted
	case uo.state < StateGasConfigured:
		return fmt.Errorf("%w: cannot sign %s operation", ErrInvalidStateTransition, uo.state)
	}
	uo.Signature = hexutil.Bytes(sig)
	uo.state = StateSigned
	return nil
}

// MarkSubmitted records that the bundler accepted the operation
func (uo *UserOperation) MarkSubmitted() error {
	if uo.state != StateSigned || len(uo.Signature) == 0 {
		return ErrOperationNotSigned
	}
	uo.state = StateSubmitted
	return nil
}

// MarkConfirmed records that a receipt was observed
func (uo *UserOperation) MarkConfirmed() error {
	return uo.Advance(StateConfirmed)
}

// IsSigned reports whether the operation carries a signature in the signed state
func (uo *UserOperation) IsSigned() bool {
	return uo.state == StateSigned && len(uo.Signature) > 0
}
