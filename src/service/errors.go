package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/ethaccount/tokenpay/src/domain"
)

// rpcError tags a failed remote call with the stage it happened in. Transport
// failures become connectivity errors; JSON-RPC error responses stay untagged
// so their text can be classified later.
func rpcError(stage domain.Stage, action string, err error) error {
	wrapped := fmt.Errorf("failed to %s: %w", action, err)
	if erc4337.IsWireError(err) || errors.Is(err, context.Canceled) {
		return stageError(stage, wrapped)
	}
	return domain.NewError(domain.ErrorCodeConnectivity, wrapped,
		domain.WithMsg(fmt.Sprintf("Network error: failed to %s", action)), domain.WithStage(stage))
}

// stageError records where err happened without choosing a code for it
func stageError(stage domain.Stage, err error) error {
	return domain.NewError(domain.ErrorCode{}, err, domain.WithStage(stage))
}
