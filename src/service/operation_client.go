package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/ethaccount/tokenpay/src/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// OperationClient submits signed operations to a bundler and waits for them
// to be included.
type OperationClient struct {
	bundler    erc4337.Bundler
	entryPoint common.Address
	metrics    *metrics.PaymentMetrics
}

func NewOperationClient(bundler erc4337.Bundler, entryPoint common.Address, m *metrics.PaymentMetrics) *OperationClient {
	return &OperationClient{
		bundler:    bundler,
		entryPoint: entryPoint,
		metrics:    m,
	}
}

func (c *OperationClient) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "operation-client").Logger()
	return &l
}

// Submit sends op to the bundler and marks it submitted
func (c *OperationClient) Submit(ctx context.Context, op *erc4337.UserOperation) (common.Hash, error) {
	if !op.IsSigned() {
		return common.Hash{}, domain.NewError(domain.ErrorCodeValidation, erc4337.ErrOperationNotSigned,
			domain.WithMsg("User operation must be signed before submission"), domain.WithStage(domain.StageClient))
	}

	opHash, err := c.bundler.SendUserOperation(ctx, op, c.entryPoint)
	if err != nil {
		c.logger(ctx).Error().Err(err).
			Str("sender", op.Sender.Hex()).
			Msg("bundler rejected user operation")
		return common.Hash{}, rpcError(domain.StageClient, "send user operation", err)
	}

	if err := op.MarkSubmitted(); err != nil {
		return common.Hash{}, stageError(domain.StageClient, err)
	}

	c.logger(ctx).Info().
		Str("op_hash", opHash.Hex()).
		Str("sender", op.Sender.Hex()).
		Msg("user operation submitted")
	return opHash, nil
}

// GetReceipt returns the receipt of opHash, or nil while it is pending
func (c *OperationClient) GetReceipt(ctx context.Context, opHash common.Hash) (*erc4337.UserOperationReceipt, error) {
	receipt, err := c.bundler.GetUserOperationReceipt(ctx, opHash)
	if err != nil {
		return nil, rpcError(domain.StageClient, "get user operation receipt", err)
	}
	return receipt, nil
}

// WaitForReceipt polls the bundler every interval until a receipt for opHash
// appears or timeout elapses. Poll failures are logged and retried. The
// operation is never resubmitted.
func (c *OperationClient) WaitForReceipt(ctx context.Context, opHash common.Hash, interval, timeout time.Duration) (*erc4337.UserOperationReceipt, error) {
	logger := c.logger(ctx).With().Str("op_hash", opHash.Hex()).Logger()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return nil, stageError(domain.StageClient, fmt.Errorf("stopped waiting for receipt: %w", ctx.Err()))

		case <-deadline.C:
			logger.Warn().Int("attempts", attempts).Dur("timeout", timeout).Msg("receipt wait timed out")
			return nil, domain.NewError(domain.ErrorCodeTimeout,
				fmt.Errorf("no receipt for user operation %s after %s", opHash.Hex(), timeout),
				domain.WithMsg("Timed out waiting for the transaction to be included"),
				domain.WithDetail(map[string]interface{}{"opHash": opHash.Hex()}),
				domain.WithStage(domain.StageClient))

		case <-ticker.C:
			attempts++
			receipt, err := c.bundler.GetUserOperationReceipt(ctx, opHash)
			if err != nil {
				c.metrics.IncReceiptPoll("error")
				logger.Warn().Err(err).Int("attempt", attempts).Msg("failed to poll receipt")
				continue
			}
			if receipt == nil {
				c.metrics.IncReceiptPoll("pending")
				logger.Debug().Int("attempt", attempts).Msg("receipt not available yet")
				continue
			}

			c.metrics.IncReceiptPoll("found")
			logger.Info().
				Bool("success", receipt.Success).
				Str("tx_hash", receipt.TransactionHash().Hex()).
				Int("attempts", attempts).
				Msg("receipt received")
			return receipt, nil
		}
	}
}
