package service

import (
	"context"
	"time"

	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/ethaccount/tokenpay/src/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const defaultReconcileBatchSize = 50

type ReconcilerConfig struct {
	Interval time.Duration
	// StaleAfter is how long a submitted payment may go without an update
	// before it is re-checked as well
	StaleAfter time.Duration
	BatchSize  int
}

// ReconcilerService re-checks receipts of payments whose wait ended without
// an answer. Operations are never resubmitted.
type ReconcilerService struct {
	store   PaymentStore
	client  *OperationClient
	config  ReconcilerConfig
	metrics *metrics.PaymentMetrics
}

func NewReconcilerService(store PaymentStore, client *OperationClient, config ReconcilerConfig, m *metrics.PaymentMetrics) *ReconcilerService {
	if config.BatchSize <= 0 {
		config.BatchSize = defaultReconcileBatchSize
	}
	return &ReconcilerService{
		store:   store,
		client:  client,
		config:  config,
		metrics: m,
	}
}

// logger wraps the execution context with component info
func (s *ReconcilerService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "reconciler").Logger()
	return &l
}

// Start runs reconciliation cycles until ctx is done
func (s *ReconcilerService) Start(ctx context.Context) error {
	s.logger(ctx).Info().
		Dur("interval", s.config.Interval).
		Msg("starting reconciler")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger(ctx).Info().Msg("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Reconcile(ctx); err != nil {
				s.logger(ctx).Error().Err(err).Msg("reconcile cycle failed")
			}
		}
	}
}

// Reconcile performs a single cycle and returns how many payments reached a
// final status.
func (s *ReconcilerService) Reconcile(ctx context.Context) (int, error) {
	records, err := s.store.FindPaymentsByStatus(ctx, domain.PaymentStatusTimeout, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	if s.config.StaleAfter > 0 {
		submitted, err := s.store.FindPaymentsByStatus(ctx, domain.PaymentStatusSubmitted, s.config.BatchSize)
		if err != nil {
			return 0, err
		}
		cutoff := time.Now().Add(-s.config.StaleAfter)
		for _, record := range submitted {
			if record.UpdatedAt.Before(cutoff) {
				records = append(records, record)
			}
		}
	}

	if len(records) == 0 {
		s.logger(ctx).Debug().Msg("no payments to reconcile")
		return 0, nil
	}

	settled := 0
	for _, record := range records {
		if s.reconcile(ctx, record) {
			settled++
		}
	}

	s.logger(ctx).Debug().
		Int("checked", len(records)).
		Int("settled", settled).
		Msg("reconcile cycle completed")
	return settled, nil
}

func (s *ReconcilerService) reconcile(ctx context.Context, record *domain.PaymentRecord) bool {
	logger := s.logger(ctx).With().Str("payment_id", record.ID.String()).Logger()

	if record.UserOpHash == nil {
		logger.Warn().Msg("payment has no user operation hash")
		return false
	}
	opHash := common.HexToHash(*record.UserOpHash)

	receipt, err := s.client.GetReceipt(ctx, opHash)
	if err != nil {
		s.metrics.IncReconciled("error")
		logger.Warn().Err(err).Str("op_hash", opHash.Hex()).Msg("failed to get receipt")
		return false
	}
	if receipt == nil {
		s.metrics.IncReconciled("pending")
		logger.Debug().Str("op_hash", opHash.Hex()).Msg("receipt still not available")
		return false
	}

	txHash := receipt.TransactionHash()
	update := domain.PaymentUpdate{
		Status:          domain.PaymentStatusConfirmed,
		TransactionHash: &txHash,
	}
	if !receipt.Success {
		reverted := receiptError(opHash, receipt)
		code, msg := domain.ErrorCodeRevert.Name, ToReadableMessage(reverted.Error())
		update.Status = domain.PaymentStatusFailed
		update.ErrorCode = &code
		update.ErrorMessage = &msg
	}

	if err := s.store.UpdatePayment(ctx, record.ID, update); err != nil {
		logger.Error().Err(err).Msg("failed to update reconciled payment")
		return false
	}

	s.metrics.IncReconciled(string(update.Status))
	logger.Info().
		Str("op_hash", opHash.Hex()).
		Str("tx_hash", txHash.Hex()).
		Str("status", string(update.Status)).
		Msg("payment reconciled")
	return true
}
