package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/ethaccount/tokenpay/src/metrics"
	"github.com/ethaccount/tokenpay/src/repository"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrPaymentInProgress = errors.New("payment already in progress")

// PaymentStore persists payment attempts. *repository.PaymentRepository
// satisfies it.
type PaymentStore interface {
	CreatePayment(ctx context.Context, record *domain.PaymentRecord) error
	UpdatePayment(ctx context.Context, id uuid.UUID, update domain.PaymentUpdate) error
	FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
	FindPaymentsByStatus(ctx context.Context, status domain.PaymentStatus, limit int) ([]*domain.PaymentRecord, error)
}

// AccountLocker serializes payments per account. *repository.AccountLock
// satisfies it.
type AccountLocker interface {
	Acquire(ctx context.Context, account common.Address) (func(context.Context) error, error)
}

type PaymentConfig struct {
	Account        AccountConfig
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
}

type PaymentService struct {
	chain      ChainClient
	gateway    *PaymasterGateway
	client     *OperationClient
	classifier *ErrorClassifier
	config     PaymentConfig

	store   PaymentStore
	locker  AccountLocker
	metrics *metrics.PaymentMetrics
}

type PaymentServiceOption func(*PaymentService)

// WithPaymentStore records every attempt in store
func WithPaymentStore(store PaymentStore) PaymentServiceOption {
	return func(s *PaymentService) { s.store = store }
}

// WithAccountLocker holds a per-account lock for the duration of each attempt
func WithAccountLocker(locker AccountLocker) PaymentServiceOption {
	return func(s *PaymentService) { s.locker = locker }
}

func WithPaymentMetrics(m *metrics.PaymentMetrics) PaymentServiceOption {
	return func(s *PaymentService) { s.metrics = m }
}

func NewPaymentService(
	chain ChainClient,
	gateway *PaymasterGateway,
	client *OperationClient,
	classifier *ErrorClassifier,
	config PaymentConfig,
	opts ...PaymentServiceOption,
) *PaymentService {
	s := &PaymentService{
		chain:      chain,
		gateway:    gateway,
		client:     client,
		classifier: classifier,
		config:     config,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PaymentService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "payment").Logger()
	return &l
}

// NewBuilder returns an account builder for signer using the service's chain
// and paymaster configuration.
func (s *PaymentService) NewBuilder(ctx context.Context, signer erc4337.Signer) (*AccountBuilder, error) {
	return NewAccountBuilder(ctx, signer, s.chain, s.gateway, s.config.Account)
}

// DescribeAccount resolves the smart account of signer and checks whether it
// is deployed yet.
func (s *PaymentService) DescribeAccount(ctx context.Context, signer erc4337.Signer) (*domain.AccountInfo, error) {
	builder, err := s.NewBuilder(ctx, signer)
	if err != nil {
		return nil, s.classifier.Classify(err)
	}
	deployed, err := builder.IsDeployed(ctx)
	if err != nil {
		return nil, s.classifier.Classify(err)
	}
	return &domain.AccountInfo{
		Address:    builder.Address(),
		Owner:      builder.Owner(),
		ChainID:    builder.ChainID().Int64(),
		EntryPoint: builder.EntryPoint(),
		Deployed:   deployed,
	}, nil
}

// ExecutePayment transfers req.Amount of req.Token from the signer's smart
// account to req.Recipient and waits for the operation to be included.
// Failures are returned as a classified domain.DomainError. The result is
// non-nil whenever something was recorded or submitted.
func (s *PaymentService) ExecutePayment(ctx context.Context, signer erc4337.Signer, req domain.PaymentRequest) (*domain.PaymentResult, error) {
	start := time.Now()
	s.metrics.IncPaymentStarted(req.Mode.String())

	result, record, err := s.executePayment(ctx, signer, req)
	if err != nil {
		classified := s.classifier.Classify(err)
		record.fail(ctx, result, classified)

		s.metrics.ObservePaymentFinished(req.Mode.String(), classified.Name(), time.Since(start))
		s.logger(ctx).Error().Err(err).
			Str("code", classified.Name()).
			Str("stage", string(classified.Stage())).
			Str("mode", req.Mode.String()).
			Msg("payment failed")
		return result, classified
	}

	record.update(ctx, domain.PaymentUpdate{
		Status:          domain.PaymentStatusConfirmed,
		TransactionHash: &result.TransactionHash,
	})
	s.metrics.ObservePaymentFinished(req.Mode.String(), "OK", time.Since(start))
	s.logger(ctx).Info().
		Str("op_hash", result.OpHash.Hex()).
		Str("tx_hash", result.TransactionHash.Hex()).
		Str("mode", req.Mode.String()).
		Msg("payment confirmed")
	return result, nil
}

// attempt is the persisted record of one payment. A nil attempt records
// nothing.
type attempt struct {
	id    uuid.UUID
	store PaymentStore
}

func (a *attempt) update(ctx context.Context, update domain.PaymentUpdate) {
	if a == nil {
		return
	}
	if err := a.store.UpdatePayment(ctx, a.id, update); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("payment_id", a.id.String()).Msg("failed to update payment record")
	}
}

// fail stores the classified outcome. A timeout after submission is kept
// apart from failures since the operation may still be included.
func (a *attempt) fail(ctx context.Context, result *domain.PaymentResult, classified domain.DomainError) {
	if a == nil {
		return
	}
	status := domain.PaymentStatusFailed
	submitted := result != nil && result.OpHash != (common.Hash{})
	if submitted && classified.Code() == domain.ErrorCodeTimeout {
		status = domain.PaymentStatusTimeout
	}

	name, msg := classified.Name(), classified.ClientMsg()
	update := domain.PaymentUpdate{
		Status:       status,
		ErrorCode:    &name,
		ErrorMessage: &msg,
	}
	if result != nil && result.TransactionHash != (common.Hash{}) {
		update.TransactionHash = &result.TransactionHash
	}
	a.update(ctx, update)
}

func (s *PaymentService) executePayment(ctx context.Context, signer erc4337.Signer, req domain.PaymentRequest) (*domain.PaymentResult, *attempt, error) {
	option := domain.PaymentOption{Mode: req.Mode}
	if req.Mode != domain.PaymentModeSponsored {
		token := req.Token
		option.Token = &token
	}
	if err := option.Validate(); err != nil {
		return nil, nil, err
	}

	decimals, err := s.TokenDecimals(ctx, req.Token)
	if err != nil {
		return nil, nil, err
	}
	amount, err := ToBaseUnits(req.Amount, decimals)
	if err != nil {
		return nil, nil, err
	}
	transfer, err := erc4337.PackTransfer(req.Recipient, amount)
	if err != nil {
		return nil, nil, stageError(domain.StageOrchestrator, fmt.Errorf("failed to pack transfer: %w", err))
	}

	builder, err := s.NewBuilder(ctx, signer)
	if err != nil {
		return nil, nil, err
	}

	logger := zerolog.Ctx(ctx).With().
		Str("account", builder.Address().Hex()).
		Str("token", req.Token.Hex()).
		Str("recipient", req.Recipient.Hex()).
		Str("amount", amount.String()).
		Logger()
	ctx = logger.WithContext(ctx)

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, builder.Address())
		if err != nil {
			return nil, nil, lockError(err)
		}
		defer func() {
			// the lock is released even when ctx is already done
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("failed to release account lock")
			}
		}()
	}

	record, err := s.createRecord(ctx, builder, req)
	if err != nil {
		return nil, nil, err
	}

	result := &domain.PaymentResult{}
	if record != nil {
		result.PaymentID = record.id.String()
	}
	if err := s.run(ctx, signer, builder, option, req.Token, transfer, record, result); err != nil {
		if record == nil && result.OpHash == (common.Hash{}) {
			return nil, nil, err
		}
		return result, record, err
	}
	return result, record, nil
}

// run builds, signs, submits and waits, filling in result as it goes
func (s *PaymentService) run(
	ctx context.Context,
	signer erc4337.Signer,
	builder *AccountBuilder,
	option domain.PaymentOption,
	token common.Address,
	transfer []byte,
	record *attempt,
	result *domain.PaymentResult,
) error {
	builder.SetPaymentOption(option)
	if err := builder.RefreshGasFees(ctx); err != nil {
		return err
	}

	op, err := builder.BuildOperation(ctx, token, big.NewInt(0), transfer)
	if err != nil {
		return err
	}

	signature, err := signer.SignOperation(ctx, op, builder.EntryPoint(), builder.ChainID())
	if err != nil {
		return domain.NewError(domain.ErrorCodeInvalidSigner, fmt.Errorf("failed to sign user operation: %w", err),
			domain.WithMsg("Failed to sign the transaction"), domain.WithStage(domain.StageSigner))
	}
	if err := op.SetSignature(signature); err != nil {
		return stageError(domain.StageSigner, err)
	}

	opHash, err := s.client.Submit(ctx, op)
	if err != nil {
		return err
	}
	result.OpHash = opHash
	record.update(ctx, domain.PaymentUpdate{
		Status:     domain.PaymentStatusSubmitted,
		UserOpHash: &opHash,
	})

	receipt, err := s.client.WaitForReceipt(ctx, opHash, s.config.PollInterval, s.config.ReceiptTimeout)
	if err != nil {
		return err
	}
	if err := op.MarkConfirmed(); err != nil {
		return stageError(domain.StageClient, err)
	}

	result.Receipt = receipt
	result.TransactionHash = receipt.TransactionHash()
	if !receipt.Success {
		return receiptError(opHash, receipt)
	}
	return nil
}

func receiptError(opHash common.Hash, receipt *erc4337.UserOperationReceipt) error {
	reason := receipt.Reason
	if reason == "" {
		reason = "user operation execution failed"
	}
	return domain.NewError(domain.ErrorCodeRevert,
		fmt.Errorf("execution reverted: %s", reason),
		domain.WithDetail(map[string]interface{}{
			"opHash":          opHash.Hex(),
			"transactionHash": receipt.TransactionHash().Hex(),
		}),
		domain.WithStage(domain.StageOrchestrator))
}

func (s *PaymentService) createRecord(ctx context.Context, builder *AccountBuilder, req domain.PaymentRequest) (*attempt, error) {
	if s.store == nil {
		return nil, nil
	}
	record := &domain.PaymentRecord{
		ID:             uuid.New(),
		AccountAddress: builder.Address().Hex(),
		Recipient:      req.Recipient.Hex(),
		TokenAddress:   req.Token.Hex(),
		Amount:         req.Amount,
		Mode:           req.Mode,
		ChainID:        builder.ChainID().Int64(),
		Status:         domain.PaymentStatusPending,
	}
	if err := s.store.CreatePayment(ctx, record); err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err,
			domain.WithMsg("Failed to record payment"), domain.WithStage(domain.StageOrchestrator))
	}
	return &attempt{id: record.ID, store: s.store}, nil
}

func lockError(err error) error {
	if errors.Is(err, repository.ErrLockHeld) {
		return domain.NewError(domain.ErrorCodeValidation, fmt.Errorf("%w: %v", ErrPaymentInProgress, err),
			domain.WithMsg("A payment from this account is already in progress"), domain.WithStage(domain.StageOrchestrator))
	}
	return domain.NewError(domain.ErrorCodeConnectivity, err,
		domain.WithMsg("Network error: failed to lock account"), domain.WithStage(domain.StageOrchestrator))
}

// TokenDecimals reads decimals() of an ERC-20 token
func (s *PaymentService) TokenDecimals(ctx context.Context, token common.Address) (int, error) {
	data, err := erc4337.ERC20ABI.Pack("decimals")
	if err != nil {
		return 0, stageError(domain.StageOrchestrator, fmt.Errorf("failed to pack decimals: %w", err))
	}

	out, err := s.chain.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, rpcError(domain.StageOrchestrator, "get token decimals", err)
	}

	values, err := erc4337.ERC20ABI.Unpack("decimals", out)
	if err != nil || len(values) != 1 {
		return 0, domain.NewError(domain.ErrorCodeValidation, fmt.Errorf("failed to decode decimals of %s: %v", token.Hex(), err),
			domain.WithMsg("Token does not implement decimals()"), domain.WithStage(domain.StageOrchestrator))
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, stageError(domain.StageOrchestrator, fmt.Errorf("unexpected decimals type %T", values[0]))
	}
	return int(decimals), nil
}

// GetPayment returns the stored record of a payment
func (s *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	if s.store == nil {
		return nil, domain.NewError(domain.ErrorCodeResourceNotFound, errors.New("payment history is disabled"),
			domain.WithMsg("Payment history is not enabled"))
	}
	record, err := s.store.FindPaymentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return record, nil
}
