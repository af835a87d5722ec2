package handler

import (
	"context"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/google/uuid"
)

// PaymentProcessor is implemented by *service.PaymentService
type PaymentProcessor interface {
	DescribeAccount(ctx context.Context, signer erc4337.Signer) (*domain.AccountInfo, error)
	ExecutePayment(ctx context.Context, signer erc4337.Signer, req domain.PaymentRequest) (*domain.PaymentResult, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
}

// TokenLister is implemented by *service.TokenCatalog
type TokenLister interface {
	GetSupportedTokens(ctx context.Context) []domain.SupportedToken
	GetTokensForMode(ctx context.Context, mode domain.PaymentMode) []domain.SupportedToken
}
