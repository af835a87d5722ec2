package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/ethaccount/tokenpay/src/repository"
	"github.com/ethaccount/tokenpay/src/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type PaymentHandler struct {
	payments    PaymentProcessor
	signer      erc4337.Signer
	explorerURL string
}

func NewPaymentHandler(payments PaymentProcessor, signer erc4337.Signer, explorerURL string) *PaymentHandler {
	return &PaymentHandler{
		payments:    payments,
		signer:      signer,
		explorerURL: explorerURL,
	}
}

func (h *PaymentHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "payment").Logger()
	return &l
}

// CreatePaymentRequest represents the request payload for a token payment
type CreatePaymentRequest struct {
	Recipient string          `json:"recipient" binding:"required"`
	Token     string          `json:"token" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required" swaggertype:"string" example:"10.5"`
	// Mode defaults to sponsored
	Mode string `json:"mode" example:"prepay"`
}

// PaymentResponse represents the outcome of a payment request
type PaymentResponse struct {
	PaymentID       string                        `json:"paymentId,omitempty"`
	OpHash          string                        `json:"opHash,omitempty"`
	TransactionHash string                        `json:"transactionHash,omitempty"`
	ExplorerURL     string                        `json:"explorerUrl,omitempty"`
	Receipt         *erc4337.UserOperationReceipt `json:"receipt,omitempty"`
}

// PaymentRecordResponse is a stored payment with its explorer link
type PaymentRecordResponse struct {
	*domain.PaymentRecord
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

func (r *CreatePaymentRequest) toDomain() (domain.PaymentRequest, error) {
	if !common.IsHexAddress(r.Recipient) {
		return domain.PaymentRequest{}, fmt.Errorf("invalid recipient address %q", r.Recipient)
	}
	if !common.IsHexAddress(r.Token) {
		return domain.PaymentRequest{}, fmt.Errorf("invalid token address %q", r.Token)
	}
	if !r.Amount.IsPositive() {
		return domain.PaymentRequest{}, fmt.Errorf("amount must be positive, got %s", r.Amount.String())
	}

	mode := domain.PaymentModeSponsored
	if strings.TrimSpace(r.Mode) != "" {
		parsed, err := domain.ParsePaymentMode(r.Mode)
		if err != nil {
			return domain.PaymentRequest{}, err
		}
		mode = parsed
	}

	return domain.PaymentRequest{
		Recipient: common.HexToAddress(r.Recipient),
		Token:     common.HexToAddress(r.Token),
		Amount:    r.Amount.String(),
		Mode:      mode,
	}, nil
}

func (h *PaymentHandler) toResponse(result *domain.PaymentResult) *PaymentResponse {
	if result == nil {
		return nil
	}
	response := &PaymentResponse{
		PaymentID: result.PaymentID,
		Receipt:   result.Receipt,
	}
	if result.OpHash != (common.Hash{}) {
		response.OpHash = result.OpHash.Hex()
	}
	if result.TransactionHash != (common.Hash{}) {
		response.TransactionHash = result.TransactionHash.Hex()
		response.ExplorerURL = utils.ExplorerTxURL(h.explorerURL, result.TransactionHash)
	}
	return response
}

// CreatePayment godoc
// @Summary Send a token payment
// @Description Transfers an ERC-20 amount from the server's smart account and waits for inclusion
// @Tags payments
// @Accept json
// @Produce json
// @Param X-API-Secret header string true "Shared API secret"
// @Param request body CreatePaymentRequest true "Payment"
// @Success 200 {object} StandardResponse{data=PaymentResponse}
// @Failure 400 {object} StandardResponse
// @Failure 401 {object} StandardResponse
// @Failure 402 {object} StandardResponse
// @Failure 409 {object} StandardResponse
// @Failure 504 {object} StandardResponse
// @Router /payments [post]
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "CreatePayment").Logger()

	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	paymentReq, err := req.toDomain()
	if err != nil {
		if _, tagged := domain.Tagged(err); !tagged {
			err = domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg(err.Error()))
		}
		respondWithError(c, err)
		return
	}

	result, err := h.payments.ExecutePayment(c.Request.Context(), h.signer, paymentReq)
	if err != nil {
		if result == nil {
			respondWithError(c, err)
			return
		}
		respondWithErrorData(c, err, h.toResponse(result))
		return
	}

	logger.Info().
		Str("payment_id", result.PaymentID).
		Str("op_hash", result.OpHash.Hex()).
		Str("tx_hash", result.TransactionHash.Hex()).
		Msg("payment confirmed")

	respondWithSuccess(c, h.toResponse(result))
}

// GetPayment godoc
// @Summary Get a payment
// @Description Returns the recorded status of a payment
// @Tags payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} StandardResponse{data=PaymentRecordResponse}
// @Failure 400 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Router /payments/{id} [get]
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid payment id")))
		return
	}

	record, err := h.payments.GetPayment(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			err = domain.NewError(domain.ErrorCodeResourceNotFound, err, domain.WithMsg("Payment not found"))
		}
		respondWithError(c, err)
		return
	}

	response := PaymentRecordResponse{PaymentRecord: record}
	if record.TransactionHash != nil {
		response.ExplorerURL = utils.ExplorerTxURL(h.explorerURL, common.HexToHash(*record.TransactionHash))
	}
	respondWithSuccess(c, response)
}
