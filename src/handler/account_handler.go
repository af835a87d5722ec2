package handler

import (
	"context"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type AccountHandler struct {
	payments PaymentProcessor
	signer   erc4337.Signer
}

func NewAccountHandler(payments PaymentProcessor, signer erc4337.Signer) *AccountHandler {
	return &AccountHandler{
		payments: payments,
		signer:   signer,
	}
}

func (h *AccountHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "account").Logger()
	return &l
}

// GetAccount godoc
// @Summary Smart account of the server signer
// @Description Returns the counterfactual account address and whether it is deployed
// @Tags account
// @Produce json
// @Success 200 {object} StandardResponse{data=domain.AccountInfo}
// @Failure 502 {object} StandardResponse
// @Router /account [get]
func (h *AccountHandler) GetAccount(c *gin.Context) {
	info, err := h.payments.DescribeAccount(c.Request.Context(), h.signer)
	if err != nil {
		h.logger(c.Request.Context()).Error().Err(err).Msg("failed to describe account")
		respondWithError(c, err)
		return
	}
	respondWithSuccess(c, info)
}
