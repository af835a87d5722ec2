package handler

import (
	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/gin-gonic/gin"
)

type TokenHandler struct {
	catalog TokenLister
}

func NewTokenHandler(catalog TokenLister) *TokenHandler {
	return &TokenHandler{catalog: catalog}
}

// GetTokens godoc
// @Summary List paymaster tokens
// @Description Lists the tokens the paymaster accepts for gas, optionally only those usable in one payment mode
// @Tags tokens
// @Produce json
// @Param mode query string false "sponsored, prepay or postpay"
// @Success 200 {object} StandardResponse{data=[]domain.SupportedToken}
// @Failure 422 {object} StandardResponse
// @Router /tokens [get]
func (h *TokenHandler) GetTokens(c *gin.Context) {
	ctx := c.Request.Context()

	raw := c.Query("mode")
	if raw == "" {
		respondWithSuccess(c, h.catalog.GetSupportedTokens(ctx))
		return
	}

	mode, err := domain.ParsePaymentMode(raw)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondWithSuccess(c, h.catalog.GetTokensForMode(ctx, mode))
}
