package handler

import (
	"context"
	"reflect"
	"sync"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/shopspring/decimal"
)

// Dependencies are the services the API routes are served by
type Dependencies struct {
	Payments PaymentProcessor
	Tokens   TokenLister
	// Signer owns the smart account payments are sent from
	Signer      erc4337.Signer
	APISecret   string
	ExplorerURL string
	// HealthChecks are run by the health endpoints, keyed by dependency name
	HealthChecks map[string]HealthCheck
}

var registerValidatorsOnce sync.Once

// RegisterValidators teaches the binding validator about decimal.Decimal
func RegisterValidators() {
	registerValidatorsOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
				if value, ok := field.Interface().(decimal.Decimal); ok {
					return value.String()
				}
				return nil
			}, decimal.Decimal{})
		}
	})
}

func RegisterRoutes(ctx context.Context, router *gin.Engine, deps Dependencies) {
	RegisterValidators()

	SetMiddlewares(ctx, router)

	health := HandleHealthCheck(deps.HealthChecks)
	router.GET("/health", health)

	accountHandler := NewAccountHandler(deps.Payments, deps.Signer)
	tokenHandler := NewTokenHandler(deps.Tokens)
	paymentHandler := NewPaymentHandler(deps.Payments, deps.Signer, deps.ExplorerURL)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", health)

		v1.GET("/account", accountHandler.GetAccount)
		v1.GET("/tokens", tokenHandler.GetTokens)

		// Payment endpoints
		v1.POST("/payments", SharedSecretMiddleware(deps.APISecret), paymentHandler.CreatePayment)
		v1.GET("/payments/:id", paymentHandler.GetPayment)
	}
}
