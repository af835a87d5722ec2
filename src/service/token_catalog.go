package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/ethaccount/tokenpay/src/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	defaultTokenDecimals = 18
	defaultTokenType     = 1
)

// rawToken accepts every field spelling paymasters are known to use
type rawToken struct {
	Token    string           `mapstructure:"token"`
	Address  string           `mapstructure:"address"`
	Decimal  *int             `mapstructure:"decimal"`
	Decimals *int             `mapstructure:"decimals"`
	Symbol   string           `mapstructure:"symbol"`
	Type     *int             `mapstructure:"type"`
	Price    *decimal.Decimal `mapstructure:"price"`
	Prepay   interface{}      `mapstructure:"prepay"`
	Postpay  interface{}      `mapstructure:"postpay"`
	Freepay  interface{}      `mapstructure:"freepay"`
}

// TokenCatalog lists the tokens a paymaster accepts for gas payment. Results
// are never cached.
type TokenCatalog struct {
	paymaster erc4337.Paymaster
	config    PaymasterConfig
	metrics   *metrics.PaymentMetrics
}

func NewTokenCatalog(paymaster erc4337.Paymaster, config PaymasterConfig, m *metrics.PaymentMetrics) *TokenCatalog {
	return &TokenCatalog{
		paymaster: paymaster,
		config:    config,
		metrics:   m,
	}
}

func (s *TokenCatalog) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "token-catalog").Logger()
	return &l
}

// GetSupportedTokens probes the paymaster with an all-zero operation. Any
// failure yields an empty list so that sponsored payments are never blocked
// by the catalog.
func (s *TokenCatalog) GetSupportedTokens(ctx context.Context) []domain.SupportedToken {
	raw, err := s.paymaster.SupportedTokens(ctx, probeOperation(), s.config.APIKey, s.config.EntryPoint)
	if err != nil {
		s.logger(ctx).Warn().Err(err).Msg("failed to fetch supported tokens")
		s.metrics.IncTokenFetch("error")
		return []domain.SupportedToken{}
	}

	tokens, skipped, err := NormalizeTokens(raw)
	if err != nil {
		s.logger(ctx).Warn().Err(err).Msg("failed to parse supported tokens")
		s.metrics.IncTokenFetch("invalid")
		return []domain.SupportedToken{}
	}
	for _, skipErr := range skipped {
		s.logger(ctx).Warn().Err(skipErr).Msg("skipped invalid supported token")
	}

	s.logger(ctx).Debug().Int("token_count", len(tokens)).Msg("fetched supported tokens")
	s.metrics.IncTokenFetch("ok")
	return tokens
}

// GetTokensForMode returns the supported tokens usable with mode
func (s *TokenCatalog) GetTokensForMode(ctx context.Context, mode domain.PaymentMode) []domain.SupportedToken {
	return FilterTokens(s.GetSupportedTokens(ctx), mode)
}

// FilterTokens keeps the tokens that qualify for mode
func FilterTokens(tokens []domain.SupportedToken, mode domain.PaymentMode) []domain.SupportedToken {
	return lo.Filter(tokens, func(token domain.SupportedToken, _ int) bool {
		return token.QualifiesFor(mode)
	})
}

// NormalizeTokens decodes a pm_supported_tokens result. Both {"tokens": [...]}
// and a bare list are accepted. Entries that cannot be decoded are left out
// and reported in skipped; err is set only when the response itself is
// unusable.
func NormalizeTokens(raw []byte) (tokens []domain.SupportedToken, skipped []error, err error) {
	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("failed to decode tokens response: %w", err)
	}

	var entries []interface{}
	switch v := payload.(type) {
	case map[string]interface{}:
		list, ok := v["tokens"].([]interface{})
		if !ok {
			return nil, nil, errors.New("tokens response has no tokens list")
		}
		entries = list
	case []interface{}:
		entries = v
	case nil:
		return []domain.SupportedToken{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unexpected tokens response type %T", payload)
	}

	tokens = make([]domain.SupportedToken, 0, len(entries))
	for i, entry := range entries {
		token, err := normalizeToken(entry)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("token %d: %w", i, err))
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens, skipped, nil
}

func normalizeToken(entry interface{}) (domain.SupportedToken, error) {
	var raw rawToken
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       decimalHook,
		Result:           &raw,
	})
	if err != nil {
		return domain.SupportedToken{}, err
	}
	if err := decoder.Decode(entry); err != nil {
		return domain.SupportedToken{}, err
	}

	address := lo.Ternary(raw.Token != "", raw.Token, raw.Address)
	if !common.IsHexAddress(address) {
		return domain.SupportedToken{}, fmt.Errorf("invalid token address %q", address)
	}

	price := raw.Price
	if price != nil && price.IsZero() {
		price = nil
	}

	return domain.SupportedToken{
		Address:  common.HexToAddress(address),
		Decimals: lo.FromPtrOr(lo.CoalesceOrEmpty(raw.Decimal, raw.Decimals), defaultTokenDecimals),
		Symbol:   raw.Symbol,
		Type:     lo.FromPtrOr(raw.Type, defaultTokenType),
		Price:    price,
		Prepay:   raw.Prepay == true,
		Postpay:  raw.Postpay == true,
		Freepay:  raw.Freepay == true,
	}, nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	}
	return data, nil
}

// probeOperation is the side-effect free placeholder used to enumerate tokens
func probeOperation() *erc4337.UserOperation {
	return erc4337.NewUserOperation(common.Address{})
}
