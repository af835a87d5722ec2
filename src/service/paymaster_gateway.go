package service

import (
	"context"
	"errors"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

type PaymasterConfig struct {
	APIKey     string
	RPCURL     string
	EntryPoint common.Address
}

// PaymasterGateway turns a payment option into a paymaster directive and asks
// the paymaster to sponsor operations with it.
type PaymasterGateway struct {
	paymaster erc4337.Paymaster
	config    PaymasterConfig
}

func NewPaymasterGateway(paymaster erc4337.Paymaster, config PaymasterConfig) *PaymasterGateway {
	return &PaymasterGateway{
		paymaster: paymaster,
		config:    config,
	}
}

func (s *PaymasterGateway) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "paymaster").Logger()
	return &l
}

// SelectDirective builds the directive for mode. Sponsored directives never
// carry a token, even if one is given.
func (s *PaymasterGateway) SelectDirective(mode domain.PaymentMode, token *common.Address) (erc4337.PaymasterDirective, error) {
	option := domain.PaymentOption{Mode: mode, Token: token}
	if err := option.Validate(); err != nil {
		return erc4337.PaymasterDirective{}, domain.NewError(domain.ErrorCodeValidation, err,
			domain.WithMsg(clientMsgOf(err)), domain.WithStage(domain.StagePaymaster))
	}

	directive := erc4337.PaymasterDirective{
		Type:   mode.Code(),
		APIKey: s.config.APIKey,
		RPC:    s.config.RPCURL,
	}
	if mode != domain.PaymentModeSponsored {
		t := *token
		directive.Token = &t
	}
	return directive, nil
}

// Sponsor asks the paymaster to fill in paymasterAndData for op. The returned
// operation is a copy; op is left untouched.
func (s *PaymasterGateway) Sponsor(ctx context.Context, op *erc4337.UserOperation, directive erc4337.PaymasterDirective) (*erc4337.UserOperation, error) {
	result, err := s.paymaster.SponsorUserOperation(ctx, op, directive.APIKey, s.config.EntryPoint, erc4337.SponsorContext{
		Type:  directive.Type,
		Token: directive.Token,
	})
	if err != nil {
		s.logger(ctx).Error().Err(err).
			Str("sender", op.Sender.Hex()).
			Str("type", directive.Type).
			Msg("paymaster rejected user operation")
		return nil, rpcError(domain.StagePaymaster, "sponsor user operation", err)
	}
	if len(result.PaymasterAndData) == 0 {
		return nil, domain.NewError(domain.ErrorCodePaymaster, errors.New("paymaster returned empty paymasterAndData"),
			domain.WithStage(domain.StagePaymaster))
	}

	sponsored := op.Copy()
	result.Apply(sponsored)

	s.logger(ctx).Debug().
		Str("sender", op.Sender.Hex()).
		Str("type", directive.Type).
		Int("paymaster_data_len", len(sponsored.PaymasterAndData)).
		Msg("user operation sponsored")

	return sponsored, nil
}

func clientMsgOf(err error) string {
	var domainErr domain.DomainError
	if errors.As(err, &domainErr) && domainErr.ClientMsg() != "" {
		return domainErr.ClientMsg()
	}
	return err.Error()
}
