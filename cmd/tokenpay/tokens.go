package main

import (
	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/spf13/cobra"
)

var tokensMode string

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List the tokens the paymaster accepts for gas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var mode *domain.PaymentMode
		if tokensMode != "" {
			parsed, err := domain.ParsePaymentMode(tokensMode)
			if err != nil {
				return err
			}
			mode = &parsed
		}

		ctx, application, err := newApplication(cmd)
		if err != nil {
			return err
		}
		defer application.Shutdown(ctx)

		tokens := application.TokenCatalog.GetSupportedTokens(ctx)
		if mode != nil {
			tokens = application.TokenCatalog.GetTokensForMode(ctx, *mode)
		}
		return printJSON(cmd, tokens)
	},
}

func init() {
	tokensCmd.Flags().StringVarP(&tokensMode, "mode", "m", "", "Only tokens usable in this mode: sponsored, prepay or postpay")
	rootCmd.AddCommand(tokensCmd)
}
