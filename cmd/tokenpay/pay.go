package main

import (
	"fmt"

	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/ethaccount/tokenpay/src/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var (
	payTo     string
	payAmount string
	payToken  string
	payMode   string
)

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Transfer tokens from the smart account and wait for the receipt",
	Example: `  tokenpay pay --to 0x5a6B842891032d702517a4E52ec38eE561063539 \
    --token 0xD5a6dcff7AC339A03f6964c315575bF65c3c6cF1 --amount 10.5 --mode prepay`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := payRequest()
		if err != nil {
			return err
		}

		ctx, application, err := newApplication(cmd)
		if err != nil {
			return err
		}
		defer application.Shutdown(ctx)

		result, err := application.PaymentService.ExecutePayment(ctx, application.Signer, req)
		if result != nil {
			if printErr := printJSON(cmd, result); printErr != nil {
				return printErr
			}
		}
		if err != nil {
			return err
		}

		if link := utils.ExplorerTxURL(application.ExplorerURL(), result.TransactionHash); link != "" {
			fmt.Fprintln(cmd.OutOrStdout(), link)
		}
		return nil
	},
}

func payRequest() (domain.PaymentRequest, error) {
	if !common.IsHexAddress(payTo) {
		return domain.PaymentRequest{}, fmt.Errorf("invalid --to address %q", payTo)
	}
	if !common.IsHexAddress(payToken) {
		return domain.PaymentRequest{}, fmt.Errorf("invalid --token address %q", payToken)
	}
	mode, err := domain.ParsePaymentMode(payMode)
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	return domain.PaymentRequest{
		Recipient: common.HexToAddress(payTo),
		Token:     common.HexToAddress(payToken),
		Amount:    payAmount,
		Mode:      mode,
	}, nil
}

func init() {
	payCmd.Flags().StringVar(&payTo, "to", "", "Recipient address")
	payCmd.Flags().StringVar(&payAmount, "amount", "", "Amount in token units, e.g. 10.5")
	payCmd.Flags().StringVar(&payToken, "token", "", "ERC-20 token address")
	payCmd.Flags().StringVarP(&payMode, "mode", "m", "sponsored", "Gas payment mode: sponsored, prepay or postpay")
	_ = payCmd.MarkFlagRequired("to")
	_ = payCmd.MarkFlagRequired("amount")
	_ = payCmd.MarkFlagRequired("token")
	rootCmd.AddCommand(payCmd)
}
