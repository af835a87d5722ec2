package main

import (
	"github.com/spf13/cobra"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the smart account address and deployment status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, application, err := newApplication(cmd)
		if err != nil {
			return err
		}
		defer application.Shutdown(ctx)

		info, err := application.PaymentService.DescribeAccount(ctx, application.Signer)
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
}
