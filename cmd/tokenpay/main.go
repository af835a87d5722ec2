package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethaccount/tokenpay/src/app"
	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	envFile string
	rootCmd = &cobra.Command{
		Use:   "tokenpay",
		Short: "Send ERC-20 payments from a smart account",
		Long: `tokenpay builds, sponsors and submits ERC-4337 user operations that
transfer ERC-20 tokens from the smart account owned by PRIVATE_KEY.

Configuration is read from the environment, optionally loaded from --env.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		renderError(rootCmd.ErrOrStderr(), err)
		os.Exit(1)
	}
}

// renderError prints the user facing message of classified errors and the
// plain error text of everything else
func renderError(w io.Writer, err error) {
	msg := err.Error()
	var domainErr domain.DomainError
	if errors.As(err, &domainErr) && domainErr.ClientMsg() != "" {
		msg = domainErr.ClientMsg()
		if name := domainErr.Name(); name != "" {
			msg = fmt.Sprintf("%s (%s)", msg, name)
		}
	}
	fmt.Fprintln(w, "Error:", msg)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFile, "env", "e", ".env", "Path to env file, ignored when missing")
}

// newApplication loads the config and wires the application the same way the
// server does
func newApplication(cmd *cobra.Command) (context.Context, *app.Application, error) {
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Overload(envFile); err != nil {
			return nil, nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	config, err := app.NewAppConfig(cmd.Context())
	if err != nil {
		return nil, nil, err
	}

	logger := app.InitLogger(config.LogLevel, config.Environment).Level(zerolog.WarnLevel)
	ctx := logger.WithContext(cmd.Context())

	application, err := app.NewApplication(ctx, *config)
	if err != nil {
		return nil, nil, err
	}
	return ctx, application, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
