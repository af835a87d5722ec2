package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethaccount/tokenpay/docs/swagger"
	"github.com/ethaccount/tokenpay/src/app"
	"github.com/joho/godotenv"
)

// @contact.name   API Support

// @license.name  AGPL-3.0-only

// @host      localhost:8080
// @BasePath  /api/v1

// @externalDocs.description  OpenAPI
// @externalDocs.url          https://swagger.io/resources/open-api/

const (
	AppName    = "Tokenpay"
	AppVersion = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// .env is optional in production
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Overload(".env"); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	config, err := app.NewAppConfig(context.Background())
	if err != nil {
		return fmt.Errorf("REQUIRED: %w", err)
	}

	swagger.SwaggerInfo.Title = AppName + " API"
	swagger.SwaggerInfo.Version = AppVersion
	swagger.SwaggerInfo.Description = fmt.Sprintf("%s sends ERC-20 payments from a smart account with paymaster gas options", AppName)
	swagger.SwaggerInfo.Host = config.Host

	logger := app.InitLogger(config.LogLevel, config.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	logger.Info().
		Str("version", AppVersion).
		Str("environment", config.Environment).
		Bool("persistence", config.DSN != "").
		Bool("account_lock", config.RedisAddr != "").
		Msgf("Launching %s", AppName)
	logger.Info().Str("swagger_link", "http://"+config.Host+"/swagger/index.html").Msg("Swagger link")

	application, err := app.NewApplication(ctx, *config)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go application.RunHTTPServer(ctx, &wg)
	go application.RunReconcileWorker(ctx, &wg)

	<-ctx.Done()
	logger.Info().Msg("Received shutdown signal")

	// an in-flight payment may still be waiting for its receipt
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info().Msg("All workers shut down gracefully")
	case <-time.After(config.ReceiptTimeout + 15*time.Second):
		logger.Error().Msg("Timeout waiting for workers to shut down")
	}

	application.Shutdown(logger.WithContext(context.Background()))
	logger.Info().Msg("Application shutdown complete")
	return nil
}
