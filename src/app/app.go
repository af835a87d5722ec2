package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/ethaccount/tokenpay/src/handler"
	"github.com/ethaccount/tokenpay/src/metrics"
	"github.com/ethaccount/tokenpay/src/repository"
	"github.com/ethaccount/tokenpay/src/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/getsentry/sentry-go"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/rs/zerolog"
	postgresDriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const accountLockPrefix = "tokenpay:account-lock"

type Application struct {
	config   AppConfig
	database *gorm.DB
	redis    *redis.Client
	registry *prometheus.Registry

	ethClient       *ethclient.Client
	bundlerClient   *rpc.Client
	paymasterClient *rpc.Client
	sentryEnabled   bool

	Signer            erc4337.Signer
	PaymentService    *service.PaymentService
	TokenCatalog      *service.TokenCatalog
	ReconcilerService *service.ReconcilerService
}

func NewApplication(ctx context.Context, config AppConfig) (*Application, error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "NewApplication").Logger()

	app := &Application{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := metrics.NewPaymentMetrics(app.registry)

	// Error reporting
	var reporter service.ErrorReporter
	if config.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              config.SentryDSN,
			Environment:      config.Environment,
			TracesSampleRate: 1.0,
		}); err != nil {
			return nil, fmt.Errorf("failed to init sentry: %w", err)
		}
		app.sentryEnabled = true
		reporter = sentry.CurrentHub()
		logger.Info().Msg("Sentry error reporting enabled")
	}

	signer, err := erc4337.NewPrivateKeySigner(config.PrivateKey)
	if err != nil {
		return nil, err
	}
	app.Signer = signer

	// Connect to node, bundler and paymaster
	app.ethClient, err = ethclient.DialContext(ctx, config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node: %w", err)
	}
	app.bundlerClient, err = rpc.DialContext(ctx, config.BundlerRPCURL)
	if err != nil {
		app.Shutdown(ctx)
		return nil, fmt.Errorf("failed to dial bundler: %w", err)
	}
	app.paymasterClient, err = rpc.DialContext(ctx, config.PaymasterRPCURL)
	if err != nil {
		app.Shutdown(ctx)
		return nil, fmt.Errorf("failed to dial paymaster: %w", err)
	}
	bundler := erc4337.NewBundlerClient(app.bundlerClient)
	app.checkChainID(ctx, bundler)

	entryPoint := common.HexToAddress(config.EntryPoint)
	salt, err := config.Salt()
	if err != nil {
		app.Shutdown(ctx)
		return nil, err
	}

	paymasterConfig := service.PaymasterConfig{
		APIKey:     config.PaymasterAPIKey,
		RPCURL:     config.PaymasterRPCURL,
		EntryPoint: entryPoint,
	}
	paymaster := erc4337.NewPaymasterClient(app.paymasterClient)
	gateway := service.NewPaymasterGateway(paymaster, paymasterConfig)
	operations := service.NewOperationClient(bundler, entryPoint, paymentMetrics)
	app.TokenCatalog = service.NewTokenCatalog(paymaster, paymasterConfig, paymentMetrics)

	opts := []service.PaymentServiceOption{service.WithPaymentMetrics(paymentMetrics)}

	// Connect to database
	if config.DSN != "" {
		if err := app.connectDatabase(ctx); err != nil {
			app.Shutdown(ctx)
			return nil, err
		}
		store := repository.NewPaymentRepository(app.database)
		opts = append(opts, service.WithPaymentStore(store))
		app.ReconcilerService = service.NewReconcilerService(store, operations, service.ReconcilerConfig{
			Interval:   config.ReconcileInterval,
			StaleAfter: config.ReconcileStaleAfter,
		}, paymentMetrics)
	} else {
		logger.Warn().Msg("DB_URL not set, payment history is disabled")
	}

	// Connect to Redis
	if config.RedisAddr != "" {
		if err := app.connectRedis(ctx); err != nil {
			app.Shutdown(ctx)
			return nil, err
		}
		opts = append(opts, service.WithAccountLocker(repository.NewAccountLock(app.redis, accountLockPrefix, config.LockTTL)))
	} else {
		logger.Warn().Msg("REDIS_URL not set, account lock is disabled")
	}

	app.PaymentService = service.NewPaymentService(
		app.ethClient,
		gateway,
		operations,
		service.NewErrorClassifier(reporter),
		service.PaymentConfig{
			Account: service.AccountConfig{
				EntryPoint: entryPoint,
				Factory:    common.HexToAddress(config.AccountFactory),
				Salt:       salt,
			},
			PollInterval:   config.ReceiptPollInterval,
			ReceiptTimeout: config.ReceiptTimeout,
		},
		opts...,
	)

	return app, nil
}

// checkChainID warns when the bundler serves a different chain than the node
func (app *Application) checkChainID(ctx context.Context, bundler erc4337.Bundler) {
	logger := zerolog.Ctx(ctx).With().Str("function", "checkChainID").Logger()

	nodeChainID, err := app.ethClient.ChainID(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to get node chain id")
		return
	}
	bundlerChainID, err := bundler.ChainId(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to get bundler chain id")
		return
	}
	if nodeChainID.Cmp(bundlerChainID) != 0 {
		logger.Warn().
			Str("node_chain_id", nodeChainID.String()).
			Str("bundler_chain_id", bundlerChainID.String()).
			Msg("bundler and node serve different chains")
		return
	}
	logger.Info().Str("chain_id", nodeChainID.String()).Msg("Connected to chain")
}

func (app *Application) connectDatabase(ctx context.Context) error {
	logger := zerolog.Ctx(ctx).With().Str("function", "connectDatabase").Logger()

	database, err := gorm.Open(postgresDriver.Open(app.config.DSN), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("connection to database failed: %w", err)
	}
	app.database = database

	db, err := database.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connection to database failed: %w", err)
	}
	logger.Info().Msg("Database connection established")

	if err := MigrationUp(app.config.DSN, app.config.MigrationPath); err != nil {
		return err
	}
	return nil
}

func (app *Application) connectRedis(ctx context.Context) error {
	redisOpts, err := redis.ParseURL(app.config.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to parse redis URL: %w", err)
	}

	app.redis = redis.NewClient(redisOpts)
	if err := app.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connection to redis failed: %w", err)
	}
	zerolog.Ctx(ctx).Info().Msg("Redis connection established")
	return nil
}

func (app *Application) Shutdown(ctx context.Context) {
	logger := zerolog.Ctx(ctx).With().Str("function", "Shutdown").Logger()

	// Close database connection
	if app.database != nil {
		db, err := app.database.DB()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to get underlying database connection")
		} else {
			if err := db.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close database connection")
			} else {
				logger.Info().Msg("Database connection closed")
			}
		}
	}

	// Close Redis connection
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close redis connection")
		} else {
			logger.Info().Msg("Redis connection closed")
		}
	}

	// Close RPC connections
	if app.ethClient != nil {
		app.ethClient.Close()
	}
	if app.bundlerClient != nil {
		app.bundlerClient.Close()
	}
	if app.paymasterClient != nil {
		app.paymasterClient.Close()
	}

	if app.sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
}

func (app *Application) RunHTTPServer(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunHTTPServer").Logger()

	// Set to release mode to disable Gin logger
	gin.SetMode(gin.ReleaseMode)

	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())

	// Register routes
	app.registerRoutes(ctx, ginRouter)

	// Build HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", app.config.Port),
		Handler: ginRouter,
	}

	// Start server in goroutine
	go func() {
		zerolog.Ctx(ctx).Info().Msgf("HTTP server is on http://localhost:%s/api/v1/health", app.config.Port)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Panic().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	logger.Info().Msg("Gracefully shutting down HTTP server...")

	// Payments in flight may still be waiting for a receipt
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.config.ReceiptTimeout+10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown HTTP server gracefully")
	} else {
		logger.Info().Msg("HTTP server shutdown complete")
	}
}

func (app *Application) RunReconcileWorker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunReconcileWorker").Logger()
	if app.ReconcilerService == nil {
		logger.Info().Msg("Payment history disabled, reconcile worker not started")
		return
	}

	logger.Info().Msg("Starting reconcile worker")
	if err := app.ReconcilerService.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Reconcile worker stopped unexpectedly")
		return
	}
	logger.Info().Msg("Reconcile worker stopped")
}

func (app *Application) registerRoutes(ctx context.Context, router *gin.Engine) {
	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = app.config.AllowOrigins
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-API-Secret"}
	config.AllowCredentials = true

	router.Use(cors.New(config))

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})))

	handler.RegisterRoutes(ctx, router, handler.Dependencies{
		Payments:     app.PaymentService,
		Tokens:       app.TokenCatalog,
		Signer:       app.Signer,
		APISecret:    app.config.APISecret,
		ExplorerURL:  app.config.ExplorerURL,
		HealthChecks: app.healthChecks(),
	})
}

func (app *Application) healthChecks() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{}
	if app.database != nil {
		checks["database"] = func(ctx context.Context) error {
			db, err := app.database.DB()
			if err != nil {
				return err
			}
			return db.PingContext(ctx)
		}
	}
	if app.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return app.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// ExplorerURL is the block explorer transaction links point to
func (app *Application) ExplorerURL() string {
	return app.config.ExplorerURL
}
