package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sethvargo/go-envconfig"
)

type AppConfig struct {
	// =========================== REQUIRED ===========================

	// Node JSON-RPC endpoint
	RPCURL string `env:"RPC_URL,required"`
	// Paymaster JSON-RPC endpoint and its API key
	PaymasterRPCURL string `env:"PAYMASTER_RPC_URL,required"`
	PaymasterAPIKey string `env:"PAYMASTER_API_KEY,required"`
	// Private key owning the smart account payments are sent from
	PrivateKey string `env:"PRIVATE_KEY,required"`

	// =========================== OPTIONAL ===========================

	// Bundler endpoint, defaults to the paymaster endpoint
	BundlerRPCURL string `env:"BUNDLER_RPC_URL"`

	// Account abstraction contracts
	EntryPoint     string `env:"ENTRY_POINT,default=0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"`
	AccountFactory string `env:"ACCOUNT_FACTORY,default=0x9406Cc6185a346906296840746125a0E44976454"`
	AccountSalt    string `env:"ACCOUNT_SALT,default=0"`

	// Block explorer used for transaction links
	ExplorerURL string `env:"EXPLORER_URL,default=https://testnet.neroscan.io"`

	// Receipt polling
	ReceiptPollInterval time.Duration `env:"RECEIPT_POLL_INTERVAL,default=2s"`
	ReceiptTimeout      time.Duration `env:"RECEIPT_TIMEOUT,default=30s"`

	// Persistence, disabled when empty
	DSN           string `env:"DB_URL"`
	MigrationPath string `env:"MIGRATION_PATH,default=file://migrations"`

	// Per-account submission lock, disabled when empty
	RedisAddr string        `env:"REDIS_URL"`
	LockTTL   time.Duration `env:"ACCOUNT_LOCK_TTL,default=2m"`

	// Reconciliation of timed out payments
	ReconcileInterval   time.Duration `env:"RECONCILE_INTERVAL,default=60s"`
	ReconcileStaleAfter time.Duration `env:"RECONCILE_STALE_AFTER,default=10m"`

	// API secret for validating payment requests, payments are refused when empty
	APISecret string `env:"API_SECRET"`

	// HTTP server configuration
	Host         string   `env:"HOST,default=localhost:8080"`
	Port         string   `env:"PORT,default=8080"`
	AllowOrigins []string `env:"ALLOW_ORIGINS,default=http://localhost:5173"`

	// Available levels: "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"
	LogLevel    string `env:"LOG_LEVEL,default=debug"`
	Environment string `env:"ENVIRONMENT,default=dev"`

	// Error reporting, disabled when empty
	SentryDSN string `env:"SENTRY_DSN"`
}

// NewAppConfig loads the configuration from the process environment
func NewAppConfig(ctx context.Context) (*AppConfig, error) {
	return loadConfig(ctx, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, lookuper envconfig.Lookuper) (*AppConfig, error) {
	config := &AppConfig{}
	if err := envconfig.ProcessWith(ctx, config, lookuper); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	config.PrivateKey = strings.TrimPrefix(config.PrivateKey, "0x")
	if config.BundlerRPCURL == "" {
		config.BundlerRPCURL = config.PaymasterRPCURL
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values envconfig cannot check by type
func (c *AppConfig) Validate() error {
	for name, addr := range map[string]string{
		"ENTRY_POINT":     c.EntryPoint,
		"ACCOUNT_FACTORY": c.AccountFactory,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s: %q is not an address", name, addr)
		}
	}
	if _, err := c.Salt(); err != nil {
		return err
	}
	if c.ReceiptPollInterval <= 0 || c.ReceiptTimeout <= 0 {
		return fmt.Errorf("receipt poll interval and timeout must be positive")
	}
	if c.ReceiptPollInterval > c.ReceiptTimeout {
		return fmt.Errorf("receipt poll interval %s exceeds timeout %s", c.ReceiptPollInterval, c.ReceiptTimeout)
	}
	// the account lock is held until the receipt arrives or the wait times out
	if c.RedisAddr != "" && c.LockTTL <= c.ReceiptTimeout {
		return fmt.Errorf("ACCOUNT_LOCK_TTL %s must exceed RECEIPT_TIMEOUT %s", c.LockTTL, c.ReceiptTimeout)
	}
	return nil
}

// Salt parses ACCOUNT_SALT as a decimal or 0x-prefixed integer
func (c *AppConfig) Salt() (*big.Int, error) {
	salt, ok := new(big.Int).SetString(c.AccountSalt, 0)
	if !ok || salt.Sign() < 0 {
		return nil, fmt.Errorf("invalid ACCOUNT_SALT %q", c.AccountSalt)
	}
	return salt, nil
}
