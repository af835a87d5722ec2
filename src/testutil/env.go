package testutil

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethaccount/tokenpay/src/utils"
	"github.com/joho/godotenv"
)

var loadDotEnv sync.Once

// GetEnv reads key from the environment. The project .env is loaded once
// and never overrides variables already set.
func GetEnv(key string) string {
	loadDotEnv.Do(func() {
		_ = godotenv.Load(filepath.Join(utils.FindProjectRoot(), ".env"))
	})
	return os.Getenv(key)
}

// RequireEnv returns key or skips the test when it is unset
func RequireEnv(t *testing.T, key string) string {
	t.Helper()
	value := GetEnv(key)
	if value == "" {
		t.Skipf("%s is not set", key)
	}
	return value
}
