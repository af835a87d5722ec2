package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func FindProjectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)

	// Walk up the directory tree to find go.mod
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			panic("could not find project root (go.mod not found)")
		}
		dir = parent
	}
}

// ExplorerTxURL links a transaction on a block explorer. An empty base or a
// zero hash yields an empty string.
func ExplorerTxURL(base string, txHash common.Hash) string {
	if base == "" || txHash == (common.Hash{}) {
		return ""
	}
	base = strings.TrimRight(base, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return base + "/tx/" + txHash.Hex()
}
