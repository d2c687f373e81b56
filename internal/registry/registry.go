// Package registry implements rag.Registry, the commit point of an upload.
//
// Two backends are provided:
//
//   - Chain: a manual-registry smart contract reached over Ethereum JSON-RPC.
//     Writes are signed EIP-155 transactions and block until mined.
//   - SQL: a ledger table in SQLite or PostgreSQL that keeps every version.
//
// Both serialize writes per signing account.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/54b3r/manualrag-go/internal/rag"
)

// Backend is a rag.Registry with lifecycle and readiness hooks.
type Backend interface {
	rag.Registry
	// Name returns a short label for readiness responses.
	Name() string
	// Ping checks whether the registry is reachable.
	Ping(ctx context.Context) error
	// Close releases connections held by the backend.
	Close() error
}

// Config selects and configures a registry backend.
type Config struct {
	// Backend is one of: chain, sqlite, postgres.
	Backend string
	// DSN is the database source for sqlite and postgres.
	DSN string
	// Chain configures the chain backend.
	Chain ChainConfig
}

// ConfigFromEnv resolves a registry Config from environment variables:
//
//	REGISTRY_BACKEND    = chain | sqlite | postgres (default: chain when CONTRACT_ADDRESS is set, else sqlite)
//	REGISTRY_DSN        database DSN (default sqlite: ~/.manualrag/registry.db)
//	WEB3_PROVIDER_URI   JSON-RPC endpoint (default: http://127.0.0.1:8545)
//	CONTRACT_ADDRESS    registry contract address
//	CONTRACT_ABI_PATH   ABI JSON or truffle artifact (default: built-in ABI)
//	CHAIN_ID            EIP-155 chain id (default: 1337)
//	GAS_LIMIT           gas limit per registration (default: 2000000)
func ConfigFromEnv() *Config {
	backend := os.Getenv("REGISTRY_BACKEND")
	if backend == "" {
		backend = "sqlite"
		if os.Getenv("CONTRACT_ADDRESS") != "" {
			backend = "chain"
		}
	}
	return &Config{
		Backend: strings.ToLower(backend),
		DSN:     os.Getenv("REGISTRY_DSN"),
		Chain: ChainConfig{
			RPCURL:          getEnvOrDefault("WEB3_PROVIDER_URI", DefaultRPCURL),
			ContractAddress: os.Getenv("CONTRACT_ADDRESS"),
			ABIPath:         os.Getenv("CONTRACT_ABI_PATH"),
			ChainID:         int64(getEnvInt("CHAIN_ID", DefaultChainID)),
			GasLimit:        uint64(getEnvInt("GAS_LIMIT", DefaultGasLimit)),
		},
	}
}

// Open constructs the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg *Config) (Backend, error) {
	switch cfg.Backend {
	case "chain":
		return DialChain(ctx, &cfg.Chain)
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			p, err := DefaultDBPath()
			if err != nil {
				return nil, err
			}
			dsn = p
		}
		return OpenSQL(ctx, DialectSQLite, dsn)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("registry: postgres requires REGISTRY_DSN")
		}
		return OpenSQL(ctx, DialectPostgres, cfg.DSN)
	default:
		return nil, fmt.Errorf("registry: unknown backend %q (valid values: chain, sqlite, postgres)", cfg.Backend)
	}
}

// DefaultDBPath returns ~/.manualrag/registry.db, creating the directory if
// needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("registry: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".manualrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("registry: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "registry.db"), nil
}

// accountLocks hands out one mutex per signing account.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the mutex for account and returns its release func.
func (a *accountLocks) lock(account string) func() {
	key := strings.ToLower(account)
	a.mu.Lock()
	if a.locks == nil {
		a.locks = make(map[string]*sync.Mutex)
	}
	m, ok := a.locks[key]
	if !ok {
		m = &sync.Mutex{}
		a.locks[key] = m
	}
	a.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// deadlineError wraps ctx.Err() as a registry failure once the caller's
// deadline has passed.
func deadlineError(ctx context.Context, action string) error {
	return fmt.Errorf("%w: %s: %w", rag.ErrRegistry, action, ctx.Err())
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
