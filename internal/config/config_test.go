package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultUSDCMint, cfg.Mint)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 30, cfg.RateLimit.MaxCalls)
	assert.Equal(t, 1000, cfg.Index.PageSize)
	assert.Equal(t, 50, cfg.Enrich.BatchSize)
	assert.Equal(t, "batched", cfg.Enrich.Strategy)
	assert.Equal(t, 30*time.Minute, cfg.Lock.StaleAfter)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
solana:
  rpc_url: https://file.example
rate_limit:
  backend: redis
  max_calls: 10
  window: 5s
enrich:
  strategy: sequential
log:
  format: json
`), 0o644))

	t.Setenv("SOLANA_RPC_URL", "https://env.example")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/ledger")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ENRICH_BATCH_SIZE", "25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example", cfg.Solana.RPCURL, "env overrides file")
	assert.Equal(t, "postgres://localhost/ledger", cfg.Postgres.DSN)
	assert.Equal(t, BackendRedis, cfg.RateLimit.Backend)
	assert.Equal(t, 10, cfg.RateLimit.MaxCalls)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 25, cfg.Enrich.BatchSize)
	assert.Equal(t, "sequential", cfg.Enrich.Strategy)
	assert.Equal(t, "json", cfg.Log.Format)
	require.NoError(t, cfg.Validate())

	rl := cfg.RateLimiter()
	assert.Equal(t, 10, rl.MaxCalls)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "solana.rpc_url")
	assert.Contains(t, err.Error(), "postgres.dsn")

	cfg.Solana.RPCURL = "http://localhost:8899"
	cfg.UseMemory = true
	cfg.RateLimit.Backend = BackendMemory
	require.NoError(t, cfg.Validate())

	cfg.Wallets.Source = WalletsFile
	assert.Error(t, cfg.Validate())

	cfg.Wallets.File = "wallets.yaml"
	cfg.Enrich.Strategy = "parallel"
	assert.Error(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nLEDGER_TEST_A=one\nLEDGER_TEST_B=\"two\"\nbroken\n"), 0o644))

	t.Setenv("LEDGER_TEST_B", "kept")
	os.Unsetenv("LEDGER_TEST_A")
	t.Cleanup(func() { os.Unsetenv("LEDGER_TEST_A") })

	LoadDotEnv(path)

	assert.Equal(t, "one", os.Getenv("LEDGER_TEST_A"))
	assert.Equal(t, "kept", os.Getenv("LEDGER_TEST_B"))
}
