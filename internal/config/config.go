// Package config loads process configuration from an optional YAML file and
// the environment. Environment variables use the upper-cased key path with
// dots replaced by underscores, e.g. solana.rpc_url -> SOLANA_RPC_URL.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/NargusS/tiltpay-backend/internal/logger"
	"github.com/NargusS/tiltpay-backend/internal/ratelimit"
)

// DefaultUSDCMint is the mainnet USDC mint.
const DefaultUSDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// Backends of the rate limiter window and the job locks.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Wallet directory sources.
const (
	WalletsPostgres = "postgres"
	WalletsFile     = "file"
)

type SolanaConfig struct {
	RPCURL     string        `mapstructure:"rpc_url"`
	WSURL      string        `mapstructure:"ws_url"`
	Commitment string        `mapstructure:"commitment"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// ClickHouseConfig enables the analytics mirror. The database is taken from
// the DSN path.
type ClickHouseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

type RateLimitConfig struct {
	Backend        string        `mapstructure:"backend"`
	Window         time.Duration `mapstructure:"window"`
	MaxCalls       int           `mapstructure:"max_calls"`
	SafetyMargin   time.Duration `mapstructure:"safety_margin"`
	FallbackMargin time.Duration `mapstructure:"fallback_margin"`
}

type IndexConfig struct {
	PageSize    int           `mapstructure:"page_size"`
	Interval    time.Duration `mapstructure:"interval"`
	Backfill    bool          `mapstructure:"backfill"`
	MaxPages    int           `mapstructure:"max_pages"`
	StopAtKnown bool          `mapstructure:"stop_at_known"`
}

type EnrichConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	Strategy     string        `mapstructure:"strategy"`
	Interval     time.Duration `mapstructure:"interval"`
	MaxBatchSize int           `mapstructure:"max_rpc_batch"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
}

type LockConfig struct {
	Backend    string        `mapstructure:"backend"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type WalletsConfig struct {
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
}

// Config is the full process configuration.
type Config struct {
	Mint        string           `mapstructure:"usdc_mint_address"`
	UseMemory   bool             `mapstructure:"use_memory"`
	Solana      SolanaConfig     `mapstructure:"solana"`
	Postgres    PostgresConfig   `mapstructure:"postgres"`
	Redis       RedisConfig      `mapstructure:"redis"`
	ClickHouse  ClickHouseConfig `mapstructure:"clickhouse"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	RateLimit   RateLimitConfig  `mapstructure:"rate_limit"`
	Index       IndexConfig      `mapstructure:"index"`
	Enrich      EnrichConfig     `mapstructure:"enrich"`
	Lock        LockConfig       `mapstructure:"lock"`
	Wallets     WalletsConfig    `mapstructure:"wallets"`
	Log         logger.Config    `mapstructure:"log"`
	HTTPAddr    string           `mapstructure:"http_addr"`
	MetricsAddr string           `mapstructure:"metrics_addr"`
}

func setDefaults(v *viper.Viper) {
	rl := ratelimit.DefaultConfig()

	defaults := map[string]any{
		"usdc_mint_address": DefaultUSDCMint,
		"use_memory":        false,

		"solana.rpc_url":     "",
		"solana.ws_url":      "",
		"solana.commitment":  "confirmed",
		"solana.timeout":     30 * time.Second,
		"solana.max_retries": 3,

		"postgres.dsn":       "",
		"postgres.max_conns": 10,

		"redis.url":    "",
		"redis.prefix": "ledgersync",

		"clickhouse.dsn": "",

		"kafka.brokers": "",
		"kafka.topic":   "usdc-transfers",

		"rate_limit.backend":         BackendPostgres,
		"rate_limit.window":          rl.Window,
		"rate_limit.max_calls":       rl.MaxCalls,
		"rate_limit.safety_margin":   rl.SafetyMargin,
		"rate_limit.fallback_margin": rl.FallbackMargin,

		"index.page_size":     1000,
		"index.interval":      5 * time.Minute,
		"index.backfill":      false,
		"index.max_pages":     0,
		"index.stop_at_known": true,

		"enrich.batch_size":    50,
		"enrich.strategy":      "batched",
		"enrich.interval":      time.Minute,
		"enrich.max_rpc_batch": 50,
		"enrich.call_timeout":  30 * time.Second,

		"lock.backend":     BackendPostgres,
		"lock.stale_after": 30 * time.Minute,

		"wallets.source": WalletsPostgres,
		"wallets.file":   "",

		"log.level":        "info",
		"log.format":       "console",
		"log.dir":          "",
		"log.max_size_mb":  100,
		"log.max_backups":  7,
		"log.max_age_days": 30,
		"log.compress":     false,

		"http_addr":    ":8080",
		"metrics_addr": "",
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Load reads path (optional) and the environment. With an empty path a
// ledgersync.yaml in the working directory is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ledgersync")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// RateLimiter converts the rate limit section.
func (c *Config) RateLimiter() ratelimit.Config {
	return ratelimit.Config{
		Window:         c.RateLimit.Window,
		MaxCalls:       c.RateLimit.MaxCalls,
		SafetyMargin:   c.RateLimit.SafetyMargin,
		FallbackMargin: c.RateLimit.FallbackMargin,
	}
}

// Validate checks the settings needed by every command.
func (c *Config) Validate() error {
	var errs []error
	if c.Solana.RPCURL == "" {
		errs = append(errs, errors.New("solana.rpc_url (SOLANA_RPC_URL) is required"))
	}
	if c.Mint == "" {
		errs = append(errs, errors.New("usdc_mint_address is required"))
	}
	if !c.UseMemory && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn (POSTGRES_DSN) is required unless use_memory is set"))
	}

	for key, backend := range map[string]string{"rate_limit.backend": c.RateLimit.Backend, "lock.backend": c.Lock.Backend} {
		switch backend {
		case BackendPostgres, BackendMemory:
		case BackendRedis:
			if c.Redis.URL == "" {
				errs = append(errs, fmt.Errorf("redis.url is required when %s is redis", key))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown %s %q", key, backend))
		}
	}
	if err := c.RateLimiter().Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Enrich.Strategy {
	case "batched", "sequential":
	default:
		errs = append(errs, fmt.Errorf("unknown enrich.strategy %q", c.Enrich.Strategy))
	}

	switch c.Wallets.Source {
	case WalletsPostgres:
	case WalletsFile:
		if c.Wallets.File == "" {
			errs = append(errs, errors.New("wallets.file is required for the file wallet source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown wallets.source %q", c.Wallets.Source))
	}
	return errors.Join(errs...)
}

// LoadDotEnv exports KEY=VALUE lines of path into the environment without
// overriding variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
}
