// Package app wires configuration into stores, clients and jobs.
package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/chainreader"
	"github.com/NargusS/tiltpay-backend/internal/config"
	"github.com/NargusS/tiltpay-backend/internal/history"
	"github.com/NargusS/tiltpay-backend/internal/joblock"
	"github.com/NargusS/tiltpay-backend/internal/ratelimit"
	"github.com/NargusS/tiltpay-backend/internal/reconcile"
	"github.com/NargusS/tiltpay-backend/internal/sink"
	"github.com/NargusS/tiltpay-backend/internal/sink/kafka"
	"github.com/NargusS/tiltpay-backend/internal/solana"
	"github.com/NargusS/tiltpay-backend/internal/storage"
	chstore "github.com/NargusS/tiltpay-backend/internal/storage/clickhouse"
	"github.com/NargusS/tiltpay-backend/internal/storage/memory"
	"github.com/NargusS/tiltpay-backend/internal/storage/migrations"
	pgstore "github.com/NargusS/tiltpay-backend/internal/storage/postgres"
	redisstore "github.com/NargusS/tiltpay-backend/internal/storage/redis"
	"github.com/NargusS/tiltpay-backend/internal/storage/walletfile"
)

// Stores groups the persistence dependencies of the jobs.
type Stores struct {
	Transactions storage.TransactionStore
	Locks        storage.JobLockStore
	Window       storage.WindowStore
	Wallets      storage.WalletDirectory
}

// App holds the wired components of one process.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Stores  Stores
	RPC     solana.RPCClient
	Limiter *ratelimit.Limiter
	Reader  *chainreader.Reader
	Locker  *joblock.Locker
	Sink    sink.Sink // nil when no sink is configured

	pool    *pgstore.Pool
	cleanup []func()
}

// Option customizes New.
type Option func(*options)

type options struct {
	skipSinks bool
}

// WithoutSinks skips connecting the transfer sinks. Used by commands that
// never publish, such as migrate, which runs before the sink schema exists.
func WithoutSinks() Option {
	return func(o *options) { o.skipSinks = true }
}

// New connects every backend selected by cfg. Close releases them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{Config: cfg, Logger: logger}
	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if !o.skipSinks {
		if err := a.openSinks(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	// The reader retries per attempt so every HTTP request takes a limiter slot.
	a.RPC = solana.NewHTTPClient(cfg.Solana.RPCURL,
		solana.WithTimeout(cfg.Solana.Timeout),
		solana.WithMaxRetries(0),
		solana.WithCommitment(cfg.Solana.Commitment),
	)
	a.Limiter = ratelimit.New(a.Stores.Window, cfg.RateLimiter(),
		ratelimit.WithLogger(logger.Named("ratelimit")))
	retries := cfg.Solana.MaxRetries
	if retries <= 0 {
		retries = -1
	}
	a.Reader = chainreader.New(a.RPC, a.Limiter, chainreader.Config{
		CallTimeout:  cfg.Enrich.CallTimeout,
		MaxBatchSize: cfg.Enrich.MaxBatchSize,
		MaxRetries:   retries,
	}, logger.Named("chainreader"))
	a.Locker = joblock.New(a.Stores.Locks, joblock.Options{
		StaleAfter: cfg.Lock.StaleAfter,
		Logger:     logger.Named("joblock"),
	})
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config
	if cfg.UseMemory {
		a.Logger.Info("using in-memory storage")
		a.Stores = Stores{
			Transactions: memory.NewTransactionStore(),
			Locks:        memory.NewJobLockStore(),
			Window:       memory.NewWindowStore(),
			Wallets:      memory.NewWalletStore(),
		}
		return a.openWalletFile()
	}

	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN, pgstore.PoolOptions{MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return err
	}
	a.pool = pool
	a.cleanup = append(a.cleanup, pool.Close)

	a.Stores.Transactions = pgstore.NewTransactionStore(pool)
	a.Stores.Wallets = pgstore.NewWalletStore(pool)

	var rdb *goredis.Client
	if cfg.RateLimit.Backend == config.BackendRedis || cfg.Lock.Backend == config.BackendRedis {
		rdb, err = redisstore.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		a.cleanup = append(a.cleanup, func() { rdb.Close() })
	}

	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		a.Stores.Window = redisstore.NewWindowStore(rdb, cfg.Redis.Prefix, 2*cfg.RateLimit.Window)
	case config.BackendMemory:
		a.Stores.Window = memory.NewWindowStore()
	default:
		a.Stores.Window = pgstore.NewWindowStore(pool)
	}

	switch cfg.Lock.Backend {
	case config.BackendRedis:
		a.Stores.Locks = redisstore.NewJobLockStore(rdb, cfg.Redis.Prefix)
	case config.BackendMemory:
		a.Stores.Locks = memory.NewJobLockStore()
	default:
		a.Stores.Locks = pgstore.NewJobLockStore(pool)
	}

	return a.openWalletFile()
}

// openWalletFile replaces the wallet directory when the file source is selected.
func (a *App) openWalletFile() error {
	if a.Config.Wallets.Source != config.WalletsFile {
		return nil
	}
	dir, err := walletfile.Load(a.Config.Wallets.File)
	if err != nil {
		return err
	}
	a.Stores.Wallets = dir
	return nil
}

func (a *App) openSinks(ctx context.Context) error {
	var sinks []sink.Sink

	if dsn := a.Config.ClickHouse.DSN; dsn != "" && !a.Config.UseMemory {
		conn, err := chstore.NewConn(ctx, dsn)
		if err != nil {
			return err
		}
		sinks = append(sinks, chstore.NewTransferStore(conn))
	}
	if brokers := a.Config.Kafka.Brokers; brokers != "" {
		k, err := kafka.New(kafka.Options{
			Brokers: brokers,
			Topic:   a.Config.Kafka.Topic,
			Logger:  a.Logger.Named("kafka"),
		})
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return err
		}
		sinks = append(sinks, k)
	}

	if len(sinks) == 0 {
		return nil
	}
	multi := sink.NewMulti(a.Logger.Named("sink"), sinks...)
	a.Sink = multi
	a.cleanup = append(a.cleanup, func() {
		if err := multi.Close(); err != nil {
			a.Logger.Warn("failed to close sinks", zap.Error(err))
		}
	})
	return nil
}

// Migrate applies the Postgres schema and, when configured, the ClickHouse
// schema. Returns the Postgres versions applied by this call.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	if a.pool == nil {
		return nil, fmt.Errorf("migrations need postgres storage")
	}
	applied, err := migrations.RunPostgresMigrations(ctx, a.pool)
	if err != nil {
		return nil, err
	}
	if dsn := a.Config.ClickHouse.DSN; dsn != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
		if err != nil {
			return applied, err
		}
		conn.Close()
	}
	return applied, nil
}

// Close releases every backend in reverse order of opening.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// Indexer builds the signature indexer from configuration.
func (a *App) Indexer() *reconcile.Indexer {
	return reconcile.NewIndexer(a.Reader, a.Stores.Wallets, a.Stores.Transactions, a.Locker, reconcile.IndexerOptions{
		Mint:        a.Config.Mint,
		PageSize:    a.Config.Index.PageSize,
		Backfill:    a.Config.Index.Backfill,
		MaxPages:    a.Config.Index.MaxPages,
		StopAtKnown: a.Config.Index.StopAtKnown,
		Logger:      a.Logger.Named("indexer"),
	})
}

// Enricher builds the transaction enricher from configuration.
func (a *App) Enricher() *reconcile.Enricher {
	return reconcile.NewEnricher(a.Reader, a.Stores.Transactions, a.Locker, reconcile.EnricherOptions{
		BatchSize: a.Config.Enrich.BatchSize,
		Strategy:  reconcile.Strategy(a.Config.Enrich.Strategy),
		Sink:      a.Sink,
		Logger:    a.Logger.Named("enricher"),
	})
}

// Reprocessor builds the failed-row reprocessor.
func (a *App) Reprocessor() *reconcile.Reprocessor {
	return reconcile.NewReprocessor(a.Stores.Transactions, a.Locker, a.Logger.Named("reprocessor"))
}

// TokenAccountUpdater builds the wallet token-account updater.
func (a *App) TokenAccountUpdater() *reconcile.TokenAccountUpdater {
	return reconcile.NewTokenAccountUpdater(a.Reader, a.Stores.Wallets, a.Locker, a.Config.Mint, a.Logger.Named("token-accounts"))
}

// Watcher connects the WebSocket client and builds the live watcher. The
// returned close function shuts the connection down.
func (a *App) Watcher(ctx context.Context) (*reconcile.Watcher, func() error, error) {
	if a.Config.Solana.WSURL == "" {
		return nil, nil, fmt.Errorf("solana.ws_url (SOLANA_WS_URL) is required for watch")
	}
	wsCfg := solana.DefaultWSConfig()
	wsCfg.Commitment = a.Config.Solana.Commitment
	wsCfg.Logger = a.Logger.Named("ws")

	ws, err := solana.NewWSClient(ctx, a.Config.Solana.WSURL, &wsCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect websocket: %w", err)
	}
	w := reconcile.NewWatcher(ws, a.Stores.Wallets, a.Stores.Transactions, reconcile.WatcherOptions{
		Mint:   a.Config.Mint,
		Logger: a.Logger.Named("watcher"),
	})
	return w, ws.Close, nil
}

// History builds the history service with on-chain reads enabled.
func (a *App) History() *history.Service {
	return history.NewService(a.Stores.Transactions, a.Reader, a.Config.Mint)
}
