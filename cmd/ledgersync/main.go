// Command ledgersync indexes, fetches and reconciles USDC transfers of the
// custodial wallets against the Solana chain.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/app"
	"github.com/NargusS/tiltpay-backend/internal/config"
	"github.com/NargusS/tiltpay-backend/internal/logger"
	"github.com/NargusS/tiltpay-backend/internal/observability"
)

var Version = "dev"

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath  string
	envFile     string
	useMemory   bool
	metricsAddr string
	logLevel    string
}

func main() {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:           "ledgersync",
		Short:         "Reconcile custodial USDC transfers with the Solana chain",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "config file (default ./ledgersync.yaml when present)")
	flags.StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.BoolVar(&g.useMemory, "use-memory", false, "use in-memory storage instead of PostgreSQL")
	flags.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	flags.StringVar(&g.logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(indexCmd(g))
	rootCmd.AddCommand(fetchCmd(g))
	rootCmd.AddCommand(reprocessCmd(g))
	rootCmd.AddCommand(unlockCmd(g))
	rootCmd.AddCommand(resolveTokenAccountsCmd(g))
	rootCmd.AddCommand(watchCmd(g))
	rootCmd.AddCommand(historyCmd(g))
	rootCmd.AddCommand(migrateCmd(g))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the persistent flags.
func (g *globals) loadConfig() (*config.Config, error) {
	config.LoadDotEnv(g.envFile)

	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.useMemory {
		cfg.UseMemory = true
		cfg.RateLimit.Backend = config.BackendMemory
		cfg.Lock.Backend = config.BackendMemory
	}
	if g.metricsAddr != "" {
		cfg.MetricsAddr = g.metricsAddr
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// setup builds the application for one command. The returned context is
// cancelled on SIGINT/SIGTERM; a second signal exits immediately.
func (g *globals) setup(name string, opts ...app.Option) (context.Context, *app.App, func(), error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	log, err := logger.New(name, cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopSignals := handleSignals(cancel, log)

	a, err := app.New(ctx, cfg, log, opts...)
	if err != nil {
		stopSignals()
		cancel()
		_ = log.Sync()
		return nil, nil, nil, err
	}

	stopMetrics := startMetricsServer(cfg.MetricsAddr, log)

	cleanup := func() {
		stopMetrics()
		a.Close()
		stopSignals()
		cancel()
		_ = log.Sync()
	}
	return ctx, a, cleanup, nil
}

func handleSignals(cancel context.CancelFunc, log *zap.Logger) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			log.Warn("received second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func startMetricsServer(addr string, log *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
