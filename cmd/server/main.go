// Package main runs the long-lived reconciliation service:
// - Indexer and enricher on fixed intervals
// - Watcher (optional): live signatures over WebSocket
// - History API, /status and Prometheus metrics over HTTP
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/app"
	"github.com/NargusS/tiltpay-backend/internal/config"
	"github.com/NargusS/tiltpay-backend/internal/history"
	"github.com/NargusS/tiltpay-backend/internal/logger"
)

// Server holds the scheduled jobs and their state.
type Server struct {
	app    *app.App
	logger *zap.Logger
	watch  bool

	mu        sync.Mutex
	started   time.Time
	lastIndex time.Time
	lastFetch time.Time
	indexRuns int
	fetchRuns int
	indexErr  string
	fetchErr  string
}

func main() {
	os.Exit(run())
}

// run returns the process exit code once every deferred cleanup has run.
func run() int {
	config.LoadDotEnv(".env")

	configPath := flag.String("config", "", "Config file (default ./ledgersync.yaml when present)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	httpAddr := flag.String("http-addr", "", "History API address (overrides http_addr)")
	watch := flag.Bool("watch", false, "Also index signatures live over WebSocket")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *useMemory {
		cfg.UseMemory = true
		cfg.RateLimit.Backend = config.BackendMemory
		cfg.Lock.Backend = config.BackendMemory
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		return 1
	}

	log, err := logger.New("server", cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", zap.Error(err))
		return 1
	}
	defer a.Close()

	server := &Server{app: a, logger: log, watch: *watch, started: time.Now()}

	// Channel to signal completion
	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		select {
		case sig := <-sigCh:
			log.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return 1
	}

	log.Info("shutdown complete")
	return 0
}

// Run starts the HTTP server and the schedulers and blocks until ctx is
// cancelled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.app.Config
	s.logger.Info("starting server",
		zap.Duration("index_interval", cfg.Index.Interval),
		zap.Duration("fetch_interval", cfg.Enrich.Interval),
		zap.Bool("watch", s.watch),
	)

	errCh := make(chan error, 4)

	go func() {
		if err := s.serveHTTP(ctx, cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	go func() {
		err := s.schedule(ctx, "index", cfg.Index.Interval, s.runIndex)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("index scheduler: %w", err)
		}
	}()

	go func() {
		err := s.schedule(ctx, "fetch", cfg.Enrich.Interval, s.runFetch)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("fetch scheduler: %w", err)
		}
	}()

	if s.watch {
		go func() {
			err := s.runWatcher(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("watcher: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// schedule runs job immediately and then on every tick.
func (s *Server) schedule(ctx context.Context, name string, interval time.Duration, job func(context.Context)) error {
	if interval <= 0 {
		s.logger.Info("scheduler disabled", zap.String("job", name))
		<-ctx.Done()
		return ctx.Err()
	}

	job(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			job(ctx)
		}
	}
}

func (s *Server) runIndex(ctx context.Context) {
	res, err := s.app.Indexer().Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastIndex = time.Now()
	s.indexRuns++
	s.indexErr = ""
	if err != nil {
		s.indexErr = err.Error()
		s.logger.Error("index run failed", zap.Error(err))
		return
	}
	if !res.Skipped {
		s.logger.Info("index run completed",
			zap.Int("inserted", res.Inserted),
			zap.Int("duplicates", res.Duplicates),
			zap.Int("errors", res.Errors),
		)
	}
}

func (s *Server) runFetch(ctx context.Context) {
	res, err := s.app.Enricher().Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFetch = time.Now()
	s.fetchRuns++
	s.fetchErr = ""
	if err != nil {
		s.fetchErr = err.Error()
		s.logger.Error("fetch run failed", zap.Error(err))
		return
	}
	if !res.Skipped {
		s.logger.Info("fetch run completed",
			zap.Int("fetched", res.Fetched),
			zap.Int("failed", res.Failed),
		)
	}
}

func (s *Server) runWatcher(ctx context.Context) error {
	w, closeWS, err := s.app.Watcher(ctx)
	if err != nil {
		return err
	}
	defer closeWS()

	n, err := w.Run(ctx)
	s.logger.Info("watcher stopped", zap.Int("inserted", n))
	return err
}

// serveHTTP serves the history API until ctx is cancelled.
func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	api := history.NewServer(s.app.History(), s.logger.Named("http"))
	api.HandleStatus(func() any { return s.status() })

	srv := &http.Server{Addr: addr, Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StatusResponse is the JSON body of /status.
type StatusResponse struct {
	Status    string    `json:"status"`
	Uptime    string    `json:"uptime"`
	LastIndex time.Time `json:"last_index_run,omitempty"`
	LastFetch time.Time `json:"last_fetch_run,omitempty"`
	IndexRuns int       `json:"index_runs"`
	FetchRuns int       `json:"fetch_runs"`
	IndexErr  string    `json:"last_index_error,omitempty"`
	FetchErr  string    `json:"last_fetch_error,omitempty"`
	Watching  bool      `json:"watching"`
}

func (s *Server) status() StatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StatusResponse{
		Status:    "running",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		LastIndex: s.lastIndex,
		LastFetch: s.lastFetch,
		IndexRuns: s.indexRuns,
		FetchRuns: s.fetchRuns,
		IndexErr:  s.indexErr,
		FetchErr:  s.fetchErr,
		Watching:  s.watch,
	}
}
