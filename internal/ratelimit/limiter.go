// Package ratelimit throttles outbound Solana RPC calls with a sliding window
// whose state lives in a storage.WindowStore, so several processes can share it.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/observability"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// Config defines the sliding window.
type Config struct {
	Window         time.Duration // length of the sliding window
	MaxCalls       int           // calls allowed per window
	SafetyMargin   time.Duration // added to computed waits
	FallbackMargin time.Duration // added to the fixed delay used when the store fails
}

// DefaultConfig returns the window tuned for public mainnet RPC endpoints.
func DefaultConfig() Config {
	return Config{
		Window:         10 * time.Second,
		MaxCalls:       30,
		SafetyMargin:   200 * time.Millisecond,
		FallbackMargin: 50 * time.Millisecond,
	}
}

// Validate checks the window parameters.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %v", c.Window)
	}
	if c.MaxCalls <= 0 {
		return fmt.Errorf("rate limit max calls must be positive, got %d", c.MaxCalls)
	}
	if c.SafetyMargin < 0 || c.FallbackMargin < 0 {
		return fmt.Errorf("rate limit margins must not be negative")
	}
	return nil
}

// FallbackDelay is the fixed pause used when the window store is unavailable:
// ceil(Window/MaxCalls) in whole milliseconds plus FallbackMargin.
func (c Config) FallbackDelay() time.Duration {
	windowMs := c.Window.Milliseconds()
	n := int64(c.MaxCalls)
	perCall := (windowMs + n - 1) / n
	return time.Duration(perCall)*time.Millisecond + c.FallbackMargin
}

// Acquisition describes one granted call.
type Acquisition struct {
	Count  int           // calls in the window including this one, 0 after a fallback
	Waited time.Duration // total time spent blocked
}

// Limiter grants RPC calls within the configured window.
type Limiter struct {
	store  storage.WindowStore
	config Config
	logger *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// queues this process's waiters so only one of them polls the store
	mu sync.Mutex
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithClock replaces time.Now and the context-aware sleep. Used in tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		l.now = now
		l.sleep = sleep
	}
}

// New creates a Limiter. Invalid config values are replaced by defaults.
func New(store storage.WindowStore, config Config, opts ...Option) *Limiter {
	if config.Validate() != nil {
		config = DefaultConfig()
	}

	l := &Limiter{
		store:  store,
		config: config,
		logger: zap.NewNop(),
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the active configuration.
func (l *Limiter) Config() Config {
	return l.config
}

// Acquire blocks until a call fits in the window, then records it. The check
// and the record are one store operation, so limiters sharing a store never
// admit more than MaxCalls per window between them.
// Store failures degrade to FallbackDelay and never fail the call.
// Only context cancellation is returned as an error.
func (l *Limiter) Acquire(ctx context.Context) (Acquisition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var waited time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return Acquisition{Waited: waited}, err
		}

		now := l.now()
		nowMs := now.UnixMilli()
		windowStart := nowMs - l.config.Window.Milliseconds()

		// the timestamp recorded is the one after any wait
		count, oldestMs, ok, err := l.store.TryRecord(ctx, nowMs, windowStart, l.config.MaxCalls)
		if err != nil {
			return l.fallback(ctx, waited, err)
		}
		if ok {
			return Acquisition{Count: count, Waited: waited}, nil
		}

		wait := l.config.Window - time.Duration(nowMs-oldestMs)*time.Millisecond + l.config.SafetyMargin
		if wait < l.config.SafetyMargin {
			wait = l.config.SafetyMargin
		}

		l.logger.Debug("rate limit reached, waiting",
			zap.Int("count", count),
			zap.Duration("wait", wait))
		observability.RecordRateLimitWait(wait)

		if err := l.sleep(ctx, wait); err != nil {
			return Acquisition{Waited: waited}, err
		}
		waited += wait
	}
}

func (l *Limiter) fallback(ctx context.Context, waited time.Duration, cause error) (Acquisition, error) {
	if err := ctx.Err(); err != nil {
		return Acquisition{Waited: waited}, err
	}

	delay := l.config.FallbackDelay()
	l.logger.Warn("rate limiter store unavailable, using fixed delay",
		zap.Duration("delay", delay),
		zap.Error(cause))
	observability.RecordRateLimitFallback()

	if err := l.sleep(ctx, delay); err != nil {
		return Acquisition{Waited: waited}, err
	}
	return Acquisition{Count: 0, Waited: waited + delay}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
