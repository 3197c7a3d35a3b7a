// Package joblock provides named, process-external mutual exclusion for jobs.
package joblock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/observability"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// Well-known lock names.
const (
	FetchTransactions   = "fetch_solana_transactions"
	ReprocessFailed     = "reprocess_failed_transactions"
	IndexSignatures     = "index_solana_signatures"
	UpdateTokenAccounts = "update_wallet_token_accounts"
)

const releaseTimeout = 10 * time.Second

// Options configures a Locker.
type Options struct {
	// StaleAfter reclaims a lock held longer than this before acquiring.
	// Zero disables reclaim.
	StaleAfter time.Duration
	// Holder identifies this process in the lock row. Defaults to a random UUID.
	Holder string
	Logger *zap.Logger
}

// Locker acquires and releases named locks in a JobLockStore.
type Locker struct {
	store storage.JobLockStore
	opts  Options
	now   func() time.Time
}

// New creates a Locker.
func New(store storage.JobLockStore, opts Options) *Locker {
	if opts.Holder == "" {
		opts.Holder = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Locker{store: store, opts: opts, now: time.Now}
}

// Holder returns the id written into acquired locks.
func (l *Locker) Holder() string {
	return l.opts.Holder
}

// TryAcquire claims name and reports whether it succeeded.
// Any store error counts as not acquired.
func (l *Locker) TryAcquire(ctx context.Context, name string) bool {
	now := l.now().UTC()

	if l.opts.StaleAfter > 0 {
		removed, err := l.store.DeleteIfOlder(ctx, name, now.Add(-l.opts.StaleAfter))
		if err != nil {
			l.opts.Logger.Warn("stale lock check failed", zap.String("lock", name), zap.Error(err))
		} else if removed {
			l.opts.Logger.Warn("reclaimed stale lock",
				zap.String("lock", name),
				zap.Duration("stale_after", l.opts.StaleAfter))
		}
	}

	err := l.store.Insert(ctx, &domain.JobLock{Name: name, AcquiredAt: now, Holder: l.opts.Holder})
	if err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			l.opts.Logger.Warn("lock acquire failed", zap.String("lock", name), zap.Error(err))
		}
		return false
	}
	return true
}

// Release deletes the lock regardless of holder. It runs on a context detached
// from ctx's cancellation so a cancelled job still frees its lock.
func (l *Locker) Release(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := l.store.Delete(ctx, name); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Run executes fn while holding name. When the lock is held elsewhere fn is not
// called and ran is false. The lock is released on every exit, panics included.
func (l *Locker) Run(ctx context.Context, name string, fn func(ctx context.Context) error) (ran bool, err error) {
	if !l.TryAcquire(ctx, name) {
		observability.RecordLockContention(name)
		l.opts.Logger.Info("job already running, skipping", zap.String("lock", name))
		return false, nil
	}

	defer func() {
		if relErr := l.Release(ctx, name); relErr != nil {
			l.opts.Logger.Error("failed to release lock", zap.String("lock", name), zap.Error(relErr))
			if err == nil {
				err = relErr
			}
		}
	}()

	return true, fn(ctx)
}
