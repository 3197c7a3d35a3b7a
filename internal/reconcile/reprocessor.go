package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/joblock"
	"github.com/NargusS/tiltpay-backend/internal/observability"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// Filter selects failed rows to retry. Empty Signatures selects any failed
// row; Limit <= 0 means no limit.
type Filter struct {
	Signatures []string
	Limit      int
}

// ReprocessResult summarizes one reprocessor run.
type ReprocessResult struct {
	Skipped bool
	Reset   int
}

// Reprocessor moves failed rows back to indexed so the next enricher run
// retries them. It is only run on demand.
type Reprocessor struct {
	txs    storage.TransactionStore
	locker *joblock.Locker
	logger *zap.Logger
}

// NewReprocessor creates a reprocessor.
func NewReprocessor(txs storage.TransactionStore, locker *joblock.Locker, logger *zap.Logger) *Reprocessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reprocessor{txs: txs, locker: locker, logger: logger}
}

// Run resets the rows selected by filter.
func (r *Reprocessor) Run(ctx context.Context, filter Filter) (*ReprocessResult, error) {
	start := time.Now()
	result := &ReprocessResult{}

	ran, err := r.locker.Run(ctx, joblock.ReprocessFailed, func(ctx context.Context) error {
		n, err := r.txs.ResetFailed(ctx, filter.Signatures, filter.Limit)
		if err != nil {
			return fmt.Errorf("reset failed transactions: %w", err)
		}
		result.Reset = n
		observability.RecordReset(n)
		r.logger.Info("failed transactions reset",
			zap.Int("reset", n),
			zap.Int("requested", len(filter.Signatures)),
		)
		return nil
	})
	if !ran {
		result.Skipped = true
		return result, err
	}
	observability.RecordJobRun(joblock.ReprocessFailed, time.Since(start), err)
	return result, err
}
