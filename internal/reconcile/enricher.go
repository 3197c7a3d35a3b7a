package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/joblock"
	"github.com/NargusS/tiltpay-backend/internal/observability"
	"github.com/NargusS/tiltpay-backend/internal/sink"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// ErrNoTransfer is the failure reason stored when a transaction yields nothing.
const ErrNoTransfer = "no meta or could not parse transaction"

// DefaultEnrichBatchSize is the number of indexed rows selected per run.
const DefaultEnrichBatchSize = 50

// Strategy selects how the Enricher fetches transactions.
type Strategy string

const (
	// StrategyBatched issues one batched RPC request per mint group.
	StrategyBatched Strategy = "batched"
	// StrategySequential issues one RPC request per row.
	StrategySequential Strategy = "sequential"
)

// EnricherOptions configures the Enricher.
type EnricherOptions struct {
	BatchSize int      // default DefaultEnrichBatchSize
	Strategy  Strategy // default StrategyBatched

	// Sink receives fetched transfers after they are saved. Optional.
	Sink sink.Sink

	Logger *zap.Logger
}

// EnrichResult summarizes one enricher run.
type EnrichResult struct {
	Skipped    bool // lock held elsewhere
	Selected   int
	Fetched    int
	Failed     int
	SaveErrors int
	Published  int
}

// Enricher fetches and parses indexed rows and moves them to fetched or failed.
type Enricher struct {
	reader ChainReader
	txs    storage.TransactionStore
	locker *joblock.Locker
	opts   EnricherOptions
}

// NewEnricher creates an enricher.
func NewEnricher(reader ChainReader, txs storage.TransactionStore, locker *joblock.Locker, opts EnricherOptions) *Enricher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultEnrichBatchSize
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyBatched
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Enricher{reader: reader, txs: txs, locker: locker, opts: opts}
}

// Run processes one batch under the fetch lock. When the lock is held
// elsewhere the result is marked skipped and the error is nil.
func (e *Enricher) Run(ctx context.Context) (*EnrichResult, error) {
	start := time.Now()
	result := &EnrichResult{}

	ran, err := e.locker.Run(ctx, joblock.FetchTransactions, func(ctx context.Context) error {
		return e.run(ctx, result)
	})
	if !ran {
		result.Skipped = true
		return result, err
	}
	observability.RecordJobRun(joblock.FetchTransactions, time.Since(start), err)
	return result, err
}

func (e *Enricher) run(ctx context.Context, result *EnrichResult) error {
	rows, err := e.txs.ListByStatus(ctx, domain.StatusIndexed, e.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("list indexed transactions: %w", err)
	}
	result.Selected = len(rows)
	if len(rows) == 0 {
		e.opts.Logger.Debug("no indexed transactions")
		return nil
	}

	var fetched []domain.Transfer
	for _, group := range groupByMint(rows) {
		var err error
		switch e.opts.Strategy {
		case StrategySequential:
			err = e.processSequential(ctx, group, result, &fetched)
		default:
			err = e.processBatched(ctx, group, result, &fetched)
		}
		if err != nil {
			e.publish(ctx, fetched, result)
			return err
		}
	}

	e.publish(ctx, fetched, result)
	e.opts.Logger.Info("enrichment complete",
		zap.Int("selected", result.Selected),
		zap.Int("fetched", result.Fetched),
		zap.Int("failed", result.Failed),
		zap.Int("save_errors", result.SaveErrors),
	)
	return nil
}

type mintGroup struct {
	mint string
	rows []*domain.TrackedTransaction
}

// groupByMint keeps the slot order of rows within and across groups.
func groupByMint(rows []*domain.TrackedTransaction) []mintGroup {
	var groups []mintGroup
	index := make(map[string]int)
	for _, row := range rows {
		i, ok := index[row.Mint]
		if !ok {
			i = len(groups)
			index[row.Mint] = i
			groups = append(groups, mintGroup{mint: row.Mint})
		}
		groups[i].rows = append(groups[i].rows, row)
	}
	return groups
}

func (e *Enricher) processBatched(ctx context.Context, group mintGroup, result *EnrichResult, fetched *[]domain.Transfer) error {
	sigs := make([]string, len(group.rows))
	for i, row := range group.rows {
		sigs[i] = row.Signature
	}

	batch, err := e.reader.FetchAndParseBatch(ctx, group.mint, sigs, nil)
	if err != nil {
		// Only cancellation aborts a batch; rows stay indexed for the next run.
		return err
	}

	for _, row := range group.rows {
		if t, ok := batch.Transfers[row.Signature]; ok {
			e.saveFetched(ctx, row, t, result, fetched)
			continue
		}
		reason := ErrNoTransfer
		if err, ok := batch.Errors[row.Signature]; ok {
			reason = err.Error()
		}
		e.saveFailed(ctx, row, reason, result)
	}
	return nil
}

func (e *Enricher) processSequential(ctx context.Context, group mintGroup, result *EnrichResult, fetched *[]domain.Transfer) error {
	for _, row := range group.rows {
		if err := ctx.Err(); err != nil {
			return err
		}

		t, err := e.reader.FetchAndParse(ctx, group.mint, row.Signature, nil)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			e.saveFailed(ctx, row, err.Error(), result)
		case t == nil:
			e.saveFailed(ctx, row, ErrNoTransfer, result)
		default:
			e.saveFetched(ctx, row, t, result, fetched)
		}
	}
	return nil
}

func (e *Enricher) saveFetched(ctx context.Context, row *domain.TrackedTransaction, t *domain.Transfer, result *EnrichResult, fetched *[]domain.Transfer) {
	t.Signature = row.Signature
	t.Mint = row.Mint
	if err := e.txs.MarkFetched(ctx, row.Signature, t); err != nil {
		result.SaveErrors++
		e.opts.Logger.Error("failed to save fetched transaction",
			zap.String("signature", row.Signature),
			zap.Error(err),
		)
		return
	}
	result.Fetched++
	observability.RecordFetched(1)
	*fetched = append(*fetched, *t)
}

func (e *Enricher) saveFailed(ctx context.Context, row *domain.TrackedTransaction, reason string, result *EnrichResult) {
	if err := e.txs.MarkFailed(ctx, row.Signature, reason); err != nil {
		result.SaveErrors++
		e.opts.Logger.Error("failed to save failed transaction",
			zap.String("signature", row.Signature),
			zap.Error(err),
		)
		return
	}
	result.Failed++
	observability.RecordFailed(1)
	e.opts.Logger.Warn("transaction failed",
		zap.String("signature", row.Signature),
		zap.String("reason", reason),
	)
}

// publish forwards fetched transfers to the sink. Errors are logged only.
func (e *Enricher) publish(ctx context.Context, transfers []domain.Transfer, result *EnrichResult) {
	if e.opts.Sink == nil || len(transfers) == 0 {
		return
	}
	if err := e.opts.Sink.Publish(ctx, transfers); err != nil {
		e.opts.Logger.Warn("failed to publish transfers",
			zap.String("sink", e.opts.Sink.Name()),
			zap.Int("count", len(transfers)),
			zap.Error(err),
		)
		return
	}
	result.Published = len(transfers)
}
