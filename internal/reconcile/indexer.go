package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/chainreader"
	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/joblock"
	"github.com/NargusS/tiltpay-backend/internal/observability"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// DefaultIndexPageSize is the signature page size per wallet.
const DefaultIndexPageSize = 1000

// IndexerOptions configures the Indexer.
type IndexerOptions struct {
	Mint     string
	PageSize int // default DefaultIndexPageSize

	// Backfill pages backwards with before until the chain returns a short page.
	Backfill bool
	// MaxPages bounds backfill per wallet; 0 means unbounded.
	MaxPages int
	// StopAtKnown ends backfill at the first page containing a known signature.
	StopAtKnown bool

	Logger *zap.Logger
}

// IndexResult summarizes one indexer run.
type IndexResult struct {
	Skipped    bool // lock held elsewhere
	Wallets    int  // wallets scanned
	NoAccount  int  // wallets without a token account
	Discovered int  // signatures returned by the chain
	Inserted   int
	Duplicates int
	Errors     int // wallets that failed
}

// Indexer discovers signatures of tracked token accounts and stores them as
// indexed stubs. Re-running over the same signatures inserts nothing.
type Indexer struct {
	reader  ChainReader
	wallets storage.WalletDirectory
	txs     storage.TransactionStore
	locker  *joblock.Locker
	opts    IndexerOptions
}

// NewIndexer creates an indexer.
func NewIndexer(reader ChainReader, wallets storage.WalletDirectory, txs storage.TransactionStore, locker *joblock.Locker, opts IndexerOptions) *Indexer {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultIndexPageSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Indexer{reader: reader, wallets: wallets, txs: txs, locker: locker, opts: opts}
}

// Run indexes every primary wallet once.
func (ix *Indexer) Run(ctx context.Context) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{}

	ran, err := ix.locker.Run(ctx, joblock.IndexSignatures, func(ctx context.Context) error {
		return ix.run(ctx, result)
	})
	if !ran {
		result.Skipped = true
		return result, err
	}
	observability.RecordJobRun(joblock.IndexSignatures, time.Since(start), err)
	return result, err
}

func (ix *Indexer) run(ctx context.Context, result *IndexResult) error {
	wallets, err := ix.wallets.ListPrimary(ctx)
	if err != nil {
		return fmt.Errorf("list wallets: %w", err)
	}

	for _, w := range wallets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !w.HasTokenAccount() {
			result.NoAccount++
			ix.opts.Logger.Info("wallet has no token account, skipping",
				zap.Int64("wallet_id", w.ID),
				zap.String("address", w.Address),
			)
			continue
		}

		result.Wallets++
		discovered, inserted, err := ix.indexWallet(ctx, w.USDCTokenAccountAddress)
		result.Discovered += discovered
		result.Inserted += inserted
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Errors++
			observability.RecordWalletError(joblock.IndexSignatures)
			ix.opts.Logger.Error("failed to index wallet",
				zap.Int64("wallet_id", w.ID),
				zap.String("token_account", w.USDCTokenAccountAddress),
				zap.Error(err),
			)
		}
	}

	result.Duplicates = result.Discovered - result.Inserted
	observability.RecordIndexed(result.Inserted)
	ix.opts.Logger.Info("indexing complete",
		zap.Int("wallets", result.Wallets),
		zap.Int("discovered", result.Discovered),
		zap.Int("inserted", result.Inserted),
		zap.Int("errors", result.Errors),
	)
	return nil
}

// indexWallet pages through one token account's signatures. Partial counts are
// returned together with an error.
func (ix *Indexer) indexWallet(ctx context.Context, tokenAccount string) (discovered, inserted int, err error) {
	before := ""
	for page := 1; ; page++ {
		sigs, err := ix.reader.ListSignatures(ctx, tokenAccount, chainreader.ListOptions{
			Limit:  ix.opts.PageSize,
			Before: before,
		})
		if err != nil {
			return discovered, inserted, err
		}
		if len(sigs) == 0 {
			return discovered, inserted, nil
		}

		rows := make([]*domain.TrackedTransaction, len(sigs))
		for i, s := range sigs {
			rows[i] = &domain.TrackedTransaction{
				Signature: s.Signature,
				Mint:      ix.opts.Mint,
				Slot:      s.Slot,
				BlockTime: s.BlockTime,
				Status:    domain.StatusIndexed,
			}
		}
		n, err := ix.txs.InsertIndexed(ctx, rows)
		if err != nil {
			return discovered, inserted, fmt.Errorf("insert signatures: %w", err)
		}
		discovered += len(sigs)
		inserted += n

		switch {
		case !ix.opts.Backfill:
			return discovered, inserted, nil
		case len(sigs) < ix.opts.PageSize:
			return discovered, inserted, nil
		case ix.opts.StopAtKnown && n < len(sigs):
			return discovered, inserted, nil
		case ix.opts.MaxPages > 0 && page >= ix.opts.MaxPages:
			return discovered, inserted, nil
		}
		before = sigs[len(sigs)-1].Signature
	}
}
