package storage

import (
	"context"
	"time"

	"github.com/NargusS/tiltpay-backend/internal/domain"
)

// TransactionStore provides access to token_transactions storage.
type TransactionStore interface {
	// InsertIndexed inserts stub rows with status indexed. Rows whose signature
	// already exists are ignored. Returns the number of rows actually inserted.
	InsertIndexed(ctx context.Context, txs []*domain.TrackedTransaction) (int, error)

	// GetBySignature retrieves a row by signature. Returns ErrNotFound if not exists.
	GetBySignature(ctx context.Context, signature string) (*domain.TrackedTransaction, error)

	// ListByStatus retrieves up to limit rows with status, ordered by slot DESC.
	// A limit <= 0 returns all rows.
	ListByStatus(ctx context.Context, status domain.TxStatus, limit int) ([]*domain.TrackedTransaction, error)

	// MarkFetched stores the parsed transfer and moves an indexed row to fetched.
	// Returns ErrInvalidInput for a nil transfer, ErrNotFound for an unknown
	// signature and ErrInvalidTransition if the row is not indexed.
	MarkFetched(ctx context.Context, signature string, t *domain.Transfer) error

	// MarkFailed records reason and moves an indexed row to failed.
	// Returns ErrNotFound or ErrInvalidTransition like MarkFetched.
	MarkFailed(ctx context.Context, signature, reason string) error

	// ResetFailed moves failed rows back to indexed and clears their error.
	// An empty signatures list selects any failed row; limit <= 0 means no limit.
	// Returns the number of rows reset.
	ResetFailed(ctx context.Context, signatures []string, limit int) (int, error)

	// ListFetchedByAddress retrieves fetched rows where address is the sender or
	// the receiver, ordered by block time DESC.
	ListFetchedByAddress(ctx context.Context, address string) ([]*domain.TrackedTransaction, error)

	// CountByStatus returns the number of rows per status.
	CountByStatus(ctx context.Context) (map[domain.TxStatus]int, error)
}

// JobLockStore provides access to job_locks storage.
type JobLockStore interface {
	// Insert creates the lock row. Returns ErrDuplicateKey if the name is held.
	Insert(ctx context.Context, lock *domain.JobLock) error

	// Get retrieves a lock by name. Returns ErrNotFound if not held.
	Get(ctx context.Context, name string) (*domain.JobLock, error)

	// Delete removes the lock regardless of holder. Deleting a free lock is not an error.
	Delete(ctx context.Context, name string) error

	// DeleteIfOlder removes the lock only if it was acquired before the given time.
	// Reports whether a row was removed.
	DeleteIfOlder(ctx context.Context, name string, before time.Time) (bool, error)
}

// WindowStore persists the timestamps (unix millis) of outbound RPC calls
// for the sliding-window rate limiter. Implementations shared by several
// processes must run TryRecord atomically.
type WindowStore interface {
	// TryRecord drops timestamps older than windowStartMs, counts the rest and
	// records nowMs only when fewer than maxCalls remain. count includes the new
	// call when recorded; oldestMs is the oldest remaining timestamp, 0 if none.
	TryRecord(ctx context.Context, nowMs, windowStartMs int64, maxCalls int) (count int, oldestMs int64, recorded bool, err error)
}

// WalletDirectory is the read side of the wallet registry plus the
// token-account backfill write.
type WalletDirectory interface {
	// ListPrimary returns all primary Solana wallets.
	ListPrimary(ctx context.Context) ([]*domain.Wallet, error)

	// ListForTokenAccountUpdate returns wallets without a token account, or all
	// wallets when includeResolved is set. limit <= 0 means no limit.
	ListForTokenAccountUpdate(ctx context.Context, includeResolved bool, limit int) ([]*domain.Wallet, error)

	// SetTokenAccount stores the resolved token account of a wallet.
	// Returns ErrNotFound for an unknown wallet id.
	SetTokenAccount(ctx context.Context, walletID int64, tokenAccount string) error
}
