package postgres

import (
	"context"
	"fmt"

	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// windowLockKey serializes TryRecord across every process sharing the table.
const windowLockKey int64 = 0x7469_6c74_7270_63 // "tiltrpc"

// WindowStore implements storage.WindowStore on the solana_rpc_requests table.
type WindowStore struct {
	pool *Pool
}

// NewWindowStore creates a new WindowStore.
func NewWindowStore(pool *Pool) *WindowStore {
	return &WindowStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WindowStore = (*WindowStore)(nil)

// TryRecord purges, counts and conditionally inserts in one transaction held
// under a transaction-scoped advisory lock.
func (s *WindowStore) TryRecord(ctx context.Context, nowMs, windowStartMs int64, maxCalls int) (int, int64, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, windowLockKey); err != nil {
		return 0, 0, false, fmt.Errorf("lock rpc window: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM solana_rpc_requests WHERE timestamp < $1`, windowStartMs); err != nil {
		return 0, 0, false, fmt.Errorf("purge rpc requests: %w", err)
	}

	var count int
	var oldest *int64
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*), MIN(timestamp) FROM solana_rpc_requests WHERE timestamp >= $1
	`, windowStartMs).Scan(&count, &oldest)
	if err != nil {
		return 0, 0, false, fmt.Errorf("count rpc requests: %w", err)
	}

	if count >= maxCalls {
		if oldest == nil {
			return count, 0, false, nil
		}
		return count, *oldest, false, nil
	}

	if _, err := tx.Exec(ctx, `INSERT INTO solana_rpc_requests (timestamp) VALUES ($1)`, nowMs); err != nil {
		return 0, 0, false, fmt.Errorf("insert rpc request: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, false, fmt.Errorf("commit tx: %w", err)
	}

	count++
	if oldest == nil || nowMs < *oldest {
		return count, nowMs, true, nil
	}
	return count, *oldest, true, nil
}
