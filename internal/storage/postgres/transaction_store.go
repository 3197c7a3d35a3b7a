package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// TransactionStore implements storage.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionStore = (*TransactionStore)(nil)

const transactionColumns = `
	id, signature, mint, slot, block_time, status, amount, decimals, type,
	from_address, to_address, from_token_account, to_token_account, error,
	created_at, updated_at
`

// InsertIndexed inserts stub rows, ignoring signatures that already exist.
// All rows are sent in one batch inside a transaction.
func (s *TransactionStore) InsertIndexed(ctx context.Context, txs []*domain.TrackedTransaction) (n int, err error) {
	if len(txs) == 0 {
		return 0, nil
	}
	for _, tx := range txs {
		if tx == nil || tx.Signature == "" {
			return 0, storage.ErrInvalidInput
		}
	}
	defer func(start time.Time) { observe("insert_indexed", start, err) }(time.Now())

	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, tx := range txs {
		batch.Queue(`
			INSERT INTO token_transactions (signature, mint, slot, block_time, status)
			VALUES ($1, $2, $3, $4, 'indexed')
			ON CONFLICT (signature) DO NOTHING
		`, tx.Signature, tx.Mint, tx.Slot, unixToTime(tx.BlockTime))
	}

	results := dbTx.SendBatch(ctx, batch)
	inserted := 0
	for range txs {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("insert indexed transaction: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// GetBySignature retrieves a row by signature. Returns ErrNotFound if not exists.
func (s *TransactionStore) GetBySignature(ctx context.Context, signature string) (*domain.TrackedTransaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM token_transactions WHERE signature = $1`, signature)

	tx, err := scanTransaction(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// ListByStatus retrieves up to limit rows with status, ordered by slot DESC.
func (s *TransactionStore) ListByStatus(ctx context.Context, status domain.TxStatus, limit int) (result []*domain.TrackedTransaction, err error) {
	if !status.IsValid() {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("list_by_status", start, err) }(time.Now())

	query := `SELECT ` + transactionColumns + `
		FROM token_transactions
		WHERE status = $1
		ORDER BY slot DESC, id ASC`
	args := []interface{}{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	return collectTransactions(rows)
}

// MarkFetched stores the parsed transfer and moves an indexed row to fetched.
func (s *TransactionStore) MarkFetched(ctx context.Context, signature string, t *domain.Transfer) (err error) {
	if t == nil {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("mark_fetched", start, err) }(time.Now())

	var row domain.TrackedTransaction
	row.ApplyTransfer(t)

	tag, err := s.pool.Exec(ctx, `
		UPDATE token_transactions SET
			status = 'fetched',
			amount = $2,
			decimals = $3,
			type = $4,
			from_address = $5,
			to_address = $6,
			from_token_account = $7,
			to_token_account = $8,
			block_time = COALESCE($9, block_time),
			slot = CASE WHEN $10::BIGINT > 0 THEN $10 ELSE slot END,
			error = NULL,
			updated_at = NOW()
		WHERE signature = $1 AND status = 'indexed'
	`, signature, *row.Amount, *row.Decimals, string(*row.Direction),
		row.FromAddress, row.ToAddress, row.FromTokenAccount, row.ToTokenAccount,
		unixToTime(t.BlockTime), t.Slot,
	)
	if err != nil {
		return fmt.Errorf("mark fetched: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, signature)
	}
	return nil
}

// MarkFailed records reason and moves an indexed row to failed.
func (s *TransactionStore) MarkFailed(ctx context.Context, signature, reason string) (err error) {
	defer func(start time.Time) { observe("mark_failed", start, err) }(time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE token_transactions
		SET status = 'failed', error = $2, updated_at = NOW()
		WHERE signature = $1 AND status = 'indexed'
	`, signature, reason)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, signature)
	}
	return nil
}

// transitionError explains why an update guarded by status = 'indexed' matched no row.
func (s *TransactionStore) transitionError(ctx context.Context, signature string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM token_transactions WHERE signature = $1`, signature).Scan(&status)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("check status: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", storage.ErrInvalidTransition, signature, status)
}

// ResetFailed moves failed rows back to indexed, highest slot first.
func (s *TransactionStore) ResetFailed(ctx context.Context, signatures []string, limit int) (int, error) {
	query := `
		UPDATE token_transactions SET status = 'indexed', error = NULL, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM token_transactions
			WHERE status = 'failed' AND (cardinality($1::TEXT[]) = 0 OR signature = ANY($1))
			ORDER BY slot DESC
			LIMIT $2
		)
	`
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	if signatures == nil {
		signatures = []string{}
	}

	tag, err := s.pool.Exec(ctx, query, signatures, lim)
	if err != nil {
		return 0, fmt.Errorf("reset failed transactions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListFetchedByAddress retrieves fetched rows involving address, newest block time first.
func (s *TransactionStore) ListFetchedByAddress(ctx context.Context, address string) ([]*domain.TrackedTransaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+transactionColumns+`
		FROM token_transactions
		WHERE status = 'fetched' AND (from_address = $1 OR to_address = $1)
		ORDER BY block_time DESC NULLS LAST, id DESC
	`, address)
	if err != nil {
		return nil, fmt.Errorf("query transactions by address: %w", err)
	}
	return collectTransactions(rows)
}

// CountByStatus returns the number of rows per status.
func (s *TransactionStore) CountByStatus(ctx context.Context) (map[domain.TxStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM token_transactions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TxStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.TxStatus(status)] = n
	}
	return counts, rows.Err()
}

func collectTransactions(rows pgx.Rows) ([]*domain.TrackedTransaction, error) {
	defer rows.Close()

	var result []*domain.TrackedTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.TrackedTransaction, error) {
	var (
		tx        domain.TrackedTransaction
		status    string
		blockTime *time.Time
		direction *string
	)
	err := row.Scan(
		&tx.ID, &tx.Signature, &tx.Mint, &tx.Slot, &blockTime, &status,
		&tx.Amount, &tx.Decimals, &direction,
		&tx.FromAddress, &tx.ToAddress, &tx.FromTokenAccount, &tx.ToTokenAccount, &tx.Error,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Status = domain.TxStatus(status)
	if blockTime != nil {
		unix := blockTime.Unix()
		tx.BlockTime = &unix
	}
	if direction != nil {
		d := domain.Direction(*direction)
		tx.Direction = &d
	}
	return &tx, nil
}

func unixToTime(sec *int64) *time.Time {
	if sec == nil {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
