package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/sink"
)

// TransferStore mirrors fetched transfers into the token_transfers table.
// It is registered as a transfer sink of the enricher.
type TransferStore struct {
	conn *Conn
}

// NewTransferStore creates a new TransferStore.
func NewTransferStore(conn *Conn) *TransferStore {
	return &TransferStore{conn: conn}
}

// Compile-time interface check.
var _ sink.Sink = (*TransferStore)(nil)

// Name implements sink.Sink.
func (s *TransferStore) Name() string { return "clickhouse" }

// Publish inserts transfers in one batch. Duplicates are collapsed by the
// ReplacingMergeTree engine on merge.
func (s *TransferStore) Publish(ctx context.Context, transfers []domain.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO token_transfers (
			signature, mint, slot, block_time, amount, decimals, direction,
			from_address, to_address, from_token_account, to_token_account, tracked_account
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range transfers {
		err = batch.Append(
			t.Signature, t.Mint, uint64(t.Slot), blockTime(t.BlockTime),
			t.Amount, uint8(t.Decimals), string(t.Direction),
			t.From, t.To, t.FromTokenAccount, t.ToTokenAccount, t.TrackedTokenAccount,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// Close implements sink.Sink.
func (s *TransferStore) Close() error {
	return s.conn.Close()
}

// MintVolume is the aggregated transfer volume of one mint.
type MintVolume struct {
	Transfers uint64
	Credited  int64
	Debited   int64
}

// VolumeByMint aggregates distinct transfers of mint. FINAL forces
// ReplacingMergeTree deduplication at read time.
func (s *TransferStore) VolumeByMint(ctx context.Context, mint string) (*MintVolume, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT
			count(),
			sumIf(amount, direction = 'credit'),
			sumIf(amount, direction = 'debit')
		FROM token_transfers FINAL
		WHERE mint = ?
	`, mint)

	var v MintVolume
	if err := row.Scan(&v.Transfers, &v.Credited, &v.Debited); err != nil {
		return nil, fmt.Errorf("scan volume: %w", err)
	}
	return &v, nil
}

func blockTime(bt *int64) time.Time {
	if bt == nil {
		return time.Unix(0, 0).UTC()
	}
	return time.Unix(*bt, 0).UTC()
}
