package postgres

import (
	"context"
	"fmt"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// WalletStore implements storage.WalletDirectory on the wallets table,
// restricted to primary Solana wallets.
type WalletStore struct {
	pool *Pool
}

// NewWalletStore creates a new WalletStore.
func NewWalletStore(pool *Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WalletDirectory = (*WalletStore)(nil)

// ListPrimary returns all primary Solana wallets ordered by id.
func (s *WalletStore) ListPrimary(ctx context.Context) ([]*domain.Wallet, error) {
	return s.query(ctx, `
		SELECT id, address, COALESCE(usdc_token_account_address, '')
		FROM wallets
		WHERE provider = 'solana' AND tag = 'primary'
		ORDER BY id
	`)
}

// ListForTokenAccountUpdate returns wallets without a token account, or all with includeResolved.
func (s *WalletStore) ListForTokenAccountUpdate(ctx context.Context, includeResolved bool, limit int) ([]*domain.Wallet, error) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	return s.query(ctx, `
		SELECT id, address, COALESCE(usdc_token_account_address, '')
		FROM wallets
		WHERE provider = 'solana' AND tag = 'primary'
			AND ($1 OR usdc_token_account_address IS NULL OR usdc_token_account_address = '')
		ORDER BY id
		LIMIT $2
	`, includeResolved, lim)
}

func (s *WalletStore) query(ctx context.Context, sql string, args ...interface{}) ([]*domain.Wallet, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	var result []*domain.Wallet
	for rows.Next() {
		var w domain.Wallet
		if err := rows.Scan(&w.ID, &w.Address, &w.USDCTokenAccountAddress); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		result = append(result, &w)
	}
	return result, rows.Err()
}

// SetTokenAccount stores the resolved token account of a wallet.
func (s *WalletStore) SetTokenAccount(ctx context.Context, walletID int64, tokenAccount string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE wallets SET usdc_token_account_address = $2, updated_at = NOW() WHERE id = $1
	`, walletID, tokenAccount)
	if err != nil {
		return fmt.Errorf("update wallet token account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
