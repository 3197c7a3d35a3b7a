package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// WalletStore is an in-memory implementation of storage.WalletDirectory.
type WalletStore struct {
	mu   sync.RWMutex
	data map[int64]domain.Wallet
}

// NewWalletStore creates a wallet store seeded with wallets.
func NewWalletStore(wallets ...domain.Wallet) *WalletStore {
	s := &WalletStore{data: make(map[int64]domain.Wallet)}
	for _, w := range wallets {
		s.data[w.ID] = w
	}
	return s
}

// Add stores or replaces a wallet.
func (s *WalletStore) Add(w domain.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[w.ID] = w
}

// ListPrimary returns all wallets ordered by id.
func (s *WalletStore) ListPrimary(_ context.Context) ([]*domain.Wallet, error) {
	return s.list(func(domain.Wallet) bool { return true }, 0), nil
}

// ListForTokenAccountUpdate returns wallets without a token account, or all with includeResolved.
func (s *WalletStore) ListForTokenAccountUpdate(_ context.Context, includeResolved bool, limit int) ([]*domain.Wallet, error) {
	return s.list(func(w domain.Wallet) bool {
		return includeResolved || !w.HasTokenAccount()
	}, limit), nil
}

func (s *WalletStore) list(keep func(domain.Wallet) bool, limit int) []*domain.Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Wallet
	for _, w := range s.data {
		if keep(w) {
			wc := w
			result = append(result, &wc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// SetTokenAccount stores the resolved token account of a wallet.
func (s *WalletStore) SetTokenAccount(_ context.Context, walletID int64, tokenAccount string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.data[walletID]
	if !ok {
		return storage.ErrNotFound
	}
	w.USDCTokenAccountAddress = tokenAccount
	s.data[walletID] = w
	return nil
}

// Verify interface compliance at compile time.
var _ storage.WalletDirectory = (*WalletStore)(nil)
