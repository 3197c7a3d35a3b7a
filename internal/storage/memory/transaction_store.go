package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// TransactionStore is an in-memory implementation of storage.TransactionStore.
type TransactionStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.TrackedTransaction // keyed by signature
	nextID int64
	now    func() time.Time
}

// NewTransactionStore creates a new in-memory transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		data: make(map[string]*domain.TrackedTransaction),
		now:  time.Now,
	}
}

// InsertIndexed inserts stub rows, ignoring signatures that already exist.
func (s *TransactionStore) InsertIndexed(_ context.Context, txs []*domain.TrackedTransaction) (int, error) {
	for _, tx := range txs {
		if tx == nil || tx.Signature == "" {
			return 0, storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	inserted := 0
	for _, tx := range txs {
		if _, exists := s.data[tx.Signature]; exists {
			continue
		}
		s.nextID++
		row := &domain.TrackedTransaction{
			ID:        s.nextID,
			Signature: tx.Signature,
			Mint:      tx.Mint,
			Slot:      tx.Slot,
			BlockTime: tx.BlockTime,
			Status:    domain.StatusIndexed,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.data[tx.Signature] = row.Clone()
		inserted++
	}
	return inserted, nil
}

// GetBySignature retrieves a row by signature. Returns ErrNotFound if not exists.
func (s *TransactionStore) GetBySignature(_ context.Context, signature string) (*domain.TrackedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.data[signature]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return tx.Clone(), nil
}

// ListByStatus retrieves up to limit rows with status, ordered by slot DESC.
func (s *TransactionStore) ListByStatus(_ context.Context, status domain.TxStatus, limit int) ([]*domain.TrackedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TrackedTransaction
	for _, tx := range s.data {
		if tx.Status == status {
			result = append(result, tx.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Slot != result[j].Slot {
			return result[i].Slot > result[j].Slot
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MarkFetched stores the parsed transfer and moves an indexed row to fetched.
func (s *TransactionStore) MarkFetched(_ context.Context, signature string, t *domain.Transfer) error {
	if t == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.indexedLocked(signature)
	if err != nil {
		return err
	}
	tx.ApplyTransfer(t)
	tx.Status = domain.StatusFetched
	tx.UpdatedAt = s.now().UTC()
	return nil
}

// MarkFailed records reason and moves an indexed row to failed.
func (s *TransactionStore) MarkFailed(_ context.Context, signature, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.indexedLocked(signature)
	if err != nil {
		return err
	}
	tx.Status = domain.StatusFailed
	tx.Error = &reason
	tx.UpdatedAt = s.now().UTC()
	return nil
}

func (s *TransactionStore) indexedLocked(signature string) (*domain.TrackedTransaction, error) {
	tx, exists := s.data[signature]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if tx.Status != domain.StatusIndexed {
		return nil, storage.ErrInvalidTransition
	}
	return tx, nil
}

// ResetFailed moves failed rows back to indexed, highest slot first.
func (s *TransactionStore) ResetFailed(_ context.Context, signatures []string, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*domain.TrackedTransaction
	if len(signatures) > 0 {
		for _, sig := range signatures {
			if tx, ok := s.data[sig]; ok && tx.Status == domain.StatusFailed {
				candidates = append(candidates, tx)
			}
		}
	} else {
		for _, tx := range s.data {
			if tx.Status == domain.StatusFailed {
				candidates = append(candidates, tx)
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Slot > candidates[j].Slot
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := s.now().UTC()
	for _, tx := range candidates {
		tx.Status = domain.StatusIndexed
		tx.Error = nil
		tx.UpdatedAt = now
	}
	return len(candidates), nil
}

// ListFetchedByAddress retrieves fetched rows involving address, newest block time first.
func (s *TransactionStore) ListFetchedByAddress(_ context.Context, address string) ([]*domain.TrackedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TrackedTransaction
	for _, tx := range s.data {
		if tx.Status != domain.StatusFetched {
			continue
		}
		if equals(tx.FromAddress, address) || equals(tx.ToAddress, address) {
			result = append(result, tx.Clone())
		}
	}

	// NULL block times sort last, like Postgres DESC NULLS LAST
	sort.Slice(result, func(i, j int) bool {
		bi, bj := result[i].BlockTime, result[j].BlockTime
		switch {
		case bi == nil && bj == nil:
			return result[i].ID > result[j].ID
		case bi == nil:
			return false
		case bj == nil:
			return true
		case *bi != *bj:
			return *bi > *bj
		default:
			return result[i].ID > result[j].ID
		}
	})
	return result, nil
}

// CountByStatus returns the number of rows per status.
func (s *TransactionStore) CountByStatus(_ context.Context) (map[domain.TxStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.TxStatus]int)
	for _, tx := range s.data {
		counts[tx.Status]++
	}
	return counts, nil
}

func equals(p *string, v string) bool {
	return p != nil && *p == v
}

// Verify interface compliance at compile time.
var _ storage.TransactionStore = (*TransactionStore)(nil)
