package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// JobLockStore is an in-memory implementation of storage.JobLockStore.
type JobLockStore struct {
	mu    sync.Mutex
	locks map[string]domain.JobLock
}

// NewJobLockStore creates a new in-memory job lock store.
func NewJobLockStore() *JobLockStore {
	return &JobLockStore{
		locks: make(map[string]domain.JobLock),
	}
}

// Insert creates the lock. Returns ErrDuplicateKey if the name is held.
func (s *JobLockStore) Insert(_ context.Context, lock *domain.JobLock) error {
	if lock == nil || lock.Name == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.locks[lock.Name]; held {
		return storage.ErrDuplicateKey
	}
	s.locks[lock.Name] = *lock
	return nil
}

// Get retrieves a lock by name.
func (s *JobLockStore) Get(_ context.Context, name string) (*domain.JobLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, held := s.locks[name]
	if !held {
		return nil, storage.ErrNotFound
	}
	return &lock, nil
}

// Delete removes the lock regardless of holder.
func (s *JobLockStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, name)
	return nil
}

// DeleteIfOlder removes the lock only if acquired before the given time.
func (s *JobLockStore) DeleteIfOlder(_ context.Context, name string, before time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, held := s.locks[name]
	if !held || !lock.AcquiredAt.Before(before) {
		return false, nil
	}
	delete(s.locks, name)
	return true, nil
}

// Verify interface compliance at compile time.
var _ storage.JobLockStore = (*JobLockStore)(nil)
