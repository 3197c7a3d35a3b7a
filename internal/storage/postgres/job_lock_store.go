package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// JobLockStore implements storage.JobLockStore on the job_locks table.
// Mutual exclusion comes from the primary key on name.
type JobLockStore struct {
	pool *Pool
}

// NewJobLockStore creates a new JobLockStore.
func NewJobLockStore(pool *Pool) *JobLockStore {
	return &JobLockStore{pool: pool}
}

// Compile-time interface check.
var _ storage.JobLockStore = (*JobLockStore)(nil)

// Insert creates the lock row. Returns ErrDuplicateKey if the name is held.
func (s *JobLockStore) Insert(ctx context.Context, lock *domain.JobLock) error {
	if lock == nil || lock.Name == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_locks (name, acquired_at, holder) VALUES ($1, $2, $3)
	`, lock.Name, lock.AcquiredAt, lock.Holder)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert job lock: %w", err)
	}
	return nil
}

// Get retrieves a lock by name.
func (s *JobLockStore) Get(ctx context.Context, name string) (*domain.JobLock, error) {
	var lock domain.JobLock
	err := s.pool.QueryRow(ctx, `
		SELECT name, acquired_at, holder FROM job_locks WHERE name = $1
	`, name).Scan(&lock.Name, &lock.AcquiredAt, &lock.Holder)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get job lock: %w", err)
	}
	return &lock, nil
}

// Delete removes the lock regardless of holder.
func (s *JobLockStore) Delete(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM job_locks WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete job lock: %w", err)
	}
	return nil
}

// DeleteIfOlder removes the lock only if acquired before the given time.
func (s *JobLockStore) DeleteIfOlder(ctx context.Context, name string, before time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM job_locks WHERE name = $1 AND acquired_at < $2
	`, name, before)
	if err != nil {
		return false, fmt.Errorf("delete stale job lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
