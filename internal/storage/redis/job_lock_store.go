package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// JobLockStore implements storage.JobLockStore with SET NX.
// The value is "<acquired unix nanos>|<holder>".
type JobLockStore struct {
	client *redis.Client
	prefix string
}

// NewJobLockStore creates a JobLockStore.
func NewJobLockStore(client *redis.Client, prefix string) *JobLockStore {
	return &JobLockStore{client: client, prefix: prefix}
}

// Compile-time interface check.
var _ storage.JobLockStore = (*JobLockStore)(nil)

func (s *JobLockStore) lockKey(name string) string {
	return key(s.prefix, "job_lock", name)
}

// Insert creates the lock. Returns ErrDuplicateKey if the name is held.
func (s *JobLockStore) Insert(ctx context.Context, lock *domain.JobLock) error {
	if lock == nil || lock.Name == "" {
		return storage.ErrInvalidInput
	}

	value := strconv.FormatInt(lock.AcquiredAt.UnixNano(), 10) + "|" + lock.Holder
	ok, err := s.client.SetNX(ctx, s.lockKey(lock.Name), value, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return storage.ErrDuplicateKey
	}
	return nil
}

// Get retrieves a lock by name.
func (s *JobLockStore) Get(ctx context.Context, name string) (*domain.JobLock, error) {
	val, err := s.client.Get(ctx, s.lockKey(name)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, storage.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return parseLock(name, val)
}

// Delete removes the lock regardless of holder.
func (s *JobLockStore) Delete(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.lockKey(name)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteIfOlder removes the lock only if acquired before the given time.
// The check and delete run under WATCH so a concurrent re-acquire is not removed.
func (s *JobLockStore) DeleteIfOlder(ctx context.Context, name string, before time.Time) (bool, error) {
	k := s.lockKey(name)
	removed := false

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		lock, err := parseLock(name, val)
		if err != nil {
			return err
		}
		if !lock.AcquiredAt.Before(before) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		if err == nil {
			removed = true
		}
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis delete stale lock: %w", err)
	}
	return removed, nil
}

func parseLock(name, value string) (*domain.JobLock, error) {
	nanos, holder, _ := strings.Cut(value, "|")
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse lock %s: %w", name, err)
	}
	return &domain.JobLock{Name: name, AcquiredAt: time.Unix(0, n), Holder: holder}, nil
}
