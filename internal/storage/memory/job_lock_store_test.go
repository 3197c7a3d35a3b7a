package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

func TestJobLockStore_InsertDuplicate(t *testing.T) {
	store := NewJobLockStore()
	ctx := context.Background()

	lock := &domain.JobLock{Name: "fetch_solana_transactions", AcquiredAt: time.Now()}
	if err := store.Insert(ctx, lock); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, lock); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	if err := store.Delete(ctx, lock.Name); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, lock.Name); err != nil {
		t.Errorf("deleting a free lock should succeed, got %v", err)
	}
	if _, err := store.Get(ctx, lock.Name); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestJobLockStore_DeleteIfOlder(t *testing.T) {
	store := NewJobLockStore()
	ctx := context.Background()
	acquired := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.Insert(ctx, &domain.JobLock{Name: "job", AcquiredAt: acquired})

	removed, err := store.DeleteIfOlder(ctx, "job", acquired)
	if err != nil {
		t.Fatalf("DeleteIfOlder failed: %v", err)
	}
	if removed {
		t.Error("lock acquired exactly at the cutoff must not be removed")
	}

	removed, _ = store.DeleteIfOlder(ctx, "job", acquired.Add(time.Second))
	if !removed {
		t.Error("expected stale lock to be removed")
	}
}
