package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

func stub(sig string, slot int64) *domain.TrackedTransaction {
	return &domain.TrackedTransaction{Signature: sig, Mint: "mintUSDC", Slot: slot}
}

func TestTransactionStore_InsertIndexedIdempotent(t *testing.T) {
	store := NewTransactionStore()
	ctx := context.Background()

	n, err := store.InsertIndexed(ctx, []*domain.TrackedTransaction{stub("sigA", 10), stub("sigB", 11)})
	if err != nil {
		t.Fatalf("InsertIndexed failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 inserted, got %d", n)
	}

	// Second run with overlap inserts only the new signature
	n, err = store.InsertIndexed(ctx, []*domain.TrackedTransaction{stub("sigA", 10), stub("sigB", 11), stub("sigC", 12)})
	if err != nil {
		t.Fatalf("InsertIndexed failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 inserted, got %d", n)
	}

	counts, _ := store.CountByStatus(ctx)
	if counts[domain.StatusIndexed] != 3 {
		t.Errorf("expected 3 indexed rows, got %d", counts[domain.StatusIndexed])
	}
}

func TestTransactionStore_InsertIndexedKeepsExistingStatus(t *testing.T) {
	store := NewTransactionStore()
	ctx := context.Background()

	store.InsertIndexed(ctx, []*domain.TrackedTransaction{stub("sigA", 10)})
	if err := store.MarkFetched(ctx, "sigA", &domain.Transfer{Amount: 1, Decimals: 6, Direction: domain.DirectionCredit}); err != nil {
		t.Fatalf("MarkFetched failed: %v", err)
	}

	store.InsertIndexed(ctx, []*domain.TrackedTransaction{stub("sigA", 10)})

	got, _ := store.GetBySignature(ctx, "sigA")
	if got.Status != domain.StatusFetched {
		t.Errorf("re-index must not reset status, got %s", got.Status)
	}
}

func TestTransactionStore_InsertIndexedConcurrent(t *testing.T) {
	store := NewTransactionStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, _ := store.InsertIndexed(ctx, []*domain.TrackedTransaction{stub("sigA", 10), stub("sigB", 11)})
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 2 {
		t.Errorf("expected exactly 2 inserts across goroutines, got %d", total)
	}
}

func TestTransactionStore_ListByStatusOrdering(t *testing.T) {
	store := NewTransactionStore()
	ctx := context.Background()

	store.InsertIndexed(ctx, []*domain.TrackedTransaction{stub("low", 1), stub("high", 30), stub("mid", 20)})

	rows, err := store.ListByStatus(ctx, domain.StatusIndexed, 2)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Signature != "high" || rows[1].Signature != "mid" {
		t.Errorf("expected slot desc order [high mid], got [%s %s]", rows[0].Signature, rows[1].Signature)
	}
}

func TestTransactionStore_MarkTransitions(t *testing.T) {
	store := NewTransactionStore()
	ctx := context.Background()
	store.InsertIndexed(ctx, []*domain.TrackedTransaction{stub("sigA", 1), stub("sigB", 2)})

	if err := store.MarkFetched(ctx, "sigA", nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil transfer, got %v", err)
	}
	if err := store.MarkFetched(ctx, "missing", &domain.Transfer{}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.MarkFailed(ctx, "sigB", "no meta or could not parse transaction"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if err := store.MarkFetched(ctx, "sigB", &domain.Transfer{Amount: 1}); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("failed row is terminal for fetch, got %v", err)
	}

	got, _ := store.GetBySignature(ctx, "sigB")
	if got.Error == nil || *got.Error != "no meta or could not parse transaction" {
		t.Errorf("unexpected error field: %v", got.Error)
	}
	if got.Amount != nil {
		t.Error("failed row must not carry an amount")
	}
}

func TestTransactionStore_ResetFailed(t *testing.T) {
	store := NewTransactionStore()
	ctx := context.Background()
	store.InsertIndexed(ctx, []*domain.TrackedTransaction{stub("a", 1), stub("b", 2), stub("c", 3)})
	for _, sig := range []string{"a", "b", "c"} {
		store.MarkFailed(ctx, sig, "boom")
	}

	n, err := store.ResetFailed(ctx, []string{"a", "unknown"}, 0)
	if err != nil {
		t.Fatalf("ResetFailed failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 reset, got %d", n)
	}

	n, _ = store.ResetFailed(ctx, nil, 1)
	if n != 1 {
		t.Errorf("expected limit to cap resets at 1, got %d", n)
	}

	got, _ := store.GetBySignature(ctx, "c")
	if got.Status != domain.StatusIndexed || got.Error != nil {
		t.Errorf("expected highest slot row reset first, got %s", got.Status)
	}
}

func TestTransactionStore_ListFetchedByAddress(t *testing.T) {
	store := NewTransactionStore()
	ctx := context.Background()
	store.InsertIndexed(ctx, []*domain.TrackedTransaction{stub("old", 1), stub("new", 2), stub("other", 3)})

	t1, t2 := int64(1000), int64(2000)
	store.MarkFetched(ctx, "old", &domain.Transfer{BlockTime: &t1, Amount: 1, From: "X", To: "Y", Direction: domain.DirectionDebit})
	store.MarkFetched(ctx, "new", &domain.Transfer{BlockTime: &t2, Amount: 2, From: "Z", To: "X", Direction: domain.DirectionCredit})
	store.MarkFetched(ctx, "other", &domain.Transfer{BlockTime: &t2, Amount: 3, From: "Z", To: "Y", Direction: domain.DirectionCredit})

	rows, err := store.ListFetchedByAddress(ctx, "X")
	if err != nil {
		t.Fatalf("ListFetchedByAddress failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Signature != "new" || rows[1].Signature != "old" {
		t.Errorf("expected block time desc, got [%s %s]", rows[0].Signature, rows[1].Signature)
	}
}
