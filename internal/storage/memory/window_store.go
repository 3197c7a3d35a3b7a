package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// WindowStore is an in-memory implementation of storage.WindowStore.
// Timestamps are kept sorted ascending.
type WindowStore struct {
	mu  sync.Mutex
	tss []int64

	// Err, when set, is returned by every method. Used to exercise limiter fallbacks.
	Err error
}

// NewWindowStore creates a new in-memory window store.
func NewWindowStore() *WindowStore {
	return &WindowStore{}
}

// TryRecord purges, counts and conditionally records under one lock.
func (s *WindowStore) TryRecord(_ context.Context, nowMs, windowStartMs int64, maxCalls int) (int, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return 0, 0, false, s.Err
	}

	i := sort.Search(len(s.tss), func(i int) bool { return s.tss[i] >= windowStartMs })
	s.tss = append(s.tss[:0], s.tss[i:]...)

	if len(s.tss) >= maxCalls {
		return len(s.tss), s.tss[0], false, nil
	}

	j := sort.Search(len(s.tss), func(i int) bool { return s.tss[i] > nowMs })
	s.tss = append(s.tss, 0)
	copy(s.tss[j+1:], s.tss[j:])
	s.tss[j] = nowMs
	return len(s.tss), s.tss[0], true, nil
}

// CountSince returns the number of timestamps >= sinceMs.
func (s *WindowStore) CountSince(sinceMs int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.tss), func(i int) bool { return s.tss[i] >= sinceMs })
	return len(s.tss) - i
}

// Len returns the number of stored timestamps.
func (s *WindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tss)
}

// Verify interface compliance at compile time.
var _ storage.WindowStore = (*WindowStore)(nil)
