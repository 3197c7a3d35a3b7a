package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/solana"
)

type fakeWS struct {
	mu   sync.Mutex
	subs map[string]chan solana.LogNotification
	err  error
}

func newFakeWS() *fakeWS {
	return &fakeWS{subs: make(map[string]chan solana.LogNotification)}
}

func (f *fakeWS) SubscribeLogs(_ context.Context, filter solana.LogsFilter) (<-chan solana.LogNotification, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan solana.LogNotification, 10)
	f.subs[filter.Mentions[0]] = ch
	return ch, nil
}

func (f *fakeWS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		close(ch)
	}
	f.subs = map[string]chan solana.LogNotification{}
	return nil
}

func (f *fakeWS) channel(mention string) chan solana.LogNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[mention]
}

func TestWatcher_InsertsNotifications(t *testing.T) {
	env := newTestEnv(t,
		domain.Wallet{ID: 1, Address: "w1", USDCTokenAccountAddress: "ta1"},
		domain.Wallet{ID: 2, Address: "w2", USDCTokenAccountAddress: "ta2"},
		domain.Wallet{ID: 3, Address: "w3"},
	)
	ws := newFakeWS()
	w := NewWatcher(ws, env.wallets, env.txs, WatcherOptions{Mint: testMint})

	// Channels are buffered, so notifications can be queued before Run reads them.
	done := make(chan int, 1)
	go func() {
		n, err := w.Run(context.Background())
		assert.NoError(t, err)
		done <- n
	}()

	require.Eventually(t, func() bool {
		return ws.channel("ta1") != nil && ws.channel("ta2") != nil
	}, time.Second, 5*time.Millisecond)

	ws.channel("ta1") <- solana.LogNotification{Signature: "s1", Slot: 10}
	ws.channel("ta2") <- solana.LogNotification{Signature: "s2", Slot: 11}
	ws.channel("ta2") <- solana.LogNotification{Signature: "s1", Slot: 10} // both accounts touched

	require.Eventually(t, func() bool {
		return env.counts(t)[domain.StatusIndexed] == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.Close())
	select {
	case n := <-done:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after subscriptions closed")
	}

	row, err := env.txs.GetBySignature(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, int64(11), row.Slot)
	assert.Equal(t, testMint, row.Mint)
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t, domain.Wallet{ID: 1, Address: "w1", USDCTokenAccountAddress: "ta1"})
	w := NewWatcher(newFakeWS(), env.wallets, env.txs, WatcherOptions{Mint: testMint})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := w.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWatcher_SubscribeError(t *testing.T) {
	env := newTestEnv(t, domain.Wallet{ID: 1, Address: "w1", USDCTokenAccountAddress: "ta1"})
	ws := newFakeWS()
	ws.err = errors.New("handshake failed")

	_, err := NewWatcher(ws, env.wallets, env.txs, WatcherOptions{}).Run(context.Background())
	require.Error(t, err)
}
