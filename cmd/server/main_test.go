package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/app"
	"github.com/NargusS/tiltpay-backend/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Mint:      config.DefaultUSDCMint,
		UseMemory: true,
		Solana:    config.SolanaConfig{RPCURL: "http://127.0.0.1:1", Timeout: time.Second},
		RateLimit: config.RateLimitConfig{Backend: config.BackendMemory, Window: time.Second, MaxCalls: 10},
		Enrich:    config.EnrichConfig{BatchSize: 10, Strategy: "batched"},
	}
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return &Server{app: a, logger: zap.NewNop(), started: time.Now()}
}

func TestSchedule_RunsImmediatelyAndOnTick(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.schedule(ctx, "test", 10*time.Millisecond, func(context.Context) { runs.Add(1) })
	}()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestSchedule_Disabled(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.schedule(ctx, "test", 0, func(context.Context) { called = true })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRunIndex_NoWalletsUpdatesStatus(t *testing.T) {
	s := newTestServer(t)

	s.runIndex(context.Background())
	s.runFetch(context.Background())

	st := s.status()
	assert.Equal(t, 1, st.IndexRuns)
	assert.Equal(t, 1, st.FetchRuns)
	assert.Empty(t, st.IndexErr)
	assert.Empty(t, st.FetchErr)
	assert.False(t, st.LastIndex.IsZero())
}
