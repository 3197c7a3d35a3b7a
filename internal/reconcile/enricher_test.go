package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/joblock"
	"github.com/NargusS/tiltpay-backend/internal/sink"
	"github.com/NargusS/tiltpay-backend/internal/solana"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

func TestEndToEnd_IndexThenEnrich(t *testing.T) {
	env := newTestEnv(t, domain.Wallet{ID: 1, Address: "W1", USDCTokenAccountAddress: "W1Ata"})
	env.rpc.AddSignatures("W1Ata", []solana.SignatureInfo{
		{Signature: "sigB", Slot: 11},
		{Signature: "sigA", Slot: 10},
	})
	env.rpc.AddTransaction(transferTx("sigA", "W1", "W2", "0.5"))
	env.rpc.AddError("sigB", errors.New("transaction version not supported"))

	ix := NewIndexer(env.reader, env.wallets, env.txs, env.locker, IndexerOptions{Mint: testMint})
	idx, err := ix.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, idx.Inserted)
	assert.Equal(t, 2, env.counts(t)[domain.StatusIndexed])

	out := &sink.Memory{}
	en := NewEnricher(env.reader, env.txs, env.locker, EnricherOptions{BatchSize: 2, Sink: out})
	res, err := en.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Published)

	counts := env.counts(t)
	assert.Equal(t, 1, counts[domain.StatusFetched])
	assert.Equal(t, 1, counts[domain.StatusFailed])
	assert.Equal(t, 0, counts[domain.StatusIndexed])

	a, err := env.txs.GetBySignature(context.Background(), "sigA")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFetched, a.Status)
	require.NotNil(t, a.Amount)
	assert.Equal(t, int64(500000), *a.Amount)
	require.NotNil(t, a.Decimals)
	assert.Equal(t, 6, *a.Decimals)
	require.NotNil(t, a.FromAddress)
	assert.Equal(t, "W1", *a.FromAddress)
	require.NotNil(t, a.ToAddress)
	assert.Equal(t, "W2", *a.ToAddress)
	assert.Nil(t, a.Error)

	b, err := env.txs.GetBySignature(context.Background(), "sigB")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, b.Status)
	require.NotNil(t, b.Error)
	assert.NotEmpty(t, *b.Error)

	require.Len(t, out.Transfers, 1)
	assert.Equal(t, "sigA", out.Transfers[0].Signature)
	assert.Equal(t, testMint, out.Transfers[0].Mint)
}

func TestEnricher_Sequential(t *testing.T) {
	env := newTestEnv(t)
	env.seedIndexed(t, "s1", "s2", "s3")
	env.rpc.AddTransaction(transferTx("s1", "a", "b", "1"))
	// s2 missing on chain, s3 has no delta.
	zero := transferTx("s3", "a", "b", "1")
	zero.Meta.PostTokenBalances = zero.Meta.PreTokenBalances
	env.rpc.AddTransaction(zero)

	en := NewEnricher(env.reader, env.txs, env.locker, EnricherOptions{Strategy: StrategySequential})
	res, err := en.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, int64(3), env.rpc.Calls())

	for _, sig := range []string{"s2", "s3"} {
		row, err := env.txs.GetBySignature(context.Background(), sig)
		require.NoError(t, err)
		require.NotNil(t, row.Error)
		assert.Equal(t, ErrNoTransfer, *row.Error)
	}
}

func TestEnricher_BatchSizeAndOrder(t *testing.T) {
	env := newTestEnv(t)
	env.seedIndexed(t, "old", "mid", "new") // slots 100, 101, 102
	for _, sig := range []string{"old", "mid", "new"} {
		env.rpc.AddTransaction(transferTx(sig, "a", "b", "1"))
	}

	en := NewEnricher(env.reader, env.txs, env.locker, EnricherOptions{BatchSize: 2})
	res, err := en.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)

	old, err := env.txs.GetBySignature(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIndexed, old.Status, "highest slots go first")
}

func TestEnricher_GroupsByMint(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.txs.InsertIndexed(context.Background(), []*domain.TrackedTransaction{
		{Signature: "usdc", Mint: testMint, Slot: 2, Status: domain.StatusIndexed},
		{Signature: "other", Mint: "otherMint", Slot: 1, Status: domain.StatusIndexed},
	})
	require.NoError(t, err)
	env.rpc.AddTransaction(transferTx("usdc", "a", "b", "1"))
	// Balances are in testMint, so the row tracked under otherMint has no delta.
	env.rpc.AddTransaction(transferTx("other", "a", "b", "1"))

	en := NewEnricher(env.reader, env.txs, env.locker, EnricherOptions{})
	res, err := en.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int64(2), env.rpc.Calls())
}

func TestEnricher_SkippedWhenLocked(t *testing.T) {
	env := newTestEnv(t)
	env.seedIndexed(t, "s1")
	require.True(t, env.locker.TryAcquire(context.Background(), joblock.FetchTransactions))

	en := NewEnricher(env.reader, env.txs, env.locker, EnricherOptions{})
	res, err := en.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, env.counts(t)[domain.StatusIndexed])
}

// failingStore fails the batch query after the lock is taken.
type failingStore struct {
	storage.TransactionStore
}

func (failingStore) ListByStatus(context.Context, domain.TxStatus, int) ([]*domain.TrackedTransaction, error) {
	return nil, errors.New("connection reset")
}

func TestEnricher_ReleasesLockOnError(t *testing.T) {
	env := newTestEnv(t)

	en := NewEnricher(env.reader, failingStore{env.txs}, env.locker, EnricherOptions{})
	_, err := en.Run(context.Background())
	require.Error(t, err)

	assert.True(t, env.locker.TryAcquire(context.Background(), joblock.FetchTransactions))
}
