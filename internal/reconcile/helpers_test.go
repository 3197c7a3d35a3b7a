package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NargusS/tiltpay-backend/internal/chainreader"
	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/joblock"
	"github.com/NargusS/tiltpay-backend/internal/ratelimit"
	"github.com/NargusS/tiltpay-backend/internal/solana"
	"github.com/NargusS/tiltpay-backend/internal/solana/stub"
	"github.com/NargusS/tiltpay-backend/internal/storage/memory"
)

const testMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

type unlimited struct{}

func (unlimited) Acquire(context.Context) (ratelimit.Acquisition, error) {
	return ratelimit.Acquisition{Count: 1}, nil
}

type testEnv struct {
	rpc     *stub.RPCClient
	reader  *chainreader.Reader
	txs     *memory.TransactionStore
	locks   *memory.JobLockStore
	locker  *joblock.Locker
	wallets *memory.WalletStore
}

func newTestEnv(t *testing.T, wallets ...domain.Wallet) *testEnv {
	t.Helper()
	rpc := stub.NewRPCClient()
	locks := memory.NewJobLockStore()
	return &testEnv{
		rpc:     rpc,
		reader:  chainreader.New(rpc, unlimited{}, chainreader.Config{}, nil),
		txs:     memory.NewTransactionStore(),
		locks:   locks,
		locker:  joblock.New(locks, joblock.Options{Holder: "test"}),
		wallets: memory.NewWalletStore(wallets...),
	}
}

func (e *testEnv) seedIndexed(t *testing.T, sigs ...string) {
	t.Helper()
	rows := make([]*domain.TrackedTransaction, len(sigs))
	for i, sig := range sigs {
		rows[i] = &domain.TrackedTransaction{
			Signature: sig,
			Mint:      testMint,
			Slot:      int64(100 + i),
			Status:    domain.StatusIndexed,
		}
	}
	_, err := e.txs.InsertIndexed(context.Background(), rows)
	require.NoError(t, err)
}

func (e *testEnv) counts(t *testing.T) map[domain.TxStatus]int {
	t.Helper()
	counts, err := e.txs.CountByStatus(context.Background())
	require.NoError(t, err)
	return counts
}

// transferTx moves amount (display units, 6 decimals) from one owner to another.
func transferTx(sig, from, to, amount string) *solana.ParsedTransaction {
	tb := func(idx int, owner, ui string) solana.TokenBalance {
		return solana.TokenBalance{
			AccountIndex:  idx,
			Mint:          testMint,
			Owner:         owner,
			UITokenAmount: solana.UITokenAmount{UIAmountString: ui, Decimals: 6},
		}
	}
	return &solana.ParsedTransaction{
		Signature: sig,
		Slot:      10,
		Meta: &solana.ParsedMeta{
			PreTokenBalances:  []solana.TokenBalance{tb(0, from, amount), tb(1, to, "0")},
			PostTokenBalances: []solana.TokenBalance{tb(0, from, "0"), tb(1, to, amount)},
		},
		Message: solana.ParsedMessage{AccountKeys: []string{from + "Ata", to + "Ata"}},
	}
}
