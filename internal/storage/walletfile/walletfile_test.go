package walletfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NargusS/tiltpay-backend/internal/storage"
)

const sample = `
wallets:
  - id: 2
    address: ownerB
  - id: 1
    address: ownerA
    usdc_token_account: tokenA
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wallets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_SortsAndFilters(t *testing.T) {
	dir, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	ctx := context.Background()
	all, err := dir.ListPrimary(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID)
	assert.Equal(t, "tokenA", all[0].USDCTokenAccountAddress)

	pending, err := dir.ListForTokenAccountUpdate(ctx, false, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ownerB", pending[0].Address)
}

func TestSetTokenAccount_Persists(t *testing.T) {
	path := writeFile(t, sample)
	dir, err := Load(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, dir.SetTokenAccount(ctx, 2, "tokenB"))
	assert.ErrorIs(t, dir.SetTokenAccount(ctx, 42, "x"), storage.ErrNotFound)

	reloaded, err := Load(path)
	require.NoError(t, err)
	pending, err := reloaded.ListForTokenAccountUpdate(ctx, false, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeFile(t, "wallets:\n  - id: 1\n"))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = Load(writeFile(t, "wallets:\n  - {id: 1, address: a}\n  - {id: 1, address: b}\n"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
