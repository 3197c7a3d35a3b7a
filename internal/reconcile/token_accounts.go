package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/joblock"
	"github.com/NargusS/tiltpay-backend/internal/observability"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// UpdateOptions selects wallets for token-account resolution.
type UpdateOptions struct {
	Force bool // re-resolve wallets that already have a token account
	Limit int  // <= 0 means no limit
}

// UpdateResult summarizes one updater run.
type UpdateResult struct {
	Skipped    bool
	Processed  int
	Updated    int
	Unresolved int               // no token account exists on chain
	Errors     map[string]string // wallet address -> error
}

// TokenAccountUpdater resolves and stores the USDC token account of wallets.
type TokenAccountUpdater struct {
	reader  ChainReader
	wallets storage.WalletDirectory
	locker  *joblock.Locker
	mint    string
	logger  *zap.Logger
}

// NewTokenAccountUpdater creates an updater for mint.
func NewTokenAccountUpdater(reader ChainReader, wallets storage.WalletDirectory, locker *joblock.Locker, mint string, logger *zap.Logger) *TokenAccountUpdater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenAccountUpdater{reader: reader, wallets: wallets, locker: locker, mint: mint, logger: logger}
}

// Run resolves the selected wallets. Per-wallet failures are collected in the
// result and do not stop the run.
func (u *TokenAccountUpdater) Run(ctx context.Context, opts UpdateOptions) (*UpdateResult, error) {
	start := time.Now()
	result := &UpdateResult{Errors: make(map[string]string)}

	ran, err := u.locker.Run(ctx, joblock.UpdateTokenAccounts, func(ctx context.Context) error {
		wallets, err := u.wallets.ListForTokenAccountUpdate(ctx, opts.Force, opts.Limit)
		if err != nil {
			return fmt.Errorf("list wallets: %w", err)
		}

		for _, w := range wallets {
			if err := ctx.Err(); err != nil {
				return err
			}
			result.Processed++

			ta, err := u.reader.ResolveTokenAccount(ctx, w.Address, u.mint)
			if err != nil {
				result.Errors[w.Address] = err.Error()
				observability.RecordWalletError(joblock.UpdateTokenAccounts)
				u.logger.Error("failed to resolve token account", zap.String("address", w.Address), zap.Error(err))
				continue
			}
			if ta == "" {
				result.Unresolved++
				u.logger.Warn("no token account found", zap.String("address", w.Address))
				continue
			}
			if ta == w.USDCTokenAccountAddress {
				continue
			}
			if err := u.wallets.SetTokenAccount(ctx, w.ID, ta); err != nil {
				result.Errors[w.Address] = err.Error()
				u.logger.Error("failed to store token account", zap.String("address", w.Address), zap.Error(err))
				continue
			}
			result.Updated++
			u.logger.Info("token account updated",
				zap.String("address", w.Address),
				zap.String("token_account", ta),
			)
		}
		return nil
	})
	if !ran {
		result.Skipped = true
		return result, err
	}
	observability.RecordJobRun(joblock.UpdateTokenAccounts, time.Since(start), err)
	return result, err
}
