package reconcile

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/observability"
	"github.com/NargusS/tiltpay-backend/internal/solana"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// WatcherOptions configures the Watcher.
type WatcherOptions struct {
	Mint   string
	Logger *zap.Logger
}

// Watcher inserts an indexed stub for every live log notification that
// mentions a tracked token account.
type Watcher struct {
	ws      solana.WSClient
	wallets storage.WalletDirectory
	txs     storage.TransactionStore
	opts    WatcherOptions
}

// NewWatcher creates a watcher.
func NewWatcher(ws solana.WSClient, wallets storage.WalletDirectory, txs storage.TransactionStore, opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Watcher{ws: ws, wallets: wallets, txs: txs, opts: opts}
}

// Run subscribes to every tracked token account and blocks until ctx is done
// or all subscriptions are closed. Returns the number of rows inserted.
func (w *Watcher) Run(ctx context.Context) (int, error) {
	wallets, err := w.wallets.ListPrimary(ctx)
	if err != nil {
		return 0, fmt.Errorf("list wallets: %w", err)
	}

	// One address per subscription; nodes reject multiple mentions.
	var channels []<-chan solana.LogNotification
	for _, wallet := range wallets {
		if !wallet.HasTokenAccount() {
			continue
		}
		ch, err := w.ws.SubscribeLogs(ctx, solana.LogsFilter{
			Mentions: []string{wallet.USDCTokenAccountAddress},
		})
		if err != nil {
			return 0, fmt.Errorf("subscribe %s: %w", wallet.USDCTokenAccountAddress, err)
		}
		channels = append(channels, ch)
		w.opts.Logger.Info("subscribed",
			zap.Int64("wallet_id", wallet.ID),
			zap.String("token_account", wallet.USDCTokenAccountAddress),
		)
	}
	if len(channels) == 0 {
		w.opts.Logger.Warn("no token accounts to watch")
		return 0, nil
	}

	merged := make(chan solana.LogNotification, 100)
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch <-chan solana.LogNotification) {
			defer wg.Done()
			for notif := range ch {
				select {
				case merged <- notif:
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	inserted := 0
	for {
		select {
		case <-ctx.Done():
			return inserted, nil
		case notif, ok := <-merged:
			if !ok {
				w.opts.Logger.Info("all subscriptions closed")
				return inserted, nil
			}
			observability.RecordWatchNotification()
			n, err := w.txs.InsertIndexed(ctx, []*domain.TrackedTransaction{{
				Signature: notif.Signature,
				Mint:      w.opts.Mint,
				Slot:      notif.Slot,
				Status:    domain.StatusIndexed,
			}})
			if err != nil {
				w.opts.Logger.Error("failed to insert signature",
					zap.String("signature", notif.Signature),
					zap.Error(err),
				)
				continue
			}
			inserted += n
			observability.RecordIndexed(n)
		}
	}
}
