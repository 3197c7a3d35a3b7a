// Package chainreader is the rate-limited read path to the Solana RPC node.
// Every outbound RPC request, retries included, acquires a limiter slot and
// runs under a per-call timeout.
package chainreader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/parser"
	"github.com/NargusS/tiltpay-backend/internal/ratelimit"
	"github.com/NargusS/tiltpay-backend/internal/solana"
)

// Limiter grants permission for one RPC request.
type Limiter interface {
	Acquire(ctx context.Context) (ratelimit.Acquisition, error)
}

// Config holds reader options.
type Config struct {
	CallTimeout  time.Duration // per RPC request
	MaxBatchSize int           // signatures per batched getTransaction request

	// MaxRetries re-sends requests that failed in transport (solana.IsRetryable).
	// Negative disables retries. The RPC client itself should not retry.
	MaxRetries    int
	RetryDelay    time.Duration // first backoff, doubled per retry
	MaxRetryDelay time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:   30 * time.Second,
		MaxBatchSize:  50,
		MaxRetries:    solana.DefaultMaxRetries,
		RetryDelay:    solana.DefaultRetryDelay,
		MaxRetryDelay: solana.DefaultMaxDelay,
	}
}

// Reader wraps an RPC client with rate limiting and parsing.
type Reader struct {
	rpc     solana.RPCClient
	limiter Limiter
	config  Config
	logger  *zap.Logger
}

// New creates a reader. Zero config fields take their defaults.
func New(rpc solana.RPCClient, limiter Limiter, config Config, logger *zap.Logger) *Reader {
	def := DefaultConfig()
	if config.CallTimeout <= 0 {
		config.CallTimeout = def.CallTimeout
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = def.MaxBatchSize
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}
	if config.MaxRetryDelay < config.RetryDelay {
		config.MaxRetryDelay = max(def.MaxRetryDelay, config.RetryDelay)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{rpc: rpc, limiter: limiter, config: config, logger: logger}
}

// ListOptions bounds a signature listing. Before and Until are exclusive.
type ListOptions struct {
	Limit  int
	Before string
	Until  string
}

// BatchResult holds per-signature outcomes of a batched fetch.
// A signature appears in at most one of the maps; a signature in neither
// was fetched but had nothing to parse.
type BatchResult struct {
	Transfers map[string]*domain.Transfer
	Errors    map[string]error
}

// call runs fn once per attempt. Each attempt acquires its own limiter slot,
// so a retried request is metered like a new one. Only transport failures
// are retried, with exponential backoff.
func (r *Reader) call(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := r.config.RetryDelay

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(2*delay, r.config.MaxRetryDelay)
		}

		if _, err := r.limiter.Acquire(ctx); err != nil {
			return fmt.Errorf("acquire rate limit: %w", err)
		}

		err := r.attempt(ctx, fn)
		if err == nil || ctx.Err() != nil || !solana.IsRetryable(err) || attempt >= r.config.MaxRetries {
			return err
		}
		r.logger.Debug("retrying rpc request",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}
}

func (r *Reader) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// ResolveTokenAccount returns the token account of owner for mint, or an
// empty string when none exists. On-curve owners use the canonical associated
// token address; off-curve owners are looked up on chain.
func (r *Reader) ResolveTokenAccount(ctx context.Context, owner, mint string) (string, error) {
	ata, err := solana.FindAssociatedTokenAddress(owner, mint)
	switch {
	case err == nil:
		return ata, nil
	case errors.Is(err, solana.ErrInvalidAddress):
		r.logger.Debug("invalid address, no token account", zap.String("owner", owner), zap.Error(err))
		return "", nil
	case !errors.Is(err, solana.ErrOwnerOffCurve):
		return "", err
	}

	var accounts []solana.TokenAccount
	err = r.call(ctx, func(ctx context.Context) error {
		var err error
		accounts, err = r.rpc.GetTokenAccountsByOwner(ctx, owner, mint)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("get token accounts of %s: %w", owner, err)
	}
	if len(accounts) == 0 {
		return "", nil
	}
	return accounts[0].Pubkey, nil
}

// ListSignatures returns signatures touching address, newest first.
func (r *Reader) ListSignatures(ctx context.Context, address string, opts ListOptions) ([]solana.SignatureInfo, error) {
	var sigs []solana.SignatureInfo
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		sigs, err = r.rpc.GetSignaturesForAddress(ctx, address, &solana.SignaturesOpts{
			Limit:  opts.Limit,
			Before: opts.Before,
			Until:  opts.Until,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list signatures of %s: %w", address, err)
	}
	return sigs, nil
}

// FetchAndParse fetches one transaction and parses it for mint. A nil
// viewpoint selects global mode. Returns nil without error when the
// transaction is missing, has no metadata, or has no relevant delta.
func (r *Reader) FetchAndParse(ctx context.Context, mint, signature string, vp *parser.Viewpoint) (*domain.Transfer, error) {
	var tx *solana.ParsedTransaction
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		tx, err = r.rpc.GetParsedTransaction(ctx, signature)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", signature, err)
	}
	return parse(tx, mint, vp), nil
}

// FetchAndParseBatch fetches signatures in batched requests of at most
// MaxBatchSize, one limiter slot per request. A failed request records its
// error for every signature it carried and the remaining chunks still run.
// Only context cancellation aborts the whole batch.
func (r *Reader) FetchAndParseBatch(ctx context.Context, mint string, signatures []string, vp *parser.Viewpoint) (*BatchResult, error) {
	result := &BatchResult{
		Transfers: make(map[string]*domain.Transfer, len(signatures)),
		Errors:    make(map[string]error),
	}

	for start := 0; start < len(signatures); start += r.config.MaxBatchSize {
		end := min(start+r.config.MaxBatchSize, len(signatures))
		chunk := signatures[start:end]

		var items []solana.TransactionResult
		err := r.call(ctx, func(ctx context.Context) error {
			var err error
			items, err = r.rpc.GetParsedTransactions(ctx, chunk)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			r.logger.Warn("batch request failed",
				zap.Int("signatures", len(chunk)),
				zap.Error(err),
			)
			for _, sig := range chunk {
				result.Errors[sig] = err
			}
			continue
		}

		for _, item := range items {
			if item.Err != nil {
				result.Errors[item.Signature] = item.Err
				continue
			}
			if t := parse(item.Transaction, mint, vp); t != nil {
				result.Transfers[item.Signature] = t
			}
		}
	}
	return result, nil
}

func parse(tx *solana.ParsedTransaction, mint string, vp *parser.Viewpoint) *domain.Transfer {
	if tx == nil || tx.Meta == nil {
		return nil
	}
	if vp == nil {
		return parser.ParseGlobal(tx, mint)
	}
	return parser.ParseWalletRelative(tx, mint, *vp)
}

// TokenTransactionHistory returns the wallet-relative transfers of owner for
// mint from its latest limit signatures. When no token account can be derived
// and owner itself exists on chain, owner is treated as the token account.
// Unparseable transactions are skipped.
func (r *Reader) TokenTransactionHistory(ctx context.Context, owner, mint string, limit int) ([]domain.Transfer, error) {
	tokenAccount, err := r.ResolveTokenAccount(ctx, owner, mint)
	if err != nil {
		return nil, err
	}

	probe := tokenAccount
	if probe == "" {
		probe = owner
	}
	exists, err := r.accountExists(ctx, probe)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	if tokenAccount == "" {
		tokenAccount = owner
	}

	sigs, err := r.ListSignatures(ctx, tokenAccount, ListOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, nil
	}

	signatures := make([]string, len(sigs))
	for i, s := range sigs {
		signatures[i] = s.Signature
	}
	batch, err := r.FetchAndParseBatch(ctx, mint, signatures, &parser.Viewpoint{TokenAccount: tokenAccount, Owner: owner})
	if err != nil {
		return nil, err
	}
	for sig, err := range batch.Errors {
		r.logger.Debug("skipping transaction", zap.String("signature", sig), zap.Error(err))
	}

	transfers := make([]domain.Transfer, 0, len(batch.Transfers))
	for _, sig := range signatures {
		if t, ok := batch.Transfers[sig]; ok {
			transfers = append(transfers, *t)
		}
	}
	return transfers, nil
}

func (r *Reader) accountExists(ctx context.Context, address string) (bool, error) {
	if _, err := solana.DecodeAddress(address); err != nil {
		return false, nil
	}
	var info *solana.AccountInfo
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		info, err = r.rpc.GetAccountInfo(ctx, address)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("get account info %s: %w", address, err)
	}
	return info != nil, nil
}
