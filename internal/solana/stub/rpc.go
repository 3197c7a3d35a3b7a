package stub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/NargusS/tiltpay-backend/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
// Maps may be populated directly before use or through the Add* helpers.
type RPCClient struct {
	mu sync.RWMutex

	Transactions  map[string]*solana.ParsedTransaction
	Errors        map[string]error // per-signature fetch errors
	Signatures    map[string][]solana.SignatureInfo
	TokenAccounts map[string][]solana.TokenAccount // keyed by owner
	Accounts      map[string]*solana.AccountInfo

	// SignaturesErr, TokenAccountsErr and BatchErr fail every call of that
	// method when set.
	SignaturesErr    error
	TokenAccountsErr error
	BatchErr         error

	calls atomic.Int64
}

var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions:  make(map[string]*solana.ParsedTransaction),
		Errors:        make(map[string]error),
		Signatures:    make(map[string][]solana.SignatureInfo),
		TokenAccounts: make(map[string][]solana.TokenAccount),
		Accounts:      make(map[string]*solana.AccountInfo),
	}
}

// Calls returns the number of RPC methods invoked so far.
// A batch counts as a single call.
func (c *RPCClient) Calls() int64 {
	return c.calls.Load()
}

// GetParsedTransaction returns the stored transaction, nil if unknown.
func (c *RPCClient) GetParsedTransaction(ctx context.Context, signature string) (*solana.ParsedTransaction, error) {
	c.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err, ok := c.Errors[signature]; ok {
		return nil, err
	}
	return c.Transactions[signature], nil
}

// GetParsedTransactions returns one result per signature in request order.
func (c *RPCClient) GetParsedTransactions(ctx context.Context, signatures []string) ([]solana.TransactionResult, error) {
	c.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.BatchErr != nil {
		return nil, c.BatchErr
	}

	results := make([]solana.TransactionResult, len(signatures))
	for i, sig := range signatures {
		results[i] = solana.TransactionResult{Signature: sig}
		if err, ok := c.Errors[sig]; ok {
			results[i].Err = err
			continue
		}
		results[i].Transaction = c.Transactions[sig]
	}
	return results, nil
}

// GetSignaturesForAddress pages through the stored signatures, newest first.
// Before and Until are exclusive bounds, matching the RPC node.
func (c *RPCClient) GetSignaturesForAddress(ctx context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.SignaturesErr != nil {
		return nil, c.SignaturesErr
	}

	sigs := c.Signatures[address]
	if opts == nil {
		return append([]solana.SignatureInfo(nil), sigs...), nil
	}

	start := 0
	if opts.Before != "" {
		start = len(sigs)
		for i, s := range sigs {
			if s.Signature == opts.Before {
				start = i + 1
				break
			}
		}
	}

	var out []solana.SignatureInfo
	for _, s := range sigs[start:] {
		if opts.Until != "" && s.Signature == opts.Until {
			break
		}
		out = append(out, s)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// GetTokenAccountsByOwner returns stored token accounts of owner matching mint.
func (c *RPCClient) GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]solana.TokenAccount, error) {
	c.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.TokenAccountsErr != nil {
		return nil, c.TokenAccountsErr
	}

	var out []solana.TokenAccount
	for _, acc := range c.TokenAccounts[owner] {
		if acc.Mint == mint {
			out = append(out, acc)
		}
	}
	return out, nil
}

// GetAccountInfo returns stored account info, nil if unknown.
func (c *RPCClient) GetAccountInfo(ctx context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Accounts[pubkey], nil
}

// AddTransaction stores a transaction under its signature.
func (c *RPCClient) AddTransaction(tx *solana.ParsedTransaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// AddError makes fetches of signature fail with err.
func (c *RPCClient) AddError(signature string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Errors[signature] = err
}

// AddSignatures stores signatures for an address, newest first.
func (c *RPCClient) AddSignatures(address string, sigs []solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Signatures[address] = sigs
}

// AddTokenAccount stores a token account under its owner.
func (c *RPCClient) AddTokenAccount(acc solana.TokenAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TokenAccounts[acc.Owner] = append(c.TokenAccounts[acc.Owner], acc)
}
