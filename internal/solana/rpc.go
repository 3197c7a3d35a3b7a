package solana

import "context"

// RPCClient defines the read-only Solana RPC surface used for reconciliation.
type RPCClient interface {
	// GetSignaturesForAddress retrieves signatures for an address with pagination, newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetParsedTransaction retrieves a jsonParsed transaction. Returns nil if not found.
	GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error)

	// GetParsedTransactions retrieves many transactions in one JSON-RPC batch.
	// Per-signature failures are reported in the result, not as the returned error.
	GetParsedTransactions(ctx context.Context, signatures []string) ([]TransactionResult, error)

	// GetTokenAccountsByOwner lists token accounts of owner holding mint.
	GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]TokenAccount, error)

	// GetAccountInfo retrieves account info by public key. Returns nil if not found.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)
}

// TransactionResult is one item of a batched getTransaction call.
type TransactionResult struct {
	Signature   string
	Transaction *ParsedTransaction // nil when not found or on error
	Err         error
}
