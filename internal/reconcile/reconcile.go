// Package reconcile contains the batch jobs that keep token_transactions in
// sync with the chain: signature indexing, enrichment, failed-row
// reprocessing, live watching and token-account backfill.
package reconcile

import (
	"context"

	"github.com/NargusS/tiltpay-backend/internal/chainreader"
	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/parser"
	"github.com/NargusS/tiltpay-backend/internal/solana"
)

// ChainReader is the subset of chainreader.Reader used by the jobs.
type ChainReader interface {
	ResolveTokenAccount(ctx context.Context, owner, mint string) (string, error)
	ListSignatures(ctx context.Context, address string, opts chainreader.ListOptions) ([]solana.SignatureInfo, error)
	FetchAndParse(ctx context.Context, mint, signature string, vp *parser.Viewpoint) (*domain.Transfer, error)
	FetchAndParseBatch(ctx context.Context, mint string, signatures []string, vp *parser.Viewpoint) (*chainreader.BatchResult, error)
}

var _ ChainReader = (*chainreader.Reader)(nil)

