// Package history serves the reconciled transfer history of a wallet.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/parser"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// Currency is reported for every entry; the tracked mint is a USD stablecoin.
const Currency = "usd"

// ErrOnChainDisabled is returned by OnChain when no chain reader is configured.
var ErrOnChainDisabled = errors.New("on-chain history disabled")

// Entry is one transfer as seen by the queried address.
type Entry struct {
	ID        int64            `json:"id"`
	Signature string           `json:"signature"`
	CreatedAt string           `json:"createdAt"` // RFC3339 block time, empty if unknown
	Amount    int64            `json:"amount"`    // smallest units
	Currency  string           `json:"currency"`
	Type      domain.Direction `json:"type"`
}

// OnChainReader reads history straight from the chain.
type OnChainReader interface {
	TokenTransactionHistory(ctx context.Context, owner, mint string, limit int) ([]domain.Transfer, error)
}

// Service answers history queries from the transaction store.
type Service struct {
	txs    storage.TransactionStore
	reader OnChainReader
	mint   string
}

// NewService creates a service. reader may be nil.
func NewService(txs storage.TransactionStore, reader OnChainReader, mint string) *Service {
	return &Service{txs: txs, reader: reader, mint: mint}
}

// Transactions returns fetched transfers where address is the sender or the
// receiver, newest first. Type is debit when address is the sender.
func (s *Service) Transactions(ctx context.Context, address string) ([]Entry, error) {
	rows, err := s.txs.ListFetchedByAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("list transactions of %s: %w", address, err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toEntry(row, address))
	}
	return entries, nil
}

func toEntry(row *domain.TrackedTransaction, address string) Entry {
	e := Entry{
		ID:        row.ID,
		Signature: row.Signature,
		Currency:  Currency,
		Type:      relativeDirection(row, address),
	}
	if row.BlockTime != nil {
		e.CreatedAt = time.Unix(*row.BlockTime, 0).UTC().Format(time.RFC3339)
	}
	if row.Amount != nil {
		e.Amount = *row.Amount
	}
	return e
}

func relativeDirection(row *domain.TrackedTransaction, address string) domain.Direction {
	if row.FromAddress != nil && *row.FromAddress == address {
		return domain.DirectionDebit
	}
	return domain.DirectionCredit
}

// Stats summarizes the stored history of address.
func (s *Service) Stats(ctx context.Context, address string) (parser.Stats, error) {
	rows, err := s.txs.ListFetchedByAddress(ctx, address)
	if err != nil {
		return parser.Stats{}, fmt.Errorf("list transactions of %s: %w", address, err)
	}

	transfers := make([]domain.Transfer, 0, len(rows))
	for _, row := range rows {
		t := domain.Transfer{
			Signature: row.Signature,
			Direction: relativeDirection(row, address),
		}
		if row.Amount != nil {
			t.Amount = *row.Amount
		}
		if row.Decimals != nil {
			t.Decimals = *row.Decimals
		}
		if row.FromAddress != nil {
			t.From = *row.FromAddress
		}
		if row.ToAddress != nil {
			t.To = *row.ToAddress
		}
		transfers = append(transfers, t)
	}
	return parser.Summarize(transfers), nil
}

// OnChain returns the latest transfers of owner read directly from the chain.
func (s *Service) OnChain(ctx context.Context, owner string, limit int) ([]domain.Transfer, error) {
	if s.reader == nil {
		return nil, ErrOnChainDisabled
	}
	return s.reader.TokenTransactionHistory(ctx, owner, s.mint, limit)
}
