package parser

import (
	"github.com/shopspring/decimal"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/solana"
)

// Counterparty is the other side of a wallet-relative transfer.
// TokenAccount is empty when only the owner is known.
type Counterparty struct {
	Owner        string
	TokenAccount string
	Strategy     string
}

const (
	StrategyBalanceDelta    = "balance_delta"
	StrategyInstructionScan = "instruction_scan"
	StrategySelf            = "self"
)

type counterpartyRequest struct {
	tx             *solana.ParsedTransaction
	mint           string
	direction      domain.Direction
	trackedIdx     int
	trackedAccount string
	amount         decimal.Decimal // display units, positive
	owner          string
}

// resolveCounterparty runs the strategies in order; the first hit wins.
func resolveCounterparty(req counterpartyRequest) Counterparty {
	if cp, ok := balanceDelta(req); ok {
		return cp
	}
	if cp, ok := instructionScan(req); ok {
		return cp
	}
	return self(req)
}

// balanceDelta looks for a same-mint account that moved the opposite way.
// For a credit it scans pre-balances for a decrease, for a debit post-balances
// for an increase. An exact amount match is preferred over the first candidate.
func balanceDelta(req counterpartyRequest) (Counterparty, bool) {
	meta := req.tx.Meta
	scan, other := meta.PreTokenBalances, meta.PostTokenBalances
	if req.direction == domain.DirectionDebit {
		scan, other = meta.PostTokenBalances, meta.PreTokenBalances
	}

	var first *solana.TokenBalance
	for i := range scan {
		b := &scan[i]
		if b.Mint != req.mint || b.AccountIndex == req.trackedIdx || b.Owner == "" {
			continue
		}
		// Missing counterpart snapshot counts as zero (created or closed account).
		moved := uiAmount(b).Sub(uiAmount(byIndex(other, b.AccountIndex, req.mint)))
		if !moved.IsPositive() {
			continue
		}
		if moved.Equal(req.amount) {
			return fromBalance(req.tx, b, StrategyBalanceDelta), true
		}
		if first == nil {
			first = b
		}
	}
	if first != nil {
		return fromBalance(req.tx, first, StrategyBalanceDelta), true
	}
	return Counterparty{}, false
}

func fromBalance(tx *solana.ParsedTransaction, b *solana.TokenBalance, strategy string) Counterparty {
	return Counterparty{
		Owner:        b.Owner,
		TokenAccount: tx.Message.AccountKey(b.AccountIndex),
		Strategy:     strategy,
	}
}

// instructionScan looks for an spl-token transfer touching the tracked account,
// top-level instructions first, then inner instructions.
func instructionScan(req counterpartyRequest) (Counterparty, bool) {
	for _, ix := range req.tx.Message.Instructions {
		if cp, ok := fromInstruction(req, ix); ok {
			return cp, true
		}
	}
	for _, inner := range req.tx.Meta.InnerInstructions {
		for _, ix := range inner.Instructions {
			if cp, ok := fromInstruction(req, ix); ok {
				return cp, true
			}
		}
	}
	return Counterparty{}, false
}

func isTokenTransfer(ix solana.ParsedInstruction) bool {
	if ix.Program != "spl-token" {
		return false
	}
	return ix.Type == "transfer" || ix.Type == "transferChecked"
}

func fromInstruction(req counterpartyRequest, ix solana.ParsedInstruction) (Counterparty, bool) {
	if !isTokenTransfer(ix) {
		return Counterparty{}, false
	}
	info := ix.Info
	if info.Mint != "" && info.Mint != req.mint {
		return Counterparty{}, false
	}

	if req.direction == domain.DirectionCredit {
		if info.Source == "" || info.Source == req.trackedAccount {
			return Counterparty{}, false
		}
		if info.Destination != "" && info.Destination != req.trackedAccount {
			return Counterparty{}, false
		}
		owner := info.Authority
		if owner == "" {
			owner = ownerOf(req.tx, info.Source, req.mint)
		}
		if owner == "" {
			owner = info.Source
		}
		return Counterparty{Owner: owner, TokenAccount: info.Source, Strategy: StrategyInstructionScan}, true
	}

	if info.Destination == "" || info.Destination == req.trackedAccount {
		return Counterparty{}, false
	}
	if info.Source != "" && info.Source != req.trackedAccount {
		return Counterparty{}, false
	}
	owner := ownerOf(req.tx, info.Destination, req.mint)
	if owner == "" {
		owner = info.Destination
	}
	return Counterparty{Owner: owner, TokenAccount: info.Destination, Strategy: StrategyInstructionScan}, true
}

// ownerOf resolves a token account's owner through the balance snapshots,
// post first.
func ownerOf(tx *solana.ParsedTransaction, tokenAccount, mint string) string {
	idx := tx.Message.IndexOf(tokenAccount)
	if idx < 0 {
		return ""
	}
	if b := byIndex(tx.Meta.PostTokenBalances, idx, mint); b != nil && b.Owner != "" {
		return b.Owner
	}
	if b := byIndex(tx.Meta.PreTokenBalances, idx, mint); b != nil {
		return b.Owner
	}
	return ""
}

// self leaves the counterparty equal to the tracked owner.
func self(req counterpartyRequest) Counterparty {
	return Counterparty{Owner: req.owner, Strategy: StrategySelf}
}
