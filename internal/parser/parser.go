// Package parser extracts token transfers from parsed Solana transactions.
//
// Two modes exist. Wallet-relative parsing adopts one token account as the
// viewpoint and reports the net change of that account. Global parsing has no
// viewpoint and pairs the largest outflow with the largest inflow of the mint.
package parser

import (
	"github.com/shopspring/decimal"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/solana"
)

// Viewpoint is the tracked side of a wallet-relative parse.
type Viewpoint struct {
	TokenAccount string
	Owner        string
}

// ParseWalletRelative returns the net transfer of mint for the viewpoint's
// token account, or nil when the account has no balance snapshot for mint,
// the net change is zero, or the transaction has no metadata.
func ParseWalletRelative(tx *solana.ParsedTransaction, mint string, vp Viewpoint) *domain.Transfer {
	if tx == nil || tx.Meta == nil {
		return nil
	}
	meta := tx.Meta

	trackedIdx := tx.Message.IndexOf(vp.TokenAccount)
	pre := lookupBalance(meta.PreTokenBalances, trackedIdx, mint, vp.Owner)
	post := lookupBalance(meta.PostTokenBalances, trackedIdx, mint, vp.Owner)
	if pre == nil && post == nil {
		return nil
	}

	preUI := uiAmount(pre)
	postUI := uiAmount(post)
	delta := postUI.Sub(preUI)
	if delta.IsZero() {
		return nil
	}

	decimals := 0
	if pre != nil {
		decimals = pre.UITokenAmount.Decimals
	} else {
		decimals = post.UITokenAmount.Decimals
	}

	// The tracked index may be unknown when both snapshots matched by owner.
	if trackedIdx < 0 {
		if pre != nil {
			trackedIdx = pre.AccountIndex
		} else {
			trackedIdx = post.AccountIndex
		}
	}
	trackedAccount := tx.Message.AccountKey(trackedIdx)
	if trackedAccount == "" {
		trackedAccount = vp.TokenAccount
	}

	direction := domain.DirectionDebit
	if delta.IsPositive() {
		direction = domain.DirectionCredit
	}

	req := counterpartyRequest{
		tx:             tx,
		mint:           mint,
		direction:      direction,
		trackedIdx:     trackedIdx,
		trackedAccount: trackedAccount,
		amount:         delta.Abs(),
		owner:          vp.Owner,
	}
	cp := resolveCounterparty(req)

	t := &domain.Transfer{
		Signature:           tx.Signature,
		Slot:                tx.Slot,
		BlockTime:           tx.BlockTime,
		Mint:                mint,
		Amount:              toSmallestUnits(delta, decimals),
		Decimals:            decimals,
		Direction:           direction,
		TrackedTokenAccount: trackedAccount,
	}
	if direction == domain.DirectionCredit {
		t.From, t.FromTokenAccount = cp.Owner, cp.TokenAccount
		t.To, t.ToTokenAccount = vp.Owner, trackedAccount
	} else {
		t.From, t.FromTokenAccount = vp.Owner, trackedAccount
		t.To, t.ToTokenAccount = cp.Owner, cp.TokenAccount
	}
	return t
}

// ParseGlobal pairs the most negative and most positive balance deltas of mint.
// The smaller magnitude of the two is reported. Returns nil when no account of
// mint gained balance.
func ParseGlobal(tx *solana.ParsedTransaction, mint string) *domain.Transfer {
	if tx == nil || tx.Meta == nil {
		return nil
	}

	table := deltaTable(tx.Meta, mint)
	var src, dst *accountDelta
	for i := range table {
		row := &table[i]
		if row.delta.IsNegative() && (src == nil || row.delta.LessThan(src.delta)) {
			src = row
		}
		if row.delta.IsPositive() && (dst == nil || row.delta.GreaterThan(dst.delta)) {
			dst = row
		}
	}
	if dst == nil {
		return nil
	}

	amount := dst.delta
	direction := domain.DirectionCredit
	if src != nil {
		amount = decimal.Min(src.delta.Abs(), dst.delta)
		direction = domain.DirectionDebit
	}

	t := &domain.Transfer{
		Signature:      tx.Signature,
		Slot:           tx.Slot,
		BlockTime:      tx.BlockTime,
		Mint:           mint,
		Amount:         toSmallestUnits(amount, dst.decimals),
		Decimals:       dst.decimals,
		Direction:      direction,
		To:             dst.owner,
		ToTokenAccount: tx.Message.AccountKey(dst.index),
	}
	if src != nil {
		t.From = src.owner
		t.FromTokenAccount = tx.Message.AccountKey(src.index)
	}
	return t
}
