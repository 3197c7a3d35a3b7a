package parser

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/NargusS/tiltpay-backend/internal/solana"
)

// uiAmount returns the display-unit amount of a balance. uiAmountString is
// preferred; the raw amount shifted by decimals is used when it is absent.
// Unparseable values count as zero.
func uiAmount(b *solana.TokenBalance) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	if s := b.UITokenAmount.UIAmountString; s != "" {
		if d, err := decimal.NewFromString(s); err == nil {
			return d
		}
	}
	if s := b.UITokenAmount.Amount; s != "" {
		if d, err := decimal.NewFromString(s); err == nil {
			return d.Shift(-int32(b.UITokenAmount.Decimals))
		}
	}
	return decimal.Zero
}

// toSmallestUnits converts a display amount to an integer of smallest units,
// rounding half away from zero.
func toSmallestUnits(ui decimal.Decimal, decimals int) int64 {
	return ui.Abs().Shift(int32(decimals)).Round(0).IntPart()
}

// byIndex returns the balance of mint at accountIndex, or nil.
func byIndex(balances []solana.TokenBalance, accountIndex int, mint string) *solana.TokenBalance {
	if accountIndex < 0 {
		return nil
	}
	for i := range balances {
		if balances[i].AccountIndex == accountIndex && balances[i].Mint == mint {
			return &balances[i]
		}
	}
	return nil
}

// byOwner returns the first balance of mint held by owner, or nil.
func byOwner(balances []solana.TokenBalance, mint, owner string) *solana.TokenBalance {
	if owner == "" {
		return nil
	}
	for i := range balances {
		if balances[i].Mint == mint && balances[i].Owner == owner {
			return &balances[i]
		}
	}
	return nil
}

// lookupBalance applies index-match then mint+owner-match.
func lookupBalance(balances []solana.TokenBalance, accountIndex int, mint, owner string) *solana.TokenBalance {
	if b := byIndex(balances, accountIndex, mint); b != nil {
		return b
	}
	return byOwner(balances, mint, owner)
}

// accountDelta is one row of the per-index balance table of a mint.
type accountDelta struct {
	index    int
	owner    string
	decimals int
	delta    decimal.Decimal
}

// deltaTable builds post-pre deltas for every account index holding mint,
// in ascending index order. A side missing from one snapshot counts as zero.
func deltaTable(meta *solana.ParsedMeta, mint string) []accountDelta {
	rows := make(map[int]*accountDelta)
	var order []int

	add := func(b *solana.TokenBalance, sign int32) {
		if b.Mint != mint {
			return
		}
		row, ok := rows[b.AccountIndex]
		if !ok {
			row = &accountDelta{index: b.AccountIndex, decimals: b.UITokenAmount.Decimals}
			rows[b.AccountIndex] = row
			order = append(order, b.AccountIndex)
		}
		if row.owner == "" {
			row.owner = b.Owner
		}
		amount := uiAmount(b)
		if sign < 0 {
			row.delta = row.delta.Sub(amount)
		} else {
			row.delta = row.delta.Add(amount)
		}
	}

	for i := range meta.PreTokenBalances {
		add(&meta.PreTokenBalances[i], -1)
	}
	for i := range meta.PostTokenBalances {
		add(&meta.PostTokenBalances[i], 1)
	}

	sort.Ints(order)
	table := make([]accountDelta, 0, len(order))
	for _, idx := range order {
		table = append(table, *rows[idx])
	}
	return table
}

