package parser

import (
	"github.com/shopspring/decimal"

	"github.com/NargusS/tiltpay-backend/internal/domain"
)

// Stats aggregates a wallet's transfer history.
type Stats struct {
	TotalReceived   decimal.Decimal // display units
	TotalSent       decimal.Decimal
	UniqueSenders   []string
	UniqueReceivers []string
	Count           int
}

// Summarize totals credits and debits in display units. Self transfers do not
// add to the counterparty sets. Set order follows first appearance.
func Summarize(transfers []domain.Transfer) Stats {
	stats := Stats{
		TotalReceived: decimal.Zero,
		TotalSent:     decimal.Zero,
		Count:         len(transfers),
	}
	senders := make(map[string]struct{})
	receivers := make(map[string]struct{})

	for _, t := range transfers {
		ui := decimal.New(t.Amount, -int32(t.Decimals))
		switch t.Direction {
		case domain.DirectionCredit:
			stats.TotalReceived = stats.TotalReceived.Add(ui)
			if t.From != "" && t.From != t.To {
				if _, ok := senders[t.From]; !ok {
					senders[t.From] = struct{}{}
					stats.UniqueSenders = append(stats.UniqueSenders, t.From)
				}
			}
		case domain.DirectionDebit:
			stats.TotalSent = stats.TotalSent.Add(ui)
			if t.To != "" && t.To != t.From {
				if _, ok := receivers[t.To]; !ok {
					receivers[t.To] = struct{}{}
					stats.UniqueReceivers = append(stats.UniqueReceivers, t.To)
				}
			}
		}
	}
	return stats
}
