package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/NargusS/tiltpay-backend/internal/domain"
)

func historyCmd(g *globals) *cobra.Command {
	var (
		stats   bool
		onChain bool
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history <address>",
		Short: "Print the fetched USDC history of a wallet",
		Long: `Print the fetched USDC history of a wallet as JSON.

--stats prints received and sent totals instead.
--onchain reads the history directly from the chain, bypassing the database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, cleanup, err := g.setup("history")
			if err != nil {
				return err
			}
			defer cleanup()

			svc := a.History()
			address := args[0]

			switch {
			case onChain:
				transfers, err := svc.OnChain(ctx, address, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SIGNATURE\tTIME\tDIRECTION\tAMOUNT\tCOUNTERPARTY")
				for _, t := range transfers {
					when := "-"
					if t.BlockTime != nil {
						when = time.Unix(*t.BlockTime, 0).UTC().Format(time.RFC3339)
					}
					counterparty := t.From
					if t.Direction == domain.DirectionDebit {
						counterparty = t.To
					}
					amount := decimal.New(t.Amount, -int32(t.Decimals))
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.Signature, when, t.Direction, amount, counterparty)
				}
				return tw.Flush()

			case stats:
				st, err := svc.Stats(ctx, address)
				if err != nil {
					return err
				}
				fmt.Printf("transactions:     %d\n", st.Count)
				fmt.Printf("total received:   %s\n", st.TotalReceived)
				fmt.Printf("total sent:       %s\n", st.TotalSent)
				fmt.Printf("unique senders:   %d\n", len(st.UniqueSenders))
				fmt.Printf("unique receivers: %d\n", len(st.UniqueReceivers))
				return nil

			default:
				entries, err := svc.Transactions(ctx, address)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
		},
	}

	cmd.Flags().BoolVar(&stats, "stats", false, "print totals instead of entries")
	cmd.Flags().BoolVar(&onChain, "onchain", false, "read from the chain instead of the database")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "signatures read with --onchain")
	return cmd
}
