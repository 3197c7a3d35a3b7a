package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/reconcile"
)

func indexCmd(g *globals) *cobra.Command {
	var (
		backfill    bool
		maxPages    int
		pageSize    int
		stopAtKnown bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Record new signatures of every tracked token account as indexed rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, cleanup, err := g.setup("index")
			if err != nil {
				return err
			}
			defer cleanup()

			if cmd.Flags().Changed("backfill") {
				a.Config.Index.Backfill = backfill
			}
			if cmd.Flags().Changed("max-pages") {
				a.Config.Index.MaxPages = maxPages
			}
			if cmd.Flags().Changed("page-size") {
				a.Config.Index.PageSize = pageSize
			}
			if cmd.Flags().Changed("stop-at-known") {
				a.Config.Index.StopAtKnown = stopAtKnown
			}

			res, err := a.Indexer().Run(ctx)
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Println("index: already running elsewhere, skipped")
				return nil
			}
			fmt.Printf("index: wallets=%d no_account=%d discovered=%d inserted=%d duplicates=%d errors=%d\n",
				res.Wallets, res.NoAccount, res.Discovered, res.Inserted, res.Duplicates, res.Errors)
			return nil
		},
	}

	cmd.Flags().BoolVar(&backfill, "backfill", false, "page backwards through the full history")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop a backfill after this many pages (0 = no limit)")
	cmd.Flags().IntVar(&pageSize, "page-size", reconcile.DefaultIndexPageSize, "signatures requested per page")
	cmd.Flags().BoolVar(&stopAtKnown, "stop-at-known", true, "stop a backfill at the first page with known signatures")
	return cmd
}

func fetchCmd(g *globals) *cobra.Command {
	var (
		batchSize int
		strategy  string
	)

	cmd := &cobra.Command{
		Use:     "fetch",
		Aliases: []string{"enrich"},
		Short:   "Fetch and parse indexed rows, marking them fetched or failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, cleanup, err := g.setup("fetch")
			if err != nil {
				return err
			}
			defer cleanup()

			if cmd.Flags().Changed("batch-size") {
				a.Config.Enrich.BatchSize = batchSize
			}
			if cmd.Flags().Changed("strategy") {
				a.Config.Enrich.Strategy = strategy
			}

			res, err := a.Enricher().Run(ctx)
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Println("fetch: already running elsewhere, skipped")
				return nil
			}
			fmt.Printf("fetch: selected=%d fetched=%d failed=%d save_errors=%d published=%d\n",
				res.Selected, res.Fetched, res.Failed, res.SaveErrors, res.Published)
			return nil
		},
	}

	cmd.Flags().IntVarP(&batchSize, "batch-size", "n", reconcile.DefaultEnrichBatchSize, "indexed rows selected per run")
	cmd.Flags().StringVar(&strategy, "strategy", string(reconcile.StrategyBatched), "batched or sequential")
	return cmd
}

func reprocessCmd(g *globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reprocess [signature...]",
		Short: "Move failed rows back to indexed so the next fetch retries them",
		Long: `Move failed rows back to indexed.

Without arguments every failed row is reset (bounded by --limit).
With signatures only those rows are reset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, cleanup, err := g.setup("reprocess")
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := a.Reprocessor().Run(ctx, reconcile.Filter{Signatures: args, Limit: limit})
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Println("reprocess: already running elsewhere, skipped")
				return nil
			}
			fmt.Printf("reprocess: reset=%d\n", res.Reset)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to reset (0 = no limit)")
	return cmd
}

func unlockCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <name>",
		Short: "Release a job lock left behind by a crashed process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, cleanup, err := g.setup("unlock")
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.Locker.Release(ctx, args[0]); err != nil {
				return err
			}
			a.Logger.Warn("lock released manually", zap.String("lock", args[0]))
			fmt.Printf("unlock: released %s\n", args[0])
			return nil
		},
	}
}

func resolveTokenAccountsCmd(g *globals) *cobra.Command {
	var opts reconcile.UpdateOptions

	cmd := &cobra.Command{
		Use:   "resolve-token-accounts",
		Short: "Resolve and store the USDC token account of wallets missing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, cleanup, err := g.setup("resolve-token-accounts")
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := a.TokenAccountUpdater().Run(ctx, opts)
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Println("resolve-token-accounts: already running elsewhere, skipped")
				return nil
			}
			fmt.Printf("resolve-token-accounts: processed=%d updated=%d unresolved=%d errors=%d\n",
				res.Processed, res.Updated, res.Unresolved, len(res.Errors))

			addrs := make([]string, 0, len(res.Errors))
			for addr := range res.Errors {
				addrs = append(addrs, addr)
			}
			sort.Strings(addrs)
			for _, addr := range addrs {
				fmt.Printf("  %s: %s\n", addr, res.Errors[addr])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "re-resolve wallets that already have a token account")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum wallets to process (0 = no limit)")
	return cmd
}

func watchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to tracked token accounts and index signatures as they land",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, cleanup, err := g.setup("watch")
			if err != nil {
				return err
			}
			defer cleanup()

			w, closeWS, err := a.Watcher(ctx)
			if err != nil {
				return err
			}
			defer closeWS()

			n, err := w.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Printf("watch: inserted=%d\n", n)
			return nil
		},
	}
}
