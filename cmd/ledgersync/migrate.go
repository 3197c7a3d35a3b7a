package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NargusS/tiltpay-backend/internal/app"
)

func migrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema and, when configured, the ClickHouse schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, cleanup, err := g.setup("migrate", app.WithoutSinks())
			if err != nil {
				return err
			}
			defer cleanup()

			applied, err := a.Migrate(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Println("migrate: schema is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Printf("migrate: applied %s\n", v)
			}
			return nil
		},
	}
}
