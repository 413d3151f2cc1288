package main

import (
	"context"
	"fmt"
	"io"

	"affiliate-ledger/internal/app"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var downTo int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema of the configured store",
		Long: `Applies the schema for STORE_DRIVER.

postgres creates the ledger tables, mongodb runs the index migrations,
sqlite applies its schema on open. The memory driver has nothing to do.
--down-to reverts mongodb index migrations above the given version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close(ctx)
			return runMigrate(ctx, cmd.OutOrStdout(), e.backend, downTo)
		},
	}

	cmd.Flags().IntVar(&downTo, "down-to", -1, "revert migrations above this version")
	return cmd
}

func runMigrate(ctx context.Context, out io.Writer, backend *app.Backend, downTo int) error {
	if downTo >= 0 {
		if err := backend.Rollback(ctx, downTo); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		fmt.Fprintf(out, "%s store rolled back to version %d\n", backend.Driver, downTo)
		return nil
	}
	if err := backend.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintf(out, "%s store is up to date\n", backend.Driver)
	return nil
}
