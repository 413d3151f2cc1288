package main

import (
	"context"
	"fmt"
	"io"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/validators"
	"affiliate-ledger/pkg/database"

	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed [vendors.yaml]",
		Short: "Upsert vendors from a YAML seed file",
		Example: `  ledgerctl seed deploy/vendors.yaml
  ledgerctl seed deploy/vendors.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vendors, err := database.LoadVendorSeedFile(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				return seedVendors(cmd.Context(), cmd.OutOrStdout(), nil, vendors)
			}

			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close(ctx)
			return seedVendors(ctx, cmd.OutOrStdout(), e.backend.Store.Vendors(), vendors)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")
	return cmd
}

// seedVendors validates every vendor before writing any. A nil repo only
// validates.
func seedVendors(ctx context.Context, out io.Writer, repo interfaces.VendorRepository, vendors []*models.Vendor) error {
	for _, v := range vendors {
		if err := validators.ValidateVendor(v); err != nil {
			return fmt.Errorf("vendor %s: %w", v.ID, err)
		}
	}
	if repo == nil {
		fmt.Fprintf(out, "%d vendors valid\n", len(vendors))
		return nil
	}

	for _, v := range vendors {
		if err := repo.Save(ctx, v); err != nil {
			return fmt.Errorf("failed to save vendor %s: %w", v.ID, err)
		}
		fmt.Fprintf(out, "saved %s (%s %s, active=%t)\n", v.ID, v.CommissionType, v.CommissionValue, v.IsActive)
	}
	return nil
}
