package report

import (
	"errors"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/stokaro/catalogsync/cmd/app"
	"github.com/stokaro/catalogsync/report"
)

// ErrDrift is returned by "report drift" when the stores disagree, so scripts
// can rely on the exit status.
var ErrDrift = errors.New("database and catalog have drifted")

func NewReportCommand() *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report [inventory|drift]",
		Short: "Print inventory and consistency reports",
	}
	reportCmd.AddCommand(newInventoryCommand())
	reportCmd.AddCommand(newDriftCommand())
	return reportCmd
}

func newInventoryCommand() *cobra.Command {
	flags := app.StoreFlags()
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Print stock of all products, products on sale and products with a rebate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.Open(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			inv, err := report.BuildInventory(cmd.Context(), a.Table)
			if err != nil {
				return err
			}
			return app.PrintJSON(cmd.OutOrStdout(), inv)
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newDriftCommand() *cobra.Command {
	flags := app.StoreFlags()
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Compare the Products table with the XML catalog",
		Long: `Compare the Products table with the XML catalog and print every difference:
rows missing from the catalog, catalog elements without a row, legacy elements
without an identifier, field mismatches and unreadable elements.

Exits with a non-zero status when the stores disagree.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.Open(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			drift, err := report.BuildDrift(cmd.Context(), a.Table, a.Catalog)
			if err != nil {
				return err
			}
			if err := app.PrintJSON(cmd.OutOrStdout(), drift); err != nil {
				return err
			}
			if !drift.InSync() {
				return ErrDrift
			}
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}
