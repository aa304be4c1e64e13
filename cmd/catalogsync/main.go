// Command catalogsync keeps the relational product table and the XML product
// catalog in step.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stokaro/catalogsync/cmd/product"
	"github.com/stokaro/catalogsync/cmd/report"
	"github.com/stokaro/catalogsync/cmd/schema"
	"github.com/stokaro/catalogsync/cmd/serve"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "catalogsync",
		Short:   "Synchronize the Products table with the XML product catalog",
		Version: version,
		Long: `catalogsync applies product changes to a relational Products table and mirrors
them into the legacy XML product catalog (ProductCatalog.xml).

Configuration is read from an optional file (--config), CATALOGSYNC_* environment
variables and command line flags, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serve.NewServeCommand())
	rootCmd.AddCommand(product.NewProductCommand())
	rootCmd.AddCommand(report.NewReportCommand())
	rootCmd.AddCommand(schema.NewSchemaCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
