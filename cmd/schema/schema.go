package schema

import (
	"fmt"
	"strings"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/stokaro/catalogsync/cmd/app"
	"github.com/stokaro/catalogsync/core/platform"
	"github.com/stokaro/catalogsync/dbschema"
)

const dialectFlag = "dialect"

func NewSchemaCommand() *cobra.Command {
	schemaCmd := &cobra.Command{
		Use:   "schema [print|apply]",
		Short: "Print or apply the Products table schema",
	}
	schemaCmd.AddCommand(newPrintCommand())
	schemaCmd.AddCommand(newApplyCommand())
	return schemaCmd
}

func newPrintCommand() *cobra.Command {
	flags := map[string]cobraflags.Flag{
		dialectFlag: &cobraflags.StringFlag{
			Name:  dialectFlag,
			Value: "",
			Usage: "Database dialect (postgres, mysql, mariadb, sqlite). If empty, prints all dialects",
		},
	}
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the DDL of the Products table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dialects := []string{platform.Postgres, platform.MySQL, platform.SQLite}
			if d := flags[dialectFlag].GetString(); d != "" {
				dialects = []string{d}
			}

			out := cmd.OutOrStdout()
			for i, dialect := range dialects {
				stmts, err := dbschema.SchemaSQL(dialect)
				if err != nil {
					return err
				}
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "-- %s\n", strings.ToUpper(dialect))
				for _, stmt := range stmts {
					fmt.Fprintf(out, "%s;\n", stmt)
				}
			}
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newApplyCommand() *cobra.Command {
	flags := app.StoreFlags()
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create the Products table if it does not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.Open(cmd.Context(), flags, app.WithEnsureSchema())
			if err != nil {
				return err
			}
			defer a.Close()

			a.Logger.Info("Schema applied", "dialect", a.Conn.Dialect())
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}
