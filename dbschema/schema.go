package dbschema

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-extras/go-kit/must"

	"github.com/stokaro/catalogsync/core/platform"
)

//go:embed sql/*.sql
var embeddedSQL embed.FS

// schemaFS holds one <dialect>.sql file per supported dialect.
var schemaFS = must.Must(fs.Sub(embeddedSQL, "sql"))

// SchemaSQL returns the statements creating the Products table for a dialect.
func SchemaSQL(dialect string) ([]string, error) {
	name := platform.NormalizeDialect(dialect)
	if name == platform.MariaDB {
		name = platform.MySQL
	}
	if name == "" {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	data, err := fs.ReadFile(schemaFS, name+".sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema for %s: %w", name, err)
	}

	var statements []string
	for _, stmt := range strings.Split(string(data), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements, nil
}

// EnsureSchema creates the Products table when it does not exist yet. It never
// alters an existing table.
func (c *DatabaseConnection) EnsureSchema(ctx context.Context) error {
	statements, err := SchemaSQL(c.info.Dialect)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := c.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
