package dbschema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stokaro/catalogsync/core/platform"
	"github.com/stokaro/catalogsync/core/product"
	"github.com/stokaro/catalogsync/dbschema/types"
)

// ProductsTable is the name of the relational product table.
const ProductsTable = "Products"

// ErrSchemaMismatch is returned by VerifySchema when the Products table is
// missing or lacks required columns.
var ErrSchemaMismatch = errors.New("products table does not match the expected schema")

var requiredColumns = []string{
	product.FieldID,
	product.FieldModelName,
	product.FieldCategory,
	product.FieldPrice,
	product.FieldOnSale,
	product.FieldManufacturerName,
	product.FieldManufacturerRebate,
	product.FieldInventory,
	product.FieldImage,
	product.FieldDescription,
}

// ReadTable reads the columns of a table. It returns nil if the table does not exist.
func (c *DatabaseConnection) ReadTable(ctx context.Context, name string) (*types.DBTable, error) {
	var query string
	switch c.info.Dialect {
	case platform.Postgres:
		query = `
			SELECT
				c.column_name,
				c.data_type,
				c.is_nullable,
				c.ordinal_position,
				EXISTS (
					SELECT 1
					FROM information_schema.table_constraints tc
					JOIN information_schema.key_column_usage kcu
						ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
					WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND kcu.column_name = c.column_name
				)
			FROM information_schema.columns c
			WHERE c.table_schema = current_schema() AND lower(c.table_name) = lower($1)
			ORDER BY c.ordinal_position`
	case platform.MySQL, platform.MariaDB:
		query = `
			SELECT
				column_name,
				data_type,
				is_nullable,
				ordinal_position,
				column_key = 'PRI'
			FROM information_schema.columns
			WHERE table_schema = DATABASE() AND LOWER(table_name) = LOWER(?)
			ORDER BY ordinal_position`
	case platform.SQLite:
		query = `
			SELECT
				name,
				type,
				CASE WHEN "notnull" = 1 THEN 'NO' ELSE 'YES' END,
				cid + 1,
				pk > 0
			FROM pragma_table_info(?)
			ORDER BY cid`
	default:
		return nil, fmt.Errorf("unsupported dialect %q", c.info.Dialect)
	}

	rows, err := c.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s: %w", name, err)
	}
	defer rows.Close()

	table := &types.DBTable{Name: name}
	for rows.Next() {
		var col types.DBColumn
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.OrdinalPosition, &col.IsPrimaryKey); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.DataType = strings.ToLower(col.DataType)
		table.Columns = append(table.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", name, err)
	}

	if len(table.Columns) == 0 {
		return nil, nil
	}
	return table, nil
}

// VerifySchema checks that the Products table exists with every column the
// product table needs and that ProductID is its primary key.
func (c *DatabaseConnection) VerifySchema(ctx context.Context) error {
	table, err := c.ReadTable(ctx, ProductsTable)
	if err != nil {
		return err
	}
	if table == nil {
		return fmt.Errorf("%w: table %s does not exist", ErrSchemaMismatch, ProductsTable)
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := table.Column(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing columns %s", ErrSchemaMismatch, strings.Join(missing, ", "))
	}

	if id, _ := table.Column(product.FieldID); !id.IsPrimaryKey {
		return fmt.Errorf("%w: %s is not the primary key", ErrSchemaMismatch, product.FieldID)
	}
	return nil
}
