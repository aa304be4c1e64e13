// Package producttable implements the relational Products table, the source of
// truth for product identifiers.
package producttable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stokaro/catalogsync/core/platform"
	"github.com/stokaro/catalogsync/core/product"
	"github.com/stokaro/catalogsync/dbschema"
)

const tableName = "Products"

var columns = []string{
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

// Filter selects rows for Find. Zero fields do not restrict the result.
type Filter struct {
	Category string
	OnSale   *bool
	Rebate   *bool
	// ModelNameContains matches a substring of the model name.
	ModelNameContains string
	// Limit caps the number of rows; zero means no limit.
	Limit int
}

// Matches reports whether rec satisfies every predicate of the filter except Limit.
func (f Filter) Matches(rec product.Record) bool {
	if f.Category != "" && rec.Category != f.Category {
		return false
	}
	if f.OnSale != nil && rec.OnSale != *f.OnSale {
		return false
	}
	if f.Rebate != nil && rec.ManufacturerRebate != *f.Rebate {
		return false
	}
	if f.ModelNameContains != "" && !strings.Contains(rec.ModelName, f.ModelNameContains) {
		return false
	}
	return true
}

// Table gives access to the Products table over one database connection.
type Table struct {
	conn    *dbschema.DatabaseConnection
	dialect string
	logger  *slog.Logger
}

// New creates a table bound to conn.
func New(conn *dbschema.DatabaseConnection) *Table {
	return &Table{
		conn:    conn,
		dialect: conn.Dialect(),
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger for the table
func (t *Table) WithLogger(l *slog.Logger) *Table {
	tmp := *t
	tmp.logger = l
	return &tmp
}

// Insert stores rec and returns the identifier generated by the database. The
// identifier of rec is ignored.
func (t *Table) Insert(ctx context.Context, rec product.Record) (int64, error) {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tableName, strings.Join(columns, ", "), t.placeholders(1, len(columns)))
	args := valueArgs(rec)

	if platform.SupportsReturning(t.dialect) {
		var id int64
		if err := t.conn.QueryRowContext(ctx, query+" RETURNING "+product.FieldID, args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to insert product: %w", err)
		}
		return id, nil
	}

	res, err := t.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read generated product id: %w", err)
	}
	t.logger.Debug("Inserted product row", "productID", id)
	return id, nil
}

// Update overwrites every column of the row identified by rec.ID and returns the
// number of rows affected.
func (t *Table) Update(ctx context.Context, rec product.Record) (int64, error) {
	assignments := make([]string, len(columns))
	for i, col := range columns {
		assignments[i] = col + " = " + platform.Placeholder(t.dialect, i+1)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		tableName, strings.Join(assignments, ", "), product.FieldID, platform.Placeholder(t.dialect, len(columns)+1))

	res, err := t.conn.ExecContext(ctx, query, append(valueArgs(rec), rec.ID)...)
	if err != nil {
		return 0, fmt.Errorf("failed to update product %d: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// Delete removes the row with the given identifier and returns the number of
// rows affected.
func (t *Table) Delete(ctx context.Context, id int64) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", tableName, product.FieldID, platform.Placeholder(t.dialect, 1))
	res, err := t.conn.ExecContext(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete product %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// Get returns the row with the given identifier. The boolean is false when no
// such row exists.
func (t *Table) Get(ctx context.Context, id int64) (product.Record, bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		selectList(), tableName, product.FieldID, platform.Placeholder(t.dialect, 1))

	rec, err := scanRecord(t.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return product.Record{}, false, nil
	}
	if err != nil {
		return product.Record{}, false, fmt.Errorf("failed to get product %d: %w", id, err)
	}
	return rec, true, nil
}

// Find returns the rows matching filter ordered by identifier.
func (t *Table) Find(ctx context.Context, filter Filter) ([]product.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, cond+" = "+platform.Placeholder(t.dialect, len(args)))
	}
	if filter.Category != "" {
		add(product.FieldCategory, filter.Category)
	}
	if filter.OnSale != nil {
		add(product.FieldOnSale, *filter.OnSale)
	}
	if filter.Rebate != nil {
		add(product.FieldManufacturerRebate, *filter.Rebate)
	}
	if filter.ModelNameContains != "" {
		args = append(args, "%"+escapeLike(filter.ModelNameContains)+"%")
		where = append(where, product.FieldModelName+" LIKE "+platform.Placeholder(t.dialect, len(args))+" ESCAPE '!'")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", selectList(), tableName)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + product.FieldID
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := t.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var out []product.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product rows: %w", err)
	}
	return out, nil
}

func (t *Table) placeholders(from, n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = platform.Placeholder(t.dialect, from+i)
	}
	return strings.Join(marks, ", ")
}

func valueArgs(rec product.Record) []any {
	return []any{
		rec.ModelName,
		rec.Category,
		rec.Price,
		rec.OnSale,
		rec.ManufacturerName,
		rec.ManufacturerRebate,
		rec.Inventory,
		rec.Image,
		rec.Description,
	}
}

func selectList() string {
	cols := make([]string, 0, len(columns)+1)
	cols = append(cols, product.FieldID)
	for _, col := range columns {
		if col == product.FieldDescription {
			// nullable in the MySQL schema
			col = "COALESCE(" + col + ", '')"
		}
		cols = append(cols, col)
	}
	return strings.Join(cols, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (product.Record, error) {
	var rec product.Record
	err := s.Scan(
		&rec.ID,
		&rec.ModelName,
		&rec.Category,
		&rec.Price,
		&rec.OnSale,
		&rec.ManufacturerName,
		&rec.ManufacturerRebate,
		&rec.Inventory,
		&rec.Image,
		&rec.Description,
	)
	return rec, err
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}
