package types

import "strings"

// DBTable represents a table read back from the database
type DBTable struct {
	Name    string     `json:"name"`
	Columns []DBColumn `json:"columns"`
}

// DBColumn represents a database column
type DBColumn struct {
	Name            string `json:"name"`
	DataType        string `json:"data_type"`
	IsNullable      string `json:"is_nullable"` // YES/NO
	OrdinalPosition int    `json:"ordinal_position"`
	IsPrimaryKey    bool   `json:"is_primary_key"`
}

// Column returns the column with the given name, compared case-insensitively
// since PostgreSQL folds unquoted identifiers to lower case.
func (t *DBTable) Column(name string) (DBColumn, bool) {
	for _, col := range t.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return DBColumn{}, false
}
