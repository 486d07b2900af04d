package database

import (
	"context"
	"database/sql"
	"strings"
)

// Table kinds as reported by SHOW FULL TABLES
const (
	KindBaseTable = "BASE TABLE"
	KindView      = "VIEW"
)

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Table is one entry of the database's table list
type Table struct {
	Name string
	Kind string
}

// IsView reports whether the table is a view
func (t Table) IsView() bool {
	return strings.EqualFold(t.Kind, KindView)
}

// TableSnapshot holds everything extracted from one table
type TableSnapshot struct {
	Table   Table
	Columns []string
	// Rows are in result order; a nil value is SQL NULL.
	Rows   [][]any
	Schema string
}

// RowCount returns the number of extracted rows
func (s *TableSnapshot) RowCount() int {
	return len(s.Rows)
}

// QuoteIdentifier wraps name in backticks, doubling embedded backticks.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
