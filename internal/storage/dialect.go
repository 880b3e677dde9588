package storage

import (
	"strings"
	"time"
)

// Dialect is the backend-specific SQL surface used by SQLStore.
//
// Each backend package implements it in its own idiomatic way (MERGE for SQL
// Server, ON CONFLICT for Postgres and SQLite, guarded DDL, etc.). Everything
// else about the store is shared.
type Dialect interface {
	// Name is the backend name; it also selects the goose dialect and the
	// embedded migrations directory.
	Name() string

	// Quote returns a quoted identifier.
	Quote(ident string) string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string

	Limits() Limits

	// ColumnType renders a column's storage type.
	ColumnType(c ColumnSpec) string
	// LogicalType maps a type name reported by the catalog back to a ColumnType.
	LogicalType(dbType string) ColumnType

	// CreateTableSQL returns a create-if-missing statement.
	CreateTableSQL(spec TableSpec) (string, error)
	// AddColumnSQL returns an add-if-missing statement where the backend
	// supports it.
	AddColumnSQL(table string, col ColumnSpec) string
	// DuplicateColumn reports whether err means the column already exists.
	DuplicateColumn(err error) bool

	// TableExistsSQL takes the table name as its only argument and returns a
	// row when the table exists.
	TableExistsSQL() string
	// ColumnsSQL takes the table name and returns (name, type) rows in ordinal order.
	ColumnsSQL() string

	UpsertSQL(spec UpsertSpec) string

	// Limit renders "SELECT <list> <rest>" restricted to n rows.
	Limit(n int, list, rest string) string
	// Trim renders a trimmed text form of expr.
	Trim(expr string) string
	// Length renders the character length of expr.
	Length(expr string) string

	// BindTime converts a timestamp into the driver value the backend stores.
	BindTime(t time.Time) any
}

// placeholders renders n bind markers starting at from (1-based).
func placeholders(d Dialect, from, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = d.Placeholder(from + i)
	}
	return out
}

func quoteAll(d Dialect, idents []string) string {
	q := make([]string, len(idents))
	for i, id := range idents {
		q[i] = d.Quote(id)
	}
	return strings.Join(q, ", ")
}
