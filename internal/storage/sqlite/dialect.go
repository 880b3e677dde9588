package sqlite

import (
	"fmt"
	"strings"
	"time"

	"schemasync/internal/storage"
)

// Dialect implements storage.Dialect for SQLite (modernc.org/sqlite).
//
// Key design points vs the server backends:
//   - SQLite has no native timestamp or decimal type. Timestamps are bound as
//     RFC3339Nano strings for reliable round-trips.
//   - Decimals are declared DECIMAL_TEXT so the column gets TEXT affinity and
//     the exact digits survive; NUMERIC affinity would coerce them to REAL.
//   - Identifiers have no practical length limit.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

// Name implements storage.Dialect.
func (Dialect) Name() string { return "sqlite" }

// Quote implements storage.Dialect.
func (Dialect) Quote(ident string) string { return sqlIdent(ident) }

// Placeholder implements storage.Dialect.
func (Dialect) Placeholder(int) string { return "?" }

// Limits implements storage.Dialect.
func (Dialect) Limits() storage.Limits {
	return storage.Limits{MaxIdentifier: 0, DecimalPrecision: -1, DecimalScale: -1}
}

// ColumnType implements storage.Dialect.
func (Dialect) ColumnType(c storage.ColumnSpec) string {
	switch c.Type {
	case storage.TypeInteger:
		return "INTEGER"
	case storage.TypeDecimal:
		return "DECIMAL_TEXT"
	case storage.TypeDatetime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// LogicalType implements storage.Dialect.
func (Dialect) LogicalType(dbType string) storage.ColumnType {
	switch strings.ToUpper(strings.TrimSpace(dbType)) {
	case "INTEGER", "INT", "BIGINT":
		return storage.TypeInteger
	case "DECIMAL_TEXT", "DECIMAL", "NUMERIC", "REAL":
		return storage.TypeDecimal
	case "DATETIME", "TIMESTAMP", "DATE":
		return storage.TypeDatetime
	default:
		return storage.TypeText
	}
}

// CreateTableSQL implements storage.Dialect.
func (d Dialect) CreateTableSQL(spec storage.TableSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("sqlite: %w", err)
	}

	defs := make([]string, 0, len(spec.Columns)+2)
	if spec.Surrogate != "" {
		defs = append(defs, sqlIdent(spec.Surrogate)+" INTEGER PRIMARY KEY AUTOINCREMENT")
	}
	for _, c := range spec.Columns {
		defs = append(defs, d.columnDef(c))
	}
	defs = append(defs, "UNIQUE ("+sqlIdent(spec.Key)+")")

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(spec.Name), strings.Join(defs, ", ")), nil
}

// AddColumnSQL implements storage.Dialect. SQLite has no ADD COLUMN IF NOT
// EXISTS; DuplicateColumn recognizes the resulting error instead.
func (d Dialect) AddColumnSQL(table string, col storage.ColumnSpec) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", sqlIdent(table), d.columnDef(col))
}

// DuplicateColumn implements storage.Dialect.
func (Dialect) DuplicateColumn(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// TableExistsSQL implements storage.Dialect.
func (Dialect) TableExistsSQL() string {
	return "SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?"
}

// ColumnsSQL implements storage.Dialect.
func (Dialect) ColumnsSQL() string {
	return "SELECT name, type FROM pragma_table_info(?) ORDER BY cid"
}

// UpsertSQL implements storage.Dialect with INSERT ... ON CONFLICT.
func (Dialect) UpsertSQL(u storage.UpsertSpec) string {
	cols := make([]string, len(u.Columns))
	marks := make([]string, len(u.Columns))
	for i, c := range u.Columns {
		cols[i] = sqlIdent(c)
		marks[i] = "?"
	}
	keys := make([]string, len(u.Keys))
	for i, k := range u.Keys {
		keys[i] = sqlIdent(k)
	}

	var sets []string
	for _, c := range u.Update {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", sqlIdent(c), sqlIdent(c)))
	}
	table := sqlIdent(u.Table)
	for _, inv := range u.Invalidate {
		w := sqlIdent(inv.Watch)
		for _, c := range inv.Clear {
			sets = append(sets, fmt.Sprintf("%s = CASE WHEN %s.%s IS excluded.%s THEN %s.%s ELSE NULL END",
				sqlIdent(c), table, w, w, table, sqlIdent(c)))
		}
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "), strings.Join(keys, ", "))
	if len(sets) == 0 {
		return q + " DO NOTHING"
	}
	return q + " DO UPDATE SET " + strings.Join(sets, ", ")
}

// Limit implements storage.Dialect.
func (Dialect) Limit(n int, list, rest string) string {
	return fmt.Sprintf("SELECT %s %s LIMIT %d", list, rest, n)
}

// Trim implements storage.Dialect.
func (Dialect) Trim(expr string) string { return "TRIM(CAST(" + expr + " AS TEXT))" }

// Length implements storage.Dialect.
func (Dialect) Length(expr string) string { return "LENGTH(" + expr + ")" }

// BindTime implements storage.Dialect.
func (Dialect) BindTime(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) }

func (d Dialect) columnDef(c storage.ColumnSpec) string {
	def := sqlIdent(c.Name) + " " + d.ColumnType(c)
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
