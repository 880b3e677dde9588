package postgres

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"schemasync/internal/storage"
)

// SQLSTATE 42701: duplicate_column.
const codeDuplicateColumn = "42701"

// maxIdentifier is NAMEDATALEN-1.
const maxIdentifier = 63

// Dialect implements storage.Dialect for Postgres.
//
// Tables live in the connection's current_schema(). Decimals are NUMERIC
// without a fixed precision, so no decimal value is ever rejected here.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

// Name implements storage.Dialect.
func (Dialect) Name() string { return "postgres" }

// Quote implements storage.Dialect.
func (Dialect) Quote(ident string) string { return pgIdent(ident) }

// Placeholder implements storage.Dialect.
func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

// Limits implements storage.Dialect.
func (Dialect) Limits() storage.Limits {
	return storage.Limits{MaxIdentifier: maxIdentifier, DecimalPrecision: -1, DecimalScale: -1}
}

// ColumnType implements storage.Dialect.
func (Dialect) ColumnType(c storage.ColumnSpec) string {
	switch c.Type {
	case storage.TypeInteger:
		return "INTEGER"
	case storage.TypeDecimal:
		return "NUMERIC"
	case storage.TypeDatetime:
		return "TIMESTAMPTZ"
	default:
		if c.Size > 0 {
			return fmt.Sprintf("VARCHAR(%d)", c.Size)
		}
		return "TEXT"
	}
}

// LogicalType implements storage.Dialect. dbType is information_schema's
// data_type.
func (Dialect) LogicalType(dbType string) storage.ColumnType {
	t := strings.ToLower(strings.TrimSpace(dbType))
	switch {
	case t == "integer" || t == "bigint" || t == "smallint":
		return storage.TypeInteger
	case t == "numeric" || t == "real" || t == "double precision":
		return storage.TypeDecimal
	case strings.HasPrefix(t, "timestamp") || t == "date":
		return storage.TypeDatetime
	default:
		return storage.TypeText
	}
}

// CreateTableSQL implements storage.Dialect.
func (d Dialect) CreateTableSQL(spec storage.TableSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("postgres: %w", err)
	}

	defs := make([]string, 0, len(spec.Columns)+2)
	if spec.Surrogate != "" {
		defs = append(defs, pgIdent(spec.Surrogate)+" BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY")
	}
	for _, c := range spec.Columns {
		defs = append(defs, d.columnDef(c))
	}
	defs = append(defs, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)",
		pgIdent(uniqueConstraintName(spec.Name)), pgIdent(spec.Key)))

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pgIdent(spec.Name), strings.Join(defs, ", ")), nil
}

// AddColumnSQL implements storage.Dialect.
func (d Dialect) AddColumnSQL(table string, col storage.ColumnSpec) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s", pgIdent(table), d.columnDef(col))
}

// DuplicateColumn implements storage.Dialect.
func (Dialect) DuplicateColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeDuplicateColumn
}

// TableExistsSQL implements storage.Dialect.
func (Dialect) TableExistsSQL() string {
	return "SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
}

// ColumnsSQL implements storage.Dialect.
func (Dialect) ColumnsSQL() string {
	return "SELECT column_name, data_type FROM information_schema.columns " +
		"WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position"
}

// UpsertSQL implements storage.Dialect with INSERT ... ON CONFLICT.
func (Dialect) UpsertSQL(u storage.UpsertSpec) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(u.Table))
	b.WriteString(" (")
	for i, c := range u.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range u.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$")
		b.WriteString(strconv.Itoa(i + 1))
	}
	b.WriteString(") ON CONFLICT (")
	for i, k := range u.Keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(k))
	}
	b.WriteString(")")

	sets := make([]string, 0, len(u.Update))
	for _, c := range u.Update {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", pgIdent(c), pgIdent(c)))
	}
	table := pgIdent(u.Table)
	for _, inv := range u.Invalidate {
		w := pgIdent(inv.Watch)
		for _, c := range inv.Clear {
			sets = append(sets, fmt.Sprintf("%s = CASE WHEN %s.%s IS NOT DISTINCT FROM EXCLUDED.%s THEN %s.%s ELSE NULL END",
				pgIdent(c), table, w, w, table, pgIdent(c)))
		}
	}
	if len(sets) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	return b.String()
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
func (Dialect) BindTime(t time.Time) any { return t.UTC() }

func (d Dialect) columnDef(c storage.ColumnSpec) string {
	def := pgIdent(c.Name) + " " + d.ColumnType(c)
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def
}

// uniqueConstraintName truncates to the identifier limit; Postgres would
// otherwise truncate silently and could collide with another table's name.
func uniqueConstraintName(table string) string {
	name := "uq_" + table + "_key"
	if len(name) > maxIdentifier {
		name = name[:maxIdentifier]
	}
	return name
}

// pgIdent returns a double-quoted identifier, escaping '"' as '""'.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
