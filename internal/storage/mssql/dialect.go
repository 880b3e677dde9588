package mssql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mssqldrv "github.com/microsoft/go-mssqldb"

	"schemasync/internal/storage"
)

// errColumnNamesNotUnique is SQL Server error 2705: "Column names in each
// table must be unique."
const errColumnNamesNotUnique = 2705

// Dialect implements storage.Dialect for Microsoft SQL Server.
//
// Key points:
//   - DDL is wrapped in OBJECT_ID / COL_LENGTH guards so it is idempotent
//     without IF NOT EXISTS syntax.
//   - Upserts are a single MERGE ... WITH (HOLDLOCK), which serializes
//     concurrent writers on the same key range.
//   - Decimals are DECIMAL(38,10); values with more than 10 fractional digits
//     are rejected by the engine instead of being rounded.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

// Name implements storage.Dialect.
func (Dialect) Name() string { return "mssql" }

// Quote implements storage.Dialect.
func (Dialect) Quote(ident string) string { return mssqlIdent(ident) }

// Placeholder implements storage.Dialect.
func (Dialect) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

// Limits implements storage.Dialect.
func (Dialect) Limits() storage.Limits {
	return storage.Limits{MaxIdentifier: 128, DecimalPrecision: 38, DecimalScale: 10}
}

// ColumnType implements storage.Dialect.
func (Dialect) ColumnType(c storage.ColumnSpec) string {
	switch c.Type {
	case storage.TypeInteger:
		return "INT"
	case storage.TypeDecimal:
		return "DECIMAL(38,10)"
	case storage.TypeDatetime:
		return "DATETIME2"
	default:
		if c.Size > 0 {
			return fmt.Sprintf("NVARCHAR(%d)", c.Size)
		}
		return "NVARCHAR(MAX)"
	}
}

// LogicalType implements storage.Dialect.
func (Dialect) LogicalType(dbType string) storage.ColumnType {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "int", "bigint", "smallint", "tinyint":
		return storage.TypeInteger
	case "decimal", "numeric", "money", "smallmoney", "float", "real":
		return storage.TypeDecimal
	case "datetime", "datetime2", "smalldatetime", "date", "datetimeoffset":
		return storage.TypeDatetime
	default:
		return storage.TypeText
	}
}

// CreateTableSQL implements storage.Dialect.
func (d Dialect) CreateTableSQL(spec storage.TableSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("mssql: %w", err)
	}

	parts := make([]string, 0, len(spec.Columns)+2)
	if spec.Surrogate != "" {
		parts = append(parts, fmt.Sprintf("%s INT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(spec.Surrogate)))
	}
	for _, c := range spec.Columns {
		parts = append(parts, d.columnDef(c))
	}
	parts = append(parts, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)",
		mssqlIdent(uniqueConstraintName(spec.Name)), mssqlIdent(spec.Key)))

	return wrapCreateIfMissing(spec.Name, strings.Join(parts, ", ")), nil
}

// AddColumnSQL implements storage.Dialect.
func (d Dialect) AddColumnSQL(table string, col storage.ColumnSpec) string {
	return fmt.Sprintf("IF COL_LENGTH(N'%s', N'%s') IS NULL ALTER TABLE %s ADD %s;",
		literal(mssqlIdent(table)), literal(col.Name), mssqlIdent(table), d.columnDef(col))
}

// DuplicateColumn implements storage.Dialect.
func (Dialect) DuplicateColumn(err error) bool {
	var msErr mssqldrv.Error
	return errors.As(err, &msErr) && msErr.Number == errColumnNamesNotUnique
}

// TableExistsSQL implements storage.Dialect.
func (Dialect) TableExistsSQL() string {
	return "SELECT 1 FROM sys.tables WHERE name = @p1"
}

// ColumnsSQL implements storage.Dialect.
func (Dialect) ColumnsSQL() string {
	return "SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = @p1 ORDER BY ORDINAL_POSITION"
}

// UpsertSQL implements storage.Dialect with a single MERGE statement.
func (Dialect) UpsertSQL(u storage.UpsertSpec) string {
	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(mssqlIdent(u.Table))
	b.WriteString(" WITH (HOLDLOCK) AS target USING (SELECT ")
	for i, c := range u.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d AS %s", i+1, mssqlIdent(c))
	}
	b.WriteString(") AS source ON ")
	for i, k := range u.Keys {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "target.%s = source.%s", mssqlIdent(k), mssqlIdent(k))
	}

	if sets := mergeAssignments(u); len(sets) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}

	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	for i, c := range u.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES (")
	for i, c := range u.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("source.")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(");")
	return b.String()
}

// Limit implements storage.Dialect.
func (Dialect) Limit(n int, list, rest string) string {
	return fmt.Sprintf("SELECT TOP (%d) %s %s", n, list, rest)
}

// Trim implements storage.Dialect.
func (Dialect) Trim(expr string) string {
	return "LTRIM(RTRIM(CAST(" + expr + " AS NVARCHAR(4000))))"
}

// Length implements storage.Dialect.
func (Dialect) Length(expr string) string { return "LEN(" + expr + ")" }

// BindTime implements storage.Dialect.
func (Dialect) BindTime(t time.Time) any { return t.UTC() }

func (d Dialect) columnDef(c storage.ColumnSpec) string {
	def := mssqlIdent(c.Name) + " " + d.ColumnType(c)
	if c.Nullable {
		return def + " NULL"
	}
	return def + " NOT NULL"
}

// mergeAssignments renders the WHEN MATCHED assignments. Invalidated columns
// keep their value only when the watched column is unchanged (NULL-safe).
func mergeAssignments(u storage.UpsertSpec) []string {
	sets := make([]string, 0, len(u.Update))
	for _, c := range u.Update {
		sets = append(sets, fmt.Sprintf("%s = source.%s", mssqlIdent(c), mssqlIdent(c)))
	}
	for _, inv := range u.Invalidate {
		w := mssqlIdent(inv.Watch)
		same := fmt.Sprintf("(target.%s = source.%s OR (target.%s IS NULL AND source.%s IS NULL))", w, w, w, w)
		for _, c := range inv.Clear {
			sets = append(sets, fmt.Sprintf("%s = CASE WHEN %s THEN target.%s ELSE NULL END",
				mssqlIdent(c), same, mssqlIdent(c)))
		}
	}
	return sets
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// This keeps table creation idempotent without requiring IF NOT EXISTS syntax.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		literal(mssqlIdent(tableName)),
		mssqlIdent(tableName),
		innerDefs,
	)
}

// uniqueConstraintName names the natural key constraint, within the 128
// character identifier limit.
func uniqueConstraintName(table string) string {
	name := "UQ_" + table + "_Key"
	if len(name) > 128 {
		name = name[:128]
	}
	return name
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// literal escapes a value for use inside an N'...' string literal.
func literal(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
