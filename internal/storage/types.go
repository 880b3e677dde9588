// To keep the engine generic, table and catalog types live here so the schema,
// resolve and backend packages can import them without circular deps.
package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ColumnType is the logical storage type of a column.
type ColumnType string

const (
	TypeInteger  ColumnType = "integer"
	TypeDecimal  ColumnType = "decimal"
	TypeDatetime ColumnType = "datetime"
	TypeText     ColumnType = "text"
)

// ColumnSpec describes one column.
//
// Size applies to text columns only; 0 means unbounded. Dynamic columns are
// always nullable unbounded-or-typed columns; only system columns use Size.
type ColumnSpec struct {
	Name     string
	Type     ColumnType
	Size     int
	Nullable bool
}

// TableSpec describes a table to create.
//
// Surrogate, when set, becomes an identity primary key. Key is the natural key
// column and gets a UNIQUE constraint; it must also appear in Columns.
type TableSpec struct {
	Name      string
	Surrogate string
	Key       string
	Columns   []ColumnSpec
}

// Validate checks the minimal invariants every backend relies on.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if t.Key == "" {
		return fmt.Errorf("table %s: natural key column is empty", t.Name)
	}
	found := false
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("table %s: column name is empty", t.Name)
		}
		if c.Name == t.Key {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("table %s: key column %s is not declared", t.Name, t.Key)
	}
	return nil
}

// Invalidation resets Clear columns to NULL when an upsert changes Watch.
type Invalidation struct {
	Watch string
	Clear []string
}

// UpsertSpec describes one insert-or-update statement.
//
// Values are bound in Columns order. Keys must be a subset of Columns and
// identify a UNIQUE constraint. Update lists the columns overwritten when the
// row already exists; columns outside Update keep their stored value unless an
// Invalidation clears them.
type UpsertSpec struct {
	Table      string
	Keys       []string
	Columns    []string
	Update     []string
	Invalidate []Invalidation
}

// Validate checks that keys are bound and values line up with columns.
func (u UpsertSpec) Validate(values []any) error {
	if u.Table == "" {
		return fmt.Errorf("upsert: table is empty")
	}
	if len(u.Keys) == 0 {
		return fmt.Errorf("upsert %s: no key columns", u.Table)
	}
	if len(values) != len(u.Columns) {
		return fmt.Errorf("upsert %s: %d values for %d columns", u.Table, len(values), len(u.Columns))
	}
	for _, k := range u.Keys {
		if !containsFold(u.Columns, k) {
			return fmt.Errorf("upsert %s: key %s is not bound", u.Table, k)
		}
	}
	return nil
}

// Limits reports backend constraints the engine has to respect.
//
// DecimalScale and DecimalPrecision are negative when the backend stores
// decimals without a fixed precision.
type Limits struct {
	MaxIdentifier    int
	DecimalPrecision int
	DecimalScale     int
}

// FitDecimal returns ErrPrecisionLoss when d has more fractional digits than
// DecimalScale, and ErrOutOfRange when its whole part does not fit
// DecimalPrecision-DecimalScale digits.
func (l Limits) FitDecimal(d decimal.Decimal) error {
	if l.DecimalScale < 0 {
		return nil
	}
	if !d.Equal(d.Truncate(int32(l.DecimalScale))) {
		return fmt.Errorf("more than %d fractional digits: %w", l.DecimalScale, ErrPrecisionLoss)
	}
	if l.DecimalPrecision > 0 {
		whole := d.Abs().Truncate(0).String()
		if whole != "0" && len(whole) > l.DecimalPrecision-l.DecimalScale {
			return fmt.Errorf("more than %d whole digits: %w", l.DecimalPrecision-l.DecimalScale, ErrOutOfRange)
		}
	}
	return nil
}

// Source is one external feed registered in the catalog.
type Source struct {
	ID           int
	Profile      string
	Alias        string
	Active       bool
	TableName    string
	LastSyncedAt *time.Time
}

// FieldMapping declares that Column of a source holds MappingType values.
type FieldMapping struct {
	SourceID    int
	MappingType string
	Column      string
	UpdatedBy   string
	UpdatedAt   time.Time
}

// ValueMapping is a manual dictionary entry.
type ValueMapping struct {
	SourceValue   string
	MappingType   string
	ResolvedID    string
	ResolvedLabel string
	UpdatedBy     string
}

// StoreAlias maps an alias to a store code. An empty Scope is generic.
type StoreAlias struct {
	Alias     string
	StoreCode string
	Label     string
	Scope     string
	Active    bool
}

// Person is one canonical personnel record.
type Person struct {
	ID          int64
	DisplayName string
	Email       string
	Active      bool
}

// PersonMatch selects how FindPerson compares the search value.
type PersonMatch int

const (
	// MatchExactName compares the display name, ignoring case.
	MatchExactName PersonMatch = iota
	// MatchNameContains finds display names containing the value, shortest first.
	MatchNameContains
	// MatchEmail compares the email, ignoring case.
	MatchEmail
)

// PendingValue is one row whose resolver column is still unset.
type PendingValue struct {
	Key   string
	Value string
}

// UnresolvedValue is a distinct unresolved source value and how many rows carry it.
type UnresolvedValue struct {
	Value string
	Rows  int
}

// RowCounts is a table's row count and, per requested column, how many rows
// have a non-NULL value.
type RowCounts struct {
	Total int64
	Set   map[string]int64
}

// SyncLogEntry is one persisted run summary.
type SyncLogEntry struct {
	RunID       string
	Kind        string
	InitiatedBy string
	Status      string
	Processed   int
	Upserted    int
	Inserted    int
	Updated     int
	Failed      int
	Message     string
	Duration    time.Duration
	StartedAt   time.Time
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
