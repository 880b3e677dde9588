package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config is the minimal configuration needed to open a Store.
//
// Edge cases:
//   - Backend must be non-empty and must match a registered backend.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//   - MaxOpenConns <= 0 keeps the backend default.
//   - Logger may be nil.
type Config struct {
	Backend      string
	DSN          string
	MaxOpenConns int
	Logger       *zap.Logger
}

// SchemaStore owns DDL for dynamic tables.
//
// Implementations must make CreateTable and AddColumn idempotent at the
// storage layer (create-if-missing, add-if-missing). There is deliberately no
// operation that drops, renames or retypes a column.
type SchemaStore interface {
	TableExists(ctx context.Context, table string) (bool, error)
	CreateTable(ctx context.Context, spec TableSpec) error
	// Columns returns the table's columns in ordinal order.
	Columns(ctx context.Context, table string) ([]ColumnSpec, error)
	AddColumn(ctx context.Context, table string, col ColumnSpec) error
	Limits() Limits
}

// RowStore writes and scans rows of dynamic tables.
type RowStore interface {
	// Upsert executes one atomic insert-or-update.
	Upsert(ctx context.Context, spec UpsertSpec, values []any) error

	// PendingValues returns rows where resolved IS NULL and the trimmed source
	// column is non-empty.
	PendingValues(ctx context.Context, table, keyCol, sourceCol, resolvedCol string) ([]PendingValue, error)

	// WriteResolution sets idCol/labelCol on one row, only if idCol is still
	// NULL. It reports whether a row was updated.
	WriteResolution(ctx context.Context, table, keyCol, rowKey, idCol, labelCol, id, label string) (bool, error)

	// BackfillValue resolves every still-unset row whose trimmed source value
	// equals value. It returns the number of rows updated.
	BackfillValue(ctx context.Context, table, sourceCol, idCol, labelCol, value, id, label string) (int64, error)

	// UnresolvedValues groups still-unset rows by trimmed source value, most
	// frequent first.
	UnresolvedValues(ctx context.Context, table, sourceCol, idCol string, limit int) ([]UnresolvedValue, error)

	// CountRows counts the rows of table and, for each of cols, the rows
	// where it is not NULL, in one statement.
	CountRows(ctx context.Context, table string, cols ...string) (RowCounts, error)
}

// CatalogStore reads and writes engine configuration and run history.
type CatalogStore interface {
	Sources(ctx context.Context, activeOnly bool) ([]Source, error)
	// Source returns ErrNotFound when id is unknown.
	Source(ctx context.Context, id int) (Source, error)
	PutSource(ctx context.Context, s Source) error
	SetSourceTable(ctx context.Context, id int, table string) error
	MarkSynced(ctx context.Context, id int, at time.Time) error

	FieldMappings(ctx context.Context, sourceID int) ([]FieldMapping, error)
	PutFieldMapping(ctx context.Context, m FieldMapping) error
	// DeleteFieldMapping returns ErrNotFound when nothing was deleted.
	DeleteFieldMapping(ctx context.Context, sourceID int, mappingType string) error

	PutValueMapping(ctx context.Context, m ValueMapping) error
	// DeleteValueMapping returns ErrNotFound when nothing was deleted.
	DeleteValueMapping(ctx context.Context, value, mappingType string) error

	AppendSyncLog(ctx context.Context, e SyncLogEntry) error
	// SyncLogs returns the most recent entries first. limit <= 0 returns all.
	SyncLogs(ctx context.Context, limit int) ([]SyncLogEntry, error)
}

// LookupStore answers the Reference Resolver's queries against the manual
// dictionary and the canonical lookup tables.
type LookupStore interface {
	ValueMapping(ctx context.Context, value, mappingType string) (ValueMapping, bool, error)
	// StoreAlias prefers an entry scoped to scope over a generic one.
	StoreAlias(ctx context.Context, alias, scope string) (StoreAlias, bool, error)
	FindPerson(ctx context.Context, match PersonMatch, value string) (Person, bool, error)

	PutStoreAlias(ctx context.Context, a StoreAlias) error
	PutPerson(ctx context.Context, p Person) error
}

// Store is everything one backend provides.
type Store interface {
	SchemaStore
	RowStore
	CatalogStore
	LookupStore

	// Migrate creates or upgrades the catalog tables.
	Migrate(ctx context.Context) error
	// Close releases backend resources. Call once.
	Close() error
}

// Factory opens a Store for a backend.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register registers a backend under a name (e.g. "mssql", "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The name becomes the lookup key used by Open.
//
// Panics:
//   - If name is empty.
//   - If f is nil.
//   - If name is already registered. Failing fast avoids ambiguous backend
//     selection.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if name == "" {
		panic("storage: Register called with empty name")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("storage: factory already registered for backend=%q", name))
	}

	factories[name] = f
}

// Open constructs a Store using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. Open takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error wrapping ErrUnknownBackend if cfg.Backend is empty or
//     not registered.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Backend == "" {
		return nil, fmt.Errorf("storage: missing backend: %w", ErrUnknownBackend)
	}

	factoriesMu.RLock()
	f := factories[cfg.Backend]
	factoriesMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: backend=%s: %w", cfg.Backend, ErrUnknownBackend)
	}
	return f(ctx, cfg)
}

// Backends lists registered backend names, sorted.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
