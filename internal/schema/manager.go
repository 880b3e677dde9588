package schema

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"schemasync/internal/ident"
	"schemasync/internal/probe"
	"schemasync/internal/storage"
	"schemasync/pkg/records"
)

// DefaultSampleRows is how many rows Observe samples per column.
const DefaultSampleRows = 20

// Store is what the Manager needs from a backend.
type Store interface {
	storage.SchemaStore
	SetSourceTable(ctx context.Context, id int, table string) error
}

// ObservedColumn is one raw field name seen in a feed, with sampled values.
type ObservedColumn struct {
	Name    string
	Samples []any
}

// TableHandle identifies a materialized table and how to write to it.
type TableHandle struct {
	Name    string
	Profile Profile

	// Invalidate lists resolver columns to reset when their source column
	// changes value. Entries whose columns are missing are ignored.
	Invalidate []storage.Invalidation
}

// ColumnFailure records a column that could not be added.
type ColumnFailure struct {
	Field  string
	Column string
	Err    error
}

// TableOutcome is the result of EnsureTable / EnsureColumns.
type TableOutcome struct {
	Table   TableHandle
	Created bool
	Added   []storage.ColumnSpec
	Failed  []ColumnFailure
	// Skipped lists fields whose safe name was already taken by another field
	// of the same batch.
	Skipped []string
}

// Manager creates and additively evolves per-source tables.
//
// Concurrency:
//   - Create and alter operations are serialized per table name.
//   - Different tables evolve in parallel.
type Manager struct {
	store Store
	log   *zap.Logger
	locks *keyedMutex
}

// NewManager returns a Manager. A nil logger means no logging.
func NewManager(store Store, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, log: log, locks: newKeyedMutex()}
}

// TableName returns the table src is (or will be) materialized in.
func (m *Manager) TableName(p Profile, src storage.Source) string {
	return p.TableName(src, m.store.Limits().MaxIdentifier)
}

// EnsureTable makes sure src has a table containing a column for every
// observed field.
//
// When the table is missing it is created with the profile's system columns
// plus one typed column per observed field. When it exists, only missing
// columns are added; each addition is independent, and a failed one is
// recorded in the outcome instead of failing the call. Existing columns are
// never altered.
//
// The table name is recorded on the source when it differs from the cached one.
func (m *Manager) EnsureTable(ctx context.Context, p Profile, src storage.Source, observed []ObservedColumn) (TableOutcome, error) {
	table := m.TableName(p, src)
	out := TableOutcome{Table: TableHandle{Name: table, Profile: p}}
	log := m.log.With(zap.Int("source_id", src.ID), zap.String("table", table))

	unlock := m.locks.Lock(table)
	defer unlock()

	exists, err := m.store.TableExists(ctx, table)
	if err != nil {
		return out, err
	}

	if !exists {
		dynamic, skipped := m.Plan(p, observed)
		if err := m.store.CreateTable(ctx, p.TableSpec(table, dynamic)); err != nil {
			return out, err
		}
		out.Created = true
		out.Added = dynamic
		out.Skipped = skipped
		log.Info("table created", zap.Int("columns", len(dynamic)))
	} else {
		if err := m.addMissing(ctx, log, p.Reserved(), table, observed, &out); err != nil {
			return out, err
		}
	}

	if src.TableName != table {
		if err := m.store.SetSourceTable(ctx, src.ID, table); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return out, err
			}
			log.Warn("source is not in the catalog; table name not recorded")
		}
	}
	return out, nil
}

// EnsureColumns adds any of cols missing from table. Failures are recorded per
// column. The table must exist.
func (m *Manager) EnsureColumns(ctx context.Context, table string, cols []storage.ColumnSpec) (TableOutcome, error) {
	out := TableOutcome{Table: TableHandle{Name: table}}
	log := m.log.With(zap.String("table", table))

	unlock := m.locks.Lock(table)
	defer unlock()

	present, err := m.presentColumns(ctx, table)
	if err != nil {
		return out, err
	}
	for _, c := range cols {
		if present.Contains(c.Name) {
			continue
		}
		c.Nullable = true
		if err := m.store.AddColumn(ctx, table, c); err != nil {
			log.Warn("add column failed", zap.String("column", c.Name), zap.Error(err))
			out.Failed = append(out.Failed, ColumnFailure{Column: c.Name, Err: err})
			continue
		}
		present.Add(c.Name)
		out.Added = append(out.Added, c)
	}
	return out, nil
}

func (m *Manager) addMissing(ctx context.Context, log *zap.Logger, reserved ident.Reserved, table string, observed []ObservedColumn, out *TableOutcome) error {
	present, err := m.presentColumns(ctx, table)
	if err != nil {
		return err
	}

	for _, fc := range m.missing(reserved, present, observed) {
		col := fc.col
		if err := m.store.AddColumn(ctx, table, col); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			log.Warn("add column failed", zap.String("column", col.Name), zap.String("field", fc.field), zap.Error(err))
			out.Failed = append(out.Failed, ColumnFailure{Field: fc.field, Column: col.Name, Err: err})
			continue
		}
		out.Added = append(out.Added, col)
		log.Info("column added", zap.String("column", col.Name), zap.String("type", string(col.Type)))
	}
	return nil
}

type fieldColumn struct {
	field string
	col   storage.ColumnSpec
}

// missing names and types the observed fields whose safe name is not present.
// Fields mapping to the same missing name yield one column.
func (m *Manager) missing(reserved, present ident.Reserved, observed []ObservedColumn) []fieldColumn {
	lim := m.store.Limits()
	seen := ident.NewReserved()
	var out []fieldColumn
	for _, o := range observed {
		name := ident.SafeColumnName(o.Name, reserved, lim.MaxIdentifier)
		if present.Contains(name) || seen.Contains(name) {
			continue
		}
		seen.Add(name)
		out = append(out, fieldColumn{
			field: o.Name,
			col:   storage.ColumnSpec{Name: name, Type: probe.InferValues(o.Samples, lim), Nullable: true},
		})
	}
	return out
}

// Preview is what EnsureTable would do for a source, computed read-only.
type Preview struct {
	Table  string
	Exists bool
	// Columns are the table's current columns when it exists, otherwise the
	// columns it would be created with.
	Columns []storage.ColumnSpec
	// Added are the columns a sync would add; for a new table, every
	// non-system column.
	Added   []storage.ColumnSpec
	Skipped []string
}

// Preview reports the table src maps to and the columns a sync with observed
// would create or add. Nothing is written.
func (m *Manager) Preview(ctx context.Context, p Profile, src storage.Source, observed []ObservedColumn) (Preview, error) {
	out := Preview{Table: m.TableName(p, src)}
	exists, err := m.store.TableExists(ctx, out.Table)
	if err != nil {
		return out, err
	}

	if !exists {
		dynamic, skipped := m.Plan(p, observed)
		out.Columns = append(p.SystemColumns(), dynamic...)
		out.Added = dynamic
		out.Skipped = skipped
		return out, nil
	}

	out.Exists = true
	out.Columns, err = m.store.Columns(ctx, out.Table)
	if err != nil {
		return out, fmt.Errorf("columns of %s: %w", out.Table, err)
	}
	present := ident.NewReserved()
	for _, c := range out.Columns {
		present.Add(c.Name)
	}
	for _, fc := range m.missing(p.Reserved(), present, observed) {
		out.Added = append(out.Added, fc.col)
	}
	return out, nil
}

// Plan names and types observed fields the way a new table for p would get
// them, without touching the store. A field whose safe name is already used
// (by the system columns or an earlier field) is returned as skipped.
func (m *Manager) Plan(p Profile, observed []ObservedColumn) ([]storage.ColumnSpec, []string) {
	reserved := p.Reserved()
	used := ident.NewReserved()
	for k := range reserved {
		used.Add(k)
	}

	lim := m.store.Limits()
	var cols []storage.ColumnSpec
	var skipped []string
	for _, o := range observed {
		name := ident.SafeColumnName(o.Name, reserved, lim.MaxIdentifier)
		if used.Contains(name) {
			skipped = append(skipped, o.Name)
			continue
		}
		used.Add(name)
		cols = append(cols, storage.ColumnSpec{Name: name, Type: probe.InferValues(o.Samples, lim), Nullable: true})
	}
	return cols, skipped
}

func (m *Manager) presentColumns(ctx context.Context, table string) (ident.Reserved, error) {
	cols, err := m.store.Columns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	present := ident.NewReserved()
	for _, c := range cols {
		present.Add(c.Name)
	}
	return present, nil
}

// Observe collects the fields of rows in first-appearance order, sampling
// values from the first sampleRows rows (DefaultSampleRows when <= 0).
// Fields first seen after the sample window get no samples and become text.
func Observe(rows []records.SourceRow, sampleRows int) []ObservedColumn {
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}

	var out []ObservedColumn
	index := make(map[string]int)
	for i, r := range rows {
		for _, name := range r.FieldNames() {
			j, ok := index[name]
			if !ok {
				j = len(out)
				index[name] = j
				out = append(out, ObservedColumn{Name: name})
			}
			if i < sampleRows {
				out[j].Samples = append(out[j].Samples, r.Fields[name])
			}
		}
	}
	return out
}
