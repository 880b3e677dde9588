package schema

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"schemasync/internal/ident"
	"schemasync/internal/storage"
	"schemasync/pkg/records"
)

// UpsertStore is what the Upserter needs from a backend.
type UpsertStore interface {
	Columns(ctx context.Context, table string) ([]storage.ColumnSpec, error)
	Upsert(ctx context.Context, spec storage.UpsertSpec, values []any) error
	CountRows(ctx context.Context, table string, cols ...string) (storage.RowCounts, error)
	Limits() storage.Limits
}

// FieldWarning records a field stored as NULL because it could not be
// coerced to its column type.
type FieldWarning struct {
	RowKey string
	Column string
	Err    error
}

// RowFailure records a row that was not written.
type RowFailure struct {
	RowKey string
	Reason string
}

// UpsertOutcome aggregates the result of one or more upserts.
type UpsertOutcome struct {
	Upserted int
	// Inserted and Updated split Upserted by whether the key was new. UpsertAll
	// derives them from the table's row count before and after the batch.
	Inserted int
	Updated  int
	Failed   []RowFailure
	Warnings []FieldWarning
}

func (o *UpsertOutcome) merge(other UpsertOutcome) {
	o.Upserted += other.Upserted
	o.Failed = append(o.Failed, other.Failed...)
	o.Warnings = append(o.Warnings, other.Warnings...)
}

// Upserter writes SourceRows into a table, one atomic insert-or-update per row.
type Upserter struct {
	store UpsertStore
	log   *zap.Logger

	// now stamps the synced column. Tests inject a fixed clock.
	now func() time.Time
}

// NewUpserter returns an Upserter. A nil logger means no logging; a nil clock
// means time.Now.
func NewUpserter(store UpsertStore, log *zap.Logger, now func() time.Time) *Upserter {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Upserter{store: store, log: log, now: now}
}

// Upsert writes one row. See UpsertAll.
func (u *Upserter) Upsert(ctx context.Context, h TableHandle, row records.SourceRow) (UpsertOutcome, error) {
	return u.UpsertAll(ctx, h, []records.SourceRow{row})
}

// UpsertAll writes rows into h, fetching the table's columns once.
//
// Each dynamic column takes the row's field with the same name (ignoring
// case), or else the field whose safe column name matches. Unmatched columns
// are written as NULL. A field that fails coercion is written as NULL and
// reported as a warning. Resolver columns are never written, except that
// h.Invalidate resets them when their source column changes.
//
// Rows with an empty or oversized key are reported as failed and skipped.
// Store errors and cancellation (checked between rows) abort the batch.
func (u *Upserter) UpsertAll(ctx context.Context, h TableHandle, rows []records.SourceRow) (UpsertOutcome, error) {
	var out UpsertOutcome

	cols, err := u.store.Columns(ctx, h.Name)
	if err != nil {
		return out, fmt.Errorf("columns of %s: %w", h.Name, err)
	}
	p := u.plan(h, cols)
	before, err := u.store.CountRows(ctx, h.Name)
	if err != nil {
		return out, err
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		o, err := u.write(ctx, p, row)
		out.merge(o)
		if err != nil {
			return out, err
		}
	}

	after, err := u.store.CountRows(ctx, h.Name)
	if err != nil {
		return out, err
	}
	out.Inserted = min(max(int(after.Total-before.Total), 0), out.Upserted)
	out.Updated = out.Upserted - out.Inserted
	return out, nil
}

// upsertPlan is the statement shape shared by every row of a batch.
type upsertPlan struct {
	handle   TableHandle
	dynamic  []storage.ColumnSpec
	reserved ident.Reserved
	spec     storage.UpsertSpec
}

func (u *Upserter) plan(h TableHandle, cols []storage.ColumnSpec) upsertPlan {
	p := h.Profile
	plan := upsertPlan{handle: h, reserved: p.Reserved()}

	present := ident.NewReserved()
	for _, c := range cols {
		present.Add(c.Name)
		if p.IsSystem(c.Name) || isResolverColumn(c.Name) {
			continue
		}
		plan.dynamic = append(plan.dynamic, c)
	}

	system := []string{p.KeyColumn, p.EmailColumn, p.NameColumn, p.SubmittedColumn, p.SyncedColumn}
	columns := append([]string{}, system...)
	for _, c := range plan.dynamic {
		columns = append(columns, c.Name)
	}

	var invalidate []storage.Invalidation
	for _, inv := range h.Invalidate {
		if !containsFold(columns, inv.Watch) {
			continue
		}
		var cleared []string
		for _, c := range inv.Clear {
			if present.Contains(c) {
				cleared = append(cleared, c)
			}
		}
		if len(cleared) > 0 {
			invalidate = append(invalidate, storage.Invalidation{Watch: inv.Watch, Clear: cleared})
		}
	}

	plan.spec = storage.UpsertSpec{
		Table:      h.Name,
		Keys:       []string{p.KeyColumn},
		Columns:    columns,
		Update:     columns[1:],
		Invalidate: invalidate,
	}
	return plan
}

func (u *Upserter) write(ctx context.Context, p upsertPlan, row records.SourceRow) (UpsertOutcome, error) {
	var out UpsertOutcome

	key := strings.TrimSpace(row.Key)
	switch {
	case key == "":
		out.Failed = append(out.Failed, RowFailure{Reason: "empty natural key"})
		return out, nil
	case len(key) > keySize:
		out.Failed = append(out.Failed, RowFailure{RowKey: key[:keySize], Reason: "natural key too long"})
		return out, nil
	}

	var submitted any
	if row.SubmittedAt != nil {
		submitted = row.SubmittedAt.UTC()
	}
	values := []any{key, contact(row.Email), contact(row.Name), submitted, u.now().UTC()}

	lim := u.store.Limits()
	fields := indexFields(row, p.reserved, lim.MaxIdentifier)
	for _, c := range p.dynamic {
		raw, ok := fields.lookup(c.Name)
		if !ok {
			values = append(values, nil)
			continue
		}
		v, err := Coerce(raw, c.Type, lim)
		if err != nil {
			u.log.Warn("field coercion failed",
				zap.String("table", p.handle.Name), zap.String("key", key),
				zap.String("column", c.Name), zap.Error(err))
			out.Warnings = append(out.Warnings, FieldWarning{RowKey: key, Column: c.Name, Err: err})
			v = nil
		}
		values = append(values, v)
	}

	if err := u.store.Upsert(ctx, p.spec, values); err != nil {
		return out, err
	}
	out.Upserted++
	return out, nil
}

// fieldIndex finds a row's value for a column name.
type fieldIndex struct {
	fields map[string]any
	exact  map[string]string
	safe   map[string]string
}

func indexFields(row records.SourceRow, reserved ident.Reserved, maxLen int) fieldIndex {
	idx := fieldIndex{
		fields: row.Fields,
		exact:  make(map[string]string, len(row.Fields)),
		safe:   make(map[string]string, len(row.Fields)),
	}
	// FieldNames is ordered, so the first field wins on ties.
	for _, name := range row.FieldNames() {
		if k := strings.ToLower(name); !has(idx.exact, k) {
			idx.exact[k] = name
		}
		if k := strings.ToLower(ident.SafeColumnName(name, reserved, maxLen)); !has(idx.safe, k) {
			idx.safe[k] = name
		}
	}
	return idx
}

func (f fieldIndex) lookup(column string) (any, bool) {
	k := strings.ToLower(column)
	if name, ok := f.exact[k]; ok {
		return f.fields[name], true
	}
	if name, ok := f.safe[k]; ok {
		return f.fields[name], true
	}
	return nil, false
}

func has(m map[string]string, k string) bool {
	_, ok := m[k]
	return ok
}

func isResolverColumn(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), ident.ResolverPrefix)
}

// contact trims an email or name to its column size; blank is NULL.
func contact(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if r := []rune(s); len(r) > contactSize {
		s = string(r[:contactSize])
	}
	return s
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
