package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"schemasync/internal/ident"
	"schemasync/internal/metrics"
	"schemasync/internal/schema"
	"schemasync/internal/storage"
)

// Store is what the Service needs from a backend.
type Store interface {
	Lookups
	Limits() storage.Limits
	TableExists(ctx context.Context, table string) (bool, error)
	Columns(ctx context.Context, table string) ([]storage.ColumnSpec, error)
	CountRows(ctx context.Context, table string, cols ...string) (storage.RowCounts, error)

	PendingValues(ctx context.Context, table, keyCol, sourceCol, resolvedCol string) ([]storage.PendingValue, error)
	WriteResolution(ctx context.Context, table, keyCol, rowKey, idCol, labelCol, id, label string) (bool, error)
	BackfillValue(ctx context.Context, table, sourceCol, idCol, labelCol, value, id, label string) (int64, error)
	UnresolvedValues(ctx context.Context, table, sourceCol, idCol string, limit int) ([]storage.UnresolvedValue, error)

	Sources(ctx context.Context, activeOnly bool) ([]storage.Source, error)
	FieldMappings(ctx context.Context, sourceID int) ([]storage.FieldMapping, error)
	PutFieldMapping(ctx context.Context, m storage.FieldMapping) error
	DeleteFieldMapping(ctx context.Context, sourceID int, mappingType string) error
	PutValueMapping(ctx context.Context, m storage.ValueMapping) error
	DeleteValueMapping(ctx context.Context, value, mappingType string) error
}

// ColumnEnsurer adds resolver columns to a table.
type ColumnEnsurer interface {
	EnsureColumns(ctx context.Context, table string, cols []storage.ColumnSpec) (schema.TableOutcome, error)
}

// Mapping is a FieldMapping with a parsed type.
type Mapping struct {
	Type      MappingType
	Column    string
	UpdatedBy string
	UpdatedAt time.Time
}

// Disabled reports whether the mapping is the NoMap marker.
func (m Mapping) Disabled() bool { return m.Column == NoMap }

// MappingError is a mapping of one source that could not be processed.
// Other mappings of the same source are unaffected.
type MappingError struct {
	MappingType string
	Column      string
	Err         error
}

func (e MappingError) Error() string {
	return fmt.Sprintf("mapping %s -> %s: %v", e.MappingType, e.Column, e.Err)
}

func (e MappingError) Unwrap() error { return e.Err }

// Counts summarizes a ResolveAll call.
//
// Resolved + Unresolved can be lower than TotalAttempted when another run
// resolved a row first.
type Counts struct {
	Resolved       int
	Unresolved     int
	TotalAttempted int
	Errors         []MappingError
}

// MappingStats is the resolution progress of one source table.
type MappingStats struct {
	Table       string
	TableExists bool
	TotalRows   int64
	Types       []TypeStats
}

// TypeStats is the resolution progress of one mapping. Unresolved counts
// every row without a resolver id, blank source values included.
type TypeStats struct {
	Type          MappingType
	Column        string
	Disabled      bool
	ColumnMissing bool
	Resolved      int64
	Unresolved    int64
}

// Service resolves values and maintains field mappings and the dictionary.
type Service struct {
	store     Store
	columns   ColumnEnsurer
	cache     *Cache
	log       *zap.Logger
	resolvers map[MappingType]Resolver
	now       func() time.Time
}

// NewService returns a Service. A nil cache disables caching; a nil logger
// means no logging.
func NewService(store Store, columns ColumnEnsurer, cache *Cache, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:     store,
		columns:   columns,
		cache:     cache,
		log:       log,
		resolvers: make(map[MappingType]Resolver, len(MappingTypes)),
		now:       time.Now,
	}
	for _, t := range MappingTypes {
		s.resolvers[t] = newResolver(t, store)
	}
	return s
}

// Resolve resolves one raw value. Blank values are unresolved without a lookup.
func (s *Service) Resolve(ctx context.Context, value string, t MappingType, scope string) (Outcome, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Outcome{}, nil
	}
	r, ok := s.resolvers[t]
	if !ok {
		return Outcome{}, fmt.Errorf("%s: %w", t, ErrUnknownMappingType)
	}
	if s.cache != nil {
		if o, ok := s.cache.Get(t, scope, value); ok {
			return o, nil
		}
	}

	o, err := r.Resolve(ctx, value, scope)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve %s %q: %w", t, value, err)
	}
	if s.cache != nil {
		s.cache.Put(t, scope, value, o)
	}
	return o, nil
}

// target is the table of one source and how its columns are named.
type target struct {
	profile schema.Profile
	table   string
	columns []storage.ColumnSpec
}

func (s *Service) target(ctx context.Context, src storage.Source) (target, error) {
	p, err := schema.LookupProfile(src.Profile)
	if err != nil {
		return target{}, err
	}
	t := target{profile: p, table: p.TableName(src, s.store.Limits().MaxIdentifier)}
	t.columns, err = s.store.Columns(ctx, t.table)
	if err != nil {
		return target{}, fmt.Errorf("columns of %s: %w", t.table, err)
	}
	return t, nil
}

// column finds the table column a mapping refers to: the same name ignoring
// case, or the column derived from it as a raw field name.
func (s *Service) column(t target, name string) (string, bool) {
	safe := ident.SafeColumnName(name, t.profile.Reserved(), s.store.Limits().MaxIdentifier)
	for _, want := range []string{name, safe} {
		for _, c := range t.columns {
			if strings.EqualFold(c.Name, want) {
				return c.Name, true
			}
		}
	}
	return "", false
}

func (t target) has(col string) bool {
	for _, c := range t.columns {
		if strings.EqualFold(c.Name, col) {
			return true
		}
	}
	return false
}

// ResolveAll resolves the backlog of every mapping configured on src.
//
// Only rows whose resolver id is still NULL and whose source value is not
// blank are visited, so repeated calls only process new or reset rows.
// Resolver columns are added on first use. A mapping whose column is missing,
// or whose type is unknown, is reported in Counts.Errors and skipped. Store
// errors and cancellation (checked between rows) abort the call.
func (s *Service) ResolveAll(ctx context.Context, src storage.Source) (Counts, error) {
	var counts Counts

	fms, err := s.store.FieldMappings(ctx, src.ID)
	if err != nil {
		return counts, fmt.Errorf("field mappings of source %d: %w", src.ID, err)
	}
	if len(fms) == 0 {
		return counts, nil
	}

	t, err := s.target(ctx, src)
	if err != nil {
		return counts, err
	}
	log := s.log.With(zap.Int("source_id", src.ID), zap.String("table", t.table))

	for _, fm := range fms {
		if fm.Column == NoMap {
			continue
		}
		mt, err := ParseMappingType(fm.MappingType)
		if err != nil {
			counts.Errors = append(counts.Errors, MappingError{MappingType: fm.MappingType, Column: fm.Column, Err: err})
			continue
		}
		col, ok := s.column(t, fm.Column)
		if !ok {
			log.Warn("mapped column missing", zap.String("mapping_type", mt.String()), zap.String("column", fm.Column))
			counts.Errors = append(counts.Errors, MappingError{MappingType: mt.String(), Column: fm.Column, Err: ErrMappingColumnMissing})
			continue
		}
		if err := s.ensureResolverColumns(ctx, t, mt); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return counts, ctxErr
			}
			counts.Errors = append(counts.Errors, MappingError{MappingType: mt.String(), Column: col, Err: err})
			continue
		}
		if err := s.resolveColumn(ctx, log, t, mt, col, &counts); err != nil {
			return counts, err
		}
	}

	log.Info("resolution finished",
		zap.Int("resolved", counts.Resolved),
		zap.Int("unresolved", counts.Unresolved),
		zap.Int("attempted", counts.TotalAttempted),
		zap.Int("mapping_errors", len(counts.Errors)))
	return counts, nil
}

func (s *Service) resolveColumn(ctx context.Context, log *zap.Logger, t target, mt MappingType, col string, counts *Counts) error {
	key := t.profile.KeyColumn
	pending, err := s.store.PendingValues(ctx, t.table, key, col, mt.IDColumn())
	if err != nil {
		return err
	}

	for _, pv := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		counts.TotalAttempted++

		o, err := s.Resolve(ctx, pv.Value, mt, t.profile.Scope)
		if err != nil {
			metrics.RecordResolution(mt.String(), "error")
			return err
		}
		if !o.Resolved() {
			counts.Unresolved++
			metrics.RecordResolution(mt.String(), "unresolved")
			continue
		}

		wrote, err := s.store.WriteResolution(ctx, t.table, key, pv.Key, mt.IDColumn(), mt.LabelColumn(), o.ID, o.Label)
		if err != nil {
			return err
		}
		if wrote {
			counts.Resolved++
			metrics.RecordResolution(mt.String(), "resolved")
		}
	}
	log.Debug("column resolved", zap.String("mapping_type", mt.String()), zap.String("column", col), zap.Int("pending", len(pending)))
	return nil
}

func (s *Service) ensureResolverColumns(ctx context.Context, t target, mt MappingType) error {
	if t.has(mt.IDColumn()) && t.has(mt.LabelColumn()) {
		return nil
	}
	out, err := s.columns.EnsureColumns(ctx, t.table, mt.Columns())
	if err != nil {
		return err
	}
	if len(out.Failed) > 0 {
		return fmt.Errorf("add %s: %w", out.Failed[0].Column, out.Failed[0].Err)
	}
	return nil
}

// Invalidations returns, for every active mapping of src, the resolver columns
// to reset when the mapped column changes value. Resolver columns the table
// does not have yet are left out.
func (s *Service) Invalidations(ctx context.Context, src storage.Source) ([]storage.Invalidation, error) {
	fms, err := s.store.FieldMappings(ctx, src.ID)
	if err != nil || len(fms) == 0 {
		return nil, err
	}
	t, err := s.target(ctx, src)
	if err != nil {
		return nil, err
	}

	var out []storage.Invalidation
	for _, fm := range fms {
		mt, err := ParseMappingType(fm.MappingType)
		if err != nil || fm.Column == NoMap {
			continue
		}
		col, ok := s.column(t, fm.Column)
		if !ok {
			continue
		}
		var reset []string
		for _, c := range []string{mt.IDColumn(), mt.LabelColumn()} {
			if t.has(c) {
				reset = append(reset, c)
			}
		}
		if len(reset) > 0 {
			out = append(out, storage.Invalidation{Watch: col, Clear: reset})
		}
	}
	return out, nil
}

// Mappings lists the mappings of a source. Entries with an unknown type are
// skipped.
func (s *Service) Mappings(ctx context.Context, sourceID int) ([]Mapping, error) {
	fms, err := s.store.FieldMappings(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	out := make([]Mapping, 0, len(fms))
	for _, fm := range fms {
		mt, err := ParseMappingType(fm.MappingType)
		if err != nil {
			s.log.Warn("skipping field mapping", zap.Int("source_id", sourceID), zap.Error(err))
			continue
		}
		out = append(out, Mapping{Type: mt, Column: fm.Column, UpdatedBy: fm.UpdatedBy, UpdatedAt: fm.UpdatedAt})
	}
	return out, nil
}

// SetMapping declares that column of src holds t values, replacing any
// previous mapping of t. NoMap disables t for the source.
//
// When the table exists the column must be in it; the stored name is the
// table's column name.
func (s *Service) SetMapping(ctx context.Context, src storage.Source, t MappingType, column, updatedBy string) (Mapping, error) {
	column = strings.TrimSpace(column)
	if column == "" {
		return Mapping{}, fmt.Errorf("set mapping %s: column is empty", t)
	}
	if column != NoMap {
		tg, err := s.target(ctx, src)
		if err != nil {
			return Mapping{}, err
		}
		if len(tg.columns) > 0 {
			col, ok := s.column(tg, column)
			if !ok {
				return Mapping{}, fmt.Errorf("set mapping %s -> %s: %w", t, column, ErrMappingColumnMissing)
			}
			column = col
		}
	}

	m := storage.FieldMapping{
		SourceID:    src.ID,
		MappingType: t.String(),
		Column:      column,
		UpdatedBy:   updatedBy,
		UpdatedAt:   s.now().UTC(),
	}
	if err := s.store.PutFieldMapping(ctx, m); err != nil {
		return Mapping{}, err
	}
	s.log.Info("field mapping set",
		zap.Int("source_id", src.ID), zap.String("mapping_type", t.String()), zap.String("column", column))
	return Mapping{Type: t, Column: column, UpdatedBy: updatedBy, UpdatedAt: m.UpdatedAt}, nil
}

// DeleteMapping removes the mapping of t from a source. Resolver columns and
// their values stay.
func (s *Service) DeleteMapping(ctx context.Context, sourceID int, t MappingType) error {
	return s.store.DeleteFieldMapping(ctx, sourceID, t.String())
}

// SetValueMapping adds or replaces a dictionary entry and backfills every
// still-unresolved row carrying value in a column mapped to t. It returns the
// number of rows backfilled.
func (s *Service) SetValueMapping(ctx context.Context, value string, t MappingType, id, label, updatedBy string) (int64, error) {
	value = strings.TrimSpace(value)
	id = strings.TrimSpace(id)
	if value == "" || id == "" {
		return 0, fmt.Errorf("set value mapping %s: value and id are required", t)
	}

	err := s.store.PutValueMapping(ctx, storage.ValueMapping{
		SourceValue:   value,
		MappingType:   t.String(),
		ResolvedID:    id,
		ResolvedLabel: label,
		UpdatedBy:     updatedBy,
	})
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		s.cache.Purge(t)
	}

	n, err := s.backfill(ctx, value, t, id, label)
	if err != nil {
		return n, fmt.Errorf("backfill %q: %w", value, err)
	}
	s.log.Info("value mapping set",
		zap.String("mapping_type", t.String()), zap.String("value", value), zap.Int64("backfilled", n))
	return n, nil
}

func (s *Service) backfill(ctx context.Context, value string, t MappingType, id, label string) (int64, error) {
	srcs, err := s.store.Sources(ctx, false)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, src := range srcs {
		fms, err := s.store.FieldMappings(ctx, src.ID)
		if err != nil {
			return total, err
		}
		for _, fm := range fms {
			mt, err := ParseMappingType(fm.MappingType)
			if err != nil || mt != t || fm.Column == NoMap {
				continue
			}
			tg, err := s.target(ctx, src)
			if err != nil {
				if errors.Is(err, schema.ErrUnknownProfile) {
					continue
				}
				return total, err
			}
			col, ok := s.column(tg, fm.Column)
			if !ok || !tg.has(t.IDColumn()) || !tg.has(t.LabelColumn()) {
				continue
			}
			n, err := s.store.BackfillValue(ctx, tg.table, col, t.IDColumn(), t.LabelColumn(), value, id, label)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	return total, nil
}

// DeleteValueMapping removes a dictionary entry. Rows it already resolved
// keep their values.
func (s *Service) DeleteValueMapping(ctx context.Context, value string, t MappingType) error {
	if err := s.store.DeleteValueMapping(ctx, strings.TrimSpace(value), t.String()); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Purge(t)
	}
	return nil
}

// Unresolved lists the distinct unresolved values of src's t column, most
// frequent first. limit <= 0 returns all of them.
func (s *Service) Unresolved(ctx context.Context, src storage.Source, t MappingType, limit int) ([]storage.UnresolvedValue, error) {
	var column string
	fms, err := s.store.FieldMappings(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	for _, fm := range fms {
		if mt, err := ParseMappingType(fm.MappingType); err == nil && mt == t && fm.Column != NoMap {
			column = fm.Column
		}
	}
	if column == "" {
		return nil, nil
	}

	tg, err := s.target(ctx, src)
	if err != nil {
		return nil, err
	}
	col, ok := s.column(tg, column)
	if !ok {
		return nil, fmt.Errorf("unresolved %s -> %s: %w", t, column, ErrMappingColumnMissing)
	}
	if err := s.ensureResolverColumns(ctx, tg, t); err != nil {
		return nil, err
	}
	return s.store.UnresolvedValues(ctx, tg.table, col, t.IDColumn(), limit)
}

// Stats reports how many rows of src are resolved for each of its mappings.
// Mappings whose resolver columns were never created report every row as
// unresolved.
func (s *Service) Stats(ctx context.Context, src storage.Source) (MappingStats, error) {
	var stats MappingStats
	p, err := schema.LookupProfile(src.Profile)
	if err != nil {
		return stats, err
	}
	stats.Table = p.TableName(src, s.store.Limits().MaxIdentifier)

	ms, err := s.Mappings(ctx, src.ID)
	if err != nil {
		return stats, fmt.Errorf("field mappings of source %d: %w", src.ID, err)
	}
	stats.TableExists, err = s.store.TableExists(ctx, stats.Table)
	if err != nil {
		return stats, err
	}
	if !stats.TableExists {
		for _, m := range ms {
			stats.Types = append(stats.Types, TypeStats{Type: m.Type, Column: m.Column, Disabled: m.Disabled()})
		}
		return stats, nil
	}

	t, err := s.target(ctx, src)
	if err != nil {
		return stats, err
	}
	total, err := s.store.CountRows(ctx, t.table)
	if err != nil {
		return stats, err
	}
	stats.TotalRows = total.Total

	for _, m := range ms {
		ts := TypeStats{Type: m.Type, Column: m.Column, Disabled: m.Disabled()}
		if ts.Disabled {
			stats.Types = append(stats.Types, ts)
			continue
		}
		if col, ok := s.column(t, m.Column); ok {
			ts.Column = col
		} else {
			ts.ColumnMissing = true
		}
		if !t.has(m.Type.IDColumn()) {
			ts.Unresolved = stats.TotalRows
			stats.Types = append(stats.Types, ts)
			continue
		}
		c, err := s.store.CountRows(ctx, t.table, m.Type.IDColumn())
		if err != nil {
			return stats, fmt.Errorf("count %s of %s: %w", m.Type.IDColumn(), t.table, err)
		}
		ts.Resolved = c.Set[m.Type.IDColumn()]
		ts.Unresolved = c.Total - ts.Resolved
		stats.Types = append(stats.Types, ts)
	}
	return stats, nil
}
