package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SQLStore implements Store on database/sql. All SQL differences between
// backends go through its Dialect.
//
// Rows are always fully read and closed before the next statement runs, so
// the store works on single-connection pools (SQLite).
type SQLStore struct {
	db  *sql.DB
	d   Dialect
	log *zap.Logger

	// now is injected for deterministic tests. Production uses time.Now.
	now func() time.Time
}

// NewSQLStore wraps an open database handle. A nil logger means no logging.
func NewSQLStore(db *sql.DB, d Dialect, log *zap.Logger) *SQLStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLStore{
		db:  db,
		d:   d,
		log: log.With(zap.String("backend", d.Name())),
		now: time.Now,
	}
}

// DB returns the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect returns the store's dialect.
func (s *SQLStore) Dialect() Dialect { return s.d }

// Close closes the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// Migrate applies the embedded catalog migrations for this dialect.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db, s.d.Name())
}

// Limits implements SchemaStore.
func (s *SQLStore) Limits() Limits { return s.d.Limits() }

// ---- schema ----

// TableExists implements SchemaStore.
func (s *SQLStore) TableExists(ctx context.Context, table string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, s.d.TableExistsSQL(), table)
	if err != nil {
		return false, fmt.Errorf("%s: table exists %s: %w", s.d.Name(), table, err)
	}
	defer rows.Close()

	exists := rows.Next()
	return exists, rows.Err()
}

// CreateTable implements SchemaStore.
func (s *SQLStore) CreateTable(ctx context.Context, spec TableSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%s: %w", s.d.Name(), err)
	}
	q, err := s.d.CreateTableSQL(spec)
	if err != nil {
		return err
	}
	if err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("%s: create table %s: %w", s.d.Name(), spec.Name, err)
	}
	return nil
}

// Columns implements SchemaStore.
func (s *SQLStore) Columns(ctx context.Context, table string) ([]ColumnSpec, error) {
	rows, err := s.db.QueryContext(ctx, s.d.ColumnsSQL(), table)
	if err != nil {
		return nil, fmt.Errorf("%s: columns %s: %w", s.d.Name(), table, err)
	}
	defer rows.Close()

	var out []ColumnSpec
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("%s: scan column of %s: %w", s.d.Name(), table, err)
		}
		out = append(out, ColumnSpec{Name: name, Type: s.d.LogicalType(typ), Nullable: true})
	}
	return out, rows.Err()
}

// AddColumn implements SchemaStore. Dynamic columns are always added nullable.
func (s *SQLStore) AddColumn(ctx context.Context, table string, col ColumnSpec) error {
	col.Nullable = true
	if err := s.exec(ctx, s.d.AddColumnSQL(table, col)); err != nil {
		if s.d.DuplicateColumn(err) {
			return nil
		}
		return fmt.Errorf("%s: add column %s.%s: %w", s.d.Name(), table, col.Name, err)
	}
	return nil
}

// ---- rows ----

// Upsert implements RowStore. time.Time values are bound through the
// dialect's BindTime.
func (s *SQLStore) Upsert(ctx context.Context, spec UpsertSpec, values []any) error {
	if err := spec.Validate(values); err != nil {
		return err
	}
	args := make([]any, len(values))
	for i, v := range values {
		if t, ok := v.(time.Time); ok {
			args[i] = s.d.BindTime(t)
			continue
		}
		args[i] = v
	}
	if err := s.exec(ctx, s.d.UpsertSQL(spec), args...); err != nil {
		return fmt.Errorf("%s: upsert %s: %w", s.d.Name(), spec.Table, err)
	}
	return nil
}

// PendingValues implements RowStore.
func (s *SQLStore) PendingValues(ctx context.Context, table, keyCol, sourceCol, resolvedCol string) ([]PendingValue, error) {
	q := s.d.Quote
	trimmed := s.d.Trim(q(sourceCol))
	query := fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s IS NULL AND %s IS NOT NULL AND %s <> '' ORDER BY %s",
		q(keyCol), trimmed, q(table), q(resolvedCol), q(sourceCol), trimmed, q(keyCol),
	)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: pending values %s.%s: %w", s.d.Name(), table, sourceCol, err)
	}
	defer rows.Close()

	var out []PendingValue
	for rows.Next() {
		var k, v any
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%s: scan pending value: %w", s.d.Name(), err)
		}
		out = append(out, PendingValue{Key: NormalizeKey(k), Value: NormalizeKey(v)})
	}
	return out, rows.Err()
}

// WriteResolution implements RowStore.
func (s *SQLStore) WriteResolution(ctx context.Context, table, keyCol, rowKey, idCol, labelCol, id, label string) (bool, error) {
	q := s.d.Quote
	query := fmt.Sprintf(
		"UPDATE %s SET %s = %s, %s = %s WHERE %s = %s AND %s IS NULL",
		q(table), q(idCol), s.d.Placeholder(1), q(labelCol), s.d.Placeholder(2),
		q(keyCol), s.d.Placeholder(3), q(idCol),
	)
	res, err := s.db.ExecContext(ctx, query, id, nullIfEmpty(label), rowKey)
	if err != nil {
		return false, fmt.Errorf("%s: write resolution %s: %w", s.d.Name(), table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// BackfillValue implements RowStore.
func (s *SQLStore) BackfillValue(ctx context.Context, table, sourceCol, idCol, labelCol, value, id, label string) (int64, error) {
	q := s.d.Quote
	query := fmt.Sprintf(
		"UPDATE %s SET %s = %s, %s = %s WHERE %s IS NULL AND %s = %s",
		q(table), q(idCol), s.d.Placeholder(1), q(labelCol), s.d.Placeholder(2),
		q(idCol), s.d.Trim(q(sourceCol)), s.d.Placeholder(3),
	)
	res, err := s.db.ExecContext(ctx, query, id, nullIfEmpty(label), strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: backfill %s.%s: %w", s.d.Name(), table, sourceCol, err)
	}
	return res.RowsAffected()
}

// UnresolvedValues implements RowStore. limit <= 0 returns every value.
func (s *SQLStore) UnresolvedValues(ctx context.Context, table, sourceCol, idCol string, limit int) ([]UnresolvedValue, error) {
	q := s.d.Quote
	trimmed := s.d.Trim(q(sourceCol))
	list := trimmed + " AS source_value, COUNT(*) AS row_count"
	rest := fmt.Sprintf(
		"FROM %s WHERE %s IS NULL AND %s IS NOT NULL AND %s <> '' GROUP BY %s ORDER BY row_count DESC, source_value",
		q(table), q(idCol), q(sourceCol), trimmed, trimmed,
	)
	query := "SELECT " + list + " " + rest
	if limit > 0 {
		query = s.d.Limit(limit, list, rest)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: unresolved values %s.%s: %w", s.d.Name(), table, sourceCol, err)
	}
	defer rows.Close()

	var out []UnresolvedValue
	for rows.Next() {
		var v any
		var n int64
		if err := rows.Scan(&v, &n); err != nil {
			return nil, fmt.Errorf("%s: scan unresolved value: %w", s.d.Name(), err)
		}
		out = append(out, UnresolvedValue{Value: NormalizeKey(v), Rows: int(n)})
	}
	return out, rows.Err()
}

// CountRows implements RowStore.
func (s *SQLStore) CountRows(ctx context.Context, table string, cols ...string) (RowCounts, error) {
	q := s.d.Quote
	list := []string{"COUNT(*)"}
	for _, c := range cols {
		list = append(list, "COUNT("+q(c)+")")
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(list, ", "), q(table))

	counts := make([]int64, len(list))
	dest := make([]any, len(list))
	for i := range counts {
		dest[i] = &counts[i]
	}
	if err := s.db.QueryRowContext(ctx, query).Scan(dest...); err != nil {
		return RowCounts{}, fmt.Errorf("%s: count rows of %s: %w", s.d.Name(), table, err)
	}

	out := RowCounts{Total: counts[0], Set: make(map[string]int64, len(cols))}
	for i, c := range cols {
		out.Set[c] = counts[i+1]
	}
	return out, nil
}

// ---- catalog ----

const sourceColumns = "source_id, profile, alias, active, table_name, last_synced_at"

// Sources implements CatalogStore.
func (s *SQLStore) Sources(ctx context.Context, activeOnly bool) ([]Source, error) {
	query := "SELECT " + sourceColumns + " FROM sync_sources"
	var args []any
	if activeOnly {
		query += " WHERE active = " + s.d.Placeholder(1)
		args = append(args, true)
	}
	query += " ORDER BY source_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: list sources: %w", s.d.Name(), err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan source: %w", s.d.Name(), err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// Source implements CatalogStore.
func (s *SQLStore) Source(ctx context.Context, id int) (Source, error) {
	query := "SELECT " + sourceColumns + " FROM sync_sources WHERE source_id = " + s.d.Placeholder(1)
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return Source{}, fmt.Errorf("%s: get source %d: %w", s.d.Name(), id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Source{}, err
		}
		return Source{}, fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	src, err := scanSource(rows)
	if err != nil {
		return Source{}, fmt.Errorf("%s: scan source %d: %w", s.d.Name(), id, err)
	}
	return src, nil
}

// PutSource implements CatalogStore. The cached table name and the sync
// watermark are never touched here.
func (s *SQLStore) PutSource(ctx context.Context, src Source) error {
	spec := UpsertSpec{
		Table:   "sync_sources",
		Keys:    []string{"source_id"},
		Columns: []string{"source_id", "profile", "alias", "active"},
		Update:  []string{"profile", "alias", "active"},
	}
	return s.upsertCatalog(ctx, spec, src.ID, src.Profile, src.Alias, src.Active)
}

// SetSourceTable implements CatalogStore.
func (s *SQLStore) SetSourceTable(ctx context.Context, id int, table string) error {
	query := fmt.Sprintf("UPDATE sync_sources SET table_name = %s WHERE source_id = %s",
		s.d.Placeholder(1), s.d.Placeholder(2))
	return s.execExpectRow(ctx, fmt.Sprintf("source %d", id), query, table, id)
}

// MarkSynced implements CatalogStore.
func (s *SQLStore) MarkSynced(ctx context.Context, id int, at time.Time) error {
	query := fmt.Sprintf("UPDATE sync_sources SET last_synced_at = %s WHERE source_id = %s",
		s.d.Placeholder(1), s.d.Placeholder(2))
	return s.execExpectRow(ctx, fmt.Sprintf("source %d", id), query, s.d.BindTime(at), id)
}

// FieldMappings implements CatalogStore.
func (s *SQLStore) FieldMappings(ctx context.Context, sourceID int) ([]FieldMapping, error) {
	query := "SELECT source_id, mapping_type, column_name, updated_by, updated_at FROM sync_field_mappings WHERE source_id = " +
		s.d.Placeholder(1) + " ORDER BY mapping_type"
	rows, err := s.db.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("%s: field mappings %d: %w", s.d.Name(), sourceID, err)
	}
	defer rows.Close()

	var out []FieldMapping
	for rows.Next() {
		var (
			id        int64
			m         FieldMapping
			updatedBy sql.NullString
			updatedAt any
		)
		if err := rows.Scan(&id, &m.MappingType, &m.Column, &updatedBy, &updatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan field mapping: %w", s.d.Name(), err)
		}
		m.SourceID = int(id)
		m.UpdatedBy = updatedBy.String
		if ts := asTime(updatedAt); ts != nil {
			m.UpdatedAt = *ts
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PutFieldMapping implements CatalogStore.
func (s *SQLStore) PutFieldMapping(ctx context.Context, m FieldMapping) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = s.now()
	}
	spec := UpsertSpec{
		Table:   "sync_field_mappings",
		Keys:    []string{"source_id", "mapping_type"},
		Columns: []string{"source_id", "mapping_type", "column_name", "updated_by", "updated_at"},
		Update:  []string{"column_name", "updated_by", "updated_at"},
	}
	return s.upsertCatalog(ctx, spec, m.SourceID, m.MappingType, m.Column, nullIfEmpty(m.UpdatedBy), m.UpdatedAt)
}

// DeleteFieldMapping implements CatalogStore.
func (s *SQLStore) DeleteFieldMapping(ctx context.Context, sourceID int, mappingType string) error {
	query := fmt.Sprintf("DELETE FROM sync_field_mappings WHERE source_id = %s AND mapping_type = %s",
		s.d.Placeholder(1), s.d.Placeholder(2))
	return s.execExpectRow(ctx, fmt.Sprintf("field mapping %d/%s", sourceID, mappingType), query, sourceID, mappingType)
}

// PutValueMapping implements CatalogStore. The source value is trimmed.
func (s *SQLStore) PutValueMapping(ctx context.Context, m ValueMapping) error {
	spec := UpsertSpec{
		Table:   "sync_value_mappings",
		Keys:    []string{"source_value", "mapping_type"},
		Columns: []string{"source_value", "mapping_type", "resolved_id", "resolved_label", "updated_by", "updated_at"},
		Update:  []string{"resolved_id", "resolved_label", "updated_by", "updated_at"},
	}
	return s.upsertCatalog(ctx, spec,
		strings.TrimSpace(m.SourceValue), m.MappingType, m.ResolvedID,
		nullIfEmpty(m.ResolvedLabel), nullIfEmpty(m.UpdatedBy), s.now())
}

// DeleteValueMapping implements CatalogStore.
func (s *SQLStore) DeleteValueMapping(ctx context.Context, value, mappingType string) error {
	query := fmt.Sprintf("DELETE FROM sync_value_mappings WHERE source_value = %s AND mapping_type = %s",
		s.d.Placeholder(1), s.d.Placeholder(2))
	return s.execExpectRow(ctx, fmt.Sprintf("value mapping %q/%s", value, mappingType), query,
		strings.TrimSpace(value), mappingType)
}

// AppendSyncLog implements CatalogStore.
func (s *SQLStore) AppendSyncLog(ctx context.Context, e SyncLogEntry) error {
	cols := strings.Split(syncLogColumns, ", ")
	query := fmt.Sprintf("INSERT INTO sync_log (%s) VALUES (%s)",
		syncLogColumns, strings.Join(placeholders(s.d, 1, len(cols)), ", "))
	err := s.exec(ctx, query,
		e.RunID, e.Kind, nullIfEmpty(e.InitiatedBy), e.Status,
		e.Processed, e.Upserted, e.Inserted, e.Updated, e.Failed, nullIfEmpty(e.Message),
		e.Duration.Milliseconds(), s.d.BindTime(e.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("%s: append sync log: %w", s.d.Name(), err)
	}
	return nil
}

const syncLogColumns = "run_id, kind, initiated_by, status, processed, upserted, inserted, updated, failed, message, duration_ms, started_at"

// SyncLogs implements CatalogStore.
func (s *SQLStore) SyncLogs(ctx context.Context, limit int) ([]SyncLogEntry, error) {
	rest := "FROM sync_log ORDER BY id DESC"
	query := "SELECT " + syncLogColumns + " " + rest
	if limit > 0 {
		query = s.d.Limit(limit, syncLogColumns, rest)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: sync log: %w", s.d.Name(), err)
	}
	defer rows.Close()

	var out []SyncLogEntry
	for rows.Next() {
		var (
			e          SyncLogEntry
			by, msg    sql.NullString
			durationMS int64
			started    any
		)
		if err := rows.Scan(&e.RunID, &e.Kind, &by, &e.Status, &e.Processed, &e.Upserted,
			&e.Inserted, &e.Updated, &e.Failed, &msg, &durationMS, &started); err != nil {
			return nil, fmt.Errorf("%s: scan sync log: %w", s.d.Name(), err)
		}
		e.InitiatedBy, e.Message = by.String, msg.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if ts := asTime(started); ts != nil {
			e.StartedAt = *ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- lookups ----

// ValueMapping implements LookupStore.
func (s *SQLStore) ValueMapping(ctx context.Context, value, mappingType string) (ValueMapping, bool, error) {
	value = strings.TrimSpace(value)
	query := fmt.Sprintf(
		"SELECT resolved_id, resolved_label FROM sync_value_mappings WHERE source_value = %s AND mapping_type = %s",
		s.d.Placeholder(1), s.d.Placeholder(2))
	rows, err := s.db.QueryContext(ctx, query, value, mappingType)
	if err != nil {
		return ValueMapping{}, false, fmt.Errorf("%s: value mapping lookup: %w", s.d.Name(), err)
	}
	defer rows.Close()

	if !rows.Next() {
		return ValueMapping{}, false, rows.Err()
	}
	var id any
	var label sql.NullString
	if err := rows.Scan(&id, &label); err != nil {
		return ValueMapping{}, false, fmt.Errorf("%s: scan value mapping: %w", s.d.Name(), err)
	}
	return ValueMapping{
		SourceValue:   value,
		MappingType:   mappingType,
		ResolvedID:    NormalizeKey(id),
		ResolvedLabel: label.String,
	}, true, nil
}

// StoreAlias implements LookupStore.
func (s *SQLStore) StoreAlias(ctx context.Context, alias, scope string) (StoreAlias, bool, error) {
	rest := fmt.Sprintf(
		"FROM store_aliases WHERE alias = %s AND active = %s AND (scope = %s OR scope = '') ORDER BY CASE WHEN scope = '' THEN 1 ELSE 0 END, id",
		s.d.Placeholder(1), s.d.Placeholder(2), s.d.Placeholder(3))
	query := s.d.Limit(1, "alias, store_code, label, scope", rest)

	rows, err := s.db.QueryContext(ctx, query, strings.TrimSpace(alias), true, scope)
	if err != nil {
		return StoreAlias{}, false, fmt.Errorf("%s: store alias lookup: %w", s.d.Name(), err)
	}
	defer rows.Close()

	if !rows.Next() {
		return StoreAlias{}, false, rows.Err()
	}
	var a StoreAlias
	var code any
	var label sql.NullString
	if err := rows.Scan(&a.Alias, &code, &label, &a.Scope); err != nil {
		return StoreAlias{}, false, fmt.Errorf("%s: scan store alias: %w", s.d.Name(), err)
	}
	a.StoreCode = NormalizeKey(code)
	a.Label = label.String
	a.Active = true
	return a, true, nil
}

// FindPerson implements LookupStore.
//
// MatchNameContains orders by name length, then name, then id, so the most
// specific name wins and ties are deterministic.
func (s *SQLStore) FindPerson(ctx context.Context, match PersonMatch, value string) (Person, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Person{}, false, nil
	}

	p2 := s.d.Placeholder(2)
	var where, order string
	arg := value
	switch match {
	case MatchExactName:
		where = "LOWER(display_name) = LOWER(" + p2 + ")"
		order = "id"
	case MatchNameContains:
		where = "LOWER(display_name) LIKE LOWER(" + p2 + ") ESCAPE '\\'"
		order = s.d.Length("display_name") + ", display_name, id"
		arg = "%" + escapeLike(value) + "%"
	case MatchEmail:
		where = "LOWER(email) = LOWER(" + p2 + ")"
		order = "id"
	default:
		return Person{}, false, fmt.Errorf("unknown person match %d", match)
	}

	rest := "FROM personnel WHERE active = " + s.d.Placeholder(1) + " AND " + where + " ORDER BY " + order
	rows, err := s.db.QueryContext(ctx, s.d.Limit(1, "id, display_name, email", rest), true, arg)
	if err != nil {
		return Person{}, false, fmt.Errorf("%s: person lookup: %w", s.d.Name(), err)
	}
	defer rows.Close()

	if !rows.Next() {
		return Person{}, false, rows.Err()
	}
	var p Person
	var email sql.NullString
	if err := rows.Scan(&p.ID, &p.DisplayName, &email); err != nil {
		return Person{}, false, fmt.Errorf("%s: scan person: %w", s.d.Name(), err)
	}
	p.Email = email.String
	p.Active = true
	return p, true, nil
}

// PutStoreAlias implements LookupStore.
func (s *SQLStore) PutStoreAlias(ctx context.Context, a StoreAlias) error {
	spec := UpsertSpec{
		Table:   "store_aliases",
		Keys:    []string{"alias", "scope"},
		Columns: []string{"alias", "scope", "store_code", "label", "active"},
		Update:  []string{"store_code", "label", "active"},
	}
	return s.upsertCatalog(ctx, spec,
		strings.TrimSpace(a.Alias), strings.TrimSpace(a.Scope), a.StoreCode, nullIfEmpty(a.Label), a.Active)
}

// PutPerson implements LookupStore.
func (s *SQLStore) PutPerson(ctx context.Context, p Person) error {
	spec := UpsertSpec{
		Table:   "personnel",
		Keys:    []string{"id"},
		Columns: []string{"id", "display_name", "email", "active"},
		Update:  []string{"display_name", "email", "active"},
	}
	return s.upsertCatalog(ctx, spec, p.ID, strings.TrimSpace(p.DisplayName), nullIfEmpty(p.Email), p.Active)
}

// ---- helpers ----

func (s *SQLStore) upsertCatalog(ctx context.Context, spec UpsertSpec, values ...any) error {
	return s.Upsert(ctx, spec, values)
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) error {
	s.log.Debug("exec", zap.String("sql", query))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLStore) execExpectRow(ctx context.Context, what, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", s.d.Name(), what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(r scanner) (Source, error) {
	var (
		id      int64
		src     Source
		active  any
		table   sql.NullString
		lastRaw any
	)
	if err := r.Scan(&id, &src.Profile, &src.Alias, &active, &table, &lastRaw); err != nil {
		return Source{}, err
	}
	src.ID = int(id)
	src.Active = asBool(active)
	src.TableName = table.String
	src.LastSyncedAt = asTime(lastRaw)
	return src, nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// escapeLike escapes LIKE wildcards for use with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `[`, `\[`)
	return r.Replace(s)
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case []byte:
		return asBool(string(t))
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "t":
			return true
		}
	}
	return false
}

// asTime converts a scanned timestamp into a UTC time. Backends that store
// timestamps as text (SQLite) return strings here.
func asTime(v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		u := t.UTC()
		return &u
	case []byte:
		return asTime(string(t))
	case string:
		ts, err := ParseStoredTime(t)
		if err != nil {
			return nil
		}
		return &ts
	}
	return nil
}

// ParseStoredTime parses timestamps stored as text.
//
// Supported formats:
//   - RFC3339Nano (what text backends write)
//   - RFC3339
//   - "2006-01-02 15:04:05.999999999Z07:00" and "2006-01-02 15:04:05Z07:00"
//   - "2006-01-02 15:04:05" (interpreted as UTC)
func ParseStoredTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty time string")
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

var _ Store = (*SQLStore)(nil)
