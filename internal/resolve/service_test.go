package resolve

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"schemasync/internal/schema"
	"schemasync/internal/storage"
	"schemasync/internal/storage/sqlite"
	"schemasync/pkg/records"
)

type fixture struct {
	store    storage.Store
	db       *sql.DB
	manager  *schema.Manager
	upserter *schema.Upserter
	svc      *Service
	src      storage.Source
	table    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	st, err := sqlite.Open(ctx, storage.Config{DSN: filepath.Join(t.TempDir(), "sync.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	log := zaptest.NewLogger(t)
	m := schema.NewManager(st, log)
	src := storage.Source{ID: 1, Profile: "forms", Alias: "Visita", Active: true}
	require.NoError(t, st.PutSource(ctx, src))

	return &fixture{
		store:    st,
		db:       st.(interface{ DB() *sql.DB }).DB(),
		manager:  m,
		upserter: schema.NewUpserter(st, log, nil),
		svc:      NewService(st, m, NewCache(time.Minute, nil), log),
		src:      src,
	}
}

// load creates the source table from rows and upserts them.
func (f *fixture) load(t *testing.T, rows ...records.SourceRow) {
	t.Helper()

	ctx := context.Background()
	out, err := f.manager.EnsureTable(ctx, schema.Forms, f.src, schema.Observe(rows, 0))
	require.NoError(t, err)
	f.table = out.Table.Name
	f.src.TableName = out.Table.Name

	inv, err := f.svc.Invalidations(ctx, f.src)
	require.NoError(t, err)
	out.Table.Invalidate = inv

	_, err = f.upserter.UpsertAll(ctx, out.Table, rows)
	require.NoError(t, err)
}

func (f *fixture) resolverValue(t *testing.T, col, key string) sql.NullString {
	t.Helper()
	var v sql.NullString
	err := f.db.QueryRow(`SELECT "`+col+`" FROM "`+f.table+`" WHERE "ResponseID" = ?`, key).Scan(&v)
	require.NoError(t, err)
	return v
}

func row(key string, fields map[string]any) records.SourceRow {
	return records.SourceRow{Key: key, Fields: fields}
}

//
// Resolve
//

func TestResolve_DictionaryOverridesAlias(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.PutStoreAlias(ctx, storage.StoreAlias{Alias: "HQ", StoreCode: "005", Label: "Oficinas", Active: true}))
	_, err := f.svc.SetValueMapping(ctx, "HQ", StoreReference, "099", "Casa Matriz", "ops")
	require.NoError(t, err)

	o, err := f.svc.Resolve(ctx, " HQ ", StoreReference, "FORMS")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Status: Resolved, ID: "099", Label: "Casa Matriz", Tier: TierDictionary}, o)
}

func TestResolve_ScopedAliasPreferred(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.PutStoreAlias(ctx, storage.StoreAlias{Alias: "Centro", StoreCode: "001", Active: true}))
	require.NoError(t, f.store.PutStoreAlias(ctx, storage.StoreAlias{Alias: "Centro", StoreCode: "002", Scope: "FORMS", Active: true}))

	o, err := f.svc.Resolve(ctx, "Centro", StoreReference, "FORMS")
	require.NoError(t, err)
	assert.Equal(t, "002", o.ID)
	assert.Equal(t, TierAlias, o.Tier)
	assert.Equal(t, "Centro", o.Label, "alias without label falls back to the alias")

	o, err = f.svc.Resolve(ctx, "Centro", StoreReference, "TICKETS")
	require.NoError(t, err)
	assert.Equal(t, "001", o.ID)
}

func TestResolve_PersonTiers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	for _, p := range []storage.Person{
		{ID: 1, DisplayName: "Ana María López", Active: true},
		{ID: 2, DisplayName: "Ana", Active: true},
		{ID: 3, DisplayName: "Luis Mora", Email: "lmora@example.com", Active: true},
		{ID: 4, DisplayName: "Marco Antonio", Active: true},
		{ID: 5, DisplayName: "Marco", Active: false},
	} {
		require.NoError(t, f.store.PutPerson(ctx, p))
	}

	tests := []struct {
		value string
		id    string
		tier  Tier
	}{
		{"Ana", "2", TierExactName},
		{"ana", "2", TierExactName},
		{"López", "1", TierNameContains},
		{"Marco", "4", TierNameContains},
		{"LMORA@example.com", "3", TierEmail},
	}
	for _, tt := range tests {
		o, err := f.svc.Resolve(ctx, tt.value, PersonReference, "")
		require.NoError(t, err, tt.value)
		assert.Equal(t, Resolved, o.Status, tt.value)
		assert.Equal(t, tt.id, o.ID, tt.value)
		assert.Equal(t, tt.tier, o.Tier, tt.value)
	}
}

func TestResolve_UnresolvedIsExplicit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	for _, v := range []string{"Nadie", "   "} {
		o, err := f.svc.Resolve(ctx, v, PersonReference, "")
		require.NoError(t, err)
		assert.False(t, o.Resolved())
		assert.Equal(t, Unresolved, o.Status)
		assert.Empty(t, o.ID)
	}
}

func TestResolve_CacheIsPurgedByDictionaryWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.PutStoreAlias(ctx, storage.StoreAlias{Alias: "Norte", StoreCode: "010", Active: true}))

	o, err := f.svc.Resolve(ctx, "Norte", StoreReference, "")
	require.NoError(t, err)
	require.Equal(t, "010", o.ID)

	// Alias edits are only seen after the entry expires.
	require.NoError(t, f.store.PutStoreAlias(ctx, storage.StoreAlias{Alias: "Norte", StoreCode: "011", Active: true}))
	o, err = f.svc.Resolve(ctx, "Norte", StoreReference, "")
	require.NoError(t, err)
	assert.Equal(t, "010", o.ID)

	_, err = f.svc.SetValueMapping(ctx, "Norte", StoreReference, "012", "", "ops")
	require.NoError(t, err)
	o, err = f.svc.Resolve(ctx, "Norte", StoreReference, "")
	require.NoError(t, err)
	assert.Equal(t, "012", o.ID)

	require.NoError(t, f.svc.DeleteValueMapping(ctx, "Norte", StoreReference))
	o, err = f.svc.Resolve(ctx, "Norte", StoreReference, "")
	require.NoError(t, err)
	assert.Equal(t, "011", o.ID)
}

//
// ResolveAll
//

func TestResolveAll_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.load(t, row("r1", map[string]any{"Tienda": "Alajuela Centro"}))
	require.NoError(t, f.store.PutStoreAlias(ctx, storage.StoreAlias{Alias: "Alajuela Centro", StoreCode: "ALJ01", Label: "Alajuela", Active: true}))
	_, err := f.svc.SetMapping(ctx, f.src, StoreReference, "Tienda", "ops")
	require.NoError(t, err)

	counts, err := f.svc.ResolveAll(ctx, f.src)
	require.NoError(t, err)
	assert.Equal(t, Counts{Resolved: 1, TotalAttempted: 1}, counts)
	assert.Equal(t, "ALJ01", f.resolverValue(t, StoreReference.IDColumn(), "r1").String)
	assert.Equal(t, "Alajuela", f.resolverValue(t, StoreReference.LabelColumn(), "r1").String)

	counts, err = f.svc.ResolveAll(ctx, f.src)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.TotalAttempted, "resolved rows are not revisited")
}

func TestResolveAll_ChangedSourceValueIsReResolved(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.load(t, row("r1", map[string]any{"Tienda": "Centro"}))
	require.NoError(t, f.store.PutStoreAlias(ctx, storage.StoreAlias{Alias: "Centro", StoreCode: "001", Active: true}))
	require.NoError(t, f.store.PutStoreAlias(ctx, storage.StoreAlias{Alias: "Sur", StoreCode: "003", Active: true}))
	_, err := f.svc.SetMapping(ctx, f.src, StoreReference, "Tienda", "ops")
	require.NoError(t, err)
	_, err = f.svc.ResolveAll(ctx, f.src)
	require.NoError(t, err)

	f.load(t, row("r1", map[string]any{"Tienda": "Sur"}))
	assert.False(t, f.resolverValue(t, StoreReference.IDColumn(), "r1").Valid)

	counts, err := f.svc.ResolveAll(ctx, f.src)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Resolved)
	assert.Equal(t, "003", f.resolverValue(t, StoreReference.IDColumn(), "r1").String)
}

func TestResolveAll_UnresolvedAndBackfill(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.load(t,
		row("r1", map[string]any{"Tienda": "HQ"}),
		row("r2", map[string]any{"Tienda": " HQ"}),
		row("r3", map[string]any{"Tienda": "Otro"}),
		row("r4", map[string]any{"Tienda": ""}),
	)
	_, err := f.svc.SetMapping(ctx, f.src, StoreReference, "Tienda", "ops")
	require.NoError(t, err)

	counts, err := f.svc.ResolveAll(ctx, f.src)
	require.NoError(t, err)
	assert.Equal(t, Counts{Unresolved: 3, TotalAttempted: 3}, counts)

	vals, err := f.svc.Unresolved(ctx, f.src, StoreReference, 10)
	require.NoError(t, err)
	assert.Equal(t, []storage.UnresolvedValue{{Value: "HQ", Rows: 2}, {Value: "Otro", Rows: 1}}, vals)

	n, err := f.svc.SetValueMapping(ctx, "HQ", StoreReference, "099", "Casa Matriz", "ops")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, "099", f.resolverValue(t, StoreReference.IDColumn(), "r2").String)

	vals, err = f.svc.Unresolved(ctx, f.src, StoreReference, 0)
	require.NoError(t, err)
	assert.Equal(t, []storage.UnresolvedValue{{Value: "Otro", Rows: 1}}, vals)
}

func TestResolveAll_MissingColumnDoesNotStopOtherMappings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.load(t, row("r1", map[string]any{"Cliente": "Ana"}))
	require.NoError(t, f.store.PutPerson(ctx, storage.Person{ID: 2, DisplayName: "Ana", Active: true}))
	require.NoError(t, f.store.PutFieldMapping(ctx, storage.FieldMapping{SourceID: 1, MappingType: "store-reference", Column: "Gone"}))
	_, err := f.svc.SetMapping(ctx, f.src, PersonReference, "Cliente", "ops")
	require.NoError(t, err)

	counts, err := f.svc.ResolveAll(ctx, f.src)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Resolved)
	require.Len(t, counts.Errors, 1)
	assert.ErrorIs(t, counts.Errors[0], ErrMappingColumnMissing)
	assert.Equal(t, "store-reference", counts.Errors[0].MappingType)
	assert.Equal(t, "2", f.resolverValue(t, PersonReference.IDColumn(), "r1").String)
	assert.Equal(t, "Ana", f.resolverValue(t, PersonReference.LabelColumn(), "r1").String)
}

func TestResolveAll_SkipsDisabledMappings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.load(t, row("r1", map[string]any{"Tienda": "Centro"}))
	_, err := f.svc.SetMapping(ctx, f.src, StoreReference, NoMap, "ops")
	require.NoError(t, err)

	counts, err := f.svc.ResolveAll(ctx, f.src)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)

	cols, err := f.store.Columns(ctx, f.table)
	require.NoError(t, err)
	for _, c := range cols {
		assert.NotEqual(t, StoreReference.IDColumn(), c.Name)
	}
}

func TestResolveAll_NoMappings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	counts, err := f.svc.ResolveAll(context.Background(), f.src)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)
}

func TestStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	stats, err := f.svc.Stats(ctx, f.src)
	require.NoError(t, err)
	assert.False(t, stats.TableExists)
	assert.Empty(t, stats.Types)

	f.load(t,
		row("r1", map[string]any{"Tienda": "Centro", "Cliente": "Ana"}),
		row("r2", map[string]any{"Tienda": "Otro", "Cliente": "Ana"}),
		row("r3", map[string]any{"Tienda": "", "Cliente": "Ana"}),
	)
	require.NoError(t, f.store.PutStoreAlias(ctx, storage.StoreAlias{Alias: "Centro", StoreCode: "001", Active: true}))
	_, err = f.svc.SetMapping(ctx, f.src, StoreReference, "Tienda", "ops")
	require.NoError(t, err)
	_, err = f.svc.SetMapping(ctx, f.src, PersonReference, NoMap, "ops")
	require.NoError(t, err)

	stats, err = f.svc.Stats(ctx, f.src)
	require.NoError(t, err)
	assert.True(t, stats.TableExists)
	assert.Equal(t, int64(3), stats.TotalRows)
	require.Len(t, stats.Types, 2)
	byType := map[MappingType]TypeStats{}
	for _, ts := range stats.Types {
		byType[ts.Type] = ts
	}
	assert.Equal(t, int64(3), byType[StoreReference].Unresolved, "resolver columns not created yet")
	assert.True(t, byType[PersonReference].Disabled)

	_, err = f.svc.ResolveAll(ctx, f.src)
	require.NoError(t, err)

	stats, err = f.svc.Stats(ctx, f.src)
	require.NoError(t, err)
	for _, ts := range stats.Types {
		if ts.Type != StoreReference {
			continue
		}
		assert.Equal(t, "Tienda", ts.Column)
		assert.False(t, ts.ColumnMissing)
		assert.Equal(t, int64(1), ts.Resolved)
		assert.Equal(t, int64(2), ts.Unresolved)
	}
}

//
// mappings
//

func TestSetMapping_ResolvesColumnName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.load(t, row("r1", map[string]any{"¿Qué tienda?": "Centro"}))

	m, err := f.svc.SetMapping(ctx, f.src, StoreReference, "¿Qué tienda?", "ops")
	require.NoError(t, err)
	assert.Equal(t, "Que_tienda", m.Column)

	_, err = f.svc.SetMapping(ctx, f.src, PersonReference, "Nope", "ops")
	assert.ErrorIs(t, err, ErrMappingColumnMissing)

	ms, err := f.svc.Mappings(ctx, f.src.ID)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, StoreReference, ms[0].Type)
	assert.Equal(t, "ops", ms[0].UpdatedBy)

	require.NoError(t, f.svc.DeleteMapping(ctx, f.src.ID, StoreReference))
	ms, err = f.svc.Mappings(ctx, f.src.ID)
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestInvalidations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.load(t, row("r1", map[string]any{"Tienda": "Centro", "Agente": "Ana"}))
	_, err := f.svc.SetMapping(ctx, f.src, StoreReference, "tienda", "ops")
	require.NoError(t, err)
	_, err = f.svc.SetMapping(ctx, f.src, PersonReference, NoMap, "ops")
	require.NoError(t, err)

	inv, err := f.svc.Invalidations(ctx, f.src)
	require.NoError(t, err)
	assert.Empty(t, inv, "nothing to reset before the resolver columns exist")

	_, err = f.svc.ResolveAll(ctx, f.src)
	require.NoError(t, err)
	inv, err = f.svc.Invalidations(ctx, f.src)
	require.NoError(t, err)
	assert.Equal(t, []storage.Invalidation{{
		Watch: "Tienda",
		Clear: []string{"_ref_store_reference_id", "_ref_store_reference_label"},
	}}, inv)
}

func TestAutoDetect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.load(t, row("r1", map[string]any{
		"Comentario":         "ok",
		"Nombre del cliente": "Ana",
		"Tienda visitada":    "Centro",
	}))

	got, err := f.svc.AutoDetect(ctx, f.src, "auto")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, StoreReference, got[0].Type)
	assert.Equal(t, "Tienda_visitada", got[0].Column)
	assert.Equal(t, PersonReference, got[1].Type)
	assert.Equal(t, "Nombre_del_cliente", got[1].Column)

	got, err = f.svc.AutoDetect(ctx, f.src, "auto")
	require.NoError(t, err)
	assert.Empty(t, got, "existing mappings are kept")
}

func TestAutoDetect_RespectsDisabledMapping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.load(t, row("r1", map[string]any{"Tienda": "Centro", "Cliente": "Ana"}))
	_, err := f.svc.SetMapping(ctx, f.src, PersonReference, NoMap, "ops")
	require.NoError(t, err)

	got, err := f.svc.AutoDetect(ctx, f.src, "auto")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, StoreReference, got[0].Type)
}
