package mssql

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mssqldrv "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemasync/internal/storage"
)

func formsSpec() storage.TableSpec {
	return storage.TableSpec{
		Name:      "Frm_1_Encuesta",
		Surrogate: "ID",
		Key:       "ResponseID",
		Columns: []storage.ColumnSpec{
			{Name: "ResponseID", Type: storage.TypeText, Size: 100},
			{Name: "RespondentEmail", Type: storage.TypeText, Nullable: true},
			{Name: "SubmittedAt", Type: storage.TypeDatetime, Nullable: true},
		},
	}
}

//
// DDL
//

func TestDialect_CreateTableSQL(t *testing.T) {
	t.Parallel()

	got, err := Dialect{}.CreateTableSQL(formsSpec())
	require.NoError(t, err)

	want := "IF OBJECT_ID(N'[Frm_1_Encuesta]', N'U') IS NULL BEGIN CREATE TABLE [Frm_1_Encuesta] (" +
		"[ID] INT IDENTITY(1,1) PRIMARY KEY, " +
		"[ResponseID] NVARCHAR(100) NOT NULL, " +
		"[RespondentEmail] NVARCHAR(MAX) NULL, " +
		"[SubmittedAt] DATETIME2 NULL, " +
		"CONSTRAINT [UQ_Frm_1_Encuesta_Key] UNIQUE ([ResponseID])); END;"
	assert.Equal(t, want, got)
}

func TestDialect_CreateTableSQL_RejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	spec := formsSpec()
	spec.Key = "Missing"
	_, err := Dialect{}.CreateTableSQL(spec)
	assert.Error(t, err)
}

func TestDialect_AddColumnSQL(t *testing.T) {
	t.Parallel()

	got := Dialect{}.AddColumnSQL("Frm_1", storage.ColumnSpec{Name: "Cliente's Tienda", Type: storage.TypeText, Nullable: true})
	assert.Equal(t,
		"IF COL_LENGTH(N'[Frm_1]', N'Cliente''s Tienda') IS NULL ALTER TABLE [Frm_1] ADD [Cliente's Tienda] NVARCHAR(MAX) NULL;",
		got)
}

func TestDialect_ColumnTypes(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	tests := []struct {
		spec storage.ColumnSpec
		want string
	}{
		{storage.ColumnSpec{Type: storage.TypeInteger}, "INT"},
		{storage.ColumnSpec{Type: storage.TypeDecimal}, "DECIMAL(38,10)"},
		{storage.ColumnSpec{Type: storage.TypeDatetime}, "DATETIME2"},
		{storage.ColumnSpec{Type: storage.TypeText}, "NVARCHAR(MAX)"},
		{storage.ColumnSpec{Type: storage.TypeText, Size: 100}, "NVARCHAR(100)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, d.ColumnType(tt.spec))
	}

	assert.Equal(t, storage.TypeInteger, d.LogicalType("int"))
	assert.Equal(t, storage.TypeDecimal, d.LogicalType("decimal"))
	assert.Equal(t, storage.TypeText, d.LogicalType("nvarchar"))
	assert.Equal(t, storage.TypeDatetime, d.LogicalType(" DateTime2 "))
}

func TestDialect_Quote(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[a]]b]", Dialect{}.Quote("a]b"))
	assert.Equal(t, "@p3", Dialect{}.Placeholder(3))
	assert.Equal(t, "SELECT TOP (1) a FROM t", Dialect{}.Limit(1, "a", "FROM t"))
}

//
// upsert
//

func TestDialect_UpsertSQL_MergeWithInvalidation(t *testing.T) {
	t.Parallel()

	u := storage.UpsertSpec{
		Table:   "Frm_1",
		Keys:    []string{"ResponseID"},
		Columns: []string{"ResponseID", "Tienda"},
		Update:  []string{"Tienda"},
		Invalidate: []storage.Invalidation{
			{Watch: "Tienda", Clear: []string{"_ref_store_reference_id"}},
		},
	}

	want := "MERGE INTO [Frm_1] WITH (HOLDLOCK) AS target USING (SELECT @p1 AS [ResponseID], @p2 AS [Tienda]) AS source " +
		"ON target.[ResponseID] = source.[ResponseID] " +
		"WHEN MATCHED THEN UPDATE SET [Tienda] = source.[Tienda], " +
		"[_ref_store_reference_id] = CASE WHEN (target.[Tienda] = source.[Tienda] OR (target.[Tienda] IS NULL AND source.[Tienda] IS NULL)) " +
		"THEN target.[_ref_store_reference_id] ELSE NULL END " +
		"WHEN NOT MATCHED THEN INSERT ([ResponseID], [Tienda]) VALUES (source.[ResponseID], source.[Tienda]);"
	assert.Equal(t, want, Dialect{}.UpsertSQL(u))
}

func TestDialect_UpsertSQL_InsertOnly(t *testing.T) {
	t.Parallel()

	got := Dialect{}.UpsertSQL(storage.UpsertSpec{
		Table:   "t",
		Keys:    []string{"k"},
		Columns: []string{"k"},
	})
	assert.NotContains(t, got, "WHEN MATCHED")
	assert.Contains(t, got, "WHEN NOT MATCHED THEN INSERT ([k]) VALUES (source.[k]);")
}

//
// store over sqlmock
//

func newMockStore(t *testing.T) (*storage.SQLStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewSQLStore(db, Dialect{}, nil), mock
}

func TestStore_UpsertBindsValuesInColumnOrder(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("MERGE INTO [Frm_1] WITH (HOLDLOCK)")).
		WithArgs("r1", "Tienda 5").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Upsert(context.Background(), storage.UpsertSpec{
		Table:   "Frm_1",
		Keys:    []string{"ResponseID"},
		Columns: []string{"ResponseID", "Tienda"},
		Update:  []string{"Tienda"},
	}, []any{"r1", "Tienda 5"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AddColumn_DuplicateIsIgnored(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE [Frm_1] ADD [Tienda] NVARCHAR(MAX) NULL")).
		WillReturnError(mssqldrv.Error{Number: errColumnNamesNotUnique, Message: "Column names in each table must be unique."})
	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE [Frm_1] ADD [Otra]")).
		WillReturnError(errors.New("boom"))

	ctx := context.Background()
	assert.NoError(t, s.AddColumn(ctx, "Frm_1", storage.ColumnSpec{Name: "Tienda", Type: storage.TypeText}))
	assert.Error(t, s.AddColumn(ctx, "Frm_1", storage.ColumnSpec{Name: "Otra", Type: storage.TypeText}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ColumnsMapsTypes(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.COLUMNS")).
		WithArgs("Frm_1").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE"}).
			AddRow("ID", "int").
			AddRow("ResponseID", "nvarchar").
			AddRow("Monto", "decimal").
			AddRow("SubmittedAt", "datetime2"))

	cols, err := s.Columns(context.Background(), "Frm_1")
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.Equal(t, storage.TypeInteger, cols[0].Type)
	assert.Equal(t, storage.TypeText, cols[1].Type)
	assert.Equal(t, storage.TypeDecimal, cols[2].Type)
	assert.Equal(t, storage.TypeDatetime, cols[3].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_StoreAliasUsesTopOne(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT TOP (1) alias, store_code, label, scope FROM store_aliases")).
		WithArgs("Centro", true, "FORMS").
		WillReturnRows(sqlmock.NewRows([]string{"alias", "store_code", "label", "scope"}).
			AddRow("Centro", "005", "Tienda Centro", "FORMS"))

	a, ok, err := s.StoreAlias(context.Background(), " Centro ", "FORMS")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "005", a.StoreCode)
	assert.Equal(t, "FORMS", a.Scope)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SyncLogsUsesTop(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	started := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT TOP (5) run_id, kind, initiated_by, status, processed, upserted, inserted, updated, failed, message, duration_ms, started_at FROM sync_log ORDER BY id DESC")).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "kind", "initiated_by", "status", "processed", "upserted", "inserted", "updated", "failed", "message", "duration_ms", "started_at"}).
			AddRow("run-1", "sync", nil, "SUCCESS", int64(3), int64(3), int64(2), int64(1), int64(0), nil, int64(1500), started))

	logs, err := s.SyncLogs(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 2, logs[0].Inserted)
	assert.Equal(t, 1, logs[0].Updated)
	assert.Equal(t, 1500*time.Millisecond, logs[0].Duration)
	assert.True(t, started.Equal(logs[0].StartedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CountRows(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COUNT([_ref_store_reference_id]) FROM [Frm_1_Encuesta]")).
		WillReturnRows(sqlmock.NewRows([]string{"total", "resolved"}).AddRow(int64(10), int64(4)))

	c, err := s.CountRows(context.Background(), "Frm_1_Encuesta", "_ref_store_reference_id")
	require.NoError(t, err)
	assert.Equal(t, int64(10), c.Total)
	assert.Equal(t, int64(4), c.Set["_ref_store_reference_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindPersonContainsOrdersByLength(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY LEN(display_name), display_name, id")).
		WithArgs(true, "%Ana%").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "email"}).AddRow(int64(7), "Ana", nil))

	p, ok, err := s.FindPerson(context.Background(), storage.MatchNameContains, "Ana")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, "", p.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SetSourceTable_NotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sync_sources SET table_name = @p1 WHERE source_id = @p2")).
		WithArgs("Frm_9", 9).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetSourceTable(context.Background(), 9, "Frm_9")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
