package postgres

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"schemasync/internal/storage"
)

func TestCreateTableSQL_SurrogateAndNaturalKey(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:      "TicketView_3_Soporte",
		Surrogate: "ID",
		Key:       "TicketID",
		Columns: []storage.ColumnSpec{
			{Name: "TicketID", Type: storage.TypeText, Size: 100},
			{Name: "CreatedAt", Type: storage.TypeDatetime, Nullable: true},
		},
	}

	got, err := Dialect{}.CreateTableSQL(spec)
	if err != nil {
		t.Fatalf("CreateTableSQL: %v", err)
	}
	want := `CREATE TABLE IF NOT EXISTS "TicketView_3_Soporte" (` +
		`"ID" BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY, ` +
		`"TicketID" VARCHAR(100) NOT NULL, ` +
		`"CreatedAt" TIMESTAMPTZ, ` +
		`CONSTRAINT "uq_TicketView_3_Soporte_key" UNIQUE ("TicketID"))`
	if got != want {
		t.Fatalf("unexpected DDL:\n got: %s\nwant: %s", got, want)
	}
}

func TestUniqueConstraintName_TruncatedToIdentifierLimit(t *testing.T) {
	t.Parallel()

	name := uniqueConstraintName(strings.Repeat("x", 80))
	if len(name) != maxIdentifier {
		t.Fatalf("len=%d, want %d", len(name), maxIdentifier)
	}
}

func TestAddColumnSQL_IfNotExists(t *testing.T) {
	t.Parallel()

	got := Dialect{}.AddColumnSQL("Frm_1", storage.ColumnSpec{Name: `Say "hi"`, Type: storage.TypeDecimal, Nullable: true})
	want := `ALTER TABLE "Frm_1" ADD COLUMN IF NOT EXISTS "Say ""hi""" NUMERIC`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestUpsertSQL_OnConflictWithInvalidation(t *testing.T) {
	t.Parallel()

	got := Dialect{}.UpsertSQL(storage.UpsertSpec{
		Table:   "Frm_1",
		Keys:    []string{"ResponseID"},
		Columns: []string{"ResponseID", "Tienda", "SyncedAt"},
		Update:  []string{"Tienda", "SyncedAt"},
		Invalidate: []storage.Invalidation{
			{Watch: "Tienda", Clear: []string{"_ref_store_reference_id", "_ref_store_reference_label"}},
		},
	})
	want := `INSERT INTO "Frm_1" ("ResponseID", "Tienda", "SyncedAt") VALUES ($1, $2, $3) ` +
		`ON CONFLICT ("ResponseID") DO UPDATE SET "Tienda" = EXCLUDED."Tienda", "SyncedAt" = EXCLUDED."SyncedAt", ` +
		`"_ref_store_reference_id" = CASE WHEN "Frm_1"."Tienda" IS NOT DISTINCT FROM EXCLUDED."Tienda" THEN "Frm_1"."_ref_store_reference_id" ELSE NULL END, ` +
		`"_ref_store_reference_label" = CASE WHEN "Frm_1"."Tienda" IS NOT DISTINCT FROM EXCLUDED."Tienda" THEN "Frm_1"."_ref_store_reference_label" ELSE NULL END`
	if got != want {
		t.Fatalf("unexpected upsert:\n got: %s\nwant: %s", got, want)
	}
}

func TestUpsertSQL_DoNothingWithoutUpdates(t *testing.T) {
	t.Parallel()

	got := Dialect{}.UpsertSQL(storage.UpsertSpec{Table: "t", Keys: []string{"k"}, Columns: []string{"k"}})
	if !strings.HasSuffix(got, `ON CONFLICT ("k") DO NOTHING`) {
		t.Fatalf("expected DO NOTHING, got %q", got)
	}
}

func TestLogicalType(t *testing.T) {
	t.Parallel()

	tests := map[string]storage.ColumnType{
		"integer":                  storage.TypeInteger,
		"bigint":                   storage.TypeInteger,
		"numeric":                  storage.TypeDecimal,
		"timestamp with time zone": storage.TypeDatetime,
		"character varying":        storage.TypeText,
		"text":                     storage.TypeText,
	}
	for in, want := range tests {
		if got := (Dialect{}).LogicalType(in); got != want {
			t.Errorf("LogicalType(%q)=%s, want %s", in, got, want)
		}
	}
}

func TestDuplicateColumn(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	if !d.DuplicateColumn(&pgconn.PgError{Code: codeDuplicateColumn}) {
		t.Fatalf("expected 42701 to be a duplicate column")
	}
	if d.DuplicateColumn(&pgconn.PgError{Code: "42P07"}) {
		t.Fatalf("42P07 is not a duplicate column")
	}
	if d.DuplicateColumn(errors.New("duplicate")) {
		t.Fatalf("plain errors are not duplicate columns")
	}
}

//
// store over sqlmock
//

func TestStore_PendingValuesTrimsAndScansKeys(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "ResponseID", TRIM(CAST("Tienda" AS TEXT)) FROM "Frm_1" WHERE "_ref_store_reference_id" IS NULL`)).
		WillReturnRows(sqlmock.NewRows([]string{"k", "v"}).AddRow("r1", "Tienda 5").AddRow([]byte("r2"), "HQ"))

	s := storage.NewSQLStore(db, Dialect{}, nil)
	got, err := s.PendingValues(context.Background(), "Frm_1", "ResponseID", "Tienda", "_ref_store_reference_id")
	if err != nil {
		t.Fatalf("PendingValues: %v", err)
	}
	if len(got) != 2 || got[1].Key != "r2" || got[1].Value != "HQ" {
		t.Fatalf("unexpected pending values: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestStore_WriteResolutionGuardsOnNull(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "Frm_1" SET "_ref_x_id" = $1, "_ref_x_label" = $2 WHERE "ResponseID" = $3 AND "_ref_x_id" IS NULL`)).
		WithArgs("ALJ01", nil, "r1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := storage.NewSQLStore(db, Dialect{}, nil)
	ok, err := s.WriteResolution(context.Background(), "Frm_1", "ResponseID", "r1", "_ref_x_id", "_ref_x_label", "ALJ01", "")
	if err != nil {
		t.Fatalf("WriteResolution: %v", err)
	}
	if ok {
		t.Fatalf("expected no row updated when the id was already set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestStore_UnresolvedValuesUsesLimit(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY row_count DESC, source_value LIMIT 10`)).
		WillReturnRows(sqlmock.NewRows([]string{"source_value", "row_count"}).AddRow("Tienda X", int64(4)))

	s := storage.NewSQLStore(db, Dialect{}, nil)
	got, err := s.UnresolvedValues(context.Background(), "Frm_1", "Tienda", "_ref_x_id", 10)
	if err != nil {
		t.Fatalf("UnresolvedValues: %v", err)
	}
	if len(got) != 1 || got[0].Rows != 4 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
