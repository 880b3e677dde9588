package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Migrate applies the embedded catalog migrations for backend ("mssql",
// "postgres" or "sqlite"). It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB, backend string) error {
	if db == nil {
		return fmt.Errorf("migrate: database not opened")
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(backend); err != nil {
		return fmt.Errorf("migrate: set dialect %s: %w", backend, err)
	}
	if err := goose.UpContext(ctx, db, path.Join("migrations", backend)); err != nil {
		return fmt.Errorf("migrate: %s: %w", backend, err)
	}
	return nil
}
