package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"schemasync/internal/storage"
)

func init() {
	storage.Register("sqlite", Open)
}

// busyTimeoutMillis bounds how long a writer waits for a lock held by another
// process.
const busyTimeoutMillis = 5000

// Open opens a SQLite database file (or "file::memory:").
//
// The pool is limited to one connection: SQLite allows a single writer, and
// an in-memory database is private to its connection.
func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: busy_timeout: %w", err)
	}
	return storage.NewSQLStore(db, Dialect{}, cfg.Logger), nil
}
