package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"schemasync/internal/storage"
)

func init() {
	storage.Register("postgres", Open)
}

// Store is a storage.SQLStore backed by a pgx connection pool.
type Store struct {
	*storage.SQLStore
	pool *pgxpool.Pool
}

// Open creates a pgx pool for cfg.DSN and exposes it through database/sql.
func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	return &Store{SQLStore: storage.NewSQLStore(db, Dialect{}, cfg.Logger), pool: pool}, nil
}

// Close closes the database/sql handle and then the pool.
func (s *Store) Close() error {
	err := s.SQLStore.Close()
	s.pool.Close()
	return err
}
