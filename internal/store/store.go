// Package store implements the relational persistence layer on postgres.
// Usage counters and exhaustion detection live in database triggers (see
// migrations/); the Go side reads, never double-counts.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the pgx connection pool and provides repositories for all
// control-plane tables.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to postgres, applies pending migrations, and returns a Store.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if err := MigrateUp(databaseURL); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool. Used by tests.
func NewWithPool(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying pool for the notification listener.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
