// Package postgres implements [settings.Store] on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/meetcaption/internal/settings"
)

var _ settings.Store = (*Store)(nil)

const ddlSettings = `
CREATE TABLE IF NOT EXISTS settings (
    key        TEXT        PRIMARY KEY,
    value      TEXT        NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store is a PostgreSQL-backed [settings.Store]. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("settings store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("settings store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("settings store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("settings store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the settings table. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSettings); err != nil {
		return fmt.Errorf("settings migrate: %w", err)
	}
	return nil
}

// Get implements [settings.Store].
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM settings WHERE key = $1`
	var v string
	err := s.pool.QueryRow(ctx, q, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", settings.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("settings store: get %q: %w", key, err)
	}
	return v, nil
}

// Set implements [settings.Store] as an upsert.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := settings.ValidateKey(key); err != nil {
		return err
	}
	const q = `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE
		   SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, q, key, value); err != nil {
		return fmt.Errorf("settings store: set %q: %w", key, err)
	}
	return nil
}

// Ping checks database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
