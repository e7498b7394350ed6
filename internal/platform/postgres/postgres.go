package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"splitpay/internal/platform/config"
)

// DB owns the pgx connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// New connects to Postgres and verifies the connection.
// Returns nil if the URL is empty (Postgres not configured).
func New(ctx context.Context, cfg config.PostgresConfig) (*DB, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Health pings the pool.
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close releases all pooled connections.
func (db *DB) Close() {
	db.Pool.Close()
}

// RunMigrations creates the split-payment schema if it does not exist.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Schema is the idempotent DDL for the split-payment tables.
const Schema = `
CREATE TABLE IF NOT EXISTS split_payments (
	id                UUID PRIMARY KEY,
	sender_wallet     TEXT NOT NULL,
	recipient_wallets TEXT[] NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL,
	document          JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_split_payments_created_at ON split_payments (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_split_payments_status ON split_payments (status);
CREATE INDEX IF NOT EXISTS idx_split_payments_sender ON split_payments (sender_wallet);
`
