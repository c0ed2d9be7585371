package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session key/value pairs in a session_kv table,
// so SSO state survives restarts and is shared across replicas.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the table if needed and returns the store.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	ddl := `
		CREATE TABLE IF NOT EXISTS session_kv (
			sid        TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (sid, key)
		);

		CREATE INDEX IF NOT EXISTS idx_session_kv_updated ON session_kv (updated_at);
	`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("session store migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Get(ctx context.Context, sid, key string) (string, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		"SELECT value FROM session_kv WHERE sid = $1 AND key = $2", sid, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session get: %w", err)
	}
	return value, nil
}

func (p *PostgresStore) Set(ctx context.Context, sid, key, value string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO session_kv (sid, key, value, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (sid, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		sid, key, value)
	if err != nil {
		return fmt.Errorf("session set: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, sid, key string) error {
	_, err := p.pool.Exec(ctx,
		"DELETE FROM session_kv WHERE sid = $1 AND key = $2", sid, key)
	if err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

// Sweep removes sessions idle longer than ttl. Intended to run
// periodically from the server loop.
func (p *PostgresStore) Sweep(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		"DELETE FROM session_kv WHERE updated_at < NOW() - $1::interval",
		fmt.Sprintf("%d seconds", int(ttl.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("session sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
