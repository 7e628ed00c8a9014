package kv

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores keys in a single table with an optional expiry column.
// Expired rows are filtered on read and removed lazily on write.
type PostgresBackend struct {
	pool  *pgxpool.Pool
	table string
}

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresBackend connects, pings, and creates the table if needed.
func NewPostgresBackend(ctx context.Context, dsn, table string) (*PostgresBackend, error) {
	if table == "" {
		table = "statuswatch_kv"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	b := &PostgresBackend{pool: pool, table: table}
	if err := b.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) ensureSchema(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			expires_at TIMESTAMPTZ NULL
		)`, b.table))
	if err != nil {
		return fmt.Errorf("create %s: %w", b.table, err)
	}
	return nil
}

// Get returns the value unless the row is missing or expired.
func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT value FROM %s
		WHERE key=$1 AND (expires_at IS NULL OR expires_at > now())`, b.table), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set upserts the value. A zero ttl clears any previous expiry.
func (b *PostgresBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl).UTC()
		expiresAt = &t
	}
	_, err := b.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, expires_at=EXCLUDED.expires_at`, b.table),
		key, value, expiresAt,
	)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= now()`, b.table))
	return err
}

// Del removes a key.
func (b *PostgresBackend) Del(ctx context.Context, key string) error {
	_, err := b.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key=$1`, b.table), key)
	return err
}

// Close releases the pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
