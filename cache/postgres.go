package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS offline_caches (
    name TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS offline_cache_entries (
    cache_name TEXT NOT NULL REFERENCES offline_caches(name) ON DELETE CASCADE,
    request_key TEXT NOT NULL,
    status INTEGER NOT NULL,
    header JSONB NOT NULL,
    body BYTEA NOT NULL,
    stored_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (cache_name, request_key)
);
`

// PostgresStorage persists named caches in PostgreSQL through a pgx pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStorage, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

// Close implements Storage.
func (s *PostgresStorage) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Open implements Storage.
func (s *PostgresStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO offline_caches (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	return &postgresCache{name: name, pool: s.pool}, nil
}

// Keys implements Storage.
func (s *PostgresStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM offline_caches ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	return names, nil
}

// Delete implements Storage. Entries go with the cache via ON DELETE CASCADE.
func (s *PostgresStorage) Delete(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM offline_caches WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	return tag.RowsAffected() > 0, nil
}

type postgresCache struct {
	name string
	pool *pgxpool.Pool
}

func (c *postgresCache) Name() string { return c.name }

func (c *postgresCache) Match(ctx context.Context, key string) (*Entry, error) {
	var (
		entry  Entry
		header []byte
	)
	err := c.pool.QueryRow(ctx,
		`SELECT status, header, body, stored_at FROM offline_cache_entries
		 WHERE cache_name = $1 AND request_key = $2`,
		c.name, key,
	).Scan(&entry.Status, &header, &entry.Body, &entry.StoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", key, err)
	}
	if err := json.Unmarshal(header, &entry.Header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return &entry, nil
}

func (c *postgresCache) Put(ctx context.Context, key string, entry *Entry) error {
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}
	tag, err := c.pool.Exec(ctx,
		`INSERT INTO offline_cache_entries (cache_name, request_key, status, header, body, stored_at)
		 SELECT $1::text, $2::text, $3::integer, $4::jsonb, $5::bytea, $6::timestamptz WHERE EXISTS (SELECT 1 FROM offline_caches WHERE name = $1)
		 ON CONFLICT (cache_name, request_key) DO UPDATE SET
		   status = EXCLUDED.status,
		   header = EXCLUDED.header,
		   body = EXCLUDED.body,
		   stored_at = EXCLUDED.stored_at`,
		c.name, key, entry.Status, header, body, storedAt,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCacheDeleted
	}
	return nil
}
