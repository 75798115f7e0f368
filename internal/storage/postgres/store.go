package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS keeper_mirror (
	bucket     TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (bucket, key)
)`

// Store mirrors keeper state into a single Postgres table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects and makes sure the mirror table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Put(ctx context.Context, bucket, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO keeper_mirror (bucket, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (bucket, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, bucket, key, string(value))
	return err
}

// Replace deletes the bucket and batch-inserts entries in one transaction.
func (s *Store) Replace(ctx context.Context, bucket string, entries map[string][]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM keeper_mirror WHERE bucket = $1`, bucket); err != nil {
		return fmt.Errorf("clear bucket: %w", err)
	}
	if len(entries) > 0 {
		batch := &pgx.Batch{}
		for key, value := range entries {
			batch.Queue(`
				INSERT INTO keeper_mirror (bucket, key, value, updated_at)
				VALUES ($1, $2, $3, now())
			`, bucket, key, string(value))
		}
		br := tx.SendBatch(ctx, batch)
		for range entries {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return err
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) List(ctx context.Context, bucket string) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value::text FROM keeper_mirror WHERE bucket = $1`, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = []byte(value)
	}
	return out, rows.Err()
}
