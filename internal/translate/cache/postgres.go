package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS caption_translations (
    digest      TEXT         PRIMARY KEY,
    source_lang TEXT         NOT NULL DEFAULT '',
    target_lang TEXT         NOT NULL,
    source_text TEXT         NOT NULL,
    translation TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_caption_translations_target
    ON caption_translations (target_lang);
`

// Postgres is a [Cache] backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Cache = (*Postgres)(nil)

// OpenPostgres connects to dsn, verifies the connection and creates the
// table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cache: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Get implements [Cache].
func (p *Postgres) Get(ctx context.Context, key Key) (string, error) {
	var out string
	err := p.pool.QueryRow(ctx,
		`SELECT translation FROM caption_translations WHERE digest = $1`, key.Digest(),
	).Scan(&out)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("cache: get: %w", err)
	}
	return out, nil
}

// Put implements [Cache].
func (p *Postgres) Put(ctx context.Context, key Key, translation string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO caption_translations (digest, source_lang, target_lang, source_text, translation)
         VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT (digest) DO UPDATE
            SET translation = EXCLUDED.translation, created_at = now()`,
		key.Digest(), key.Source, key.Target, key.Text, translation,
	)
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// Close implements [Cache].
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Purge deletes every cached translation.
func (p *Postgres) Purge(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `TRUNCATE caption_translations`); err != nil {
		return fmt.Errorf("cache: purge: %w", err)
	}
	return nil
}
