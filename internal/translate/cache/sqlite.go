package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS translations (
    digest      TEXT    PRIMARY KEY,
    source_lang TEXT    NOT NULL,
    target_lang TEXT    NOT NULL,
    source_text TEXT    NOT NULL,
    translation TEXT    NOT NULL,
    created_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_translations_target ON translations (target_lang);
`

// SQLite is a [Cache] backed by a local SQLite database file.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ Cache = (*SQLite)(nil)

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("cache: sqlite path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: ensure directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cache: apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: migrate: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// Get implements [Cache].
func (s *SQLite) Get(ctx context.Context, key Key) (string, error) {
	var out string
	err := s.db.QueryRowContext(ctx,
		`SELECT translation FROM translations WHERE digest = ?`, key.Digest(),
	).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("cache: get: %w", err)
	}
	return out, nil
}

// Put implements [Cache].
func (s *SQLite) Put(ctx context.Context, key Key, translation string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO translations (digest, source_lang, target_lang, source_text, translation, created_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(digest) DO UPDATE SET translation = excluded.translation, created_at = excluded.created_at`,
		key.Digest(), key.Source, key.Target, key.Text, translation,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// Close implements [Cache].
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
