// Package cache stores finished translations so that re-watching a video, or
// a caption line repeated across videos, does not hit the LLM again.
//
// Two drivers are provided: [SQLite] for a single local daemon and
// [Postgres] for daemons sharing one database. Both are safe for concurrent
// use.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrMiss is returned by [Cache.Get] when no translation is stored for a key.
var ErrMiss = errors.New("cache: miss")

// Key identifies one cached translation.
type Key struct {
	// Source is the BCP-47 tag of the original text. May be empty when the
	// source language is unknown.
	Source string

	// Target is the BCP-47 tag the text was translated into.
	Target string

	// Text is the original caption text.
	Text string
}

// Digest returns the storage key: a hex SHA-256 over the lower-cased
// language tags and the text.
func (k Key) Digest() string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(k.Source)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(k.Target)))
	h.Write([]byte{0})
	h.Write([]byte(k.Text))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is a translation store.
type Cache interface {
	// Get returns the stored translation for key, or [ErrMiss].
	Get(ctx context.Context, key Key) (string, error)

	// Put stores translation for key, replacing any previous value.
	Put(ctx context.Context, key Key, translation string) error

	// Close releases the underlying connections.
	Close() error
}

// Open creates the cache for driver ("sqlite" or "postgres") at dsn.
// For sqlite the dsn is a file path; for postgres a connection string.
func Open(ctx context.Context, driver, dsn string) (Cache, error) {
	switch driver {
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", driver)
	}
}
