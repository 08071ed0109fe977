package cache_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/captionflow/internal/translate/cache"
)

func TestKeyDigest(t *testing.T) {
	t.Parallel()

	base := cache.Key{Source: "en", Target: "de", Text: "Hello."}
	tests := []struct {
		name  string
		other cache.Key
		same  bool
	}{
		{"identical", base, true},
		{"tag case ignored", cache.Key{Source: "EN", Target: "De", Text: "Hello."}, true},
		{"different target", cache.Key{Source: "en", Target: "fr", Text: "Hello."}, false},
		{"different text", cache.Key{Source: "en", Target: "de", Text: "Hello"}, false},
		{"field boundary", cache.Key{Source: "e", Target: "nde", Text: "Hello."}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := base.Digest() == tt.other.Digest(); got != tt.same {
				t.Errorf("digest equality = %v, want %v", got, tt.same)
			}
		})
	}
}

// exerciseCache runs the shared Cache contract against c.
func exerciseCache(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()
	key := cache.Key{Source: "ja", Target: "en", Text: "こんにちは。"}

	if _, err := c.Get(ctx, key); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("Get before Put: err = %v, want ErrMiss", err)
	}
	if err := c.Put(ctx, key, "Hello."); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "Hello." {
		t.Errorf("Get = %q, want %q", got, "Hello.")
	}

	if err := c.Put(ctx, key, "Hi."); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	if got, _ := c.Get(ctx, key); got != "Hi." {
		t.Errorf("Get after overwrite = %q, want %q", got, "Hi.")
	}

	other := key
	other.Target = "fr"
	if _, err := c.Get(ctx, other); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("Get other target: err = %v, want ErrMiss", err)
	}
}

func TestSQLite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	c, err := cache.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	exerciseCache(t, c)
	if c.Path() != path {
		t.Errorf("Path = %q, want %q", c.Path(), path)
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	key := cache.Key{Source: "en", Target: "de", Text: "Good night."}

	c, err := cache.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := c.Put(ctx, key, "Gute Nacht."); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c, err = cache.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if got, err := c.Get(ctx, key); err != nil || got != "Gute Nacht." {
		t.Errorf("Get after reopen = %q, %v", got, err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := cache.Open(context.Background(), "redis", "localhost"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("CAPTIONFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CAPTIONFLOW_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration test")
	}

	ctx := context.Background()
	c, err := cache.Open(ctx, "postgres", dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	pg := c.(*cache.Postgres)
	if err := pg.Purge(ctx); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	exerciseCache(t, c)
}
