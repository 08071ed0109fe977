// Package mock provides an in-memory test double for cache.Cache.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/captionflow/internal/translate/cache"
)

// Cache is a mock implementation of cache.Cache backed by a map.
// Set GetErr or PutErr to inject failures.
type Cache struct {
	mu      sync.Mutex
	entries map[string]string

	// GetErr, if non-nil, is returned by every Get call.
	GetErr error

	// PutErr, if non-nil, is returned by every Put call.
	PutErr error

	// GetCalls and PutCalls count invocations.
	GetCalls int
	PutCalls int

	// Closed reports whether Close was called.
	Closed bool
}

var _ cache.Cache = (*Cache)(nil)

// Get implements cache.Cache.
func (c *Cache) Get(_ context.Context, key cache.Key) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GetCalls++
	if c.GetErr != nil {
		return "", c.GetErr
	}
	v, ok := c.entries[key.Digest()]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

// Put implements cache.Cache.
func (c *Cache) Put(_ context.Context, key cache.Key, translation string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PutCalls++
	if c.PutErr != nil {
		return c.PutErr
	}
	if c.entries == nil {
		c.entries = make(map[string]string)
	}
	c.entries[key.Digest()] = translation
	return nil
}

// Close implements cache.Cache.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Counts returns GetCalls and PutCalls under the lock.
func (c *Cache) Counts() (gets, puts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.GetCalls, c.PutCalls
}
