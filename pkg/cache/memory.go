package cache

import (
	"context"
	"sync"
)

// MemoryCache is an in-memory implementation, useful for tests and for runs
// that analyse the same dataset repeatedly within one process.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryCache constructs an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

// Get returns a copy of the stored payload.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	payload, ok := c.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// Set stores a copy of payload under key.
func (c *MemoryCache) Set(ctx context.Context, key string, payload []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = stored
	return nil
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
