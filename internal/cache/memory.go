package cache

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memoryBackend struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemory returns a process-local backend. Entries do not survive restarts.
func NewMemory() Backend {
	return newMemory(time.Now)
}

func newMemory(now func() time.Time) *memoryBackend {
	return &memoryBackend{now: now, entries: make(map[string]memoryEntry)}
}

func (c *memoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if expired(c.now(), entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return bytes.Clone(entry.value), true, nil
}

func (c *memoryBackend) Save(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: bytes.Clone(value), expiresAt: expiry(c.now(), ttl)}
	return nil
}

func (c *memoryBackend) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memoryBackend) Close(context.Context) error {
	return nil
}
