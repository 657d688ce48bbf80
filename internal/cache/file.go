package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/l0p7/netpharm/internal/fsutil"
)

type fileEnvelope struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

type fileBackend struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

// NewFile returns a backend storing one JSON file per key under dir.
func NewFile(dir string) (Backend, error) {
	return newFile(dir, time.Now)
}

func newFile(dir string, now func() time.Time) (*fileBackend, error) {
	if dir == "" {
		return nil, errors.New("cache: file directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create file cache dir: %w", err)
	}
	return &fileBackend{dir: dir, now: now}, nil
}

func (c *fileBackend) path(key string) string {
	return filepath.Join(c.dir, fsutil.SafeName(key)+".json")
}

func (c *fileBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path := c.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: file read: %w", err)
	}
	var envelope fileEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, false, fmt.Errorf("cache: file unmarshal: %w", err)
	}
	if expired(c.now(), envelope.ExpiresAt) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, false, fmt.Errorf("cache: file purge: %w", err)
		}
		return nil, false, nil
	}
	return envelope.Value, true, nil
}

func (c *fileBackend) Save(_ context.Context, key string, value []byte, ttl time.Duration) error {
	data, err := json.Marshal(fileEnvelope{Value: value, ExpiresAt: expiry(c.now(), ttl)})
	if err != nil {
		return fmt.Errorf("cache: file marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := fsutil.WriteAtomic(c.path(key), data, 0o600); err != nil {
		return fmt.Errorf("cache: file write: %w", err)
	}
	return nil
}

func (c *fileBackend) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cache: file delete: %w", err)
	}
	return nil
}

func (c *fileBackend) Close(context.Context) error {
	return nil
}
