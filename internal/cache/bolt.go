package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

type BoltConfig struct {
	Path   string
	Bucket string
}

type boltBackend struct {
	db     *bolt.DB
	bucket []byte
	now    func() time.Time
}

// NewBolt opens (or creates) a single-file bbolt store. Values are stored as
// an 8-byte big endian expiry in unix nanoseconds (0 for none) followed by
// the payload.
func NewBolt(cfg BoltConfig) (Backend, error) {
	return newBolt(cfg, time.Now)
}

func newBolt(cfg BoltConfig, now func() time.Time) (*boltBackend, error) {
	if cfg.Path == "" {
		return nil, errors.New("cache: bolt path required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("cache: bolt dir: %w", err)
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: bolt open: %w", err)
	}
	bucket := []byte("cache")
	if cfg.Bucket != "" {
		bucket = []byte(cfg.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: bolt bucket: %w", err)
	}
	return &boltBackend{db: db, bucket: bucket, now: now}, nil
}

func (c *boltBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	var (
		out   []byte
		found bool
	)
	// Update rather than View so an expired record is purged in the same transaction.
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		if len(v) < 8 {
			return fmt.Errorf("cache: bolt record %q truncated", key)
		}
		expiresAt := int64(binary.BigEndian.Uint64(v[:8]))
		if expiresAt > 0 && !c.now().Before(time.Unix(0, expiresAt)) {
			return b.Delete([]byte(key))
		}
		found = true
		out = append([]byte(nil), v[8:]...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache: bolt get: %w", err)
	}
	return out, found, nil
}

func (c *boltBackend) Save(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if deadline := expiry(c.now(), ttl); !deadline.IsZero() {
		expiresAt = deadline.UnixNano()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], value)
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(c.bucket).Put([]byte(key), buf)
	}); err != nil {
		return fmt.Errorf("cache: bolt put: %w", err)
	}
	return nil
}

func (c *boltBackend) Delete(_ context.Context, key string) error {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(c.bucket).Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("cache: bolt delete: %w", err)
	}
	return nil
}

func (c *boltBackend) Close(context.Context) error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("cache: bolt close: %w", err)
	}
	return nil
}
