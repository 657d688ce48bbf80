package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Backend is the storage contract every cache implementation satisfies.
// A ttl <= 0 stores the value without expiry. Expired entries are removed
// lazily by the Get that observes them. Deleting an absent key is not an error.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close(ctx context.Context) error
}

// Kind names a cache backend implementation.
type Kind string

const (
	KindMemory Kind = "memory"
	KindFile   Kind = "file"
	KindRedis  Kind = "redis"
	KindBolt   Kind = "bolt"
)

// ErrUnknownKind reports a backend name outside the supported set.
var ErrUnknownKind = errors.New("cache: unknown backend")

// ParseKind resolves a configured backend name. An empty name selects memory.
func ParseKind(name string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(name))) {
	case "", KindMemory:
		return KindMemory, nil
	case KindFile:
		return KindFile, nil
	case KindRedis:
		return KindRedis, nil
	case KindBolt:
		return KindBolt, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownKind, name)
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(now, expiresAt time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
