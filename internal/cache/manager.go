package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/l0p7/netpharm/internal/metrics"
)

// Config selects and parameterizes a backend.
type Config struct {
	Kind  Kind
	Dir   string
	Redis RedisConfig
	Bolt  BoltConfig
}

// Manager is the cache surface used by the executors. Backend failures are
// logged and reported as a miss or a no-op; callers never see them.
type Manager struct {
	backend Backend
	kind    Kind
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New builds the backend named by cfg.Kind and wraps it in a Manager.
func New(cfg Config, logger *slog.Logger, recorder *metrics.Recorder) (*Manager, error) {
	kind, err := ParseKind(string(cfg.Kind))
	if err != nil {
		return nil, err
	}
	var backend Backend
	switch kind {
	case KindMemory:
		backend = NewMemory()
	case KindFile:
		backend, err = NewFile(cfg.Dir)
	case KindRedis:
		backend, err = NewRedis(cfg.Redis)
	case KindBolt:
		backend, err = NewBolt(cfg.Bolt)
	}
	if err != nil {
		return nil, fmt.Errorf("cache: build %s backend: %w", kind, err)
	}
	return NewManager(kind, backend, logger, recorder), nil
}

// NewManager wraps an existing backend.
func NewManager(kind Kind, backend Backend, logger *slog.Logger, recorder *metrics.Recorder) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend: backend,
		kind:    kind,
		logger:  logger.With(slog.String("agent", "cache"), slog.String("backend", string(kind))),
		metrics: recorder,
	}
}

// Kind reports the backend in use.
func (m *Manager) Kind() Kind { return m.kind }

// Get returns the cached value for key. A backend error reads as a miss.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	start := time.Now()
	value, ok, err := m.backend.Get(ctx, key)
	switch {
	case err != nil:
		m.logger.Warn("cache get failed", slog.String("key", key), slog.Any("error", err))
		m.metrics.ObserveCache(string(m.kind), metrics.CacheOperationGet, metrics.CacheError, time.Since(start))
		return nil, false
	case !ok:
		m.metrics.ObserveCache(string(m.kind), metrics.CacheOperationGet, metrics.CacheMiss, time.Since(start))
		return nil, false
	default:
		m.metrics.ObserveCache(string(m.kind), metrics.CacheOperationGet, metrics.CacheHit, time.Since(start))
		return value, true
	}
}

// Save stores value under key. ttl <= 0 keeps the entry until deleted.
func (m *Manager) Save(ctx context.Context, key string, value []byte, ttl time.Duration) {
	start := time.Now()
	if err := m.backend.Save(ctx, key, value, ttl); err != nil {
		m.logger.Warn("cache save failed", slog.String("key", key), slog.Any("error", err))
		m.metrics.ObserveCache(string(m.kind), metrics.CacheOperationSave, metrics.CacheError, time.Since(start))
		return
	}
	m.metrics.ObserveCache(string(m.kind), metrics.CacheOperationSave, metrics.CacheOK, time.Since(start))
}

// Delete removes key. Absent keys are ignored.
func (m *Manager) Delete(ctx context.Context, key string) {
	start := time.Now()
	if err := m.backend.Delete(ctx, key); err != nil {
		m.logger.Warn("cache delete failed", slog.String("key", key), slog.Any("error", err))
		m.metrics.ObserveCache(string(m.kind), metrics.CacheOperationDelete, metrics.CacheError, time.Since(start))
		return
	}
	m.metrics.ObserveCache(string(m.kind), metrics.CacheOperationDelete, metrics.CacheOK, time.Since(start))
}

// Close releases the backend.
func (m *Manager) Close(ctx context.Context) error {
	return m.backend.Close(ctx)
}
