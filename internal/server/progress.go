package server

import (
	"maps"
	"sync"

	"github.com/l0p7/netpharm/internal/executor"
)

// Progress remembers the latest executor stage per cache key so /healthz can
// show where a run is. Safe for concurrent use.
type Progress struct {
	mu     sync.RWMutex
	stages map[string]string
}

func NewProgress() *Progress {
	return &Progress{stages: make(map[string]string)}
}

// Observe matches executor.Options.OnStage.
func (p *Progress) Observe(key string, stage executor.Stage) {
	p.mu.Lock()
	p.stages[key] = string(stage)
	p.mu.Unlock()
}

// Snapshot copies the recorded stages.
func (p *Progress) Snapshot() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.stages)
}
