package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/l0p7/netpharm/internal/cache"
	"github.com/l0p7/netpharm/internal/fetch"
	"github.com/l0p7/netpharm/internal/metrics"
	"github.com/l0p7/netpharm/internal/table"
)

// DefaultMaxWorkers bounds concurrent strategy fetches when Options leaves it unset.
const DefaultMaxWorkers = 5

// Stage marks the progress of one executor invocation.
type Stage string

const (
	StagePending           Stage = "pending"
	StageCacheCheck        Stage = "cache_check"
	StageCacheHit          Stage = "cache_hit"
	StageCacheMiss         Stage = "cache_miss"
	StageRunningStrategies Stage = "running_strategies"
	StageAggregating       Stage = "aggregating"
	StageCaching           Stage = "caching"
	StageDone              Stage = "done"
)

// Fetcher produces the canonical table for one identifier from one source.
// *fetch.Fetcher satisfies it.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, name string) (table.Table, error)
}

// Options configures an executor.
type Options struct {
	// Fetchers run in registration order; their rows are concatenated in the
	// same order.
	Fetchers []Fetcher
	// Cache stores aggregated results. Nil disables caching.
	Cache *cache.Manager
	// CacheTTL applies to saved results; zero keeps them until deleted.
	CacheTTL   time.Duration
	MaxWorkers int
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
	// OnStage, when set, observes every stage transition.
	OnStage func(key string, stage Stage)
}

type runner struct {
	phase     fetch.Phase
	keyPrefix string
	fetchers  []Fetcher
	cache     *cache.Manager
	ttl       time.Duration
	workers   int
	logger    *slog.Logger
	metrics   *metrics.Recorder
	onStage   func(string, Stage)
}

func newRunner(phase fetch.Phase, keyPrefix, agent string, opts Options) runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	return runner{
		phase:     phase,
		keyPrefix: keyPrefix,
		fetchers:  append([]Fetcher(nil), opts.Fetchers...),
		cache:     opts.Cache,
		ttl:       opts.CacheTTL,
		workers:   workers,
		logger:    logger.With(slog.String("agent", agent)),
		metrics:   opts.Metrics,
		onStage:   opts.OnStage,
	}
}

func (r runner) stage(key string, s Stage) {
	r.logger.Debug("executor stage", slog.String("key", key), slog.String("stage", string(s)))
	if r.onStage != nil {
		r.onStage(key, s)
	}
}

// run resolves one identifier: cached result if present, otherwise every
// fetcher under the worker bound with failures isolated per fetcher.
func (r runner) run(ctx context.Context, input string) (table.Table, error) {
	key := r.keyPrefix + input
	r.stage(key, StagePending)
	if err := ctx.Err(); err != nil {
		return r.phase.Schema.Empty(), err
	}

	r.stage(key, StageCacheCheck)
	if cached, ok := r.lookup(ctx, key); ok {
		r.stage(key, StageCacheHit)
		r.metrics.ObservePhase(r.phase.Schema.Name, metrics.PhaseHit, cached.Len())
		r.stage(key, StageDone)
		return cached, nil
	}
	r.stage(key, StageCacheMiss)

	r.stage(key, StageRunningStrategies)
	results := make([]table.Table, len(r.fetchers))
	failed := make([]error, len(r.fetchers))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, f := range r.fetchers {
		i, f := i, f
		g.Go(func() error {
			out, err := safeFetch(ctx, f, input)
			if err != nil {
				failed[i] = err
				r.logger.Warn("strategy failed",
					slog.String("strategy", f.Name()),
					slog.String("input", input),
					slog.Any("error", err),
				)
				return nil
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return r.phase.Schema.Empty(), err
	}

	r.stage(key, StageAggregating)
	succeeded := make([]table.Table, 0, len(results))
	for i, out := range results {
		if failed[i] == nil {
			succeeded = append(succeeded, out)
		}
	}
	combined := table.Concat(r.phase.Schema.Columns, succeeded...)

	r.stage(key, StageCaching)
	if len(succeeded) == 0 && len(r.fetchers) > 0 {
		r.logger.Warn("every strategy failed, result not cached", slog.String("key", key))
	} else {
		r.store(ctx, key, combined)
	}
	r.metrics.ObservePhase(r.phase.Schema.Name, metrics.PhaseMiss, combined.Len())
	r.stage(key, StageDone)
	return combined, nil
}

// safeFetch converts a panicking fetcher into an ordinary failure so it
// cannot take down its siblings or the caller.
func safeFetch(ctx context.Context, f Fetcher, input string) (out table.Table, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = table.Table{}
			err = fmt.Errorf("strategy %s panicked: %v", f.Name(), rec)
		}
	}()
	return f.Fetch(ctx, input)
}

func (r runner) lookup(ctx context.Context, key string) (table.Table, bool) {
	if r.cache == nil {
		return table.Table{}, false
	}
	payload, ok := r.cache.Get(ctx, key)
	if !ok {
		return table.Table{}, false
	}
	cached, err := table.Decode(payload, r.phase.Schema)
	if err != nil {
		r.logger.Warn("cached result undecodable, treating as miss", slog.String("key", key), slog.Any("error", err))
		return table.Table{}, false
	}
	return cached, true
}

func (r runner) store(ctx context.Context, key string, t table.Table) {
	if r.cache == nil {
		return
	}
	payload, err := table.Encode(t)
	if err != nil {
		r.logger.Warn("result encode failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	r.cache.Save(ctx, key, payload, r.ttl)
}
