package fetch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/l0p7/netpharm/internal/expr"
	"github.com/l0p7/netpharm/internal/fsutil"
	"github.com/l0p7/netpharm/internal/metrics"
	"github.com/l0p7/netpharm/internal/table"
)

// Options configures a Fetcher.
type Options struct {
	Phase Phase
	// ResultsDir roots the per-strategy artifacts. Empty disables artifacts.
	ResultsDir string
	// Filter, when set, runs after PostProcess.
	Filter  *expr.Filter
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Fetcher runs a strategy through query, normalize, post-process and persist,
// reusing a previously persisted artifact when one exists.
type Fetcher struct {
	strategy Strategy
	phase    Phase
	dir      string
	filter   *expr.Filter
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// New binds strategy to a phase.
func New(strategy Strategy, opts Options) *Fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		strategy: strategy,
		phase:    opts.Phase,
		dir:      opts.ResultsDir,
		filter:   opts.Filter,
		logger: logger.With(
			slog.String("agent", "fetch"),
			slog.String("phase", opts.Phase.Dir),
			slog.String("strategy", strategy.Name()),
		),
		metrics: opts.Metrics,
	}
}

// Name reports the wrapped strategy's name.
func (f *Fetcher) Name() string { return f.strategy.Name() }

// Phase reports the phase the fetcher contributes to.
func (f *Fetcher) Phase() Phase { return f.phase }

// ArtifactPath returns where the result for name is persisted, or "" when
// artifacts are disabled.
func (f *Fetcher) ArtifactPath(name string) string {
	if f.dir == "" {
		return ""
	}
	return filepath.Join(f.dir, f.phase.Dir, fsutil.SafeName(f.strategy.Name()), fsutil.SafeName(name)+".csv")
}

// Fetch returns the canonical table for name. A persisted artifact
// short-circuits the query entirely.
func (f *Fetcher) Fetch(ctx context.Context, name string) (table.Table, error) {
	start := time.Now()
	path := f.ArtifactPath(name)

	if path != "" {
		cached, ok := f.readArtifact(path)
		if ok {
			f.logger.Debug("artifact reused", slog.String("name", name), slog.String("path", path))
			f.metrics.ObserveFetch(f.phase.Dir, f.strategy.Name(), metrics.FetchArtifact, time.Since(start))
			return cached, nil
		}
	}

	raw, err := f.strategy.Query(ctx, name)
	if err != nil {
		f.metrics.ObserveFetch(f.phase.Dir, f.strategy.Name(), metrics.FetchError, time.Since(start))
		return f.phase.Schema.Empty(), &Error{Strategy: f.strategy.Name(), Name: name, Err: err}
	}

	data := f.phase.Schema.Conform(f.strategy.Normalize(raw))
	if pp, ok := f.strategy.(PostProcessor); ok {
		data = f.phase.Schema.Conform(pp.PostProcess(data))
	}
	if f.filter != nil {
		var failed int
		data, failed = f.filter.Apply(name, data)
		if failed > 0 {
			f.logger.Warn("filter evaluation failed for rows",
				slog.String("name", name),
				slog.String("filter", f.filter.Source()),
				slog.Int("rows", failed),
			)
		}
	}

	if path != "" {
		if err := table.WriteFile(path, data); err != nil {
			f.logger.Warn("artifact save failed", slog.String("name", name), slog.Any("error", err))
		}
	}
	f.logger.Debug("strategy queried", slog.String("name", name), slog.Int("rows", data.Len()))
	f.metrics.ObserveFetch(f.phase.Dir, f.strategy.Name(), metrics.FetchQueried, time.Since(start))
	return data, nil
}

func (f *Fetcher) readArtifact(path string) (table.Table, bool) {
	data, err := table.ReadFile(path, f.phase.Schema)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("artifact unreadable, querying source", slog.String("path", path), slog.Any("error", err))
		}
		return table.Table{}, false
	}
	return data, true
}
