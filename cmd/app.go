package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/l0p7/netpharm/internal/cache"
	"github.com/l0p7/netpharm/internal/config"
	"github.com/l0p7/netpharm/internal/executor"
	"github.com/l0p7/netpharm/internal/expr"
	"github.com/l0p7/netpharm/internal/fetch"
	"github.com/l0p7/netpharm/internal/metrics"
	"github.com/l0p7/netpharm/internal/pipeline"
	"github.com/l0p7/netpharm/internal/reference"
	"github.com/l0p7/netpharm/internal/report"
	"github.com/l0p7/netpharm/internal/server"
	"github.com/l0p7/netpharm/internal/strategy"
)

// app bundles the long-lived collaborators of one netpharm process.
type app struct {
	cache    *cache.Manager
	store    *reference.Store
	watcher  *reference.Watcher
	pipeline *pipeline.Orchestrator
	logger   *slog.Logger
}

// strategies groups the sources registered for each phase, in execution order.
type strategies struct {
	components []fetch.Strategy
	targets    []fetch.Strategy
	diseases   []fetch.Strategy
}

func defaultStrategies(cfg config.Config, store *reference.Store, logger *slog.Logger) strategies {
	return strategies{
		components: []fetch.Strategy{
			strategy.NewTCMSPComponents(strategy.TCMSPComponentsOptions{
				BaseURL:   cfg.Sources.TCMSP.BaseURL,
				Molecules: cfg.Data.TCMSPMolecules,
				Scraper: strategy.ScraperOptions{
					RequestTimeout: cfg.Sources.TCMSP.RequestTimeout,
					Delay:          cfg.Sources.TCMSP.Delay,
				},
				Store:  store,
				Logger: logger,
			}),
		},
		targets: []fetch.Strategy{
			strategy.NewTCMSPTargets(store, cfg.Data.TCMSPMolecules, cfg.Data.TCMSPTargets, logger),
			strategy.NewChEMBLTargets(strategy.ChEMBLOptions{
				PredictionURL:  cfg.Sources.ChEMBL.PredictionURL,
				UniProtURL:     cfg.Sources.ChEMBL.UniProtURL,
				PollInterval:   cfg.Sources.ChEMBL.PollInterval,
				RequestTimeout: cfg.Sources.ChEMBL.RequestTimeout,
				Logger:         logger,
			}),
		},
		diseases: []fetch.Strategy{
			strategy.NewGeneCardsDiseases(store, cfg.Data.GeneCards),
			strategy.NewOMIMDiseases(store, cfg.Data.OMIM),
			strategy.NewTTDDiseases(store, cfg.Data.TTD),
		},
	}
}

// buildApp wires cache, reference data, fetchers, executors and the
// orchestrator. The returned app must be closed.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder, progress *server.Progress, sources *strategies) (*app, error) {
	store := reference.NewStore(cfg.Data.Dir, logger)
	if sources == nil {
		defaults := defaultStrategies(cfg, store, logger)
		sources = &defaults
	}

	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, err
	}
	componentFetchers, err := fetchers(env, fetch.PhaseComponents, sources.components, cfg.Filters.Components, cfg, logger, recorder)
	if err != nil {
		return nil, err
	}
	targetFetchers, err := fetchers(env, fetch.PhaseTargets, sources.targets, cfg.Filters.Targets, cfg, logger, recorder)
	if err != nil {
		return nil, err
	}
	diseaseFetchers, err := fetchers(env, fetch.PhaseDiseaseTargets, sources.diseases, cfg.Filters.DiseaseTargets, cfg, logger, recorder)
	if err != nil {
		return nil, err
	}

	tmpl, err := buildReport(cfg.Run.ReportTemplate)
	if err != nil {
		return nil, err
	}

	phaseCache := buildCache(logger.With(slog.String("agent", "cache_factory")), cfg.Cache, recorder)
	options := func(list []executor.Fetcher) executor.Options {
		opts := executor.Options{
			Fetchers:   list,
			Cache:      phaseCache,
			CacheTTL:   cfg.Cache.PhaseTTL,
			MaxWorkers: cfg.Run.MaxWorkers,
			Logger:     logger,
			Metrics:    recorder,
		}
		if progress != nil {
			opts.OnStage = progress.Observe
		}
		return opts
	}

	a := &app{
		cache: phaseCache,
		store: store,
		pipeline: pipeline.New(pipeline.Options{
			Components: executor.NewComponentFinder(options(componentFetchers)),
			Targets:    executor.NewSmilesTargetPredictor(options(targetFetchers)),
			Diseases:   executor.NewDiseaseTargetFinder(options(diseaseFetchers)),
			Report:     tmpl,
			Logger:     logger,
		}),
		logger: logger,
	}

	if cfg.Data.Watch {
		watcher, err := store.Watch(ctx, func(path string) {
			logger.Info("reference table changed", slog.String("path", path))
		})
		if err != nil {
			logger.Error("reference watcher setup failed", slog.String("dir", store.Root()), slog.Any("error", err))
		} else {
			a.watcher = watcher
		}
	}
	return a, nil
}

func fetchers(env *expr.Environment, phase fetch.Phase, list []fetch.Strategy, filters map[string]string, cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) ([]executor.Fetcher, error) {
	out := make([]executor.Fetcher, 0, len(list))
	for _, s := range list {
		var filter *expr.Filter
		if expression, ok := config.Lookup(filters, s.Name()); ok {
			compiled, err := env.CompileFilter(expression)
			if err != nil {
				return nil, fmt.Errorf("filters.%s.%s: %w", phase.Schema.Name, s.Name(), err)
			}
			filter = compiled
		}
		out = append(out, fetch.New(s, fetch.Options{
			Phase:      phase,
			ResultsDir: cfg.Run.ResultsDir,
			Filter:     filter,
			Logger:     logger,
			Metrics:    recorder,
		}))
	}
	return out, nil
}

func buildReport(path string) (*report.Template, error) {
	renderer := report.NewRenderer()
	if path = strings.TrimSpace(path); path != "" {
		return renderer.CompileFile(path)
	}
	return renderer.Compile("summary", report.DefaultSummary)
}

// buildCache falls back to the memory backend when the configured one cannot
// be constructed, so a dead redis never blocks a run.
func buildCache(logger *slog.Logger, cfg config.CacheConfig, recorder *metrics.Recorder) *cache.Manager {
	settings, err := cfg.CacheSettings()
	if err != nil {
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewManager(cache.KindMemory, cache.NewMemory(), logger, recorder)
	}
	manager, err := cache.New(settings, logger, recorder)
	if err != nil {
		logger.Error("cache initialization failed", slog.String("backend", string(settings.Kind)), slog.Any("error", err))
		logger.Info("falling back to memory cache")
		return cache.NewManager(cache.KindMemory, cache.NewMemory(), logger, recorder)
	}
	logger.Info("using phase cache", slog.String("backend", string(manager.Kind())), slog.Duration("ttl", cfg.PhaseTTL))
	return manager
}

// Close stops the reference watcher and releases the cache backend.
func (a *app) Close(ctx context.Context) error {
	a.watcher.Stop()
	if err := a.cache.Close(ctx); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}
