package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/netpharm/internal/cache"
	"github.com/l0p7/netpharm/internal/config"
	"github.com/l0p7/netpharm/internal/fetch"
	"github.com/l0p7/netpharm/internal/table"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type stubStrategy struct {
	name   string
	schema table.Schema
	rows   func(query string) []table.Row
	calls  atomic.Int32
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Query(_ context.Context, query string) (table.Table, error) {
	s.calls.Add(1)
	return table.Table{Columns: s.schema.Columns, Rows: s.rows(query)}, nil
}

func (s *stubStrategy) Normalize(raw table.Table) table.Table { return s.schema.Project(raw, nil) }

func stubSources() (*strategies, *stubStrategy) {
	components := &stubStrategy{name: "Herbs", schema: table.ComponentSchema, rows: func(drug string) []table.Row {
		return []table.Row{
			{"component_name": drug + "-a", "smiles": "C1", "oral_bioavailability": 40.0, "drug_likeness": 0.3},
			{"component_name": drug + "-b", "smiles": "C2", "oral_bioavailability": 12.0, "drug_likeness": 0.1},
		}
	}}
	targets := &stubStrategy{name: "Predictor", schema: table.TargetSchema, rows: func(smiles string) []table.Row {
		return []table.Row{{"smiles": smiles, "targets": "EGFR", "source": "Predictor"}}
	}}
	diseases := &stubStrategy{name: "Atlas", schema: table.DiseaseTargetSchema, rows: func(disease string) []table.Row {
		return []table.Row{
			{"name": disease, "target_name": "EGFR", "source": "Atlas"},
			{"name": disease, "target_name": "IL4", "source": "Atlas"},
		}
	}}
	return &strategies{
		components: []fetch.Strategy{components},
		targets:    []fetch.Strategy{targets},
		diseases:   []fetch.Strategy{diseases},
	}, components
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Run.DrugNames = []string{"ginseng"}
	cfg.Run.DiseaseName = "asthma"
	cfg.Run.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.Run.ResultsDir = filepath.Join(t.TempDir(), "results")
	cfg.Data.Dir = t.TempDir()
	return cfg
}

func TestRunWritesOutputsAndReusesArtifacts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Filters.Components = map[string]string{"herbs": "row.oral_bioavailability >= 30.0"}
	sources, components := stubSources()

	require.NoError(t, run(context.Background(), cfg, newTestLogger(), sources))
	for _, name := range []string{"components.csv", "targets.csv", "disease_targets.csv", "summary.md"} {
		require.FileExists(t, filepath.Join(cfg.Run.OutputDir, name))
	}

	written, err := table.ReadFile(filepath.Join(cfg.Run.OutputDir, "components.csv"), table.ComponentSchema)
	require.NoError(t, err)
	require.Equal(t, 1, written.Len(), "filter drops the low bioavailability component")
	require.Equal(t, "ginseng-a", written.Rows[0]["component_name"])

	summary, err := os.ReadFile(filepath.Join(cfg.Run.OutputDir, "summary.md"))
	require.NoError(t, err)
	require.Contains(t, string(summary), "EGFR")

	require.FileExists(t, filepath.Join(cfg.Run.ResultsDir, "DrugComponentFinder", "Herbs", "ginseng.csv"))

	// A second process starts with an empty memory cache but finds the artifact.
	require.NoError(t, run(context.Background(), cfg, newTestLogger(), sources))
	require.EqualValues(t, 1, components.calls.Load())
}

func TestRunRejectsMissingDisease(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.DiseaseName = ""
	sources, _ := stubSources()
	err := run(context.Background(), cfg, newTestLogger(), sources)
	require.Error(t, err)
	require.Contains(t, err.Error(), "disease name is required")
}

func TestBuildAppRejectsInvalidFilter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Filters.Targets = map[string]string{"Predictor": "row.targets +"}
	sources, _ := stubSources()
	_, err := buildApp(context.Background(), cfg, newTestLogger(), nil, nil, sources)
	require.Error(t, err)
	require.Contains(t, err.Error(), "filters.targets.Predictor")
}

func TestBuildAppWatchesReferenceData(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.Watch = true
	sources, _ := stubSources()
	a, err := buildApp(context.Background(), cfg, newTestLogger(), nil, nil, sources)
	require.NoError(t, err)
	require.NotNil(t, a.watcher)
	require.NoError(t, a.Close(context.Background()))
}

func TestBuildCache(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(t *testing.T) config.CacheConfig
		want cache.Kind
	}{
		{
			name: "defaults to memory",
			cfg:  func(t *testing.T) config.CacheConfig { return config.CacheConfig{} },
			want: cache.KindMemory,
		},
		{
			name: "constructs redis cache",
			cfg: func(t *testing.T) config.CacheConfig {
				server, err := miniredis.Run()
				if err != nil {
					if strings.Contains(err.Error(), "operation not permitted") {
						t.Skip("miniredis unavailable in sandbox")
					}
					require.NoError(t, err)
				}
				t.Cleanup(server.Close)
				return config.CacheConfig{Backend: "redis", Redis: config.RedisCacheConfig{Address: server.Addr()}}
			},
			want: cache.KindRedis,
		},
		{
			name: "constructs bolt cache",
			cfg: func(t *testing.T) config.CacheConfig {
				return config.CacheConfig{Backend: "bolt", Bolt: config.BoltCacheConfig{Path: filepath.Join(t.TempDir(), "phase.db")}}
			},
			want: cache.KindBolt,
		},
		{
			name: "falls back when redis address missing",
			cfg:  func(t *testing.T) config.CacheConfig { return config.CacheConfig{Backend: "redis"} },
			want: cache.KindMemory,
		},
		{
			name: "falls back on unknown backend",
			cfg:  func(t *testing.T) config.CacheConfig { return config.CacheConfig{Backend: "memcached"} },
			want: cache.KindMemory,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			manager := buildCache(newTestLogger(), tc.cfg(t), nil)
			t.Cleanup(func() {
				require.NoError(t, manager.Close(context.Background()))
			})
			require.Equal(t, tc.want, manager.Kind())

			ctx := context.Background()
			manager.Save(ctx, "components_ginseng", []byte("payload"), time.Minute)
			got, ok := manager.Get(ctx, "components_ginseng")
			require.True(t, ok)
			require.Equal(t, []byte("payload"), got)
		})
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Run.DrugNames = []string{"licorice"}
	cfg.Run.DiseaseName = "eczema"

	applyFlags(&cfg, "ginseng, ,astragalus", " asthma ", "")
	require.Equal(t, []string{"ginseng", "astragalus"}, cfg.Run.DrugNames)
	require.Equal(t, "asthma", cfg.Run.DiseaseName)
	require.Equal(t, "./output", cfg.Run.OutputDir)

	applyFlags(&cfg, "", "", "/tmp/out")
	require.Equal(t, []string{"ginseng", "astragalus"}, cfg.Run.DrugNames)
	require.Equal(t, "/tmp/out", cfg.Run.OutputDir)
}
