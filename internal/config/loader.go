package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator. Later files override earlier ones and
// the environment overrides every file.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot and validates it.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := canonicalKeys(k)
		transform := func(s string) string {
			// Double underscores signal a nested path (RUN__MAXWORKERS -> run.maxWorkers).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Run.DrugNames = splitList(cfg.Run.DrugNames)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// canonicalKeys maps lower-cased key paths to their camelCase spelling so env
// overrides land on the same koanf key as file values.
func canonicalKeys(k *koanf.Koanf) map[string]string {
	out := map[string]string{
		"run.drugnames":             "run.drugNames",
		"run.diseasename":           "run.diseaseName",
		"cache.phasettl":            "cache.phaseTTL",
		"cache.redis.tls.cafile":    "cache.redis.tls.caFile",
		"run.reporttemplate":        "run.reportTemplate",
		"sources.chembl.uniproturl": "sources.chembl.uniprotURL",
		"filters.diseasetargets":    "filters.diseaseTargets",
	}
	for _, key := range k.Keys() {
		out[strings.ToLower(key)] = key
	}
	return out
}

// splitList accepts both list values and a single comma separated string,
// which is how drug names arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q for %s", ext, path)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"run": map[string]any{
			"drugNames":      cfg.Run.DrugNames,
			"diseaseName":    cfg.Run.DiseaseName,
			"outputDir":      cfg.Run.OutputDir,
			"resultsDir":     cfg.Run.ResultsDir,
			"maxWorkers":     cfg.Run.MaxWorkers,
			"reportTemplate": cfg.Run.ReportTemplate,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
		"cache": map[string]any{
			"backend":  cfg.Cache.Backend,
			"dir":      cfg.Cache.Dir,
			"phaseTTL": cfg.Cache.PhaseTTL,
			"redis": map[string]any{
				"address":  cfg.Cache.Redis.Address,
				"username": cfg.Cache.Redis.Username,
				"password": cfg.Cache.Redis.Password,
				"db":       cfg.Cache.Redis.DB,
				"tls": map[string]any{
					"enabled": cfg.Cache.Redis.TLS.Enabled,
					"caFile":  cfg.Cache.Redis.TLS.CAFile,
				},
			},
			"bolt": map[string]any{
				"path":   cfg.Cache.Bolt.Path,
				"bucket": cfg.Cache.Bolt.Bucket,
			},
		},
		"data": map[string]any{
			"dir":            cfg.Data.Dir,
			"watch":          cfg.Data.Watch,
			"tcmspMolecules": cfg.Data.TCMSPMolecules,
			"tcmspTargets":   cfg.Data.TCMSPTargets,
			"omim":           cfg.Data.OMIM,
			"ttd":            cfg.Data.TTD,
			"genecards":      cfg.Data.GeneCards,
		},
		"sources": map[string]any{
			"tcmsp": map[string]any{
				"baseURL":        cfg.Sources.TCMSP.BaseURL,
				"requestTimeout": cfg.Sources.TCMSP.RequestTimeout,
				"delay":          cfg.Sources.TCMSP.Delay,
			},
			"chembl": map[string]any{
				"predictionURL":  cfg.Sources.ChEMBL.PredictionURL,
				"uniprotURL":     cfg.Sources.ChEMBL.UniProtURL,
				"pollInterval":   cfg.Sources.ChEMBL.PollInterval,
				"requestTimeout": cfg.Sources.ChEMBL.RequestTimeout,
			},
		},
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
		},
	}
}
