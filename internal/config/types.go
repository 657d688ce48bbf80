package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/l0p7/netpharm/internal/cache"
)

// Config holds every option the netpharm command consumes.
type Config struct {
	Run     RunConfig     `koanf:"run"`
	Logging LoggingConfig `koanf:"logging"`
	Cache   CacheConfig   `koanf:"cache"`
	Data    DataConfig    `koanf:"data"`
	Sources SourcesConfig `koanf:"sources"`
	Filters FiltersConfig `koanf:"filters"`
	Server  ServerConfig  `koanf:"server"`
}

// RunConfig describes a single pipeline invocation.
type RunConfig struct {
	DrugNames   []string `koanf:"drugNames"`
	DiseaseName string   `koanf:"diseaseName"`
	OutputDir   string   `koanf:"outputDir"`
	ResultsDir  string   `koanf:"resultsDir"`
	MaxWorkers  int      `koanf:"maxWorkers"`
	// ReportTemplate overrides the built-in summary.md template.
	ReportTemplate string `koanf:"reportTemplate"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig selects the phase cache backend. PhaseTTL of zero keeps entries
// until deleted.
type CacheConfig struct {
	Backend  string           `koanf:"backend"`
	Dir      string           `koanf:"dir"`
	PhaseTTL time.Duration    `koanf:"phaseTTL"`
	Redis    RedisCacheConfig `koanf:"redis"`
	Bolt     BoltCacheConfig  `koanf:"bolt"`
}

type RedisCacheConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

type BoltCacheConfig struct {
	Path   string `koanf:"path"`
	Bucket string `koanf:"bucket"`
}

// DataConfig locates the local reference tables. Relative file names resolve
// against Dir.
type DataConfig struct {
	Dir            string `koanf:"dir"`
	Watch          bool   `koanf:"watch"`
	TCMSPMolecules string `koanf:"tcmspMolecules"`
	TCMSPTargets   string `koanf:"tcmspTargets"`
	OMIM           string `koanf:"omim"`
	TTD            string `koanf:"ttd"`
	GeneCards      string `koanf:"genecards"`
}

type SourcesConfig struct {
	TCMSP  TCMSPSourceConfig  `koanf:"tcmsp"`
	ChEMBL ChEMBLSourceConfig `koanf:"chembl"`
}

type TCMSPSourceConfig struct {
	BaseURL        string        `koanf:"baseURL"`
	RequestTimeout time.Duration `koanf:"requestTimeout"`
	Delay          time.Duration `koanf:"delay"`
}

type ChEMBLSourceConfig struct {
	PredictionURL  string        `koanf:"predictionURL"`
	UniProtURL     string        `koanf:"uniprotURL"`
	PollInterval   time.Duration `koanf:"pollInterval"`
	RequestTimeout time.Duration `koanf:"requestTimeout"`
}

// FiltersConfig holds per-phase CEL row filters keyed by strategy name.
// Strategy names match case-insensitively.
type FiltersConfig struct {
	Components     map[string]string `koanf:"components"`
	Targets        map[string]string `koanf:"targets"`
	DiseaseTargets map[string]string `koanf:"diseaseTargets"`
}

// Lookup returns the expression configured for strategy, if any.
func Lookup(filters map[string]string, strategy string) (string, bool) {
	for name, expression := range filters {
		if strings.EqualFold(name, strategy) {
			return expression, true
		}
	}
	return "", false
}

// ServerConfig controls the optional metrics listener.
type ServerConfig struct {
	Listen ListenConfig `koanf:"listen"`
}

// ListenConfig instructs the HTTP listener about bind address and port. Port 0
// disables the listener.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// Enabled reports whether the metrics listener should start.
func (l ListenConfig) Enabled() bool { return l.Port > 0 }

// CacheSettings converts the cache block into the cache package's config.
func (c CacheConfig) CacheSettings() (cache.Config, error) {
	kind, err := cache.ParseKind(c.Backend)
	if err != nil {
		return cache.Config{}, err
	}
	return cache.Config{
		Kind: kind,
		Dir:  c.Dir,
		Redis: cache.RedisConfig{
			Address:  c.Redis.Address,
			Username: c.Redis.Username,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: c.Redis.TLS.Enabled,
				CAFile:  c.Redis.TLS.CAFile,
			},
		},
		Bolt: cache.BoltConfig{
			Path:   c.Bolt.Path,
			Bucket: c.Bolt.Bucket,
		},
	}, nil
}

// Validate enforces invariants that keep a run predictable before any
// source is contacted. Run inputs are checked by the pipeline itself.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Run.MaxWorkers <= 0 {
		return fmt.Errorf("config: run.maxWorkers invalid: %d", c.Run.MaxWorkers)
	}
	if strings.TrimSpace(c.Run.ResultsDir) == "" {
		return errors.New("config: run.resultsDir required")
	}
	if c.Server.Listen.Port < 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: server.listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Cache.PhaseTTL < 0 {
		return fmt.Errorf("config: cache.phaseTTL invalid: %s", c.Cache.PhaseTTL)
	}
	kind, err := cache.ParseKind(c.Cache.Backend)
	if err != nil {
		return fmt.Errorf("config: cache.backend: %w", err)
	}
	switch kind {
	case cache.KindRedis:
		if strings.TrimSpace(c.Cache.Redis.Address) == "" {
			return errors.New("config: cache.redis.address required for redis backend")
		}
	case cache.KindFile:
		if strings.TrimSpace(c.Cache.Dir) == "" {
			return errors.New("config: cache.dir required for file backend")
		}
	case cache.KindBolt:
		if strings.TrimSpace(c.Cache.Bolt.Path) == "" {
			return errors.New("config: cache.bolt.path required for bolt backend")
		}
	}
	if c.Sources.TCMSP.RequestTimeout < 0 || c.Sources.ChEMBL.RequestTimeout < 0 || c.Sources.TCMSP.Delay < 0 {
		return errors.New("config: sources request timeouts and delays must not be negative")
	}
	if c.Sources.ChEMBL.PollInterval <= 0 {
		return fmt.Errorf("config: sources.chembl.pollInterval invalid: %s", c.Sources.ChEMBL.PollInterval)
	}
	for phase, filters := range map[string]map[string]string{
		"components":     c.Filters.Components,
		"targets":        c.Filters.Targets,
		"diseaseTargets": c.Filters.DiseaseTargets,
	} {
		for name, expression := range filters {
			if strings.TrimSpace(expression) == "" {
				return fmt.Errorf("config: filters.%s.%s empty", phase, name)
			}
		}
	}
	return nil
}

// DefaultConfig returns the baseline values used before files and env apply.
func DefaultConfig() Config {
	return Config{
		Run: RunConfig{
			OutputDir:  "./output",
			ResultsDir: "./results",
			MaxWorkers: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Cache: CacheConfig{
			Backend: string(cache.KindMemory),
			Dir:     "./cache",
			Bolt: BoltCacheConfig{
				Path:   "./cache/netpharm.db",
				Bucket: "netpharm",
			},
		},
		Data: DataConfig{
			Dir:            "./data",
			TCMSPMolecules: "tcmsp_molecules.csv",
			TCMSPTargets:   "tcmsp_targets.csv",
			OMIM:           "omim_genemap2.txt",
			TTD:            "ttd_target_disease.csv",
			GeneCards:      "genecards",
		},
		Sources: SourcesConfig{
			TCMSP: TCMSPSourceConfig{
				BaseURL:        "https://old.tcmsp-e.com",
				RequestTimeout: 30 * time.Second,
				Delay:          time.Second,
			},
			ChEMBL: ChEMBLSourceConfig{
				PredictionURL:  "https://www.ebi.ac.uk/chembl/target-predictions",
				UniProtURL:     "https://rest.uniprot.org",
				PollInterval:   3 * time.Second,
				RequestTimeout: 60 * time.Second,
			},
		},
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    0,
			},
		},
	}
}
