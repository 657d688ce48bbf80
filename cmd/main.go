package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/netpharm/internal/config"
	"github.com/l0p7/netpharm/internal/logging"
	"github.com/l0p7/netpharm/internal/metrics"
	"github.com/l0p7/netpharm/internal/pipeline"
	"github.com/l0p7/netpharm/internal/server"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file (yaml, json or toml)")
		envPrefix  = flag.String("env-prefix", "NETPHARM", "environment variable prefix")
		drugs      = flag.String("drugs", "", "comma separated drug names; overrides run.drugNames")
		disease    = flag.String("disease", "", "disease name; overrides run.diseaseName")
		output     = flag.String("output", "", "output directory; overrides run.outputDir")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	applyFlags(&cfg, *drugs, *disease, *output)

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Error("run failed", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlags lets command line values win over every configuration source.
func applyFlags(cfg *config.Config, drugs, disease, output string) {
	if strings.TrimSpace(drugs) != "" {
		cfg.Run.DrugNames = nil
		for _, name := range strings.Split(drugs, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Run.DrugNames = append(cfg.Run.DrugNames, name)
			}
		}
	}
	if strings.TrimSpace(disease) != "" {
		cfg.Run.DiseaseName = strings.TrimSpace(disease)
	}
	if strings.TrimSpace(output) != "" {
		cfg.Run.OutputDir = strings.TrimSpace(output)
	}
}

// run executes one pipeline invocation. When the listener is enabled it
// serves /metrics and /healthz for the duration of the run.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger, sources *strategies) error {
	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	progress := server.NewProgress()

	a, err := buildApp(ctx, cfg, logger, recorder, progress, sources)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			logger.Error("shutdown failed", slog.Any("error", err))
		}
	}()

	if cfg.Server.Listen.Enabled() {
		handler := server.NewHandler(server.Routes{
			Metrics: recorder.Handler(),
			Health: func() server.HealthReport {
				return server.HealthReport{Status: "ok", Cache: string(a.cache.Kind()), Stages: progress.Snapshot()}
			},
		})
		srv, err := server.New(cfg.Server.Listen, logger, handler)
		if err != nil {
			return err
		}
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- srv.Run(srvCtx) }()
		defer func() {
			cancel()
			if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("server terminated unexpectedly", slog.Any("error", err))
			}
		}()
	}

	res, err := a.pipeline.Run(ctx, pipeline.Input{
		DrugNames:   cfg.Run.DrugNames,
		DiseaseName: cfg.Run.DiseaseName,
		OutputDir:   cfg.Run.OutputDir,
	})
	if err != nil {
		return err
	}
	logger.Info("run complete",
		slog.Int("components", res.Components.Len()),
		slog.Int("targets", res.Targets.Len()),
		slog.Int("disease_targets", res.DiseaseTargets.Len()),
		slog.Any("shared_targets", res.Summary.SharedTargets),
		slog.Any("files", res.Files),
	)
	return nil
}
