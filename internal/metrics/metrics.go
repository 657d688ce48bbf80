package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationGet records cache reads.
	CacheOperationGet CacheOperation = "get"
	// CacheOperationSave records cache writes.
	CacheOperationSave CacheOperation = "save"
	// CacheOperationDelete records cache deletions.
	CacheOperationDelete CacheOperation = "delete"
)

// CacheResult captures the outcome of a cache operation.
type CacheResult string

const (
	// CacheHit indicates a read returned a live entry.
	CacheHit CacheResult = "hit"
	// CacheMiss indicates a read found nothing or an expired entry.
	CacheMiss CacheResult = "miss"
	// CacheOK indicates a save or delete completed.
	CacheOK CacheResult = "ok"
	// CacheError indicates the backend failed; the error was swallowed.
	CacheError CacheResult = "error"
)

// FetchResult captures how a strategy fetch produced its table.
type FetchResult string

const (
	// FetchArtifact indicates a persisted artifact was reused.
	FetchArtifact FetchResult = "artifact"
	// FetchQueried indicates the strategy queried its source.
	FetchQueried FetchResult = "queried"
	// FetchError indicates the strategy failed.
	FetchError FetchResult = "error"
)

// PhaseResult captures whether a phase execution was served from cache.
type PhaseResult string

const (
	// PhaseHit indicates the aggregated result came from the cache.
	PhaseHit PhaseResult = "hit"
	// PhaseMiss indicates the strategies ran.
	PhaseMiss PhaseResult = "miss"
)

// Recorder publishes Prometheus metrics for pipeline activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	strategyFetches *prometheus.CounterVec
	strategyLatency *prometheus.HistogramVec

	phaseExecutions *prometheus.CounterVec
	phaseRows       *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netpharm",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache manager operations by backend and outcome.",
	}, []string{"backend", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "netpharm",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for cache manager operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"backend", "operation", "result"})

	strategyFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netpharm",
		Subsystem: "strategy",
		Name:      "fetches_total",
		Help:      "Strategy fetches by phase and outcome.",
	}, []string{"phase", "strategy", "result"})

	strategyLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "netpharm",
		Subsystem: "strategy",
		Name:      "fetch_duration_seconds",
		Help:      "Latency distribution for strategy fetches.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"phase", "strategy", "result"})

	phaseExecutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netpharm",
		Subsystem: "phase",
		Name:      "executions_total",
		Help:      "Executor invocations per phase, split by cache outcome.",
	}, []string{"phase", "result"})

	phaseRows := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "netpharm",
		Subsystem: "phase",
		Name:      "rows",
		Help:      "Rows produced per executor invocation.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"phase"})

	reg.MustRegister(cacheOperations, cacheLatency, strategyFetches, strategyLatency, phaseExecutions, phaseRows)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
		strategyFetches: strategyFetches,
		strategyLatency: strategyLatency,
		phaseExecutions: phaseExecutions,
		phaseRows:       phaseRows,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveCache records the result of a cache manager operation.
func (r *Recorder) ObserveCache(backend string, operation CacheOperation, result CacheResult, duration time.Duration) {
	if r == nil {
		return
	}
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationGet)
	}
	resLabel := string(result)
	if resLabel == "" {
		resLabel = string(CacheError)
	}
	backendLabel := normalizeLabel(backend)
	r.cacheOperations.WithLabelValues(backendLabel, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(backendLabel, opLabel, resLabel).Observe(duration.Seconds())
}

// ObserveFetch records a single strategy fetch.
func (r *Recorder) ObserveFetch(phase, strategy string, result FetchResult, duration time.Duration) {
	if r == nil {
		return
	}
	resLabel := string(result)
	if resLabel == "" {
		resLabel = string(FetchError)
	}
	phaseLabel := normalizeLabel(phase)
	strategyLabel := normalizeLabel(strategy)
	r.strategyFetches.WithLabelValues(phaseLabel, strategyLabel, resLabel).Inc()
	r.strategyLatency.WithLabelValues(phaseLabel, strategyLabel, resLabel).Observe(duration.Seconds())
}

// ObservePhase records an executor invocation and the rows it returned.
func (r *Recorder) ObservePhase(phase string, result PhaseResult, rows int) {
	if r == nil {
		return
	}
	phaseLabel := normalizeLabel(phase)
	resLabel := string(result)
	if resLabel == "" {
		resLabel = string(PhaseMiss)
	}
	r.phaseExecutions.WithLabelValues(phaseLabel, resLabel).Inc()
	r.phaseRows.WithLabelValues(phaseLabel).Observe(float64(rows))
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
