package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Pipeline metrics
	StageDuration    *prometheus.HistogramVec
	StageFailures    *prometheus.CounterVec
	PipelineOutcomes *prometheus.CounterVec
	ActivePipelines  prometheus.Gauge

	// Collaborator metrics
	RetriesTotal        *prometheus.CounterVec
	QuotaExhaustedTotal *prometheus.CounterVec
	ClausesRetrieved    prometheus.Histogram
)

// Init registers all collectors on a private registry. Safe to call more
// than once; every Observe helper calls it lazily.
func Init() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		StageDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vigilant_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"stage", "status"},
		)

		StageFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigilant_stage_failures_total",
				Help: "Pipeline failures by stage and error kind",
			},
			[]string{"stage", "kind"},
		)

		PipelineOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigilant_pipeline_outcomes_total",
				Help: "Terminal pipeline outcomes by delivery mode",
			},
			[]string{"mode", "outcome"},
		)

		ActivePipelines = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigilant_active_pipelines",
			Help: "Number of requests currently inside the pipeline",
		})

		RetriesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigilant_throttle_retries_total",
				Help: "Retries performed after a throttled response",
			},
			[]string{"call"},
		)

		QuotaExhaustedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigilant_quota_exhausted_total",
				Help: "Calls that gave up after exhausting the throttle retry budget",
			},
			[]string{"call"},
		)

		ClausesRetrieved = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigilant_clauses_in_context",
			Help:    "Size of the deduplicated clause set handed to reasoning",
			Buckets: prometheus.LinearBuckets(0, 10, 10),
		})

		registry.MustRegister(
			StageDuration,
			StageFailures,
			PipelineOutcomes,
			ActivePipelines,
			RetriesTotal,
			QuotaExhaustedTotal,
			ClausesRetrieved,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func ObserveStage(stage, status string, d time.Duration) {
	Init()
	StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func ObserveFailure(stage, kind string) {
	Init()
	StageFailures.WithLabelValues(stage, kind).Inc()
}

func ObserveOutcome(mode, outcome string) {
	Init()
	PipelineOutcomes.WithLabelValues(mode, outcome).Inc()
}

func ObserveRetry(call string) {
	Init()
	RetriesTotal.WithLabelValues(call).Inc()
}

func ObserveQuotaExhausted(call string) {
	Init()
	QuotaExhaustedTotal.WithLabelValues(call).Inc()
}

func ObserveClauseSet(n int) {
	Init()
	ClausesRetrieved.Observe(float64(n))
}

// TrackActive increments the in-flight gauge and returns its decrement.
func TrackActive() func() {
	Init()
	ActivePipelines.Inc()
	return ActivePipelines.Dec
}
