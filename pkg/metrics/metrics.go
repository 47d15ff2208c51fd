// Package metrics holds the Prometheus collectors of an analysis run.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "anova"

// Run results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultCached  = "cached"
)

// Cache outcomes.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics holds Prometheus metrics for the analysis pipeline
type Metrics struct {
	runsTotal     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	cacheRequests *prometheus.CounterVec
	observations  prometheus.Gauge
	modelsFitted  prometheus.Counter
}

// New registers the collectors on reg. Each registry can hold one Metrics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of analysis runs by result.",
			},
			[]string{"result"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"stage"},
		),
		cacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Report cache lookups by outcome.",
			},
			[]string{"outcome"},
		),
		observations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "observations",
				Help:      "Number of observations in the most recently loaded dataset.",
			},
		),
		modelsFitted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "models_fitted_total",
				Help:      "Total number of ANOVA models fitted.",
			},
		),
	}
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(result string) {
	m.runsTotal.WithLabelValues(result).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordCache counts a report cache lookup.
func (m *Metrics) RecordCache(outcome string) {
	m.cacheRequests.WithLabelValues(outcome).Inc()
}

// SetObservations sets the dataset size gauge.
func (m *Metrics) SetObservations(n int) {
	m.observations.Set(float64(n))
}

// RecordModelFit increments the fitted model counter.
func (m *Metrics) RecordModelFit() {
	m.modelsFitted.Inc()
}

// Handler serves the gatherer's metrics in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RegisterMetrics exposes the gatherer's metrics on /metrics.
func RegisterMetrics(mux *http.ServeMux, g prometheus.Gatherer) {
	mux.Handle("/metrics", Handler(g))
}

// WriteTextfile writes the gatherer's metrics to path for the node exporter
// textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}
