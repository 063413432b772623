package fractor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry exports the fixed set of operational metric families, scraping a
// prometheus.Registry directly rather than going through an OTel bridge.
type MetricsRegistry struct {
	registry *prometheus.Registry

	JobsProcessed  prometheus.Counter
	JobsSucceeded  prometheus.Counter
	JobsFailed     prometheus.Counter
	ErrorsTotal    prometheus.Counter
	SuccessesTotal prometheus.Counter

	ErrorRate         prometheus.Gauge
	WorkersTotal      prometheus.Gauge
	WorkersActive     prometheus.Gauge
	WorkerUtilization prometheus.Gauge

	LatencySeconds prometheus.Summary

	ErrorsBySeverity *prometheus.CounterVec
	ErrorsByCategory *prometheus.CounterVec
}

// NewMetricsRegistry constructs and registers every metric family.
func NewMetricsRegistry() *MetricsRegistry {
	reg := prometheus.NewRegistry()
	m := &MetricsRegistry{
		registry: reg,
		JobsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fractor_jobs_processed_total",
			Help: "Total work items processed by all workers.",
		}),
		JobsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fractor_jobs_succeeded_total",
			Help: "Total work items that completed successfully.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fractor_jobs_failed_total",
			Help: "Total work items that completed with an error.",
		}),
		ErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fractor_errors_total",
			Help: "Total error results observed across all components.",
		}),
		SuccessesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fractor_successes_total",
			Help: "Total success results observed across all components.",
		}),
		ErrorRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fractor_error_rate",
			Help: "Fraction of processed work items that failed, updated on each observation.",
		}),
		WorkersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fractor_workers_total",
			Help: "Total configured worker actors across the pool.",
		}),
		WorkersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fractor_workers_active",
			Help: "Worker actors currently busy processing work.",
		}),
		WorkerUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fractor_worker_utilization",
			Help: "Fraction of worker actors currently busy.",
		}),
		LatencySeconds: prometheus.NewSummary(prometheus.SummaryOpts{
			Name:       "fractor_latency_seconds",
			Help:       "Work item processing latency in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.95: 0.005, 0.99: 0.001},
		}),
		ErrorsBySeverity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fractor_errors_by_severity",
			Help: "Error results partitioned by severity.",
		}, []string{"severity"}),
		ErrorsByCategory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fractor_errors_by_category",
			Help: "Error results partitioned by category.",
		}, []string{"category"}),
	}
	reg.MustRegister(
		m.JobsProcessed, m.JobsSucceeded, m.JobsFailed, m.ErrorsTotal, m.SuccessesTotal,
		m.ErrorRate, m.WorkersTotal, m.WorkersActive, m.WorkerUtilization,
		m.LatencySeconds, m.ErrorsBySeverity, m.ErrorsByCategory,
	)
	return m
}

// Observe updates counters/summary from a single WorkResult and its processing latency.
func (m *MetricsRegistry) Observe(result WorkResult, latencySeconds float64) {
	m.JobsProcessed.Inc()
	m.LatencySeconds.Observe(latencySeconds)
	if result.Success {
		m.JobsSucceeded.Inc()
		m.SuccessesTotal.Inc()
		return
	}
	m.JobsFailed.Inc()
	m.ErrorsTotal.Inc()
	m.ErrorsBySeverity.WithLabelValues(string(result.ErrorSeverity)).Inc()
	m.ErrorsByCategory.WithLabelValues(string(result.ErrorCategory)).Inc()
}

// ObserveWorkers sets the worker gauges from a live idle/total count.
func (m *MetricsRegistry) ObserveWorkers(idle, total int) {
	active := total - idle
	m.WorkersTotal.Set(float64(total))
	m.WorkersActive.Set(float64(active))
	if total > 0 {
		m.WorkerUtilization.Set(float64(active) / float64(total))
	}
}

// SetErrorRate records a pre-computed failure fraction, e.g. from AggregatedStats.
func (m *MetricsRegistry) SetErrorRate(rate float64) {
	m.ErrorRate.Set(rate)
}

// Handler returns the Prometheus text-format scrape endpoint for this registry.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
