// Package metrics exposes Prometheus collectors for query and integrity job
// activity.
//
// Collectors are registered on a registry owned by the Collector rather than
// the global default, so several engines can coexist in one process (tests).
//
//	gist_queries_total{type,mode,outcome}
//	gist_query_duration_seconds{type,mode}
//	gist_integrity_jobs_total{type,status}
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeInternal = "internal"
	OutcomeCanceled = "canceled"
)

// Collector records engine activity.
type Collector struct {
	registry      *prometheus.Registry
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	jobs          *prometheus.CounterVec
}

// NewCollector creates collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gist",
			Name:      "queries_total",
			Help:      "Total number of gist queries, by entity type, hierarchy mode and outcome.",
		}, []string{"type", "mode", "outcome"}),
		queryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gist",
			Name:      "query_duration_seconds",
			Help:      "Latency distribution of gist queries, by entity type and hierarchy mode.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"type", "mode"}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gist",
			Name:      "integrity_jobs_total",
			Help:      "Total number of finished integrity jobs, by entity type and final status.",
		}, []string{"type", "status"}),
	}
}

// ObserveQuery records one finished query.
func (c *Collector) ObserveQuery(entityType, mode, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.queries.WithLabelValues(entityType, mode, outcome).Inc()
	c.queryDuration.WithLabelValues(entityType, mode).Observe(elapsed.Seconds())
}

// ObserveJob records one integrity job reaching a terminal status.
func (c *Collector) ObserveJob(entityType, status string) {
	if c == nil {
		return
	}
	c.jobs.WithLabelValues(entityType, status).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
