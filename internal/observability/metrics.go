// Package observability exposes Prometheus metrics for the scheduler,
// the result cache, and the UCS request pipeline.
package observability

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process's Prometheus collectors.
type Metrics struct {
	UCSRequestsTotal   *prometheus.CounterVec
	UCSRequestDuration *prometheus.HistogramVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	SchedulerInflight      prometheus.Gauge
	SchedulerCap           prometheus.Gauge
	SchedulerActiveUsers   prometheus.Gauge
	SchedulerTasksDispatch *prometheus.CounterVec

	registry *prometheus.Registry
	logger   *slog.Logger
}

// NewMetrics registers all collectors against a fresh registry.
func NewMetrics(logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		UCSRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ucsbridge_ucs_requests_total",
			Help: "Total UCS requests by outcome.",
		}, []string{"op", "outcome"}),
		UCSRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ucsbridge_ucs_request_duration_seconds",
			Help:    "UCS request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ucsbridge_cache_hits_total",
			Help: "Total result cache hits.",
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ucsbridge_cache_misses_total",
			Help: "Total result cache misses.",
		}),
		SchedulerInflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ucsbridge_scheduler_inflight",
			Help: "Current number of inflight scheduled tasks.",
		}),
		SchedulerCap: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ucsbridge_scheduler_cap",
			Help: "Current adaptive concurrency cap.",
		}),
		SchedulerActiveUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ucsbridge_scheduler_active_users",
			Help: "Current number of users with queued or inflight work.",
		}),
		SchedulerTasksDispatch: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ucsbridge_scheduler_tasks_total",
			Help: "Total scheduled tasks dispatched, by outcome.",
		}, []string{"outcome"}),
		registry: reg,
		logger:   logger.With("component", "metrics"),
	}
}

// Handler returns the promhttp handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts a dedicated metrics HTTP server on port, serving at path.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}
