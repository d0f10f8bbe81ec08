// Package metrics exposes the process's Prometheus instruments. All
// recording methods are nil-safe so callers can carry an optional handle.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the orchestration counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	epicsRegistered   prometheus.Counter
	subTasksCompleted prometheus.Counter
	subTasksFailed    prometheus.Counter
	subTasksInFlight  prometheus.Gauge
	subTaskDuration   prometheus.Histogram
}

// New creates the instruments and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		epicsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warren_epics_registered_total",
			Help: "Epics registered since process start.",
		}),
		subTasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warren_subtasks_completed_total",
			Help: "Sub-tasks that completed successfully.",
		}),
		subTasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warren_subtasks_failed_total",
			Help: "Sub-tasks that failed, including cancellations and permission denials.",
		}),
		subTasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warren_subtasks_in_flight",
			Help: "Work functions currently running.",
		}),
		subTaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warren_subtask_duration_seconds",
			Help:    "Wall time of executed work functions.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
	m.registry.MustRegister(
		m.epicsRegistered,
		m.subTasksCompleted,
		m.subTasksFailed,
		m.subTasksInFlight,
		m.subTaskDuration,
	)
	return m
}

// EpicRegistered records one registered epic.
func (m *Metrics) EpicRegistered() {
	if m == nil {
		return
	}
	m.epicsRegistered.Inc()
}

// SubTaskStarted records a work function entering execution.
func (m *Metrics) SubTaskStarted() {
	if m == nil {
		return
	}
	m.subTasksInFlight.Inc()
}

// SubTaskCompleted records a successful execution that took d.
func (m *Metrics) SubTaskCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.subTasksInFlight.Dec()
	m.subTasksCompleted.Inc()
	m.subTaskDuration.Observe(d.Seconds())
}

// SubTaskFailed records a failed execution that took d.
func (m *Metrics) SubTaskFailed(d time.Duration) {
	if m == nil {
		return
	}
	m.subTasksInFlight.Dec()
	m.subTasksFailed.Inc()
	m.subTaskDuration.Observe(d.Seconds())
}

// SubTaskFailedBeforeStart records a sub-task failed without ever running,
// e.g. a cancellation skip or a permission denial.
func (m *Metrics) SubTaskFailedBeforeStart() {
	if m == nil {
		return
	}
	m.subTasksFailed.Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve runs a /metrics endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
