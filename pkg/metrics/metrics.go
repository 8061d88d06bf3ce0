// Package metrics exposes the Prometheus surface of the AAA core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Accounting metrics
	acctEventsTotal *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	sessionDuration prometheus.Histogram

	// Retention metrics
	retentionDeleted prometheus.Counter
	retentionSweeps  *prometheus.CounterVec

	// Storage metrics
	storageRetryable prometheus.Counter

	logger *zap.Logger
}

// New creates a new Metrics instance
func New(logger *zap.Logger) *Metrics {
	return &Metrics{
		logger: logger,

		acctEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aaad_accounting_events_total",
				Help: "Accounting events by type and result",
			},
			[]string{"event", "result"},
		),

		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "aaad_sessions_active",
				Help: "Number of open accounting sessions",
			},
		),

		sessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aaad_session_duration_seconds",
				Help:    "Duration of closed sessions",
				Buckets: []float64{60, 300, 900, 3600, 14400, 43200, 86400, 604800},
			},
		),

		retentionDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aaad_retention_deleted_total",
				Help: "Closed sessions deleted by the retention sweep",
			},
		),

		retentionSweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aaad_retention_sweeps_total",
				Help: "Retention sweeps by result",
			},
			[]string{"result"},
		),

		storageRetryable: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aaad_storage_retryable_errors_total",
				Help: "Retryable storage contention errors",
			},
		),
	}
}

// Register registers all metrics with Prometheus
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.acctEventsTotal,
		m.sessionsActive,
		m.sessionDuration,
		m.retentionDeleted,
		m.retentionSweeps,
		m.storageRetryable,
	}

	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			// Ignore already registered errors
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	return nil
}

// RecordAccountingEvent records an accounting event outcome. event is
// one of "start", "interim", "stop"; result is "ok" or the rejection
// kind.
func (m *Metrics) RecordAccountingEvent(event, result string) {
	m.acctEventsTotal.WithLabelValues(event, result).Inc()
}

// SetActiveSessions sets the open session gauge.
func (m *Metrics) SetActiveSessions(count int) {
	m.sessionsActive.Set(float64(count))
}

// RecordSessionClosed records a session reaching its terminal state.
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	m.sessionDuration.Observe(durationSeconds)
}

// RecordRetentionSweep records the outcome of a retention sweep.
func (m *Metrics) RecordRetentionSweep(deleted int, err error) {
	if err != nil {
		m.retentionSweeps.WithLabelValues("error").Inc()
		return
	}
	m.retentionSweeps.WithLabelValues("ok").Inc()
	m.retentionDeleted.Add(float64(deleted))
}

// RecordStorageRetryable records a retryable storage contention error.
func (m *Metrics) RecordStorageRetryable() {
	m.storageRetryable.Inc()
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts the metrics HTTP server. Blocks until the listener
// fails.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.logger.Info("Metrics server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}
