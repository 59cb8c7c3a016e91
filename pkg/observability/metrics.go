package observability

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Saga metrics
	SagaRunsTotal          *prometheus.CounterVec
	SagaDuration           *prometheus.HistogramVec
	SagaStepsTotal         *prometheus.CounterVec
	SagaCompensationsTotal *prometheus.CounterVec

	// Reconciliation metrics
	ReconcileCyclesTotal   *prometheus.CounterVec
	ReconcileCycleDuration prometheus.Histogram
	ReconcileEventsTotal   *prometheus.CounterVec

	// Identity provider metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		SagaRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onramp_saga_runs_total",
				Help: "Total number of saga runs",
			},
			[]string{"saga", "status"},
		),
		SagaDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onramp_saga_duration_seconds",
				Help:    "Saga run duration in seconds, compensation included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"saga"},
		),
		SagaStepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onramp_saga_steps_total",
				Help: "Total number of forward step executions",
			},
			[]string{"saga", "step", "status"},
		),
		SagaCompensationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onramp_saga_compensations_total",
				Help: "Total number of compensation executions",
			},
			[]string{"saga", "step", "status"},
		),

		ReconcileCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onramp_reconcile_cycles_total",
				Help: "Total number of reconciliation cycles",
			},
			[]string{"status"},
		),
		ReconcileCycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "onramp_reconcile_cycle_duration_seconds",
				Help:    "Reconciliation cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ReconcileEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onramp_reconcile_events_total",
				Help: "Total number of registration events processed",
			},
			[]string{"status"},
		),

		ProviderRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onramp_provider_requests_total",
				Help: "Total number of identity provider API requests",
			},
			[]string{"operation", "status"},
		),
		ProviderRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onramp_provider_request_duration_seconds",
				Help:    "Identity provider API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "onramp_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "onramp_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.SagaRunsTotal,
		m.SagaDuration,
		m.SagaStepsTotal,
		m.SagaCompensationsTotal,
		m.ReconcileCyclesTotal,
		m.ReconcileCycleDuration,
		m.ReconcileEventsTotal,
		m.ProviderRequestsTotal,
		m.ProviderRequestDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSagaRun records a completed saga run
func (m *Metrics) RecordSagaRun(saga, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SagaRunsTotal.WithLabelValues(saga, status).Inc()
	m.SagaDuration.WithLabelValues(saga).Observe(duration.Seconds())
}

// RecordSagaStep records a forward step execution
func (m *Metrics) RecordSagaStep(saga, step, status string) {
	if m == nil {
		return
	}
	m.SagaStepsTotal.WithLabelValues(saga, step, status).Inc()
}

// RecordSagaCompensation records a compensation execution
func (m *Metrics) RecordSagaCompensation(saga, step, status string) {
	if m == nil {
		return
	}
	m.SagaCompensationsTotal.WithLabelValues(saga, step, status).Inc()
}

// RecordReconcileCycle records a completed reconciliation cycle
func (m *Metrics) RecordReconcileCycle(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ReconcileCyclesTotal.WithLabelValues(status).Inc()
	m.ReconcileCycleDuration.Observe(duration.Seconds())
}

// RecordReconcileEvent records the outcome of one registration event
func (m *Metrics) RecordReconcileEvent(status string) {
	if m == nil {
		return
	}
	m.ReconcileEventsTotal.WithLabelValues(status).Inc()
}

// RecordProviderRequest records an identity provider API call
func (m *Metrics) RecordProviderRequest(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequestsTotal.WithLabelValues(operation, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateDBStats updates the database connection pool gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}
