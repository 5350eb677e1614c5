package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Store metrics
	StoreOpsTotal   *prometheus.CounterVec
	StoreOpDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Consistency metrics
	ConflictsTotal *prometheus.CounterVec

	// Engine metrics
	HistoryAppends   *prometheus.CounterVec
	EntityCreations  *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
}

// NewMetrics creates Prometheus metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metastore_requests_total",
				Help: "Total number of API requests processed",
			},
			[]string{"method", "route", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metastore_request_duration_seconds",
				Help:    "Duration of API request processing",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		StoreOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metastore_store_operations_total",
				Help: "Total number of backing store operations",
			},
			[]string{"operation", "result"},
		),

		StoreOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metastore_store_operation_duration_seconds",
				Help:    "Duration of backing store operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metastore_cache_hits_total",
				Help: "Total number of record cache hits",
			},
			[]string{"record"},
		),

		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metastore_cache_misses_total",
				Help: "Total number of record cache misses",
			},
			[]string{"record"},
		),

		ConflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metastore_cas_conflicts_total",
				Help: "Total number of version conflicts on conditional writes",
			},
			[]string{"record"},
		),

		HistoryAppends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metastore_history_appends_total",
				Help: "Total number of history append attempts by outcome",
			},
			[]string{"outcome"},
		),

		EntityCreations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metastore_entity_creations_total",
				Help: "Total number of entity creation attempts by status",
			},
			[]string{"status"},
		),

		StateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metastore_state_transitions_total",
				Help: "Total number of lifecycle state transitions",
			},
			[]string{"from", "to"},
		),
	}
}

// RecordRequest records an API request
func (m *Metrics) RecordRequest(method, route, status string, duration float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration)
}

// RecordStoreOp records a backing store call
func (m *Metrics) RecordStoreOp(operation, result string, duration float64) {
	if m == nil {
		return
	}
	m.StoreOpsTotal.WithLabelValues(operation, result).Inc()
	m.StoreOpDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit(record string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(record).Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(record string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(record).Inc()
}

// RecordConflict records a version conflict
func (m *Metrics) RecordConflict(record string) {
	if m == nil {
		return
	}
	m.ConflictsTotal.WithLabelValues(record).Inc()
}

// RecordHistoryAppend records a history append outcome
func (m *Metrics) RecordHistoryAppend(outcome string) {
	if m == nil {
		return
	}
	m.HistoryAppends.WithLabelValues(outcome).Inc()
}

// RecordEntityCreation records the status of a create call
func (m *Metrics) RecordEntityCreation(status string) {
	if m == nil {
		return
	}
	m.EntityCreations.WithLabelValues(status).Inc()
}

// RecordStateTransition records a successful state change
func (m *Metrics) RecordStateTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}
