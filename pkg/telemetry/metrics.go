package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for cfgport.
type Metrics struct {
	config MetricsConfig

	// Operation metrics (export, import, orphan scan)
	operationsStarted   *prometheus.CounterVec
	operationsCompleted *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec

	// Entity metrics
	entitiesExported *prometheus.CounterVec
	entitiesImported *prometheus.CounterVec
	entityDuration   *prometheus.HistogramVec
	importConflicts  *prometheus.CounterVec

	// Orphan metrics
	orphansFound   *prometheus.GaugeVec
	orphansRemoved *prometheus.CounterVec

	// Transport metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// System metrics
	activeOperations prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_started_total",
				Help:      "Total number of export, import and orphan operations started",
			},
			[]string{"operation"},
		),
		operationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_completed_total",
				Help:      "Total number of operations completed",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		entitiesExported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_exported_total",
				Help:      "Total number of entities exported",
			},
			[]string{"entity_type", "outcome"},
		),
		entitiesImported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_imported_total",
				Help:      "Total number of entities imported",
			},
			[]string{"entity_type", "outcome"},
		),
		entityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "entity_apply_duration_seconds",
				Help:      "Duration of applying a single entity in seconds",
				Buckets:   buckets,
			},
			[]string{"entity_type"},
		),
		importConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "import_conflicts_total",
				Help:      "Total number of name and id conflicts met during import",
			},
			[]string{"entity_type", "kind"},
		),

		orphansFound: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "orphaned_nodes",
				Help:      "Number of orphaned nodes found by the last scan",
			},
			[]string{"realm"},
		),
		orphansRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphans_removed_total",
				Help:      "Total number of orphaned node deletions",
			},
			[]string{"outcome"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of requests sent to the target",
			},
			[]string{"method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of requests sent to the target in seconds",
				Buckets:   buckets,
			},
			[]string{"method"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by error kind",
			},
			[]string{"kind"},
		),

		activeOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_operations",
				Help:      "Current number of running operations",
			},
		),
	}

	registry.MustRegister(
		m.operationsStarted,
		m.operationsCompleted,
		m.operationDuration,
		m.entitiesExported,
		m.entitiesImported,
		m.entityDuration,
		m.importConflicts,
		m.orphansFound,
		m.orphansRemoved,
		m.httpRequests,
		m.httpRequestDuration,
		m.errorsByKind,
		m.activeOperations,
	)

	return m, nil
}

// Operation Metrics

// RecordOperationStarted increments the counter for started operations.
func (m *Metrics) RecordOperationStarted(operation string) {
	if m == nil || m.operationsStarted == nil {
		return
	}
	m.operationsStarted.WithLabelValues(operation).Inc()
	m.activeOperations.Inc()
}

// RecordOperationCompleted records a completed operation with its status and duration.
func (m *Metrics) RecordOperationCompleted(operation, status string, duration time.Duration) {
	if m == nil || m.operationsCompleted == nil {
		return
	}
	m.operationsCompleted.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.activeOperations.Dec()
}

// Entity Metrics

// RecordEntityExported records one exported entity.
func (m *Metrics) RecordEntityExported(entityType, outcome string) {
	if m == nil || m.entitiesExported == nil {
		return
	}
	m.entitiesExported.WithLabelValues(entityType, outcome).Inc()
}

// RecordEntityImported records one applied entity with its duration.
func (m *Metrics) RecordEntityImported(entityType, outcome string, duration time.Duration) {
	if m == nil || m.entitiesImported == nil {
		return
	}
	m.entitiesImported.WithLabelValues(entityType, outcome).Inc()
	m.entityDuration.WithLabelValues(entityType).Observe(duration.Seconds())
}

// RecordConflict records a name or id conflict met during import.
func (m *Metrics) RecordConflict(entityType, kind string) {
	if m == nil || m.importConflicts == nil {
		return
	}
	m.importConflicts.WithLabelValues(entityType, kind).Inc()
}

// Orphan Metrics

// SetOrphansFound sets the orphan count of the last scan of a realm.
func (m *Metrics) SetOrphansFound(realm string, count int) {
	if m == nil || m.orphansFound == nil {
		return
	}
	m.orphansFound.WithLabelValues(realm).Set(float64(count))
}

// RecordOrphanRemoval records one orphan deletion attempt.
func (m *Metrics) RecordOrphanRemoval(outcome string) {
	if m == nil || m.orphansRemoved == nil {
		return
	}
	m.orphansRemoved.WithLabelValues(outcome).Inc()
}

// Transport Metrics

// RecordHTTPRequest records one request to the target. Status 0 means no response.
func (m *Metrics) RecordHTTPRequest(method string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, fmt.Sprintf("%d", status)).Inc()
	m.httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m == nil || m.errorsByKind == nil || kind == "" {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Registry returns the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() (*http.Server, error) {
	if !m.config.Enabled {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return server, nil
}
