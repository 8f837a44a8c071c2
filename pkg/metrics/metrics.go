// Package metrics exposes Prometheus counters and histograms for the
// node's task, migration, and audit subsystems (spec.md §6, "GET
// /metrics"). Grounded on the teacher's pkg/observability/metrics.go:
// same nil-receiver-is-a-no-op shape, same per-subsystem init methods
// registering into a private *prometheus.Registry, same Handler()
// method for wiring into an HTTP mux.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flock"

// Metrics holds the node's Prometheus collectors. A nil *Metrics is
// valid and every Record*/Set* method on it is a no-op, so callers
// that did not configure metrics never need a nil check of their own.
type Metrics struct {
	registry *prometheus.Registry

	taskCompletions *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec

	migrationPhaseDuration *prometheus.HistogramVec
	migrationOutcomes      *prometheus.CounterVec
	migrationsActive       prometheus.Gauge

	auditEvents *prometheus.CounterVec

	a2aRequests *prometheus.CounterVec
	a2aDuration *prometheus.HistogramVec

	loopTicks *prometheus.CounterVec
	loopWakes *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.initTaskMetrics()
	m.initMigrationMetrics()
	m.initAuditMetrics()
	m.initA2AMetrics()
	m.initLoopMetrics()
	return m
}

func (m *Metrics) initTaskMetrics() {
	m.taskCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "completions_total",
			Help:      "Total number of task executions by outcome",
		},
		[]string{"agent_id", "outcome"},
	)

	m.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Task execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"agent_id"},
	)

	m.registry.MustRegister(m.taskCompletions, m.taskDuration)
}

func (m *Metrics) initMigrationMetrics() {
	m.migrationPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "migration",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each migration phase in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"phase"},
	)

	m.migrationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "migration",
			Name:      "outcomes_total",
			Help:      "Total number of migrations by terminal outcome",
		},
		[]string{"outcome"},
	)

	m.migrationsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "migration",
			Name:      "active",
			Help:      "Number of migrations currently in flight",
		},
	)

	m.registry.MustRegister(m.migrationPhaseDuration, m.migrationOutcomes, m.migrationsActive)
}

func (m *Metrics) initAuditMetrics() {
	m.auditEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Total number of audit log entries by level",
		},
		[]string{"level"},
	)

	m.registry.MustRegister(m.auditEvents)
}

func (m *Metrics) initA2AMetrics() {
	m.a2aRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "a2a",
			Name:      "requests_total",
			Help:      "Total number of A2A JSON-RPC requests by method and result code",
		},
		[]string{"method", "code"},
	)

	m.a2aDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "a2a",
			Name:      "request_duration_seconds",
			Help:      "A2A JSON-RPC request handling duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.registry.MustRegister(m.a2aRequests, m.a2aDuration)
}

func (m *Metrics) initLoopMetrics() {
	m.loopTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "ticks_total",
			Help:      "Total number of mesh scheduler ticks",
		},
		[]string{"node_id"},
	)

	m.loopWakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "wakes_total",
			Help:      "Total number of agents transitioned SLEEP to AWAKE",
		},
		[]string{"reason"},
	)

	m.registry.MustRegister(m.loopTicks, m.loopWakes)
}

// RecordTaskCompletion records a task execution outcome and duration.
func (m *Metrics) RecordTaskCompletion(agentID, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskCompletions.WithLabelValues(agentID, outcome).Inc()
	m.taskDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

// RecordMigrationPhase records how long one migration phase took.
func (m *Metrics) RecordMigrationPhase(phase string, duration time.Duration) {
	if m == nil {
		return
	}
	m.migrationPhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordMigrationOutcome records a migration reaching a terminal state.
func (m *Metrics) RecordMigrationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.migrationOutcomes.WithLabelValues(outcome).Inc()
}

// SetMigrationsActive sets the number of in-flight migrations.
func (m *Metrics) SetMigrationsActive(count int) {
	if m == nil {
		return
	}
	m.migrationsActive.Set(float64(count))
}

// RecordAuditEvent records one audit log entry at the given level.
func (m *Metrics) RecordAuditEvent(level string) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(level).Inc()
}

// RecordA2ARequest records an A2A JSON-RPC request's result code and duration.
func (m *Metrics) RecordA2ARequest(method, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.a2aRequests.WithLabelValues(method, code).Inc()
	m.a2aDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordLoopTick records one mesh scheduler tick for a node.
func (m *Metrics) RecordLoopTick(nodeID string) {
	if m == nil {
		return
	}
	m.loopTicks.WithLabelValues(nodeID).Inc()
}

// RecordLoopWake records an agent transitioning from SLEEP to AWAKE.
func (m *Metrics) RecordLoopWake(reason string) {
	if m == nil {
		return
	}
	m.loopWakes.WithLabelValues(reason).Inc()
}

// Handler returns an HTTP handler serving this Metrics' registry in
// Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
