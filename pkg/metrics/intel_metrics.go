// Package metrics exposes pipeline counters and connection pool health.
package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "intel"

// Outcomes of one message inside an ingestion run.
const (
	OutcomeAnalyzed    = "analyzed"
	OutcomeFallback    = "fallback"
	OutcomeFailed      = "failed"
	OutcomeSkipped     = "skipped"
	OutcomeRateLimited = "rate_limited"
)

// Stages timed per message.
const (
	StageFetch   = "fetch"
	StageAnalyze = "analyze"
	StageEmbed   = "embed"
	StagePersist = "persist"
)

// =============================================================================
// Ingestion Metrics
// =============================================================================

// IngestMetrics records ingestion progress. A nil *IngestMetrics is a no-op.
type IngestMetrics struct {
	messages *prometheus.CounterVec
	runs     *prometheus.CounterVec
	stages   *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewIngestMetrics registers the collectors on reg.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Messages handled by ingestion, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Finished ingestion runs, by mode and status.",
		}, []string{"mode", "status"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Per-message stage latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_in_flight",
			Help:      "Ingestion runs currently executing.",
		}),
	}
	reg.MustRegister(m.messages, m.runs, m.stages, m.inFlight)
	return m
}

func (m *IngestMetrics) Message(mode, outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(mode, outcome).Inc()
}

// AddSkipped counts ids dropped by deduplication.
func (m *IngestMetrics) AddSkipped(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messages.WithLabelValues(mode, OutcomeSkipped).Add(float64(n))
}

func (m *IngestMetrics) Stage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(stage).Observe(d.Seconds())
}

// RunStarted returns a func that marks the run finished with a status.
func (m *IngestMetrics) RunStarted(mode string) func(status string) {
	if m == nil {
		return func(string) {}
	}
	m.inFlight.Inc()
	return func(status string) {
		m.inFlight.Dec()
		m.runs.WithLabelValues(mode, status).Inc()
	}
}

// =============================================================================
// Database Pool Health
// =============================================================================

// DBPoolStats holds database connection pool statistics.
type DBPoolStats struct {
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	MaxOpenConnections int           `json:"max_open_connections"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// GetDBPoolStats retrieves pool statistics from a sql.DB instance.
func GetDBPoolStats(db *sql.DB) DBPoolStats {
	if db == nil {
		return DBPoolStats{}
	}
	stats := db.Stats()
	return DBPoolStats{
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		MaxOpenConnections: stats.MaxOpenConnections,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}
}

type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

type PoolHealth struct {
	Status      PoolHealthStatus `json:"status"`
	Utilization float64          `json:"utilization"` // 0.0 - 1.0
	Message     string           `json:"message,omitempty"`
}

// AssessDBPoolHealth evaluates the health of a database pool.
func AssessDBPoolHealth(stats DBPoolStats) PoolHealth {
	if stats.MaxOpenConnections == 0 {
		return PoolHealth{Status: PoolHealthy, Message: "unlimited connections"}
	}

	utilization := float64(stats.InUse) / float64(stats.MaxOpenConnections)

	health := PoolHealth{Status: PoolHealthy, Utilization: utilization, Message: "pool operating normally"}
	switch {
	case utilization >= 0.95:
		health.Status, health.Message = PoolUnhealthy, "pool nearly exhausted"
	case utilization >= 0.80:
		health.Status, health.Message = PoolDegraded, "high pool utilization"
	}

	if stats.WaitCount > 0 && stats.WaitDuration > 5*time.Second {
		if health.Status == PoolHealthy {
			health.Status = PoolDegraded
		}
		health.Message = "elevated connection wait times"
	}
	return health
}

// RegisterDBPool exports the pool gauges of db under the given name.
func RegisterDBPool(reg prometheus.Registerer, name string, db *sql.DB) {
	labels := prometheus.Labels{"pool": name}
	gauge := func(metric, help string, value func(DBPoolStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "db",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return value(GetDBPoolStats(db)) })
	}
	reg.MustRegister(
		gauge("open_connections", "Open connections.", func(s DBPoolStats) float64 { return float64(s.OpenConnections) }),
		gauge("in_use_connections", "Connections in use.", func(s DBPoolStats) float64 { return float64(s.InUse) }),
		gauge("wait_count", "Total waits for a connection.", func(s DBPoolStats) float64 { return float64(s.WaitCount) }),
	)
}
