// Package metrics provides Prometheus metrics for budgetstore
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for budgetstore
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Version graph metrics
	VersionOperationsTotal   *prometheus.CounterVec
	VersionOperationDuration *prometheus.HistogramVec
	MergeConflictsTotal      prometheus.Counter

	// Reconstruction metrics
	ReconstructionsTotal   *prometheus.CounterVec
	ReconstructionDuration *prometheus.HistogramVec
	HeldChangesTotal       prometheus.Counter
	FeedUpdatesTotal       *prometheus.CounterVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsExpired prometheus.Counter

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates all metrics and registers them on reg.
// A nil reg registers on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// gRPC request metrics
	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetstore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "budgetstore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "budgetstore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	// Version graph metrics
	m.VersionOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetstore_version_operations_total",
			Help: "Total number of version graph operations",
		},
		[]string{"operation", "status"},
	)

	m.VersionOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "budgetstore_version_operation_duration_seconds",
			Help:    "Duration of version graph operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.MergeConflictsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "budgetstore_merge_conflicts_total",
			Help: "Total number of conflicts detected while merging",
		},
	)

	// Reconstruction metrics
	m.ReconstructionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetstore_reconstructions_total",
			Help: "Total number of budget reconstructions",
		},
		[]string{"strategy", "status"},
	)

	m.ReconstructionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "budgetstore_reconstruction_duration_seconds",
			Help:    "Duration of budget reconstructions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	m.HeldChangesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "budgetstore_held_changes_total",
			Help: "Total number of changes held back by active seller sessions",
		},
	)

	m.FeedUpdatesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetstore_feed_updates_total",
			Help: "Total number of provider feed updates processed",
		},
		[]string{"status"},
	)

	// Session metrics
	m.SessionsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "budgetstore_sessions_active",
			Help: "Number of open seller sessions",
		},
	)

	m.SessionsStarted = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "budgetstore_sessions_started_total",
			Help: "Total number of seller sessions started",
		},
	)

	m.SessionsExpired = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "budgetstore_sessions_swept_total",
			Help: "Total number of closed sessions removed by the sweeper",
		},
	)

	// Server metrics
	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "budgetstore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// RunUptime updates the uptime gauge until stop is closed
func (m *Metrics) RunUptime(stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordVersionOperation records a version graph operation
func (m *Metrics) RecordVersionOperation(operation string, err error, duration time.Duration) {
	m.VersionOperationsTotal.WithLabelValues(operation, status(err)).Inc()
	m.VersionOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordReconstruction records a finished reconstruction
func (m *Metrics) RecordReconstruction(strategy string, held int, err error, duration time.Duration) {
	m.ReconstructionsTotal.WithLabelValues(strategy, status(err)).Inc()
	m.ReconstructionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	m.HeldChangesTotal.Add(float64(held))
}

// RecordFeedUpdate records one provider feed update
func (m *Metrics) RecordFeedUpdate(err error) {
	m.FeedUpdatesTotal.WithLabelValues(status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
