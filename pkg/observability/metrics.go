// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the realtime client, plus a small HTTP server exposing
// /metrics and /health for operating it.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inbound protocol metrics
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verssai_frames_total",
			Help: "Total number of inbound frames dispatched, by frame type",
		},
		[]string{"type"},
	)

	framesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verssai_frames_dropped_total",
			Help: "Total number of inbound frames dropped, by reason",
		},
		[]string{"reason"},
	)

	// Connection metrics
	connectionUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "verssai_connection_up",
			Help: "1 while the socket is connected, 0 otherwise",
		},
	)

	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "verssai_reconnects_total",
			Help: "Total number of reconnect attempts scheduled",
		},
	)

	stateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verssai_connection_transitions_total",
			Help: "Total number of connection state transitions, by new state",
		},
		[]string{"state"},
	)

	// Outbound command metrics
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verssai_commands_total",
			Help: "Total number of outbound commands, by command type and outcome",
		},
		[]string{"command", "outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "verssai_command_queue_depth",
			Help: "Number of commands queued while disconnected",
		},
	)

	queryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verssai_query_duration_seconds",
			Help:    "Retrieval query round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Session metrics
	sessionsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "verssai_sessions",
			Help: "Number of tracked workflow sessions, by status",
		},
		[]string{"status"},
	)

	initOnce sync.Once
)

// InitMetrics registers all client metrics with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			framesTotal,
			framesDroppedTotal,
			connectionUp,
			reconnectsTotal,
			stateTransitionsTotal,
			commandsTotal,
			queueDepth,
			queryDuration,
			sessionsByStatus,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordFrame records a dispatched inbound frame.
func RecordFrame(frameType string) {
	framesTotal.WithLabelValues(frameType).Inc()
}

// RecordFrameDrop records a dropped inbound frame.
func RecordFrameDrop(reason string) {
	framesDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordStateChange records a connection state transition.
func RecordStateChange(state string, connected bool) {
	stateTransitionsTotal.WithLabelValues(state).Inc()
	if connected {
		connectionUp.Set(1)
	} else {
		connectionUp.Set(0)
	}
}

// RecordReconnectAttempt counts a scheduled reconnect attempt.
func RecordReconnectAttempt() {
	reconnectsTotal.Inc()
}

// RecordCommand records an outbound command outcome
// ("sent", "queued", or "rejected").
func RecordCommand(command, outcome string) {
	commandsTotal.WithLabelValues(command, outcome).Inc()
}

// SetQueueDepth sets the disconnected command queue gauge.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordQueryDuration records a retrieval query round trip.
func RecordQueryDuration(d time.Duration) {
	queryDuration.Observe(d.Seconds())
}

// SetSessionCounts sets the per-status session gauges. Statuses absent from
// counts are reset to zero so finished sessions age out of the gauge.
func SetSessionCounts(counts map[string]int) {
	for _, status := range []string{"pending", "running", "completed", "failed", "cancelled"} {
		sessionsByStatus.WithLabelValues(status).Set(float64(counts[status]))
	}
}
