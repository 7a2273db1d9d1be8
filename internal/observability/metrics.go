// Package observability holds the process-wide prometheus metrics and the
// localhost debug server.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics with bounded cardinality (no per-room or per-player labels)
var (
	// Simulation metrics
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "game_tick_duration_seconds",
		Help:    "Time spent in one room simulation step",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
	})

	broadcastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "game_broadcast_duration_seconds",
		Help:    "Time spent building and emitting one room's snapshots",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
	})

	snapshotBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "game_snapshot_bytes",
		Help:    "Encoded size of per-client snapshots",
		Buckets: prometheus.ExponentialBuckets(64, 2, 10),
	})

	roomCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_rooms_active",
		Help: "Rooms currently running",
	})

	playerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_player_count",
		Help: "Players across all rooms",
	})

	eliminations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_eliminations_total",
		Help: "Players eliminated by collision",
	})

	afkKicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_afk_kicks_total",
		Help: "Players removed for inactivity",
	})

	roomPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_room_failures_total",
		Help: "Room loops stopped by an internal failure",
	})

	// Bounded: "room_full", "too_many_rooms", "room_not_found", "stale_input", "invalid_input", "inbox_full"
	rejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_rejected_operations_total",
		Help: "Operations rejected by capacity or validation rules",
	}, []string{"reason"})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "ws_ip_limit", "ws_total_limit", "origin"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not the full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "WebSocket messages by direction",
	}, []string{"direction"}) // "in", "out", "dropped"
)

// RecordTick records simulation step timing.
func RecordTick(duration time.Duration) {
	tickDuration.Observe(duration.Seconds())
}

// RecordBroadcast records per-room broadcast timing.
func RecordBroadcast(duration time.Duration) {
	broadcastDuration.Observe(duration.Seconds())
}

// RecordSnapshotSize records the encoded size of one snapshot.
func RecordSnapshotSize(n int) {
	snapshotBytes.Observe(float64(n))
}

func RoomOpened()  { roomCount.Inc() }
func RoomClosed()  { roomCount.Dec() }
func PlayerAdded() { playerCount.Inc() }
func PlayerGone()  { playerCount.Dec() }

// RecordEliminations counts eliminations produced by one tick.
func RecordEliminations(n int) {
	if n > 0 {
		eliminations.Add(float64(n))
	}
}

func RecordAFKKick()     { afkKicks.Inc() }
func RecordRoomFailure() { roomPanics.Inc() }

// RecordRejected increments the rejected-operation counter.
func RecordRejected(reason string) {
	rejected.WithLabelValues(reason).Inc()
}

// RecordConnectionRejected increments the rejection counter
// reason must be one of: "rate_limit", "ws_ip_limit", "ws_total_limit", "origin"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// RecordWSMessage counts one frame in the given direction.
func RecordWSMessage(direction string) {
	wsMessagesTotal.WithLabelValues(direction).Inc()
}
