// Package metrics holds the relay's prometheus collectors.
//
// Label values are bounded enums only (never tenant ids or player ids) so a
// hostile producer cannot blow up series cardinality.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_ingest_total",
		Help: "Producer submissions by kind and outcome",
	}, []string{"kind", "outcome"}) // kind: roster|environment|event, outcome: accepted|unauthorized|replay|skew|rate_limit|malformed

	playersDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_players_dropped_total",
		Help: "Player entries dropped by the sanity filter",
	}, []string{"reason"}) // Bounded: "malformed", "speed"

	playersClamped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_players_clamped_total",
		Help: "Player entries with at least one clamped field",
	})

	tenantsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_tenants_active",
		Help: "Tenants currently held in memory",
	})

	// Broadcast metrics
	broadcastSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_broadcast_messages_total",
		Help: "Messages queued to viewer connections",
	})

	broadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_broadcast_dropped_total",
		Help: "Queued viewer messages dropped because a viewer fell behind",
	})

	chatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_chat_messages_total",
		Help: "Viewer chat messages by outcome",
	}, []string{"outcome"}) // Bounded: "relayed", "invalid", "rate_limit"

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"

	// Command queue metrics
	commandsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_commands_enqueued_total",
		Help: "Commands durably enqueued",
	})

	commandsDrained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_commands_drained_total",
		Help: "Commands handed out by drain",
	})

	commandsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_commands_pending",
		Help: "Commands waiting for the next drain",
	})

	commandStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_command_store_errors_total",
		Help: "Durable store failures by operation",
	}, []string{"op"}) // Bounded: "enqueue", "drain", "load"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the chi route pattern, not the URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})
)

// RecordIngest counts a producer submission outcome.
func RecordIngest(kind, outcome string) {
	ingestTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordPlayersDropped adds n dropped player entries for reason.
func RecordPlayersDropped(reason string, n int) {
	if n > 0 {
		playersDropped.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordPlayersClamped adds n clamped player entries.
func RecordPlayersClamped(n int) {
	if n > 0 {
		playersClamped.Add(float64(n))
	}
}

// UpdateTenantCount sets the in-memory tenant gauge.
func UpdateTenantCount(n int) {
	tenantsActive.Set(float64(n))
}

// IncrementBroadcastSent counts a message queued to one viewer.
func IncrementBroadcastSent() {
	broadcastSent.Inc()
}

// IncrementBroadcastDropped counts a message evicted from a slow viewer's buffer.
func IncrementBroadcastDropped() {
	broadcastDropped.Inc()
}

// RecordChat counts a chat message outcome.
func RecordChat(outcome string) {
	chatMessages.WithLabelValues(outcome).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordCommandsEnqueued counts one durable enqueue.
func RecordCommandsEnqueued() {
	commandsEnqueued.Inc()
}

// RecordCommandsDrained counts n commands handed out and resets the pending gauge.
func RecordCommandsDrained(n int) {
	commandsDrained.Add(float64(n))
	commandsPending.Set(0)
}

// SetCommandsPending sets the pending gauge.
func SetCommandsPending(n int) {
	commandsPending.Set(float64(n))
}

// RecordCommandStoreError counts a durable store failure.
func RecordCommandStoreError(op string) {
	commandStoreErrors.WithLabelValues(op).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}
