package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Live channel
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_sessions",
			Help: "WebSocket sessions held by this instance",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Identities with at least one session on this instance",
		},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_auth_failures_total",
			Help: "Rejected or expired credentials on the live channel",
		},
		[]string{"code"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_delivered_total",
			Help: "Events written to local sessions",
		},
		[]string{"type"},
	)

	SlowClientsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_slow_clients_dropped_total",
			Help: "Sessions closed because their send buffer was full",
		},
	)

	// Business metrics
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_persisted_total",
			Help: "Messages durably stored",
		},
		[]string{"message_type"},
	)

	ForwardFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_forward_failures_total",
			Help: "Best-effort live forwards that failed after persistence",
		},
		[]string{"type"},
	)

	TypingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_typing_events_total",
			Help: "Typing signals emitted, by cause",
		},
		[]string{"cause"}, // "typing", "stop", "expired", "sent"
	)

	ConnectionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_connection_transitions_total",
			Help: "Connection graph transitions",
		},
		[]string{"transition"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_latency_seconds",
			Help:    "Conversation store operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op"},
	)
)
