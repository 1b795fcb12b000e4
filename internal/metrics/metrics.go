package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redis Operations Metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks Redis connection errors
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)
)

// Gateway Metrics
var (
	// GatewayConnectedClients tracks currently connected clients
	GatewayConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_connected_clients",
			Help: "Number of currently connected clients",
		},
	)

	// GatewayActiveRooms tracks rooms with at least one member
	GatewayActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_rooms",
			Help: "Number of rooms with at least one member",
		},
	)

	// GatewayAuthFailures tracks failed authentication attempts
	GatewayAuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Total failed authentication attempts",
		},
	)

	// GatewaySlowClientsDropped tracks clients dropped for full send buffers
	GatewaySlowClientsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_slow_clients_dropped_total",
			Help: "Total clients dropped because their send buffer was full",
		},
	)
)

// Broadcast Metrics
var (
	// BroadcastsTotal tracks room broadcasts by delivery mode (coordinated/local)
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcasts_total",
			Help: "Total room broadcasts by delivery mode",
		},
		[]string{"mode"},
	)

	// PubSubMessagesReceived tracks messages received from the shared store
	PubSubMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_messages_received_total",
			Help: "Total pub/sub messages received by channel pattern",
		},
		[]string{"pattern"},
	)

	// PubSubMessagesDropped tracks undecodable pub/sub payloads
	PubSubMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pubsub_messages_dropped_total",
			Help: "Total pub/sub messages dropped as undecodable",
		},
	)

	// CoordinationErrors tracks failures to reach the shared pub/sub store
	CoordinationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordination_errors_total",
			Help: "Total coordination failures by operation",
		},
		[]string{"operation"},
	)
)

// Tracking Metrics
var (
	// LocationUpdatesPublished tracks published location updates by entity type
	LocationUpdatesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "location_updates_published_total",
			Help: "Total location updates published by entity type",
		},
		[]string{"entity_type"},
	)

	// PersistenceFailures tracks best-effort persistence write failures
	PersistenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "persistence_failures_total",
			Help: "Total best-effort persistence write failures",
		},
	)
)
