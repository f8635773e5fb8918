package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Actor runtime metrics
var (
	// ActorsActive tracks live entity actors by kind (game/alert).
	ActorsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gameday_actors_active",
			Help: "Number of live entity actors by kind",
		},
		[]string{"kind"},
	)

	// SessionsConnected tracks connected websocket sessions across all actors.
	SessionsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gameday_sessions_connected",
			Help: "Total connected websocket sessions",
		},
	)

	// BroadcastsTotal tracks fan-out attempts by result (sent/suppressed).
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameday_broadcasts_total",
			Help: "Fan-out dissemination attempts by result",
		},
		[]string{"result"},
	)

	// SessionsEvictedTotal tracks server-initiated session closes by reason.
	SessionsEvictedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameday_sessions_evicted_total",
			Help: "Server-initiated session closes by reason",
		},
		[]string{"reason"},
	)

	// SlowClientsEvicted tracks clients disconnected due to a full send buffer.
	SlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gameday_slow_clients_evicted_total",
			Help: "Clients disconnected because their send buffer was full",
		},
	)

	// ActorPanicsTotal tracks actor loop panic recoveries.
	ActorPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gameday_actor_panics_total",
			Help: "Actor event loop panic recoveries",
		},
	)
)

// Alert delivery metrics
var (
	// AlertsTotal tracks alert dispositions.
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameday_alerts_total",
			Help: "Alert dispositions (delivered/queued/replayed/suppressed_pref/suppressed_quiet/pruned)",
		},
		[]string{"outcome"},
	)
)

// Snapshot persistence metrics
var (
	// SnapshotPersistFailures tracks failed snapshot writes.
	SnapshotPersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gameday_snapshot_persist_failures_total",
			Help: "Snapshot store writes that failed",
		},
	)
)

// Redis client metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status.
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameday_redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds.
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gameday_redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks Redis connection errors.
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gameday_redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions.
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameday_circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks the current breaker state (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gameday_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// WebSocket transport metrics
var (
	// WebSocketMessageSendDuration tracks time to write a frame to a client.
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gameday_websocket_message_send_duration_seconds",
			Help:    "Time to write a websocket frame to a client",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// WebSocketPingFailures tracks keepalive ping write failures.
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gameday_websocket_ping_failures_total",
			Help: "Keepalive ping writes that failed",
		},
	)
)

// Poller metrics
var (
	// PollerFetchesTotal tracks scoreboard fetches by status.
	PollerFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameday_poller_fetches_total",
			Help: "Scoreboard HTTP fetches by status",
		},
		[]string{"status"},
	)

	// PollerLoopsActive tracks running per-game poll loops.
	PollerLoopsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gameday_poller_loops_active",
			Help: "Running per-game poll loops",
		},
	)
)
