package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Realtime hub
var (
	HubConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_hub_connections",
		Help: "Current number of live hub connections on this instance",
	})

	HubConnectionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_hub_connection_total",
		Help: "Total number of hub connection attempts",
	}, []string{"status"}) // accepted, unauthorized, upgrade_failed

	HubDisconnectionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_hub_disconnection_total",
		Help: "Total number of hub disconnections",
	}, []string{"reason"})

	HubEventsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_hub_events_delivered_total",
		Help: "Total number of push events queued to connections",
	}, []string{"event"})

	HubEventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_hub_events_dropped_total",
		Help: "Total number of push events dropped",
	}, []string{"reason"}) // buffer_full, marshal

	HubCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_hub_commands_total",
		Help: "Total number of client commands handled",
	}, []string{"command", "status"})

	HubPubSubPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_hub_pubsub_publish_total",
		Help: "Total number of hub envelopes published to Redis",
	}, []string{"status"}) // success, error, local_fallback
)

// Conversation core
var (
	MessagesPersistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_persisted_total",
		Help: "Total number of messages appended to the message log",
	}, []string{"author", "status"}) // author: user, ai

	AIRepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ai_replies_total",
		Help: "Total number of AI responder calls",
	}, []string{"status"}) // success, failure

	AIReplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_ai_reply_duration_seconds",
		Help:    "Latency of AI responder calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	GroupMatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_group_match_total",
		Help: "Outcome of group materialization on request acceptance",
	}, []string{"result"}) // matched, joined, created

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_notifications_total",
		Help: "Total number of notifications written",
	}, []string{"type", "status"})
)

// Friendship graph and request protocol
var (
	FriendshipOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_friendship_outcomes_total",
		Help: "Outcomes of friendship operations",
	}, []string{"operation", "outcome"})

	ConversationRequestTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_conversation_request_transitions_total",
		Help: "Conversation request state transitions",
	}, []string{"transition"}) // sent, accepted, declined, cancelled, duplicate
)

// Stores and collaborators
var (
	CassandraQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cassandra_query_duration_seconds",
		Help:    "Duration of Cassandra queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	CassandraQueryErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_query_error_total",
		Help: "Total number of failed Cassandra queries",
	}, []string{"operation"})

	RedisAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_available",
		Help: "Whether Redis is reachable (1) or the service runs degraded (0)",
	})

	RedisFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_fallback_total",
		Help: "Operations served by an in-process fallback because Redis was degraded",
	}, []string{"operation"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "State of a circuit breaker (0=closed, 1=half_open, 2=open)",
	}, []string{"breaker"})

	HTTPRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"backend"}) // redis, local

	CircuitBreakerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_requests_total",
		Help: "Requests passing through a circuit breaker",
	}, []string{"breaker", "status"}) // success, failure, rejected
)
