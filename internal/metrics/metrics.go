package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// Publish pipeline
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamchat_messages_sent_total",
			Help: "Messages confirmed on chain",
		},
	)

	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamchat_send_failures_total",
			Help: "Sends that failed after validation",
		},
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamchat_send_duration_seconds",
			Help:    "Time from submit to confirmed receipt",
			Buckets: []float64{.25, .5, 1, 2, 4, 8, 16, 32},
		},
	)

	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamchat_registrations_total",
			Help: "Confirmed schema registrations",
		},
		[]string{"kind"}, // "data" or "event"
	)

	// Read pipelines
	FeedNotifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamchat_feed_notifications_total",
			Help: "Subscription notifications received",
		},
	)

	DecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamchat_decode_failures_total",
			Help: "Notifications dropped because they could not be decoded",
		},
	)

	ActiveFeeds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamchat_active_feeds",
			Help: "Rooms with a running read pipeline",
		},
	)

	FeedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamchat_feed_clients",
			Help: "Connected WebSocket feed clients",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamchat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamchat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamchat_rpc_latency_seconds",
			Help:    "Chain RPC read latency",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method"},
	)

	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamchat_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	DatabaseLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamchat_database_latency_seconds",
			Help:    "Send log query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
