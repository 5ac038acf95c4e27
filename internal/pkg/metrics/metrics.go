package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedgate_clients_connected",
		Help: "Currently connected WebSocket clients",
	})

	FeedTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feedgate_feed_tasks",
		Help: "Feed tasks by channel type",
	}, []string{"channel"})

	ExchangeConnectionRefs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feedgate_exchange_connection_refs",
		Help: "Reference count of each open exchange connection",
	}, []string{"exchange"})

	MessagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedgate_messages_delivered_total",
		Help: "Frames handed to subscriber transports",
	}, []string{"type"})

	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedgate_delivery_failures_total",
		Help: "Deliveries that failed and dropped the subscriber",
	})

	UpstreamFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedgate_upstream_fetch_errors_total",
		Help: "Failed upstream fetches",
	}, []string{"exchange", "channel"})

	UpstreamFetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedgate_upstream_fetch_seconds",
		Help:    "Upstream fetch latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"exchange", "channel"})

	SubscriptionOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedgate_subscription_ops_total",
		Help: "Subscribe/unsubscribe operations by outcome",
	}, []string{"op", "status"})

	MirrorDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedgate_mirror_dropped_total",
		Help: "Frames dropped because the mirror queue was full",
	})

	InvariantResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedgate_invariant_resets_total",
		Help: "Channel keys reset after a router/feed desync",
	})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedgate_http_latency_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
