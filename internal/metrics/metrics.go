// Package metrics provides Prometheus instrumentation for the messenger.
// It exposes gauges for connection and presence counts, counters for message
// throughput and fanout, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of distinct users with at least one
	// live connection on this instance.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_online_users",
		Help: "Current number of online users on this instance",
	})

	// MessagesTotal counts messages processed, labeled by outcome:
	// "sent", "edited", "deleted", "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_messages_total",
		Help: "Total number of messages processed",
	}, []string{"outcome"})

	// EventsFanout counts server events delivered to connections, labeled
	// by event type.
	EventsFanout = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_events_fanout_total",
		Help: "Total number of server events delivered to connections",
	}, []string{"event"})

	// SlowConsumersDropped counts connections closed because their outbound
	// queue overflowed.
	SlowConsumersDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messenger_slow_consumers_dropped_total",
		Help: "Connections closed due to outbound queue overflow",
	})

	// SendLatency records end-to-end send processing latency in seconds
	// (store write through local fanout).
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "messenger_send_latency_seconds",
		Help:    "Message send processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// TypingIndicators tracks the number of live typing indicators.
	TypingIndicators = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_typing_indicators",
		Help: "Current number of live typing indicators",
	})

	// PushNotifications counts push-notification requests published for
	// offline recipients.
	PushNotifications = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messenger_push_notifications_total",
		Help: "Push notification requests published",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		EventsFanout,
		SlowConsumersDropped,
		SendLatency,
		TypingIndicators,
		PushNotifications,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
