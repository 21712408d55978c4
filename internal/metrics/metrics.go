// Package metrics provides Prometheus instrumentation for the TeamChat
// server. It exposes gauges for connection and presence counts, counters for
// message throughput and fanout, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "teamchat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of users with at least one connection.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "teamchat_online_users",
		Help: "Current number of users with at least one live connection",
	})

	// PresenceTransitions counts online/offline transitions.
	PresenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teamchat_presence_transitions_total",
		Help: "Total number of presence transitions",
	}, []string{"kind"}) // kind = "online", "offline"

	// MessagesTotal counts submitted messages by outcome.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teamchat_messages_total",
		Help: "Total number of messages submitted",
	}, []string{"outcome"}) // outcome = "persisted", "rejected", "failed"

	// MessageLatency records submit-to-broadcast latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "teamchat_message_latency_seconds",
		Help:    "Message persist-and-broadcast latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// FanoutDelivered counts events queued to connections.
	FanoutDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teamchat_fanout_delivered_total",
		Help: "Total number of events queued for delivery to connections",
	})

	// FanoutDropped counts events that could not be queued (slow consumers).
	FanoutDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teamchat_fanout_dropped_total",
		Help: "Total number of events dropped because a connection queue was full",
	})

	// ActiveRooms tracks the number of channels with at least one subscriber.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "teamchat_active_rooms",
		Help: "Current number of channels with at least one subscribed connection",
	})

	// HistoryRequests counts history page requests by kind.
	HistoryRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teamchat_history_requests_total",
		Help: "Total number of history page requests",
	}, []string{"kind"}) // kind = "page", "before", "http"
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		PresenceTransitions,
		MessagesTotal,
		MessageLatency,
		FanoutDelivered,
		FanoutDropped,
		ActiveRooms,
		HistoryRequests,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
