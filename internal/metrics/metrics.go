package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roomchat"

const (
	OutcomeLive    = "live"
	OutcomeDurable = "durable"
	OutcomeDropped = "dropped"
)

var (
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Messages accepted for delivery.",
	})

	MessagesExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_expired_total",
		Help:      "Ephemeral messages removed after their lifetime elapsed.",
	})

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Room events handed to fan-out, by event type.",
	}, []string{"type"})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Per-recipient event deliveries, by outcome.",
	}, []string{"outcome"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "WebSocket sessions connected to this node.",
	})
)

func init() {
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessagesExpired)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(Deliveries)
	prometheus.MustRegister(ActiveSessions)
}
