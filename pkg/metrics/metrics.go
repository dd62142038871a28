// Package metrics holds the Prometheus collectors for the chat subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Name:      "ws_connections",
		Help:      "Open websocket connections.",
	})

	RoomJoins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "room_joins_total",
		Help:      "Room join attempts by outcome.",
	}, []string{"outcome"})

	ActiveMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Name:      "room_members",
		Help:      "Connections currently joined to a room.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "events_published_total",
		Help:      "Events fanned out, by kind.",
	}, []string{"kind"})

	DroppedDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "dropped_deliveries_total",
		Help:      "Deliveries skipped because the recipient buffer was full or closed.",
	})

	MessagesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "messages_created_total",
		Help:      "Messages persisted, by type.",
	}, []string{"type"})

	ReactionsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "reactions_added_total",
		Help:      "Reactions persisted.",
	})

	UnreadIncrements = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "unread_increments_total",
		Help:      "Unread counter increments.",
	})
)
