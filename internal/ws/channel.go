package ws

import (
	"marketplace-chat/backend/pkg/logger"
	"marketplace-chat/backend/pkg/metrics"
	pkgws "marketplace-chat/backend/pkg/ws"
)

// Channel delivers events to the members of a room. Delivery is best effort:
// there is no ack, retry or backlog, and late joiners only see later events.
type Channel struct {
	broker *Broker
	log    *logger.Logger
}

// NewChannel creates a delivery channel over broker
func NewChannel(broker *Broker, log *logger.Logger) *Channel {
	return &Channel{broker: broker, log: log}
}

// Publish enqueues evt for every current member of the booking's room,
// sender included. It returns the number of members that accepted it.
func (ch *Channel) Publish(bookingID string, evt pkgws.Event) int {
	delivered := 0
	ch.broker.withRoomOrder(bookingID, func(members []Subscriber) {
		for _, m := range members {
			if m.Enqueue(evt) {
				delivered++
				continue
			}
			metrics.DroppedDeliveries.Inc()
			ch.log.WithBooking(bookingID).Warn("Dropped delivery", "conn_id", m.ID(), "kind", string(evt.Kind()))
		}
	})
	metrics.EventsPublished.WithLabelValues(string(evt.Kind())).Inc()
	return delivered
}

// NotifyUser enqueues evt on every live connection of userID, joined or not
func (ch *Channel) NotifyUser(userID string, evt pkgws.Event) int {
	delivered := 0
	for _, s := range ch.broker.connectionsOf(userID) {
		if s.Enqueue(evt) {
			delivered++
		} else {
			metrics.DroppedDeliveries.Inc()
		}
	}
	metrics.EventsPublished.WithLabelValues(string(evt.Kind())).Inc()
	return delivered
}
