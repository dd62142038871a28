package unread

import (
	"context"

	"marketplace-chat/backend/pkg/metrics"
)

// Presence answers whether a viewer currently has the booking's chat open
type Presence interface {
	IsUserJoined(bookingID, userID string) bool
}

// Tracker applies the unread rules on top of a Counter
type Tracker struct {
	counter  Counter
	presence Presence
}

func NewTracker(counter Counter, presence Presence) *Tracker {
	return &Tracker{counter: counter, presence: presence}
}

// OnMessageCreated increments viewerID's counter when the message came from
// someone else and the viewer is not in the room. It returns the new count and
// whether an increment happened.
func (t *Tracker) OnMessageCreated(ctx context.Context, bookingID, senderID, viewerID string) (int64, bool, error) {
	if viewerID == "" || senderID == viewerID {
		return 0, false, nil
	}
	if t.presence != nil && t.presence.IsUserJoined(bookingID, viewerID) {
		return 0, false, nil
	}

	n, err := t.counter.Incr(ctx, bookingID, viewerID)
	if err != nil {
		return 0, false, err
	}
	metrics.UnreadIncrements.Inc()
	return n, true, nil
}

// MarkRead resets viewerID's counter to zero
func (t *Tracker) MarkRead(ctx context.Context, bookingID, viewerID string) error {
	return t.counter.Reset(ctx, bookingID, viewerID)
}

// Count returns viewerID's unread count for the booking
func (t *Tracker) Count(ctx context.Context, bookingID, viewerID string) (int64, error) {
	return t.counter.Get(ctx, bookingID, viewerID)
}
