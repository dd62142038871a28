package ws

import (
	"context"
	"errors"
	"sync"

	"marketplace-chat/backend/pkg/logger"
	"marketplace-chat/backend/pkg/metrics"
	pkgws "marketplace-chat/backend/pkg/ws"
)

// ErrSubscriberClosed is returned when joining with a connection that already went away
var ErrSubscriberClosed = errors.New("subscriber closed")

// Subscriber is one live connection able to receive events
type Subscriber interface {
	ID() string
	UserID() string
	// Enqueue must not block. It reports false when the event was not accepted.
	Enqueue(evt pkgws.Event) bool
	// Done is closed when the connection is gone
	Done() <-chan struct{}
}

// Gate decides whether a user may join a booking's room
type Gate interface {
	AuthorizeJoin(ctx context.Context, bookingID, userID string) error
}

type room struct {
	// publishMu serialises fan-out so every member sees the room's events in publish order
	publishMu sync.Mutex
	members   map[string]Subscriber
}

type connection struct {
	sub   Subscriber
	rooms map[string]struct{}
}

// Broker tracks which connections are in which booking room. Membership is
// in-memory and per process; it is cleaned up when a connection's Done fires.
type Broker struct {
	gate Gate
	log  *logger.Logger

	mu    sync.RWMutex
	rooms map[string]*room
	conns map[string]*connection
	users map[string]map[string]Subscriber
}

// NewBroker creates an empty broker
func NewBroker(gate Gate, log *logger.Logger) *Broker {
	return &Broker{
		gate:  gate,
		log:   log,
		rooms: make(map[string]*room),
		conns: make(map[string]*connection),
		users: make(map[string]map[string]Subscriber),
	}
}

func closed(sub Subscriber) bool {
	select {
	case <-sub.Done():
		return true
	default:
		return false
	}
}

// Register makes a connection reachable through NotifyUser and starts
// watching it for disconnects. Registering twice is a no-op.
func (b *Broker) Register(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registerLocked(sub)
}

func (b *Broker) registerLocked(sub Subscriber) *connection {
	if c, ok := b.conns[sub.ID()]; ok {
		return c
	}
	c := &connection{sub: sub, rooms: make(map[string]struct{})}
	b.conns[sub.ID()] = c

	byUser, ok := b.users[sub.UserID()]
	if !ok {
		byUser = make(map[string]Subscriber)
		b.users[sub.UserID()] = byUser
	}
	byUser[sub.ID()] = sub

	go func() {
		<-sub.Done()
		b.Disconnect(sub)
	}()
	return c
}

// Join adds sub to the booking's room after the gate allows it. Joining an
// already joined room has no further effect.
func (b *Broker) Join(ctx context.Context, bookingID string, sub Subscriber) error {
	if b.gate != nil {
		if err := b.gate.AuthorizeJoin(ctx, bookingID, sub.UserID()); err != nil {
			metrics.RoomJoins.WithLabelValues("rejected").Inc()
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if closed(sub) {
		return ErrSubscriberClosed
	}

	c := b.registerLocked(sub)
	r, ok := b.rooms[bookingID]
	if !ok {
		r = &room{members: make(map[string]Subscriber)}
		b.rooms[bookingID] = r
	}
	if _, joined := r.members[sub.ID()]; !joined {
		r.members[sub.ID()] = sub
		c.rooms[bookingID] = struct{}{}
		metrics.ActiveMembers.Inc()
	}
	metrics.RoomJoins.WithLabelValues("joined").Inc()

	b.log.WithBooking(bookingID).Debug("Joined room", "conn_id", sub.ID(), "user_id", sub.UserID())
	return nil
}

// Leave removes sub from the booking's room. No-op when not a member.
func (b *Broker) Leave(bookingID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(bookingID, sub.ID())
}

func (b *Broker) leaveLocked(bookingID, connID string) {
	r, ok := b.rooms[bookingID]
	if !ok {
		return
	}
	if _, member := r.members[connID]; !member {
		return
	}
	delete(r.members, connID)
	metrics.ActiveMembers.Dec()
	if len(r.members) == 0 {
		delete(b.rooms, bookingID)
	}
	if c, ok := b.conns[connID]; ok {
		delete(c.rooms, bookingID)
	}
}

// Disconnect forgets a connection and all its memberships. Safe to call more than once.
func (b *Broker) Disconnect(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.conns[sub.ID()]
	if !ok {
		return
	}
	for bookingID := range c.rooms {
		b.leaveLocked(bookingID, sub.ID())
	}
	delete(b.conns, sub.ID())

	if byUser, ok := b.users[sub.UserID()]; ok {
		delete(byUser, sub.ID())
		if len(byUser) == 0 {
			delete(b.users, sub.UserID())
		}
	}
	b.log.Debug("Connection removed from broker", "conn_id", sub.ID(), "user_id", sub.UserID())
}

// MembersOf returns a snapshot of the room's members
func (b *Broker) MembersOf(bookingID string) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.membersLocked(bookingID)
}

func (b *Broker) membersLocked(bookingID string) []Subscriber {
	r, ok := b.rooms[bookingID]
	if !ok {
		return nil
	}
	out := make([]Subscriber, 0, len(r.members))
	for _, s := range r.members {
		out = append(out, s)
	}
	return out
}

// IsMember reports whether sub is currently in the booking's room
func (b *Broker) IsMember(bookingID string, sub Subscriber) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rooms[bookingID]
	if !ok {
		return false
	}
	_, member := r.members[sub.ID()]
	return member
}

// IsUserJoined reports whether any connection of userID is in the booking's room
func (b *Broker) IsUserJoined(bookingID, userID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rooms[bookingID]
	if !ok {
		return false
	}
	for _, s := range r.members {
		if s.UserID() == userID {
			return true
		}
	}
	return false
}

// connectionsOf returns a snapshot of userID's live connections
func (b *Broker) connectionsOf(userID string) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	byUser := b.users[userID]
	out := make([]Subscriber, 0, len(byUser))
	for _, s := range byUser {
		out = append(out, s)
	}
	return out
}

// withRoomOrder runs fn with the room's members while holding the room's
// publish lock, so concurrent publishers to one room never interleave.
func (b *Broker) withRoomOrder(bookingID string, fn func(members []Subscriber)) {
	b.mu.RLock()
	r, ok := b.rooms[bookingID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	b.mu.RLock()
	members := make([]Subscriber, 0, len(r.members))
	for _, s := range r.members {
		members = append(members, s)
	}
	b.mu.RUnlock()

	fn(members)
}

// Stats reports room and connection counts for health output
func (b *Broker) Stats() (rooms, connections int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms), len(b.conns)
}
