package ws

import (
	"sync"

	pkgws "marketplace-chat/backend/pkg/ws"

	"github.com/google/uuid"
)

// Inbox is an in-process Subscriber backed by a buffered channel
type Inbox struct {
	id     string
	userID string
	events chan pkgws.Event
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
}

// NewInbox creates an inbox holding up to size undelivered events
func NewInbox(userID string, size int) *Inbox {
	return &Inbox{
		id:     uuid.NewString(),
		userID: userID,
		events: make(chan pkgws.Event, size),
		done:   make(chan struct{}),
	}
}

func (i *Inbox) ID() string                 { return i.id }
func (i *Inbox) UserID() string             { return i.userID }
func (i *Inbox) Done() <-chan struct{}      { return i.done }
func (i *Inbox) Events() <-chan pkgws.Event { return i.events }

// Enqueue drops the event when the inbox is full or closed
func (i *Inbox) Enqueue(evt pkgws.Event) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	select {
	case <-i.done:
		return false
	default:
	}
	select {
	case i.events <- evt:
		return true
	default:
		return false
	}
}

// Close marks the inbox gone and closes its event stream
func (i *Inbox) Close() {
	i.once.Do(func() {
		i.mu.Lock()
		close(i.done)
		close(i.events)
		i.mu.Unlock()
	})
}
