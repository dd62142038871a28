package session

import (
	"context"
	"sync"

	"marketplace-chat/backend/pkg/logger"
	pkgws "marketplace-chat/backend/pkg/ws"
)

// Manager owns a user's sessions and routes the backend's event stream to them
type Manager struct {
	backend Backend
	log     *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	unread   map[string]int64
}

// NewManager creates a manager over backend
func NewManager(backend Backend, log *logger.Logger) *Manager {
	return &Manager{
		backend:  backend,
		log:      log,
		sessions: make(map[string]*Session),
		unread:   make(map[string]int64),
	}
}

// Session returns the booking's session, creating a closed one on first use
func (m *Manager) Session(bookingID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[bookingID]
	if !ok {
		s = New(bookingID, m.backend, m.log)
		m.sessions[bookingID] = s
	}
	return s
}

// Open opens the booking's session and clears its badge
func (m *Manager) Open(ctx context.Context, bookingID string) (*Session, error) {
	s := m.Session(bookingID)
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	delete(m.unread, bookingID)
	m.mu.Unlock()
	return s, nil
}

// Unread returns the last unread count the server announced for a booking
func (m *Manager) Unread(bookingID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread[bookingID]
}

// Dispatch hands one event to the session it belongs to
func (m *Manager) Dispatch(evt pkgws.Event) {
	m.mu.Lock()
	switch e := evt.(type) {
	case pkgws.NewMessageNotification:
		m.unread[e.BookingID] = e.UnreadCount
	case pkgws.MessagesRead:
		if e.ReaderID == m.backend.UserID() {
			delete(m.unread, e.BookingID)
		}
	}
	s := m.sessions[evt.Room()]
	m.mu.Unlock()

	if s != nil {
		s.HandleEvent(evt)
	}
}

// Run pumps events until ctx is done or the backend's stream ends
func (m *Manager) Run(ctx context.Context) error {
	events := m.backend.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			m.Dispatch(evt)
		}
	}
}
