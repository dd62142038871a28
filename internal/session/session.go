// Package session implements the client side of a booking chat: a per-booking
// state machine that joins the room, hydrates history and keeps a local copy
// of the conversation in sync with the events the server pushes.
package session

import (
	"context"
	stderrors "errors"
	"io"
	"sort"
	"sync"

	"marketplace-chat/backend/internal/models"
	"marketplace-chat/backend/pkg/logger"
	pkgws "marketplace-chat/backend/pkg/ws"
)

// ErrNotOpen is returned by Send and React outside the Open state
var ErrNotOpen = stderrors.New("chat session is not open")

// State of a Session
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Attachment is an optional media upload sent with a message
type Attachment struct {
	Name string
	Data io.Reader
}

// Backend is how a session talks to the chat server. One backend serves
// every session of a user and delivers all of that user's events.
type Backend interface {
	UserID() string
	Join(ctx context.Context, bookingID string) error
	Leave(ctx context.Context, bookingID string) error
	History(ctx context.Context, bookingID string) ([]models.Message, error)
	Send(ctx context.Context, bookingID, content string, attachment *Attachment) (*models.Message, error)
	React(ctx context.Context, messageID, emoji string) (*models.Message, error)
	MarkRead(ctx context.Context, bookingID string) error
	Events() <-chan pkgws.Event
}

// Session is one user's view of one booking's chat
type Session struct {
	bookingID string
	backend   Backend
	log       *logger.Logger

	mu       sync.Mutex
	state    State
	gen      uint64
	messages []models.Message
	index    map[string]int
	// events that arrive while history is loading
	pending []pkgws.Event
}

// New creates a closed session
func New(bookingID string, backend Backend, log *logger.Logger) *Session {
	return &Session{
		bookingID: bookingID,
		backend:   backend,
		log:       log.WithBooking(bookingID).WithUserID(backend.UserID()),
		index:     make(map[string]int),
	}
}

// BookingID returns the booking this session is bound to
func (s *Session) BookingID() string { return s.bookingID }

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open joins the room, loads history and marks everything read. Opening an
// open session is a no-op. A Close during Open wins: the join is undone and
// ErrNotOpen returned.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateOpening
	s.gen++
	gen := s.gen
	s.pending = nil
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateClosed
			s.pending = nil
		}
		s.mu.Unlock()
		return err
	}

	// join first so nothing published after the history read is missed
	if err := s.backend.Join(ctx, s.bookingID); err != nil {
		return fail(err)
	}

	history, err := s.backend.History(ctx, s.bookingID)
	if err != nil {
		s.mu.Lock()
		s.releaseLocked(ctx, gen)
		if s.gen == gen {
			s.state = StateClosed
			s.pending = nil
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateOpening {
		s.releaseLocked(ctx, gen)
		s.mu.Unlock()
		return ErrNotOpen
	}
	s.messages = s.messages[:0]
	s.index = make(map[string]int, len(history))
	for _, m := range history {
		s.insertLocked(m)
	}
	for _, evt := range s.pending {
		s.applyLocked(evt)
	}
	s.pending = nil
	s.state = StateOpen
	s.mu.Unlock()

	s.log.Debug("Chat session opened", "messages", len(history))

	if err := s.backend.MarkRead(ctx, s.bookingID); err != nil {
		// the room is usable; the badge just stays until the next open
		s.log.Warn("Failed to mark messages read", "error", err.Error())
	}
	return nil
}

// releaseLocked undoes the join made by the Open of generation gen. When a
// newer Open is already in flight or done, the membership is its own and
// stays. Called with s.mu held so no newer Join can slip in before the Leave.
func (s *Session) releaseLocked(ctx context.Context, gen uint64) {
	if s.gen != gen && s.state != StateClosed {
		s.log.Debug("Newer open owns the room membership", "generation", gen)
		return
	}
	if err := s.backend.Leave(context.WithoutCancel(ctx), s.bookingID); err != nil {
		s.log.Warn("Failed to leave room", "error", err.Error())
	}
}

// Close leaves the room and drops local state. Closing a closed session is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = StateClosed
	s.gen++
	s.messages = nil
	s.index = make(map[string]int)
	s.pending = nil

	// an Opening session leaves from Open itself once its join returns.
	// Leaving under the lock orders it before any later Open's Join.
	if prev != StateOpen {
		return nil
	}
	return s.backend.Leave(ctx, s.bookingID)
}

// Send stores a message and appends it locally once the server confirms it.
// On error nothing changes locally.
func (s *Session) Send(ctx context.Context, content string, attachment *Attachment) (*models.Message, error) {
	if s.State() != StateOpen {
		return nil, ErrNotOpen
	}
	msg, err := s.backend.Send(ctx, s.bookingID, content, attachment)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state == StateOpen {
		s.insertLocked(*msg)
	}
	s.mu.Unlock()
	return msg, nil
}

// React adds a reaction and applies the confirmed reaction list locally
func (s *Session) React(ctx context.Context, messageID, emoji string) (*models.Message, error) {
	if s.State() != StateOpen {
		return nil, ErrNotOpen
	}
	msg, err := s.backend.React(ctx, messageID, emoji)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state == StateOpen {
		s.replaceReactionsLocked(msg.ID, msg.Reactions)
	}
	s.mu.Unlock()
	return msg, nil
}

// MarkRead marks the peer's messages read
func (s *Session) MarkRead(ctx context.Context) error {
	if s.State() != StateOpen {
		return ErrNotOpen
	}
	return s.backend.MarkRead(ctx, s.bookingID)
}

// HandleEvent applies a server event for this booking. Events for other
// bookings and events received while closed are ignored.
func (s *Session) HandleEvent(evt pkgws.Event) {
	if evt.Room() != s.bookingID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateOpening:
		s.pending = append(s.pending, evt)
	case StateOpen:
		s.applyLocked(evt)
	}
}

// Messages returns a copy of the local history in timestamp order
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	for i, m := range s.messages {
		m.Reactions = append([]models.Reaction(nil), m.Reactions...)
		out[i] = m
	}
	return out
}

func (s *Session) applyLocked(evt pkgws.Event) {
	switch e := evt.(type) {
	case pkgws.MessageCreated:
		s.insertLocked(e.Message)
	case pkgws.ReactionUpdated:
		s.replaceReactionsLocked(e.MessageID, e.Reactions)
	case pkgws.MessagesRead:
		// the peer has read what this user sent
		if e.ReaderID == s.backend.UserID() {
			return
		}
		for i := range s.messages {
			if s.messages[i].SenderID != e.ReaderID {
				s.messages[i].IsRead = true
			}
		}
	case pkgws.ErrorEvent:
		s.log.Info("Server reported an error", "code", e.Code, "message", e.Message)
	}
}

// insertLocked adds m unless a message with the same id is already present
func (s *Session) insertLocked(m models.Message) {
	if _, ok := s.index[m.ID]; ok {
		return
	}

	pos := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].Timestamp.After(m.Timestamp)
	})
	s.messages = append(s.messages, models.Message{})
	copy(s.messages[pos+1:], s.messages[pos:])
	s.messages[pos] = m

	for i := pos; i < len(s.messages); i++ {
		s.index[s.messages[i].ID] = i
	}
}

func (s *Session) replaceReactionsLocked(messageID string, reactions []models.Reaction) {
	i, ok := s.index[messageID]
	if !ok {
		return
	}
	s.messages[i].Reactions = append([]models.Reaction(nil), reactions...)
}
