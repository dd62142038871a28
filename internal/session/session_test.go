package session

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"marketplace-chat/backend/internal/models"
	"marketplace-chat/backend/internal/repository"
	"marketplace-chat/backend/internal/service"
	"marketplace-chat/backend/internal/unread"
	"marketplace-chat/backend/internal/ws"
	"marketplace-chat/backend/pkg/errors"
	"marketplace-chat/backend/pkg/logger"
	pkgws "marketplace-chat/backend/pkg/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	broker *ws.Broker
	chat   *service.ChatService
}

func newServer(t *testing.T) *server {
	t.Helper()
	log := logger.Discard()

	bookings := service.NewBookingService(repository.NewMemoryBookingRepository(
		models.Booking{ID: "BK1", CustomerID: "C", WorkerID: "W", Status: models.BookingAccepted},
		models.Booking{ID: "BK-done", CustomerID: "C", WorkerID: "W", Status: models.BookingCompleted},
	), 0, log)
	messages := service.NewMessageService(repository.NewMemoryMessageRepository(), log)

	broker := ws.NewBroker(bookings, log)
	channel := ws.NewChannel(broker, log)
	tracker := unread.NewTracker(unread.NewMemoryCounter(), broker)
	return &server{broker: broker, chat: service.NewChatService(messages, bookings, tracker, channel, log)}
}

func (s *server) user(t *testing.T, userID string) (*Manager, *LocalBackend) {
	t.Helper()
	backend := NewLocalBackend(userID, s.chat, s.broker, nil, 64)
	m := NewManager(backend, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		backend.Close()
		<-done
	})
	return m, backend
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestConversationBetweenCustomerAndWorker(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	customer, _ := srv.user(t, "C")
	worker, _ := srv.user(t, "W")

	c, err := customer.Open(ctx, "BK1")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, c.State())
	assert.Empty(t, c.Messages())

	sent, err := c.Send(ctx, "Hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", sent.Content)

	// the broadcast echo of our own message must not duplicate it
	time.Sleep(20 * time.Millisecond)
	require.Len(t, c.Messages(), 1)

	// W was not in the room: badge instead of delivery
	waitFor(t, func() bool { return worker.Unread("BK1") == 1 })

	w, err := worker.Open(ctx, "BK1")
	require.NoError(t, err)
	msgs := w.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.Zero(t, worker.Unread("BK1"))

	// opening marked C's message read and C is told
	waitFor(t, func() bool {
		m := c.Messages()
		return len(m) == 1 && m[0].IsRead
	})

	_, err = w.React(ctx, sent.ID, "👍")
	require.NoError(t, err)
	waitFor(t, func() bool {
		m := c.Messages()
		return len(m) == 1 && len(m[0].Reactions) == 1 && m[0].Reactions[0].UserID == "W"
	})

	reply, err := w.Send(ctx, "Hi back", nil)
	require.NoError(t, err)
	waitFor(t, func() bool {
		m := c.Messages()
		return len(m) == 2 && m[1].ID == reply.ID
	})

	// both sides agree on order
	assert.Equal(t, ids(c.Messages()), ids(w.Messages()))
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestOpenRejectedForFinishedBooking(t *testing.T) {
	srv := newServer(t)
	customer, backend := srv.user(t, "C")

	_, err := customer.Open(context.Background(), "BK-done")
	require.Error(t, err)
	assert.Equal(t, errors.CodeChatNotAllowed, errors.GetErrorCode(err))

	s := customer.Session("BK-done")
	assert.Equal(t, StateClosed, s.State())
	assert.False(t, srv.broker.IsMember("BK-done", backend.inbox))

	_, err = s.Send(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestCloseLeavesRoom(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	customer, backend := srv.user(t, "C")

	s, err := customer.Open(ctx, "BK1")
	require.NoError(t, err)
	assert.True(t, srv.broker.IsMember("BK1", backend.inbox))

	// open twice is a no-op
	require.NoError(t, s.Open(ctx))

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, StateClosed, s.State())
	assert.False(t, srv.broker.IsMember("BK1", backend.inbox))
	assert.Empty(t, s.Messages())

	require.NoError(t, s.Close(ctx))
}

// scripted is a Backend whose calls can be held and failed from the test
type scripted struct {
	user     string
	history  []models.Message
	joinGate chan struct{}
	// holds only the first History call
	historyGate chan struct{}
	sendErr     error
	sendReply   *models.Message
	mu          sync.Mutex
	joins       int
	leaves      int
	histories   int
	markReads   int
	events      chan pkgws.Event
}

func newScripted() *scripted {
	return &scripted{user: "C", events: make(chan pkgws.Event)}
}

func (b *scripted) UserID() string             { return b.user }
func (b *scripted) Events() <-chan pkgws.Event { return b.events }

func (b *scripted) Join(ctx context.Context, _ string) error {
	if b.joinGate != nil {
		select {
		case <-b.joinGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	b.joins++
	b.mu.Unlock()
	return nil
}

func (b *scripted) Leave(context.Context, string) error {
	b.mu.Lock()
	b.leaves++
	b.mu.Unlock()
	return nil
}

func (b *scripted) History(context.Context, string) ([]models.Message, error) {
	b.mu.Lock()
	b.histories++
	first := b.histories == 1
	b.mu.Unlock()
	if first && b.historyGate != nil {
		<-b.historyGate
	}
	return b.history, nil
}

func (b *scripted) counts() (joins, leaves int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.joins, b.leaves
}

func (b *scripted) Send(context.Context, string, string, *Attachment) (*models.Message, error) {
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	return b.sendReply, nil
}

func (b *scripted) React(context.Context, string, string) (*models.Message, error) {
	return nil, stderrors.New("network down")
}

func (b *scripted) MarkRead(context.Context, string) error {
	b.mu.Lock()
	b.markReads++
	b.mu.Unlock()
	return nil
}

func msgAt(id string, ms int) models.Message {
	return models.Message{ID: id, BookingID: "BK1", SenderID: "W", Timestamp: time.UnixMilli(int64(1_000 + ms))}
}

func TestEventsDuringOpenAreApplied(t *testing.T) {
	b := newScripted()
	b.history = []models.Message{msgAt("m1", 1)}
	b.joinGate = make(chan struct{})
	s := New("BK1", b, logger.Discard())

	errc := make(chan error, 1)
	go func() { errc <- s.Open(context.Background()) }()

	waitFor(t, func() bool { return s.State() == StateOpening })

	// arrives between join and history: m1 duplicates history, m2 is new
	s.HandleEvent(pkgws.MessageCreated{Message: msgAt("m1", 1)})
	s.HandleEvent(pkgws.MessageCreated{Message: msgAt("m2", 2)})
	s.HandleEvent(pkgws.MessageCreated{Message: models.Message{ID: "x", BookingID: "BK2"}})
	close(b.joinGate)

	require.NoError(t, <-errc)
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages()))
	assert.Equal(t, 1, b.markReads)
}

func TestCloseDuringOpenWins(t *testing.T) {
	b := newScripted()
	b.joinGate = make(chan struct{})
	s := New("BK1", b, logger.Discard())

	errc := make(chan error, 1)
	go func() { errc <- s.Open(context.Background()) }()
	waitFor(t, func() bool { return s.State() == StateOpening })

	require.NoError(t, s.Close(context.Background()))
	close(b.joinGate)

	assert.ErrorIs(t, <-errc, ErrNotOpen)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, b.leaves)
	assert.Zero(t, b.markReads)
}

func TestStaleOpenKeepsNewerMembership(t *testing.T) {
	b := newScripted()
	b.history = []models.Message{msgAt("m1", 1)}
	b.historyGate = make(chan struct{})
	s := New("BK1", b, logger.Discard())

	first := make(chan error, 1)
	go func() { first <- s.Open(context.Background()) }()
	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.histories == 1
	})

	// the first open is stuck loading history: close and reopen
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, StateOpen, s.State())

	close(b.historyGate)
	assert.ErrorIs(t, <-first, ErrNotOpen)

	joins, leaves := b.counts()
	assert.Equal(t, 2, joins)
	assert.Zero(t, leaves, "the reopened session must stay in the room")
	assert.Equal(t, StateOpen, s.State())
	assert.Equal(t, []string{"m1"}, ids(s.Messages()))

	require.NoError(t, s.Close(context.Background()))
	_, leaves = b.counts()
	assert.Equal(t, 1, leaves)
}

func TestFailuresDoNotMutateState(t *testing.T) {
	b := newScripted()
	b.history = []models.Message{msgAt("m1", 1)}
	s := New("BK1", b, logger.Discard())
	require.NoError(t, s.Open(context.Background()))

	b.sendErr = errors.NewTransientError("store down", nil)
	_, err := s.Send(context.Background(), "hello", nil)
	assert.True(t, errors.IsTransient(err))

	_, err = s.React(context.Background(), "m1", "👍")
	require.Error(t, err)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].Reactions)
}

func TestHandleEventOrderingAndReactions(t *testing.T) {
	b := newScripted()
	s := New("BK1", b, logger.Discard())
	require.NoError(t, s.Open(context.Background()))

	// echo arrives before the send call returns
	s.HandleEvent(pkgws.MessageCreated{Message: msgAt("m2", 2)})
	b.sendReply = ptr(msgAt("m2", 2))
	_, err := s.Send(context.Background(), "x", nil)
	require.NoError(t, err)

	// an older message that arrives late is placed by timestamp
	s.HandleEvent(pkgws.MessageCreated{Message: msgAt("m1", 1)})
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages()))

	s.HandleEvent(pkgws.ReactionUpdated{BookingID: "BK1", MessageID: "m1", Reactions: []models.Reaction{{Emoji: "👍", UserID: "W"}}})
	s.HandleEvent(pkgws.ReactionUpdated{BookingID: "BK1", MessageID: "m1", Reactions: []models.Reaction{{Emoji: "👍", UserID: "W"}, {Emoji: "❤️", UserID: "C"}}})
	assert.Len(t, s.Messages()[0].Reactions, 2)

	// reactions for unknown messages are ignored
	s.HandleEvent(pkgws.ReactionUpdated{BookingID: "BK1", MessageID: "nope", Reactions: []models.Reaction{{Emoji: "👍"}}})
	assert.Len(t, s.Messages(), 2)
}

func ptr[T any](v T) *T { return &v }
