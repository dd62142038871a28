package ws

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"marketplace-chat/backend/internal/models"
	"marketplace-chat/backend/internal/repository"
	"marketplace-chat/backend/internal/service"
	"marketplace-chat/backend/internal/unread"
	"marketplace-chat/backend/pkg/errors"
	"marketplace-chat/backend/pkg/logger"
	pkgws "marketplace-chat/backend/pkg/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	broker  *Broker
	channel *Channel
	chat    *service.ChatService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log := logger.Discard()

	bookings := service.NewBookingService(repository.NewMemoryBookingRepository(
		models.Booking{ID: "BK1", CustomerID: "C", WorkerID: "W", Status: models.BookingAccepted},
		models.Booking{ID: "BK2", CustomerID: "C", WorkerID: "W2", Status: models.BookingAccepted},
		models.Booking{ID: "BK-done", CustomerID: "C", WorkerID: "W", Status: models.BookingCompleted},
	), 0, log)
	messages := service.NewMessageService(repository.NewMemoryMessageRepository(), log)

	broker := NewBroker(bookings, log)
	channel := NewChannel(broker, log)
	tracker := unread.NewTracker(unread.NewMemoryCounter(), broker)
	chat := service.NewChatService(messages, bookings, tracker, channel, log)

	return &stack{broker: broker, channel: channel, chat: chat}
}

func next(t *testing.T, in *Inbox) pkgws.Event {
	t.Helper()
	select {
	case evt := <-in.Events():
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertEmpty(t *testing.T, in *Inbox) {
	t.Helper()
	select {
	case evt := <-in.Events():
		t.Fatalf("unexpected event %s", evt.Kind())
	default:
	}
}

func TestJoinGate(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	c := NewInbox("C", 8)
	defer c.Close()

	err := s.broker.Join(ctx, "BK-done", c)
	require.Error(t, err)
	assert.True(t, errors.IsForbidden(err))
	assert.Equal(t, errors.CodeChatNotAllowed, errors.GetErrorCode(err))
	assert.False(t, s.broker.IsMember("BK-done", c))

	err = s.broker.Join(ctx, "BK-missing", c)
	assert.True(t, errors.IsNotFound(err))

	stranger := NewInbox("X", 8)
	defer stranger.Close()
	err = s.broker.Join(ctx, "BK1", stranger)
	assert.Equal(t, errors.CodeNotParticipant, errors.GetErrorCode(err))
	assert.Empty(t, s.broker.MembersOf("BK1"))
}

func TestJoinIsIdempotent(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	c := NewInbox("C", 8)
	defer c.Close()

	require.NoError(t, s.broker.Join(ctx, "BK1", c))
	require.NoError(t, s.broker.Join(ctx, "BK1", c))

	assert.Len(t, s.broker.MembersOf("BK1"), 1)
	rooms, conns := s.broker.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, conns)
}

func TestLeaveAndDisconnect(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	c := NewInbox("C", 8)
	require.NoError(t, s.broker.Join(ctx, "BK1", c))
	require.NoError(t, s.broker.Join(ctx, "BK2", c))

	s.broker.Leave("BK2", c)
	assert.False(t, s.broker.IsMember("BK2", c))
	assert.True(t, s.broker.IsMember("BK1", c))

	// leaving a room twice is harmless
	s.broker.Leave("BK2", c)

	c.Close()
	assert.Eventually(t, func() bool {
		return !s.broker.IsMember("BK1", c) && !s.broker.IsUserJoined("BK1", "C")
	}, time.Second, 10*time.Millisecond)

	rooms, conns := s.broker.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, conns)

	// a closed subscriber cannot rejoin
	assert.ErrorIs(t, s.broker.Join(ctx, "BK1", c), ErrSubscriberClosed)
}

func TestPublishReachesMembersOnly(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	c := NewInbox("C", 8)
	w := NewInbox("W", 8)
	other := NewInbox("W2", 8)
	defer c.Close()
	defer w.Close()
	defer other.Close()

	require.NoError(t, s.broker.Join(ctx, "BK1", c))
	require.NoError(t, s.broker.Join(ctx, "BK1", w))
	require.NoError(t, s.broker.Join(ctx, "BK2", other))

	n := s.channel.Publish("BK1", pkgws.MessagesRead{BookingID: "BK1", ReaderID: "C"})
	assert.Equal(t, 2, n)

	assert.Equal(t, pkgws.KindMessagesRead, next(t, c).Kind())
	assert.Equal(t, pkgws.KindMessagesRead, next(t, w).Kind())
	assertEmpty(t, other)

	// nobody in the room: nothing delivered, nothing buffered for later
	assert.Zero(t, s.channel.Publish("BK-empty", pkgws.RoomJoined{BookingID: "BK-empty"}))
}

func TestPublishKeepsRoomOrder(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	const total = 200
	c := NewInbox("C", total)
	w := NewInbox("W", total)
	defer c.Close()
	defer w.Close()
	require.NoError(t, s.broker.Join(ctx, "BK1", c))
	require.NoError(t, s.broker.Join(ctx, "BK1", w))

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < total/4; i++ {
				s.channel.Publish("BK1", pkgws.MessagesRead{BookingID: "BK1", ReaderID: fmt.Sprintf("%d-%d", p, i)})
			}
		}(p)
	}
	wg.Wait()

	seen := func(in *Inbox) []string {
		out := make([]string, 0, total)
		for i := 0; i < total; i++ {
			out = append(out, next(t, in).(pkgws.MessagesRead).ReaderID)
		}
		return out
	}
	assert.Equal(t, seen(c), seen(w))
}

func TestSlowSubscriberDoesNotBlockRoom(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	slow := NewInbox("C", 1)
	fast := NewInbox("W", 8)
	defer slow.Close()
	defer fast.Close()
	require.NoError(t, s.broker.Join(ctx, "BK1", slow))
	require.NoError(t, s.broker.Join(ctx, "BK1", fast))

	assert.Equal(t, 2, s.channel.Publish("BK1", pkgws.RoomJoined{BookingID: "BK1"}))
	assert.Equal(t, 1, s.channel.Publish("BK1", pkgws.RoomJoined{BookingID: "BK1"}))

	next(t, fast)
	next(t, fast)
}

func TestNotifyUserReachesUnjoinedConnections(t *testing.T) {
	s := newStack(t)

	w1 := NewInbox("W", 4)
	w2 := NewInbox("W", 4)
	defer w1.Close()
	defer w2.Close()
	s.broker.Register(w1)
	s.broker.Register(w2)

	n := s.channel.NotifyUser("W", pkgws.NewMessageNotification{BookingID: "BK1", SenderID: "C", UnreadCount: 1})
	assert.Equal(t, 2, n)
	assert.Zero(t, s.channel.NotifyUser("nobody", pkgws.NewMessageNotification{BookingID: "BK1"}))
}

func TestChatFlowThroughBroker(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	c := NewInbox("C", 16)
	w := NewInbox("W", 16)
	defer c.Close()
	defer w.Close()
	s.broker.Register(w)
	require.NoError(t, s.broker.Join(ctx, "BK1", c))

	// W is connected but not in the room: they get a notification instead
	msg, err := s.chat.SendMessage(ctx, "BK1", "C", "hi", nil)
	require.NoError(t, err)

	created := next(t, c).(pkgws.MessageCreated)
	assert.Equal(t, msg.ID, created.Message.ID)

	note := next(t, w).(pkgws.NewMessageNotification)
	assert.Equal(t, "BK1", note.BookingID)
	assert.EqualValues(t, 1, note.UnreadCount)

	count, err := s.chat.UnreadCount(ctx, "BK1", "W")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// once W joins, the counter is left alone
	require.NoError(t, s.broker.Join(ctx, "BK1", w))
	_, err = s.chat.SendMessage(ctx, "BK1", "C", "again", nil)
	require.NoError(t, err)
	next(t, c)
	assert.Equal(t, pkgws.KindMessageCreated, next(t, w).Kind())
	assertEmpty(t, w)

	count, err = s.chat.UnreadCount(ctx, "BK1", "W")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	require.NoError(t, s.chat.MarkRead(ctx, "BK1", "W"))
	read := next(t, c).(pkgws.MessagesRead)
	assert.Equal(t, "W", read.ReaderID)
	next(t, w)

	count, err = s.chat.UnreadCount(ctx, "BK1", "W")
	require.NoError(t, err)
	assert.Zero(t, count)

	// nothing left to mark: no event
	require.NoError(t, s.chat.MarkRead(ctx, "BK1", "W"))
	assertEmpty(t, c)
}
