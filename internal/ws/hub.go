package ws

import (
	"context"
	"net/http"
	"sync/atomic"

	"marketplace-chat/backend/internal/models"
	"marketplace-chat/backend/pkg/errors"
	"marketplace-chat/backend/pkg/logger"
	"marketplace-chat/backend/pkg/metrics"
	pkgws "marketplace-chat/backend/pkg/ws"

	"github.com/gorilla/websocket"
)

// ChatService is what the hub needs to execute client commands
type ChatService interface {
	SendMessage(ctx context.Context, bookingID, senderID, content string, media *models.Media) (*models.Message, error)
	ReactInRoom(ctx context.Context, room, messageID, userID, emoji string) (*models.Message, error)
	MarkRead(ctx context.Context, bookingID, readerID string) error
}

// Hub owns websocket clients and turns their commands into broker and chat calls
type Hub struct {
	broker  *Broker
	chat    ChatService
	opts    ClientOptions
	log     *logger.Logger
	clients atomic.Int64
}

// NewHub creates a new hub
func NewHub(broker *Broker, chat ChatService, opts ClientOptions, log *logger.Logger) *Hub {
	return &Hub{broker: broker, chat: chat, opts: opts, log: log}
}

// Connect wraps conn in a Client, registers it with the broker and starts its pumps
func (h *Hub) Connect(conn *websocket.Conn, userID string) *Client {
	c := newClient(h, conn, userID, h.opts, h.log)
	h.broker.Register(c)

	h.clients.Add(1)
	metrics.Connections.Inc()
	go func() {
		<-c.Done()
		h.clients.Add(-1)
		metrics.Connections.Dec()
	}()

	c.Start()
	c.log.Info("Websocket client connected")
	return c
}

// Clients returns the number of open connections
func (h *Hub) Clients() int64 {
	return h.clients.Load()
}

// Dispatch executes one client command
func (h *Hub) Dispatch(ctx context.Context, c *Client, cmd pkgws.Command) {
	switch cmd := cmd.(type) {
	case pkgws.JoinRoom:
		if err := h.broker.Join(ctx, cmd.BookingID, c); err != nil {
			h.replyError(c, cmd.BookingID, err)
			return
		}
		c.Enqueue(pkgws.RoomJoined{BookingID: cmd.BookingID})

	case pkgws.LeaveRoom:
		h.broker.Leave(cmd.BookingID, c)

	case pkgws.SendMessage:
		if _, err := h.chat.SendMessage(ctx, cmd.Room, c.UserID(), cmd.Message.Content, nil); err != nil {
			h.replyError(c, cmd.Room, err)
		}

	case pkgws.MessageReaction:
		if _, err := h.chat.ReactInRoom(ctx, cmd.Room, cmd.MessageID, c.UserID(), cmd.Reaction.Emoji); err != nil {
			h.replyError(c, cmd.Room, err)
		}

	case pkgws.MarkMessagesRead:
		if err := h.chat.MarkRead(ctx, cmd.BookingID, c.UserID()); err != nil {
			h.replyError(c, cmd.BookingID, err)
		}

	default:
		h.replyError(c, "", errors.NewValidationError("Unsupported command"))
	}
}

func (h *Hub) replyError(c *Client, bookingID string, err error) {
	appErr := errors.FromError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		c.log.WithBooking(bookingID).Error("Websocket command failed", "code", appErr.Code, "error", appErr.Error())
	} else {
		c.log.WithBooking(bookingID).Info("Websocket command rejected", "code", appErr.Code, "message", appErr.Message)
	}
	c.Enqueue(pkgws.ErrorEvent{BookingID: bookingID, Code: appErr.Code, Message: appErr.Message})
}
