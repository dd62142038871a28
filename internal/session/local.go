package session

import (
	"context"

	"marketplace-chat/backend/internal/media"
	"marketplace-chat/backend/internal/models"
	"marketplace-chat/backend/internal/service"
	"marketplace-chat/backend/internal/ws"
	pkgws "marketplace-chat/backend/pkg/ws"
)

// LocalBackend runs a session in the same process as the chat server. Its
// inbox is registered with the broker like any websocket connection.
type LocalBackend struct {
	userID string
	chat   *service.ChatService
	broker *ws.Broker
	media  *media.Store
	inbox  *ws.Inbox
}

// NewLocalBackend registers an inbox of the given size for userID. store may be nil.
func NewLocalBackend(userID string, chat *service.ChatService, broker *ws.Broker, store *media.Store, size int) *LocalBackend {
	inbox := ws.NewInbox(userID, size)
	broker.Register(inbox)
	return &LocalBackend{
		userID: userID,
		chat:   chat,
		broker: broker,
		media:  store,
		inbox:  inbox,
	}
}

func (b *LocalBackend) UserID() string             { return b.userID }
func (b *LocalBackend) Events() <-chan pkgws.Event { return b.inbox.Events() }

func (b *LocalBackend) Join(ctx context.Context, bookingID string) error {
	return b.broker.Join(ctx, bookingID, b.inbox)
}

func (b *LocalBackend) Leave(_ context.Context, bookingID string) error {
	b.broker.Leave(bookingID, b.inbox)
	return nil
}

func (b *LocalBackend) History(ctx context.Context, bookingID string) ([]models.Message, error) {
	return b.chat.History(ctx, bookingID, b.userID)
}

func (b *LocalBackend) Send(ctx context.Context, bookingID, content string, attachment *Attachment) (*models.Message, error) {
	var m *models.Media
	if attachment != nil && b.media != nil {
		stored, err := b.media.Save(ctx, attachment.Data)
		if err != nil {
			return nil, err
		}
		m = stored
	}
	msg, err := b.chat.SendMessage(ctx, bookingID, b.userID, content, m)
	if err != nil && m != nil {
		_ = b.media.Remove(m)
	}
	return msg, err
}

func (b *LocalBackend) React(ctx context.Context, messageID, emoji string) (*models.Message, error) {
	return b.chat.React(ctx, messageID, b.userID, emoji)
}

func (b *LocalBackend) MarkRead(ctx context.Context, bookingID string) error {
	return b.chat.MarkRead(ctx, bookingID, b.userID)
}

// Close disconnects the inbox; the broker drops its memberships
func (b *LocalBackend) Close() {
	b.inbox.Close()
}
