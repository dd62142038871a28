package service

import (
	"context"

	"marketplace-chat/backend/internal/models"
	"marketplace-chat/backend/internal/unread"
	"marketplace-chat/backend/pkg/errors"
	"marketplace-chat/backend/pkg/logger"
	pkgws "marketplace-chat/backend/pkg/ws"
)

// Publisher fans events out to room members or to every connection of a user
type Publisher interface {
	Publish(bookingID string, evt pkgws.Event) int
	NotifyUser(userID string, evt pkgws.Event) int
}

// ChatService orchestrates persist-then-publish for every chat write
type ChatService struct {
	messages  *MessageService
	bookings  *BookingService
	tracker   *unread.Tracker
	publisher Publisher
	log       *logger.Logger
}

// NewChatService creates a new chat service
func NewChatService(messages *MessageService, bookings *BookingService, tracker *unread.Tracker, publisher Publisher, log *logger.Logger) *ChatService {
	return &ChatService{
		messages:  messages,
		bookings:  bookings,
		tracker:   tracker,
		publisher: publisher,
		log:       log,
	}
}

func (s *ChatService) publish(bookingID string, evt pkgws.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(bookingID, evt)
}

// History returns the booking's messages to one of its participants
func (s *ChatService) History(ctx context.Context, bookingID, userID string) ([]models.Message, error) {
	if _, err := s.bookings.RequireParticipant(ctx, bookingID, userID); err != nil {
		return nil, err
	}
	return s.messages.ListMessages(ctx, bookingID)
}

// CanSend reports whether userID may currently post in the booking's chat.
// Used to reject uploads before they are written.
func (s *ChatService) CanSend(ctx context.Context, bookingID, userID string) error {
	_, err := s.bookings.RequireChat(ctx, bookingID, userID)
	return err
}

// SendMessage persists a message, publishes it to the room and updates the
// counterpart's unread counter when they are not in the room.
func (s *ChatService) SendMessage(ctx context.Context, bookingID, senderID, content string, media *models.Media) (*models.Message, error) {
	booking, err := s.bookings.RequireChat(ctx, bookingID, senderID)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.AppendMessage(ctx, bookingID, senderID, content, media)
	if err != nil {
		return nil, err
	}

	s.publish(bookingID, pkgws.MessageCreated{Message: *msg})
	s.notifyUnread(ctx, booking, msg)
	return msg, nil
}

func (s *ChatService) notifyUnread(ctx context.Context, booking *models.Booking, msg *models.Message) {
	if s.tracker == nil {
		return
	}
	viewer := booking.Counterpart(msg.SenderID)
	count, incremented, err := s.tracker.OnMessageCreated(ctx, booking.ID, msg.SenderID, viewer)
	if err != nil {
		// counters are advisory; the message is already stored and delivered
		logger.FromContext(ctx).WithBooking(booking.ID).LogError(err, "Failed to update unread counter", "viewer", viewer)
		return
	}
	if incremented && s.publisher != nil {
		s.publisher.NotifyUser(viewer, pkgws.NewMessageNotification{
			BookingID:   booking.ID,
			SenderID:    msg.SenderID,
			UnreadCount: count,
		})
	}
}

// React adds a reaction and publishes the message's full reaction list
func (s *ChatService) React(ctx context.Context, messageID, userID, emoji string) (*models.Message, error) {
	return s.ReactInRoom(ctx, "", messageID, userID, emoji)
}

// ReactInRoom is React for a client that names the room it reacts from. A
// message from another booking is rejected before anything is stored.
func (s *ChatService) ReactInRoom(ctx context.Context, room, messageID, userID, emoji string) (*models.Message, error) {
	if err := ValidateReaction(messageID, userID, emoji); err != nil {
		return nil, err
	}

	current, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if room != "" && current.BookingID != room {
		return nil, errors.NewValidationError("Message does not belong to this booking").
			WithDetails(map[string]any{"room": room, "messageId": messageID})
	}
	if _, err := s.bookings.RequireChat(ctx, current.BookingID, userID); err != nil {
		return nil, err
	}

	updated, err := s.messages.AddReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return nil, err
	}

	s.publish(updated.BookingID, pkgws.ReactionUpdated{
		BookingID: updated.BookingID,
		MessageID: updated.ID,
		Reactions: updated.Reactions,
	})
	return updated, nil
}

// MarkRead marks everything the reader received as read, resets their counter
// and tells the room.
func (s *ChatService) MarkRead(ctx context.Context, bookingID, readerID string) error {
	if _, err := s.bookings.RequireParticipant(ctx, bookingID, readerID); err != nil {
		return err
	}

	n, err := s.messages.MarkRead(ctx, bookingID, readerID)
	if err != nil {
		return err
	}

	if s.tracker != nil {
		if err := s.tracker.MarkRead(ctx, bookingID, readerID); err != nil {
			logger.FromContext(ctx).WithBooking(bookingID).LogError(err, "Failed to reset unread counter", "viewer", readerID)
		}
	}

	if n > 0 {
		s.publish(bookingID, pkgws.MessagesRead{BookingID: bookingID, ReaderID: readerID})
	}
	return nil
}

// UnreadCount returns the caller's unread counter for the booking
func (s *ChatService) UnreadCount(ctx context.Context, bookingID, viewerID string) (int64, error) {
	if _, err := s.bookings.RequireParticipant(ctx, bookingID, viewerID); err != nil {
		return 0, err
	}
	if s.tracker == nil {
		return 0, nil
	}
	n, err := s.tracker.Count(ctx, bookingID, viewerID)
	if err != nil {
		return 0, errors.NewTransientError("Unread counter unavailable", err)
	}
	return n, nil
}
