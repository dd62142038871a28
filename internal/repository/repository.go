// Package repository persists chat messages and reads bookings. Each backend
// (gorm, mongo, memory) satisfies the same interfaces.
package repository

import (
	"context"
	"errors"

	"marketplace-chat/backend/internal/models"
)

// ErrNotFound is returned when a message or booking does not exist
var ErrNotFound = errors.New("record not found")

// MessageRepository is the durable message store
type MessageRepository interface {
	// Create inserts a new message. Messages are never updated as a whole.
	Create(ctx context.Context, message *models.Message) error
	// GetByID loads one message with its reactions
	GetByID(ctx context.Context, id string) (*models.Message, error)
	// ListByBooking returns the booking's messages in ascending timestamp order
	ListByBooking(ctx context.Context, bookingID string) ([]models.Message, error)
	// AddReaction appends a reaction atomically and returns the updated message
	AddReaction(ctx context.Context, messageID string, reaction models.Reaction) (*models.Message, error)
	// MarkRead flags every message of the booking not sent by readerID as read
	MarkRead(ctx context.Context, bookingID, readerID string) (int64, error)
	// Ping checks connectivity
	Ping(ctx context.Context) error
}

// BookingRepository is the read side of the booking collaborator
type BookingRepository interface {
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	// Save upserts a booking projection
	Save(ctx context.Context, booking *models.Booking) error
}

func normalize(m *models.Message) {
	if m.Reactions == nil {
		m.Reactions = []models.Reaction{}
	}
}
