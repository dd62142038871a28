package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketplace-chat/backend/internal/models"
)

// MemoryMessageRepository keeps messages in process. Used for local runs and tests.
type MemoryMessageRepository struct {
	mu        sync.RWMutex
	byID      map[string]*models.Message
	byBooking map[string][]*models.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{
		byID:      make(map[string]*models.Message),
		byBooking: make(map[string][]*models.Message),
	}
}

func clone(m *models.Message) models.Message {
	out := *m
	out.Reactions = append([]models.Reaction{}, m.Reactions...)
	return out
}

func (r *MemoryMessageRepository) Create(_ context.Context, message *models.Message) error {
	stored := clone(message)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[stored.ID] = &stored
	list := append(r.byBooking[stored.BookingID], &stored)
	// equal timestamps fall back to id, as the database stores do
	sort.Slice(list, func(i, j int) bool {
		if !list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Timestamp.Before(list[j].Timestamp)
		}
		return list[i].ID < list[j].ID
	})
	r.byBooking[stored.BookingID] = list
	return nil
}

func (r *MemoryMessageRepository) GetByID(_ context.Context, id string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(m)
	return &out, nil
}

func (r *MemoryMessageRepository) ListByBooking(_ context.Context, bookingID string) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byBooking[bookingID]
	out := make([]models.Message, 0, len(list))
	for _, m := range list {
		out = append(out, clone(m))
	}
	return out, nil
}

func (r *MemoryMessageRepository) AddReaction(_ context.Context, messageID string, reaction models.Reaction) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	if reaction.CreatedAt.IsZero() {
		reaction.CreatedAt = time.Now().UTC()
	}
	reaction.MessageID = messageID
	m.Reactions = append(m.Reactions, reaction)
	out := clone(m)
	return &out, nil
}

func (r *MemoryMessageRepository) MarkRead(_ context.Context, bookingID, readerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.byBooking[bookingID] {
		if m.SenderID != readerID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (r *MemoryMessageRepository) Ping(context.Context) error { return nil }

// MemoryBookingRepository is a fixed booking table
type MemoryBookingRepository struct {
	mu       sync.RWMutex
	bookings map[string]models.Booking
}

func NewMemoryBookingRepository(bookings ...models.Booking) *MemoryBookingRepository {
	r := &MemoryBookingRepository{bookings: make(map[string]models.Booking, len(bookings))}
	for _, b := range bookings {
		r.bookings[b.ID] = b
	}
	return r
}

func (r *MemoryBookingRepository) GetByID(_ context.Context, id string) (*models.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (r *MemoryBookingRepository) Save(_ context.Context, booking *models.Booking) error {
	r.mu.Lock()
	r.bookings[booking.ID] = *booking
	r.mu.Unlock()
	return nil
}
