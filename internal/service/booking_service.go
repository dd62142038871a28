package service

import (
	"context"
	stderrors "errors"
	"time"

	"marketplace-chat/backend/internal/models"
	"marketplace-chat/backend/internal/repository"
	"marketplace-chat/backend/pkg/cache"
	"marketplace-chat/backend/pkg/errors"
	"marketplace-chat/backend/pkg/logger"
)

// BookingService answers the two questions the chat asks the booking
// collaborator: does the booking allow chat, and is the caller on it.
// Lookups are cached, so status changes show up within the cache TTL.
type BookingService struct {
	repo  repository.BookingRepository
	cache *cache.Cache[models.Booking]
	log   *logger.Logger
}

// NewBookingService creates a booking service. ttl <= 0 disables caching.
func NewBookingService(repo repository.BookingRepository, ttl time.Duration, log *logger.Logger) *BookingService {
	s := &BookingService{repo: repo, log: log}
	if ttl > 0 {
		s.cache = cache.New[models.Booking](ttl, 10000)
	}
	return s
}

// Cache exposes the lookup cache so the caller can run its purge loop
func (s *BookingService) Cache() *cache.Cache[models.Booking] {
	return s.cache
}

// GetBooking loads a booking, mapping a miss to NotFound
func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	if bookingID == "" {
		return nil, errors.NewValidationError("bookingId is required")
	}
	if s.cache != nil {
		if b, ok := s.cache.Get(bookingID); ok {
			return &b, nil
		}
	}

	b, err := s.repo.GetByID(ctx, bookingID)
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.NewNotFoundError(errors.CodeBookingNotFound, "Booking not found")
	}
	if err != nil {
		return nil, errors.NewTransientError("Booking lookup failed", err)
	}

	if s.cache != nil {
		s.cache.Set(bookingID, *b)
	}
	return b, nil
}

// Invalidate drops a cached booking, e.g. after a status change
func (s *BookingService) Invalidate(bookingID string) {
	if s.cache != nil {
		s.cache.Delete(bookingID)
	}
}

// RequireParticipant returns the booking if userID is its customer or worker
func (s *BookingService) RequireParticipant(ctx context.Context, bookingID, userID string) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(userID) {
		return nil, errors.NewForbiddenError(errors.CodeNotParticipant, "You are not a participant of this booking")
	}
	return b, nil
}

// RequireChat additionally requires the booking status to allow chat
func (s *BookingService) RequireChat(ctx context.Context, bookingID, userID string) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.ChatAllowed() {
		return nil, errors.NewForbiddenError(errors.CodeChatNotAllowed, "Chat is not available for this booking").
			WithDetails(map[string]any{"status": b.Status})
	}
	if !b.IsParticipant(userID) {
		return nil, errors.NewForbiddenError(errors.CodeNotParticipant, "You are not a participant of this booking")
	}
	return b, nil
}

// AuthorizeJoin gates room membership
func (s *BookingService) AuthorizeJoin(ctx context.Context, bookingID, userID string) error {
	_, err := s.RequireChat(ctx, bookingID, userID)
	return err
}
