package service

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"marketplace-chat/backend/internal/models"
	"marketplace-chat/backend/internal/repository"
	"marketplace-chat/backend/pkg/cache"
	"marketplace-chat/backend/pkg/errors"
	"marketplace-chat/backend/pkg/logger"
	"marketplace-chat/backend/pkg/metrics"
	"marketplace-chat/backend/pkg/resilience"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "marketplace-chat/backend/internal/service"

// MessageService validates and persists messages and reactions.
// It never publishes; callers fan out after a successful write.
type MessageService struct {
	repo    repository.MessageRepository
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
	tracer  trace.Tracer
	latency metric.Float64Histogram

	clockMu sync.Mutex
	// last timestamp handed out per booking; idle bookings age out
	clock *cache.Cache[time.Time]
	now   func() time.Time
}

// clockWindow is how long a booking's last timestamp is remembered. Wall
// time passes any remembered value well within it.
const clockWindow = time.Minute

// NewMessageService creates a new message service
func NewMessageService(repo repository.MessageRepository, log *logger.Logger) *MessageService {
	cfg := resilience.DefaultCircuitBreakerConfig("message-store")
	cfg.IsFailure = func(err error) bool { return !stderrors.Is(err, repository.ErrNotFound) }

	latency, err := otel.Meter(instrumentationName).Float64Histogram(
		"chat.store.duration",
		metric.WithDescription("Message store call latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		log.Warn("Failed to create store latency histogram", "error", err.Error())
	}

	return &MessageService{
		repo:    repo,
		breaker: resilience.NewCircuitBreaker(cfg, log),
		log:     log,
		tracer:  otel.Tracer(instrumentationName),
		latency: latency,
		clock:   cache.New[time.Time](clockWindow, 10000),
		now:     time.Now,
	}
}

// nextTimestamp returns a millisecond timestamp strictly after the previous one for the booking
func (s *MessageService) nextTimestamp(bookingID string) time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	ts := s.now().UTC().Truncate(time.Millisecond)
	if prev, ok := s.clock.Get(bookingID); ok && !ts.After(prev) {
		ts = prev.Add(time.Millisecond)
	}
	s.clock.Set(bookingID, ts)
	return ts
}

// Clock exposes the per-booking timestamp cache so the caller can run its purge loop
func (s *MessageService) Clock() *cache.Cache[time.Time] {
	return s.clock
}

// call runs fn through the breaker inside a span and maps store errors onto the taxonomy
func (s *MessageService) call(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "MessageStore."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := s.breaker.Execute(ctx, fn)
	if s.latency != nil {
		s.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000,
			metric.WithAttributes(attribute.String("op", op)))
	}

	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	switch {
	case stderrors.Is(err, repository.ErrNotFound):
		return errors.NewNotFoundError(errors.CodeMessageNotFound, "Message not found")
	case stderrors.Is(err, resilience.ErrCircuitOpen):
		return errors.NewTransientError("Message store unavailable", err)
	default:
		logger.FromContext(ctx).LogError(err, "Message store call failed", "op", op)
		return errors.NewTransientError("Message store request failed", err)
	}
}

// AppendMessage persists a new text or media message
func (s *MessageService) AppendMessage(ctx context.Context, bookingID, senderID, content string, media *models.Media) (*models.Message, error) {
	if bookingID == "" || senderID == "" {
		return nil, errors.NewValidationError("bookingId and senderId are required")
	}
	hasMedia := media != nil && media.URL != ""
	if strings.TrimSpace(content) == "" && !hasMedia {
		return nil, errors.NewValidationError("Message must have content or media")
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		SenderID:  senderID,
		Content:   content,
		Type:      models.MessageTypeText,
		Reactions: []models.Reaction{},
	}
	if hasMedia {
		msg.Type = models.MessageTypeMedia
		msg.MediaURL = media.URL
		msg.MediaType = media.Type
	}
	msg.Timestamp = s.nextTimestamp(bookingID)

	err := s.call(ctx, "Create", []attribute.KeyValue{attribute.String("booking.id", bookingID)}, func(ctx context.Context) error {
		return s.repo.Create(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	metrics.MessagesCreated.WithLabelValues(string(msg.Type)).Inc()
	logger.FromContext(ctx).WithBooking(bookingID).Debug("Message stored", "message_id", msg.ID, "type", string(msg.Type))
	return msg, nil
}

// AddReaction appends a reaction and returns the message with its full reaction list
func (s *MessageService) AddReaction(ctx context.Context, messageID, userID, emoji string) (*models.Message, error) {
	if err := ValidateReaction(messageID, userID, emoji); err != nil {
		return nil, err
	}

	var updated *models.Message
	err := s.call(ctx, "AddReaction", []attribute.KeyValue{attribute.String("message.id", messageID)}, func(ctx context.Context) error {
		var err error
		updated, err = s.repo.AddReaction(ctx, messageID, models.Reaction{Emoji: emoji, UserID: userID})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.ReactionsAdded.Inc()
	return updated, nil
}

// ValidateReaction checks the input of AddReaction without touching the store
func ValidateReaction(messageID, userID, emoji string) error {
	if messageID == "" || userID == "" {
		return errors.NewValidationError("messageId and userId are required")
	}
	if !models.IsAllowedReaction(emoji) {
		return errors.NewValidationError("Reaction is not allowed").WithDetails(map[string]any{"allowed": models.AllowedReactions})
	}
	return nil
}

// GetMessage loads one message
func (s *MessageService) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	var m *models.Message
	err := s.call(ctx, "GetByID", []attribute.KeyValue{attribute.String("message.id", messageID)}, func(ctx context.Context) error {
		var err error
		m, err = s.repo.GetByID(ctx, messageID)
		return err
	})
	return m, err
}

// ListMessages returns the booking's history in storage order
func (s *MessageService) ListMessages(ctx context.Context, bookingID string) ([]models.Message, error) {
	var out []models.Message
	err := s.call(ctx, "ListByBooking", []attribute.KeyValue{attribute.String("booking.id", bookingID)}, func(ctx context.Context) error {
		var err error
		out, err = s.repo.ListByBooking(ctx, bookingID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Message{}
	}
	return out, nil
}

// MarkRead flags the booking's messages not sent by readerID as read
func (s *MessageService) MarkRead(ctx context.Context, bookingID, readerID string) (int64, error) {
	var n int64
	err := s.call(ctx, "MarkRead", []attribute.KeyValue{attribute.String("booking.id", bookingID)}, func(ctx context.Context) error {
		var err error
		n, err = s.repo.MarkRead(ctx, bookingID, readerID)
		return err
	})
	return n, err
}

// Ping checks the store
func (s *MessageService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
