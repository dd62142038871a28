package repository

import (
	"context"
	"errors"
	"time"

	"marketplace-chat/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AutoMigrate creates the chat tables and the booking projection
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Booking{}, &models.Message{}, &models.Reaction{})
}

type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func orderedReactions(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

func (r *GormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(message).Error
}

func (r *GormMessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).Preload("Reactions", orderedReactions).First(&message, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	normalize(&message)
	return &message, nil
}

func (r *GormMessageRepository) ListByBooking(ctx context.Context, bookingID string) ([]models.Message, error) {
	messages := []models.Message{}
	err := r.db.WithContext(ctx).
		Preload("Reactions", orderedReactions).
		Where("booking_id = ?", bookingID).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i := range messages {
		normalize(&messages[i])
	}
	return messages, nil
}

// AddReaction inserts a reaction row. Concurrent reactions are independent
// inserts, so none can overwrite another.
func (r *GormMessageRepository) AddReaction(ctx context.Context, messageID string, reaction models.Reaction) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&models.Message{}, "id = ?", messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		reaction.ID = 0
		reaction.MessageID = messageID
		if reaction.CreatedAt.IsZero() {
			reaction.CreatedAt = time.Now().UTC()
		}
		if err := tx.Create(&reaction).Error; err != nil {
			return err
		}

		return tx.Preload("Reactions", orderedReactions).First(&message, "id = ?", messageID).Error
	})
	if err != nil {
		return nil, err
	}
	normalize(&message)
	return &message, nil
}

func (r *GormMessageRepository) MarkRead(ctx context.Context, bookingID, readerID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("booking_id = ? AND sender_id <> ? AND is_read = ?", bookingID, readerID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

func (r *GormMessageRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type GormBookingRepository struct {
	db *gorm.DB
}

func NewGormBookingRepository(db *gorm.DB) *GormBookingRepository {
	return &GormBookingRepository{db: db}
}

func (r *GormBookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.WithContext(ctx).First(&booking, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *GormBookingRepository) Save(ctx context.Context, booking *models.Booking) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"customer_id", "worker_id", "status", "updated_at"}),
	}).Create(booking).Error
}
