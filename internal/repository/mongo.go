package repository

import (
	"context"
	"errors"
	"time"

	"marketplace-chat/backend/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	messagesCollection = "chat_messages"
	bookingsCollection = "bookings"
)

// MongoMessageRepository stores messages as documents with embedded reactions
type MongoMessageRepository struct {
	db   *mongo.Database
	coll *mongo.Collection
}

func NewMongoMessageRepository(db *mongo.Database) *MongoMessageRepository {
	return &MongoMessageRepository{db: db, coll: db.Collection(messagesCollection)}
}

// EnsureIndexes creates the (bookingId, timestamp) index used by history reads
func (r *MongoMessageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "bookingId", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	return err
}

func (r *MongoMessageRepository) Create(ctx context.Context, message *models.Message) error {
	// $push needs an array, never null
	normalize(message)
	_, err := r.coll.InsertOne(ctx, message)
	return err
}

func (r *MongoMessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var message models.Message
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&message)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	normalize(&message)
	return &message, nil
}

func (r *MongoMessageRepository) ListByBooking(ctx context.Context, bookingID string) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.coll.Find(ctx, bson.M{"bookingId": bookingID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []models.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	for i := range messages {
		normalize(&messages[i])
	}
	return messages, nil
}

// AddReaction uses a single-document $push, which the server applies atomically
func (r *MongoMessageRepository) AddReaction(ctx context.Context, messageID string, reaction models.Reaction) (*models.Message, error) {
	if reaction.CreatedAt.IsZero() {
		reaction.CreatedAt = time.Now().UTC()
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var message models.Message
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": messageID},
		bson.M{"$push": bson.M{"reactions": reaction}},
		opts,
	).Decode(&message)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	normalize(&message)
	return &message, nil
}

func (r *MongoMessageRepository) MarkRead(ctx context.Context, bookingID, readerID string) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"bookingId": bookingID, "senderId": bson.M{"$ne": readerID}, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoMessageRepository) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, nil)
}

type MongoBookingRepository struct {
	coll *mongo.Collection
}

func NewMongoBookingRepository(db *mongo.Database) *MongoBookingRepository {
	return &MongoBookingRepository{coll: db.Collection(bookingsCollection)}
}

func (r *MongoBookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&booking)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *MongoBookingRepository) Save(ctx context.Context, booking *models.Booking) error {
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": booking.ID}, booking, options.Replace().SetUpsert(true))
	return err
}
