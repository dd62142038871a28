package models

import (
	"time"
)

// MessageType distinguishes plain text from uploaded media
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeMedia MessageType = "media"
)

// Message is a chat message scoped to one booking. Only Reactions and IsRead change after creation.
type Message struct {
	ID        string      `json:"id" gorm:"primaryKey;size:36" bson:"_id"`
	BookingID string      `json:"bookingId" gorm:"index:idx_chat_messages_booking_ts,priority:1;size:64;not null" bson:"bookingId"`
	SenderID  string      `json:"senderId" gorm:"size:64;not null" bson:"senderId"`
	Content   string      `json:"content" bson:"content"`
	Type      MessageType `json:"type" gorm:"size:16;not null" bson:"type"`
	MediaURL  string      `json:"mediaUrl,omitempty" bson:"mediaUrl,omitempty"`
	MediaType string      `json:"mediaType,omitempty" gorm:"size:128" bson:"mediaType,omitempty"`
	Timestamp time.Time   `json:"timestamp" gorm:"index:idx_chat_messages_booking_ts,priority:2;not null" bson:"timestamp"`
	Reactions []Reaction  `json:"reactions" gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" bson:"reactions"`
	IsRead    bool        `json:"isRead" gorm:"not null;default:false" bson:"isRead"`
}

// TableName keeps chat tables grouped
func (Message) TableName() string { return "chat_messages" }

// IsMedia reports whether the message carries an attachment
func (m *Message) IsMedia() bool { return m.Type == MessageTypeMedia }

// Reaction is a single emoji reaction. A user may react many times with different emoji.
type Reaction struct {
	ID        uint      `json:"-" gorm:"primaryKey" bson:"-"`
	MessageID string    `json:"-" gorm:"index;size:36;not null" bson:"-"`
	Emoji     string    `json:"emoji" gorm:"size:16;not null" bson:"emoji"`
	UserID    string    `json:"userId" gorm:"size:64;not null" bson:"userId"`
	CreatedAt time.Time `json:"-" bson:"createdAt"`
}

// TableName keeps chat tables grouped
func (Reaction) TableName() string { return "chat_message_reactions" }

// AllowedReactions is the fixed emoji palette offered by the chat UI
var AllowedReactions = []string{"👍", "❤️", "😊", "😂", "😮", "😢", "😡"}

var allowedReactionSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(AllowedReactions))
	for _, e := range AllowedReactions {
		set[e] = struct{}{}
	}
	return set
}()

// IsAllowedReaction reports whether emoji is part of the palette
func IsAllowedReaction(emoji string) bool {
	_, ok := allowedReactionSet[emoji]
	return ok
}

// Media describes an already stored attachment
type Media struct {
	URL  string
	Type string
}
