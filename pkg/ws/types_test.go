package ws

import (
	"encoding/json"
	"testing"
	"time"

	"marketplace-chat/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessageCreatedUsesMessageAsPayload(t *testing.T) {
	m := models.Message{
		ID:        "m1",
		BookingID: "BK1",
		SenderID:  "c1",
		Content:   "Hello",
		Type:      models.MessageTypeText,
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Reactions: []models.Reaction{},
	}

	data, err := EncodeEvent(MessageCreated{Message: m})
	require.NoError(t, err)

	var env struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "receiveMessage", env.Type)
	assert.Equal(t, "Hello", env.Payload["content"])
	assert.Equal(t, "c1", env.Payload["senderId"])

	evt, err := DecodeEvent(data)
	require.NoError(t, err)
	created, ok := evt.(MessageCreated)
	require.True(t, ok)
	assert.Equal(t, "BK1", created.Room())
	assert.True(t, m.Timestamp.Equal(created.Message.Timestamp))
}

func TestDecodeEventVariants(t *testing.T) {
	events := []Event{
		ReactionUpdated{BookingID: "BK1", MessageID: "m1", Reactions: []models.Reaction{{Emoji: "👍", UserID: "w1"}}},
		NewMessageNotification{BookingID: "BK1", SenderID: "c1", UnreadCount: 3},
		MessagesRead{BookingID: "BK1", ReaderID: "w1"},
		RoomJoined{BookingID: "BK1"},
		ErrorEvent{BookingID: "BK1", Code: "FORBIDDEN", Message: "no"},
	}
	for _, evt := range events {
		data, err := EncodeEvent(evt)
		require.NoError(t, err)
		got, err := DecodeEvent(data)
		require.NoError(t, err)
		assert.Equal(t, evt, got)
	}
}

func TestDecodeUnknownFrames(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"bogus","payload":{}}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = DecodeCommand([]byte(`{"type":"bogus","payload":{}}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = DecodeCommand([]byte(`not json`))
	assert.Error(t, err)
}

func TestCommandsDecode(t *testing.T) {
	frame := `{"type":"messageReaction","payload":{"room":"BK1","messageId":"m1","reaction":{"emoji":"👍"}}}`
	cmd, err := DecodeCommand([]byte(frame))
	require.NoError(t, err)
	assert.Equal(t, MessageReaction{Room: "BK1", MessageID: "m1", Reaction: ReactionInput{Emoji: "👍"}}, cmd)

	data, err := EncodeCommand(SendMessage{Room: "BK1", Message: OutgoingMessage{Content: "hi"}})
	require.NoError(t, err)
	cmd, err = DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, SendMessage{Room: "BK1", Message: OutgoingMessage{Content: "hi"}}, cmd)
}
