// Package ws defines the frames exchanged over the chat websocket.
//
// Every frame is an Envelope {"type": ..., "payload": ...}. Server frames
// decode to an Event, client frames to a Command; both sets are closed.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"marketplace-chat/backend/internal/models"
)

// ErrUnknownType is returned for frames whose type is not part of the protocol
var ErrUnknownType = errors.New("unknown frame type")

// Envelope is the JSON frame on the wire
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Kind names a server to client event
type Kind string

const (
	KindMessageCreated         Kind = "receiveMessage"
	KindReactionUpdated        Kind = "messageReactionUpdate"
	KindNewMessageNotification Kind = "newMessageNotification"
	KindMessagesRead           Kind = "messagesRead"
	KindRoomJoined             Kind = "roomJoined"
	KindError                  Kind = "error"
)

// Event is a server to client frame. Room returns the booking it concerns.
type Event interface {
	Kind() Kind
	Room() string
}

// MessageCreated carries a freshly persisted message
type MessageCreated struct {
	Message models.Message
}

func (e MessageCreated) Kind() Kind   { return KindMessageCreated }
func (e MessageCreated) Room() string { return e.Message.BookingID }

// ReactionUpdated carries the full reaction list of one message
type ReactionUpdated struct {
	BookingID string            `json:"bookingId"`
	MessageID string            `json:"messageId"`
	Reactions []models.Reaction `json:"reactions"`
}

func (e ReactionUpdated) Kind() Kind   { return KindReactionUpdated }
func (e ReactionUpdated) Room() string { return e.BookingID }

// NewMessageNotification badges a booking for a participant outside the room
type NewMessageNotification struct {
	BookingID   string `json:"bookingId"`
	SenderID    string `json:"senderId"`
	UnreadCount int64  `json:"unreadCount"`
}

func (e NewMessageNotification) Kind() Kind   { return KindNewMessageNotification }
func (e NewMessageNotification) Room() string { return e.BookingID }

// MessagesRead says ReaderID has read everything in the booking
type MessagesRead struct {
	BookingID string `json:"bookingId"`
	ReaderID  string `json:"readerId"`
}

func (e MessagesRead) Kind() Kind   { return KindMessagesRead }
func (e MessagesRead) Room() string { return e.BookingID }

// RoomJoined acknowledges a joinRoom command
type RoomJoined struct {
	BookingID string `json:"bookingId"`
}

func (e RoomJoined) Kind() Kind   { return KindRoomJoined }
func (e RoomJoined) Room() string { return e.BookingID }

// ErrorEvent reports a failed command
type ErrorEvent struct {
	BookingID string `json:"bookingId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e ErrorEvent) Kind() Kind   { return KindError }
func (e ErrorEvent) Room() string { return e.BookingID }

func payloadOf(evt Event) (any, error) {
	switch e := evt.(type) {
	case MessageCreated:
		return e.Message, nil
	case ReactionUpdated, NewMessageNotification, MessagesRead, RoomJoined, ErrorEvent:
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, evt)
	}
}

// EncodeEvent renders evt as an Envelope
func EncodeEvent(evt Event) ([]byte, error) {
	payload, err := payloadOf(evt)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: string(evt.Kind()), Payload: raw})
}

// DecodeEvent parses a server frame
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch Kind(env.Type) {
	case KindMessageCreated:
		var m models.Message
		err := json.Unmarshal(env.Payload, &m)
		return MessageCreated{Message: m}, err
	case KindReactionUpdated:
		var e ReactionUpdated
		err := json.Unmarshal(env.Payload, &e)
		return e, err
	case KindNewMessageNotification:
		var e NewMessageNotification
		err := json.Unmarshal(env.Payload, &e)
		return e, err
	case KindMessagesRead:
		var e MessagesRead
		err := json.Unmarshal(env.Payload, &e)
		return e, err
	case KindRoomJoined:
		var e RoomJoined
		err := json.Unmarshal(env.Payload, &e)
		return e, err
	case KindError:
		var e ErrorEvent
		err := json.Unmarshal(env.Payload, &e)
		return e, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}
