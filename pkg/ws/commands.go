package ws

import (
	"encoding/json"
	"fmt"
)

// CommandType names a client to server frame
type CommandType string

const (
	CommandJoinRoom         CommandType = "joinRoom"
	CommandLeaveRoom        CommandType = "leaveRoom"
	CommandSendMessage      CommandType = "sendMessage"
	CommandMessageReaction  CommandType = "messageReaction"
	CommandMarkMessagesRead CommandType = "markMessagesRead"
)

// Command is a client to server frame
type Command interface {
	CommandType() CommandType
}

type JoinRoom struct {
	BookingID string `json:"bookingId"`
}

type LeaveRoom struct {
	BookingID string `json:"bookingId"`
}

// OutgoingMessage is the client supplied part of a new message. Ids and timestamps are server assigned.
type OutgoingMessage struct {
	Content string `json:"content"`
}

type SendMessage struct {
	Room    string          `json:"room"`
	Message OutgoingMessage `json:"message"`
}

type ReactionInput struct {
	Emoji string `json:"emoji"`
}

type MessageReaction struct {
	Room      string        `json:"room"`
	MessageID string        `json:"messageId"`
	Reaction  ReactionInput `json:"reaction"`
}

type MarkMessagesRead struct {
	BookingID string `json:"bookingId"`
}

func (JoinRoom) CommandType() CommandType         { return CommandJoinRoom }
func (LeaveRoom) CommandType() CommandType        { return CommandLeaveRoom }
func (SendMessage) CommandType() CommandType      { return CommandSendMessage }
func (MessageReaction) CommandType() CommandType  { return CommandMessageReaction }
func (MarkMessagesRead) CommandType() CommandType { return CommandMarkMessagesRead }

// EncodeCommand renders cmd as an Envelope
func EncodeCommand(cmd Command) ([]byte, error) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: string(cmd.CommandType()), Payload: raw})
}

// DecodeCommand parses a client frame
func DecodeCommand(data []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	var cmd Command
	switch CommandType(env.Type) {
	case CommandJoinRoom:
		var c JoinRoom
		if err := json.Unmarshal(env.Payload, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CommandLeaveRoom:
		var c LeaveRoom
		if err := json.Unmarshal(env.Payload, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CommandSendMessage:
		var c SendMessage
		if err := json.Unmarshal(env.Payload, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CommandMessageReaction:
		var c MessageReaction
		if err := json.Unmarshal(env.Payload, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CommandMarkMessagesRead:
		var c MarkMessagesRead
		if err := json.Unmarshal(env.Payload, &c); err != nil {
			return nil, err
		}
		cmd = c
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return cmd, nil
}
