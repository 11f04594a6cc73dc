package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType represents the type of message
type MessageType string

const (
	// Client to Server
	MsgTypeIdentify    MessageType = "identify"
	MsgTypeSetLocation MessageType = "setLocation"
	MsgTypeKeepalive   MessageType = "keepalive"

	// Server to Client
	MsgTypeAck   MessageType = "ack"
	MsgTypeEvent MessageType = "event"
)

// BaseMessage is the common structure for all messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// IdentifyMessage must be the first message a client sends.
type IdentifyMessage struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"userId"`
}

// SetLocationMessage asks the server to monitor a new location for the
// identified user. The location is validated by the monitor, not here.
type SetLocationMessage struct {
	Type     MessageType `json:"type"`
	Location string      `json:"location"`
}

// KeepaliveMessage resets the connection's inactivity timer.
type KeepaliveMessage struct {
	Type MessageType `json:"type"`
}

// AckMessage is sent by the server in response to messages
type AckMessage struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

// AckStatus constants
const (
	AckStatusIdentified = "identified"
	AckStatusAlive      = "alive"
	AckStatusError      = "error"
)

// EventMessage carries a named event pushed to the client.
type EventMessage struct {
	Type    MessageType     `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ParseMessage parses a JSON line into the appropriate message type
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch base.Type {
	case MsgTypeIdentify:
		var msg IdentifyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid identify message: %w", err)
		}
		msg.UserID = strings.TrimSpace(msg.UserID)
		if msg.UserID == "" {
			return nil, fmt.Errorf("userId is required")
		}
		return &msg, nil

	case MsgTypeSetLocation:
		var msg SetLocationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid setLocation message: %w", err)
		}
		return &msg, nil

	case MsgTypeKeepalive:
		var msg KeepaliveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid keepalive message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", base.Type)
	}
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

// NewAckMessage creates a new acknowledgment message
func NewAckMessage(status string) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: status,
	}
}

// NewEventMessage wraps an encoded payload for delivery to a client.
func NewEventMessage(event string, payload json.RawMessage) *EventMessage {
	return &EventMessage{
		Type:    MsgTypeEvent,
		Event:   event,
		Payload: payload,
	}
}
