package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event defines the contract for all client events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "connection.open").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Connection lifecycle event types, published by the transport.
const (
	TypeConnectionConnecting = "connection.connecting"
	TypeConnectionOpen       = "connection.open"
	TypeConnectionError      = "connection.error"
	TypeConnectionClosed     = "connection.closed"
	TypeReconnectScheduled   = "connection.reconnect_scheduled"
	TypeReconnectGaveUp      = "connection.gave_up"
	TypeConversationCreated  = "conversation.created"
)

// ConnectionEvents matches every connection.* type on a wildcard-aware bus.
const ConnectionEvents = "connection.>"


// BaseEvent is the one concrete Event used across the client.
type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// envelope is the wire form; it keeps type and time next to the payload so
// consumers don't have to recover them from the subject.
type envelope struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(envelope{Type: e.EventType(), Data: e.Payload(), OccurredAt: e.Timestamp()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.EventType(), err)
	}
	return data, nil
}

func Decode(data []byte) (BaseEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return BaseEvent{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if env.Type == "" {
		return BaseEvent{}, fmt.Errorf("event has no type")
	}
	return BaseEvent{Type: env.Type, Data: env.Data, OccurredAt: env.OccurredAt}, nil
}
