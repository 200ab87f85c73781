package chat

import "fmt"

type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionError        ConnectionState = "error"
)

type TurnState string

const (
	TurnIdle        TurnState = "idle"
	TurnSending     TurnState = "sending"
	TurnThinking    TurnState = "thinking"
	TurnSearching   TurnState = "searching"
	TurnStreaming   TurnState = "streaming"
	TurnError       TurnState = "error"
	TurnRateLimited TurnState = "rate_limited"
)

type EventType string

// Connection axis events.
const (
	EventConnect         EventType = "CONNECT"
	EventConnected       EventType = "CONNECTED"
	EventDisconnected    EventType = "DISCONNECTED"
	EventConnectionError EventType = "CONNECTION_ERROR"
)

// Conversation axis events.
const (
	EventSendMessage         EventType = "SEND_MESSAGE"
	EventMessageAcknowledged EventType = "MESSAGE_ACKNOWLEDGED"
	EventStartThinking       EventType = "START_THINKING"
	EventStartSearching      EventType = "START_SEARCHING"
	EventStartStreaming      EventType = "START_STREAMING"
	EventResponseComplete    EventType = "RESPONSE_COMPLETE"
	EventConversationError   EventType = "CONVERSATION_ERROR"
	EventRateLimit           EventType = "RATE_LIMIT"
	EventClearError          EventType = "CLEAR_ERROR"
)

// EventReset belongs to neither axis and is accepted everywhere.
const EventReset EventType = "RESET"

type ErrorSource string

const (
	ErrorSourceConnection   ErrorSource = "connection"
	ErrorSourceConversation ErrorSource = "conversation"
)

// ErrorPayload is the detail kept alongside an Error or RateLimited state.
type ErrorPayload struct {
	Source    ErrorSource
	Message   string
	RateLimit bool
	ResetTime string
	UserType  string
}

type Event struct {
	Type     EventType
	Error    *ErrorPayload
	Metadata map[string]interface{}
}

// State is the complete client-visible chat state. The two axes move
// independently except that losing the connection always idles the turn.
type State struct {
	Connection   ConnectionState
	Conversation TurnState
	Error        *ErrorPayload
	Metadata     map[string]interface{}
}

func InitialState() State {
	return State{Connection: ConnectionDisconnected, Conversation: TurnIdle}
}

type Flags struct {
	CanSendMessage bool
	IsProcessing   bool
	IsConnected    bool
	HasError       bool
}

func (s State) Flags() Flags {
	return Flags{
		CanSendMessage: s.Connection == ConnectionConnected && s.Conversation == TurnIdle,
		IsProcessing:   s.Conversation.processing(),
		IsConnected:    s.Connection == ConnectionConnected,
		HasError: s.Conversation == TurnError ||
			s.Conversation == TurnRateLimited ||
			s.Connection == ConnectionError,
	}
}

func (t TurnState) processing() bool {
	switch t {
	case TurnSending, TurnThinking, TurnSearching, TurnStreaming:
		return true
	}
	return false
}

// TransitionError reports an event the current state does not accept. The
// state is left unchanged.
type TransitionError struct {
	Connection   ConnectionState
	Conversation TurnState
	Event        EventType
	Reason       string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s in (%s, %s): %s", e.Event, e.Connection, e.Conversation, e.Reason)
}
