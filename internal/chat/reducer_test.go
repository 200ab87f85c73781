package chat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	allConnections = []ConnectionState{ConnectionDisconnected, ConnectionConnecting, ConnectionConnected, ConnectionError}
	allTurns       = []TurnState{TurnIdle, TurnSending, TurnThinking, TurnSearching, TurnStreaming, TurnError, TurnRateLimited}
)

func st(c ConnectionState, t TurnState) State {
	return State{Connection: c, Conversation: t}
}

func TestConnectionTransitions(t *testing.T) {
	tests := []struct {
		from  ConnectionState
		event EventType
		want  ConnectionState
	}{
		{ConnectionDisconnected, EventConnect, ConnectionConnecting},
		{ConnectionDisconnected, EventConnected, ConnectionConnected},
		{ConnectionConnecting, EventConnected, ConnectionConnected},
		{ConnectionConnecting, EventConnectionError, ConnectionError},
		{ConnectionConnecting, EventDisconnected, ConnectionDisconnected},
		{ConnectionConnected, EventDisconnected, ConnectionDisconnected},
		{ConnectionConnected, EventConnectionError, ConnectionError},
		{ConnectionError, EventConnect, ConnectionConnecting},
		{ConnectionError, EventConnected, ConnectionConnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			next, err := Reduce(st(tt.from, TurnIdle), Event{Type: tt.event})
			require.NoError(t, err)
			assert.Equal(t, tt.want, next.Connection)
		})
	}
}

func TestRejectedConnectionTransitions(t *testing.T) {
	tests := []struct {
		from  ConnectionState
		event EventType
	}{
		{ConnectionConnected, EventConnect},
		{ConnectionConnected, EventConnected},
		{ConnectionConnecting, EventConnect},
		{ConnectionDisconnected, EventDisconnected},
		{ConnectionError, EventDisconnected},
		{ConnectionError, EventConnectionError},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			before := st(tt.from, TurnIdle)
			next, err := Reduce(before, Event{Type: tt.event})

			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.event, te.Event)
			assert.Equal(t, tt.from, te.Connection)
			assert.Equal(t, before, next)
		})
	}
}

func TestConversationTransitions(t *testing.T) {
	tests := []struct {
		from  TurnState
		event EventType
		want  TurnState
	}{
		{TurnIdle, EventSendMessage, TurnSending},
		{TurnSending, EventMessageAcknowledged, TurnThinking},
		{TurnSending, EventStartThinking, TurnThinking},
		{TurnSending, EventResponseComplete, TurnIdle},
		{TurnSending, EventConversationError, TurnError},
		{TurnSending, EventRateLimit, TurnRateLimited},
		{TurnThinking, EventStartSearching, TurnSearching},
		{TurnThinking, EventStartStreaming, TurnStreaming},
		{TurnThinking, EventResponseComplete, TurnIdle},
		{TurnThinking, EventConversationError, TurnError},
		{TurnSearching, EventStartThinking, TurnThinking},
		{TurnSearching, EventStartStreaming, TurnStreaming},
		{TurnSearching, EventResponseComplete, TurnIdle},
		{TurnSearching, EventConversationError, TurnError},
		{TurnStreaming, EventResponseComplete, TurnIdle},
		{TurnStreaming, EventConversationError, TurnError},
		{TurnError, EventClearError, TurnIdle},
		{TurnRateLimited, EventClearError, TurnIdle},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			next, err := Reduce(st(ConnectionConnected, tt.from), Event{Type: tt.event})
			require.NoError(t, err)
			assert.Equal(t, tt.want, next.Conversation)
			assert.Equal(t, ConnectionConnected, next.Connection)
		})
	}
}

// Server-pushed errors accepted outside Sending. These are additions to the
// base turn table, which takes RateLimit only from Sending and
// ConversationError only from an in-flight turn; keep them when that table
// changes.
func TestServerPushedErrorTransitions(t *testing.T) {
	tests := []struct {
		from  TurnState
		event EventType
		want  TurnState
	}{
		{TurnIdle, EventRateLimit, TurnRateLimited},
		{TurnIdle, EventConversationError, TurnError},
		{TurnThinking, EventRateLimit, TurnRateLimited},
		{TurnSearching, EventRateLimit, TurnRateLimited},
		{TurnStreaming, EventRateLimit, TurnRateLimited},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			next, err := Reduce(st(ConnectionConnected, tt.from), Event{Type: tt.event})
			require.NoError(t, err)
			assert.Equal(t, tt.want, next.Conversation)
		})
	}
}

func TestRejectedConversationTransitions(t *testing.T) {
	tests := []struct {
		from  TurnState
		event EventType
	}{
		{TurnSending, EventSendMessage},
		{TurnThinking, EventSendMessage},
		{TurnStreaming, EventStartThinking},
		{TurnStreaming, EventStartSearching},
		{TurnIdle, EventResponseComplete},
		{TurnIdle, EventStartStreaming},
		{TurnIdle, EventClearError},
		{TurnError, EventSendMessage},
		{TurnRateLimited, EventResponseComplete},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			before := st(ConnectionConnected, tt.from)
			next, err := Reduce(before, Event{Type: tt.event})
			var te *TransitionError
			assert.True(t, errors.As(err, &te))
			assert.Equal(t, before, next)
		})
	}
}

func TestSendMessageGuard(t *testing.T) {
	for _, c := range allConnections {
		for _, turn := range allTurns {
			next, err := Reduce(st(c, turn), Event{Type: EventSendMessage})
			allowed := c == ConnectionConnected && turn == TurnIdle
			if allowed {
				assert.NoError(t, err)
				assert.Equal(t, TurnSending, next.Conversation)
			} else {
				assert.Error(t, err, "%s/%s", c, turn)
				assert.Equal(t, st(c, turn), next)
			}
		}
	}
}

func TestConversationEventsNeedConnection(t *testing.T) {
	for _, c := range []ConnectionState{ConnectionDisconnected, ConnectionConnecting, ConnectionError} {
		_, err := Reduce(st(c, TurnIdle), Event{Type: EventConversationError})
		var te *TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "not connected", te.Reason)
	}

	// ClearError is the one conversation event that ignores the connection.
	next, err := Reduce(st(ConnectionDisconnected, TurnRateLimited), Event{Type: EventClearError})
	require.NoError(t, err)
	assert.Equal(t, TurnIdle, next.Conversation)
}

func TestDisconnectForcesIdle(t *testing.T) {
	for _, turn := range allTurns {
		for _, from := range []ConnectionState{ConnectionConnecting, ConnectionConnected} {
			next, err := Reduce(st(from, turn), Event{Type: EventDisconnected})
			require.NoError(t, err)
			assert.Equal(t, ConnectionDisconnected, next.Connection)
			assert.Equal(t, TurnIdle, next.Conversation, "%s/%s", from, turn)
		}
	}
}

func TestConnectionErrorForcesIdleAndKeepsPayload(t *testing.T) {
	next, err := Reduce(st(ConnectionConnected, TurnStreaming), Event{
		Type:  EventConnectionError,
		Error: &ErrorPayload{Message: "refused"},
	})
	require.NoError(t, err)
	assert.Equal(t, TurnIdle, next.Conversation)
	require.NotNil(t, next.Error)
	assert.Equal(t, "refused", next.Error.Message)
	assert.Equal(t, ErrorSourceConnection, next.Error.Source)
	assert.True(t, next.Flags().HasError)

	next, err = Reduce(next, Event{Type: EventConnected})
	require.NoError(t, err)
	assert.Nil(t, next.Error)
	assert.False(t, next.Flags().HasError)
}

func TestConnectionEventsIgnoreTurnState(t *testing.T) {
	for _, turn := range allTurns {
		next, err := Reduce(st(ConnectionDisconnected, turn), Event{Type: EventConnect})
		require.NoError(t, err)
		assert.Equal(t, ConnectionConnecting, next.Connection)
		assert.Equal(t, turn, next.Conversation)
	}
}

func TestResetFromEveryState(t *testing.T) {
	for _, c := range allConnections {
		for _, turn := range allTurns {
			before := State{
				Connection:   c,
				Conversation: turn,
				Error:        &ErrorPayload{Message: "boom"},
				Metadata:     map[string]interface{}{"k": "v"},
			}
			next, err := Reduce(before, Event{Type: EventReset})
			require.NoError(t, err)
			assert.Equal(t, c, next.Connection)
			assert.Equal(t, TurnIdle, next.Conversation)
			assert.Nil(t, next.Error)
			assert.Nil(t, next.Metadata)

			again, err := Reduce(next, Event{Type: EventReset})
			require.NoError(t, err)
			assert.Equal(t, next, again)
		}
	}
}

func TestRateLimitPayloadIsRetained(t *testing.T) {
	next, err := Reduce(st(ConnectionConnected, TurnIdle), Event{
		Type:     EventRateLimit,
		Error:    &ErrorPayload{Message: "limit", ResetTime: "2025-01-01T00:00:00Z", UserType: "free"},
		Metadata: map[string]interface{}{"rate_limit": true},
	})
	require.NoError(t, err)
	assert.Equal(t, TurnRateLimited, next.Conversation)
	require.NotNil(t, next.Error)
	assert.True(t, next.Error.RateLimit)
	assert.Equal(t, "2025-01-01T00:00:00Z", next.Error.ResetTime)
	assert.Equal(t, "free", next.Error.UserType)
	assert.Equal(t, true, next.Metadata["rate_limit"])

	cleared, err := Reduce(next, Event{Type: EventClearError})
	require.NoError(t, err)
	assert.Equal(t, TurnIdle, cleared.Conversation)
	assert.Nil(t, cleared.Error)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	payload := &ErrorPayload{Message: "x"}
	before := State{Connection: ConnectionConnected, Conversation: TurnIdle, Error: nil}
	_, err := Reduce(before, Event{Type: EventConversationError, Error: payload})
	require.NoError(t, err)
	assert.Nil(t, before.Error)
	assert.Equal(t, ErrorSource(""), payload.Source)
}

func TestFlags(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  Flags
	}{
		{"connected idle", st(ConnectionConnected, TurnIdle), Flags{CanSendMessage: true, IsConnected: true}},
		{"connected sending", st(ConnectionConnected, TurnSending), Flags{IsProcessing: true, IsConnected: true}},
		{"connected streaming", st(ConnectionConnected, TurnStreaming), Flags{IsProcessing: true, IsConnected: true}},
		{"rate limited", st(ConnectionConnected, TurnRateLimited), Flags{IsConnected: true, HasError: true}},
		{"turn error", st(ConnectionConnected, TurnError), Flags{IsConnected: true, HasError: true}},
		{"connection error", st(ConnectionError, TurnIdle), Flags{HasError: true}},
		{"disconnected", st(ConnectionDisconnected, TurnIdle), Flags{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Flags())
		})
	}
}
