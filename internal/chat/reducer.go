package chat

var connectionTransitions = map[ConnectionState]map[EventType]ConnectionState{
	ConnectionDisconnected: {
		EventConnect:   ConnectionConnecting,
		EventConnected: ConnectionConnected,
	},
	ConnectionConnecting: {
		EventConnected:       ConnectionConnected,
		EventConnectionError: ConnectionError,
		EventDisconnected:    ConnectionDisconnected,
	},
	ConnectionConnected: {
		EventDisconnected:    ConnectionDisconnected,
		EventConnectionError: ConnectionError,
	},
	ConnectionError: {
		EventConnect:   ConnectionConnecting,
		EventConnected: ConnectionConnected,
	},
}

var conversationTransitions = map[TurnState]map[EventType]TurnState{
	TurnIdle: {
		EventSendMessage: TurnSending,
		// Servers can push errors without a pending query, e.g. a quota
		// that ran out between turns.
		EventRateLimit:         TurnRateLimited,
		EventConversationError: TurnError,
	},
	TurnSending: {
		EventMessageAcknowledged: TurnThinking,
		EventStartThinking:       TurnThinking,
		EventResponseComplete:    TurnIdle,
		EventConversationError:   TurnError,
		EventRateLimit:           TurnRateLimited,
	},
	TurnThinking: {
		EventStartSearching:    TurnSearching,
		EventStartStreaming:    TurnStreaming,
		EventResponseComplete:  TurnIdle,
		EventConversationError: TurnError,
		EventRateLimit:         TurnRateLimited,
	},
	TurnSearching: {
		EventStartThinking:     TurnThinking,
		EventStartStreaming:    TurnStreaming,
		EventResponseComplete:  TurnIdle,
		EventConversationError: TurnError,
		EventRateLimit:         TurnRateLimited,
	},
	TurnStreaming: {
		EventResponseComplete:  TurnIdle,
		EventConversationError: TurnError,
		EventRateLimit:         TurnRateLimited,
	},
	TurnError: {
		EventClearError: TurnIdle,
	},
	TurnRateLimited: {
		EventClearError: TurnIdle,
	},
}

func isConnectionEvent(t EventType) bool {
	switch t {
	case EventConnect, EventConnected, EventDisconnected, EventConnectionError:
		return true
	}
	return false
}

// Reduce applies ev to s. It is pure: s is never mutated, and a rejected
// event returns s unchanged together with a *TransitionError.
func Reduce(s State, ev Event) (State, error) {
	switch {
	case ev.Type == EventReset:
		next := s
		next.Conversation = TurnIdle
		next.Error = nil
		next.Metadata = nil
		return next, nil
	case isConnectionEvent(ev.Type):
		return reduceConnection(s, ev)
	default:
		return reduceConversation(s, ev)
	}
}

func reduceConnection(s State, ev Event) (State, error) {
	to, ok := connectionTransitions[s.Connection][ev.Type]
	if !ok {
		return s, reject(s, ev, "not allowed from this connection state")
	}

	next := s
	next.Connection = to
	if ev.Metadata != nil {
		next.Metadata = ev.Metadata
	}

	switch to {
	case ConnectionDisconnected, ConnectionError:
		next.Conversation = TurnIdle
		if to == ConnectionError {
			next.Error = connectionError(ev.Error)
		} else if next.Error != nil && next.Error.Source == ErrorSourceConversation {
			next.Error = nil
		}
	case ConnectionConnected:
		if next.Error != nil && next.Error.Source == ErrorSourceConnection {
			next.Error = nil
		}
	}
	return next, nil
}

func reduceConversation(s State, ev Event) (State, error) {
	if ev.Type != EventClearError && s.Connection != ConnectionConnected {
		return s, reject(s, ev, "not connected")
	}
	to, ok := conversationTransitions[s.Conversation][ev.Type]
	if !ok {
		return s, reject(s, ev, "not allowed from this turn state")
	}

	next := s
	next.Conversation = to
	if ev.Metadata != nil {
		next.Metadata = ev.Metadata
	}

	switch ev.Type {
	case EventConversationError, EventRateLimit:
		next.Error = conversationError(ev)
	case EventClearError:
		next.Error = nil
	}
	return next, nil
}

func connectionError(p *ErrorPayload) *ErrorPayload {
	out := ErrorPayload{Message: "connection error"}
	if p != nil {
		out = *p
	}
	out.Source = ErrorSourceConnection
	return &out
}

func conversationError(ev Event) *ErrorPayload {
	var out ErrorPayload
	if ev.Error != nil {
		out = *ev.Error
	}
	out.Source = ErrorSourceConversation
	if ev.Type == EventRateLimit {
		out.RateLimit = true
	}
	return &out
}

func reject(s State, ev Event, reason string) *TransitionError {
	return &TransitionError{
		Connection:   s.Connection,
		Conversation: s.Conversation,
		Event:        ev.Type,
		Reason:       reason,
	}
}
