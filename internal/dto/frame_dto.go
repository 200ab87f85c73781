package dto

import "encoding/json"

// QueryFrame is the only frame the client sends.
type QueryFrame struct {
	Type           string  `json:"type"`
	Content        string  `json:"content"`
	ConversationID *string `json:"conversation_id"`
	SessionID      *string `json:"session_id"`
	Timestamp      string  `json:"timestamp"`
}

// FrameMetadata carries the cross-cutting fields every inbound frame may
// have plus the error-specific rate limit details.
type FrameMetadata struct {
	SessionID      string `json:"session_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Title          string `json:"title,omitempty"`

	RateLimit bool   `json:"rate_limit,omitempty"`
	ResetTime string `json:"reset_time,omitempty"`
	UserType  string `json:"user_type,omitempty"`

	// Raw keeps every metadata key, including the ones above, so the state
	// machine can expose fields this client doesn't model yet.
	Raw map[string]interface{} `json:"-"`
}

func (m *FrameMetadata) UnmarshalJSON(data []byte) error {
	type plain FrameMetadata
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	raw := make(map[string]interface{})
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = FrameMetadata(p)
	m.Raw = raw
	return nil
}

// InboundFrame is the tagged union the server sends; Type selects which of
// the optional fields are meaningful.
type InboundFrame struct {
	Type     string        `json:"type"`
	Content  string        `json:"content,omitempty"`
	Response string        `json:"response,omitempty"`
	Chunk    string        `json:"chunk,omitempty"`
	Error    string        `json:"error,omitempty"`
	Final    bool          `json:"final,omitempty"`
	Metadata FrameMetadata `json:"metadata"`
}

// Text returns the body of a completion or error frame. Servers have used
// both spellings for each.
func (f *InboundFrame) Text() string {
	if f.Content != "" {
		return f.Content
	}
	if f.Response != "" {
		return f.Response
	}
	return f.Error
}
