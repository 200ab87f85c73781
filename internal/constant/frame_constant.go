package constant

// Outbound frame types.
const (
	FrameTypeQuery = "query"
)

// Inbound frame types.
const (
	FrameTypeConnected        = "connected"
	FrameTypeQueryReceived    = "query_received"
	FrameTypeReasoningUpdate  = "reasoning_update"
	FrameTypeToolStart        = "tool_start"
	FrameTypeToolResult       = "tool_result"
	FrameTypeResponseChunk    = "response_chunk"
	FrameTypeResponseComplete = "response_complete"
	FrameTypeError            = "error"
)

// InboundFrameTypes lists every type a chat session subscribes to.
var InboundFrameTypes = []string{
	FrameTypeConnected,
	FrameTypeQueryReceived,
	FrameTypeReasoningUpdate,
	FrameTypeToolStart,
	FrameTypeToolResult,
	FrameTypeResponseChunk,
	FrameTypeResponseComplete,
	FrameTypeError,
}

const (
	// WSPath is appended to the configured base URL.
	WSPath = "/ws"
	// TokenQueryParam carries the bearer token; browsers can't set headers
	// on a websocket handshake so the backend reads it from the query.
	TokenQueryParam = "token"
)
