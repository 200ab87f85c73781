package constant

const (
	ChatMessageRoleUser      = "user"
	ChatMessageRoleAssistant = "assistant"
	ChatMessageRoleError     = "error"
)

const (
	ConnectionLostMessage  = "Connection lost. Your last question was not answered."
	ReconnectFailedMessage = "Unable to reach the server. Check your connection and try again."
	DefaultErrorMessage    = "Something went wrong while answering. Please try again."
	RateLimitMessage       = "You have reached your message limit."
	UntitledConversation   = "Untitled Conversation"
)
