package chat

import "time"

// Message is one transcript entry. Once appended it is never modified; the
// in-flight assistant text lives in the session's streaming buffer until
// the turn completes.
type Message struct {
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	IsRateLimit bool      `json:"is_rate_limit,omitempty"`
}
