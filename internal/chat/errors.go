package chat

import "errors"

var (
	ErrEmptyMessage = errors.New("message is empty")
	// ErrCannotSend means the machine refused SendMessage: not connected
	// or a turn is already in progress. Nothing was sent.
	ErrCannotSend = errors.New("cannot send message in current state")
)
