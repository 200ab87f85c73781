package websocket

import "time"

type LifecycleKind string

const (
	LifecycleConnecting         LifecycleKind = "connecting"
	LifecycleOpen               LifecycleKind = "open"
	LifecycleError              LifecycleKind = "error"
	LifecycleClosed             LifecycleKind = "closed"
	LifecycleReconnectScheduled LifecycleKind = "reconnect_scheduled"
	LifecycleGaveUp             LifecycleKind = "gave_up"
)

// LifecycleEvent describes a change in the socket's state. Attempt and
// Delay are set for reconnect_scheduled and gave_up; Clean for closed; Err
// for error and unclean closes.
type LifecycleEvent struct {
	Kind    LifecycleKind
	At      time.Time
	Attempt int
	Delay   time.Duration
	Clean   bool
	Err     error
}

type observer struct {
	id int
	fn func(LifecycleEvent)
}
