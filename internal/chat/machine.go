package chat

import (
	"errors"
	"sync"
	"time"

	"cicero-client/internal/pkg/clock"
	"cicero-client/internal/pkg/logger"
)

const machineLogModule = "ChatMachine"

const DefaultSendingTimeout = 30 * time.Second

// Machine holds one chat screen's State. Events are applied one at a time
// and subscribers see every accepted transition in order.
type Machine struct {
	logger         logger.ILogger
	clock          clock.Clock
	sendingTimeout time.Duration

	// dispatchMu serializes whole dispatches, notification included.
	dispatchMu sync.Mutex

	mu          sync.Mutex
	state       State
	watchdog    *clock.Timer
	subscribers []subscriber
	nextSub     int
}

type subscriber struct {
	id int
	fn func(prev, next State)
}

// NewMachine builds a machine in (Disconnected, Idle). A zero
// sendingTimeout means DefaultSendingTimeout.
func NewMachine(sendingTimeout time.Duration, log logger.ILogger, clk clock.Clock) *Machine {
	if sendingTimeout <= 0 {
		sendingTimeout = DefaultSendingTimeout
	}
	return &Machine{
		logger:         log,
		clock:          clk,
		sendingTimeout: sendingTimeout,
		state:          InitialState(),
	}
}

// Dispatch applies ev and reports whether it was accepted. Rejections are
// logged and leave the state untouched.
func (m *Machine) Dispatch(ev Event) bool {
	return m.dispatch(ev, nil)
}

func (m *Machine) dispatch(ev Event, guard func(State) bool) bool {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	prev := m.state
	if guard != nil && !guard(prev) {
		m.mu.Unlock()
		return false
	}
	next, err := Reduce(prev, ev)
	if err != nil {
		m.mu.Unlock()
		var te *TransitionError
		if errors.As(err, &te) {
			m.logger.Warn(machineLogModule, "Invalid transition ignored", map[string]interface{}{
				"event":        string(te.Event),
				"connection":   string(te.Connection),
				"conversation": string(te.Conversation),
				"reason":       te.Reason,
			})
		}
		return false
	}
	m.state = next
	m.updateWatchdogLocked(prev, next)
	subs := make([]subscriber, len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	m.logger.Debug(machineLogModule, "Transition", map[string]interface{}{
		"event":        string(ev.Type),
		"connection":   string(prev.Connection) + " -> " + string(next.Connection),
		"conversation": string(prev.Conversation) + " -> " + string(next.Conversation),
	})
	for _, s := range subs {
		s.fn(prev, next)
	}
	return true
}

// updateWatchdogLocked arms the Sending backstop on entry and disarms it on
// any exit.
func (m *Machine) updateWatchdogLocked(prev, next State) {
	entering := next.Conversation == TurnSending && prev.Conversation != TurnSending
	leaving := prev.Conversation == TurnSending && next.Conversation != TurnSending

	if leaving && m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
	if entering {
		var self *clock.Timer
		self = m.clock.AfterFunc(m.sendingTimeout, func() { m.expireSending(&self) })
		m.watchdog = self
	}
}

func (m *Machine) expireSending(timer **clock.Timer) {
	fired := m.dispatch(Event{Type: EventReset}, func(s State) bool {
		return s.Conversation == TurnSending && m.watchdog == *timer
	})
	if fired {
		m.logger.Warn(machineLogModule, "No acknowledgement in time, turn reset", map[string]interface{}{
			"timeout": m.sendingTimeout.String(),
		})
	}
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	if s.Error != nil {
		e := *s.Error
		s.Error = &e
	}
	if s.Metadata != nil {
		md := make(map[string]interface{}, len(s.Metadata))
		for k, v := range s.Metadata {
			md[k] = v
		}
		s.Metadata = md
	}
	return s
}

func (m *Machine) Flags() Flags {
	return m.State().Flags()
}

// Subscribe registers fn for every accepted transition. fn runs while the
// dispatch is still serialized, so it must not call Dispatch itself.
func (m *Machine) Subscribe(fn func(prev, next State)) func() {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subscribers {
			if s.id == id {
				m.subscribers = append(m.subscribers[:i:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
}
