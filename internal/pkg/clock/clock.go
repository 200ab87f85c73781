// Package clock abstracts the time operations the chat core depends on so
// reconnect backoff and the sending watchdog can be driven deterministically
// in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is injected into every component that schedules work.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously from
	// Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop cancels the pending call. It reports false if the call already
// fired or was stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop}
}

// FakeClock only moves when Advance is called.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	nextID  int
	waiters map[int]*waiter
}

type waiter struct {
	deadline time.Time
	seq      int
	fn       func()
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial, waiters: make(map[int]*waiter)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.waiters[id] = &waiter{deadline: c.current.Add(d), seq: id, fn: f}
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.waiters[id]; !ok {
			return false
		}
		delete(c.waiters, id)
		return true
	}}
}

// Advance moves time forward by d, firing every timer whose deadline falls
// inside the window in deadline order. Callbacks run on the calling
// goroutine with the clock unlocked, so they may schedule new timers; those
// fire too if their deadline is still inside the window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var (
			nextID int
			next   *waiter
		)
		for id, w := range c.waiters {
			if w.deadline.After(target) {
				continue
			}
			if next == nil || w.deadline.Before(next.deadline) ||
				(w.deadline.Equal(next.deadline) && w.seq < next.seq) {
				next, nextID = w, id
			}
		}
		if next == nil {
			c.current = target
			c.mu.Unlock()
			return
		}
		delete(c.waiters, nextID)
		if next.deadline.After(c.current) {
			c.current = next.deadline
		}
		c.mu.Unlock()

		next.fn()
	}
}

// PendingTimers reports how many AfterFunc calls have not fired or been
// stopped.
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
