package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"cicero-client/internal/pkg/clock"
	"cicero-client/internal/pkg/logger"
	"cicero-client/internal/repository/memory"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	readErr   error
	writes    [][]byte
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.readErr
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closeCode == 0 {
		c.closeCode = code
	}
	if c.readErr == nil {
		c.readErr = &CloseError{Code: code, Text: reason}
	}
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server side going away with err.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
}

// push delivers a JSON frame to the client.
func (c *fakeConn) push(t *testing.T, frame map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	c.inbound <- data
}

func (c *fakeConn) written() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(c.writes))
	for _, w := range c.writes {
		var m map[string]interface{}
		_ = json.Unmarshal(w, &m)
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	fail  error
	gate  chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	gate, fail := d.gate, d.fail
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}

	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) lastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.urls) == 0 {
		return ""
	}
	return d.urls[len(d.urls)-1]
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type lifecycleRecorder struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (r *lifecycleRecorder) record(ev LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *lifecycleRecorder) kinds() []LifecycleKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LifecycleKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *lifecycleRecorder) ofKind(kind LifecycleKind) []LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LifecycleEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type testRig struct {
	manager  *Manager
	dialer   *fakeDialer
	clock    *clock.FakeClock
	tabs     *memory.KeyValueRepository
	tokens   *memory.KeyValueRepository
	recorder *lifecycleRecorder
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	return newRigWithTabs(t, memory.NewKeyValueRepository())
}

func newRigWithTabs(t *testing.T, tabs *memory.KeyValueRepository) *testRig {
	t.Helper()
	rig := &testRig{
		dialer:   &fakeDialer{},
		clock:    clock.Fake(epoch),
		tabs:     tabs,
		tokens:   memory.NewKeyValueRepository(),
		recorder: &lifecycleRecorder{},
	}
	rig.manager = NewManager(ManagerConfig{
		URL:                  "ws://test",
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
	}, rig.dialer, rig.tabs, rig.tokens, logger.NewNopLogger(), rig.clock)
	rig.manager.Observe(rig.recorder.record)
	t.Cleanup(rig.manager.Disconnect)
	return rig
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
