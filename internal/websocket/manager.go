package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"cicero-client/internal/constant"
	"cicero-client/internal/dto"
	"cicero-client/internal/pkg/clock"
	"cicero-client/internal/pkg/logger"
	"cicero-client/internal/repository/contract"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const logModule = "Transport"

// timestampLayout matches what browsers emit from Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	ErrNotConnected     = errors.New("websocket is not connected")
	ErrConnectAbandoned = errors.New("connection attempt abandoned by disconnect")
)

type ManagerConfig struct {
	// URL is the streaming endpoint base, e.g. ws://localhost:8000.
	URL                  string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
}

// attempt is the in-flight dial every concurrent Connect call waits on.
type attempt struct {
	done      chan struct{}
	err       error
	abandoned bool
}

// Manager owns the single streaming connection of a client process. Build
// one at startup and share it; chat screens come and go on top of it.
type Manager struct {
	cfg        ManagerConfig
	dialer     Dialer
	tabStore   contract.KeyValueRepository
	tokenStore contract.KeyValueRepository
	logger     logger.ILogger
	clock      clock.Clock
	tracer     trace.Tracer
	hub        *Hub

	mu                sync.Mutex
	conn              Conn
	pending           *attempt
	sessionID         string
	lastToken         string
	reconnectAttempts int
	reconnectTimer    *clock.Timer
	reconnectGen      int
	backoff           *backoff.ExponentialBackOff

	observerMu   sync.Mutex
	observers    []observer
	nextObserver int
}

func NewManager(
	cfg ManagerConfig,
	dialer Dialer,
	tabStore contract.KeyValueRepository,
	tokenStore contract.KeyValueRepository,
	log logger.ILogger,
	clk clock.Clock,
) *Manager {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectBaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Hour
	b.Reset()

	m := &Manager{
		cfg:        cfg,
		dialer:     dialer,
		tabStore:   tabStore,
		tokenStore: tokenStore,
		logger:     log,
		clock:      clk,
		tracer:     otel.Tracer("cicero-client/websocket"),
		hub:        NewHub(),
		backoff:    b,
	}

	if id, found := tabStore.Get(context.Background(), constant.SessionStorageKey); found {
		m.sessionID = id
		log.Info(logModule, "Restored session id from tab storage", map[string]interface{}{"session_id": id})
	}
	return m
}

// Connect opens the connection. It returns immediately when already open,
// and joins the in-flight attempt instead of dialing a second socket when
// one is under way.
func (m *Manager) Connect(ctx context.Context, authToken string) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		m.logger.Debug(logModule, "WebSocket already connected", nil)
		return nil
	}
	if a := m.pending; a != nil {
		m.mu.Unlock()
		m.logger.Debug(logModule, "WebSocket connection already in progress", nil)
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a := &attempt{done: make(chan struct{})}
	m.pending = a
	if authToken != "" {
		m.lastToken = authToken
	}
	m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, "websocket.connect")
	defer span.End()

	m.emit(LifecycleEvent{Kind: LifecycleConnecting})
	conn, err := m.dialer.Dial(ctx, m.targetURL(authToken))

	m.mu.Lock()
	m.pending = nil
	if err != nil {
		a.err = fmt.Errorf("websocket connect: %w", err)
		var follow []LifecycleEvent
		if !a.abandoned && !errors.Is(err, context.Canceled) {
			follow = m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
		close(a.done)

		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		m.logger.Error(logModule, "WebSocket connection failed", map[string]interface{}{"error": err.Error()})
		m.emit(LifecycleEvent{Kind: LifecycleError, Err: err})
		m.emit(follow...)
		return a.err
	}
	if a.abandoned {
		a.err = ErrConnectAbandoned
		m.mu.Unlock()
		close(a.done)
		conn.Close(CloseNormalClosure, "client disconnect")
		m.logger.Info(logModule, "Dial finished after disconnect, socket closed", nil)
		m.emit(LifecycleEvent{Kind: LifecycleClosed, Clean: true})
		return a.err
	}
	m.conn = conn
	m.reconnectAttempts = 0
	m.backoff.Reset()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()
	close(a.done)

	m.logger.Info(logModule, "WebSocket connected", map[string]interface{}{"url": m.safeURL()})
	m.emit(LifecycleEvent{Kind: LifecycleOpen})
	go m.readLoop(conn)
	return nil
}

// Disconnect closes the socket cleanly and drops every frame handler. The
// session id survives so a later Connect resumes the same server context.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.reconnectGen++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.pending != nil {
		m.pending.abandoned = true
	}
	m.reconnectAttempts = 0
	m.backoff.Reset()
	m.mu.Unlock()

	m.hub.Clear()

	if conn == nil {
		return
	}
	if err := conn.Close(CloseNormalClosure, "client disconnect"); err != nil {
		m.logger.Debug(logModule, "Close returned error", map[string]interface{}{"error": err.Error()})
	}
	m.logger.Info(logModule, "WebSocket disconnected", nil)
	m.emit(LifecycleEvent{Kind: LifecycleClosed, Clean: true})
}

// EndSession is Disconnect plus forgetting the session id. Used on logout.
func (m *Manager) EndSession() {
	m.Disconnect()

	m.mu.Lock()
	m.sessionID = ""
	m.mu.Unlock()

	if err := m.tabStore.Delete(context.Background(), constant.SessionStorageKey); err != nil {
		m.logger.Error(logModule, "Failed to clear persisted session id", map[string]interface{}{"error": err.Error()})
	}
	m.logger.Info(logModule, "Session ended", nil)
}

func (m *Manager) On(frameType string, handler Handler) HandlerID {
	return m.hub.Register(frameType, handler)
}

// Handles reports whether id is still registered for frameType. Disconnect
// drops every registration, so holders of an id use this to re-register.
func (m *Manager) Handles(frameType string, id HandlerID) bool {
	return m.hub.Has(frameType, id)
}

func (m *Manager) Off(frameType string, id HandlerID) {
	m.hub.Unregister(frameType, id)
}

// Observe registers a lifecycle observer. Unlike frame handlers, observers
// survive Disconnect. The returned func removes the observer.
func (m *Manager) Observe(fn func(LifecycleEvent)) func() {
	m.observerMu.Lock()
	m.nextObserver++
	id := m.nextObserver
	m.observers = append(m.observers, observer{id: id, fn: fn})
	m.observerMu.Unlock()

	return func() {
		m.observerMu.Lock()
		defer m.observerMu.Unlock()
		for i, o := range m.observers {
			if o.id == id {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// SendQuery frames and sends a query. It never blocks and never fails
// loudly: when the socket is down it reconnects in the background and
// resends once.
func (m *Manager) SendQuery(query, conversationID, sessionID string) {
	m.sendQuery(query, conversationID, sessionID, true)
}

func (m *Manager) sendQuery(query, conversationID, sessionID string, allowRetry bool) {
	_, span := m.tracer.Start(context.Background(), "websocket.send_query",
		trace.WithAttributes(
			attribute.String("conversation_id", conversationID),
			attribute.Bool("retry", !allowRetry),
		))
	defer span.End()

	effective := m.effectiveSessionID(sessionID)
	frame := dto.QueryFrame{
		Type:           constant.FrameTypeQuery,
		Content:        query,
		ConversationID: nullable(conversationID),
		SessionID:      nullable(effective),
		Timestamp:      m.clock.Now().UTC().Format(timestampLayout),
	}

	err := m.Send(frame)
	if err == nil {
		m.logger.Debug(logModule, "Sent query", map[string]interface{}{
			"conversation_id": conversationID,
			"session_id":      effective,
		})
		return
	}
	span.RecordError(err)

	if !errors.Is(err, ErrNotConnected) || !allowRetry {
		m.logger.Error(logModule, "Failed to send query", map[string]interface{}{"error": err.Error()})
		return
	}

	m.logger.Warn(logModule, "WebSocket is not connected, reconnecting before resend", nil)
	go func() {
		if err := m.Connect(context.Background(), m.storedToken()); err != nil {
			m.logger.Error(logModule, "Reconnect for resend failed, query dropped", map[string]interface{}{"error": err.Error()})
			return
		}
		m.sendQuery(query, conversationID, sessionID, false)
	}()
}

// Send writes any JSON-encodable frame.
func (m *Manager) Send(frame any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectAttempts
}

func (m *Manager) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn, err)
			return
		}
		if !m.isCurrent(conn) {
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) isCurrent(conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn == conn
}

func (m *Manager) handleClose(conn Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		// Disconnect already took the socket away; nothing to recover.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	clean := IsCleanClose(err)
	var follow []LifecycleEvent
	if !clean {
		follow = m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	conn.Close(CloseNormalClosure, "")

	if clean {
		m.logger.Info(logModule, "WebSocket closed by server", nil)
		m.emit(LifecycleEvent{Kind: LifecycleClosed, Clean: true})
	} else {
		m.logger.Warn(logModule, "WebSocket closed unexpectedly", map[string]interface{}{"error": err.Error()})
		m.emit(LifecycleEvent{Kind: LifecycleClosed, Err: err})
	}
	m.emit(follow...)
}

func (m *Manager) dispatch(data []byte) {
	var frame dto.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		m.logger.Error(logModule, "Failed to parse WebSocket message", map[string]interface{}{"error": err.Error()})
		return
	}

	if id := frame.Metadata.SessionID; id != "" {
		m.captureSession(id)
	}

	handlers := m.hub.Handlers(frame.Type)
	if len(handlers) == 0 {
		m.logger.Warn(logModule, "No handlers registered for message type", map[string]interface{}{"type": frame.Type})
		return
	}
	m.logger.Debug(logModule, "Dispatching frame", map[string]interface{}{"type": frame.Type, "handlers": len(handlers)})
	for _, h := range handlers {
		h(&frame)
	}
}

// captureSession adopts whatever session id the server reports; the server
// is authoritative.
func (m *Manager) captureSession(id string) {
	m.mu.Lock()
	prev := m.sessionID
	if prev == id {
		m.mu.Unlock()
		return
	}
	m.sessionID = id
	m.mu.Unlock()

	if err := m.tabStore.Set(context.Background(), constant.SessionStorageKey, id); err != nil {
		m.logger.Error(logModule, "Failed to persist session id", map[string]interface{}{"error": err.Error()})
	}
	if prev == "" {
		m.logger.Info(logModule, "Captured new session id", map[string]interface{}{"session_id": id})
	} else {
		m.logger.Info(logModule, "Server replaced session id", map[string]interface{}{"previous": prev, "session_id": id})
	}
}

// scheduleReconnectLocked arms the next attempt and returns the lifecycle
// events to emit once m.mu is released.
func (m *Manager) scheduleReconnectLocked() []LifecycleEvent {
	if m.reconnectTimer != nil {
		return nil
	}
	if m.reconnectAttempts >= m.cfg.MaxReconnectAttempts {
		m.logger.Error(logModule, "Max reconnection attempts reached", map[string]interface{}{"attempts": m.reconnectAttempts})
		return []LifecycleEvent{{Kind: LifecycleGaveUp, Attempt: m.reconnectAttempts}}
	}

	m.reconnectAttempts++
	n := m.reconnectAttempts
	gen := m.reconnectGen
	delay := m.backoff.NextBackOff()
	m.reconnectTimer = m.clock.AfterFunc(delay, func() { m.reconnect(gen, n) })

	m.logger.Info(logModule, "Attempting to reconnect", map[string]interface{}{"attempt": n, "delay": delay.String()})
	return []LifecycleEvent{{Kind: LifecycleReconnectScheduled, Attempt: n, Delay: delay}}
}

func (m *Manager) reconnect(gen, n int) {
	m.mu.Lock()
	if gen != m.reconnectGen {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.mu.Unlock()

	m.logger.Debug(logModule, "Reconnect timer fired", map[string]interface{}{"attempt": n})
	_ = m.Connect(context.Background(), m.storedToken())
}

// storedToken prefers the persistent token store so a token refreshed by
// the login flow is picked up on reconnect.
func (m *Manager) storedToken() string {
	if token, found := m.tokenStore.Get(context.Background(), constant.AuthTokenStorageKey); found && token != "" {
		return token
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastToken
}

func (m *Manager) effectiveSessionID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return m.SessionID()
}

func (m *Manager) targetURL(token string) string {
	base := strings.TrimRight(m.cfg.URL, "/") + constant.WSPath
	if token == "" {
		return base
	}
	return base + "?" + url.Values{constant.TokenQueryParam: []string{token}}.Encode()
}

// safeURL is the endpoint without the token, for logs.
func (m *Manager) safeURL() string {
	return strings.TrimRight(m.cfg.URL, "/") + constant.WSPath
}

func (m *Manager) emit(events ...LifecycleEvent) {
	if len(events) == 0 {
		return
	}
	m.observerMu.Lock()
	observers := make([]observer, len(m.observers))
	copy(observers, m.observers)
	m.observerMu.Unlock()

	for _, ev := range events {
		ev.At = m.clock.Now()
		for _, o := range observers {
			o.fn(ev)
		}
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
