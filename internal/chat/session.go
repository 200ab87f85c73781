package chat

import (
	"strings"
	"sync"

	"cicero-client/internal/constant"
	"cicero-client/internal/dto"
	"cicero-client/internal/pkg/clock"
	"cicero-client/internal/pkg/logger"
	"cicero-client/internal/websocket"
)

const sessionLogModule = "ChatSession"

// Transport is the part of websocket.Manager a Session needs.
type Transport interface {
	On(frameType string, handler websocket.Handler) websocket.HandlerID
	Off(frameType string, id websocket.HandlerID)
	Handles(frameType string, id websocket.HandlerID) bool
	Observe(fn func(websocket.LifecycleEvent)) func()
	SendQuery(query, conversationID, sessionID string)
}

type Option func(*Session)

// WithConversationCreated is called once per newly observed conversation id.
func WithConversationCreated(fn func(id, title string)) Option {
	return func(s *Session) { s.onConversationCreated = fn }
}

// WithMessageListener is called for every message appended to the transcript.
func WithMessageListener(fn func(Message)) Option {
	return func(s *Session) { s.onMessage = fn }
}

// WithChunkListener is called for every streamed chunk that lands in the
// buffer.
func WithChunkListener(fn func(chunk string)) Option {
	return func(s *Session) { s.onChunk = fn }
}

// Session binds one chat screen to the shared transport: it turns frames
// and socket lifecycle into machine events and keeps the transcript.
type Session struct {
	transport Transport
	machine   *Machine
	logger    logger.ILogger
	clock     clock.Clock

	onConversationCreated func(id, title string)
	onMessage             func(Message)
	onChunk               func(string)

	mu             sync.Mutex
	attached       bool
	handlerIDs     map[string]websocket.HandlerID
	stopObserving  func()
	messages       []Message
	buffer         strings.Builder
	conversationID string
	title          string
	titleSource    string
	seen           map[string]struct{}
}

func NewSession(transport Transport, machine *Machine, log logger.ILogger, clk clock.Clock, opts ...Option) *Session {
	s := &Session{
		transport:  transport,
		machine:    machine,
		logger:     log,
		clock:      clk,
		handlerIDs: make(map[string]websocket.HandlerID),
		seen:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach subscribes to every inbound frame type and to socket lifecycle.
// The transport drops frame handlers on Disconnect, so calling Attach again
// re-registers whatever is missing; otherwise it is a no-op.
func (s *Session) Attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, frameType := range constant.InboundFrameTypes {
		if id, ok := s.handlerIDs[frameType]; ok && s.transport.Handles(frameType, id) {
			continue
		}
		s.handlerIDs[frameType] = s.transport.On(frameType, s.handleFrame)
	}
	if !s.attached {
		s.stopObserving = s.transport.Observe(s.handleLifecycle)
		s.attached = true
	}
}

// Detach removes exactly the subscriptions Attach made; the transport and
// other sessions on it are unaffected.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return
	}
	for frameType, id := range s.handlerIDs {
		s.transport.Off(frameType, id)
	}
	s.handlerIDs = make(map[string]websocket.HandlerID)
	s.stopObserving()
	s.stopObserving = nil
	s.attached = false
}

// SendMessage starts a turn. It fails without touching the network when the
// machine is not ready for a new message.
func (s *Session) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if !s.machine.Dispatch(Event{Type: EventSendMessage}) {
		return ErrCannotSend
	}

	msg := Message{Role: constant.ChatMessageRoleUser, Content: text, Timestamp: s.clock.Now()}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.buffer.Reset()
	conversationID := s.conversationID
	if conversationID == "" && s.titleSource == "" {
		s.titleSource = text
	}
	s.mu.Unlock()

	s.notifyMessage(msg)
	s.transport.SendQuery(text, conversationID, "")
	return nil
}

func (s *Session) ClearError() bool {
	return s.machine.Dispatch(Event{Type: EventClearError})
}

// Reset abandons the current turn. Frames still arriving for it are
// dropped, or rejected by the machine.
func (s *Session) Reset() {
	s.machine.Dispatch(Event{Type: EventReset})
	s.mu.Lock()
	s.buffer.Reset()
	s.mu.Unlock()
}

// NewConversation resets the turn and starts an empty transcript. Ids seen
// so far stay known, so late frames from the old conversation are dropped.
func (s *Session) NewConversation() {
	s.machine.Dispatch(Event{Type: EventReset})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.Reset()
	s.messages = nil
	s.conversationID = ""
	s.title = ""
	s.titleSource = ""
}

// SetConversation switches to an existing conversation, e.g. one picked from
// history. No creation notification fires for it.
func (s *Session) SetConversation(id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.Reset()
	s.conversationID = id
	s.title = title
	s.titleSource = ""
	if id != "" {
		s.seen[id] = struct{}{}
	}
}

func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Streaming returns the partial assistant response of the current turn.
func (s *Session) Streaming() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.String()
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

func (s *Session) State() State { return s.machine.State() }

func (s *Session) Flags() Flags { return s.machine.Flags() }

// pending collects listener calls made while s.mu is held so they can run
// after it is released.
type pending struct {
	messages []Message
	chunk    string
	created  *[2]string
}

func (s *Session) handleFrame(frame *dto.InboundFrame) {
	var out pending

	s.mu.Lock()
	if s.acceptConversationLocked(frame, &out) {
		s.applyFrameLocked(frame, &out)
	}
	s.mu.Unlock()

	s.flush(out)
}

// acceptConversationLocked filters frames by conversation id. The first id
// seen while no conversation is active is adopted; an id that disagrees with
// the active one, or one already seen while none is active, belongs to an
// abandoned conversation.
func (s *Session) acceptConversationLocked(frame *dto.InboundFrame, out *pending) bool {
	id := frame.Metadata.ConversationID
	if id == "" {
		return true
	}
	_, seen := s.seen[id]

	switch {
	case s.conversationID == id:
		if s.title == "" && frame.Metadata.Title != "" {
			s.title = frame.Metadata.Title
		}
		return true
	case s.conversationID != "":
		s.logger.Debug(sessionLogModule, "Dropped frame for another conversation", map[string]interface{}{
			"type":            frame.Type,
			"conversation_id": id,
			"active":          s.conversationID,
		})
		return false
	case seen:
		s.logger.Debug(sessionLogModule, "Dropped stale frame", map[string]interface{}{
			"type":            frame.Type,
			"conversation_id": id,
		})
		return false
	}

	s.seen[id] = struct{}{}
	s.conversationID = id
	s.title = frame.Metadata.Title
	if s.title == "" && s.titleSource != "" {
		s.title = GenerateTitle(s.titleSource)
	}
	if s.title == "" {
		s.title = constant.UntitledConversation
	}
	s.titleSource = ""
	out.created = &[2]string{id, s.title}

	s.logger.Info(sessionLogModule, "Conversation created", map[string]interface{}{
		"conversation_id": id,
		"title":           s.title,
	})
	return true
}

func (s *Session) applyFrameLocked(frame *dto.InboundFrame, out *pending) {
	md := frame.Metadata.Raw

	switch frame.Type {
	case constant.FrameTypeConnected:
		if s.machine.State().Connection != ConnectionConnected {
			s.machine.Dispatch(Event{Type: EventConnected, Metadata: md})
		}

	case constant.FrameTypeQueryReceived:
		s.machine.Dispatch(Event{Type: EventMessageAcknowledged, Metadata: md})

	case constant.FrameTypeReasoningUpdate:
		if s.machine.State().Conversation != TurnThinking {
			s.machine.Dispatch(Event{Type: EventStartThinking, Metadata: md})
		}

	case constant.FrameTypeToolStart, constant.FrameTypeToolResult:
		if s.machine.State().Conversation != TurnSearching {
			s.machine.Dispatch(Event{Type: EventStartSearching, Metadata: md})
		}

	case constant.FrameTypeResponseChunk:
		if s.machine.State().Conversation != TurnStreaming {
			s.machine.Dispatch(Event{Type: EventStartStreaming, Metadata: md})
		}
		if s.machine.State().Conversation == TurnStreaming {
			s.buffer.WriteString(frame.Chunk)
			out.chunk = frame.Chunk
		}

	case constant.FrameTypeResponseComplete:
		text := frame.Content
		if text == "" {
			text = frame.Response
		}
		if text == "" {
			text = s.buffer.String()
		}
		if !s.machine.Dispatch(Event{Type: EventResponseComplete, Metadata: md}) {
			return
		}
		s.buffer.Reset()
		out.messages = append(out.messages, s.appendLocked(constant.ChatMessageRoleAssistant, text, false))

	case constant.FrameTypeError:
		s.applyErrorLocked(frame, out)
	}
}

func (s *Session) applyErrorLocked(frame *dto.InboundFrame, out *pending) {
	meta := frame.Metadata
	payload := &ErrorPayload{
		Message:   frame.Text(),
		RateLimit: meta.RateLimit,
		ResetTime: meta.ResetTime,
		UserType:  meta.UserType,
	}
	ev := Event{Type: EventConversationError, Error: payload, Metadata: meta.Raw}
	if meta.RateLimit {
		ev.Type = EventRateLimit
	}
	if !s.machine.Dispatch(ev) {
		return
	}

	text := payload.Message
	if text == "" {
		text = constant.DefaultErrorMessage
		if meta.RateLimit {
			text = constant.RateLimitMessage
		}
	}
	s.buffer.Reset()
	out.messages = append(out.messages, s.appendLocked(constant.ChatMessageRoleError, text, meta.RateLimit))

	s.logger.Warn(sessionLogModule, "Server reported an error", map[string]interface{}{
		"rate_limit": meta.RateLimit,
		"reset_time": meta.ResetTime,
		"message":    text,
	})
}

func (s *Session) handleLifecycle(ev websocket.LifecycleEvent) {
	var out pending

	s.mu.Lock()
	wasProcessing := s.machine.State().Conversation.processing()

	switch ev.Kind {
	case websocket.LifecycleConnecting:
		s.machine.Dispatch(Event{Type: EventConnect})
	case websocket.LifecycleOpen:
		if s.machine.State().Connection != ConnectionConnected {
			s.machine.Dispatch(Event{Type: EventConnected})
		}
	case websocket.LifecycleError:
		payload := &ErrorPayload{Message: "connection error"}
		if ev.Err != nil {
			payload.Message = ev.Err.Error()
		}
		s.dropTurnLocked(s.machine.Dispatch(Event{Type: EventConnectionError, Error: payload}) && wasProcessing, &out)
	case websocket.LifecycleClosed:
		s.dropTurnLocked(s.machine.Dispatch(Event{Type: EventDisconnected}) && wasProcessing, &out)
	case websocket.LifecycleGaveUp:
		out.messages = append(out.messages, s.appendLocked(constant.ChatMessageRoleError, constant.ReconnectFailedMessage, false))
	}
	s.mu.Unlock()

	s.flush(out)
}

// dropTurnLocked discards the partial response of a turn the connection
// took down with it.
func (s *Session) dropTurnLocked(dropped bool, out *pending) {
	if !dropped {
		return
	}
	s.buffer.Reset()
	out.messages = append(out.messages, s.appendLocked(constant.ChatMessageRoleError, constant.ConnectionLostMessage, false))
	s.logger.Warn(sessionLogModule, "Connection lost during a turn", nil)
}

func (s *Session) appendLocked(role, content string, rateLimit bool) Message {
	msg := Message{Role: role, Content: content, Timestamp: s.clock.Now(), IsRateLimit: rateLimit}
	s.messages = append(s.messages, msg)
	return msg
}

func (s *Session) flush(out pending) {
	if out.created != nil && s.onConversationCreated != nil {
		s.onConversationCreated(out.created[0], out.created[1])
	}
	if out.chunk != "" && s.onChunk != nil {
		s.onChunk(out.chunk)
	}
	for _, msg := range out.messages {
		s.notifyMessage(msg)
	}
}

func (s *Session) notifyMessage(msg Message) {
	if s.onMessage != nil {
		s.onMessage(msg)
	}
}
