package handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cicero-client/internal/constant"
	"cicero-client/internal/dto"
	"cicero-client/internal/pkg/logger"
	"cicero-client/internal/pkg/serverutils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const logModule = "MockServer"

// rateLimitTrigger makes the mock answer with a rate limit error instead of
// a response.
const rateLimitTrigger = "rate limit"

// ChatHandler is a scripted stand-in for the streaming backend. It speaks
// the same frames as the real service so the client can be exercised end
// to end without one.
type ChatHandler struct {
	jwtSecret  string
	frameDelay time.Duration
	logger     logger.ILogger
}

// NewChatHandler builds the handler. An empty jwtSecret accepts anonymous
// connections; otherwise ?token= must be a valid HS256 token.
func NewChatHandler(jwtSecret string, frameDelay time.Duration, log logger.ILogger) *ChatHandler {
	return &ChatHandler{jwtSecret: jwtSecret, frameDelay: frameDelay, logger: log}
}

func (h *ChatHandler) RegisterRoutes(app fiber.Router) {
	app.Get(constant.WSPath, h.ServeWs)
}

// ServeWs authorizes the handshake and upgrades it.
func (h *ChatHandler) ServeWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	userID := "anonymous"
	tokenStr := c.Query(constant.TokenQueryParam)
	if h.jwtSecret != "" {
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing token"})
		}
		id, err := serverutils.ParseToken(h.jwtSecret, tokenStr)
		if err != nil {
			h.logger.Warn(logModule, "Invalid token in WS handshake", map[string]interface{}{"error": err.Error()})
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}
		userID = id
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info(logModule, "Starting WebSocket session", map[string]interface{}{"user_id": userID})
		h.serve(conn, userID)
		h.logger.Info(logModule, "WebSocket session ended", map[string]interface{}{"user_id": userID})
	})(c)
}

type outFrame struct {
	Type     string                 `json:"type"`
	Content  string                 `json:"content,omitempty"`
	Chunk    string                 `json:"chunk,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Final    bool                   `json:"final,omitempty"`
	Metadata map[string]interface{} `json:"metadata"`
}

func (h *ChatHandler) serve(conn *websocket.Conn, userID string) {
	if err := conn.WriteJSON(outFrame{Type: constant.FrameTypeConnected, Metadata: map[string]interface{}{}}); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var query dto.QueryFrame
		if err := json.Unmarshal(data, &query); err != nil || query.Type != constant.FrameTypeQuery {
			h.logger.Warn(logModule, "Ignoring unexpected frame", map[string]interface{}{"raw": string(data)})
			continue
		}
		if err := h.answer(conn, &query, userID); err != nil {
			h.logger.Warn(logModule, "Failed to write response", map[string]interface{}{"error": err.Error()})
			return
		}
	}
}

// answer plays the fixed script for one query.
func (h *ChatHandler) answer(conn *websocket.Conn, query *dto.QueryFrame, userID string) error {
	sessionID := deref(query.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	conversationID := deref(query.ConversationID)
	newConversation := conversationID == ""
	if newConversation {
		conversationID = uuid.NewString()
	}

	meta := func(extra map[string]interface{}) map[string]interface{} {
		m := map[string]interface{}{"session_id": sessionID, "conversation_id": conversationID}
		for k, v := range extra {
			m[k] = v
		}
		return m
	}

	if strings.Contains(strings.ToLower(query.Content), rateLimitTrigger) {
		userType := "registered"
		if userID == "anonymous" {
			userType = "anonymous"
		}
		return conn.WriteJSON(outFrame{
			Type:  constant.FrameTypeError,
			Error: "Rate limit exceeded. Please try again later.",
			Metadata: meta(map[string]interface{}{
				"rate_limit": true,
				"reset_time": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
				"user_type":  userType,
			}),
		})
	}

	received := map[string]interface{}{}
	if newConversation {
		received["new_conversation"] = true
	}
	script := []outFrame{
		{Type: constant.FrameTypeQueryReceived, Metadata: meta(received)},
		{Type: constant.FrameTypeReasoningUpdate, Content: "Reading the question", Metadata: meta(nil)},
	}
	if strings.Contains(strings.ToLower(query.Content), "search") {
		script = append(script,
			outFrame{Type: constant.FrameTypeToolStart, Content: "search", Metadata: meta(nil)},
			outFrame{Type: constant.FrameTypeToolResult, Content: "3 results", Metadata: meta(nil)},
		)
	}

	answer := fmt.Sprintf("You asked: %q. This is a scripted answer from the mock server.", query.Content)
	for _, chunk := range splitChunks(answer, 3) {
		script = append(script, outFrame{Type: constant.FrameTypeResponseChunk, Chunk: chunk, Metadata: meta(nil)})
	}
	script = append(script, outFrame{
		Type:     constant.FrameTypeResponseComplete,
		Content:  answer,
		Final:    true,
		Metadata: meta(nil),
	})

	for _, frame := range script {
		if h.frameDelay > 0 {
			time.Sleep(h.frameDelay)
		}
		if err := conn.WriteJSON(frame); err != nil {
			return err
		}
	}
	h.logger.Debug(logModule, "Answered query", map[string]interface{}{
		"session_id":      sessionID,
		"conversation_id": conversationID,
		"frames":          len(script),
	})
	return nil
}

// splitChunks cuts s into n pieces of roughly equal rune length.
func splitChunks(s string, n int) []string {
	runes := []rune(s)
	size := (len(runes) + n - 1) / n
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
