package server_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"cicero-client/internal/chat"
	"cicero-client/internal/config"
	"cicero-client/internal/constant"
	"cicero-client/internal/handler"
	"cicero-client/internal/pkg/clock"
	"cicero-client/internal/pkg/logger"
	"cicero-client/internal/pkg/serverutils"
	"cicero-client/internal/repository/memory"
	"cicero-client/internal/server"
	"cicero-client/internal/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func startMock(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := &config.Config{Mock: config.MockConfig{Port: "0", JWTSecret: secret}}
	srv := server.New(cfg, handler.NewChatHandler(secret, 0, logger.NewNopLogger()), logger.NewNopLogger())
	go srv.Serve(ln)
	t.Cleanup(func() { _ = srv.Shutdown() })

	return "ws://" + ln.Addr().String()
}

func newManager(url string) (*websocket.Manager, *memory.KeyValueRepository) {
	tabs := memory.NewKeyValueRepository()
	m := websocket.NewManager(websocket.ManagerConfig{
		URL:                  url,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
	}, websocket.NewDialer(), tabs, memory.NewKeyValueRepository(), logger.NewNopLogger(), clock.Real())
	return m, tabs
}

func TestChatRoundTripAgainstMock(t *testing.T) {
	url := startMock(t)
	token, err := serverutils.MintToken(secret, "user-1", time.Hour)
	require.NoError(t, err)

	manager, tabs := newManager(url)
	defer manager.EndSession()

	machine := chat.NewMachine(0, logger.NewNopLogger(), clock.Real())
	created := make(chan string, 1)
	session := chat.NewSession(manager, machine, logger.NewNopLogger(), clock.Real(),
		chat.WithConversationCreated(func(id, _ string) { created <- id }))
	session.Attach()
	defer session.Detach()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Connect(ctx, token))
	require.Eventually(t, func() bool { return session.Flags().CanSendMessage }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, session.SendMessage("Please search the bill"))

	require.Eventually(t, func() bool {
		msgs := session.Messages()
		return len(msgs) == 2 && msgs[1].Role == constant.ChatMessageRoleAssistant
	}, 5*time.Second, 10*time.Millisecond)

	msgs := session.Messages()
	assert.True(t, strings.Contains(msgs[1].Content, "Please search the bill"))
	assert.Equal(t, chat.TurnIdle, session.State().Conversation)

	conversationID := <-created
	assert.Equal(t, conversationID, session.ConversationID())
	assert.NotEmpty(t, manager.SessionID())
	stored, found := tabs.Get(context.Background(), constant.SessionStorageKey)
	assert.True(t, found)
	assert.Equal(t, manager.SessionID(), stored)
}

func TestRateLimitAgainstMock(t *testing.T) {
	url := startMock(t)
	token, err := serverutils.MintToken(secret, "user-1", time.Hour)
	require.NoError(t, err)

	manager, _ := newManager(url)
	defer manager.EndSession()
	machine := chat.NewMachine(0, logger.NewNopLogger(), clock.Real())
	session := chat.NewSession(manager, machine, logger.NewNopLogger(), clock.Real())
	session.Attach()

	require.NoError(t, manager.Connect(context.Background(), token))
	require.Eventually(t, func() bool { return session.Flags().CanSendMessage }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, session.SendMessage("trigger rate limit"))

	require.Eventually(t, func() bool {
		return session.State().Conversation == chat.TurnRateLimited
	}, 5*time.Second, 10*time.Millisecond)
	state := session.State()
	require.NotNil(t, state.Error)
	assert.NotEmpty(t, state.Error.ResetTime)
	assert.Equal(t, "registered", state.Error.UserType)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	url := startMock(t)
	manager, _ := newManager(url)
	defer manager.Disconnect()

	err := manager.Connect(context.Background(), "bogus")
	assert.Error(t, err)
	assert.False(t, manager.IsConnected())
}

func TestReattachAfterDisconnectAgainstMock(t *testing.T) {
	url := startMock(t)
	token, err := serverutils.MintToken(secret, "user-1", time.Hour)
	require.NoError(t, err)

	manager, _ := newManager(url)
	defer manager.EndSession()

	machine := chat.NewMachine(0, logger.NewNopLogger(), clock.Real())
	session := chat.NewSession(manager, machine, logger.NewNopLogger(), clock.Real())
	session.Attach()
	defer session.Detach()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Connect(ctx, token))
	manager.Disconnect()
	assert.Equal(t, chat.ConnectionDisconnected, session.State().Connection)

	session.Attach()
	require.NoError(t, manager.Connect(ctx, token))
	require.Eventually(t, func() bool { return session.Flags().CanSendMessage }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, session.SendMessage("hi again"))
	require.Eventually(t, func() bool {
		msgs := session.Messages()
		return len(msgs) == 2 && msgs[1].Role == constant.ChatMessageRoleAssistant
	}, 5*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, session.ConversationID())
}
