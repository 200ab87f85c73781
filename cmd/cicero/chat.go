package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"cicero-client/internal/bootstrap"
	"cicero-client/internal/chat"
	"cicero-client/internal/constant"
	"cicero-client/internal/tracer"
	"cicero-client/pkg/events"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var chatToken string

const connectTimeout = 10 * time.Second

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long: `Open the streaming connection and chat interactively.

Commands:
  /new        start a new conversation
  /clear      dismiss an error or rate limit
  /reconnect  connect again after the client gave up
  /logout     end the server session and forget the token
  /quit       leave; only the token survives, and only with TOKEN_STORE=redis`,
	RunE: func(cmd *cobra.Command, args []string) error {
		container, err := bootstrap.NewContainer(cfg)
		if err != nil {
			return err
		}
		defer container.Close()

		shutdownTracer := tracer.InitTracer("cicero-client", cfg.App, container.Logger)
		defer func() { _ = shutdownTracer(context.Background()) }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		token := chatToken
		if token == "" {
			token, _ = container.TokenStore.Get(ctx, constant.AuthTokenStorageKey)
		}
		return runChat(ctx, container, cmd.InOrStdin(), cmd.OutOrStdout(), token)
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatToken, "token", "t", "", "Bearer token (defaults to the stored token)")
	rootCmd.AddCommand(chatCmd)
}

// terminal serializes writes coming from the REPL, the read goroutine and
// the reconnect goroutines. streamed is guarded by mu.
type terminal struct {
	mu       sync.Mutex
	out      io.Writer
	streamed bool
}

func (t *terminal) print(c *color.Color, format string, a ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printLocked(c, format, a...)
}

func (t *terminal) printLocked(c *color.Color, format string, a ...interface{}) {
	if c == nil {
		fmt.Fprintf(t.out, format, a...)
		return
	}
	c.Fprintf(t.out, format, a...)
}

func (t *terminal) chunk(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streamed = true
	t.printLocked(nil, "%s", s)
}

// message prints a finished transcript entry. Streamed answers are already
// on screen, so only the line break is written for them.
func (t *terminal) message(m chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch m.Role {
	case constant.ChatMessageRoleAssistant:
		if !t.streamed {
			t.printLocked(nil, "%s", m.Content)
		}
		t.printLocked(nil, "\n")
	case constant.ChatMessageRoleError:
		if t.streamed {
			t.printLocked(nil, "\n")
		}
		t.printLocked(errorColor, "! %s\n", m.Content)
	default:
		return
	}
	t.streamed = false
}

func runChat(ctx context.Context, c *bootstrap.Container, in io.Reader, out io.Writer, token string) error {
	term := &terminal{out: out}
	turnDone := make(chan struct{}, 1)

	session, machine := c.NewChatSession(
		func(id, title string) { term.print(dimColor, "[conversation %q]\n", title) },
		chat.WithChunkListener(term.chunk),
		chat.WithMessageListener(term.message),
	)

	cancelSub := machine.Subscribe(func(prev, next chat.State) {
		if prev.Connection != next.Connection && (verbose || next.Connection == chat.ConnectionError) {
			term.print(dimColor, "[connection: %s]\n", next.Connection)
		}
		if prev.Conversation != next.Conversation {
			switch next.Conversation {
			case chat.TurnThinking:
				term.print(dimColor, "thinking...\n")
			case chat.TurnSearching:
				term.print(dimColor, "searching...\n")
			case chat.TurnRateLimited:
				if next.Error != nil && next.Error.ResetTime != "" {
					term.print(warningColor, "Rate limited until %s. Type /clear to continue.\n", next.Error.ResetTime)
				}
			}
		}
		if prev.Flags().IsProcessing && !next.Flags().IsProcessing {
			select {
			case turnDone <- struct{}{}:
			default:
			}
		}
	})
	defer cancelSub()

	session.Attach()
	defer session.Detach()

	if c.LocalBus != nil {
		watchLocalBus(ctx, c, term)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err := c.Manager.Connect(connectCtx, token)
	cancel()
	if err != nil {
		term.print(warningColor, "Could not connect: %v\n", err)
	} else {
		term.print(successColor, "Connected to %s\n", c.Config.Transport.WSURL)
	}
	if id := c.Manager.SessionID(); id != "" {
		term.print(dimColor, "[resuming session %s]\n", id)
	}

	scanner := bufio.NewScanner(in)
	for {
		term.print(userColor, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/new":
			session.NewConversation()
			term.print(infoColor, "Started a new conversation.\n")
		case line == "/clear":
			if !session.ClearError() {
				term.print(dimColor, "Nothing to clear.\n")
			}
		case line == "/reconnect":
			connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			if err := c.Manager.Connect(connectCtx, token); err != nil {
				term.print(errorColor, "Reconnect failed: %v\n", err)
			}
			cancel()
		case line == "/logout":
			c.Manager.EndSession()
			if err := c.TokenStore.Delete(ctx, constant.AuthTokenStorageKey); err != nil {
				return err
			}
			term.print(infoColor, "Logged out.\n")
			return nil
		case strings.HasPrefix(line, "/"):
			term.print(warningColor, "Unknown command %s\n", line)
		default:
			select {
			case <-turnDone:
			default:
			}
			err := session.SendMessage(line)
			if errors.Is(err, chat.ErrCannotSend) {
				s := session.State()
				term.print(warningColor, "Can't send right now (connection %s, turn %s).\n", s.Connection, s.Conversation)
				continue
			}
			if err != nil {
				return err
			}
			select {
			case <-turnDone:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// watchLocalBus prints reconnect progress from the in-process lifecycle bus.
func watchLocalBus(ctx context.Context, c *bootstrap.Container, term *terminal) {
	received, err := c.LocalBus.Subscribe(ctx)
	if err != nil {
		c.Logger.Warn("Lifecycle", "Failed to subscribe to local bus", map[string]interface{}{"error": err.Error()})
		return
	}
	go func() {
		for ev := range received {
			switch ev.Type {
			case events.TypeReconnectScheduled:
				term.print(dimColor, "[reconnecting: attempt %v in %v]\n", ev.Data["attempt"], ev.Data["delay"])
			case events.TypeReconnectGaveUp:
				term.print(errorColor, "[gave up reconnecting, type /reconnect to try again]\n")
			}
		}
	}()
}
