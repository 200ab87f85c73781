package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cicero-client/internal/config"
	"cicero-client/internal/constant"
	"cicero-client/internal/dto"
	"cicero-client/internal/pkg/clock"
	"cicero-client/internal/pkg/logger"
	"cicero-client/internal/repository/memory"
	"cicero-client/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
)

var (
	healthTimeout time.Duration
	healthToken   string
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check that the backend is reachable",
	Long: `Verify the configured backend: the HTTP health endpoint answers and a
websocket handshake completes with a connected frame.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token := healthToken
		if token == "" {
			token = cfg.Storage.AuthToken
		}
		return runHealthcheck(cmd.Context(), cmd.OutOrStdout(), cfg, token, healthTimeout)
	},
}

func init() {
	healthcheckCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "Timeout for each check")
	healthcheckCmd.Flags().StringVarP(&healthToken, "token", "t", "", "Bearer token for the handshake (defaults to AUTH_TOKEN)")
	rootCmd.AddCommand(healthcheckCmd)
}

func runHealthcheck(ctx context.Context, out io.Writer, cfg *config.Config, token string, timeout time.Duration) error {
	infoColor.Fprintln(out, "Cicero Health Check")
	fmt.Fprintln(out, "===================")
	fmt.Fprintf(out, "WebSocket URL: %s\n", cfg.Transport.WSURL)

	failed := 0
	healthURL := httpBase(cfg.Transport.WSURL) + "/health"
	if err := checkHTTP(healthURL, timeout); err != nil {
		errorColor.Fprintf(out, "FAIL  %s: %v\n", healthURL, err)
		failed++
	} else {
		successColor.Fprintf(out, "OK    %s\n", healthURL)
	}

	if err := checkWebSocket(ctx, cfg.Transport.WSURL, token, timeout); err != nil {
		errorColor.Fprintf(out, "FAIL  websocket handshake: %v\n", err)
		warningColor.Fprintln(out, "Make sure the backend is running and the token is valid.")
		failed++
	} else {
		successColor.Fprintln(out, "OK    websocket handshake")
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	successColor.Fprintln(out, "All checks passed.")
	return nil
}

func checkHTTP(url string, timeout time.Duration) error {
	code, _, errs := fiber.Get(url).Timeout(timeout).Bytes()
	if len(errs) > 0 {
		return errs[0]
	}
	if code != fiber.StatusOK {
		return fmt.Errorf("unexpected status %d", code)
	}
	return nil
}

// checkWebSocket dials once with reconnects disabled and waits for the
// server's connected frame.
func checkWebSocket(ctx context.Context, wsURL, token string, timeout time.Duration) error {
	manager := websocket.NewManager(websocket.ManagerConfig{URL: wsURL}, websocket.NewDialer(),
		memory.NewKeyValueRepository(), memory.NewKeyValueRepository(), logger.NewNopLogger(), clock.Real())
	defer manager.Disconnect()

	connected := make(chan struct{}, 1)
	manager.On(constant.FrameTypeConnected, func(*dto.InboundFrame) {
		select {
		case connected <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := manager.Connect(ctx, token); err != nil {
		return err
	}
	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no connected frame: %w", ctx.Err())
	}
}

// httpBase maps ws:// and wss:// to their HTTP equivalents.
func httpBase(wsURL string) string {
	base := strings.TrimRight(wsURL, "/")
	switch {
	case strings.HasPrefix(base, "wss://"):
		return "https://" + strings.TrimPrefix(base, "wss://")
	case strings.HasPrefix(base, "ws://"):
		return "http://" + strings.TrimPrefix(base, "ws://")
	}
	return base
}
