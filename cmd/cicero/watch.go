package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"cicero-client/internal/pkg/logger"
	"cicero-client/pkg/events"
	pktNats "cicero-client/pkg/nats"

	"github.com/spf13/cobra"
)

var (
	watchPattern string
	watchDurable string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail lifecycle events published to NATS",
	Long: `Follow connection lifecycle events published by clients running with
LIFECYCLE_SINK=nats. The pattern uses NATS wildcards, for example
"connection.>" or "conversation.created".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		sub, err := pktNats.NewSubscriber(cfg.Lifecycle.NatsURL, logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction()))
		if err != nil {
			return err
		}
		defer sub.Close()

		out := cmd.OutOrStdout()
		cancel, err := sub.Subscribe(ctx, watchPattern, watchDurable, func(_ context.Context, ev events.Event) error {
			printEvent(out, ev)
			return nil
		})
		if err != nil {
			return err
		}
		defer cancel()

		infoColor.Fprintf(out, "Watching %s on %s (Ctrl+C to stop)\n", watchPattern, cfg.Lifecycle.NatsURL)
		<-ctx.Done()
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchPattern, "pattern", "p", events.ConnectionEvents, "Event type pattern")
	watchCmd.Flags().StringVar(&watchDurable, "durable", "", "Durable consumer name (empty only sees new events)")
	rootCmd.AddCommand(watchCmd)
}

func printEvent(out io.Writer, ev events.Event) {
	c := infoColor
	switch ev.EventType() {
	case events.TypeConnectionOpen:
		c = successColor
	case events.TypeConnectionError, events.TypeReconnectGaveUp:
		c = errorColor
	case events.TypeReconnectScheduled, events.TypeConnectionClosed:
		c = warningColor
	}

	payload := ev.Payload()
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, payload[k]))
	}

	dimColor.Fprintf(out, "%s ", ev.Timestamp().Format("15:04:05.000"))
	c.Fprintf(out, "%-32s", ev.EventType())
	fmt.Fprintln(out, " "+strings.Join(parts, " "))
}
