package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"cicero-client/internal/pkg/logger"
	"cicero-client/internal/websocket"
	"cicero-client/pkg/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleEventFrom(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   websocket.LifecycleEvent
		typ  string
		data map[string]interface{}
	}{
		{"open", websocket.LifecycleEvent{Kind: websocket.LifecycleOpen, At: at}, events.TypeConnectionOpen, map[string]interface{}{}},
		{"clean close", websocket.LifecycleEvent{Kind: websocket.LifecycleClosed, Clean: true, At: at}, events.TypeConnectionClosed, map[string]interface{}{"clean": true}},
		{
			"unclean close",
			websocket.LifecycleEvent{Kind: websocket.LifecycleClosed, Err: errors.New("abnormal"), At: at},
			events.TypeConnectionClosed,
			map[string]interface{}{"clean": false, "error": "abnormal"},
		},
		{
			"reconnect",
			websocket.LifecycleEvent{Kind: websocket.LifecycleReconnectScheduled, Attempt: 3, Delay: 4 * time.Second, At: at},
			events.TypeReconnectScheduled,
			map[string]interface{}{"attempt": 3, "delay": "4s"},
		},
		{"gave up", websocket.LifecycleEvent{Kind: websocket.LifecycleGaveUp, Attempt: 5, At: at}, events.TypeReconnectGaveUp, map[string]interface{}{"attempt": 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LifecycleEventFrom(tt.in)
			assert.Equal(t, tt.typ, got.EventType())
			assert.Equal(t, tt.data, got.Payload())
			assert.Equal(t, at, got.Timestamp())
		})
	}
}

func TestLifecycleServiceForwardsToGoChannel(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
	sink := NewGoChannelLifecycleSink(pubSub, "lifecycle")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received, err := sink.Subscribe(ctx)
	require.NoError(t, err)

	svc := NewLifecycleService(sink, logger.NewNopLogger())
	defer svc.Stop()

	svc.Forward(websocket.LifecycleEvent{Kind: websocket.LifecycleConnecting})
	svc.Forward(websocket.LifecycleEvent{Kind: websocket.LifecycleOpen})
	svc.ConversationCreated("c42", "What's in H.")

	var got []events.BaseEvent
	for len(got) < 3 {
		select {
		case ev := <-received:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of 3 events", len(got))
		}
	}

	assert.Equal(t, events.TypeConnectionConnecting, got[0].Type)
	assert.Equal(t, events.TypeConnectionOpen, got[1].Type)
	assert.Equal(t, events.TypeConversationCreated, got[2].Type)
	assert.Equal(t, "c42", got[2].Data["conversation_id"])
}

type failingSink struct{ closed bool }

func (f *failingSink) Publish(context.Context, events.Event) error { return errors.New("down") }
func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestLifecycleServiceSurvivesSinkErrors(t *testing.T) {
	sink := &failingSink{}
	svc := NewLifecycleService(sink, logger.NewNopLogger())

	for i := 0; i < lifecycleQueueSize*2; i++ {
		svc.Forward(websocket.LifecycleEvent{Kind: websocket.LifecycleOpen})
	}
	svc.Stop()
	assert.True(t, sink.closed)
}

func TestNopSink(t *testing.T) {
	sink := NewNopLifecycleSink()
	assert.NoError(t, sink.Publish(context.Background(), events.BaseEvent{Type: "x"}))
	assert.NoError(t, sink.Close())
}
