package service

import (
	"context"
	"fmt"

	"cicero-client/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// ILifecycleSink receives connection and conversation events. The NATS
// publisher in pkg/nats satisfies it unchanged.
type ILifecycleSink interface {
	Publish(ctx context.Context, event events.Event) error
	Close() error
}

// GoChannelLifecycleSink is an in-process bus; other parts of the same
// process read it with Subscribe.
type GoChannelLifecycleSink struct {
	pubSub *gochannel.GoChannel
	topic  string
}

func NewGoChannelLifecycleSink(pubSub *gochannel.GoChannel, topic string) *GoChannelLifecycleSink {
	return &GoChannelLifecycleSink{pubSub: pubSub, topic: topic}
}

func (s *GoChannelLifecycleSink) Publish(_ context.Context, event events.Event) error {
	payload, err := events.Encode(event)
	if err != nil {
		return err
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("event_type", event.EventType())
	if err := s.pubSub.Publish(s.topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType(), err)
	}
	return nil
}

// Subscribe decodes the topic into events until ctx is done.
func (s *GoChannelLifecycleSink) Subscribe(ctx context.Context) (<-chan events.BaseEvent, error) {
	messages, err := s.pubSub.Subscribe(ctx, s.topic)
	if err != nil {
		return nil, err
	}

	out := make(chan events.BaseEvent)
	go func() {
		defer close(out)
		for msg := range messages {
			event, err := events.Decode(msg.Payload)
			// Ack undecodable messages too, or gochannel redelivers forever.
			msg.Ack()
			if err != nil {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *GoChannelLifecycleSink) Close() error {
	return s.pubSub.Close()
}

type nopLifecycleSink struct{}

func NewNopLifecycleSink() ILifecycleSink { return nopLifecycleSink{} }

func (nopLifecycleSink) Publish(context.Context, events.Event) error { return nil }

func (nopLifecycleSink) Close() error { return nil }
