package service

import (
	"context"
	"sync"
	"time"

	"cicero-client/internal/pkg/logger"
	"cicero-client/internal/websocket"
	"cicero-client/pkg/events"
)

const (
	lifecycleLogModule = "Lifecycle"
	lifecycleQueueSize = 64
	publishTimeout     = 2 * time.Second
)

// ILifecycleService forwards transport lifecycle to a sink without ever
// blocking the socket's read path.
type ILifecycleService interface {
	// Forward is a websocket.Manager observer.
	Forward(ev websocket.LifecycleEvent)
	ConversationCreated(id, title string)
	Stop()
}

type lifecycleService struct {
	sink   ILifecycleSink
	logger logger.ILogger
	queue  chan events.Event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLifecycleService(sink ILifecycleSink, log logger.ILogger) ILifecycleService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &lifecycleService{
		sink:   sink,
		logger: log,
		queue:  make(chan events.Event, lifecycleQueueSize),
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.run(ctx)
	return s
}

func (s *lifecycleService) Forward(ev websocket.LifecycleEvent) {
	s.enqueue(LifecycleEventFrom(ev))
}

func (s *lifecycleService) ConversationCreated(id, title string) {
	s.enqueue(events.BaseEvent{
		Type:       events.TypeConversationCreated,
		Data:       map[string]interface{}{"conversation_id": id, "title": title},
		OccurredAt: time.Now(),
	})
}

func (s *lifecycleService) enqueue(event events.Event) {
	select {
	case s.queue <- event:
	default:
		s.logger.Warn(lifecycleLogModule, "Lifecycle queue full, event dropped", map[string]interface{}{
			"type": event.EventType(),
		})
	}
}

func (s *lifecycleService) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.queue:
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := s.sink.Publish(pubCtx, event); err != nil {
				s.logger.Warn(lifecycleLogModule, "Failed to publish lifecycle event", map[string]interface{}{
					"type":  event.EventType(),
					"error": err.Error(),
				})
			}
			cancel()
		}
	}
}

// Stop ends the worker and closes the sink. Queued events not yet
// published are discarded.
func (s *lifecycleService) Stop() {
	s.cancel()
	s.wg.Wait()
	if err := s.sink.Close(); err != nil {
		s.logger.Warn(lifecycleLogModule, "Failed to close lifecycle sink", map[string]interface{}{"error": err.Error()})
	}
}

var lifecycleTypes = map[websocket.LifecycleKind]string{
	websocket.LifecycleConnecting:         events.TypeConnectionConnecting,
	websocket.LifecycleOpen:               events.TypeConnectionOpen,
	websocket.LifecycleError:              events.TypeConnectionError,
	websocket.LifecycleClosed:             events.TypeConnectionClosed,
	websocket.LifecycleReconnectScheduled: events.TypeReconnectScheduled,
	websocket.LifecycleGaveUp:             events.TypeReconnectGaveUp,
}

// LifecycleEventFrom converts a transport event into the bus contract.
func LifecycleEventFrom(ev websocket.LifecycleEvent) events.BaseEvent {
	data := map[string]interface{}{}
	switch ev.Kind {
	case websocket.LifecycleReconnectScheduled:
		data["attempt"] = ev.Attempt
		data["delay"] = ev.Delay.String()
	case websocket.LifecycleGaveUp:
		data["attempt"] = ev.Attempt
	case websocket.LifecycleClosed:
		data["clean"] = ev.Clean
	}
	if ev.Err != nil {
		data["error"] = ev.Err.Error()
	}

	eventType, ok := lifecycleTypes[ev.Kind]
	if !ok {
		eventType = "connection." + string(ev.Kind)
	}
	return events.BaseEvent{Type: eventType, Data: data, OccurredAt: ev.At}
}
