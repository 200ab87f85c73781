package bootstrap

import (
	"context"
	"fmt"
	"time"

	"cicero-client/internal/chat"
	"cicero-client/internal/config"
	"cicero-client/internal/constant"
	"cicero-client/internal/pkg/clock"
	"cicero-client/internal/pkg/logger"
	"cicero-client/internal/repository/contract"
	"cicero-client/internal/repository/memory"
	"cicero-client/internal/repository/redisstore"
	"cicero-client/internal/service"
	"cicero-client/internal/websocket"
	pktNats "cicero-client/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const LifecycleTopic = "cicero.lifecycle"

// Container holds the process-wide singletons: one transport, its stores
// and the lifecycle bus. Chat sessions are created per screen on top of it.
type Container struct {
	Config          *config.Config
	Logger          logger.ILogger
	TransportLogger logger.ILogger
	Clock           clock.Clock

	TabStore   contract.KeyValueRepository
	TokenStore contract.KeyValueRepository
	Manager    *websocket.Manager

	Lifecycle service.ILifecycleService
	// LocalBus is set when LIFECYCLE_SINK=gochannel so in-process readers
	// can subscribe to it.
	LocalBus *service.GoChannelLifecycleSink

	stopObserving func()
}

func NewContainer(cfg *config.Config) (*Container, error) {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	transportLogger := logger.NewIsolatedLogger(cfg.App.TransportLogFilePath)
	clk := clock.Real()

	// 2. Storage
	tabStore := memory.NewKeyValueRepository()
	var tokenStore contract.KeyValueRepository
	switch cfg.Storage.TokenStore {
	case "redis":
		rdb := redisstore.NewClient(cfg.Storage.RedisURL)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			sysLogger.Warn("Bootstrap", "Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		tokenStore = redisstore.NewKeyValueRepository(rdb, sysLogger)
	default:
		tokenStore = memory.NewKeyValueRepository()
	}
	if cfg.Storage.AuthToken != "" {
		if err := tokenStore.Set(context.Background(), constant.AuthTokenStorageKey, cfg.Storage.AuthToken); err != nil {
			return nil, fmt.Errorf("failed to seed auth token: %w", err)
		}
	}

	// 3. Event Bus
	c := &Container{
		Config:          cfg,
		Logger:          sysLogger,
		TransportLogger: transportLogger,
		Clock:           clk,
		TabStore:        tabStore,
		TokenStore:      tokenStore,
	}

	var sink service.ILifecycleSink
	switch cfg.Lifecycle.Sink {
	case "gochannel":
		pubSub := gochannel.NewGoChannel(
			gochannel.Config{BlockPublishUntilSubscriberAck: true},
			watermill.NewStdLogger(false, false),
		)
		c.LocalBus = service.NewGoChannelLifecycleSink(pubSub, LifecycleTopic)
		sink = c.LocalBus
	case "nats":
		natsPub, err := pktNats.NewPublisher(cfg.Lifecycle.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn("Bootstrap", "Failed to connect to NATS Publisher, lifecycle events disabled", map[string]interface{}{"error": err.Error()})
			sink = service.NewNopLifecycleSink()
		} else {
			sink = natsPub
		}
	default:
		sink = service.NewNopLifecycleSink()
	}
	c.Lifecycle = service.NewLifecycleService(sink, sysLogger)

	// 4. Transport
	c.Manager = websocket.NewManager(websocket.ManagerConfig{
		URL:                  cfg.Transport.WSURL,
		MaxReconnectAttempts: cfg.Transport.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Transport.ReconnectBaseDelay,
	}, websocket.NewDialer(), tabStore, tokenStore, transportLogger, clk)
	c.stopObserving = c.Manager.Observe(c.Lifecycle.Forward)

	return c, nil
}

// NewChatSession builds a fresh machine and session for one chat screen.
// Conversation creation is published on the lifecycle bus before onCreated
// runs; onCreated may be nil.
func (c *Container) NewChatSession(onCreated func(id, title string), opts ...chat.Option) (*chat.Session, *chat.Machine) {
	machine := chat.NewMachine(c.Config.Chat.SendingTimeout, c.TransportLogger, c.Clock)
	opts = append(opts, chat.WithConversationCreated(func(id, title string) {
		c.Lifecycle.ConversationCreated(id, title)
		if onCreated != nil {
			onCreated(id, title)
		}
	}))
	return chat.NewSession(c.Manager, machine, c.TransportLogger, c.Clock, opts...), machine
}

// Close disconnects the transport and flushes logs. The session id stays
// in the tab store.
func (c *Container) Close() {
	c.Manager.Disconnect()
	c.stopObserving()
	c.Lifecycle.Stop()
	_ = c.TransportLogger.Sync()
	_ = c.Logger.Sync()
}
