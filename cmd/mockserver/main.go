package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cicero-client/internal/config"
	"cicero-client/internal/handler"
	"cicero-client/internal/pkg/logger"
	"cicero-client/internal/server"
	"cicero-client/internal/tracer"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	defer sysLogger.Sync()

	// 2. Initialize Tracer
	shutdownTracer := tracer.InitTracer("cicero-mockserver", cfg.App, sysLogger)
	defer shutdownTracer(context.Background())

	// 3. Initialize Server
	chatHandler := handler.NewChatHandler(cfg.Mock.JWTSecret, 150*time.Millisecond, sysLogger)
	srv := server.New(cfg, chatHandler, sysLogger)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		sysLogger.Info("MockServer", "Shutting down", nil)
		_ = srv.Shutdown()
	}()

	// 4. Run Server
	if err := srv.Run(); err != nil {
		log.Fatal(err)
	}
}
