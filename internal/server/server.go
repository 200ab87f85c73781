package server

import (
	"net"

	"cicero-client/internal/config"
	"cicero-client/internal/handler"
	"cicero-client/internal/pkg/logger"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
)

// Server is the mock streaming backend used for local development and
// end-to-end tests of the client.
type Server struct {
	app    *fiber.App
	port   string
	logger logger.ILogger
}

func New(cfg *config.Config, chat *handler.ChatHandler, log logger.ILogger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// OpenTelemetry tracing middleware (traces every handshake)
	app.Use(otelfiber.Middleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	chat.RegisterRoutes(app)

	return &Server{app: app, port: cfg.Mock.Port, logger: log}
}

func (s *Server) GetApp() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	s.logger.Info("MockServer", "Mock server listening", map[string]interface{}{"addr": "http://localhost:" + s.port})
	return s.app.Listen(":" + s.port)
}

// Serve runs on an existing listener; tests use it with port 0.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
