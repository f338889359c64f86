// Package api exposes the backplane's HTTP surface: the long-poll channel
// endpoints plus health and metrics.
package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"

	"github.com/wayli-app/relay/internal/auth"
	"github.com/wayli-app/relay/internal/config"
	"github.com/wayli-app/relay/internal/events"
	"github.com/wayli-app/relay/internal/kv"
	"github.com/wayli-app/relay/internal/middleware"
	"github.com/wayli-app/relay/internal/observability"
)

// Server represents the HTTP server
type Server struct {
	app            *fiber.App
	config         *config.Config
	channelHandler *ChannelHandler
	metrics        *observability.Metrics
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, store kv.Store, authenticator auth.Authenticator, authorizer auth.Authorizer, recorder events.Recorder, metrics *observability.Metrics) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader:          "Relay",
		AppName:               "Relay v1.0.0",
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
		ErrorHandler:          customErrorHandler,
	})

	server := &Server{
		app:            app,
		config:         cfg,
		channelHandler: NewChannelHandler(store, cfg, authenticator, authorizer, recorder, metrics),
		metrics:        metrics,
	}

	server.setupMiddlewares()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddlewares() {
	s.app.Use(requestid.New())
	s.app.Use(recover.New())
	s.app.Use(cors.New())
	s.app.Use(middleware.StructuredLogger(middleware.DefaultStructuredLoggerConfig()))
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", s.metrics.Handler())

	v1 := s.app.Group("/api/v1")
	channels := v1.Group("/channels")
	channels.Post("/subscribe", s.channelHandler.HandleSubscribe)
	channels.Get("/pull", s.channelHandler.HandlePull)
	channels.Post("/unsubscribe", s.channelHandler.HandleUnsubscribe)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying fiber app. Used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler converts unhandled errors into the standard error shape
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	if code >= 500 {
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	return SendError(c, code, err.Error())
}
