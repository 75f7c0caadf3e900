package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fundflow/internal/routes"
)

// Server wraps the Fiber application as a long-lived component.
type Server struct {
	app  *fiber.App
	addr string
	log  *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(d routes.Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:               d.Cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		DisableStartupMessage: true,
	})
	routes.Setup(app, d)
	return &Server{app: app, addr: d.Cfg.Address(), log: d.Logger}
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens until Stop is called.
func (s *Server) Start(context.Context) error {
	s.log.Info("http server listening", slog.String("addr", s.addr))
	return s.app.Listen(s.addr)
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
