package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/fundflow/internal/config"
	"github.com/congo-pay/fundflow/internal/coordinator"
	"github.com/congo-pay/fundflow/internal/metrics"
	"github.com/congo-pay/fundflow/internal/middleware"
	"github.com/congo-pay/fundflow/internal/wallet"
)

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Deps aggregates what the HTTP surface of a service needs. The wallet and coordinator
// handlers are nil on the payment service, which only serves health and metrics.
type Deps struct {
	Cfg         config.Config
	Cache       *redis.Client
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Checks      map[string]Check
	Wallets     *wallet.Handler
	Coordinator *coordinator.Handler
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d.Checks)
	if d.Metrics != nil {
		app.Get("/metrics", d.Metrics.Handler())
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":    "ok",
			"service":   d.Cfg.AppName,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	if d.Wallets == nil || d.Coordinator == nil {
		return
	}
	protected := api.Group("/wallet", middleware.JWTAuth([]byte(d.Cfg.JWTSecret)))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWalletRoutes(protected, d.Wallets, d.Coordinator)
}
