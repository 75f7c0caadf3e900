package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/fundflow/internal/app"
	"github.com/congo-pay/fundflow/internal/config"
	"github.com/congo-pay/fundflow/internal/infra"
	"github.com/congo-pay/fundflow/internal/logging"
	"github.com/congo-pay/fundflow/internal/messaging"
	"github.com/congo-pay/fundflow/internal/metrics"
	"github.com/congo-pay/fundflow/internal/payments"
	"github.com/congo-pay/fundflow/internal/routes"
	"github.com/congo-pay/fundflow/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, "payment")
	if err := run(cfg, logger); err != nil {
		logger.Error("payment service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("payment service exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	if cfg.Broker == config.BrokerMemory {
		return fmt.Errorf("the payment service needs a shared broker, set BROKER=nats or BROKER=redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New("payment")
	a := app.New(logger, cfg.ShutdownPeriod)
	checks := map[string]routes.Check{}

	var rdb *redis.Client
	if cfg.Broker == config.BrokerRedis {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL, cfg.AppName+"-payment")
		if err != nil {
			return err
		}
		rdb = client
		a.OnClose("redis", rdb.Close)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	broker, err := infra.NewBroker(ctx, cfg, logger, rdb, m)
	if err != nil {
		return err
	}
	a.OnClose("broker", broker.Close)

	processor := payments.NewService(logger, broker)
	a.Add("processor", messaging.NewWorker(logger, broker, cfg.PaymentQueue, processor.Handle))
	a.Add("http", server.New(routes.Deps{
		Cfg:     cfg,
		Logger:  logger,
		Metrics: m,
		Checks:  checks,
	}))

	logger.Info("payment service starting",
		slog.String("env", cfg.AppEnv),
		slog.String("broker", cfg.Broker),
		slog.String("queue", cfg.PaymentQueue),
		slog.String("addr", cfg.Address()))
	return a.Run(ctx)
}
