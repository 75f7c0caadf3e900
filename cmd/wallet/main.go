package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/fundflow/internal/app"
	"github.com/congo-pay/fundflow/internal/config"
	"github.com/congo-pay/fundflow/internal/coordinator"
	"github.com/congo-pay/fundflow/internal/infra"
	"github.com/congo-pay/fundflow/internal/ledger"
	"github.com/congo-pay/fundflow/internal/logging"
	"github.com/congo-pay/fundflow/internal/messaging"
	"github.com/congo-pay/fundflow/internal/metrics"
	"github.com/congo-pay/fundflow/internal/notification"
	"github.com/congo-pay/fundflow/internal/payments"
	"github.com/congo-pay/fundflow/internal/routes"
	"github.com/congo-pay/fundflow/internal/server"
	"github.com/congo-pay/fundflow/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateWallet()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, "wallet")
	if err := run(cfg, logger); err != nil {
		logger.Error("wallet service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("wallet service exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New("wallet")
	a := app.New(logger, cfg.ShutdownPeriod)
	checks := map[string]routes.Check{}

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName+"-wallet", int32(cfg.ConsumerConcurrency*2))
		if err != nil {
			return err
		}
		db = pool
		a.OnClose("postgres", func() error { db.Close(); return nil })
		checks["postgres"] = db.Ping
		if cfg.MigrateOnStart {
			if err := infra.Migrate(ctx, db); err != nil {
				return err
			}
			logger.Info("schema applied")
		}
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL, cfg.AppName+"-wallet")
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

	var (
		ledgerBackend ledger.Ledger
		methods       wallet.Repository
		store         coordinator.Store
	)
	if db != nil {
		ledgerBackend = ledger.NewPostgresLedger(db)
		methods = wallet.NewPostgresRepository(db)
		store = coordinator.NewPostgresStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, balances and settlements are kept in memory")
		ledgerBackend = ledger.NewInMemory()
		methods = wallet.NewMemoryRepository()
		store = coordinator.NewMemoryStore()
	}
	wallets := wallet.NewService(methods, ledgerBackend)

	notifier := notification.Multi{notification.NewLoggerNotifier(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := notification.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		notifier = append(notifier, kafka)
		a.OnClose("kafka", kafka.Close)
	}

	coord, err := coordinator.NewService(logger, coordinator.Config{
		PaymentQueue:      cfg.PaymentQueue,
		ReplyQueue:        cfg.ReplyQueue,
		SettlementTimeout: cfg.SettlementTimeout,
	}, store, ledgerBackend, wallets, broker, notifier, m)
	if err != nil {
		return err
	}

	a.Add("settler", messaging.NewWorker(logger, broker, cfg.ReplyQueue, coord.HandleInstruction))
	a.Add("reconciler", coordinator.NewReconciler(coord, cfg.ReconcileInterval))
	if cfg.Broker == config.BrokerMemory {
		// Nothing outside this process can reach an in-memory queue.
		processor := payments.NewService(logger.With(slog.String("component", "processor")), broker)
		a.Add("processor", messaging.NewWorker(logger, broker, cfg.PaymentQueue, processor.Handle))
	}
	a.Add("http", server.New(routes.Deps{
		Cfg:         cfg,
		Cache:       rdb,
		Logger:      logger,
		Metrics:     m,
		Checks:      checks,
		Wallets:     wallet.NewHandler(wallets),
		Coordinator: coordinator.NewHandler(coord),
	}))

	logger.Info("wallet service starting",
		slog.String("env", cfg.AppEnv),
		slog.String("broker", cfg.Broker),
		slog.String("reply_queue", cfg.ReplyQueue),
		slog.String("addr", cfg.Address()))
	return a.Run(ctx)
}
