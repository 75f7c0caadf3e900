package infra

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/fundflow/internal/config"
	"github.com/congo-pay/fundflow/internal/messaging"
)

// NewBroker builds the broker backend selected by cfg.Broker. Closing a NATS broker
// drains its connection; a Redis broker leaves rdb to the caller.
func NewBroker(ctx context.Context, cfg config.Config, logger *slog.Logger, rdb *redis.Client, observer messaging.Observer) (messaging.Broker, error) {
	opts := messaging.Options{
		MaxDeliver:      cfg.MaxDeliver,
		AckWait:         cfg.AckWait,
		Concurrency:     cfg.ConsumerConcurrency,
		DeadLetterQueue: cfg.DeadLetterQueue,
		Observer:        observer,
	}
	logger = logger.With(slog.String("broker", cfg.Broker))

	switch cfg.Broker {
	case config.BrokerMemory:
		return messaging.NewMemoryBroker(logger, opts), nil
	case config.BrokerNATS:
		nc, err := NewNATSConnection(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			return nil, err
		}
		b, err := messaging.NewNATSBroker(ctx, logger, nc, cfg.NATSStream, cfg.StreamPrefix, opts)
		if err != nil {
			nc.Close()
			return nil, err
		}
		return b, nil
	case config.BrokerRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis broker needs a redis client")
		}
		return messaging.NewRedisBroker(logger, rdb, cfg.StreamPrefix, opts), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}
