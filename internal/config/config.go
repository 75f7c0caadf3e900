package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName             = "FundFlow"
	defaultAppEnv              = "development"
	defaultPort                = "8080"
	defaultLogLevel            = "info"
	defaultShutdownDelay       = 10 * time.Second
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultBroker              = BrokerMemory
	defaultNATSStream          = "FUNDS"
	defaultStreamPrefix        = "funds"
	defaultPaymentQueue        = "payment-service"
	defaultReplyQueue          = "wallet-service"
	defaultDeadLetterQueue     = "dlq"
	defaultMaxDeliver          = 5
	defaultAckWait             = 30 * time.Second
	defaultConsumerConcurrency = 8
	defaultSettlementTimeout   = 2 * time.Minute
	defaultReconcileInterval   = 15 * time.Second
	defaultKafkaTopic          = "fundflow.settlements"
)

// Supported broker backends.
const (
	BrokerMemory = "memory"
	BrokerNATS   = "nats"
	BrokerRedis  = "redis"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	MigrateOnStart bool

	Broker              string
	NATSURL             string
	NATSStream          string
	StreamPrefix        string
	PaymentQueue        string
	ReplyQueue          string
	DeadLetterQueue     string
	MaxDeliver          int
	AckWait             time.Duration
	ConsumerConcurrency int

	SettlementTimeout time.Duration
	ReconcileInterval time.Duration

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		MigrateOnStart:  strings.EqualFold(os.Getenv("MIGRATE_ON_START"), "true"),
		Broker:          strings.ToLower(getEnv("BROKER", defaultBroker)),
		NATSURL:         os.Getenv("NATS_URL"),
		NATSStream:      getEnv("NATS_STREAM", defaultNATSStream),
		StreamPrefix:    getEnv("STREAM_PREFIX", defaultStreamPrefix),
		PaymentQueue:    getEnv("PAYMENT_QUEUE", defaultPaymentQueue),
		ReplyQueue:      getEnv("REPLY_QUEUE", defaultReplyQueue),
		DeadLetterQueue: getEnv("DEAD_LETTER_QUEUE", defaultDeadLetterQueue),
		KafkaTopic:      getEnv("KAFKA_TOPIC", defaultKafkaTopic),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AckWait, err = durationEnv("ACK_WAIT", defaultAckWait); err != nil {
		return Config{}, err
	}
	if cfg.SettlementTimeout, err = durationEnv("SETTLEMENT_TIMEOUT", defaultSettlementTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = durationEnv("RECONCILE_INTERVAL", defaultReconcileInterval); err != nil {
		return Config{}, err
	}
	if cfg.MaxDeliver, err = intEnv("MAX_DELIVER", defaultMaxDeliver); err != nil {
		return Config{}, err
	}
	if cfg.ConsumerConcurrency, err = intEnv("CONSUMER_CONCURRENCY", defaultConsumerConcurrency); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Broker {
	case BrokerMemory:
		if !c.IsDev() {
			return fmt.Errorf("BROKER=%s is only allowed when APP_ENV is a development environment", c.Broker)
		}
	case BrokerNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("NATS_URL must be set when BROKER=nats")
		}
	case BrokerRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when BROKER=redis")
		}
	default:
		return fmt.Errorf("invalid BROKER %q, must be memory, nats or redis", c.Broker)
	}

	if c.MaxDeliver < 1 {
		return fmt.Errorf("MAX_DELIVER must be at least 1")
	}
	if c.ConsumerConcurrency < 1 {
		return fmt.Errorf("CONSUMER_CONCURRENCY must be at least 1")
	}
	if c.SettlementTimeout <= 0 || c.ReconcileInterval <= 0 {
		return fmt.Errorf("SETTLEMENT_TIMEOUT and RECONCILE_INTERVAL must be positive")
	}
	if c.PaymentQueue == c.ReplyQueue {
		return fmt.Errorf("PAYMENT_QUEUE and REPLY_QUEUE must differ")
	}
	return nil
}

// ValidateWallet adds the requirements of the wallet service, which owns balances and
// authenticates callers.
func (c Config) ValidateWallet() error {
	if c.IsDev() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv accepts either KEY_SECONDS as an integer or KEY as a Go duration string.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
