package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("BROKER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broker != BrokerMemory || cfg.PaymentQueue != "payment-service" || cfg.ReplyQueue != "wallet-service" {
		t.Fatalf("unexpected broker defaults %+v", cfg)
	}
	if cfg.MaxDeliver != 5 || cfg.AckWait != 30*time.Second || cfg.SettlementTimeout != 2*time.Minute {
		t.Fatalf("unexpected delivery defaults %+v", cfg)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if err := cfg.ValidateWallet(); err != nil {
		t.Fatalf("dev wallet config must not need postgres: %v", err)
	}
}

func TestLoadDurationsAndLists(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("ACK_WAIT_SECONDS", "7")
	t.Setenv("SETTLEMENT_TIMEOUT", "90s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AckWait != 7*time.Second {
		t.Fatalf("expected 7s ack wait, got %s", cfg.AckWait)
	}
	if cfg.SettlementTimeout != 90*time.Second {
		t.Fatalf("expected 90s settlement timeout, got %s", cfg.SettlementTimeout)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected kafka brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"memory broker in production": {"APP_ENV": "production", "BROKER": "memory"},
		"nats without url":            {"APP_ENV": "test", "BROKER": "nats"},
		"redis without url":           {"APP_ENV": "test", "BROKER": "redis"},
		"unknown broker":              {"APP_ENV": "test", "BROKER": "rabbit"},
		"same queues":                 {"APP_ENV": "test", "PAYMENT_QUEUE": "q", "REPLY_QUEUE": "q"},
		"bad duration":                {"APP_ENV": "test", "ACK_WAIT": "soon"},
		"zero max deliver":            {"APP_ENV": "test", "MAX_DELIVER": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidateWalletOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("BROKER", "nats")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("payment service config must load without postgres: %v", err)
	}
	if err := cfg.ValidateWallet(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}
