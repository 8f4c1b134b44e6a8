package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is centralized process configuration.
// Values load from an optional YAML file first, then environment variables
// override field by field. Keep infra values here and pass typed config into
// builders.
type Config struct {
	ServiceName  string   `yaml:"service_name"`
	HTTPPort     string   `yaml:"http_port"`
	PostgresDSN  string   `yaml:"postgres_dsn"`
	KafkaBrokers []string `yaml:"kafka_brokers"`

	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	OutboxBatch    int           `yaml:"outbox_batch"`
	RelayInterval  time.Duration `yaml:"relay_interval"`
}

func Load() (Config, error) {
	cfg := Config{
		ServiceName:    "warden",
		HTTPPort:       "8080",
		KafkaBrokers:   []string{"localhost:9092"},
		IdempotencyTTL: 7 * 24 * time.Hour,
		OutboxBatch:    100,
		RelayInterval:  time.Second,
	}

	if path := strings.TrimSpace(os.Getenv("WARDEN_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.HTTPPort = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, item := range strings.Split(v, ",") {
			item = strings.TrimSpace(item)
			if item != "" {
				brokers = append(brokers, item)
			}
		}
		if len(brokers) > 0 {
			cfg.KafkaBrokers = brokers
		}
	}
	if v := os.Getenv("IDEMPOTENCY_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse IDEMPOTENCY_TTL: %w", err)
		}
		cfg.IdempotencyTTL = ttl
	}
	if v := os.Getenv("OUTBOX_BATCH"); v != "" {
		batch, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse OUTBOX_BATCH: %w", err)
		}
		cfg.OutboxBatch = batch
	}
	if v := os.Getenv("RELAY_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse RELAY_INTERVAL: %w", err)
		}
		cfg.RelayInterval = interval
	}

	return cfg, nil
}
