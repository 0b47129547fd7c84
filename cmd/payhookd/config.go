package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/payhook"
	"github.com/xraph/payhook/internal/logging"
	"github.com/xraph/payhook/merchant"
)

// Config is the daemon configuration, read from config.yaml and overridden
// by PAYHOOK_* environment variables (PAYHOOK_STORE_DSN, ...).
type Config struct {
	Server    Server              `mapstructure:"server"`
	Store     StoreConfig         `mapstructure:"store"`
	Logs      logging.Config      `mapstructure:"logs"`
	Delivery  payhook.Config      `mapstructure:"delivery"`
	Kafka     Kafka               `mapstructure:"kafka"`
	Merchants []merchant.Merchant `mapstructure:"merchants"`
}

type Server struct {
	Addr            string        `mapstructure:"addr"`
	MetricsPath     string        `mapstructure:"metrics_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend: memory, postgres, sqlite,
// mongo or redis.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Kafka configures the upstream payment event consumer. It is disabled
// while Brokers is empty.
type Kafka struct {
	Brokers    string        `mapstructure:"brokers"`
	Topic      string        `mapstructure:"topic"`
	GroupID    string        `mapstructure:"group_id"`
	Attempts   int           `mapstructure:"attempts"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

func setDefaults(v *viper.Viper) {
	d := payhook.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.loki_url", "")
	v.SetDefault("logs.service", "payhook")

	v.SetDefault("delivery.concurrency", d.Concurrency)
	v.SetDefault("delivery.poll_interval", d.PollInterval)
	v.SetDefault("delivery.batch_size", d.BatchSize)
	v.SetDefault("delivery.lease", d.Lease)
	v.SetDefault("delivery.request_timeout", d.RequestTimeout)
	v.SetDefault("delivery.max_attempts", d.MaxAttempts)
	v.SetDefault("delivery.initial_backoff", d.InitialBackoff)
	v.SetDefault("delivery.max_backoff", d.MaxBackoff)
	v.SetDefault("delivery.tolerance", d.Tolerance)
	v.SetDefault("delivery.rate_limit", d.RateLimit)
	v.SetDefault("delivery.rate_burst", d.RateBurst)
	v.SetDefault("delivery.strict_event_types", d.StrictEventTypes)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "payment-events")
	v.SetDefault("kafka.group_id", "payhook")
	v.SetDefault("kafka.attempts", 3)
	v.SetDefault("kafka.retry_delay", time.Second)
}

// LoadConfig reads config.yaml from dir. A missing file is not an error;
// defaults and the environment still apply.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PAYHOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case driverMemory:
	case driverPostgres, driverSQLite, driverMongo, driverRedis:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	if len(c.Merchants) == 0 {
		return errors.New("config: at least one merchant is required")
	}
	seen := make(map[string]bool, len(c.Merchants))
	for _, m := range c.Merchants {
		if m.ID == "" || m.Secret == "" {
			return errors.New("config: merchants need an id and a secret")
		}
		if seen[m.ID] {
			return fmt.Errorf("config: duplicate merchant %q", m.ID)
		}
		seen[m.ID] = true
	}

	if c.Kafka.Brokers != "" && c.Kafka.Topic == "" {
		return errors.New("config: kafka.topic is required when kafka.brokers is set")
	}
	return nil
}
