// Package config defines service configuration structures and loading hooks.
//
// Defaults come from New; Load layers an optional YAML file and TXGUARD_
// environment variables on top. Guard tuning lives under the guard key and is
// validated by the guard package itself.
package config

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/okian/txguard/internal/domain/guard"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Alert sink names.
const (
	SinkLog      = "log"
	SinkPostgres = "postgres"
	SinkKafka    = "kafka"
)

// StoreConfig selects the shared counter store.
type StoreConfig struct {
	// Backend is memory or redis.
	Backend       string `koanf:"backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPoolSize int    `koanf:"redis_pool_size"`
	// MemoryMaxKeys bounds the in-process store; 0 means unbounded.
	MemoryMaxKeys int `koanf:"memory_max_keys"`
}

// LedgerConfig selects the transaction ledger and account profile source.
type LedgerConfig struct {
	// Backend is memory or postgres.
	Backend      string `koanf:"backend"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// AlertConfig configures the asynchronous fraud alert sink.
type AlertConfig struct {
	// Sinks lists the recorders alerts fan out to: log, postgres, kafka.
	Sinks         []string `koanf:"sinks"`
	KafkaBrokers  []string `koanf:"kafka_brokers"`
	KafkaTopic    string   `koanf:"kafka_topic"`
	QueueCapacity int      `koanf:"queue_capacity"`
	Workers       int      `koanf:"workers"`
	Retries       int      `koanf:"retries"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	// OTLPEndpoint enables trace export when set, e.g. "localhost:4318".
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	Insecure     bool    `koanf:"insecure"`
	SampleRatio  float64 `koanf:"sample_ratio"`
	ServiceName  string  `koanf:"service_name"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is json or text.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server and alert sink.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	Store     StoreConfig     `koanf:"store"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Alerts    AlertConfig     `koanf:"alerts"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	// Guard holds the pipeline tuning: limits, thresholds and failure policies.
	Guard guard.Config `koanf:"guard"`
}

// New creates a Config with defaults. Context is accepted first to satisfy the
// project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "json",
		Addr:            ":8080",
		ShutdownTimeout: 15 * time.Second,
		Store: StoreConfig{
			Backend:       BackendMemory,
			RedisAddr:     "localhost:6379",
			RedisPoolSize: 20,
			MemoryMaxKeys: 1_000_000,
		},
		Ledger: LedgerConfig{
			Backend:      BackendMemory,
			MaxOpenConns: 10,
		},
		Alerts: AlertConfig{
			Sinks:         []string{SinkLog},
			KafkaTopic:    "guard.fraud_alerts",
			QueueCapacity: 1000,
			Workers:       2,
			Retries:       3,
		},
		Telemetry: TelemetryConfig{
			SampleRatio: 1.0,
			ServiceName: "txguard",
		},
		Guard: guard.DefaultConfig(),
	}
}

// Validate checks backend selections and the guard section.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("%w: store.redis_addr is required for the redis backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}
	switch c.Ledger.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("%w: ledger.dsn is required for the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", ErrInvalidConfig, c.Ledger.Backend)
	}
	if err := c.validateAlerts(); err != nil {
		return err
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: telemetry.sample_ratio must be within [0,1]", ErrInvalidConfig)
	}
	if err := c.Guard.Validate(); err != nil {
		return fmt.Errorf("%w: guard: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validateAlerts() error {
	for _, s := range c.Alerts.Sinks {
		switch s {
		case SinkLog:
		case SinkPostgres:
			if c.Ledger.DSN == "" {
				return fmt.Errorf("%w: the postgres alert sink needs ledger.dsn", ErrInvalidConfig)
			}
		case SinkKafka:
			if len(c.Alerts.KafkaBrokers) == 0 {
				return fmt.Errorf("%w: alerts.kafka_brokers is required for the kafka sink", ErrInvalidConfig)
			}
		default:
			return fmt.Errorf("%w: unknown alert sink %q", ErrInvalidConfig, s)
		}
	}
	if c.Alerts.QueueCapacity <= 0 || c.Alerts.Workers <= 0 || c.Alerts.Retries < 0 {
		return fmt.Errorf("%w: alerts queue_capacity and workers must be positive", ErrInvalidConfig)
	}
	return nil
}

// HasSink reports whether name is one of the configured alert sinks.
func (c *Config) HasSink(name string) bool {
	return slices.Contains(c.Alerts.Sinks, name)
}
