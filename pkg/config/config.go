package config

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/ledgersync/pkg/clients"
	"github.com/ajitpratap0/ledgersync/pkg/errors"
	"github.com/ajitpratap0/ledgersync/pkg/logger"
	"github.com/ajitpratap0/ledgersync/pkg/retry"
)

// Config is the root configuration document
type Config struct {
	Service       ServiceConfig       `yaml:"service" json:"service"`
	Source        SourceConfig        `yaml:"source" json:"source"`
	Destination   DestinationConfig   `yaml:"destination" json:"destination"`
	HTTP          clients.HTTPConfig  `yaml:"http" json:"http"`
	Watermark     WatermarkConfig     `yaml:"watermark" json:"watermark"`
	Logging       logger.Config       `yaml:"logging" json:"logging"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServiceConfig controls the processing loop
type ServiceConfig struct {
	// Name identifies this pipeline in logs and metrics
	Name string `yaml:"name" json:"name"`
	// PollingInterval is the time between processing cycles
	PollingInterval time.Duration `yaml:"polling_interval" json:"polling_interval"`
	// MaxRetryAttempts bounds delivery attempts per invoice, first attempt included
	MaxRetryAttempts int `yaml:"max_retry_attempts" json:"max_retry_attempts"`
	// RetryDelay is the wait before the second attempt
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier grows the delay between attempts (1 = fixed)
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps the delay when RetryMultiplier > 1
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// InterRecordDelay throttles sends within a batch
	InterRecordDelay time.Duration `yaml:"inter_record_delay" json:"inter_record_delay"`
	// ShutdownTimeout bounds source disconnect on shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// InitialWatermark is an RFC 3339 starting point used when nothing is persisted
	InitialWatermark string `yaml:"initial_watermark" json:"initial_watermark"`
	// InitialLookback is used when InitialWatermark is empty
	InitialLookback time.Duration `yaml:"initial_lookback" json:"initial_lookback"`
}

// WatermarkConfig selects the watermark store
type WatermarkConfig struct {
	// Store is one of memory, file, mysql, postgres
	Store string `yaml:"store" json:"store"`
	// Path is the state file for the file store
	Path string `yaml:"path" json:"path"`
	// DSN is the database connection string for mysql and postgres
	DSN string `yaml:"dsn" json:"dsn"`
	// Table holds one row per pipeline key
	Table string `yaml:"table" json:"table"`
	// Key distinguishes pipelines sharing one store
	Key string `yaml:"key" json:"key"`
}

// ObservabilityConfig contains monitoring settings
type ObservabilityConfig struct {
	// MetricsAddr serves /metrics when set (e.g. ":9090")
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// EnableTracing activates span export to stdout
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// Watermark store kinds
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreMySQL    = "mysql"
	StorePostgres = "postgres"
)

// NewDefaultConfig creates a Config with production defaults. A webhook
// endpoint still has to be supplied before Validate passes.
func NewDefaultConfig() *Config {
	httpCfg := clients.DefaultHTTPConfig()

	return &Config{
		Service: ServiceConfig{
			Name:             "ledgersync",
			PollingInterval:  5 * time.Minute,
			MaxRetryAttempts: 3,
			RetryDelay:       5 * time.Second,
			RetryMultiplier:  1.0,
			InterRecordDelay: 100 * time.Millisecond,
			ShutdownTimeout:  30 * time.Second,
			InitialLookback:  24 * time.Hour,
		},
		Source: SourceConfig{
			Type:              SourceQBXML,
			AppID:             "ledgersync",
			AppName:           "ledgersync",
			QBXMLVersion:      "13.0",
			ConnectionTimeout: 30 * time.Second,
		},
		Destination: DestinationConfig{
			Type:        DestinationWebhook,
			Timeout:     60 * time.Second,
			ContentType: "application/json",
			Headers:     make(map[string]string),
			Auth:        AuthConfig{Type: AuthNone},
		},
		HTTP: *httpCfg,
		Watermark: WatermarkConfig{
			Store: StoreMemory,
			Table: "ledgersync_watermarks",
			Key:   "invoices",
		},
		Logging: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Observability: ObservabilityConfig{
			TracingSampleRate: 0.1,
		},
	}
}

// Validate validates the configuration for correctness.
// It checks required fields and ensures values are within acceptable ranges.
func (c *Config) Validate() error {
	if err := c.Service.Validate(); err != nil {
		return err
	}
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if err := c.Destination.Validate(); err != nil {
		return err
	}
	return c.Watermark.Validate()
}

// Validate checks the service section
func (s *ServiceConfig) Validate() error {
	if s.PollingInterval <= 0 {
		return invalid("service.polling_interval must be positive")
	}
	if s.MaxRetryAttempts < 1 {
		return invalid("service.max_retry_attempts must be at least 1")
	}
	if s.RetryDelay < 0 || s.InterRecordDelay < 0 {
		return invalid("service delays cannot be negative")
	}
	if s.ShutdownTimeout <= 0 {
		return invalid("service.shutdown_timeout must be positive")
	}
	if s.InitialWatermark != "" {
		if _, err := time.Parse(time.RFC3339, s.InitialWatermark); err != nil {
			return invalid(fmt.Sprintf("service.initial_watermark must be RFC 3339: %v", err))
		}
	}
	return nil
}

// StartingWatermark resolves the watermark used when no state is persisted
func (s *ServiceConfig) StartingWatermark(now time.Time) time.Time {
	if s.InitialWatermark != "" {
		if t, err := time.Parse(time.RFC3339, s.InitialWatermark); err == nil {
			return t.UTC()
		}
	}
	return now.Add(-s.InitialLookback).UTC()
}

// RetryPolicy builds the delivery retry policy
func (s *ServiceConfig) RetryPolicy() *retry.Policy {
	p := retry.NewPolicy(s.MaxRetryAttempts, s.RetryDelay)
	if s.RetryMultiplier > 1 {
		p = p.WithMultiplier(s.RetryMultiplier).WithDelay(s.RetryDelay, s.MaxRetryDelay)
	}
	return p
}

// Validate checks the watermark section
func (w *WatermarkConfig) Validate() error {
	switch w.Store {
	case StoreMemory:
	case StoreFile:
		if w.Path == "" {
			return invalid("watermark.path is required for the file store")
		}
	case StoreMySQL, StorePostgres:
		if w.DSN == "" {
			return invalid(fmt.Sprintf("watermark.dsn is required for the %s store", w.Store))
		}
		if w.Table == "" {
			return invalid("watermark.table is required")
		}
	default:
		return invalid(fmt.Sprintf("unknown watermark store %q", w.Store))
	}
	if w.Key == "" {
		return invalid("watermark.key is required")
	}
	return nil
}

// IsMetricsEnabled returns true if a metrics listener should be started
func (o *ObservabilityConfig) IsMetricsEnabled() bool {
	return o.MetricsAddr != ""
}

func invalid(msg string) error {
	return errors.New(errors.ErrorTypeConfig, msg)
}
