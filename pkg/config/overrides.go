package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. LEDGERSYNC_DESTINATION_ENDPOINT_URL
const EnvPrefix = "LEDGERSYNC"

// NewViper returns a viper instance reading LEDGERSYNC_* environment
// variables with dots in keys mapped to underscores. Callers bind CLI flags
// onto it before calling ApplyOverrides.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides copies every key set in v (by flag or environment) onto cfg.
// Keys not set leave the file or default value untouched.
func (c *Config) ApplyOverrides(v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	str("service.name", &c.Service.Name)
	if v.IsSet("service.polling_interval") {
		c.Service.PollingInterval = v.GetDuration("service.polling_interval")
	}
	if v.IsSet("service.max_retry_attempts") {
		c.Service.MaxRetryAttempts = v.GetInt("service.max_retry_attempts")
	}
	if v.IsSet("service.retry_delay") {
		c.Service.RetryDelay = v.GetDuration("service.retry_delay")
	}
	if v.IsSet("service.inter_record_delay") {
		c.Service.InterRecordDelay = v.GetDuration("service.inter_record_delay")
	}
	str("service.initial_watermark", &c.Service.InitialWatermark)

	str("source.type", &c.Source.Type)
	str("source.company_file", &c.Source.CompanyFile)
	str("source.gateway_url", &c.Source.GatewayURL)
	str("source.response_path", &c.Source.ResponsePath)
	str("source.fixture_path", &c.Source.FixturePath)
	if v.IsSet("source.query_limit") {
		c.Source.QueryLimit = v.GetInt("source.query_limit")
	}

	str("destination.endpoint_url", &c.Destination.EndpointURL)
	if v.IsSet("destination.timeout") {
		c.Destination.Timeout = v.GetDuration("destination.timeout")
	}
	str("destination.auth.type", &c.Destination.Auth.Type)
	str("destination.auth.token", &c.Destination.Auth.Token)
	str("destination.auth.username", &c.Destination.Auth.Username)
	str("destination.auth.password", &c.Destination.Auth.Password)
	str("destination.auth.client_id", &c.Destination.Auth.ClientID)
	str("destination.auth.client_secret", &c.Destination.Auth.ClientSecret)
	str("destination.auth.token_url", &c.Destination.Auth.TokenURL)

	str("watermark.store", &c.Watermark.Store)
	str("watermark.path", &c.Watermark.Path)
	str("watermark.dsn", &c.Watermark.DSN)
	str("watermark.key", &c.Watermark.Key)

	str("logging.level", &c.Logging.Level)
	str("logging.encoding", &c.Logging.Encoding)

	str("observability.metrics_addr", &c.Observability.MetricsAddr)
	if v.IsSet("observability.enable_tracing") {
		c.Observability.EnableTracing = v.GetBool("observability.enable_tracing")
	}
}
