package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ajitpratap0/ledgersync/pkg/compression"
)

// Connector kinds
const (
	SourceQBXML        = "qbxml"
	SourceJSON         = "json"
	DestinationWebhook = "webhook"
)

// Webhook auth kinds
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
	AuthOAuth2 = "oauth2"
)

// SourceConfig configures the invoice source
type SourceConfig struct {
	// Type selects the registered source connector
	Type string `yaml:"type" json:"type"`

	// qbXML settings
	CompanyFile       string        `yaml:"company_file" json:"company_file"`
	SearchPaths       []string      `yaml:"search_paths" json:"search_paths"`
	GatewayURL        string        `yaml:"gateway_url" json:"gateway_url"`
	ResponsePath      string        `yaml:"response_path" json:"response_path"`
	AppID             string        `yaml:"app_id" json:"app_id"`
	AppName           string        `yaml:"app_name" json:"app_name"`
	QBXMLVersion      string        `yaml:"qbxml_version" json:"qbxml_version"`
	// QueryLimit is the iterator page size; 0 returns every match at once
	QueryLimit        int           `yaml:"query_limit" json:"query_limit"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`

	// FixturePath is the invoice array read by the json source
	FixturePath string `yaml:"fixture_path" json:"fixture_path"`
}

// Validate checks the source section
func (s *SourceConfig) Validate() error {
	switch s.Type {
	case SourceQBXML:
		if s.QueryLimit < 0 {
			return invalid("source.query_limit cannot be negative")
		}
		if s.GatewayURL != "" {
			if _, err := url.ParseRequestURI(s.GatewayURL); err != nil {
				return invalid(fmt.Sprintf("source.gateway_url is invalid: %v", err))
			}
		}
	case SourceJSON:
		if s.FixturePath == "" {
			return invalid("source.fixture_path is required for the json source")
		}
	case "":
		return invalid("source.type is required")
	}
	return nil
}

// DestinationConfig configures the delivery sink
type DestinationConfig struct {
	Type        string            `yaml:"type" json:"type"`
	EndpointURL string            `yaml:"endpoint_url" json:"endpoint_url"`
	Timeout     time.Duration     `yaml:"timeout" json:"timeout"`
	ContentType string            `yaml:"content_type" json:"content_type"`
	Headers     map[string]string `yaml:"headers" json:"headers"`

	// Compression is empty, "gzip", "deflate" or "zstd"
	Compression      string `yaml:"compression" json:"compression"`
	CompressionLevel int    `yaml:"compression_level" json:"compression_level"`

	// RateLimitPerSec limits sends per second (0 = unlimited)
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst" json:"rate_limit_burst"`

	Auth AuthConfig `yaml:"auth" json:"auth"`
}

// AuthConfig holds webhook credentials. Use ${ENV} references in files.
type AuthConfig struct {
	Type         string   `yaml:"type" json:"type"`
	Token        string   `yaml:"token" json:"-"`
	Username     string   `yaml:"username" json:"username,omitempty"`
	Password     string   `yaml:"password" json:"-"`
	ClientID     string   `yaml:"client_id" json:"client_id,omitempty"`
	ClientSecret string   `yaml:"client_secret" json:"-"`
	TokenURL     string   `yaml:"token_url" json:"token_url,omitempty"`
	Scopes       []string `yaml:"scopes" json:"scopes,omitempty"`
}

// Validate checks the destination section
func (d *DestinationConfig) Validate() error {
	if d.Type == "" {
		return invalid("destination.type is required")
	}
	if d.EndpointURL == "" {
		return invalid("destination.endpoint_url is required")
	}
	u, err := url.ParseRequestURI(d.EndpointURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid(fmt.Sprintf("destination.endpoint_url %q is not an http(s) URL", d.EndpointURL))
	}
	if d.Timeout <= 0 {
		return invalid("destination.timeout must be positive")
	}
	if _, err := compression.Parse(d.Compression); err != nil {
		return invalid(fmt.Sprintf("unsupported destination.compression %q", d.Compression))
	}
	if d.CompressionLevel < 0 || d.CompressionLevel > int(compression.Best) {
		return invalid("destination.compression_level must be between 0 and 9")
	}
	if d.RateLimitPerSec < 0 {
		return invalid("destination.rate_limit_per_sec cannot be negative")
	}
	return d.Auth.Validate()
}

// IsRateLimited returns true if rate limiting is enabled
func (d *DestinationConfig) IsRateLimited() bool {
	return d.RateLimitPerSec > 0
}

// Validate checks that the selected auth kind has its credentials
func (a *AuthConfig) Validate() error {
	switch a.Type {
	case "", AuthNone:
	case AuthBearer:
		if a.Token == "" {
			return invalid("destination.auth.token is required for bearer auth")
		}
	case AuthBasic:
		if a.Username == "" {
			return invalid("destination.auth.username is required for basic auth")
		}
	case AuthOAuth2:
		if a.ClientID == "" || a.ClientSecret == "" || a.TokenURL == "" {
			return invalid("destination.auth requires client_id, client_secret and token_url for oauth2")
		}
	default:
		return invalid(fmt.Sprintf("unknown destination.auth.type %q", a.Type))
	}
	return nil
}
