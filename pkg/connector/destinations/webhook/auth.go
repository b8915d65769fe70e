package webhook

import (
	"net/http"

	"github.com/ajitpratap0/ledgersync/pkg/clients"
	"github.com/ajitpratap0/ledgersync/pkg/config"
)

// Authenticator decorates outgoing requests with credentials
type Authenticator interface {
	Apply(req *http.Request)
}

// NoAuth sends requests as-is
type NoAuth struct{}

// Apply is a no-op
func (NoAuth) Apply(*http.Request) {}

// BasicAuth uses HTTP Basic Authentication
type BasicAuth struct {
	Username string
	Password string
}

// Apply adds the Basic auth header
func (a BasicAuth) Apply(req *http.Request) {
	req.SetBasicAuth(a.Username, a.Password)
}

// BearerToken uses a static bearer token
type BearerToken struct {
	Token string
}

// Apply adds the Bearer token header
func (a BearerToken) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.Token)
}

// configureAuth returns the request decorator for cfg. OAuth2 is wired into
// the client's transport instead, so it needs no per-request decoration.
func configureAuth(cfg config.AuthConfig, client *clients.HTTPClient) Authenticator {
	switch cfg.Type {
	case config.AuthBearer:
		return BearerToken{Token: cfg.Token}
	case config.AuthBasic:
		return BasicAuth{Username: cfg.Username, Password: cfg.Password}
	case config.AuthOAuth2:
		client.UseOAuth2(clients.OAuth2Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		})
		return NoAuth{}
	default:
		return NoAuth{}
	}
}
