package clients

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Config configures the client credentials grant
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// UseOAuth2 routes every request through a token source using the client
// credentials grant. Tokens are cached and refreshed by x/oauth2. The token
// endpoint is reached over this client's own transport.
func (c *HTTPClient) UseOAuth2(cfg OAuth2Config) {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}

	base := &http.Client{Transport: c.transport, Timeout: c.config.RequestTimeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	c.setClient(cc.Client(ctx))
	c.logger.Debug("oauth2 client credentials enabled")
}
