package webhook

import (
	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/connector/core"
	"github.com/ajitpratap0/ledgersync/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterDestination(config.DestinationWebhook, NewDestination)

	registry.RegisterInfo(&registry.ConnectorInfo{
		Name:        config.DestinationWebhook,
		Type:        core.ConnectorTypeDestination,
		Description: "HTTP POST of one JSON invoice per request, 2xx acknowledged",
		Version:     "1.0.0",
		ConfigKeys: []string{
			"endpoint_url", "timeout", "content_type", "headers",
			"compression", "rate_limit_per_sec", "auth",
		},
	})
}
