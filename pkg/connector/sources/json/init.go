package json

import (
	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/connector/core"
	"github.com/ajitpratap0/ledgersync/pkg/connector/registry"
)

func init() {
	// Register JSON source factory
	_ = registry.RegisterSource(config.SourceJSON, NewSource)

	registry.RegisterInfo(&registry.ConnectorInfo{
		Name:        config.SourceJSON,
		Type:        core.ConnectorTypeSource,
		Description: "Invoice fixture file, JSON array or line-delimited",
		Version:     "1.0.0",
		ConfigKeys:  []string{"fixture_path"},
	})
}
