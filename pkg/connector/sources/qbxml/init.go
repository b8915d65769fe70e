package qbxml

import (
	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/connector/core"
	"github.com/ajitpratap0/ledgersync/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSource(config.SourceQBXML, NewSource)

	registry.RegisterInfo(&registry.ConnectorInfo{
		Name:        config.SourceQBXML,
		Type:        core.ConnectorTypeSource,
		Description: "QuickBooks Desktop invoices via qbXML InvoiceQuery",
		Version:     "1.0.0",
		ConfigKeys: []string{
			"company_file", "search_paths", "gateway_url", "response_path",
			"qbxml_version", "query_limit", "connection_timeout",
		},
	})
}
