// Package connector holds the pluggable ends of the sync pipeline.
//
//   - core: the Source and Destination interfaces the orchestrator depends on
//   - registry: name-keyed factories so configuration selects implementations
//   - sources/qbxml: QuickBooks extraction over qbXML, via a gateway URL or a
//     response file
//   - sources/json: a fixture-backed source for local runs and tests
//   - destinations/webhook: HTTP delivery with auth, compression and rate
//     limiting
//
// Connectors register themselves in init; import them for side effects:
//
//	import _ "github.com/ajitpratap0/ledgersync/pkg/connector/sources/qbxml"
//
//	src, err := registry.CreateSource(cfg)
package connector
