// Package ledgersync is an incremental invoice sync service. It polls a
// QuickBooks company file for invoices modified since the last run and
// delivers each one as JSON to an HTTP webhook.
//
// # Architecture
//
// A single orchestrator drives three collaborators:
//
//   - a Source (pkg/connector/sources) that speaks qbXML to QuickBooks, or
//     reads a JSON fixture for local runs
//   - a Destination (pkg/connector/destinations/webhook) that POSTs one
//     invoice per request and treats only 2xx as delivered
//   - a watermark Tracker (pkg/watermark) that remembers the newest
//     last-modified time processed, persisted in memory, a file, MySQL or
//     PostgreSQL
//
// Each cycle fetches invoices changed after the watermark, delivers them
// oldest first with a bounded retry policy (pkg/retry), and then advances the
// watermark to the newest last-modified time in the batch. Delivery is at
// least once: an invoice whose retries are exhausted is logged and skipped,
// and the watermark still moves past it.
//
// # Orchestrator states
//
//	Idle ──tick──▶ Processing ──cycle done──▶ Idle
//	  │                 │
//	  └────shutdown─────┴──────────────────▶ Stopped
//
// Ticks that arrive while a cycle runs are skipped. Stopped is terminal.
//
// # Running
//
//	ledgersync run --config ledgersync.yaml
//	ledgersync sync --once --endpoint https://hooks.example.com/invoices
//	ledgersync watermark show
//	ledgersync watermark set 2026-01-01T00:00:00Z
//
// Configuration is YAML with ${ENV} substitution (pkg/config), overridable by
// LEDGERSYNC_* environment variables and command line flags. Logs are
// structured JSON via zap (pkg/logger); metrics are exported for Prometheus
// (pkg/metrics) and cycles are traced with OpenTelemetry (pkg/observability).
package ledgersync
