// Package core defines the capability interfaces every connector implements.
// The orchestrator depends only on these, so real and fake connectors are
// interchangeable.
package core

import (
	"context"
	"time"

	"github.com/ajitpratap0/ledgersync/pkg/models"
)

// ConnectorType represents the type of connector
type ConnectorType string

const (
	ConnectorTypeSource      ConnectorType = "source"
	ConnectorTypeDestination ConnectorType = "destination"
)

// Source is the interface that all source connectors must implement.
// Implementations own their session and never retry internally.
type Source interface {
	// Connect establishes a session. Calling it while connected is a no-op.
	Connect(ctx context.Context) error

	// IsConnected reports the cached session state without a round-trip
	IsConnected() bool

	// FetchChangedSince returns invoices whose last-modified timestamp is
	// after since. It reconnects once when the session is down. Connection
	// failures are ErrorTypeConnection, query failures ErrorTypeExtraction.
	// Order is not guaranteed.
	FetchChangedSince(ctx context.Context, since time.Time) ([]*models.Invoice, error)

	// Disconnect releases the session. Failures are logged, never returned.
	Disconnect(ctx context.Context)
}

// Destination is the interface that all destination connectors must implement
type Destination interface {
	// Send delivers one invoice. It returns nil only when the receiver
	// acknowledged it; anything else is ErrorTypeDelivery.
	Send(ctx context.Context, invoice *models.Invoice) error

	// Probe checks reachability with a test payload
	Probe(ctx context.Context) bool

	// Close releases any held resources
	Close() error
}

// HealthStatus represents the health status of a connector
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Info describes a registered connector
type Info struct {
	Name        string        `json:"name"`
	Type        ConnectorType `json:"type"`
	Description string        `json:"description"`
}
