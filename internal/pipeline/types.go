package pipeline

import (
	"time"

	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/retry"
)

// State is the orchestrator lifecycle state
type State int32

const (
	// StateIdle waits for the next tick
	StateIdle State = iota
	// StateProcessing runs exactly one cycle
	StateProcessing
	// StateStopped is terminal
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CycleResult tallies one processing cycle
type CycleResult struct {
	Cycle     uint64    `json:"cycle"`
	Fetched   int       `json:"fetched"`
	Malformed int       `json:"malformed"`
	Skipped   int       `json:"skipped"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
	Watermark time.Time `json:"watermark"`
	Aborted   bool      `json:"aborted"`
	Err       error     `json:"-"`
}

// Processed is the number of records the cycle attempted to deliver
func (r CycleResult) Processed() int {
	return r.Delivered + r.Failed
}

// Config holds the orchestrator settings
type Config struct {
	// PollInterval is the time between ticks
	PollInterval time.Duration
	// InterRecordDelay is inserted between consecutive sends
	InterRecordDelay time.Duration
	// ShutdownTimeout bounds source disconnect
	ShutdownTimeout time.Duration
	// Policy decides delivery retries
	Policy *retry.Policy
}

// DefaultConfig returns a 5 minute poll, 100ms pacing, a 30s shutdown
// bound and three attempts five seconds apart
func DefaultConfig() Config {
	return Config{
		PollInterval:     5 * time.Minute,
		InterRecordDelay: 100 * time.Millisecond,
		ShutdownTimeout:  30 * time.Second,
		Policy:           retry.DefaultPolicy(),
	}
}

// ConfigFromService maps the service section of the configuration
func ConfigFromService(svc config.ServiceConfig) Config {
	return Config{
		PollInterval:     svc.PollingInterval,
		InterRecordDelay: svc.InterRecordDelay,
		ShutdownTimeout:  svc.ShutdownTimeout,
		Policy:           svc.RetryPolicy(),
	}
}
