// Package metrics exposes the pipeline's Prometheus collectors.
//
// # Overview
//
// A Collector owns every ledgersync metric and registers them on the
// registry it is given, so tests can use a private registry while the
// service exports the default one:
//
//	m := metrics.NewCollector(prometheus.DefaultRegisterer)
//	m.CycleFinished(metrics.OutcomeCompleted, time.Since(start))
//	m.RecordDelivered()
//
// # Metric Types
//
// Counter: cycles by outcome, records by status, delivery attempts by result
// Gauge: current watermark (unix seconds) and orchestrator state
// Histogram: cycle duration
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledgersync"

// Cycle outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeEmpty     = "empty"
	OutcomeAborted   = "aborted"
	OutcomeSkipped   = "skipped"
	OutcomePanicked  = "panicked"
)

// Record statuses
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusMalformed = "malformed"
	StatusDuplicate = "duplicate"
)

// Delivery attempt results
const (
	AttemptSuccess = "success"
	AttemptFailure = "failure"
)

// Collector groups the pipeline metrics
type Collector struct {
	cycles        *prometheus.CounterVec
	records       *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	watermark     prometheus.Gauge
	state         prometheus.Gauge
	gatherer      prometheus.Gatherer
}

// NewCollector registers the collectors on reg. A nil reg uses a fresh
// private registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	c := &Collector{
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Processing cycles by outcome",
			},
			[]string{"outcome"},
		),
		records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Invoices seen by the pipeline by final status",
			},
			[]string{"status"},
		),
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_attempts_total",
				Help:      "Individual webhook delivery attempts by result",
			},
			[]string{"result"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of a processing cycle",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		watermark: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "watermark_timestamp_seconds",
				Help:      "Current watermark as unix seconds",
			},
		),
		state: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "orchestrator_state",
				Help:      "Orchestrator state: 0 idle, 1 processing, 2 stopped",
			},
		),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	} else {
		c.gatherer = prometheus.DefaultGatherer
	}
	return c
}

// CycleFinished counts a cycle and observes its duration. Skipped cycles
// never ran, so only their count is kept.
func (c *Collector) CycleFinished(outcome string, d time.Duration) {
	c.cycles.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		c.cycleDuration.Observe(d.Seconds())
	}
}

// RecordStatus counts n records with the given status
func (c *Collector) RecordStatus(status string, n int) {
	if n > 0 {
		c.records.WithLabelValues(status).Add(float64(n))
	}
}

// RecordDelivered counts one delivered invoice
func (c *Collector) RecordDelivered() {
	c.records.WithLabelValues(StatusDelivered).Inc()
}

// RecordFailed counts one invoice whose retries were exhausted
func (c *Collector) RecordFailed() {
	c.records.WithLabelValues(StatusFailed).Inc()
}

// Attempt counts a single delivery attempt
func (c *Collector) Attempt(err error) {
	if err != nil {
		c.attempts.WithLabelValues(AttemptFailure).Inc()
		return
	}
	c.attempts.WithLabelValues(AttemptSuccess).Inc()
}

// SetWatermark publishes the watermark
func (c *Collector) SetWatermark(t time.Time) {
	if t.IsZero() {
		return
	}
	c.watermark.Set(float64(t.Unix()))
}

// SetState publishes the orchestrator state code
func (c *Collector) SetState(code int) {
	c.state.Set(float64(code))
}

// Handler serves the registry the collector was registered on
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Timer measures an operation from creation until Stop
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed time. It may be called more than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
