// Package pipeline drives the incremental invoice sync.
//
// The Orchestrator is a three-state machine (idle, processing, stopped).
// Every tick it fetches invoices changed since the watermark, drops
// malformed and already-delivered ones, delivers the rest one at a time in
// LastModified order with retries, and then advances the watermark to the
// newest LastModified of the batch. Records whose retries were exhausted
// still count as processed, so delivery is at-least-once and a permanently
// failing invoice is reported once and then passed over.
//
// # Basic Usage
//
//	orch := pipeline.New(source, sink, tracker, pipeline.ConfigFromService(cfg.Service),
//	    pipeline.WithLogger(log),
//	    pipeline.WithMetrics(collector),
//	)
//	err := orch.Run(ctx) // returns after ctx is cancelled and shutdown completes
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgersync/pkg/clock"
	"github.com/ajitpratap0/ledgersync/pkg/connector/core"
	"github.com/ajitpratap0/ledgersync/pkg/errors"
	"github.com/ajitpratap0/ledgersync/pkg/logger"
	"github.com/ajitpratap0/ledgersync/pkg/metrics"
	"github.com/ajitpratap0/ledgersync/pkg/models"
	"github.com/ajitpratap0/ledgersync/pkg/observability"
	"github.com/ajitpratap0/ledgersync/pkg/retry"
	"github.com/ajitpratap0/ledgersync/pkg/watermark"
)

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Orchestrator owns the source, the sink and the watermark for one pipeline
type Orchestrator struct {
	source  core.Source
	sink    core.Destination
	tracker *watermark.Tracker
	cfg     Config

	clock   clock.Clock
	sleep   Sleeper
	metrics *metrics.Collector
	logger  *zap.Logger

	state    atomic.Int32
	cycles   atomic.Uint64
	stopOnce sync.Once
	stopped  chan struct{}

	mu          sync.Mutex
	cancelCycle context.CancelFunc // set while a cycle runs
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock sets the clock used for extraction stamps
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSleeper replaces the context-aware wait used for pacing and retries
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// New creates an orchestrator in the idle state
func New(source core.Source, sink core.Destination, tracker *watermark.Tracker, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Policy == nil {
		cfg.Policy = retry.DefaultPolicy()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	o := &Orchestrator{
		source:  source,
		sink:    sink,
		tracker: tracker,
		cfg:     cfg,
		clock:   clock.System{},
		sleep:   sleepContext,
		logger:  logger.Get(),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewCollector(nil)
	}
	o.logger = o.logger.With(zap.String("component", "orchestrator"))
	o.metrics.SetState(int(StateIdle))
	o.metrics.SetWatermark(tracker.Current())
	return o
}

// State returns the current state
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Watermark returns the current watermark
func (o *Orchestrator) Watermark() time.Time {
	return o.tracker.Current()
}

// Run connects, runs one cycle immediately and then one per poll interval
// until ctx is cancelled or Shutdown is called. It always shuts down before
// returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.start(ctx)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	o.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			o.Shutdown()
			return nil
		case <-o.stopped:
			return nil
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// RunOnce runs a single cycle for one-shot syncs
func (o *Orchestrator) RunOnce(ctx context.Context) (CycleResult, error) {
	res, ran := o.Tick(ctx)
	if !ran {
		return res, errors.Newf(errors.ErrorTypeInternal, "orchestrator is %s", o.State())
	}
	return res, res.Err
}

// Tick runs one cycle if the orchestrator is idle. A tick that arrives while
// a cycle is running, or after shutdown, is skipped without touching the
// source or the sink; ran is false in that case.
func (o *Orchestrator) Tick(ctx context.Context) (res CycleResult, ran bool) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateProcessing)) {
		o.logger.Warn("tick skipped", zap.Stringer("state", o.State()))
		o.metrics.CycleFinished(metrics.OutcomeSkipped, 0)
		return CycleResult{}, false
	}
	o.metrics.SetState(int(StateProcessing))

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	if o.State() == StateStopped {
		cancel()
	}
	o.cancelCycle = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.cancelCycle = nil
		o.mu.Unlock()
		cancel()

		// Shutdown may have moved us to stopped meanwhile
		o.state.CompareAndSwap(int32(StateProcessing), int32(StateIdle))
		o.metrics.SetState(int(o.State()))
	}()

	return o.runCycle(ctx), true
}

// Shutdown moves to the terminal state, cancels a running cycle, disconnects
// the source within the shutdown timeout and closes the sink. A cancelled
// cycle leaves the watermark where it was. It is safe to call more than once.
func (o *Orchestrator) Shutdown() {
	o.stopOnce.Do(func() {
		prev := State(o.state.Swap(int32(StateStopped)))
		o.metrics.SetState(int(StateStopped))
		close(o.stopped)

		o.mu.Lock()
		if o.cancelCycle != nil {
			o.cancelCycle()
		}
		o.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ShutdownTimeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			o.source.Disconnect(ctx)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			o.logger.Warn("source disconnect timed out", zap.Duration("timeout", o.cfg.ShutdownTimeout))
		}

		if err := o.sink.Close(); err != nil {
			o.logger.Warn("failed to close sink", zap.Error(err))
		}

		o.logger.Info("orchestrator stopped",
			zap.Stringer("previous_state", prev),
			zap.Time("watermark", o.tracker.Current()))
	})
}

func (o *Orchestrator) start(ctx context.Context) {
	if err := o.source.Connect(ctx); err != nil {
		o.logger.Warn("initial source connect failed, will retry on next tick", zap.Error(err))
	} else {
		o.logger.Info("source connected")
	}

	if o.sink.Probe(ctx) {
		o.logger.Info("sink reachable")
	} else {
		o.logger.Warn("sink probe failed")
	}

	o.logger.Info("orchestrator idle",
		zap.Duration("poll_interval", o.cfg.PollInterval),
		zap.Time("watermark", o.tracker.Current()))
}

func (o *Orchestrator) runCycle(ctx context.Context) (res CycleResult) {
	res.Cycle = o.cycles.Add(1)
	ctx = context.WithValue(ctx, logger.CycleIDKey, res.Cycle)
	log := o.logger.With(logger.ContextFields(ctx)...)

	timer := metrics.NewTimer()
	outcome := metrics.OutcomeCompleted
	ctx, span := observability.StartSpan(ctx, "ledgersync.cycle", attribute.Int64("cycle", int64(res.Cycle)))

	defer func() {
		if r := recover(); r != nil {
			res.Aborted = true
			res.Err = errors.Newf(errors.ErrorTypeInternal, "cycle panicked: %v", r)
			outcome = metrics.OutcomePanicked
			log.Error("cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		res.Watermark = o.tracker.Current()
		o.metrics.CycleFinished(outcome, timer.Stop())
		span.SetAttributes(
			attribute.Int("fetched", res.Fetched),
			attribute.Int("delivered", res.Delivered),
			attribute.Int("failed", res.Failed),
		)
		observability.EndSpan(span, res.Err)
	}()

	since := o.tracker.Current()
	invoices, err := o.source.FetchChangedSince(ctx, since)
	if err != nil {
		res.Aborted = true
		res.Err = err
		outcome = metrics.OutcomeAborted
		errType, _ := errors.TypeOf(err)
		log.Error("cycle aborted, fetch failed",
			zap.Time("watermark", since),
			zap.String("error_type", string(errType)),
			zap.Error(err))
		return res
	}
	res.Fetched = len(invoices)

	batch := o.admit(invoices, since, &res, log)
	if len(batch) == 0 {
		outcome = metrics.OutcomeEmpty
		log.Info("no new invoices", zap.Int("fetched", res.Fetched), zap.Time("watermark", since))
		return res
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].LastModified.Before(batch[j].LastModified)
	})
	log.Info("processing batch", zap.Int("invoices", len(batch)), zap.Time("watermark", since))

	for i, inv := range batch {
		if i > 0 {
			if err := o.sleep(ctx, o.cfg.InterRecordDelay); err != nil {
				return o.cancelled(res, err, &outcome, log)
			}
		}

		if err := o.deliver(ctx, inv, log); err != nil {
			if ctx.Err() != nil {
				return o.cancelled(res, ctx.Err(), &outcome, log)
			}
			res.Failed++
			o.metrics.RecordFailed()
			continue
		}
		res.Delivered++
		o.metrics.RecordDelivered()
	}

	newest := batch[len(batch)-1].LastModified
	if o.tracker.Advance(ctx, newest) {
		o.metrics.SetWatermark(o.tracker.Current())
	}

	log.Info("cycle complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed),
		zap.Int("malformed", res.Malformed),
		zap.Int("skipped", res.Skipped),
		zap.Time("watermark", o.tracker.Current()))
	return res
}

// admit drops malformed invoices and those at or below the watermark
func (o *Orchestrator) admit(invoices []*models.Invoice, since time.Time, res *CycleResult, log *zap.Logger) []*models.Invoice {
	batch := make([]*models.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv == nil {
			res.Malformed++
			log.Warn("malformed invoice excluded", zap.Error(errors.New(errors.ErrorTypeMalformedRecord, "nil invoice")))
			continue
		}
		if err := inv.Validate(); err != nil {
			res.Malformed++
			log.Warn("malformed invoice excluded",
				zap.String("invoice_id", inv.ID),
				zap.String("invoice_number", inv.Number),
				zap.Error(err))
			continue
		}
		if !watermark.Normalize(inv.LastModified).After(since) {
			res.Skipped++
			log.Debug("invoice already delivered",
				zap.String("invoice", inv.Key()),
				zap.Time("last_modified", inv.LastModified))
			continue
		}
		if inv.ExtractedAt.IsZero() {
			inv.ExtractedAt = o.clock.Now().UTC()
		}
		batch = append(batch, inv)
	}

	o.metrics.RecordStatus(metrics.StatusMalformed, res.Malformed)
	o.metrics.RecordStatus(metrics.StatusDuplicate, res.Skipped)
	return batch
}

// deliver sends one invoice, retrying as the policy allows. The returned
// error is ErrorTypeRetryExhausted, or the context error on cancellation.
func (o *Orchestrator) deliver(ctx context.Context, inv *models.Invoice, log *zap.Logger) (err error) {
	ctx = context.WithValue(ctx, logger.InvoiceIDKey, inv.ID)
	log = log.With(zap.String("invoice_id", inv.ID), zap.String("invoice", inv.Key()))

	ctx, span := observability.StartSpan(ctx, "ledgersync.deliver",
		attribute.String("invoice.id", inv.ID),
		attribute.String("invoice.number", inv.Number))
	defer func() { observability.EndSpan(span, err) }()

	for attempt := 1; ; attempt++ {
		sendErr := o.sink.Send(ctx, inv)
		o.metrics.Attempt(sendErr)
		if sendErr == nil {
			if attempt > 1 {
				log.Info("invoice delivered after retry", zap.Int("attempt", attempt))
			} else {
				log.Debug("invoice delivered")
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		decision := o.cfg.Policy.Decide(attempt, sendErr)
		if !decision.Retry {
			exhausted := errors.Wrap(sendErr, errors.ErrorTypeRetryExhausted,
				fmt.Sprintf("delivery failed after %d attempts", attempt)).
				WithDetail("invoice_id", inv.ID).
				WithDetail("attempts", attempt)
			log.Error("delivery retries exhausted", zap.Int("attempts", attempt), zap.Error(exhausted))
			return exhausted
		}

		log.Warn("delivery attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", decision.Delay),
			zap.Error(sendErr))
		if err := o.sleep(ctx, decision.Delay); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) cancelled(res CycleResult, err error, outcome *string, log *zap.Logger) CycleResult {
	res.Aborted = true
	res.Err = err
	*outcome = metrics.OutcomeAborted
	log.Warn("cycle cancelled mid-batch, watermark unchanged",
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed),
		zap.Error(err))
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
