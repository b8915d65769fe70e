package watermark

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgersync/pkg/errors"
	"github.com/ajitpratap0/ledgersync/pkg/logger"
)

// Tracker holds the in-memory watermark and writes it through to a Store.
// Only the orchestrator advances it; readers such as metrics or the CLI may
// call Current concurrently.
type Tracker struct {
	mu      sync.RWMutex
	current time.Time
	store   Store
	logger  *zap.Logger
}

// NewTracker loads the persisted watermark, falling back to initial when the
// store is empty
func NewTracker(ctx context.Context, store Store, initial time.Time, log *zap.Logger) (*Tracker, error) {
	if log == nil {
		log = logger.Get()
	}
	t := &Tracker{
		store:  store,
		logger: log.With(zap.String("component", "watermark")),
	}

	wm, ok, err := store.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to load watermark")
	}
	if ok {
		t.current = wm.UTC()
		t.logger.Info("watermark restored", zap.Time("watermark", t.current))
	} else {
		t.current = Normalize(initial)
		t.logger.Info("no persisted watermark, using initial", zap.Time("watermark", t.current))
	}
	return t, nil
}

// Current returns the watermark
func (t *Tracker) Current() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Advance moves the watermark forward to wm. Earlier or equal values are
// ignored. A failed save is logged and the in-memory value still advances;
// the next successful save catches the store up. Reports whether the
// watermark moved.
func (t *Tracker) Advance(ctx context.Context, wm time.Time) bool {
	wm = Normalize(wm)

	t.mu.Lock()
	if !wm.After(t.current) {
		t.mu.Unlock()
		return false
	}
	prev := t.current
	t.current = wm
	t.mu.Unlock()

	if err := t.store.Save(ctx, wm); err != nil {
		t.logger.Error("failed to persist watermark", zap.Time("watermark", wm), zap.Error(err))
	}
	t.logger.Info("watermark advanced", zap.Time("from", prev), zap.Time("to", wm))
	return true
}

// Set overwrites the watermark in both memory and the store
func (t *Tracker) Set(ctx context.Context, wm time.Time) error {
	wm = Normalize(wm)
	if err := t.store.Reset(ctx, wm); err != nil {
		return err
	}

	t.mu.Lock()
	t.current = wm
	t.mu.Unlock()

	t.logger.Warn("watermark overridden", zap.Time("watermark", wm))
	return nil
}
