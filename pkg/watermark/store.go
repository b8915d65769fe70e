// Package watermark persists the high-water mark of the invoice pipeline.
//
// A watermark is the largest LastModified of a batch that was fully
// processed. Stores only ever move it forward through Save; Reset is the
// operator escape hatch used by `ledgersync watermark set`.
package watermark

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgersync/pkg/clock"
	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/errors"
	"github.com/ajitpratap0/ledgersync/pkg/logger"
)

// Store persists one watermark per pipeline key
type Store interface {
	// Load returns the persisted watermark. ok is false when nothing has
	// been saved yet.
	Load(ctx context.Context) (wm time.Time, ok bool, err error)
	// Save persists wm unless the stored value is already later
	Save(ctx context.Context, wm time.Time) error
	// Reset overwrites the stored value unconditionally
	Reset(ctx context.Context, wm time.Time) error
	// Close releases the underlying resources
	Close() error
}

type options struct {
	clock  clock.Clock
	logger *zap.Logger
}

// Option configures a store
type Option func(*options)

// WithClock sets the clock used for updated_at stamps
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{clock: clock.System{}, logger: logger.Get()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewStore opens the store selected by cfg. SQL stores create their table
// when it does not exist.
func NewStore(ctx context.Context, cfg config.WatermarkConfig, opts ...Option) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Store {
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreFile:
		return NewFileStore(cfg.Path, cfg.Key, opts...), nil
	case config.StoreMySQL:
		s, err := OpenMySQLStore(ctx, cfg.DSN, cfg.Table, cfg.Key, opts...)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case config.StorePostgres:
		s, err := OpenPostgresStore(ctx, cfg.DSN, cfg.Table, cfg.Key, opts...)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown watermark store %q", cfg.Store)
	}
}

// Precision is the finest watermark resolution every store can hold
const Precision = time.Microsecond

// Normalize drops the monotonic clock reading and sub-microsecond precision
// so every store round-trips the same instant. Record timestamps must be
// normalized the same way before they are compared with a watermark.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(Precision)
}

func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", errors.New(errors.ErrorTypeConfig, "watermark table name is required")
	}
	for _, r := range name {
		if r == '_' || r == '.' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		return "", errors.New(errors.ErrorTypeConfig, fmt.Sprintf("invalid watermark table name %q", name))
	}
	return name, nil
}
