// Package json is a file-backed invoice source for local runs and tests.
// The file holds either a JSON array of invoices or one invoice per line, in
// the same wire format the webhook receives.
package json

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgersync/pkg/clock"
	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/connector/core"
	"github.com/ajitpratap0/ledgersync/pkg/errors"
	jsonpool "github.com/ajitpratap0/ledgersync/pkg/json"
	"github.com/ajitpratap0/ledgersync/pkg/logger"
	"github.com/ajitpratap0/ledgersync/pkg/models"
)

// JSONSource reads invoices from a fixture file on every fetch
type JSONSource struct {
	filePath    string
	clock       clock.Clock
	logger      *zap.Logger
	connected   atomic.Bool
	recordsRead int64
}

// NewJSONSource creates a fixture source reading path
func NewJSONSource(path string, c clock.Clock, l *zap.Logger) *JSONSource {
	if c == nil {
		c = clock.System{}
	}
	if l == nil {
		l = logger.Get()
	}
	return &JSONSource{
		filePath: path,
		clock:    c,
		logger:   l.With(zap.String("component", "json_source"), zap.String("path", path)),
	}
}

// NewSource is the registry factory
func NewSource(cfg *config.Config) (core.Source, error) {
	if cfg.Source.FixturePath == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "source.fixture_path is required")
	}
	return NewJSONSource(cfg.Source.FixturePath, nil, nil), nil
}

// Connect verifies the fixture file exists
func (s *JSONSource) Connect(_ context.Context) error {
	if _, err := os.Stat(s.filePath); err != nil {
		s.connected.Store(false)
		return errors.Wrap(err, errors.ErrorTypeConnection, "fixture file not accessible").
			WithDetail("path", s.filePath)
	}
	s.connected.Store(true)
	return nil
}

// IsConnected combines the session flag with a file existence check
func (s *JSONSource) IsConnected() bool {
	if !s.connected.Load() {
		return false
	}
	_, err := os.Stat(s.filePath)
	return err == nil
}

// FetchChangedSince reads the whole file and keeps invoices modified after
// since. Invoices without a timestamp are passed through.
func (s *JSONSource) FetchChangedSince(ctx context.Context, since time.Time) ([]*models.Invoice, error) {
	if !s.IsConnected() {
		if err := s.Connect(ctx); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExtraction, "failed to read fixture file")
	}

	all, err := decode(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExtraction, "failed to decode fixture file").
			WithDetail("path", s.filePath)
	}
	atomic.AddInt64(&s.recordsRead, int64(len(all)))

	now := s.clock.Now()
	out := make([]*models.Invoice, 0, len(all))
	for _, inv := range all {
		if !inv.LastModified.IsZero() && !inv.LastModified.After(since) {
			continue
		}
		inv.ExtractedAt = now
		out = append(out, inv)
	}

	s.logger.Debug("read fixture invoices", zap.Int("total", len(all)), zap.Int("changed", len(out)))
	return out, nil
}

// Disconnect clears the session flag
func (s *JSONSource) Disconnect(_ context.Context) {
	s.connected.Store(false)
}

// RecordsRead returns the number of records decoded so far
func (s *JSONSource) RecordsRead() int64 {
	return atomic.LoadInt64(&s.recordsRead)
}

// decode accepts a JSON array or line-delimited JSON
func decode(data []byte) ([]*models.Invoice, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var invoices []*models.Invoice
		if err := jsonpool.Unmarshal(trimmed, &invoices); err != nil {
			return nil, err
		}
		return invoices, nil
	}

	var invoices []*models.Invoice
	reader := bufio.NewReader(bytes.NewReader(trimmed))
	dec := jsonpool.NewDecoder(reader)
	for {
		var inv models.Invoice
		if err := dec.Decode(&inv); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		invoices = append(invoices, &inv)
	}
	return invoices, nil
}
