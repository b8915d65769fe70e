// Package qbxml extracts invoices from QuickBooks Desktop through qbXML
// InvoiceQuery requests. Documents travel over a pluggable Transport: an
// HTTP request-processor gateway or files beside the company file.
package qbxml

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgersync/pkg/clients"
	"github.com/ajitpratap0/ledgersync/pkg/clock"
	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/connector/core"
	"github.com/ajitpratap0/ledgersync/pkg/errors"
	"github.com/ajitpratap0/ledgersync/pkg/logger"
	"github.com/ajitpratap0/ledgersync/pkg/models"
)

// Source is the qbXML source connector
type Source struct {
	cfg      config.SourceConfig
	clock    clock.Clock
	logger   *zap.Logger
	location *time.Location

	mu        sync.Mutex
	transport Transport
	connected atomic.Bool
}

// Option configures a Source
type Option func(*Source)

// WithTransport fixes the transport instead of resolving a company file
func WithTransport(t Transport) Option {
	return func(s *Source) { s.transport = t }
}

// WithClock sets the clock used to stamp ExtractedAt
func WithClock(c clock.Clock) Option {
	return func(s *Source) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// WithLocation sets the zone for timestamps that carry no offset
func WithLocation(loc *time.Location) Option {
	return func(s *Source) { s.location = loc }
}

// New creates a qbXML source
func New(cfg config.SourceConfig, opts ...Option) *Source {
	s := &Source{
		cfg:      cfg,
		clock:    clock.System{},
		logger:   logger.Get(),
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "qbxml_source"))
	return s
}

// NewSource is the registry factory. A gateway URL selects the HTTP
// transport; otherwise the file transport is bound at Connect.
func NewSource(cfg *config.Config) (core.Source, error) {
	var opts []Option
	if cfg.Source.GatewayURL != "" {
		client := clients.NewHTTPClient(cfg.HTTP.Clone(), logger.Get())
		opts = append(opts, WithTransport(NewHTTPTransport(cfg.Source.GatewayURL, cfg.Source.QBXMLVersion, client)))
	}
	return New(cfg.Source, opts...), nil
}

// Connect opens the transport. It is a no-op while the session is healthy.
func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected.Load() && s.transport != nil && s.transport.Alive() {
		return nil
	}

	if s.transport == nil {
		t, err := s.fileTransport()
		if err != nil {
			return err
		}
		s.transport = t
	}

	if s.cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
		defer cancel()
	}

	s.logger.Info("connecting to QuickBooks")
	if err := s.transport.Open(ctx); err != nil {
		s.connected.Store(false)
		if !errors.IsType(err, errors.ErrorTypeConnection) {
			err = errors.Wrap(err, errors.ErrorTypeConnection, "failed to open qbXML session")
		}
		return err
	}

	s.connected.Store(true)
	s.logger.Info("connected to QuickBooks")
	return nil
}

func (s *Source) fileTransport() (Transport, error) {
	companyFile := s.cfg.CompanyFile
	if companyFile == "" {
		s.logger.Warn("no company file configured, searching default locations")
		paths := s.cfg.SearchPaths
		if len(paths) == 0 {
			paths = DefaultSearchPaths()
		}
		found, err := FindCompanyFile(paths)
		if err != nil {
			return nil, err
		}
		companyFile = found
		s.logger.Info("found company file", zap.String("company_file", companyFile))
	}
	return NewFileTransport(companyFile, s.cfg.ResponsePath), nil
}

// IsConnected reports the cached session state
func (s *Source) IsConnected() bool {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	return s.connected.Load() && t != nil && t.Alive()
}

// FetchChangedSince queries invoices modified after since
func (s *Source) FetchChangedSince(ctx context.Context, since time.Time) ([]*models.Invoice, error) {
	if !s.IsConnected() {
		s.logger.Warn("not connected to QuickBooks, reconnecting")
		if err := s.Connect(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()

	rets, err := s.query(ctx, t, since)
	if err != nil {
		return nil, err
	}

	extractedAt := s.clock.Now()
	invoices := make([]*models.Invoice, 0, len(rets))
	for i := range rets {
		inv, err := rets[i].toInvoice(s.location)
		if err != nil {
			s.logger.Warn("skipping unreadable invoice", zap.Error(err))
			continue
		}
		// The source filter is inclusive; records without a timestamp pass
		// through so the pipeline can account for them.
		if !inv.LastModified.IsZero() && !inv.LastModified.After(since) {
			continue
		}
		inv.ExtractedAt = extractedAt
		invoices = append(invoices, inv)
	}

	s.logger.Info("retrieved invoices from QuickBooks",
		zap.Int("count", len(invoices)),
		zap.Time("since", since))
	return invoices, nil
}

// query runs the invoice query and follows its iterator until QuickBooks
// reports nothing remaining. A failure on any page fails the whole fetch so
// that a partial batch never reaches the pipeline.
func (s *Source) query(ctx context.Context, t Transport, since time.Time) ([]invoiceRet, error) {
	request, err := BuildInvoiceQuery(since, s.cfg.QueryLimit, s.cfg.QBXMLVersion)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExtraction, "failed to build invoice query")
	}

	var rets []invoiceRet
	previous := -1
	for n := 1; ; n++ {
		response, err := t.Do(ctx, request)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeExtraction, "invoice query failed").
				WithDetail("page", n)
		}

		page, err := parseInvoicePage(response)
		if err != nil {
			return nil, err
		}
		rets = append(rets, page.Invoices...)

		if s.cfg.QueryLimit <= 0 || page.Remaining == 0 {
			return rets, nil
		}
		if page.IteratorID == "" || len(page.Invoices) == 0 || (previous >= 0 && page.Remaining >= previous) {
			return nil, errors.New(errors.ErrorTypeExtraction, "invoice iterator stopped before all pages were read").
				WithDetail("page", n).
				WithDetail("remaining", page.Remaining)
		}
		previous = page.Remaining

		s.logger.Debug("fetching next invoice page",
			zap.Int("page", n+1),
			zap.Int("remaining", page.Remaining))
		request, err = BuildInvoiceQueryContinue(page.IteratorID, s.cfg.QueryLimit, n+1, s.cfg.QBXMLVersion)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeExtraction, "failed to build invoice query")
		}
	}
}

// Disconnect closes the transport
func (s *Source) Disconnect(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected.Swap(false) || s.transport == nil {
		return
	}
	if err := s.transport.Close(); err != nil {
		s.logger.Warn("error closing qbXML session", zap.Error(err))
		return
	}
	s.logger.Info("disconnected from QuickBooks")
}
