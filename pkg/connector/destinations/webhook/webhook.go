// Package webhook delivers invoices to an HTTP endpoint as JSON POSTs.
// Only a 2xx response counts as delivered. The sink never retries; the
// pipeline's retry policy decides.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgersync/pkg/clients"
	"github.com/ajitpratap0/ledgersync/pkg/clock"
	"github.com/ajitpratap0/ledgersync/pkg/compression"
	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/connector/core"
	"github.com/ajitpratap0/ledgersync/pkg/errors"
	jsonpool "github.com/ajitpratap0/ledgersync/pkg/json"
	"github.com/ajitpratap0/ledgersync/pkg/logger"
	"github.com/ajitpratap0/ledgersync/pkg/models"
)

const (
	// maxSnippet bounds the response body captured in a DeliveryError
	maxSnippet = 512
	// maxDrain bounds how much of a response is discarded to reuse the connection
	maxDrain = 1 << 20
)

// Webhook is the HTTP delivery sink
type Webhook struct {
	cfg        config.DestinationConfig
	client     *clients.HTTPClient
	auth       Authenticator
	compressor compression.Compressor
	clock      clock.Clock
	logger     *zap.Logger
}

// Option configures a Webhook
type Option func(*Webhook)

// WithClock sets the clock used for probe timestamps
func WithClock(c clock.Clock) Option {
	return func(w *Webhook) { w.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(w *Webhook) { w.logger = l }
}

// New creates a webhook sink. httpCfg supplies transport tuning; the
// destination's own timeout and rate limit take precedence.
func New(cfg config.DestinationConfig, httpCfg *clients.HTTPConfig, opts ...Option) (*Webhook, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}

	algorithm, err := compression.Parse(cfg.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid destination.compression")
	}
	compressor, err := compression.NewCompressor(&compression.Config{
		Algorithm: algorithm,
		Level:     compression.Level(cfg.CompressionLevel),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid destination compression settings")
	}

	w := &Webhook{
		cfg:        cfg,
		compressor: compressor,
		clock:      clock.System{},
		logger:     logger.Get(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "webhook"), zap.String("endpoint", cfg.EndpointURL))

	if httpCfg == nil {
		httpCfg = clients.DefaultHTTPConfig()
	}
	hc := httpCfg.Clone()
	hc.RequestTimeout = cfg.Timeout
	hc.RateLimit = cfg.RateLimitPerSec
	hc.RateBurst = cfg.RateLimitBurst

	w.client = clients.NewHTTPClient(hc, w.logger)
	w.auth = configureAuth(cfg.Auth, w.client)
	return w, nil
}

// NewDestination is the registry factory
func NewDestination(cfg *config.Config) (core.Destination, error) {
	return New(cfg.Destination, &cfg.HTTP)
}

// Send POSTs one invoice
func (w *Webhook) Send(ctx context.Context, invoice *models.Invoice) error {
	buf, err := jsonpool.MarshalToBuffer(invoice)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "failed to serialize invoice").
			WithDetail("invoice_id", invoice.ID)
	}
	defer jsonpool.PutBuffer(buf)

	if err := w.post(ctx, buf.Bytes()); err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			e.WithDetail("invoice_id", invoice.ID).WithDetail("invoice_number", invoice.Number)
		}
		return err
	}

	w.logger.Debug("invoice delivered", zap.String("invoice_id", invoice.ID))
	return nil
}

// Probe POSTs a test payload and reports whether it was accepted
func (w *Webhook) Probe(ctx context.Context) bool {
	payload, err := jsonpool.Marshal(map[string]interface{}{
		"test":      true,
		"timestamp": w.clock.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		w.logger.Error("failed to build probe payload", zap.Error(err))
		return false
	}

	if err := w.post(ctx, payload); err != nil {
		w.logger.Warn("webhook probe failed", zap.Error(err))
		return false
	}
	w.logger.Info("webhook probe succeeded")
	return true
}

// Close releases idle connections
func (w *Webhook) Close() error {
	return w.client.Close()
}

func (w *Webhook) post(ctx context.Context, payload []byte) error {
	headers := make(map[string]string, len(w.cfg.Headers)+2)
	for k, v := range w.cfg.Headers {
		headers[k] = v
	}
	headers["Content-Type"] = w.cfg.ContentType

	body, err := w.compressor.Compress(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to compress payload")
	}
	if enc := w.compressor.ContentEncoding(); enc != "" {
		headers["Content-Encoding"] = enc
	}

	req, err := w.client.NewRequest(ctx, http.MethodPost, w.cfg.EndpointURL, bytes.NewReader(body), headers)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to build webhook request")
	}
	w.auth.Apply(req)

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, "webhook request failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxSnippet))
		return errors.New(errors.ErrorTypeDelivery, fmt.Sprintf("webhook returned HTTP %d", resp.StatusCode)).
			WithDetail("status_code", resp.StatusCode).
			WithDetail("body", string(snippet))
	}
	return nil
}
