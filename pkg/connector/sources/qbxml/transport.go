package qbxml

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/ajitpratap0/ledgersync/pkg/clients"
	"github.com/ajitpratap0/ledgersync/pkg/errors"
)

// Transport carries qbXML request documents to the accounting application
// and returns its response documents.
type Transport interface {
	// Open establishes or verifies the session
	Open(ctx context.Context) error
	// Do exchanges one request document for one response document
	Do(ctx context.Context, request []byte) ([]byte, error)
	// Alive reports session health without a round-trip
	Alive() bool
	// Close ends the session
	Close() error
}

// maxResponseSize bounds a single qbXML response document
const maxResponseSize = 64 << 20

// HTTPTransport posts qbXML documents to a request-processor gateway
type HTTPTransport struct {
	url     string
	version string
	client  *clients.HTTPClient
	open    atomic.Bool
}

// NewHTTPTransport creates a gateway transport
func NewHTTPTransport(url, version string, client *clients.HTTPClient) *HTTPTransport {
	return &HTTPTransport{url: url, version: version, client: client}
}

// Open verifies the gateway with a HostQueryRq
func (t *HTTPTransport) Open(ctx context.Context) error {
	req, err := BuildHostQuery(t.version)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to build host query")
	}

	resp, err := t.post(ctx, req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "qbXML gateway unreachable").
			WithDetail("gateway_url", t.url)
	}
	if err := ParseHostResponse(resp); err != nil {
		return err
	}

	t.open.Store(true)
	return nil
}

// Do posts one request document
func (t *HTTPTransport) Do(ctx context.Context, request []byte) ([]byte, error) {
	resp, err := t.post(ctx, request)
	if err != nil {
		t.open.Store(false)
		return nil, err
	}
	return resp, nil
}

func (t *HTTPTransport) post(ctx context.Context, body []byte) ([]byte, error) {
	resp, err := t.client.Post(ctx, t.url, bytes.NewReader(body), map[string]string{
		"Content-Type": "application/xml",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}
	return data, nil
}

// Alive reports whether the last exchange succeeded
func (t *HTTPTransport) Alive() bool {
	return t.open.Load()
}

// Close marks the session closed
func (t *HTTPTransport) Close() error {
	t.open.Store(false)
	return nil
}

// FileTransport exchanges documents through files beside the company file.
// The request is written to RequestPath and the bridge's answer is read from
// ResponsePath.
type FileTransport struct {
	CompanyFile  string
	RequestPath  string
	ResponsePath string
	open         atomic.Bool
}

// NewFileTransport creates a file-backed transport. Empty request and
// response paths default to files in the company file's directory.
func NewFileTransport(companyFile, responsePath string) *FileTransport {
	t := &FileTransport{CompanyFile: companyFile, ResponsePath: responsePath}
	t.defaults()
	return t
}

func (t *FileTransport) defaults() {
	if t.CompanyFile == "" {
		return
	}
	dir := filepath.Dir(t.CompanyFile)
	if t.RequestPath == "" {
		t.RequestPath = filepath.Join(dir, "InvoiceQueryRq.xml")
	}
	if t.ResponsePath == "" {
		t.ResponsePath = filepath.Join(dir, "InvoiceQueryRs.xml")
	}
}

// Open checks that the company file exists
func (t *FileTransport) Open(_ context.Context) error {
	if t.CompanyFile == "" {
		return errors.New(errors.ErrorTypeConnection, "no company file configured")
	}
	if _, err := os.Stat(t.CompanyFile); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "company file not accessible").
			WithDetail("company_file", t.CompanyFile)
	}
	t.defaults()
	t.open.Store(true)
	return nil
}

// Do writes the request and reads the current response document
func (t *FileTransport) Do(ctx context.Context, request []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.WriteFile(t.RequestPath, request, 0o600); err != nil {
		return nil, fmt.Errorf("write request document: %w", err)
	}
	data, err := os.ReadFile(t.ResponsePath)
	if err != nil {
		return nil, fmt.Errorf("read response document: %w", err)
	}
	return data, nil
}

// Alive is the session flag combined with a company file existence check
func (t *FileTransport) Alive() bool {
	if !t.open.Load() {
		return false
	}
	_, err := os.Stat(t.CompanyFile)
	return err == nil
}

// Close marks the session closed
func (t *FileTransport) Close() error {
	t.open.Store(false)
	return nil
}
