package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsonpool "github.com/ajitpratap0/ledgersync/pkg/json"
)

const fixture = `[
  {"quickBooksId": "TXN-2", "invoiceNumber": "INV-1002", "amount": "250.00",
   "customer": {"name": "Globex"}, "modifiedDate": "2026-01-02T10:00:00Z"},
  {"quickBooksId": "TXN-1", "invoiceNumber": "INV-1001", "amount": "1500.00",
   "customer": {"name": "Acme Corp"}, "modifiedDate": "2026-01-01T10:00:00Z"}
]`

type hookServer struct {
	*httptest.Server
	mu       sync.Mutex
	status   int
	received []string
	probes   int
}

func newHookServer(t *testing.T) *hookServer {
	t.Helper()
	h := &hookServer{status: http.StatusOK}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var doc map[string]interface{}
		_ = jsonpool.Unmarshal(body, &doc)

		h.mu.Lock()
		defer h.mu.Unlock()
		if id, ok := doc["quickBooksId"].(string); ok {
			h.received = append(h.received, id)
		} else {
			h.probes++
		}
		w.WriteHeader(h.status)
	}))
	t.Cleanup(h.Close)
	return h
}

func (h *hookServer) setStatus(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = code
}

func (h *hookServer) ids() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.received...)
}

type env struct {
	dir        string
	configPath string
	hook       *hookServer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	hook := newHookServer(t)

	fixturePath := filepath.Join(dir, "invoices.json")
	require.NoError(t, os.WriteFile(fixturePath, []byte(fixture), 0o644))

	cfg := `service:
  name: test-pipeline
  polling_interval: 1m
  max_retry_attempts: 2
  retry_delay: 1ms
  inter_record_delay: 0s
  shutdown_timeout: 1s
  initial_watermark: "2025-12-01T00:00:00Z"
source:
  type: json
  fixture_path: ` + fixturePath + `
destination:
  type: webhook
  endpoint_url: ` + hook.URL + `
  timeout: 2s
watermark:
  store: file
  path: ` + filepath.Join(dir, "state", "watermark.json") + `
  key: invoices
logging:
  level: error
  output_paths: ["` + filepath.Join(dir, "ledgersync.log") + `"]
`
	configPath := filepath.Join(dir, "ledgersync.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))

	return &env{dir: dir, configPath: configPath, hook: hook}
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSyncOnce_DeliversInOrderAndPersistsWatermark(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "sync", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "fetched=2 delivered=2 failed=0")
	assert.Contains(t, out, "watermark=2026-01-02T10:00:00Z")
	assert.Equal(t, []string{"TXN-1", "TXN-2"}, e.hook.ids())

	out, err = e.run(t, "watermark", "show")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T10:00:00Z\n", out)

	// Second run sees nothing newer than the persisted watermark
	out, err = e.run(t, "sync", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "delivered=0")
	assert.Len(t, e.hook.ids(), 2)
}

func TestSyncOnce_FailedDeliveryStillAdvances(t *testing.T) {
	e := newEnv(t)
	e.hook.setStatus(http.StatusInternalServerError)

	out, err := e.run(t, "sync", "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 invoice(s) could not be delivered")
	assert.Contains(t, out, "delivered=0 failed=2")
	// two attempts per invoice
	assert.Len(t, e.hook.ids(), 4)

	out, err = e.run(t, "watermark", "show")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T10:00:00Z\n", out)
}

func TestSyncOnce_EndpointFlagOverridesFile(t *testing.T) {
	e := newEnv(t)
	other := newHookServer(t)

	_, err := e.run(t, "sync", "--once", "--endpoint", other.URL)
	require.NoError(t, err)
	assert.Empty(t, e.hook.ids())
	assert.Len(t, other.ids(), 2)
}

func TestWatermarkSet_ReplaysInvoices(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "sync", "--once")
	require.NoError(t, err)

	out, err := e.run(t, "watermark", "set", "2026-01-01T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "watermark set to 2026-01-01T12:00:00Z\n", out)

	_, err = e.run(t, "sync", "--once")
	require.NoError(t, err)
	assert.Equal(t, []string{"TXN-1", "TXN-2", "TXN-2"}, e.hook.ids())
}

func TestWatermark_Errors(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "watermark", "set", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timestamp")

	_, err = e.run(t, "watermark", "set")
	require.Error(t, err)

	out, err := e.run(t, "watermark", "show")
	require.NoError(t, err)
	assert.Equal(t, "not set (next run starts at 2025-12-01T00:00:00Z)\n", out)

	_, err = e.run(t, "watermark", "show", "--watermark-store", "memory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not persisted")
}

func TestProbe(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "probe")
	require.NoError(t, err)
	assert.Contains(t, out, "source (json):      ok")
	assert.Contains(t, out, "destination (webhook): ok")
	assert.Equal(t, 1, e.hook.probes)

	e.hook.setStatus(http.StatusServiceUnavailable)
	out, err = e.run(t, "probe")
	require.Error(t, err)
	assert.Contains(t, out, "destination (webhook): FAILED")
}

func TestConfigErrors(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "sync", "--once", "--endpoint", "not a url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"--config", filepath.Join(e.dir, "missing.yaml"), "--env-file", "", "probe"})
	require.Error(t, cmd.Execute())
}

func TestListAndVersion(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "list")
	require.NoError(t, err)
	for _, name := range []string{"qbxml", "json", "webhook"} {
		assert.Contains(t, out, "  - "+name)
	}
	assert.True(t, strings.Index(out, "Source") < strings.Index(out, "Destination"))

	out, err = e.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ledgersync v"+version)
}
