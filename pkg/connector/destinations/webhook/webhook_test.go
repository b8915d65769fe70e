package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ledgersync/pkg/clock"
	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/errors"
	"github.com/ajitpratap0/ledgersync/pkg/json"
	"github.com/ajitpratap0/ledgersync/pkg/models"
	"github.com/ajitpratap0/ledgersync/pkg/testutil"
)

func testInvoice() *models.Invoice {
	return &models.Invoice{
		ID:           "TXN-1",
		Number:       "INV-1001",
		LastModified: time.Date(2024, 3, 2, 10, 30, 0, 0, time.UTC),
		Amount:       models.MustMoney("1500.00"),
		Subtotal:     models.MustMoney("1500.00"),
		TaxAmount:    models.MustMoney("0.00"),
		Balance:      models.MustMoney("1500.00"),
	}
}

func newWebhook(t *testing.T, url string, mutate func(*config.DestinationConfig)) *Webhook {
	t.Helper()
	cfg := config.NewDefaultConfig().Destination
	cfg.EndpointURL = url
	cfg.Timeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	w, err := New(cfg, nil,
		WithLogger(testutil.TestLogger(t)),
		WithClock(clock.NewFixed(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWebhook_Send(t *testing.T) {
	var received map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "ledgersync/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "tenant-7", r.Header.Get("X-Tenant"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	wh := newWebhook(t, server.URL, func(c *config.DestinationConfig) {
		c.Headers = map[string]string{"X-Tenant": "tenant-7"}
	})

	require.NoError(t, wh.Send(testutil.TestContext(t), testInvoice()))
	assert.Equal(t, `"INV-1001"`, string(received["invoiceNumber"]))
	assert.Equal(t, `1500.00`, string(received["amount"]))
}

func TestWebhook_NonSuccessStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"redirect without location", http.StatusFound},
		{"client error", http.StatusBadRequest},
		{"server error", http.StatusInternalServerError},
		{"unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
			}))
			defer server.Close()

			err := newWebhook(t, server.URL, nil).Send(testutil.TestContext(t), testInvoice())
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeDelivery))

			var e *errors.Error
			require.True(t, errors.As(err, &e))
			code, _ := e.Detail("status_code")
			assert.Equal(t, tt.status, code)
			body, _ := e.Detail("body")
			assert.LessOrEqual(t, len(body.(string)), maxSnippet)
			id, _ := e.Detail("invoice_id")
			assert.Equal(t, "TXN-1", id)
		})
	}
}

func TestWebhook_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	err := newWebhook(t, url, nil).Send(testutil.TestContext(t), testInvoice())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDelivery))
}

func TestWebhook_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	wh := newWebhook(t, server.URL, func(c *config.DestinationConfig) { c.Timeout = 50 * time.Millisecond })

	err := wh.Send(testutil.TestContext(t), testInvoice())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDelivery))
}

func TestWebhook_ConnectionReuseAfterFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wh := newWebhook(t, server.URL, nil)
	ctx := testutil.TestContext(t)

	require.Error(t, wh.Send(ctx, testInvoice()))
	require.NoError(t, wh.Send(ctx, testInvoice()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhook_Probe(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.True(t, newWebhook(t, server.URL, nil).Probe(testutil.TestContext(t)))
	assert.Equal(t, true, payload["test"])
	assert.Equal(t, "2024-03-04T12:00:00Z", payload["timestamp"])

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer failing.Close()
	assert.False(t, newWebhook(t, failing.URL, nil).Probe(testutil.TestContext(t)))
}

func TestWebhook_Gzip(t *testing.T) {
	var decoded map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
		zr, err := gzip.NewReader(r.Body)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(zr)
		_ = json.Unmarshal(body, &decoded)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wh := newWebhook(t, server.URL, func(c *config.DestinationConfig) { c.Compression = "gzip" })
	require.NoError(t, wh.Send(testutil.TestContext(t), testInvoice()))
	assert.Equal(t, `"TXN-1"`, string(decoded["quickBooksId"]))
}

func TestWebhook_Zstd(t *testing.T) {
	var decoded map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "zstd", r.Header.Get("Content-Encoding"))
		zr, err := zstd.NewReader(r.Body)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer zr.Close()
		body, _ := io.ReadAll(zr)
		_ = json.Unmarshal(body, &decoded)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wh := newWebhook(t, server.URL, func(c *config.DestinationConfig) {
		c.Compression = "zstd"
		c.CompressionLevel = 9
	})
	require.NoError(t, wh.Send(testutil.TestContext(t), testInvoice()))
	assert.Equal(t, `"TXN-1"`, string(decoded["quickBooksId"]))
}

func TestWebhook_Auth(t *testing.T) {
	tests := []struct {
		name string
		auth config.AuthConfig
		want string
	}{
		{"none", config.AuthConfig{Type: config.AuthNone}, ""},
		{"bearer", config.AuthConfig{Type: config.AuthBearer, Token: "s3cret"}, "Bearer s3cret"},
		{"basic", config.AuthConfig{Type: config.AuthBasic, Username: "etl", Password: "pw"}, "Basic ZXRsOnB3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get("Authorization")
				w.WriteHeader(http.StatusNoContent)
			}))
			defer server.Close()

			wh := newWebhook(t, server.URL, func(c *config.DestinationConfig) { c.Auth = tt.auth })
			require.NoError(t, wh.Send(testutil.TestContext(t), testInvoice()))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWebhook_OAuth2ClientCredentials(t *testing.T) {
	var tokenRequests atomic.Int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wh := newWebhook(t, server.URL, func(c *config.DestinationConfig) {
		c.Auth = config.AuthConfig{
			Type:         config.AuthOAuth2,
			ClientID:     "ledgersync",
			ClientSecret: "secret",
			TokenURL:     tokenServer.URL,
		}
	})
	ctx := testutil.TestContext(t)

	require.NoError(t, wh.Send(ctx, testInvoice()))
	require.NoError(t, wh.Send(ctx, testInvoice()))
	assert.Equal(t, "Bearer tok-123", got)
	assert.Equal(t, int32(1), tokenRequests.Load(), "token is cached")
}

func TestWebhook_RateLimitHonoursCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wh := newWebhook(t, server.URL, func(c *config.DestinationConfig) {
		c.RateLimitPerSec = 0.01
		c.RateLimitBurst = 1
	})

	require.NoError(t, wh.Send(testutil.TestContext(t), testInvoice()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := wh.Send(ctx, testInvoice())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDelivery))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.NewDefaultConfig().Destination
	cfg.EndpointURL = "ftp://example.com"

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
