package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDefaultHTTPConfig(t *testing.T) {
	cfg := DefaultHTTPConfig()
	assert.True(t, cfg.EnableHTTP2)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "ledgersync/1.0", cfg.UserAgent)
	assert.Zero(t, cfg.RateLimit)

	clone := cfg.Clone()
	clone.UserAgent = "other"
	assert.Equal(t, "ledgersync/1.0", cfg.UserAgent)
}

func TestHTTPClient_PostSetsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ledgersync/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "text/xml", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer server.Close()

	client := NewHTTPClient(nil, zaptest.NewLogger(t))
	defer client.Close()

	resp, err := client.Post(context.Background(), server.URL, strings.NewReader("<ping/>"),
		map[string]string{"Content-Type": "text/xml"})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "<ping/>", string(body))

	stats := client.GetStats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(0), stats.FailedRequests)
	assert.Equal(t, 100.0, stats.SuccessRate)
}

func TestHTTPClient_ExplicitUserAgentWins(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	client := NewHTTPClient(DefaultHTTPConfig(), zaptest.NewLogger(t))
	resp, err := client.Post(context.Background(), server.URL, nil, map[string]string{"User-Agent": "probe/2"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "probe/2", got)
}

func TestHTTPClient_RequestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := DefaultHTTPConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	client := NewHTTPClient(cfg, zaptest.NewLogger(t))

	_, err := client.Post(context.Background(), server.URL, nil, nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), client.GetStats().FailedRequests)
}

func TestHTTPClient_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultHTTPConfig()
	cfg.RateLimit = 20
	cfg.RateBurst = 1
	client := NewHTTPClient(cfg, zaptest.NewLogger(t))

	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := client.Post(context.Background(), server.URL, nil, nil)
		require.NoError(t, err)
		resp.Body.Close()
	}
	// Burst of one then two waits of 50ms each
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Post(ctx, server.URL, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClient_OAuth2(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok {
			assert.Equal(t, "id", user)
			assert.Equal(t, "secret", pass)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"Bearer","expires_in":60}`))
	}))
	defer tokenServer.Close()

	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	client := NewHTTPClient(nil, zaptest.NewLogger(t))
	client.UseOAuth2(OAuth2Config{ClientID: "id", ClientSecret: "secret", TokenURL: tokenServer.URL})

	resp, err := client.Post(context.Background(), server.URL, nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer abc", auth)
	assert.Equal(t, DefaultHTTPConfig().RequestTimeout, client.Standard().Timeout)
}
