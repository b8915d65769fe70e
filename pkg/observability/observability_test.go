package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(DefaultTracingConfig())
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	_, span := StartSpan(context.Background(), "cycle")
	assert.False(t, span.SpanContext().IsValid())
	assert.False(t, span.IsRecording())
	EndSpan(span, nil)
}

func TestInitTracing_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.SamplingRate = 1.0
	cfg.Writer = &buf

	shutdown, err := InitTracing(cfg)
	require.NoError(t, err)

	ctx, parent := StartSpan(context.Background(), "cycle", attribute.Int("fetched", 3))
	_, child := StartSpan(ctx, "deliver", attribute.String("invoice.id", "TXN-1"))
	assert.True(t, child.IsRecording())
	assert.Equal(t, parent.SpanContext().TraceID(), child.SpanContext().TraceID())
	EndSpan(child, errors.New("webhook returned HTTP 500"))
	EndSpan(parent, nil)

	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name":"cycle"`)
	assert.Contains(t, out, `"Name":"deliver"`)
	assert.Contains(t, out, "webhook returned HTTP 500")
	assert.Contains(t, out, "ledgersync")

	// Leave a no-op provider behind for other tests
	_, err = InitTracing(DefaultTracingConfig())
	require.NoError(t, err)
}

func TestInitTracing_NeverSample(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.SamplingRate = 0
	cfg.Writer = &buf

	shutdown, err := InitTracing(cfg)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "cycle")
	assert.False(t, span.IsRecording())
	EndSpan(span, nil)
	require.NoError(t, shutdown(context.Background()))
	assert.Empty(t, buf.String())

	_, err = InitTracing(DefaultTracingConfig())
	require.NoError(t, err)
}
