package json

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ledgersync/pkg/clock"
	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/errors"
	"github.com/ajitpratap0/ledgersync/pkg/testutil"
)

const arrayFixture = `[
  {"quickBooksId":"A","invoiceNumber":"INV-1","modifiedDate":"2024-03-01T10:00:00Z","amount":100.00,"subtotal":100.00,"taxAmount":0,"balance":100.00},
  {"quickBooksId":"B","invoiceNumber":"INV-2","modifiedDate":"2024-03-02T10:00:00Z","amount":250.50,"subtotal":250.50,"taxAmount":0,"balance":0},
  {"quickBooksId":"C","invoiceNumber":"INV-3","amount":1,"subtotal":1,"taxAmount":0,"balance":1}
]`

const linesFixture = `{"quickBooksId":"A","modifiedDate":"2024-03-01T10:00:00Z","amount":1,"subtotal":1,"taxAmount":0,"balance":1}
{"quickBooksId":"B","modifiedDate":"2024-03-02T10:00:00Z","amount":2,"subtotal":2,"taxAmount":0,"balance":2}
`

func TestJSONSource_Array(t *testing.T) {
	path := testutil.WriteFile(t, "invoices.json", []byte(arrayFixture))
	now := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	src := NewJSONSource(path, clock.NewFixed(now), testutil.TestLogger(t))
	ctx := testutil.TestContext(t)

	invoices, err := src.FetchChangedSince(ctx, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, invoices, 2, "the boundary record is excluded, the untimestamped one kept")
	assert.Equal(t, "B", invoices[0].ID)
	assert.Equal(t, "250.5", invoices[0].Amount.String())
	assert.Equal(t, now, invoices[0].ExtractedAt)
	assert.Equal(t, "C", invoices[1].ID)
	assert.True(t, invoices[1].LastModified.IsZero())
	assert.Equal(t, int64(3), src.RecordsRead())
}

func TestJSONSource_Lines(t *testing.T) {
	path := testutil.WriteFile(t, "invoices.jsonl", []byte(linesFixture))
	src := NewJSONSource(path, nil, testutil.TestLogger(t))

	invoices, err := src.FetchChangedSince(testutil.TestContext(t), time.Time{})
	require.NoError(t, err)
	assert.Len(t, invoices, 2)
	assert.True(t, src.IsConnected())
}

func TestJSONSource_MissingFile(t *testing.T) {
	src := NewJSONSource("/nonexistent/invoices.json", nil, testutil.TestLogger(t))

	_, err := src.FetchChangedSince(testutil.TestContext(t), time.Time{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.False(t, src.IsConnected())
}

func TestJSONSource_CorruptFile(t *testing.T) {
	path := testutil.WriteFile(t, "invoices.json", []byte(`[{"quickBooksId":`))
	src := NewJSONSource(path, nil, testutil.TestLogger(t))

	_, err := src.FetchChangedSince(testutil.TestContext(t), time.Time{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExtraction))
}

func TestJSONSource_FileRemovedAfterConnect(t *testing.T) {
	path := testutil.WriteFile(t, "invoices.json", []byte(arrayFixture))
	src := NewJSONSource(path, nil, testutil.TestLogger(t))
	ctx := testutil.TestContext(t)

	require.NoError(t, src.Connect(ctx))
	require.NoError(t, os.Remove(path))
	assert.False(t, src.IsConnected())

	src.Disconnect(ctx)
	assert.False(t, src.IsConnected())
}

func TestNewSource_RequiresPath(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Source.Type = config.SourceJSON

	_, err := NewSource(cfg)
	require.Error(t, err)

	cfg.Source.FixturePath = "invoices.json"
	src, err := NewSource(cfg)
	require.NoError(t, err)
	assert.NotNil(t, src)
}
