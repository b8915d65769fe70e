package watermark

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ledgersync/pkg/clock"
	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/errors"
	jsonpool "github.com/ajitpratap0/ledgersync/pkg/json"
	"github.com/ajitpratap0/ledgersync/pkg/testutil"
)

var (
	t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 = time.Date(2024, 3, 2, 15, 30, 0, 0, time.UTC)
	t2 = time.Date(2024, 3, 3, 8, 0, 0, 0, time.UTC)
)

// storeContract runs the behaviour every Store must share
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := testutil.TestContext(t)

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, t1))
	wm, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, t1.Equal(wm))

	// Save never moves backwards
	require.NoError(t, s.Save(ctx, t0))
	wm, _, err = s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, t1.Equal(wm))

	require.NoError(t, s.Save(ctx, t2))
	wm, _, err = s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, t2.Equal(wm))

	// Reset does
	require.NoError(t, s.Reset(ctx, t0))
	wm, _, err = s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, t0.Equal(wm))
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "watermark.json")
	storeContract(t, NewFileStore(path, "invoices", WithLogger(testutil.TestLogger(t))))
}

func TestFileStore_Document(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	fixed := clock.NewFixed(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))
	s := NewFileStore(path, "invoices", WithClock(fixed), WithLogger(testutil.TestLogger(t)))

	require.NoError(t, s.Save(context.Background(), t1.In(time.FixedZone("EST", -5*3600))))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]string
	require.NoError(t, jsonpool.Unmarshal(data, &doc))
	assert.Equal(t, "invoices", doc["key"])
	assert.Equal(t, "2024-03-02T15:30:00Z", doc["watermark"])
	assert.Equal(t, "2024-03-04T12:00:00Z", doc["updatedAt"])

	// No temp files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_Errors(t *testing.T) {
	ctx := context.Background()

	corrupt := testutil.WriteFile(t, "corrupt.json", []byte("{not json"))
	_, _, err := NewFileStore(corrupt, "invoices").Load(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))

	other := testutil.WriteFile(t, "other.json", []byte(`{"key":"bills","watermark":"2024-03-01T00:00:00Z"}`))
	_, _, err = NewFileStore(other, "invoices").Load(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bills")
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, config.WatermarkConfig{Store: config.StoreMemory, Key: "invoices"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore(ctx, config.WatermarkConfig{
		Store: config.StoreFile,
		Path:  filepath.Join(t.TempDir(), "wm.json"),
		Key:   "invoices",
	})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = NewStore(ctx, config.WatermarkConfig{Store: "redis", Key: "invoices"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = NewStore(ctx, config.WatermarkConfig{
		Store: config.StoreMySQL,
		DSN:   "root:secret@tcp(127.0.0.1:1)/ledgersync",
		Table: "bad-name;drop",
		Key:   "invoices",
	})
	require.Error(t, err)
}

func TestSanitizeTableName(t *testing.T) {
	for _, name := range []string{"ledgersync_watermarks", "etl.watermarks", "W2"} {
		got, err := sanitizeTableName(name)
		require.NoError(t, err)
		assert.Equal(t, name, got)
	}
	for _, name := range []string{"", "wm;drop table", "wm-1", "`wm`"} {
		_, err := sanitizeTableName(name)
		assert.Error(t, err, name)
	}
}

// failingStore loads fine and fails every write
type failingStore struct {
	MemoryStore
	saves int
}

func (f *failingStore) Save(context.Context, time.Time) error {
	f.saves++
	return errors.New(errors.ErrorTypeQuery, "database unavailable")
}

func (f *failingStore) Reset(context.Context, time.Time) error {
	return errors.New(errors.ErrorTypeQuery, "database unavailable")
}

func TestTracker_InitialAndRestored(t *testing.T) {
	ctx := context.Background()

	tr, err := NewTracker(ctx, NewMemoryStore(), t0, testutil.TestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, t0, tr.Current())

	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, t2))
	tr, err = NewTracker(ctx, store, t0, testutil.TestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, t2, tr.Current())
}

func TestTracker_AdvanceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tr, err := NewTracker(ctx, store, t0, testutil.TestLogger(t))
	require.NoError(t, err)

	assert.True(t, tr.Advance(ctx, t2))
	assert.False(t, tr.Advance(ctx, t1))
	assert.False(t, tr.Advance(ctx, t2))
	assert.Equal(t, t2, tr.Current())

	wm, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t2, wm)
}

func TestTracker_AdvanceSurvivesSaveFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{}
	tr, err := NewTracker(ctx, store, t0, testutil.TestLogger(t))
	require.NoError(t, err)

	assert.True(t, tr.Advance(ctx, t1))
	assert.Equal(t, t1, tr.Current())
	assert.Equal(t, 1, store.saves)

	// Set surfaces the failure and leaves memory untouched
	require.Error(t, tr.Set(ctx, t0))
	assert.Equal(t, t1, tr.Current())
}

func TestTracker_SetMovesBackwards(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tr, err := NewTracker(ctx, store, t2, testutil.TestLogger(t))
	require.NoError(t, err)

	require.NoError(t, tr.Set(ctx, t0))
	assert.Equal(t, t0, tr.Current())
	wm, _, _ := store.Load(ctx)
	assert.Equal(t, t0, wm)
}

func TestTracker_ConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	tr, err := NewTracker(ctx, NewMemoryStore(), t0, testutil.TestLogger(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.False(t, tr.Current().Before(t0))
			}
		}()
	}
	for h := 1; h <= 100; h++ {
		tr.Advance(ctx, t0.Add(time.Duration(h)*time.Hour))
	}
	wg.Wait()
	assert.Equal(t, t0.Add(100*time.Hour), tr.Current())
}

func TestTracker_LoadFailure(t *testing.T) {
	path := testutil.WriteFile(t, "wm.json", []byte("garbage"))
	_, err := NewTracker(context.Background(), NewFileStore(path, "invoices"), t0, testutil.TestLogger(t))
	require.Error(t, err)
}
