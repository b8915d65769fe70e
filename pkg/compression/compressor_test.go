package compression

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() []byte {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString(`{"quickBooksId":"TXN-1","invoiceNumber":"INV-1001","amount":"1500.00"}`)
	}
	return []byte(b.String())
}

func TestCompressors_RoundTrip(t *testing.T) {
	data := testPayload()

	tests := []struct {
		algorithm Algorithm
		encoding  string
		shrinks   bool
	}{
		{None, "", false},
		{Gzip, "gzip", true},
		{Deflate, "deflate", true},
		{Zstd, "zstd", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.algorithm), func(t *testing.T) {
			for _, level := range []Level{Fastest, Default, Best} {
				comp, err := NewCompressor(&Config{Algorithm: tt.algorithm, Level: level})
				require.NoError(t, err)
				assert.Equal(t, tt.algorithm, comp.Algorithm())
				assert.Equal(t, tt.encoding, comp.ContentEncoding())

				encoded, err := comp.Compress(data)
				require.NoError(t, err)
				if tt.shrinks {
					assert.Less(t, len(encoded), len(data))
				}

				decoded, err := comp.Decompress(encoded)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(data, decoded))
			}
		})
	}
}

func TestNewCompressor_Defaults(t *testing.T) {
	comp, err := NewCompressor(nil)
	require.NoError(t, err)
	assert.Equal(t, Gzip, comp.Algorithm())

	comp, err = NewCompressor(&Config{Algorithm: Zstd})
	require.NoError(t, err)
	assert.Equal(t, Zstd, comp.Algorithm())
}

func TestNewCompressor_Errors(t *testing.T) {
	_, err := NewCompressor(&Config{Algorithm: "lz4"})
	assert.Error(t, err)

	_, err = NewCompressor(&Config{Algorithm: Gzip, Level: 12})
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	for name, want := range map[string]Algorithm{"": None, "none": None, "gzip": Gzip, "deflate": Deflate, "zstd": Zstd} {
		got, err := Parse(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got)
	}
	_, err := Parse("snappy")
	assert.Error(t, err)
}

func TestCompressor_Concurrent(t *testing.T) {
	data := testPayload()
	comp, err := NewCompressor(&Config{Algorithm: Gzip})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				encoded, err := comp.Compress(data)
				if !assert.NoError(t, err) {
					return
				}
				decoded, err := comp.Decompress(encoded)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, len(data), len(decoded))
			}
		}()
	}
	wg.Wait()
}
