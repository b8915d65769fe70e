// Package compression encodes webhook request bodies with the HTTP content
// codings a receiver can be expected to understand.
//
// # Algorithms
//
//   - Gzip: universally supported, the default choice
//   - Deflate: zlib-wrapped deflate as defined for Content-Encoding
//   - Zstd: better ratio and speed, needs a receiver that speaks it
//
// # Usage
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Gzip,
//	    Level:     compression.Default,
//	})
//	body, err := comp.Compress(payload)
//	req.Header.Set("Content-Encoding", comp.ContentEncoding())
//
// Compressors pool their encoders and are safe for concurrent use.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Algorithm represents a compression algorithm
type Algorithm string

const (
	// None sends the body as is
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Deflate represents zlib-wrapped deflate compression
	Deflate Algorithm = "deflate"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio
	Fastest Level = 1
	// Default balances speed and compression
	Default Level = 5
	// Better improves compression at cost of speed
	Better Level = 7
	// Best maximizes compression ratio
	Best Level = 9
)

// Compressor compresses request bodies
type Compressor interface {
	// Compress returns the encoded form of data. The input is not modified.
	Compress(data []byte) ([]byte, error)

	// Decompress reverses Compress
	Decompress(data []byte) ([]byte, error)

	// Algorithm returns the compression algorithm used
	Algorithm() Algorithm

	// ContentEncoding is the Content-Encoding header value, empty for None
	ContentEncoding() string
}

// Config represents compressor configuration
type Config struct {
	Algorithm Algorithm // Compression algorithm to use
	Level     Level     // Compression level, zero means Default
}

// DefaultConfig returns gzip at the default level
func DefaultConfig() *Config {
	return &Config{
		Algorithm: Gzip,
		Level:     Default,
	}
}

// Parse maps a configuration string to an Algorithm. The empty string means
// None.
func Parse(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case "", None:
		return None, nil
	case Gzip, Deflate, Zstd:
		return Algorithm(name), nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", name)
	}
}

// NewCompressor creates a new compressor based on the provided configuration.
// If config is nil, default configuration is used.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	level := config.Level
	if level == 0 {
		level = Default
	}
	if level < Fastest || level > Best {
		return nil, fmt.Errorf("compression level %d out of range %d-%d", level, Fastest, Best)
	}

	switch config.Algorithm {
	case None, "":
		return noneCompressor{}, nil
	case Gzip:
		return newGzipCompressor(level), nil
	case Deflate:
		return newDeflateCompressor(level), nil
	case Zstd:
		return newZstdCompressor(level)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", config.Algorithm)
	}
}

// None compressor
type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noneCompressor) Algorithm() Algorithm                   { return None }
func (noneCompressor) ContentEncoding() string                { return "" }

// Gzip compressor
type gzipCompressor struct {
	writerPool sync.Pool
}

func newGzipCompressor(level Level) *gzipCompressor {
	gc := &gzipCompressor{}
	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, int(level))
		return w
	}
	return gc
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (gc *gzipCompressor) Algorithm() Algorithm    { return Gzip }
func (gc *gzipCompressor) ContentEncoding() string { return string(Gzip) }

// Deflate compressor. HTTP "deflate" is the zlib format.
type deflateCompressor struct {
	writerPool sync.Pool
}

func newDeflateCompressor(level Level) *deflateCompressor {
	dc := &deflateCompressor{}
	dc.writerPool.New = func() interface{} {
		w, _ := zlib.NewWriterLevel(nil, int(level))
		return w
	}
	return dc
}

func (dc *deflateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := dc.writerPool.Get().(*zlib.Writer)
	defer dc.writerPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (dc *deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (dc *deflateCompressor) Algorithm() Algorithm    { return Deflate }
func (dc *deflateCompressor) ContentEncoding() string { return string(Deflate) }

// Zstd compressor. A single encoder and decoder are safe for concurrent
// EncodeAll and DecodeAll calls.
type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCompressor(level Level) (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(mapZstdLevel(level)))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{encoder: enc, decoder: dec}, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return zc.decoder.DecodeAll(data, nil)
}

func (zc *zstdCompressor) Algorithm() Algorithm    { return Zstd }
func (zc *zstdCompressor) ContentEncoding() string { return string(Zstd) }

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch {
	case level <= Fastest:
		return zstd.SpeedFastest
	case level <= Default:
		return zstd.SpeedDefault
	case level <= Better:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}
