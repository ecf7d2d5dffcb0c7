package archive

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Supported payload compression algorithms.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// codec pairs a compress function with the Content-Encoding header it
// produces.
type codec struct {
	encoding string
	compress func(c *Compressor, data []byte) ([]byte, error)
}

var codecs = map[string]codec{
	CompressionNone: {encoding: "", compress: func(_ *Compressor, data []byte) ([]byte, error) {
		return data, nil
	}},
	CompressionGzip: {encoding: "gzip", compress: func(_ *Compressor, data []byte) ([]byte, error) {
		return compressWith(gzip.NewWriter, data)
	}},
	CompressionZlib: {encoding: "deflate", compress: func(_ *Compressor, data []byte) ([]byte, error) {
		return compressWith(zlib.NewWriter, data)
	}},
	CompressionSnappy: {encoding: "snappy", compress: func(_ *Compressor, data []byte) ([]byte, error) {
		return snappy.Encode(nil, data), nil
	}},
	CompressionZstd: {encoding: "zstd", compress: func(c *Compressor, data []byte) ([]byte, error) {
		return c.encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
	}},
}

// Compressor compresses NDJSON payloads before upload.
type Compressor struct {
	codec   codec
	encoder *zstd.Encoder
}

// NewCompressor creates a Compressor for the given algorithm. The empty
// string means no compression.
func NewCompressor(algorithm string) (*Compressor, error) {
	if algorithm == "" {
		algorithm = CompressionNone
	}

	cd, ok := codecs[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	c := &Compressor{codec: cd}

	// The zstd encoder is expensive to build, so it is created once and
	// reused across batches.
	if algorithm == CompressionZstd {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.encoder = encoder
	}

	return c, nil
}

// Compress compresses the data using the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	return c.codec.compress(c, data)
}

// ContentEncoding returns the Content-Encoding header value for the
// algorithm, or empty when the payload is sent uncompressed.
func (c *Compressor) ContentEncoding() string {
	return c.codec.encoding
}

// Close releases compressor resources.
func (c *Compressor) Close() error {
	if c.encoder != nil {
		return c.encoder.Close()
	}

	return nil
}

// compressWith runs data through a streaming writer such as gzip or zlib.
func compressWith[W io.WriteCloser](newWriter func(io.Writer) W, data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := newWriter(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress write: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress close: %w", err)
	}

	return buf.Bytes(), nil
}
