package archive

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"io"
	"testing"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decompressGzip(t *testing.T, data []byte) []byte {
	t.Helper()

	r, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer r.Close()

	out, err := io.ReadAll(r)
	require.NoError(t, err)

	return out
}

func decompressZlib(t *testing.T, data []byte) []byte {
	t.Helper()

	r, err := zlib.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer r.Close()

	out, err := io.ReadAll(r)
	require.NoError(t, err)

	return out
}

func decompressZstd(t *testing.T, data []byte) []byte {
	t.Helper()

	r, err := zstd.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer r.Close()

	out, err := io.ReadAll(r)
	require.NoError(t, err)

	return out
}

func decompressSnappy(t *testing.T, data []byte) []byte {
	t.Helper()

	out, err := snappy.Decode(nil, data)
	require.NoError(t, err)

	return out
}

func TestCompressor_RoundTrips(t *testing.T) {
	original := []byte(`{"id":1,"user":"alice","changes_count":12}` + "\n" +
		`{"id":2,"user":"bob","changes_count":3}` + "\n" +
		`{"id":3,"user":"alice","changes_count":12}` + "\n")

	tests := []struct {
		algorithm  string
		encoding   string
		decompress func(*testing.T, []byte) []byte
	}{
		{CompressionGzip, "gzip", decompressGzip},
		{CompressionZstd, "zstd", decompressZstd},
		{CompressionZlib, "deflate", decompressZlib},
		{CompressionSnappy, "snappy", decompressSnappy},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			c, err := NewCompressor(tt.algorithm)
			require.NoError(t, err)
			defer c.Close()

			compressed, err := c.Compress(original)
			require.NoError(t, err)

			assert.Equal(t, tt.encoding, c.ContentEncoding())
			assert.Equal(t, original, tt.decompress(t, compressed))
		})
	}
}

func TestCompressor_None(t *testing.T) {
	c, err := NewCompressor(CompressionNone)
	require.NoError(t, err)
	defer c.Close()

	data := []byte("passthrough")
	out, err := c.Compress(data)
	require.NoError(t, err)

	assert.Equal(t, data, out)
	assert.Equal(t, "", c.ContentEncoding())
}

func TestCompressor_Unsupported(t *testing.T) {
	_, err := NewCompressor("lz77")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")
}
