package transaction

import (
	"compress/gzip"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// decompressReader wraps r in a streaming decoder for encoding, per
// spec.md §4.E: gzip/x-gzip use the stdlib decoder (kept on stdlib because
// the teacher's own transport already relies on it transparently and no
// pack example adds a third-party gzip reader); deflate and zstd use
// github.com/klauspost/compress (a teacher dependency otherwise sitting
// unused); br uses github.com/andybalholm/brotli (same). "identity",
// "unknown" and anything unrecognised pass bytes through unchanged.
func decompressReader(encoding string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity", "unknown":
		return io.NopCloser(r), nil

	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, &DecompressionError{Encoding: encoding, Message: err.Error()}
		}
		return zr, nil

	case "deflate":
		return flate.NewReader(r), nil

	case "br":
		return io.NopCloser(brotli.NewReader(r)), nil

	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, &DecompressionError{Encoding: encoding, Message: err.Error()}
		}
		return zr.IOReadCloser(), nil

	default:
		return io.NopCloser(r), nil
	}
}

// countingReader tallies bytes read through it. The engine wraps the raw
// wire body in one, upstream of decompressReader, and reports its count
// as content_length_compressed.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
