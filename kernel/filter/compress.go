package filter

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
)

// CompressionBufferFilter returns a BufferFilter that compresses with
// brotli at the given quality level (0-11; brotli.DefaultCompression is a
// reasonable default). Wire it as a pre-serialize send filter and
// DecompressionBufferFilter as the matching post-deserialize receive filter.
func CompressionBufferFilter(quality int) BufferFilter {
	return func(buf []byte, _ Args) ([]byte, error) {
		var out bytes.Buffer
		w := brotli.NewWriterLevel(&out, quality)
		if _, err := w.Write(buf); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	}
}

// DecompressionBufferFilter is the inverse of CompressionBufferFilter.
func DecompressionBufferFilter() BufferFilter {
	return func(buf []byte, _ Args) ([]byte, error) {
		r := brotli.NewReader(bytes.NewReader(buf))
		return io.ReadAll(r)
	}
}
