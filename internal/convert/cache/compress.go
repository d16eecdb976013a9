package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/site2md/engine/internal/common/config"
)

// compressMinSize is the payload size below which compression is
// skipped; small documents gain nothing.
const compressMinSize = 512

// Payload markers. The first byte of every stored value identifies its
// encoding so entries written under one compression setting stay
// readable after the setting changes.
const (
	markerRaw    = 'r'
	markerSnappy = 's'
	markerLZ4    = 'z'
)

// encodePayload compresses data with the configured algorithm and
// prepends the encoding marker.
func encodePayload(data []byte, algorithm string) ([]byte, error) {
	if len(data) < compressMinSize || algorithm == config.CompressionNone {
		return append([]byte{markerRaw}, data...), nil
	}

	switch algorithm {
	case config.CompressionSnappy:
		compressed := snappy.Encode(nil, data)
		return append([]byte{markerSnappy}, compressed...), nil

	case config.CompressionLZ4:
		// Stream format embeds size information.
		var buf bytes.Buffer
		buf.WriteByte(markerLZ4)
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return append([]byte{markerRaw}, data...), nil
	}
}

// decodePayload reverses encodePayload based on the marker byte.
func decodePayload(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty cache payload")
	}

	marker, data := payload[0], payload[1:]
	switch marker {
	case markerRaw:
		return data, nil

	case markerSnappy:
		decompressed, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("snappy decompression failed: %w", err)
		}
		return decompressed, nil

	case markerLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		decompressed, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression failed: %w", err)
		}
		return decompressed, nil

	default:
		return nil, fmt.Errorf("unknown cache payload marker %q", marker)
	}
}
