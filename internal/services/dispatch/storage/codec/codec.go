// Package codec serializes aggregate state for snapshot storage: msgpack for
// the encoding, zstd for compression.
package codec

import (
	"bytes"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Compression selects the compression stage.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// Codec encodes values with msgpack and optionally compresses them. A Codec
// is safe for concurrent use.
type Codec struct {
	compression Compression
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// New creates a codec with the given compression.
func New(compression Compression) (*Codec, error) {
	c := &Codec{compression: compression}
	switch compression {
	case CompressionNone:
	case CompressionZstd:
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			encoder.Close()
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		c.encoder, c.decoder = encoder, decoder
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
	return c, nil
}

var (
	defaultOnce  sync.Once
	defaultCodec *Codec
	defaultErr   error
)

// Default returns the shared msgpack+zstd codec.
func Default() (*Codec, error) {
	defaultOnce.Do(func() {
		defaultCodec, defaultErr = New(CompressionZstd)
	})
	return defaultCodec, defaultErr
}

// Close releases compression resources.
func (c *Codec) Close() {
	if c.encoder != nil {
		_ = c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}

// Compression reports the configured compression.
func (c *Codec) Compression() Compression { return c.compression }

// Encode serializes v.
func (c *Codec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	if c.encoder == nil {
		return buf.Bytes(), nil
	}
	return c.encoder.EncodeAll(buf.Bytes(), nil), nil
}

// Decode deserializes data into v. Untyped integers decode as int when they
// fit, otherwise as int64 or uint64; untyped floats decode as float64.
func (c *Codec) Decode(data []byte, v any) error {
	if c.decoder != nil {
		raw, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("zstd decode: %w", err)
		}
		data = raw
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}

// DecodeMap decodes a map written by Encode and normalizes integer values.
func (c *Codec) DecodeMap(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := c.Decode(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	for key, value := range out {
		out[key] = normalize(value)
	}
	return out, nil
}

func normalize(value any) any {
	switch v := value.(type) {
	case int64:
		if v >= math.MinInt && v <= math.MaxInt {
			return int(v)
		}
	case uint64:
		if v <= math.MaxInt {
			return int(v)
		}
	case []any:
		for i := range v {
			v[i] = normalize(v[i])
		}
	case map[string]any:
		for key := range v {
			v[key] = normalize(v[key])
		}
	}
	return value
}
