package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripNormalizesIntegers(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionZstd} {
		t.Run(string(compression), func(t *testing.T) {
			c, err := New(compression)
			require.NoError(t, err)
			defer c.Close()

			stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			data, err := c.Encode(map[string]any{
				"id":      "abc",
				"balance": 120,
				"rate":    1.5,
				"tags":    []any{"a", 2},
				"opened":  stamp,
				"nested":  map[string]any{"n": 3},
				"closed":  nil,
			})
			require.NoError(t, err)

			got, err := c.DecodeMap(data)
			require.NoError(t, err)
			assert.Equal(t, "abc", got["id"])
			assert.Equal(t, 120, got["balance"])
			assert.Equal(t, 1.5, got["rate"])
			assert.Equal(t, []any{"a", 2}, got["tags"])
			assert.Equal(t, map[string]any{"n": 3}, got["nested"])
			assert.Nil(t, got["closed"])
			opened, ok := got["opened"].(time.Time)
			require.True(t, ok)
			assert.True(t, opened.Equal(stamp))
		})
	}
}

func TestZstdCompressesRepetitivePayloads(t *testing.T) {
	plain, err := New(CompressionNone)
	require.NoError(t, err)
	compressed, err := Default()
	require.NoError(t, err)

	payload := map[string]any{"history": make([]string, 500)}
	raw, err := plain.Encode(payload)
	require.NoError(t, err)
	small, err := compressed.Encode(payload)
	require.NoError(t, err)
	assert.Less(t, len(small), len(raw))
	assert.Equal(t, CompressionZstd, compressed.Compression())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	_, err = c.DecodeMap([]byte("not zstd"))
	assert.Error(t, err)
}

func TestNewRejectsUnknownCompression(t *testing.T) {
	_, err := New("lz4")
	assert.Error(t, err)
}
