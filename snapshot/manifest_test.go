package snapshot

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mamstore/internal/compress"
)

func testManifest() *Manifest {
	return &Manifest{
		Name:      "nightly",
		CreatedAt: time.Date(2026, 10, 16, 3, 0, 0, 0, time.UTC),
		PageSize:  4096,
		PageCount: 300,
		Codec:     compress.ZSTD,
		Chunks: []ChunkInfo{
			{Name: "nightly/chunk-000000", FirstPage: 0, Pages: 256, Stored: 9000, CRC: 1},
			{Name: "nightly/chunk-000001", FirstPage: 256, Pages: 44, Stored: 700, CRC: 2},
		},
	}
}

func TestManifest_Binary(t *testing.T) {
	m := testManifest()
	data, err := m.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, "MAMX", string(data[:4]))

	var got Manifest
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, *m, got)
	assert.Equal(t, uint64(9700), got.StoredBytes())
	assert.Equal(t, uint64(300*4096), got.RawBytes())
}

func TestManifest_Corruption(t *testing.T) {
	good, err := testManifest().MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"short", func(b []byte) []byte { return b[:10] }},
		{"magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"version", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[4:], 9); return b }},
		{"checksum", func(b []byte) []byte { b[len(b)-1] ^= 1; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-3] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), good...))
			var m Manifest
			assert.ErrorIs(t, m.UnmarshalBinary(data), ErrCorrupt)
		})
	}
}

func TestManifest_ChunksMustTile(t *testing.T) {
	m := testManifest()
	m.Chunks[1].FirstPage = 250
	data, err := m.MarshalBinary()
	require.NoError(t, err)

	var got Manifest
	assert.ErrorIs(t, got.UnmarshalBinary(data), ErrCorrupt)

	m = testManifest()
	m.PageCount = 301
	data, err = m.MarshalBinary()
	require.NoError(t, err)
	assert.ErrorIs(t, got.UnmarshalBinary(data), ErrCorrupt)
}
