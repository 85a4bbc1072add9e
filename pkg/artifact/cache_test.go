package artifact

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	return cache
}

func randomBlob(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func TestPutGetRoundTrip(t *testing.T) {
	cache := newTestCache(t)

	data := []byte("hello artifacts")
	id, err := cache.Put(data)
	require.NoError(t, err)
	assert.Len(t, id, 64)
	assert.Equal(t, HashBytes(data), id)

	got, err := cache.Get(id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestPutIsIdempotent(t *testing.T) {
	cache := newTestCache(t)

	data := []byte("same bytes")
	id1, err := cache.Put(data)
	require.NoError(t, err)
	id2, err := cache.Put(data)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestGetMissing(t *testing.T) {
	cache := newTestCache(t)

	_, err := cache.Get(HashBytes([]byte("never stored")))
	assert.True(t, errdefs.IsNotFound(err))
}

func TestHasBulk(t *testing.T) {
	cache := newTestCache(t)

	a, err := cache.Put([]byte("a"))
	require.NoError(t, err)
	b := HashBytes([]byte("b"))

	present := cache.Has([]string{a, b})
	assert.True(t, present[a])
	assert.False(t, present[b])
}

func TestChunkStreamAssembleRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		size int
		comp types.Compression
	}{
		{"small uncompressed", 100, types.CompressionNone},
		{"multi chunk uncompressed", 5000, types.CompressionNone},
		{"small gzip", 100, types.CompressionGzip},
		{"multi chunk gzip", 300_000, types.CompressionGzip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newTestCache(t)
			dst := newTestCache(t)

			data := randomBlob(t, tt.size)
			id, err := src.Put(data)
			require.NoError(t, err)

			var chunks []Chunk
			err = src.ChunkStream(id, 1024, tt.comp, func(c Chunk) error {
				chunks = append(chunks, c)
				return nil
			})
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			// Seq is monotonic from 0, exactly one final chunk.
			for i, c := range chunks {
				assert.Equal(t, uint32(i), c.Seq)
				assert.Equal(t, uint64(tt.size), c.OriginalSize)
				assert.Equal(t, i == len(chunks)-1, c.Last)
			}

			gotID, err := dst.AssembleFromChunks(id, chunks)
			require.NoError(t, err)
			assert.Equal(t, id, gotID)

			got, err := dst.Get(id)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, got))
		})
	}
}

func TestAssembleDetectsFlippedByte(t *testing.T) {
	src := newTestCache(t)
	dst := newTestCache(t)

	data := randomBlob(t, 8192)
	id, err := src.Put(data)
	require.NoError(t, err)

	var chunks []Chunk
	require.NoError(t, src.ChunkStream(id, 1024, types.CompressionNone, func(c Chunk) error {
		copied := make([]byte, len(c.Data))
		copy(copied, c.Data)
		c.Data = copied
		chunks = append(chunks, c)
		return nil
	}))
	require.Greater(t, len(chunks), 2)

	chunks[2].Data[0] ^= 0xff

	_, err = dst.AssembleFromChunks(id, chunks)
	assert.True(t, errdefs.IsCorruptArtifact(err))
}

func TestAssembleDetectsSeqGap(t *testing.T) {
	asm := NewAssembler("whatever")
	_, err := asm.Add(Chunk{ArtifactID: "whatever", Seq: 1})
	assert.True(t, errdefs.IsCorruptArtifact(err))
}

func TestAssembleDetectsForeignArtifact(t *testing.T) {
	asm := NewAssembler("expected")
	_, err := asm.Add(Chunk{ArtifactID: "other", Seq: 0})
	assert.True(t, errdefs.IsCorruptArtifact(err))
}

func TestChunkSizeClamping(t *testing.T) {
	assert.Equal(t, types.DefaultArtifactChunkBytes, types.ClampChunkSize(0))
	assert.Equal(t, types.MinArtifactChunkBytes, types.ClampChunkSize(10))
	assert.Equal(t, types.MaxArtifactChunkBytes, types.ClampChunkSize(1<<30))
	assert.Equal(t, 2048, types.ClampChunkSize(2048))
}
