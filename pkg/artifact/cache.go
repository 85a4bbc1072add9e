package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// Cache is a content-addressed blob store. Blobs live under
// objects/ab/cdef... where the full lowercase hex SHA-256 of the
// uncompressed bytes is split after the first two characters.
type Cache struct {
	root string
}

// NewCache creates (or reopens) a cache rooted at dir.
func NewCache(dir string) (*Cache, error) {
	root := filepath.Join(dir, "objects")
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{root: root}, nil
}

// HashBytes returns the artifact ID for data: lowercase hex SHA-256.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *Cache) objectPath(id string) string {
	return filepath.Join(c.root, id[:2], id[2:])
}

// Put stores data and returns its content hash. Put is idempotent: a
// second writer of the same bytes lands on the same path. The write is
// atomic (temp file + rename) so readers never observe partial blobs.
func (c *Cache) Put(data []byte) (string, error) {
	id := HashBytes(data)
	path := c.objectPath(id)

	if _, err := os.Stat(path); err == nil {
		return id, nil // Already present; bytes are identical by construction
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	// Rename is the commit point. Losing the race to another writer is
	// fine: both wrote identical bytes.
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to commit object: %w", err)
	}
	return id, nil
}

// Get returns the stored bytes for id.
func (c *Cache) Get(id string) ([]byte, error) {
	if len(id) < 3 {
		return nil, errdefs.Newf(errdefs.KindValidationFailed, "invalid artifact id: %q", id)
	}
	data, err := os.ReadFile(c.objectPath(id))
	if os.IsNotExist(err) {
		return nil, errdefs.Newf(errdefs.KindNotFound, "artifact not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Contains reports whether a single artifact is cached.
func (c *Cache) Contains(id string) bool {
	if len(id) < 3 {
		return false
	}
	_, err := os.Stat(c.objectPath(id))
	return err == nil
}

// Has is the bulk membership query: it returns the subset of ids that
// are present.
func (c *Cache) Has(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = c.Contains(id)
	}
	return out
}

// Size returns the stored (uncompressed) size of an artifact.
func (c *Cache) Size(id string) (int64, error) {
	fi, err := os.Stat(c.objectPath(id))
	if os.IsNotExist(err) {
		return 0, errdefs.Newf(errdefs.KindNotFound, "artifact not found: %s", id)
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Chunk is one frame of a chunked artifact transfer. Seq starts at 0 and
// increases by one per chunk; Last marks the final frame. When
// Compression is gzip, Data carries compressed bytes and OriginalSize the
// uncompressed total.
type Chunk struct {
	ArtifactID   string
	Seq          uint32
	Data         []byte
	Last         bool
	Compression  types.Compression
	OriginalSize uint64
}

// ChunkStream emits the artifact as ordered chunks through fn, stopping
// on the first error fn returns. chunkSize is clamped to the allowed
// range. With gzip compression the blob is compressed once and the
// compressed stream chunked.
func (c *Cache) ChunkStream(id string, chunkSize int, comp types.Compression, fn func(Chunk) error) error {
	data, err := c.Get(id)
	if err != nil {
		return err
	}

	originalSize := uint64(len(data))
	payload := data
	if comp == types.CompressionGzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("failed to compress artifact %s: %w", id, err)
		}
		if err := zw.Close(); err != nil {
			return err
		}
		payload = buf.Bytes()
	}

	chunkSize = types.ClampChunkSize(chunkSize)
	var seq uint32
	for off := 0; ; off += chunkSize {
		end := off + chunkSize
		last := end >= len(payload)
		if last {
			end = len(payload)
		}
		chunk := Chunk{
			ArtifactID:   id,
			Seq:          seq,
			Data:         payload[off:end],
			Last:         last,
			Compression:  comp,
			OriginalSize: originalSize,
		}
		if err := fn(chunk); err != nil {
			return err
		}
		if last {
			return nil
		}
		seq++
	}
}

// Assembler reassembles a chunk stream into a verified artifact. Chunks
// must arrive in seq order starting at 0; the reassembled bytes must
// hash to the declared artifact ID.
type Assembler struct {
	id      string
	comp    types.Compression
	nextSeq uint32
	buf     bytes.Buffer
	done    bool
}

// NewAssembler starts reassembly for the given artifact ID.
func NewAssembler(id string) *Assembler {
	return &Assembler{id: id}
}

// Add consumes the next chunk. It returns true once the final chunk has
// been verified. Out-of-order sequence numbers, foreign artifact IDs and
// hash mismatches all fail with a corrupt-artifact error.
func (a *Assembler) Add(chunk Chunk) (bool, error) {
	if a.done {
		return true, errdefs.Newf(errdefs.KindCorruptArtifact, "artifact %s: chunk after final", a.id)
	}
	if chunk.ArtifactID != a.id {
		return false, errdefs.Newf(errdefs.KindCorruptArtifact, "artifact %s: chunk for %s", a.id, chunk.ArtifactID)
	}
	if chunk.Seq != a.nextSeq {
		return false, errdefs.Newf(errdefs.KindCorruptArtifact,
			"artifact %s: chunk seq %d, want %d", a.id, chunk.Seq, a.nextSeq)
	}
	a.nextSeq++
	a.comp = chunk.Compression
	a.buf.Write(chunk.Data)

	if !chunk.Last {
		return false, nil
	}
	a.done = true
	return true, nil
}

// Bytes returns the verified uncompressed content. It must only be
// called after Add reported completion.
func (a *Assembler) Bytes() ([]byte, error) {
	if !a.done {
		return nil, errdefs.Newf(errdefs.KindCorruptArtifact, "artifact %s: incomplete stream", a.id)
	}

	data := a.buf.Bytes()
	if a.comp == types.CompressionGzip {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindCorruptArtifact, "artifact "+a.id+": bad gzip stream", err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, errdefs.Wrap(errdefs.KindCorruptArtifact, "artifact "+a.id+": bad gzip stream", err)
		}
	}

	if got := HashBytes(data); got != a.id {
		return nil, errdefs.Newf(errdefs.KindCorruptArtifact,
			"artifact %s: reassembled hash %s", a.id, got)
	}
	return data, nil
}

// AssembleFromChunks is the inverse of ChunkStream: it consumes chunks,
// verifies ordering and content hash, stores the result and returns the
// artifact ID.
func (c *Cache) AssembleFromChunks(id string, chunks []Chunk) (string, error) {
	asm := NewAssembler(id)
	for _, chunk := range chunks {
		done, err := asm.Add(chunk)
		if err != nil {
			return "", err
		}
		if done {
			break
		}
	}
	data, err := asm.Bytes()
	if err != nil {
		return "", err
	}
	return c.Put(data)
}
