package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

// ManifestFormat identifies the manifest layout.
const ManifestFormat = "ledger-state-snapshot/v1"

// maxManifestSize bounds how much of a manifest artifact is read.
const maxManifestSize = 256 << 20

// ChunkRef describes one chunk of a backup.
type ChunkRef struct {
	Handle     string
	FirstKey   []byte
	LastKey    []byte
	FirstIndex uint64
	EntryCount uint64

	// ProofDigest is the digest of the chunk's right frontier.
	ProofDigest accumulator.HashValue
}

// Manifest is the sealed description of a complete backup.
type Manifest struct {
	Version      domain.Version
	RootHash     accumulator.HashValue
	MaxChunkSize uint64
	ItemCount    uint64
	Chunks       []ChunkRef
}

// manifestJSON is the canonical on-storage layout. Field order is fixed by
// the struct; digests are hex, keys are base64.
type manifestJSON struct {
	Format       string         `json:"format"`
	Version      *uint64        `json:"version"`
	RootHash     string         `json:"root_hash"`
	MaxChunkSize *uint64        `json:"max_chunk_size"`
	ItemCount    *uint64        `json:"item_count"`
	Chunks       []chunkRefJSON `json:"chunks"`
}

type chunkRefJSON struct {
	Handle      string  `json:"handle"`
	FirstKey    []byte  `json:"first_key"`
	LastKey     []byte  `json:"last_key"`
	FirstIndex  *uint64 `json:"first_index"`
	EntryCount  *uint64 `json:"entry_count"`
	ProofDigest string  `json:"proof_digest"`
}

// EncodeManifest returns the canonical encoding of m.
func EncodeManifest(m *Manifest) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	out := manifestJSON{
		Format:       ManifestFormat,
		Version:      ptr(m.Version),
		RootHash:     m.RootHash.String(),
		MaxChunkSize: ptr(m.MaxChunkSize),
		ItemCount:    ptr(m.ItemCount),
		Chunks:       make([]chunkRefJSON, 0, len(m.Chunks)),
	}
	for _, c := range m.Chunks {
		out.Chunks = append(out.Chunks, chunkRefJSON{
			Handle:      c.Handle,
			FirstKey:    c.FirstKey,
			LastKey:     c.LastKey,
			FirstIndex:  ptr(c.FirstIndex),
			EntryCount:  ptr(c.EntryCount),
			ProofDigest: c.ProofDigest.String(),
		})
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal manifest: %w", err)
	}
	return append(b, '\n'), nil
}

// WriteManifest writes the canonical encoding of m to w.
func WriteManifest(w io.Writer, m *Manifest) error {
	b, err := EncodeManifest(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("snapshot: write manifest: %w", err)
	}
	return nil
}

// DecodeManifest parses and validates a manifest.
// Any malformed or inconsistent content is reported as domain.ErrCorruption.
func DecodeManifest(b []byte) (*Manifest, error) {
	var in manifestJSON
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, domain.ErrCorruption.WithDetails("manifest is not valid JSON").WithCause(err)
	}

	if in.Format != ManifestFormat {
		return nil, corrupt("unsupported format %q", in.Format)
	}
	switch {
	case in.Version == nil:
		return nil, corrupt("missing version")
	case in.RootHash == "":
		return nil, corrupt("missing root_hash")
	case in.MaxChunkSize == nil:
		return nil, corrupt("missing max_chunk_size")
	case in.ItemCount == nil:
		return nil, corrupt("missing item_count")
	case in.Chunks == nil:
		return nil, corrupt("missing chunks")
	}

	root, err := accumulator.ParseHashValue(in.RootHash)
	if err != nil {
		return nil, corrupt("root_hash: %v", err)
	}

	m := &Manifest{
		Version:      *in.Version,
		RootHash:     root,
		MaxChunkSize: *in.MaxChunkSize,
		ItemCount:    *in.ItemCount,
		Chunks:       make([]ChunkRef, 0, len(in.Chunks)),
	}
	for i, c := range in.Chunks {
		if c.FirstIndex == nil || c.EntryCount == nil {
			return nil, corrupt("chunk %d: missing index or count", i)
		}
		digest, err := accumulator.ParseHashValue(c.ProofDigest)
		if err != nil {
			return nil, corrupt("chunk %d: proof_digest: %v", i, err)
		}
		m.Chunks = append(m.Chunks, ChunkRef{
			Handle:      c.Handle,
			FirstKey:    c.FirstKey,
			LastKey:     c.LastKey,
			FirstIndex:  *c.FirstIndex,
			EntryCount:  *c.EntryCount,
			ProofDigest: digest,
		})
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadManifest reads and decodes a manifest artifact.
func ReadManifest(r io.Reader) (*Manifest, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxManifestSize+1))
	if err != nil {
		return nil, domain.ErrStorage.Wrap(fmt.Errorf("snapshot: read manifest: %w", err))
	}
	if len(b) > maxManifestSize {
		return nil, corrupt("manifest exceeds %d bytes", maxManifestSize)
	}
	return DecodeManifest(b)
}

// Validate checks the internal consistency of m: chunks are contiguous,
// key ordered and sized within MaxChunkSize, and cover exactly ItemCount
// entries.
func (m *Manifest) Validate() error {
	if m.MaxChunkSize == 0 {
		return corrupt("max_chunk_size is zero")
	}
	if m.ItemCount > 0 && len(m.Chunks) == 0 {
		return corrupt("no chunks for %d items", m.ItemCount)
	}
	if m.ItemCount == 0 && m.RootHash != accumulator.EmptyRootHash {
		return corrupt("empty snapshot with non-empty root %s", m.RootHash)
	}

	var next uint64
	var prevLast []byte
	for i, c := range m.Chunks {
		switch {
		case c.Handle == "":
			return corrupt("chunk %d: missing handle", i)
		case c.EntryCount == 0:
			return corrupt("chunk %d: no entries", i)
		case c.EntryCount > m.MaxChunkSize:
			return corrupt("chunk %d: %d entries exceed max_chunk_size %d", i, c.EntryCount, m.MaxChunkSize)
		case c.FirstIndex != next:
			return corrupt("chunk %d: starts at %d, want %d", i, c.FirstIndex, next)
		case len(c.FirstKey) == 0 || len(c.LastKey) == 0:
			return corrupt("chunk %d: missing key bounds", i)
		case domain.CompareKeys(c.FirstKey, c.LastKey) > 0:
			return corrupt("chunk %d: first key after last key", i)
		case c.EntryCount == 1 && !bytes.Equal(c.FirstKey, c.LastKey):
			return corrupt("chunk %d: single entry with distinct key bounds", i)
		case prevLast != nil && domain.CompareKeys(prevLast, c.FirstKey) >= 0:
			return corrupt("chunk %d: overlaps previous chunk", i)
		}
		next += c.EntryCount
		prevLast = c.LastKey
	}
	if next != m.ItemCount {
		return corrupt("chunks cover %d entries, item_count is %d", next, m.ItemCount)
	}
	return nil
}

func corrupt(format string, args ...any) error {
	return domain.ErrCorruption.WithDetailsf("manifest: "+format, args...)
}

func ptr[T any](v T) *T {
	return &v
}
