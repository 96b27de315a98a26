package snapshot

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

// Magic bytes identify chunk files.
var chunkMagic = []byte("LBSCHUNK")

const (
	checksumSize = sha256.Size
	lenSize      = 4

	// chunkFormatVersion is stored in every chunk body.
	chunkFormatVersion = 1

	// MaxChunkDataSize bounds the encoded body of one chunk.
	MaxChunkDataSize = 1 << 30
)

// Field numbers of the chunk body.
const (
	fieldFormat     protowire.Number = 1
	fieldVersion    protowire.Number = 2
	fieldFirstIndex protowire.Number = 3
	fieldLeft       protowire.Number = 4
	fieldRight      protowire.Number = 5
	fieldEntry      protowire.Number = 6
)

// Field numbers of nested messages.
const (
	fieldNumLeaves protowire.Number = 1
	fieldPeak      protowire.Number = 2

	fieldKey   protowire.Number = 1
	fieldValue protowire.Number = 2
)

var (
	ErrInvalidMagic     = errors.New("snapshot: invalid magic bytes")
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
)

// Chunk is the decoded content of one chunk artifact.
type Chunk struct {
	// Version is the ledger version the chunk was taken at.
	Version domain.Version

	// FirstIndex is the snapshot index of Entries[0].
	FirstIndex uint64

	// Left is the accumulator frontier before Entries[0];
	// Right is the frontier after the last entry.
	Left  accumulator.Frontier
	Right accumulator.Frontier

	Entries []domain.StateEntry
}

// FirstKey returns the key of the first entry, or nil.
func (c *Chunk) FirstKey() []byte {
	if len(c.Entries) == 0 {
		return nil
	}
	return c.Entries[0].Key
}

// LastKey returns the key of the last entry, or nil.
func (c *Chunk) LastKey() []byte {
	if len(c.Entries) == 0 {
		return nil
	}
	return c.Entries[len(c.Entries)-1].Key
}

// WriteChunk writes c in chunk file format.
func WriteChunk(w io.Writer, c *Chunk) error {
	data := marshalChunk(c)
	if len(data) > MaxChunkDataSize {
		return domain.ErrInvalidArgument.WithDetailsf("chunk body of %d bytes exceeds limit", len(data))
	}

	hash := sha256.New()
	mw := io.MultiWriter(w, hash)

	if _, err := mw.Write(chunkMagic); err != nil {
		return fmt.Errorf("snapshot: write magic: %w", err)
	}
	var dataLen [lenSize]byte
	binary.BigEndian.PutUint32(dataLen[:], uint32(len(data)))
	if _, err := mw.Write(dataLen[:]); err != nil {
		return fmt.Errorf("snapshot: write data length: %w", err)
	}
	if _, err := mw.Write(data); err != nil {
		return fmt.Errorf("snapshot: write data: %w", err)
	}

	// Checksum trailer is not included in the hash.
	if _, err := w.Write(hash.Sum(nil)); err != nil {
		return fmt.Errorf("snapshot: write checksum: %w", err)
	}
	return nil
}

// ReadChunk reads and decodes one chunk file.
//
// Any structural damage is reported as domain.ErrCorruption. Read failures
// of the underlying reader are reported as domain.ErrStorage.
func ReadChunk(r io.Reader) (*Chunk, error) {
	br := bufio.NewReader(r)
	hash := sha256.New()
	tr := io.TeeReader(br, hash)

	magic := make([]byte, len(chunkMagic))
	if _, err := io.ReadFull(tr, magic); err != nil {
		return nil, readErr("magic", err)
	}
	if !bytes.Equal(magic, chunkMagic) {
		return nil, domain.ErrCorruption.WithCause(ErrInvalidMagic)
	}

	var dataLen [lenSize]byte
	if _, err := io.ReadFull(tr, dataLen[:]); err != nil {
		return nil, readErr("data length", err)
	}
	n := binary.BigEndian.Uint32(dataLen[:])
	if n > MaxChunkDataSize {
		return nil, domain.ErrCorruption.WithDetailsf("chunk body length %d exceeds limit", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(tr, data); err != nil {
		return nil, readErr("data", err)
	}

	want := hash.Sum(nil)
	got := make([]byte, checksumSize)
	if _, err := io.ReadFull(br, got); err != nil {
		return nil, readErr("checksum", err)
	}
	if !bytes.Equal(got, want) {
		return nil, domain.ErrCorruption.WithCause(ErrChecksumMismatch)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		if err != nil {
			return nil, readErr("trailer", err)
		}
		return nil, domain.ErrCorruption.WithDetails("trailing bytes after checksum")
	}

	c, err := unmarshalChunk(data)
	if err != nil {
		return nil, domain.ErrCorruption.WithCause(err)
	}
	return c, nil
}

func readErr(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.ErrCorruption.WithDetailsf("truncated chunk (%s)", what)
	}
	return domain.ErrStorage.Wrap(fmt.Errorf("snapshot: read %s: %w", what, err))
}

func marshalChunk(c *Chunk) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldFormat, protowire.VarintType)
	b = protowire.AppendVarint(b, chunkFormatVersion)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, c.Version)
	b = protowire.AppendTag(b, fieldFirstIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, c.FirstIndex)
	b = protowire.AppendTag(b, fieldLeft, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalFrontier(c.Left))
	b = protowire.AppendTag(b, fieldRight, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalFrontier(c.Right))
	for _, e := range c.Entries {
		b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalEntry(e))
	}
	return b
}

func marshalFrontier(f accumulator.Frontier) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldNumLeaves, protowire.VarintType)
	b = protowire.AppendVarint(b, f.NumLeaves)
	for _, p := range f.Peaks {
		b = protowire.AppendTag(b, fieldPeak, protowire.BytesType)
		b = protowire.AppendBytes(b, p[:])
	}
	return b
}

func marshalEntry(e domain.StateEntry) []byte {
	b := make([]byte, 0, len(e.Key)+len(e.Value)+2*binary.MaxVarintLen32)
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Key)
	b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Value)
	return b
}

// walkFields calls fn for each field of a wire-encoded message. For varint
// fields v holds the value; for bytes fields raw holds the payload.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		var v uint64
		var raw []byte
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("bad field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(num, typ, v, raw); err != nil {
			return err
		}
	}
	return nil
}

func expectType(num protowire.Number, got, want protowire.Type) error {
	if got != want {
		return fmt.Errorf("field %d has wire type %d, want %d", num, got, want)
	}
	return nil
}

func unmarshalChunk(data []byte) (*Chunk, error) {
	c := &Chunk{}
	var format uint64
	var seen [fieldEntry + 1]bool

	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fieldFormat:
			format = v
			seen[num] = true
			return expectType(num, typ, protowire.VarintType)
		case fieldVersion:
			c.Version = v
			seen[num] = true
			return expectType(num, typ, protowire.VarintType)
		case fieldFirstIndex:
			c.FirstIndex = v
			seen[num] = true
			return expectType(num, typ, protowire.VarintType)
		case fieldLeft, fieldRight:
			if err := expectType(num, typ, protowire.BytesType); err != nil {
				return err
			}
			f, err := unmarshalFrontier(raw)
			if err != nil {
				return err
			}
			if num == fieldLeft {
				c.Left = f
			} else {
				c.Right = f
			}
			seen[num] = true
		case fieldEntry:
			if err := expectType(num, typ, protowire.BytesType); err != nil {
				return err
			}
			e, err := unmarshalEntry(raw)
			if err != nil {
				return err
			}
			c.Entries = append(c.Entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, num := range []protowire.Number{fieldFormat, fieldVersion, fieldFirstIndex, fieldLeft, fieldRight} {
		if !seen[num] {
			return nil, fmt.Errorf("missing field %d", num)
		}
	}
	if format != chunkFormatVersion {
		return nil, fmt.Errorf("unsupported chunk format %d", format)
	}
	if c.Left.NumLeaves != c.FirstIndex {
		return nil, fmt.Errorf("left proof covers %d leaves, chunk starts at %d", c.Left.NumLeaves, c.FirstIndex)
	}
	return c, nil
}

func unmarshalFrontier(b []byte) (accumulator.Frontier, error) {
	var f accumulator.Frontier
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fieldNumLeaves:
			f.NumLeaves = v
			return expectType(num, typ, protowire.VarintType)
		case fieldPeak:
			if err := expectType(num, typ, protowire.BytesType); err != nil {
				return err
			}
			h, err := accumulator.HashValueFromBytes(raw)
			if err != nil {
				return err
			}
			f.Peaks = append(f.Peaks, h)
		}
		return nil
	})
	if err != nil {
		return accumulator.Frontier{}, err
	}
	if err := f.Validate(); err != nil {
		return accumulator.Frontier{}, err
	}
	return f, nil
}

func unmarshalEntry(b []byte) (domain.StateEntry, error) {
	var e domain.StateEntry
	var hasKey bool
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fieldKey:
			e.Key = append([]byte(nil), raw...)
			hasKey = true
			return expectType(num, typ, protowire.BytesType)
		case fieldValue:
			e.Value = append([]byte(nil), raw...)
			return expectType(num, typ, protowire.BytesType)
		}
		return nil
	})
	if err != nil {
		return domain.StateEntry{}, err
	}
	if !hasKey || len(e.Key) == 0 {
		return domain.StateEntry{}, fmt.Errorf("entry without key")
	}
	if e.Value == nil {
		e.Value = []byte{}
	}
	return e, nil
}
