// Package accumulator provides the hashing primitives and the Merkle
// accumulator that authenticate a ledger state snapshot.
//
// Leaves are appended in key order. The accumulator state after n leaves is a
// Frontier: the roots ("peaks") of the perfect subtrees selected by the set
// bits of n, largest first. Folding a run of leaves onto a frontier yields the
// next frontier, which is what lets a snapshot be verified chunk by chunk.
package accumulator

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the size of a HashValue in bytes.
const HashSize = blake2b.Size256

// Domain separation prefixes.
const (
	leafPrefix     byte = 0x00
	internalPrefix byte = 0x01
	frontierPrefix byte = 0x02
)

// ErrInvalidHashLength is returned when decoding a digest of the wrong size.
var ErrInvalidHashLength = errors.New("accumulator: invalid hash length")

// HashValue is a 256-bit digest.
type HashValue [HashSize]byte

// EmptyRootHash is the root hash of a state with no entries.
var EmptyRootHash = HashValue(blake2b.Sum256([]byte("LEDGER::EMPTY_STATE")))

// HashValueFromBytes copies b into a HashValue.
func HashValueFromBytes(b []byte) (HashValue, error) {
	var h HashValue
	if len(b) != HashSize {
		return h, fmt.Errorf("%w: %d", ErrInvalidHashLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ParseHashValue decodes a hex encoded digest.
func ParseHashValue(s string) (HashValue, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return HashValue{}, fmt.Errorf("accumulator: decode hash: %w", err)
	}
	return HashValueFromBytes(b)
}

// String returns the hex encoding of the digest.
func (h HashValue) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the digest as a slice.
func (h HashValue) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// IsZero reports whether h is the all-zero value.
func (h HashValue) IsZero() bool {
	return h == HashValue{}
}

// LeafHash returns the leaf digest of a state entry.
func LeafHash(key, value []byte) HashValue {
	d, _ := blake2b.New256(nil)
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(key)))

	d.Write([]byte{leafPrefix})
	d.Write(lenBuf[:n])
	d.Write(key)
	d.Write(value)

	var h HashValue
	d.Sum(h[:0])
	return h
}

func internalHash(left, right HashValue) HashValue {
	var buf [1 + 2*HashSize]byte
	buf[0] = internalPrefix
	copy(buf[1:], left[:])
	copy(buf[1+HashSize:], right[:])
	return blake2b.Sum256(buf[:])
}
