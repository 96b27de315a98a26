package accumulator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"golang.org/x/crypto/blake2b"
)

// ErrMalformedFrontier indicates a frontier whose peak count does not match
// its leaf count.
var ErrMalformedFrontier = errors.New("accumulator: malformed frontier")

// Frontier is the accumulator state after NumLeaves leaves.
type Frontier struct {
	NumLeaves uint64
	// Peaks are the subtree roots, largest subtree first.
	Peaks []HashValue
}

// Validate checks the structural invariant len(Peaks) == popcount(NumLeaves).
func (f Frontier) Validate() error {
	if want := bits.OnesCount64(f.NumLeaves); len(f.Peaks) != want {
		return fmt.Errorf("%w: %d leaves need %d peaks, got %d",
			ErrMalformedFrontier, f.NumLeaves, want, len(f.Peaks))
	}
	return nil
}

// Clone returns a deep copy.
func (f Frontier) Clone() Frontier {
	peaks := make([]HashValue, len(f.Peaks))
	copy(peaks, f.Peaks)
	return Frontier{NumLeaves: f.NumLeaves, Peaks: peaks}
}

// Append folds one leaf into the frontier.
func (f *Frontier) Append(leaf HashValue) {
	h := leaf
	for n := f.NumLeaves; n&1 == 1; n >>= 1 {
		last := len(f.Peaks) - 1
		h = internalHash(f.Peaks[last], h)
		f.Peaks = f.Peaks[:last]
	}
	f.Peaks = append(f.Peaks, h)
	f.NumLeaves++
}

// RootHash bags the peaks right to left.
func (f Frontier) RootHash() HashValue {
	if len(f.Peaks) == 0 {
		return EmptyRootHash
	}
	acc := f.Peaks[len(f.Peaks)-1]
	for i := len(f.Peaks) - 2; i >= 0; i-- {
		acc = internalHash(f.Peaks[i], acc)
	}
	return acc
}

// Digest commits to the whole frontier, leaf count included.
func (f Frontier) Digest() HashValue {
	d, _ := blake2b.New256(nil)
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], f.NumLeaves)

	d.Write([]byte{frontierPrefix})
	d.Write(lenBuf[:n])
	for _, p := range f.Peaks {
		d.Write(p[:])
	}

	var h HashValue
	d.Sum(h[:0])
	return h
}

// Equal reports whether both frontiers describe the same state.
func (f Frontier) Equal(o Frontier) bool {
	if f.NumLeaves != o.NumLeaves || len(f.Peaks) != len(o.Peaks) {
		return false
	}
	for i := range f.Peaks {
		if f.Peaks[i] != o.Peaks[i] {
			return false
		}
	}
	return true
}

// Builder accumulates leaves from scratch.
type Builder struct {
	f Frontier
}

// Add appends the leaf hash of (key, value).
func (b *Builder) Add(key, value []byte) {
	b.f.Append(LeafHash(key, value))
}

// AddLeaf appends an already computed leaf hash.
func (b *Builder) AddLeaf(leaf HashValue) {
	b.f.Append(leaf)
}

// Frontier returns a copy of the current state.
func (b *Builder) Frontier() Frontier {
	return b.f.Clone()
}

// RootHash returns the root of all leaves added so far.
func (b *Builder) RootHash() HashValue {
	return b.f.RootHash()
}
