package snapshot

import (
	"bytes"
	"fmt"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

// VerifyChunk checks one chunk in isolation: keys strictly increase and
// folding the entries' leaves into left yields exactly right.
//
// Failures are reported as domain.ErrCorruption.
func VerifyChunk(left accumulator.Frontier, entries []domain.StateEntry, right accumulator.Frontier) error {
	if len(entries) == 0 {
		return domain.ErrCorruption.WithDetails("chunk has no entries")
	}
	if err := left.Validate(); err != nil {
		return domain.ErrCorruption.WithDetails("left proof").WithCause(err)
	}
	if err := right.Validate(); err != nil {
		return domain.ErrCorruption.WithDetails("right proof").WithCause(err)
	}
	if want := left.NumLeaves + uint64(len(entries)); right.NumLeaves != want {
		return domain.ErrCorruption.WithDetailsf("right proof covers %d leaves, want %d", right.NumLeaves, want)
	}

	f := left.Clone()
	for i, e := range entries {
		if len(e.Key) == 0 {
			return domain.ErrCorruption.WithDetailsf("entry %d has an empty key", left.NumLeaves+uint64(i))
		}
		if i > 0 && bytes.Compare(entries[i-1].Key, e.Key) >= 0 {
			return domain.ErrCorruption.WithDetailsf("entry %d out of key order", left.NumLeaves+uint64(i))
		}
		f.Append(accumulator.LeafHash(e.Key, e.Value))
	}
	if !f.Equal(right) {
		return domain.ErrCorruption.WithDetailsf("entries [%d, %d) do not fold to the right proof",
			left.NumLeaves, right.NumLeaves)
	}
	return nil
}

// Verifier checks a sequence of chunks against an expected root hash.
//
// Chunks must be presented in key order. The verifier keeps the running
// accumulator frontier, so each chunk's left proof must match the state
// left by the previous one. A Verifier is not safe for concurrent use.
type Verifier struct {
	expected accumulator.HashValue
	state    accumulator.Frontier
	lastKey  []byte
	chunks   int
	finished bool
}

// NewVerifier returns a verifier expecting the given final root hash.
func NewVerifier(expectedRoot accumulator.HashValue) *Verifier {
	return &Verifier{expected: expectedRoot}
}

// Add verifies a chunk against the running state and advances it.
func (v *Verifier) Add(left accumulator.Frontier, entries []domain.StateEntry, right accumulator.Frontier) error {
	if len(entries) == 0 {
		return fmt.Errorf("chunk %d: %w", v.chunks, domain.ErrCorruption.WithDetails("chunk has no entries"))
	}
	if err := v.checkLink(left, entries[0].Key); err != nil {
		return err
	}
	if err := VerifyChunk(left, entries, right); err != nil {
		return fmt.Errorf("chunk %d: %w", v.chunks, err)
	}
	v.advance(right, entries[len(entries)-1].Key)
	return nil
}

// AddChunk is Add for a decoded chunk.
func (v *Verifier) AddChunk(c *Chunk) error {
	return v.Add(c.Left, c.Entries, c.Right)
}

// AddProof advances the running state over a chunk whose entries were
// already checked with VerifyChunk. Only the proof chain and key bounds are
// checked.
func (v *Verifier) AddProof(left, right accumulator.Frontier, firstKey, lastKey []byte) error {
	if err := v.checkLink(left, firstKey); err != nil {
		return err
	}
	if bytes.Compare(firstKey, lastKey) > 0 {
		return fmt.Errorf("chunk %d: %w", v.chunks, domain.ErrCorruption.WithDetails("first key after last key"))
	}
	if err := right.Validate(); err != nil {
		return fmt.Errorf("chunk %d: %w", v.chunks, domain.ErrCorruption.WithDetails("right proof").WithCause(err))
	}
	if right.NumLeaves <= left.NumLeaves {
		return fmt.Errorf("chunk %d: %w", v.chunks, domain.ErrCorruption.WithDetails("right proof does not advance"))
	}
	v.advance(right, lastKey)
	return nil
}

func (v *Verifier) checkLink(left accumulator.Frontier, firstKey []byte) error {
	if v.finished {
		return domain.ErrInvalidArgument.WithDetails("verifier already finished")
	}
	if !left.Equal(v.state) {
		return fmt.Errorf("chunk %d: %w", v.chunks,
			domain.ErrCorruption.WithDetailsf("left proof at %d leaves does not match verified state at %d",
				left.NumLeaves, v.state.NumLeaves))
	}
	if v.lastKey != nil && bytes.Compare(v.lastKey, firstKey) >= 0 {
		return fmt.Errorf("chunk %d: %w", v.chunks,
			domain.ErrCorruption.WithDetails("first key not after previous chunk"))
	}
	return nil
}

func (v *Verifier) advance(right accumulator.Frontier, lastKey []byte) {
	v.state = right.Clone()
	v.lastKey = append(v.lastKey[:0], lastKey...)
	v.chunks++
}

// Frontier returns a copy of the verified state.
func (v *Verifier) Frontier() accumulator.Frontier {
	return v.state.Clone()
}

// NumLeaves returns how many entries have been verified.
func (v *Verifier) NumLeaves() uint64 {
	return v.state.NumLeaves
}

// Finish checks that the verified state hashes to the expected root.
// A mismatch is reported as domain.ErrVerification.
func (v *Verifier) Finish() error {
	v.finished = true
	if got := v.state.RootHash(); got != v.expected {
		return domain.ErrVerification.WithDetailsf("root after %d entries is %s, want %s",
			v.state.NumLeaves, got, v.expected)
	}
	return nil
}
