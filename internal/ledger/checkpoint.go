package ledger

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

// checkpointKeyPrefix is followed by the big-endian version and entry index.
var checkpointKeyPrefix = []byte("m/ckpt/")

// checkpoint records the accumulator frontier after the first
// frontier.NumLeaves entries of a version, and the key of the entry at
// that index.
type checkpoint struct {
	frontier accumulator.Frontier
	key      []byte
}

func checkpointPrefix(v domain.Version) []byte {
	k := make([]byte, len(checkpointKeyPrefix)+8)
	copy(k, checkpointKeyPrefix)
	binary.BigEndian.PutUint64(k[len(checkpointKeyPrefix):], v)
	return k
}

func checkpointKey(v domain.Version, index uint64) []byte {
	k := checkpointPrefix(v)
	return binary.BigEndian.AppendUint64(k, index)
}

// marshal lays out NumLeaves, the peaks and then the key. The peak count
// follows from NumLeaves.
func (c checkpoint) marshal() []byte {
	b := make([]byte, 0, 8+len(c.frontier.Peaks)*accumulator.HashSize+len(c.key))
	b = binary.BigEndian.AppendUint64(b, c.frontier.NumLeaves)
	for _, p := range c.frontier.Peaks {
		b = append(b, p[:]...)
	}
	return append(b, c.key...)
}

func unmarshalCheckpoint(b []byte) (checkpoint, error) {
	if len(b) < 8 {
		return checkpoint{}, fmt.Errorf("ledger: malformed checkpoint (%d bytes)", len(b))
	}
	n := binary.BigEndian.Uint64(b)
	peaks := bits.OnesCount64(n)
	rest := b[8:]
	if len(rest) <= peaks*accumulator.HashSize {
		return checkpoint{}, fmt.Errorf("ledger: malformed checkpoint at %d leaves", n)
	}
	c := checkpoint{frontier: accumulator.Frontier{NumLeaves: n, Peaks: make([]accumulator.HashValue, peaks)}}
	for i := range c.frontier.Peaks {
		copy(c.frontier.Peaks[i][:], rest[i*accumulator.HashSize:])
	}
	c.key = append([]byte(nil), rest[peaks*accumulator.HashSize:]...)
	return c, nil
}

func stageCheckpoints(txn *badger.Txn, v domain.Version, cps []checkpoint) error {
	for _, c := range cps {
		if err := txn.Set(checkpointKey(v, c.frontier.NumLeaves), c.marshal()); err != nil {
			return fmt.Errorf("ledger: stage checkpoint: %w", err)
		}
	}
	return nil
}

// findCheckpoint returns the last checkpoint of v at or before index. With
// none stored it returns the empty frontier and a nil key, meaning the walk
// starts at the first entry.
func findCheckpoint(txn *badger.Txn, v domain.Version, index uint64) (checkpoint, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = checkpointPrefix(v)
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(checkpointKey(v, index))
	if !it.Valid() {
		return checkpoint{}, nil
	}
	b, err := it.Item().ValueCopy(nil)
	if err != nil {
		return checkpoint{}, err
	}
	return unmarshalCheckpoint(b)
}
