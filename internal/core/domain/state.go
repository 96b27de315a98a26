package domain

import (
	"bytes"
	"math"
	"strconv"
)

// Version identifies a committed ledger state.
type Version = uint64

// PreGenesisVersion denotes "no prior committed version". Restoring to it
// loads raw state without binding it to a version.
const PreGenesisVersion Version = math.MaxUint64

// MaxVersion is the largest version that can be committed.
const MaxVersion Version = math.MaxUint64 - 2

// FormatVersion renders a version for logs and identifiers.
func FormatVersion(v Version) string {
	if v == PreGenesisVersion {
		return "pre-genesis"
	}
	return strconv.FormatUint(v, 10)
}

// StateEntry is one key/value pair of a state snapshot.
type StateEntry struct {
	Key   []byte
	Value []byte
}

// Clone returns a deep copy of the entry.
func (e StateEntry) Clone() StateEntry {
	return StateEntry{
		Key:   bytes.Clone(e.Key),
		Value: bytes.Clone(e.Value),
	}
}

// CompareKeys orders keys the way the ledger encodes them.
func CompareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
