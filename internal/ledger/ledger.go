// Package ledger provides the versioned, authenticated key-value store that
// backups are taken from and restored into.
//
// The backup subsystem only sees the store through DbReader (source side)
// and DbWriter (target side). DB is the Badger-backed implementation.
package ledger

import (
	"context"
	"errors"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

// Common errors
var (
	ErrClosed          = errors.New("ledger: db closed")
	ErrOutOfOrder      = errors.New("ledger: keys out of order")
	ErrRestoreActive   = errors.New("ledger: a restore is already in progress")
	ErrReceiverDone    = errors.New("ledger: restore receiver already finished")
	ErrVersionConflict = errors.New("ledger: version conflict")
)

// TreeState describes the authenticated state at a version.
type TreeState struct {
	// Version is PreGenesisVersion when no version has been committed.
	Version       domain.Version
	StateRootHash accumulator.HashValue
	NumItems      uint64
}

// WriteOp is one change of a committed batch.
type WriteOp struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// DbReader is the read side consumed by the backup service.
//
// Implementations must be safe for concurrent use.
type DbReader interface {
	// GetLatestStateRoot returns the most recently committed version and its
	// state root hash.
	GetLatestStateRoot(ctx context.Context) (domain.Version, accumulator.HashValue, error)

	// GetStateItemCount returns the number of entries in the snapshot at version.
	// Returns domain.ErrNotFound if version was never committed.
	GetStateItemCount(ctx context.Context, version domain.Version) (uint64, error)

	// IterateStateSnapshot calls fn for entries [start, end) of the snapshot
	// at version, in key order. Iteration stops at the first error.
	IterateStateSnapshot(ctx context.Context, version domain.Version, start, end uint64,
		fn func(index uint64, entry domain.StateEntry) error) error

	// GetStateRangeProof returns the accumulator frontier after the first
	// index entries of the snapshot at version.
	GetStateRangeProof(ctx context.Context, version domain.Version, index uint64) (accumulator.Frontier, error)
}

// StateRestoreReceiver loads a snapshot chunk by chunk.
//
// Chunks must arrive in key order: every key of a chunk must be strictly
// greater than every key of the previous chunk.
type StateRestoreReceiver interface {
	AddChunk(ctx context.Context, entries []domain.StateEntry) error

	// Finish binds the loaded state to the receiver's version. For
	// PreGenesisVersion the raw state is kept without a version record.
	Finish(ctx context.Context) error

	// Abort releases the receiver without finishing. Already applied chunks
	// are left in place.
	Abort()
}

// DbWriter is the write side consumed by the restore controller.
type DbWriter interface {
	GetStateRestoreReceiver(ctx context.Context, version domain.Version) (StateRestoreReceiver, error)

	// GetStateRootHash recomputes the root of the state visible at version.
	// PreGenesisVersion selects raw state loaded without a version commit.
	GetStateRootHash(ctx context.Context, version domain.Version) (accumulator.HashValue, error)

	GetLatestTreeState(ctx context.Context) (TreeState, error)
}
