package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
)

// GetStateRestoreReceiver implements DbWriter.
//
// Only one receiver may be active per DB. Restoring a version requires that
// no version at or above it is committed; restoring PreGenesisVersion
// requires an empty version history.
func (d *DB) GetStateRestoreReceiver(ctx context.Context, version domain.Version) (StateRestoreReceiver, error) {
	if version > domain.MaxVersion && version != domain.PreGenesisVersion {
		return nil, domain.ErrInvalidArgument.WithDetailsf("version %d out of range", version)
	}
	if !d.restoring.CompareAndSwap(false, true) {
		return nil, ErrRestoreActive
	}

	var latest domain.Version
	var hasLatest bool
	err := d.view(latestTs, func(txn *badger.Txn) error {
		var err error
		latest, hasLatest, err = getLatest(txn)
		return err
	})
	if err != nil {
		d.restoring.Store(false)
		return nil, fmt.Errorf("ledger: read latest version: %w", err)
	}
	if hasLatest && (version == domain.PreGenesisVersion || version <= latest) {
		d.restoring.Store(false)
		return nil, fmt.Errorf("%w: restore to %s with version %d committed",
			ErrVersionConflict, domain.FormatVersion(version), latest)
	}

	d.logger.Info("state restore receiver opened", "version", domain.FormatVersion(version))

	return &restoreReceiver{
		db:      d,
		version: version,
		ts:      readTs(version),
	}, nil
}

type restoreReceiver struct {
	db      *DB
	version domain.Version
	ts      uint64

	lastKey  []byte
	hasLast  bool
	numItems uint64
	done     bool
}

func (r *restoreReceiver) AddChunk(ctx context.Context, entries []domain.StateEntry) error {
	if r.done {
		return ErrReceiverDone
	}
	if r.db.closed.Load() {
		return ErrClosed
	}
	if len(entries) == 0 {
		return nil
	}

	prev, hasPrev := r.lastKey, r.hasLast
	for i, e := range entries {
		if len(e.Key) == 0 {
			return domain.ErrInvalidArgument.WithDetailsf("empty key at chunk offset %d", i)
		}
		if hasPrev && bytes.Compare(e.Key, prev) <= 0 {
			return fmt.Errorf("%w: key %x at chunk offset %d not after %x", ErrOutOfOrder, e.Key, i, prev)
		}
		prev, hasPrev = e.Key, true
	}

	wb := r.db.db.NewWriteBatchAt(r.ts)
	for _, e := range entries {
		if err := wb.Set(stateKey(e.Key), e.Value); err != nil {
			wb.Cancel()
			return fmt.Errorf("ledger: stage restored entry: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ledger: flush restored chunk: %w", err)
	}

	r.lastKey = append([]byte(nil), prev...)
	r.hasLast = true
	r.numItems += uint64(len(entries))
	return nil
}

func (r *restoreReceiver) Finish(ctx context.Context) error {
	if r.done {
		return ErrReceiverDone
	}
	defer r.release()

	if r.version == domain.PreGenesisVersion {
		r.db.logger.Info("state restore finished without version commit",
			"num_items", r.numItems)
		return nil
	}

	txn := r.db.db.NewTransactionAt(r.ts, true)
	defer txn.Discard()

	rec, cps, err := computeState(ctx, txn, r.db.checkpointInterval)
	if err != nil {
		return fmt.Errorf("ledger: compute restored root: %w", err)
	}
	if err := stageCheckpoints(txn, r.version, cps); err != nil {
		return err
	}

	var latestBuf [8]byte
	binary.BigEndian.PutUint64(latestBuf[:], r.version)
	if err := txn.Set(versionKey(r.version), rec.marshal()); err != nil {
		return fmt.Errorf("ledger: stage version record: %w", err)
	}
	if err := txn.Set(latestKey, latestBuf[:]); err != nil {
		return fmt.Errorf("ledger: stage latest version: %w", err)
	}
	if err := txn.CommitAt(r.ts, nil); err != nil {
		return fmt.Errorf("ledger: commit restored version %d: %w", r.version, err)
	}

	r.db.logger.Info("state restore finished",
		"version", r.version,
		"num_items", rec.numItems,
		"root_hash", rec.root.String())
	return nil
}

func (r *restoreReceiver) Abort() {
	if r.done {
		return
	}
	r.release()
	r.db.logger.Warn("state restore receiver aborted",
		"version", domain.FormatVersion(r.version),
		"applied_items", r.numItems)
}

func (r *restoreReceiver) release() {
	r.done = true
	r.db.restoring.Store(false)
}
