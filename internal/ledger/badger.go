package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

// Badger runs in managed mode: a ledger version v is committed at Badger
// timestamp v+2, and raw pre-genesis state is written at timestamp 1.
const (
	preGenesisTs uint64 = 1
	latestTs     uint64 = math.MaxUint64
)

// Key layout.
var (
	statePrefix      = []byte{'s'}
	latestKey        = []byte("m/latest")
	versionKeyPrefix = []byte("m/ver/")
)

// ctxCheckInterval is how many entries are iterated between context checks.
const ctxCheckInterval = 1024

func readTs(v domain.Version) uint64 {
	if v == domain.PreGenesisVersion {
		return preGenesisTs
	}
	return v + 2
}

func stateKey(key []byte) []byte {
	k := make([]byte, 0, len(statePrefix)+len(key))
	k = append(k, statePrefix...)
	return append(k, key...)
}

func versionKey(v domain.Version) []byte {
	k := make([]byte, len(versionKeyPrefix)+8)
	copy(k, versionKeyPrefix)
	binary.BigEndian.PutUint64(k[len(versionKeyPrefix):], v)
	return k
}

// versionRecord is stored at versionKey(v) when v is committed.
type versionRecord struct {
	root     accumulator.HashValue
	numItems uint64
}

func (r versionRecord) marshal() []byte {
	b := make([]byte, accumulator.HashSize+8)
	copy(b, r.root[:])
	binary.BigEndian.PutUint64(b[accumulator.HashSize:], r.numItems)
	return b
}

func unmarshalVersionRecord(b []byte) (versionRecord, error) {
	if len(b) != accumulator.HashSize+8 {
		return versionRecord{}, fmt.Errorf("ledger: malformed version record (%d bytes)", len(b))
	}
	var r versionRecord
	copy(r.root[:], b[:accumulator.HashSize])
	r.numItems = binary.BigEndian.Uint64(b[accumulator.HashSize:])
	return r, nil
}

// DB is a Badger-backed ledger store. It implements DbReader and DbWriter.
type DB struct {
	db     *badger.DB
	logger *slog.Logger

	checkpointInterval uint64

	commitMu  sync.Mutex
	restoring atomic.Bool
	closed    atomic.Bool
}

var (
	_ DbReader = (*DB)(nil)
	_ DbWriter = (*DB)(nil)
)

// Open opens (or creates) a ledger store.
func Open(cfg Config, logger *slog.Logger) (*DB, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, fmt.Errorf("ledger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}

	badgerCfg := cfg.Badger
	if badgerCfg.CacheSize > 0 {
		opts.BlockCacheSize = badgerCfg.CacheSize
	}
	if badgerCfg.ValueLogFileSize > 0 && !cfg.InMemory {
		opts.ValueLogFileSize = badgerCfg.ValueLogFileSize
	}
	if badgerCfg.NumMemtables > 0 {
		opts.NumMemtables = badgerCfg.NumMemtables
	}
	if badgerCfg.NumLevelZeroTables > 0 {
		opts.NumLevelZeroTables = badgerCfg.NumLevelZeroTables
	}
	if badgerCfg.NumLevelZeroTablesStall > 0 {
		opts.NumLevelZeroTablesStall = badgerCfg.NumLevelZeroTablesStall
	}
	opts.SyncWrites = badgerCfg.SyncWrites

	db, err := badger.OpenManaged(opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: open badger: %w", err)
	}

	interval := cfg.CheckpointInterval
	if interval == 0 {
		interval = DefaultCheckpointInterval
	}

	logger.Info("ledger db opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"checkpoint_interval", interval)

	return &DB{db: db, logger: logger, checkpointInterval: interval}, nil
}

// Close closes the underlying Badger database.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("ledger: close db: %w", err)
	}
	d.logger.Info("ledger db closed")
	return nil
}

func (d *DB) view(ts uint64, fn func(txn *badger.Txn) error) error {
	if d.closed.Load() {
		return ErrClosed
	}
	txn := d.db.NewTransactionAt(ts, false)
	defer txn.Discard()
	return fn(txn)
}

func getLatest(txn *badger.Txn) (domain.Version, bool, error) {
	item, err := txn.Get(latestKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	b, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	if len(b) != 8 {
		return 0, false, fmt.Errorf("ledger: malformed latest version record")
	}
	return binary.BigEndian.Uint64(b), true, nil
}

func getVersionRecord(txn *badger.Txn, v domain.Version) (versionRecord, error) {
	item, err := txn.Get(versionKey(v))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return versionRecord{}, domain.ErrNotFound.WithDetailsf("version %s", domain.FormatVersion(v))
	}
	if err != nil {
		return versionRecord{}, err
	}
	b, err := item.ValueCopy(nil)
	if err != nil {
		return versionRecord{}, err
	}
	return unmarshalVersionRecord(b)
}

// iterateState walks state entries visible to txn in key order, starting
// at from or at the first entry when from is nil.
func iterateState(ctx context.Context, txn *badger.Txn, prefetch bool, from []byte, fn func(key []byte, item *badger.Item) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = statePrefix
	opts.PrefetchValues = prefetch
	it := txn.NewIterator(opts)
	defer it.Close()

	if from == nil {
		it.Rewind()
	} else {
		it.Seek(stateKey(from))
	}
	n := 0
	for ; it.Valid(); it.Next() {
		n++
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		item := it.Item()
		more, err := fn(item.Key()[len(statePrefix):], item)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// computeState folds every entry visible to txn. With a non-zero interval
// it also returns a checkpoint at every multiple of interval that has an
// entry.
func computeState(ctx context.Context, txn *badger.Txn, interval uint64) (versionRecord, []checkpoint, error) {
	var b accumulator.Builder
	var count uint64
	var cps []checkpoint
	err := iterateState(ctx, txn, true, nil, func(key []byte, item *badger.Item) (bool, error) {
		if interval > 0 && count > 0 && count%interval == 0 {
			cps = append(cps, checkpoint{frontier: b.Frontier(), key: append([]byte(nil), key...)})
		}
		return true, item.Value(func(val []byte) error {
			b.Add(key, val)
			count++
			return nil
		})
	})
	if err != nil {
		return versionRecord{}, nil, err
	}
	return versionRecord{root: b.RootHash(), numItems: count}, cps, nil
}

// Commit applies ops as version and returns the new state root hash.
//
// Versions must be committed contiguously: the first commit may use any
// version, later commits must use latest+1.
func (d *DB) Commit(ctx context.Context, version domain.Version, ops []WriteOp) (accumulator.HashValue, error) {
	if version > domain.MaxVersion {
		return accumulator.HashValue{}, domain.ErrInvalidArgument.WithDetailsf("version %d out of range", version)
	}

	d.commitMu.Lock()
	defer d.commitMu.Unlock()

	if d.closed.Load() {
		return accumulator.HashValue{}, ErrClosed
	}
	if d.restoring.Load() {
		return accumulator.HashValue{}, ErrRestoreActive
	}

	var latest domain.Version
	var hasLatest bool
	if err := d.view(latestTs, func(txn *badger.Txn) error {
		var err error
		latest, hasLatest, err = getLatest(txn)
		return err
	}); err != nil {
		return accumulator.HashValue{}, fmt.Errorf("ledger: read latest version: %w", err)
	}
	if hasLatest && version != latest+1 {
		return accumulator.HashValue{}, fmt.Errorf("%w: commit %d after %d", ErrVersionConflict, version, latest)
	}

	ts := readTs(version)
	txn := d.db.NewTransactionAt(ts, true)
	defer txn.Discard()

	for _, op := range ops {
		if len(op.Key) == 0 {
			return accumulator.HashValue{}, domain.ErrInvalidArgument.WithDetails("empty key")
		}
		var err error
		if op.Delete {
			err = txn.Delete(stateKey(op.Key))
		} else {
			err = txn.Set(stateKey(op.Key), op.Value)
		}
		if err != nil {
			return accumulator.HashValue{}, fmt.Errorf("ledger: stage write: %w", err)
		}
	}

	// The iterator of an update txn sees its own pending writes.
	rec, cps, err := computeState(ctx, txn, d.checkpointInterval)
	if err != nil {
		return accumulator.HashValue{}, fmt.Errorf("ledger: compute state root: %w", err)
	}
	if err := stageCheckpoints(txn, version, cps); err != nil {
		return accumulator.HashValue{}, err
	}

	var latestBuf [8]byte
	binary.BigEndian.PutUint64(latestBuf[:], version)
	if err := txn.Set(versionKey(version), rec.marshal()); err != nil {
		return accumulator.HashValue{}, fmt.Errorf("ledger: stage version record: %w", err)
	}
	if err := txn.Set(latestKey, latestBuf[:]); err != nil {
		return accumulator.HashValue{}, fmt.Errorf("ledger: stage latest version: %w", err)
	}
	if err := txn.CommitAt(ts, nil); err != nil {
		return accumulator.HashValue{}, fmt.Errorf("ledger: commit version %d: %w", version, err)
	}

	d.logger.Debug("ledger version committed",
		"version", version,
		"writes", len(ops),
		"num_items", rec.numItems,
		"root_hash", rec.root.String())

	return rec.root, nil
}

// GetLatestStateRoot implements DbReader.
func (d *DB) GetLatestStateRoot(ctx context.Context) (domain.Version, accumulator.HashValue, error) {
	var version domain.Version
	var rec versionRecord
	err := d.view(latestTs, func(txn *badger.Txn) error {
		v, ok, err := getLatest(txn)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound.WithDetails("no committed version")
		}
		version = v
		rec, err = getVersionRecord(txn, v)
		return err
	})
	if err != nil {
		return 0, accumulator.HashValue{}, err
	}
	return version, rec.root, nil
}

// GetStateItemCount implements DbReader.
func (d *DB) GetStateItemCount(ctx context.Context, version domain.Version) (uint64, error) {
	var rec versionRecord
	err := d.view(latestTs, func(txn *badger.Txn) error {
		var err error
		rec, err = getVersionRecord(txn, version)
		return err
	})
	if err != nil {
		return 0, err
	}
	return rec.numItems, nil
}

// IterateStateSnapshot implements DbReader.
func (d *DB) IterateStateSnapshot(ctx context.Context, version domain.Version, start, end uint64,
	fn func(index uint64, entry domain.StateEntry) error) error {
	if start > end {
		return domain.ErrInvalidArgument.WithDetailsf("range [%d, %d)", start, end)
	}
	if _, err := d.GetStateItemCount(ctx, version); err != nil {
		return err
	}
	if start == end {
		return nil
	}

	return d.view(readTs(version), func(txn *badger.Txn) error {
		cp, err := findCheckpoint(txn, version, start)
		if err != nil {
			return fmt.Errorf("ledger: read checkpoint: %w", err)
		}
		index := cp.frontier.NumLeaves
		return iterateState(ctx, txn, false, cp.key, func(key []byte, item *badger.Item) (bool, error) {
			if index >= end {
				return false, nil
			}
			cur := index
			index++
			if cur < start {
				return true, nil
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return false, err
			}
			entry := domain.StateEntry{Key: append([]byte(nil), key...), Value: val}
			return true, fn(cur, entry)
		})
	})
}

// GetStateRangeProof implements DbReader.
func (d *DB) GetStateRangeProof(ctx context.Context, version domain.Version, index uint64) (accumulator.Frontier, error) {
	count, err := d.GetStateItemCount(ctx, version)
	if err != nil {
		return accumulator.Frontier{}, err
	}
	if index > count {
		return accumulator.Frontier{}, domain.ErrInvalidArgument.WithDetailsf("index %d beyond %d items", index, count)
	}

	if index == 0 {
		return accumulator.Frontier{}, nil
	}
	var f accumulator.Frontier
	err = d.view(readTs(version), func(txn *badger.Txn) error {
		cp, err := findCheckpoint(txn, version, index)
		if err != nil {
			return fmt.Errorf("ledger: read checkpoint: %w", err)
		}
		f = cp.frontier
		if f.NumLeaves == index {
			return nil
		}
		return iterateState(ctx, txn, true, cp.key, func(key []byte, item *badger.Item) (bool, error) {
			err := item.Value(func(val []byte) error {
				f.Append(accumulator.LeafHash(key, val))
				return nil
			})
			return f.NumLeaves < index, err
		})
	})
	if err != nil {
		return accumulator.Frontier{}, err
	}
	return f, nil
}

// GetStateRootHash implements DbWriter.
func (d *DB) GetStateRootHash(ctx context.Context, version domain.Version) (accumulator.HashValue, error) {
	var rec versionRecord
	err := d.view(readTs(version), func(txn *badger.Txn) error {
		var err error
		rec, _, err = computeState(ctx, txn, 0)
		return err
	})
	if err != nil {
		return accumulator.HashValue{}, err
	}
	return rec.root, nil
}

// GetLatestTreeState implements DbWriter.
func (d *DB) GetLatestTreeState(ctx context.Context) (TreeState, error) {
	var ts TreeState
	var found bool
	err := d.view(latestTs, func(txn *badger.Txn) error {
		v, ok, err := getLatest(txn)
		if err != nil || !ok {
			return err
		}
		rec, err := getVersionRecord(txn, v)
		if err != nil {
			return err
		}
		ts = TreeState{Version: v, StateRootHash: rec.root, NumItems: rec.numItems}
		found = true
		return nil
	})
	if err != nil {
		return TreeState{}, err
	}
	if found {
		return ts, nil
	}

	// Nothing committed yet: report raw pre-genesis state.
	var rec versionRecord
	err = d.view(preGenesisTs, func(txn *badger.Txn) error {
		var err error
		rec, _, err = computeState(ctx, txn, 0)
		return err
	})
	if err != nil {
		return TreeState{}, err
	}
	return TreeState{
		Version:       domain.PreGenesisVersion,
		StateRootHash: rec.root,
		NumItems:      rec.numItems,
	}, nil
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
