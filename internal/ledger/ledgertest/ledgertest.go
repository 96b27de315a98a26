// Package ledgertest provides helpers for tests that need a populated ledger.
package ledgertest

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/ledger"
	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenInMemory opens an empty in-memory ledger closed at test cleanup.
func OpenInMemory(t testing.TB) *ledger.DB {
	t.Helper()
	db, err := ledger.Open(ledger.Config{InMemory: true}, DiscardLogger())
	if err != nil {
		t.Fatalf("open in-memory ledger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// OpenDir opens an empty on-disk ledger under a test temp dir.
func OpenDir(t testing.TB) *ledger.DB {
	t.Helper()
	db, err := ledger.Open(ledger.DefaultConfig(t.TempDir()), DiscardLogger())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// RandomBatches generates numBatches write sets. Keys are drawn from a
// bounded pool so later batches overwrite and delete earlier keys.
func RandomBatches(seed int64, numBatches, maxWrites int) [][]ledger.WriteOp {
	r := rand.New(rand.NewSource(seed))
	pool := make([][]byte, 0, numBatches*maxWrites)

	randBytes := func(min, max int) []byte {
		b := make([]byte, min+r.Intn(max-min+1))
		r.Read(b)
		return b
	}

	batches := make([][]ledger.WriteOp, 0, numBatches)
	for i := 0; i < numBatches; i++ {
		n := 1 + r.Intn(maxWrites)
		ops := make([]ledger.WriteOp, 0, n)
		for j := 0; j < n; j++ {
			switch {
			case len(pool) > 0 && r.Intn(10) == 0:
				ops = append(ops, ledger.WriteOp{Key: pool[r.Intn(len(pool))], Delete: true})
			case len(pool) > 0 && r.Intn(4) == 0:
				ops = append(ops, ledger.WriteOp{Key: pool[r.Intn(len(pool))], Value: randBytes(0, 64)})
			default:
				key := randBytes(1, 32)
				pool = append(pool, key)
				ops = append(ops, ledger.WriteOp{Key: key, Value: randBytes(0, 64)})
			}
		}
		batches = append(batches, ops)
	}
	return batches
}

// CommitRandomBatches commits RandomBatches starting at version 0 and
// returns the latest version and its root hash.
func CommitRandomBatches(t testing.TB, db *ledger.DB, seed int64, numBatches, maxWrites int) (domain.Version, accumulator.HashValue) {
	t.Helper()
	ctx := context.Background()

	var version domain.Version
	var root accumulator.HashValue
	for i, ops := range RandomBatches(seed, numBatches, maxWrites) {
		var err error
		version = domain.Version(i)
		root, err = db.Commit(ctx, version, ops)
		if err != nil {
			t.Fatalf("commit version %d: %v", version, err)
		}
	}
	return version, root
}

// Entries returns the whole snapshot at version.
func Entries(t testing.TB, db ledger.DbReader, version domain.Version) []domain.StateEntry {
	t.Helper()
	ctx := context.Background()

	count, err := db.GetStateItemCount(ctx, version)
	if err != nil {
		t.Fatalf("item count: %v", err)
	}
	out := make([]domain.StateEntry, 0, count)
	err = db.IterateStateSnapshot(ctx, version, 0, count, func(_ uint64, e domain.StateEntry) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		t.Fatalf("iterate snapshot: %v", err)
	}
	return out
}
