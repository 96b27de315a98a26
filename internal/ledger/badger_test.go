package ledger_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/ledger"
	"github.com/yndnr/ledgerbackup/internal/ledger/ledgertest"
	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

func put(k, v string) ledger.WriteOp {
	return ledger.WriteOp{Key: []byte(k), Value: []byte(v)}
}

func rootOf(entries ...domain.StateEntry) accumulator.HashValue {
	var b accumulator.Builder
	for _, e := range entries {
		b.Add(e.Key, e.Value)
	}
	return b.RootHash()
}

func entry(k, v string) domain.StateEntry {
	return domain.StateEntry{Key: []byte(k), Value: []byte(v)}
}

func TestDB_CommitAndRead(t *testing.T) {
	db := ledgertest.OpenInMemory(t)
	ctx := context.Background()

	root0, err := db.Commit(ctx, 0, []ledger.WriteOp{put("b", "2"), put("a", "1")})
	if err != nil {
		t.Fatal(err)
	}
	if want := rootOf(entry("a", "1"), entry("b", "2")); root0 != want {
		t.Errorf("root v0 = %s, want %s", root0, want)
	}

	root1, err := db.Commit(ctx, 1, []ledger.WriteOp{put("c", "3"), {Key: []byte("a"), Delete: true}})
	if err != nil {
		t.Fatal(err)
	}
	if want := rootOf(entry("b", "2"), entry("c", "3")); root1 != want {
		t.Errorf("root v1 = %s, want %s", root1, want)
	}

	t.Run("latest", func(t *testing.T) {
		v, root, err := db.GetLatestStateRoot(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if v != 1 || root != root1 {
			t.Errorf("latest = (%d, %s), want (1, %s)", v, root, root1)
		}
	})

	t.Run("snapshot at old version", func(t *testing.T) {
		got := ledgertest.Entries(t, db, 0)
		if len(got) != 2 || string(got[0].Key) != "a" || string(got[1].Key) != "b" {
			t.Errorf("snapshot v0 = %v", got)
		}
	})

	t.Run("snapshot range", func(t *testing.T) {
		var keys []string
		err := db.IterateStateSnapshot(ctx, 1, 1, 2, func(i uint64, e domain.StateEntry) error {
			if i != 1 {
				t.Errorf("index = %d, want 1", i)
			}
			keys = append(keys, string(e.Key))
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(keys) != 1 || keys[0] != "c" {
			t.Errorf("range keys = %v, want [c]", keys)
		}
	})

	t.Run("item count", func(t *testing.T) {
		n, err := db.GetStateItemCount(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("count = %d, want 2", n)
		}
	})

	t.Run("unknown version", func(t *testing.T) {
		_, err := db.GetStateItemCount(ctx, 9)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestDB_CommitRejectsGap(t *testing.T) {
	db := ledgertest.OpenInMemory(t)
	ctx := context.Background()

	if _, err := db.Commit(ctx, 0, []ledger.WriteOp{put("a", "1")}); err != nil {
		t.Fatal(err)
	}
	_, err := db.Commit(ctx, 2, []ledger.WriteOp{put("b", "1")})
	if !errors.Is(err, ledger.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
}

func TestDB_EmptyLatest(t *testing.T) {
	db := ledgertest.OpenInMemory(t)
	ctx := context.Background()

	if _, _, err := db.GetLatestStateRoot(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	ts, err := db.GetLatestTreeState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ts.Version != domain.PreGenesisVersion {
		t.Errorf("version = %d, want pre-genesis", ts.Version)
	}
	if ts.StateRootHash != accumulator.EmptyRootHash {
		t.Errorf("root = %s, want empty root", ts.StateRootHash)
	}
}

func TestDB_RangeProofMatchesPrefix(t *testing.T) {
	db := ledgertest.OpenInMemory(t)
	ctx := context.Background()
	version, root := ledgertest.CommitRandomBatches(t, db, 7, 10, 20)

	entries := ledgertest.Entries(t, db, version)
	var b accumulator.Builder
	for i := 0; i <= len(entries); i++ {
		proof, err := db.GetStateRangeProof(ctx, version, uint64(i))
		if err != nil {
			t.Fatalf("range proof %d: %v", i, err)
		}
		if !proof.Equal(b.Frontier()) {
			t.Fatalf("range proof %d differs from prefix frontier", i)
		}
		if i < len(entries) {
			b.Add(entries[i].Key, entries[i].Value)
		}
	}
	if b.RootHash() != root {
		t.Errorf("full prefix root = %s, want %s", b.RootHash(), root)
	}

	if _, err := db.GetStateRangeProof(ctx, version, uint64(len(entries)+1)); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument past the end, got %v", err)
	}
}

func TestDB_SnapshotIsKeyOrdered(t *testing.T) {
	db := ledgertest.OpenInMemory(t)
	version, _ := ledgertest.CommitRandomBatches(t, db, 11, 15, 30)

	entries := ledgertest.Entries(t, db, version)
	for i := 1; i < len(entries); i++ {
		if bytes.Compare(entries[i-1].Key, entries[i].Key) >= 0 {
			t.Fatalf("entries %d and %d out of order", i-1, i)
		}
	}
}

func TestDB_RestoreReceiver(t *testing.T) {
	ctx := context.Background()
	chunks := [][]domain.StateEntry{
		{entry("a", "1"), entry("b", "2")},
		{entry("c", "3")},
	}
	want := rootOf(entry("a", "1"), entry("b", "2"), entry("c", "3"))

	t.Run("pre-genesis", func(t *testing.T) {
		db := ledgertest.OpenInMemory(t)
		rcv, err := db.GetStateRestoreReceiver(ctx, domain.PreGenesisVersion)
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range chunks {
			if err := rcv.AddChunk(ctx, c); err != nil {
				t.Fatal(err)
			}
		}
		if err := rcv.Finish(ctx); err != nil {
			t.Fatal(err)
		}

		ts, err := db.GetLatestTreeState(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if ts.Version != domain.PreGenesisVersion || ts.StateRootHash != want || ts.NumItems != 3 {
			t.Errorf("tree state = %+v, want pre-genesis root %s", ts, want)
		}
		if _, _, err := db.GetLatestStateRoot(ctx); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("pre-genesis restore must not commit a version, got %v", err)
		}
	})

	t.Run("versioned", func(t *testing.T) {
		db := ledgertest.OpenInMemory(t)
		rcv, err := db.GetStateRestoreReceiver(ctx, 41)
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range chunks {
			if err := rcv.AddChunk(ctx, c); err != nil {
				t.Fatal(err)
			}
		}
		if err := rcv.Finish(ctx); err != nil {
			t.Fatal(err)
		}

		v, root, err := db.GetLatestStateRoot(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if v != 41 || root != want {
			t.Errorf("latest = (%d, %s), want (41, %s)", v, root, want)
		}

		// The restored version continues like any committed one.
		if _, err := db.Commit(ctx, 42, []ledger.WriteOp{put("d", "4")}); err != nil {
			t.Errorf("commit after restore: %v", err)
		}
	})

	t.Run("out of order chunk", func(t *testing.T) {
		db := ledgertest.OpenInMemory(t)
		rcv, err := db.GetStateRestoreReceiver(ctx, domain.PreGenesisVersion)
		if err != nil {
			t.Fatal(err)
		}
		defer rcv.Abort()
		if err := rcv.AddChunk(ctx, chunks[1]); err != nil {
			t.Fatal(err)
		}
		if err := rcv.AddChunk(ctx, chunks[0]); !errors.Is(err, ledger.ErrOutOfOrder) {
			t.Errorf("expected ErrOutOfOrder, got %v", err)
		}
	})

	t.Run("exclusive receiver", func(t *testing.T) {
		db := ledgertest.OpenInMemory(t)
		rcv, err := db.GetStateRestoreReceiver(ctx, domain.PreGenesisVersion)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := db.GetStateRestoreReceiver(ctx, domain.PreGenesisVersion); !errors.Is(err, ledger.ErrRestoreActive) {
			t.Errorf("expected ErrRestoreActive, got %v", err)
		}
		rcv.Abort()
		rcv2, err := db.GetStateRestoreReceiver(ctx, domain.PreGenesisVersion)
		if err != nil {
			t.Fatalf("receiver after abort: %v", err)
		}
		rcv2.Abort()
	})

	t.Run("target already versioned", func(t *testing.T) {
		db := ledgertest.OpenInMemory(t)
		if _, err := db.Commit(ctx, 0, []ledger.WriteOp{put("a", "1")}); err != nil {
			t.Fatal(err)
		}
		if _, err := db.GetStateRestoreReceiver(ctx, domain.PreGenesisVersion); !errors.Is(err, ledger.ErrVersionConflict) {
			t.Errorf("expected ErrVersionConflict, got %v", err)
		}
	})
}

func TestDB_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := ledger.Open(ledger.DefaultConfig(dir), ledgertest.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	root, err := db.Commit(ctx, 0, []ledger.WriteOp{put("k", "v")})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = ledger.Open(ledger.DefaultConfig(dir), ledgertest.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	v, got, err := db.GetLatestStateRoot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 || got != root {
		t.Errorf("after reopen latest = (%d, %s), want (0, %s)", v, got, root)
	}
}

func openWithInterval(t *testing.T, interval uint64) *ledger.DB {
	t.Helper()
	db, err := ledger.Open(ledger.Config{InMemory: true, CheckpointInterval: interval}, ledgertest.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func rangeOf(t *testing.T, db *ledger.DB, version domain.Version, start, end uint64) []domain.StateEntry {
	t.Helper()
	var got []domain.StateEntry
	err := db.IterateStateSnapshot(context.Background(), version, start, end, func(index uint64, e domain.StateEntry) error {
		if want := start + uint64(len(got)); index != want {
			t.Fatalf("range [%d, %d): index %d, want %d", start, end, index, want)
		}
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("range [%d, %d): %v", start, end, err)
	}
	return got
}

func TestDB_CheckpointedReads(t *testing.T) {
	ctx := context.Background()
	plain := ledgertest.OpenInMemory(t)
	latest, _ := ledgertest.CommitRandomBatches(t, plain, 13, 8, 25)

	tests := []struct {
		name     string
		interval uint64
	}{
		{"every entry", 1},
		{"every third", 3},
		{"every seventh", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openWithInterval(t, tt.interval)
			ledgertest.CommitRandomBatches(t, db, 13, 8, 25)

			for _, version := range []domain.Version{latest - 3, latest} {
				want := ledgertest.Entries(t, plain, version)
				n := uint64(len(want))

				var b accumulator.Builder
				for i := uint64(0); i <= n; i++ {
					proof, err := db.GetStateRangeProof(ctx, version, i)
					if err != nil {
						t.Fatalf("v%d proof %d: %v", version, i, err)
					}
					if !proof.Equal(b.Frontier()) {
						t.Fatalf("v%d proof %d differs from prefix frontier", version, i)
					}
					if i < n {
						b.Add(want[i].Key, want[i].Value)
					}

					end := min(i+5, n)
					got := rangeOf(t, db, version, i, end)
					if len(got) != int(end-i) {
						t.Fatalf("v%d range [%d, %d): %d entries", version, i, end, len(got))
					}
					for j, e := range got {
						if !bytes.Equal(e.Key, want[i+uint64(j)].Key) || !bytes.Equal(e.Value, want[i+uint64(j)].Value) {
							t.Fatalf("v%d range [%d, %d): entry %d differs", version, i, end, j)
						}
					}
				}
			}
		})
	}
}

func TestDB_RestoreWritesCheckpoints(t *testing.T) {
	ctx := context.Background()
	src := ledgertest.OpenInMemory(t)
	version, root := ledgertest.CommitRandomBatches(t, src, 17, 6, 20)
	entries := ledgertest.Entries(t, src, version)

	dst := openWithInterval(t, 2)
	rcv, err := dst.GetStateRestoreReceiver(ctx, version)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(entries); i += 4 {
		if err := rcv.AddChunk(ctx, entries[i:min(i+4, len(entries))]); err != nil {
			t.Fatal(err)
		}
	}
	if err := rcv.Finish(ctx); err != nil {
		t.Fatal(err)
	}

	var b accumulator.Builder
	for i := 0; i <= len(entries); i++ {
		proof, err := dst.GetStateRangeProof(ctx, version, uint64(i))
		if err != nil {
			t.Fatalf("proof %d: %v", i, err)
		}
		want, err := src.GetStateRangeProof(ctx, version, uint64(i))
		if err != nil {
			t.Fatalf("source proof %d: %v", i, err)
		}
		if !proof.Equal(want) || !proof.Equal(b.Frontier()) {
			t.Fatalf("proof %d differs after restore", i)
		}
		if i < len(entries) {
			b.Add(entries[i].Key, entries[i].Value)
		}
	}
	if b.RootHash() != root {
		t.Errorf("restored root = %s, want %s", b.RootHash(), root)
	}

	tail := rangeOf(t, dst, version, uint64(len(entries)/2), uint64(len(entries)))
	if len(tail) == 0 || !bytes.Equal(tail[0].Key, entries[len(entries)/2].Key) {
		t.Error("range from the middle does not start at the middle entry")
	}
}
