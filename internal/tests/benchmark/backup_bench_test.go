package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/yndnr/ledgerbackup/internal/backup"
	"github.com/yndnr/ledgerbackup/internal/ledger/ledgertest"
	"github.com/yndnr/ledgerbackup/internal/restore"
	"github.com/yndnr/ledgerbackup/internal/server/backupservice/servicetest"
	"github.com/yndnr/ledgerbackup/internal/storage"
)

// chunkSizes defines the maximum chunk sizes for backup benchmarks.
var chunkSizes = []uint64{100, 1000}

// BenchmarkBackupStateSnapshot benchmarks a full backup over the backup
// service into in-memory storage.
func BenchmarkBackupStateSnapshot(b *testing.B) {
	db := ledgertest.OpenInMemory(b)
	version, _ := ledgertest.CommitRandomBatches(b, db, 7, 50, 100)
	url, _ := servicetest.Start(b, db)
	client := backup.NewClient(url)

	for _, size := range chunkSizes {
		b.Run(fmt.Sprintf("chunk_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				store := storage.NewMemory(ledgertest.DiscardLogger())
				if _, err := backup.RunBackup(context.Background(), client, store, version, size,
					backup.WithLogger(ledgertest.DiscardLogger())); err != nil {
					b.Fatalf("RunBackup: %v", err)
				}
			}
		})
	}
}

// BenchmarkRestoreStateSnapshot benchmarks restoring a stored backup into
// an empty ledger.
func BenchmarkRestoreStateSnapshot(b *testing.B) {
	ctx := context.Background()
	db := ledgertest.OpenInMemory(b)
	version, _ := ledgertest.CommitRandomBatches(b, db, 8, 50, 100)
	url, _ := servicetest.Start(b, db)

	store := storage.NewMemory(ledgertest.DiscardLogger())
	handle, err := backup.RunBackup(ctx, backup.NewClient(url), store, version, 500,
		backup.WithLogger(ledgertest.DiscardLogger()))
	if err != nil {
		b.Fatalf("RunBackup: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		target := ledgertest.OpenInMemory(b)
		b.StartTimer()

		if err := restore.RunRestore(ctx, store, target, handle, version,
			restore.WithLogger(ledgertest.DiscardLogger())); err != nil {
			b.Fatalf("RunRestore: %v", err)
		}
	}
	b.StopTimer()
	reportMemory(b, "mem")
}

// BenchmarkVerifyBackup benchmarks offline verification of a stored backup.
func BenchmarkVerifyBackup(b *testing.B) {
	ctx := context.Background()
	db := ledgertest.OpenInMemory(b)
	version, _ := ledgertest.CommitRandomBatches(b, db, 9, 50, 100)
	url, _ := servicetest.Start(b, db)

	store := storage.NewMemory(ledgertest.DiscardLogger())
	handle, err := backup.RunBackup(ctx, backup.NewClient(url), store, version, 500,
		backup.WithLogger(ledgertest.DiscardLogger()))
	if err != nil {
		b.Fatalf("RunBackup: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := restore.Verify(ctx, store, handle, restore.WithLogger(ledgertest.DiscardLogger())); err != nil {
			b.Fatalf("Verify: %v", err)
		}
	}
}
