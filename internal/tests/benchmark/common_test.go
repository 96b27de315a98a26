package benchmark

import (
	"fmt"
	"math/rand"
	"runtime"
	"testing"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

// EntryCounts defines the state sizes for benchmarking.
var EntryCounts = []int{1000, 10000, 100000}

// SmallEntryCounts for quick benchmarks.
var SmallEntryCounts = []int{100, 1000, 5000}

// makeEntries returns count sorted state entries with 32-byte keys and
// 64-byte values.
func makeEntries(seed int64, count int) []domain.StateEntry {
	rng := rand.New(rand.NewSource(seed))
	entries := make([]domain.StateEntry, count)
	for i := range entries {
		key := make([]byte, 32)
		copy(key, fmt.Sprintf("%016x", i))
		rng.Read(key[16:])
		value := make([]byte, 64)
		rng.Read(value)
		entries[i] = domain.StateEntry{Key: key, Value: value}
	}
	return entries
}

// frontierOf returns the accumulator frontier after entries.
func frontierOf(entries []domain.StateEntry) accumulator.Frontier {
	var b accumulator.Builder
	for _, e := range entries {
		b.Add(e.Key, e.Value)
	}
	return b.Frontier()
}

// reportMemory reports memory usage.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithEntryCounts runs a benchmark function with various state sizes.
func runWithEntryCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("entries_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
