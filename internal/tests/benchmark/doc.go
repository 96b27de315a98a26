// Package benchmark holds performance benchmarks for the chunk codec, the
// state accumulator and full backup, restore and verify runs.
//
// Run with:
//
//	go test -bench=. -benchmem ./internal/tests/benchmark/
package benchmark
