// Package backup takes state snapshot backups from a backup service.
//
// Client is the raw, index-addressable view of one service. The
// StateSnapshotController splits a snapshot into chunks of at most
// max_chunk_size entries, fetches and verifies them concurrently, writes
// each chunk to backup storage and finally seals a manifest listing the
// chunks in key order.
//
//	handle, err := backup.RunBackup(ctx, backup.NewClient(addr), store, version, 500)
package backup
