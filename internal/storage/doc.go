// Package storage provides the artifact storage used by backup and restore.
//
// BackupStorage is the backend-neutral contract: artifacts are written once
// under a relative identifier and read back by the opaque handle returned
// when the write is published. Two backends ship with the module:
//
//   - LocalFS: a directory on the local filesystem (temp file, fsync,
//     no-clobber hard link)
//   - BillyFS: any go-billy filesystem; memfs serves tests and scratch runs
//
// Open selects a backend from configuration.
package storage
