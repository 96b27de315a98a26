// Package domain defines the core domain models for the ledger backup tool.
//
// Domain models are pure value objects without any IO dependencies.
// This package contains:
//
//   - Version: ledger version numbers and the pre-genesis sentinel
//   - StateEntry: one key/value pair of a state snapshot
//   - Errors: the backup/restore error taxonomy
package domain
