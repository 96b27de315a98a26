// Package backupservice exposes a ledger.DbReader as the backup service.
//
// The service answers four Connect procedures defined in api/backup/v1:
// the latest state root, the snapshot item count at a version, a streamed
// key-ordered range of the snapshot, and the accumulator frontier after a
// given number of entries. Range proofs are cached per (version, index).
//
// Domain errors are translated to Connect codes so that clients can map
// them back: ErrNotFound becomes CodeNotFound, ErrInvalidArgument becomes
// CodeInvalidArgument, a closed ledger becomes CodeUnavailable.
package backupservice
