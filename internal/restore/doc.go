// Package restore rebuilds a ledger from a state snapshot backup.
//
// The StateSnapshotController reads a manifest, downloads its chunks ahead
// of application and replays them strictly in manifest order through one
// restore receiver of the target ledger. Every chunk is checked against the
// running accumulator before it is applied, and the target's recomputed
// root must equal the manifest root before the restore is reported done.
//
// A failed restore leaves the target partially populated. Start again from
// an empty target.
package restore
