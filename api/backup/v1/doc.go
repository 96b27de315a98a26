// Package backupv1 defines the wire contract of the ledger backup service.
//
// The service is served with Connect over HTTP/1.1. Messages are plain Go
// structs carried by the JSON codec in this package; clients and handlers
// must both install it with connect.WithCodec(Codec{}).
//
//	/ledger.backup.v1.BackupService/GetLatestStateRoot     unary
//	/ledger.backup.v1.BackupService/GetStateItemCount      unary
//	/ledger.backup.v1.BackupService/GetStateSnapshotRange  server stream
//	/ledger.backup.v1.BackupService/GetStateRangeProof     unary
package backupv1
