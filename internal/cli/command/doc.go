// Package command defines the ledger-backup commands on urfave/cli/v2.
//
//   - root.go: application, global flags and per-command setup
//   - serve.go: backup service over a ledger directory
//   - backup.go: latest and backup state-snapshot
//   - restore.go: restore state-snapshot
//   - manifest.go: list, show and verify stored backups
//   - version.go: build information
//
// Every command loads the configuration the same way: defaults, then the
// --config file, then LEDGERBACKUP_ environment variables, then the flags
// the command was given.
package command
