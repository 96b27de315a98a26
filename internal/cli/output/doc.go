// Package output renders command results for ledger-backup.
//
//   - formatter.go: Formatter interface and format parsing
//   - table.go: aligned text tables
//   - json.go, yaml.go: machine-readable output
//   - progress.go: chunk progress on a terminal line
package output
