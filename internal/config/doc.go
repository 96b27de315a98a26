// Package config defines the ledger-backup configuration.
//
// One Config covers every command: serve reads the Service, Ledger and
// Metrics sections, backup reads Client, Storage and Backup, restore
// reads Storage, Restore and Ledger. Values come from Default, then the
// YAML file, environment and flags through confloader.
package config
