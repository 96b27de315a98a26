// Package confloader loads configuration with koanf.
//
// Sources, highest priority first:
//
//  1. Command-line flags (LoadMap)
//  2. Environment variables (LEDGERBACKUP_ prefix)
//  3. The YAML configuration file
//  4. Defaults already present in the target struct
//
// Environment keys nest with a double underscore so that single
// underscores stay inside key names:
//
//	LEDGERBACKUP_BACKUP__MAX_CHUNK_SIZE=500  ->  backup.max_chunk_size
//
// Watcher reports changes of the configuration file so long-running
// commands can pick up a new log level without a restart.
package confloader
