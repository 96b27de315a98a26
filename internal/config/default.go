package config

import (
	"time"

	"github.com/yndnr/ledgerbackup/internal/backup"
	"github.com/yndnr/ledgerbackup/internal/ledger"
	"github.com/yndnr/ledgerbackup/internal/restore"
	"github.com/yndnr/ledgerbackup/internal/server/backupservice"
	"github.com/yndnr/ledgerbackup/internal/storage"
	"github.com/yndnr/ledgerbackup/internal/telemetry/logger"
)

// Default configuration values.
const (
	DefaultServiceAddr     = "127.0.0.1:6186"
	DefaultRateLimit       = 1000
	DefaultShutdownTimeout = 30 * time.Second

	DefaultLedgerDir  = "/var/lib/ledger-backup/ledger"
	DefaultStorageDir = "/var/lib/ledger-backup/backups"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Default returns the default configuration.
func Default() *Config {
	log := logger.DefaultConfig()
	log.Level = DefaultLogLevel
	log.Format = DefaultLogFormat

	client := backup.DefaultClientConfig()
	client.Address = DefaultServiceAddr

	return &Config{
		Service: ServiceSection{
			Addr:            DefaultServiceAddr,
			RateLimit:       DefaultRateLimit,
			AccessLog:       true,
			ShutdownTimeout: DefaultShutdownTimeout,
			RPC:             backupservice.DefaultConfig(),
		},
		Ledger:  ledger.DefaultConfig(DefaultLedgerDir),
		Storage: storage.Config{
			Backend: storage.BackendLocal,
			Dir:     DefaultStorageDir,
		},
		Client:  client,
		Backup:  backup.DefaultGlobalOpt(),
		Restore: restore.DefaultGlobalOpt(),
		Log:     log,
		Metrics: MetricsSection{Enabled: true},
	}
}
