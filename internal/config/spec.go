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

// Config is the root configuration.
type Config struct {
	Service ServiceSection      `koanf:"service"`
	Ledger  ledger.Config       `koanf:"ledger"`
	Storage storage.Config      `koanf:"storage"`
	Client  backup.ClientConfig `koanf:"client"`
	Backup  backup.GlobalOpt    `koanf:"backup"`
	Restore restore.GlobalOpt   `koanf:"restore"`
	Log     logger.Config       `koanf:"log"`
	Metrics MetricsSection      `koanf:"metrics"`
}

// ServiceSection configures the backup service endpoint.
type ServiceSection struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	// AllowList restricts clients to these IPs or CIDRs. Empty allows all.
	AllowList []string `koanf:"allow_list"`

	// RateLimit is the per-client request rate. Zero disables limiting.
	RateLimit int `koanf:"rate_limit"`

	AccessLog bool `koanf:"access_log"`

	// ShutdownTimeout bounds draining of in-flight streams.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	RPC backupservice.Config `koanf:"rpc"`
}

// MetricsSection configures the Prometheus endpoint of serve.
type MetricsSection struct {
	Enabled bool `koanf:"enabled"`
}
