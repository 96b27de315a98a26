package config

import (
	"errors"
	"fmt"
	"net"
	"slices"

	"github.com/yndnr/ledgerbackup/internal/storage"
)

var (
	logLevels  = []string{"debug", "info", "warn", "warning", "error"}
	logFormats = []string{"json", "text"}
)

// Verify validates the configuration.
func Verify(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := verifyService(&cfg.Service); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if cfg.Client.Address == "" {
		return errors.New("client.address is required")
	}
	if err := cfg.Backup.Validate(); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if err := cfg.Restore.Validate(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if !cfg.Ledger.InMemory && cfg.Ledger.Dir == "" {
		return errors.New("ledger.dir is required")
	}
	if !slices.Contains(logLevels, cfg.Log.Level) {
		return fmt.Errorf("log.level %q is not one of %v", cfg.Log.Level, logLevels)
	}
	if !slices.Contains(logFormats, cfg.Log.Format) {
		return fmt.Errorf("log.format %q is not one of %v", cfg.Log.Format, logFormats)
	}
	return nil
}

func verifyService(cfg *ServiceSection) error {
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return fmt.Errorf("service.addr %q: %w", cfg.Addr, err)
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return errors.New("service.tls_cert_file and service.tls_key_file must be set together")
	}
	if cfg.RateLimit < 0 {
		return errors.New("service.rate_limit must not be negative")
	}
	if cfg.RPC.ProofCacheSize < 1 {
		return errors.New("service.rpc.proof_cache_size must be at least 1")
	}
	return nil
}

func verifyStorage(cfg *storage.Config) error {
	switch cfg.Backend {
	case storage.BackendLocal, storage.BackendBilly:
		if cfg.Dir == "" {
			return fmt.Errorf("storage.dir is required for the %s backend", cfg.Backend)
		}
	case storage.BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not one of local, billy, memory", cfg.Backend)
	}
	return nil
}
