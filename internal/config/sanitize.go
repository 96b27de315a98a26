package config

import "github.com/yndnr/ledgerbackup/internal/telemetry/logger"

// Sanitize returns a copy of the config safe to log.
func Sanitize(cfg *Config) *Config {
	sanitized := *cfg
	sanitized.Client.Address = logger.RedactString(cfg.Client.Address)
	sanitized.Service.AllowList = append([]string(nil), cfg.Service.AllowList...)
	return &sanitized
}
