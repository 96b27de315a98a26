package config

import (
	"fmt"

	"github.com/yndnr/ledgerbackup/internal/infra/confloader"
)

// Load builds the configuration from defaults, the optional YAML file at
// path, the environment and flags, then verifies it.
func Load(path string, flags map[string]any) (*Config, *confloader.Loader, error) {
	l := confloader.NewLoader(
		confloader.WithConfigFile(path),
		confloader.WithFlags(flags),
	)
	cfg := Default()
	if err := l.Load(cfg); err != nil {
		return nil, nil, err
	}
	if err := Verify(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, l, nil
}

// Reload reloads all sources of l into a fresh default config.
func Reload(l *confloader.Loader) (*Config, error) {
	cfg := Default()
	if err := l.Reload(cfg); err != nil {
		return nil, err
	}
	if err := Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
