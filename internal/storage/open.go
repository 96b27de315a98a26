package storage

import (
	"log/slog"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
)

// Supported backends.
const (
	BackendLocal  = "local"
	BackendBilly  = "billy"
	BackendMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is one of "local", "billy" or "memory".
	Backend string `koanf:"backend"`

	// Dir is the root directory for the local and billy backends.
	Dir string `koanf:"dir"`
}

// Open returns the backend described by cfg.
func Open(cfg Config, log *slog.Logger) (BackupStorage, error) {
	switch cfg.Backend {
	case BackendLocal, "":
		return NewLocalFS(cfg.Dir, log)
	case BackendBilly:
		if cfg.Dir == "" {
			return nil, domain.ErrInvalidArgument.WithDetails("storage dir is required")
		}
		return NewBillyFS(osfs.New(cfg.Dir, osfs.WithBoundOS()), log), nil
	case BackendMemory:
		return NewMemory(log), nil
	default:
		return nil, domain.ErrInvalidArgument.WithDetailsf("unknown storage backend %q", cfg.Backend)
	}
}
