package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ledgerbackup/internal/backup"
	"github.com/yndnr/ledgerbackup/internal/cli/output"
	"github.com/yndnr/ledgerbackup/internal/config"
	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/infra/confloader"
	"github.com/yndnr/ledgerbackup/internal/storage"
	"github.com/yndnr/ledgerbackup/internal/telemetry/logger"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:        "ledger-backup",
		Usage:       "Back up and restore ledger state snapshots",
		HideVersion: true,
		Flags:       globalFlags(),
		Commands: []*cli.Command{
			ServeCommand(),
			LatestCommand(),
			BackupCommand(),
			RestoreCommand(),
			ManifestCommand(),
			VersionCommand(),
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			EnvVars: []string{confloader.DefaultEnvPrefix + "CONFIG"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   string(output.FormatTable),
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format: text, json",
		},
	}
}

// flagKeys maps command flag names to configuration keys.
type flagKeys map[string]string

var globalKeys = flagKeys{
	"log-level":  "log.level",
	"log-format": "log.format",
}

func addressFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "address",
		Aliases: []string{"a"},
		Usage:   "Backup service address (host:port or URL)",
	}
}

func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "storage-backend",
			Usage: "Backup storage backend: local, billy, memory",
		},
		&cli.StringFlag{
			Name:  "storage-dir",
			Usage: "Backup storage directory",
		},
	}
}

var storageKeys = flagKeys{
	"storage-backend": "storage.backend",
	"storage-dir":     "storage.dir",
}

func progressFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "progress",
		Usage: "Show chunk progress on stderr",
	}
}

// env is the loaded configuration of one command invocation.
type env struct {
	cfg    *config.Config
	loader *confloader.Loader
	log    logger.Logger
	format output.Format
}

// setup loads the configuration with the given flags applied on top and
// installs the configured logger.
func setup(c *cli.Context, keys ...flagKeys) (*env, error) {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]any)
	for _, ks := range append([]flagKeys{globalKeys}, keys...) {
		for flag, key := range ks {
			if c.IsSet(flag) {
				overrides[key] = c.Value(flag)
			}
		}
	}

	cfg, loader, err := config.Load(c.String("config"), overrides)
	if err != nil {
		return nil, err
	}
	cfg.Log.Output = c.App.ErrWriter
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	log.Debug("configuration loaded", "config", config.Sanitize(cfg))

	return &env{cfg: cfg, loader: loader, log: log, format: format}, nil
}

func (e *env) print(c *cli.Context, v any) error {
	return output.NewFormatter(e.format).Format(c.App.Writer, v)
}

func (e *env) client() (*backup.Client, error) {
	opts, err := e.cfg.Client.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, backup.WithClientLogger(e.log.Slog()))
	return backup.NewClient(e.cfg.Client.Address, opts...), nil
}

func (e *env) storage() (storage.BackupStorage, error) {
	return storage.Open(e.cfg.Storage, e.log.Slog())
}

// progress returns a progress bar on stderr when --progress is set.
func progress(c *cli.Context, title string) *output.ProgressBar {
	if !c.Bool("progress") {
		return nil
	}
	return output.NewProgressBar(c.App.ErrWriter, title)
}

// parseVersion parses a ledger version argument. "pre-genesis" selects
// the raw state without a committed version.
func parseVersion(s string) (domain.Version, error) {
	if strings.EqualFold(s, "pre-genesis") {
		return domain.PreGenesisVersion, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, domain.ErrInvalidArgument.WithDetailsf("invalid version %q", s)
	}
	if v > domain.MaxVersion {
		return 0, domain.ErrInvalidArgument.WithDetailsf("version %d out of range", v)
	}
	return v, nil
}
