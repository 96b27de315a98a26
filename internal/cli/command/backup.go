package command

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ledgerbackup/internal/backup"
	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/restore"
)

var clientKeys = flagKeys{
	"address": "client.address",
}

// LatestCommand returns the latest command.
func LatestCommand() *cli.Command {
	return &cli.Command{
		Name:   "latest",
		Usage:  "Show the latest committed version of a backup service",
		Flags:  []cli.Flag{addressFlag()},
		Action: latest,
	}
}

func latest(c *cli.Context) error {
	e, err := setup(c, clientKeys)
	if err != nil {
		return err
	}
	client, err := e.client()
	if err != nil {
		return err
	}
	version, root, err := client.GetLatestStateRoot(c.Context)
	if err != nil {
		return err
	}
	return e.print(c, latestView{Version: version, RootHash: root.String()})
}

var backupKeys = flagKeys{
	"max-chunk-size": "backup.max_chunk_size",
	"concurrency":    "backup.concurrency",
}

// BackupCommand returns the backup subcommand group.
func BackupCommand() *cli.Command {
	flags := []cli.Flag{
		addressFlag(),
		&cli.StringFlag{
			Name:  "state-version",
			Usage: "Version to back up (default: latest committed)",
		},
		&cli.Uint64Flag{
			Name:  "max-chunk-size",
			Usage: "Maximum entries per chunk",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Chunks fetched and stored at once",
		},
		progressFlag(),
	}
	return &cli.Command{
		Name:  "backup",
		Usage: "Create backups",
		Subcommands: []*cli.Command{
			{
				Name:   "state-snapshot",
				Usage:  "Back up the state snapshot at one version",
				Flags:  append(flags, storageFlags()...),
				Action: backupStateSnapshot,
			},
		},
	}
}

func backupStateSnapshot(c *cli.Context) error {
	e, err := setup(c, clientKeys, backupKeys, storageKeys)
	if err != nil {
		return err
	}
	client, err := e.client()
	if err != nil {
		return err
	}
	store, err := e.storage()
	if err != nil {
		return err
	}
	ctx := c.Context

	var version domain.Version
	if s := c.String("state-version"); s != "" {
		if version, err = parseVersion(s); err != nil {
			return err
		}
		if version == domain.PreGenesisVersion {
			return domain.ErrInvalidArgument.WithDetails("cannot back up the pre-genesis state")
		}
	} else {
		if version, _, err = client.GetLatestStateRoot(ctx); err != nil {
			return fmt.Errorf("latest version: %w", err)
		}
	}

	opts := []backup.Option{backup.WithLogger(e.log.Slog())}
	bar := progress(c, "backup")
	if bar != nil {
		opts = append(opts, backup.WithProgress(bar.Update))
	}

	start := time.Now()
	ctrl := backup.NewStateSnapshotController(backup.StateSnapshotOpt{Version: version}, e.cfg.Backup, client, store, opts...)
	handle, err := ctrl.Run(ctx)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	m, err := restore.ReadManifest(ctx, store, handle)
	if err != nil {
		return fmt.Errorf("read sealed manifest: %w", err)
	}
	view := newManifestView(handle, m, false)
	view.Duration = time.Since(start).Round(time.Millisecond).String()
	return e.print(c, view)
}
