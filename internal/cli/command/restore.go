package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ledgerbackup/internal/ledger"
	"github.com/yndnr/ledgerbackup/internal/restore"
)

var restoreKeys = flagKeys{
	"ledger-dir": "ledger.dir",
	"prefetch":   "restore.prefetch",
}

// RestoreCommand returns the restore subcommand group.
func RestoreCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "manifest",
			Aliases:  []string{"m"},
			Usage:    "Manifest handle of the backup",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "target-version",
			Usage: "Version to restore as, or pre-genesis (default: the backup's version)",
		},
		&cli.StringFlag{
			Name:  "ledger-dir",
			Usage: "Target ledger directory",
		},
		&cli.IntFlag{
			Name:  "prefetch",
			Usage: "Chunks read ahead of the one being applied",
		},
		progressFlag(),
	}
	return &cli.Command{
		Name:  "restore",
		Usage: "Restore backups",
		Subcommands: []*cli.Command{
			{
				Name:   "state-snapshot",
				Usage:  "Restore a state snapshot backup into a ledger",
				Flags:  append(flags, storageFlags()...),
				Action: restoreStateSnapshot,
			},
		},
	}
}

func restoreStateSnapshot(c *cli.Context) (err error) {
	e, err := setup(c, restoreKeys, storageKeys)
	if err != nil {
		return err
	}
	store, err := e.storage()
	if err != nil {
		return err
	}
	ctx := c.Context
	handle := c.String("manifest")

	m, err := restore.ReadManifest(ctx, store, handle)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	target := m.Version
	if s := c.String("target-version"); s != "" {
		if target, err = parseVersion(s); err != nil {
			return err
		}
	}

	db, err := ledger.Open(e.cfg.Ledger, e.log.Slog())
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()

	opts := []restore.Option{restore.WithLogger(e.log.Slog())}
	bar := progress(c, "restore")
	if bar != nil {
		opts = append(opts, restore.WithProgress(bar.Update))
	}

	start := time.Now()
	opt := restore.StateSnapshotOpt{ManifestHandle: handle, Version: target}
	err = restore.NewStateSnapshotController(opt, e.cfg.Restore, store, db, opts...).Run(ctx)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}
	return e.print(c, newRestoreView(handle, target, m, time.Since(start)))
}

