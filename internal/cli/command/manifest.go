package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ledgerbackup/internal/restore"
	"github.com/yndnr/ledgerbackup/internal/storage"
)

// ManifestCommand returns the manifest subcommand group.
func ManifestCommand() *cli.Command {
	return &cli.Command{
		Name:  "manifest",
		Usage: "Inspect stored backups",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List the backups in storage",
				Flags:  storageFlags(),
				Action: manifestList,
			},
			{
				Name:      "show",
				Usage:     "Show one backup",
				ArgsUsage: "MANIFEST",
				Flags: append(storageFlags(), &cli.BoolFlag{
					Name:  "chunks",
					Usage: "Include the chunk list",
				}),
				Action: manifestShow,
			},
			{
				Name:      "verify",
				Usage:     "Check every chunk of a backup against its manifest",
				ArgsUsage: "MANIFEST",
				Flags:     append(storageFlags(), progressFlag()),
				Action:    manifestVerify,
			},
		},
	}
}

func manifestArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one MANIFEST argument")
	}
	return c.Args().First(), nil
}

func manifestList(c *cli.Context) error {
	e, err := setup(c, storageKeys)
	if err != nil {
		return err
	}
	store, err := e.storage()
	if err != nil {
		return err
	}

	handles, err := store.List(c.Context, storage.ManifestsDir+"/")
	if err != nil {
		return err
	}
	view := manifestListView{Manifests: []manifestView{}}
	for _, h := range handles {
		m, err := restore.ReadManifest(c.Context, store, h)
		if err != nil {
			e.log.Warn("skipping unreadable manifest", "manifest", h, "error", err)
			continue
		}
		view.Manifests = append(view.Manifests, newManifestView(h, m, false))
	}
	return e.print(c, view)
}

func manifestShow(c *cli.Context) error {
	handle, err := manifestArg(c)
	if err != nil {
		return err
	}
	e, err := setup(c, storageKeys)
	if err != nil {
		return err
	}
	store, err := e.storage()
	if err != nil {
		return err
	}
	m, err := restore.ReadManifest(c.Context, store, handle)
	if err != nil {
		return err
	}
	return e.print(c, newManifestView(handle, m, c.Bool("chunks")))
}

func manifestVerify(c *cli.Context) error {
	handle, err := manifestArg(c)
	if err != nil {
		return err
	}
	e, err := setup(c, storageKeys)
	if err != nil {
		return err
	}
	store, err := e.storage()
	if err != nil {
		return err
	}

	opts := []restore.Option{restore.WithLogger(e.log.Slog())}
	bar := progress(c, "verify")
	if bar != nil {
		opts = append(opts, restore.WithProgress(bar.Update))
	}
	m, err := restore.Verify(c.Context, store, handle, opts...)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}
	return e.print(c, newManifestView(handle, m, false))
}
