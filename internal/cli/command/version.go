package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/ledgerbackup/internal/cli/output"
	"github.com/yndnr/ledgerbackup/internal/infra/buildinfo"
)

// VersionCommand returns the version command. It needs no configuration.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information",
		Action: func(c *cli.Context) error {
			format, err := output.ParseFormat(c.String("output"))
			if err != nil {
				return err
			}
			return output.NewFormatter(format).Format(c.App.Writer, versionView{buildinfo.Get()})
		},
	}
}
