package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pixelport/cli/render"
	"github.com/pithecene-io/pixelport/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version string `json:"version"`
	// EventContract is the version of the event payload sent to adapters.
	EventContract string `json:"event_contract"`
	Commit        string `json:"commit"`
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		if err := rejectTUI(c, "version command"); err != nil {
			return err
		}
		return r.Render(VersionResponse{
			Version:       types.Version,
			EventContract: types.EventContractVersion,
			Commit:        commit,
		})
	}
}
