package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pixelport/types"
)

// NewApp returns the pixelport command tree.
func NewApp(commit string) *cli.App {
	return &cli.App{
		Name:    "pixelport",
		Usage:   "Chunked-transfer host for pixel-matrix displays",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Commands: []*cli.Command{
			ServeCommand(),
			ReplayCommand(),
			StatsCommand(),
			InspectCommand(),
			CaptureCommand(),
			GalleryCommand(),
			DebugCommand(),
			VersionCommand(commit),
		},
	}
}
