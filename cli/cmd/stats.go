package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pixelport/cli/render"
	"github.com/pithecene-io/pixelport/cli/tui"
)

// StatsCommand returns the stats command: the metric snapshot of a replay.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Replay a capture and show the collected metrics",
		ArgsUsage: "<capture>",
		Flags: append(append(ReadOnlyFlags(), DeviceFlags()...),
			&cli.BoolFlag{
				Name:  "no-drain",
				Usage: "Do not advance past the timeout after the last record",
			},
		),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	report, err := runReplay(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStats, report.Metrics)
	}
	return r.Render(report.Metrics)
}
