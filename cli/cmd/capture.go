package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pixelport/capture"
	"github.com/pithecene-io/pixelport/cli/render"
	"github.com/pithecene-io/pixelport/types"
	"github.com/pithecene-io/pixelport/wire"
)

// CaptureCommand returns the capture command with subcommands.
func CaptureCommand() *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Build capture files",
		Subcommands: []*cli.Command{
			captureSynthCommand(),
		},
	}
}

func captureSynthCommand() *cli.Command {
	return &cli.Command{
		Name:      "synth",
		Usage:     "Chunk a payload file into a capture as a sender would",
		ArgsUsage: "<payload>",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:     "out",
				Aliases:  []string{"o"},
				Usage:    "Capture file to write",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "channel",
				Usage: "Destination channel: image or animation",
				Value: "image",
			},
			&cli.IntFlag{
				Name:  "mtu",
				Usage: "Transport MTU",
				Value: wire.DefaultMTU,
			},
			&cli.IntFlag{
				Name:  "chunk",
				Usage: "Image chunk size (0 = MTU-2)",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Spacing between writes",
				Value: 10 * time.Millisecond,
			},
			&cli.StringFlag{
				Name:  "device-id",
				Usage: "Device ID stored in the capture header",
			},
		),
		Action: captureSynthAction,
	}
}

func captureSynthAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("payload file required", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if err := rejectTUI(c, "capture commands"); err != nil {
		return err
	}
	ch, err := types.ParseChannel(c.String("channel"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	payload, err := os.ReadFile(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	mtu := c.Int("mtu")
	records, err := capture.Synthesize(ch, payload, capture.SynthOptions{
		MTU:            mtu,
		ImageChunkSize: c.Int("chunk"),
		Interval:       c.Duration("interval"),
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	capt := &capture.Capture{
		Header:  capture.NewHeader(mtu, c.String("device-id")),
		Records: records,
	}
	out := c.String("out")
	if err := capture.WriteFile(out, capt); err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	return r.Render(summarizeCapture(capt))
}
