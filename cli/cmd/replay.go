package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pixelport/capture"
	"github.com/pithecene-io/pixelport/cli/render"
	"github.com/pithecene-io/pixelport/cli/tui"
	"github.com/pithecene-io/pixelport/log"
	"github.com/pithecene-io/pixelport/metrics"
	"github.com/pithecene-io/pixelport/runtime"
)

// ReplayCommand returns the replay command.
// Exit codes follow runtime.DetermineOutcome; unreadable input exits 3.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Replay a capture through a fresh device and report the outcome",
		ArgsUsage: "<capture>",
		Flags: append(append(ReadOnlyFlags(), DeviceFlags()...),
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write the JSON report to a file (- for stderr)",
			},
			&cli.StringFlag{
				Name:  "frame",
				Usage: "Write the panel's final frame as PNG",
			},
			&cli.BoolFlag{
				Name:  "no-drain",
				Usage: "Do not advance past the timeout after the last record",
			},
			&cli.BoolFlag{
				Name:  "archive",
				Usage: "Save rendered artifacts to the configured archive",
			},
		),
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	report, err := runReplay(c)
	if err != nil {
		return err
	}
	if path := c.String("report"); path != "" {
		if err := runtime.WriteReport(report, path); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if c.Bool("tui") {
		if err := r.RenderTUI(tui.ViewReplay, report); err != nil {
			return err
		}
	} else if err := r.Render(report); err != nil {
		return err
	}
	return cli.Exit("", report.ExitCode)
}

// runReplay loads the capture named by the first argument and replays it.
func runReplay(c *cli.Context) (*runtime.ReplayReport, error) {
	if c.NArg() != 1 {
		return nil, cli.Exit("expected exactly one capture file", runtime.ExitCodeInvalidInput)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), runtime.ExitCodeInvalidInput)
	}
	devCfg, err := deviceConfig(cfg)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), runtime.ExitCodeInvalidInput)
	}
	// Replays use a private spool directory.
	devCfg.SpoolDir = ""

	capt, err := capture.ReadFile(c.Args().First())
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("read capture: %v", err), runtime.ExitCodeInvalidInput)
	}

	logger := log.NewNop()
	if c.IsSet("log-level") {
		if logger, err = newLogger(cfg); err != nil {
			return nil, cli.Exit(err.Error(), runtime.ExitCodeInvalidInput)
		}
	}
	collector := metrics.NewCollector(cfg.DeviceID, storageBackend(cfg), "replay")

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	archiver, err := buildArchiver(ctx, cfg, c.Bool("archive"), logger, collector)
	if err != nil {
		return nil, err
	}
	if archiver != nil {
		defer func() { _ = archiver.Close() }()
	}

	opts := runtime.ReplayOptions{
		Device:   devCfg,
		NoDrain:  c.Bool("no-drain"),
		Archiver: archiver,
		Logger:   logger,
		Metrics:  collector,
	}
	if path := c.String("frame"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create frame: %w", err)
		}
		defer func() { _ = f.Close() }()
		opts.Frame = f
	}
	return runtime.Replay(ctx, capt, opts)
}
