package cmd

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pixelport/capture"
	"github.com/pithecene-io/pixelport/cli/render"
	"github.com/pithecene-io/pixelport/cli/tui"
	"github.com/pithecene-io/pixelport/dispatch"
	"github.com/pithecene-io/pixelport/storage"
	"github.com/pithecene-io/pixelport/types"
)

// InspectCommand returns the inspect command with subcommands.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect an artifact or a capture file",
		Subcommands: []*cli.Command{
			inspectArtifactCommand(),
			inspectCaptureCommand(),
		},
	}
}

func inspectArtifactCommand() *cli.Command {
	return &cli.Command{
		Name:      "artifact",
		Usage:     "Classify a payload file and report how the panel would render it",
		ArgsUsage: "<file>",
		Flags:     append(ReadOnlyFlags(), ConfigFlag),
		Action:    inspectArtifactAction,
	}
}

func inspectArtifactAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("file required", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), 1)
	}
	devCfg, err := deviceConfig(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), 1)
	}

	path := c.Args().First()
	info, err := os.Stat(path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	// The artifact is never released: Release would delete the file.
	art := storage.NewFileArtifact(types.ChannelImage, path, info.Size())
	in, err := dispatch.Inspect(art, devCfg.Dispatch)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewInspect, in)
	}
	return r.Render(in)
}

// CaptureSummary describes a capture file.
type CaptureSummary struct {
	Version    string           `json:"version"`
	DeviceID   string           `json:"device_id,omitempty"`
	MTU        int              `json:"mtu"`
	Records    int              `json:"records"`
	Skipped    int              `json:"skipped"`
	DurationMs int64            `json:"duration_ms"`
	Bytes      map[string]int64 `json:"bytes"`
}

func inspectCaptureCommand() *cli.Command {
	return &cli.Command{
		Name:      "capture",
		Usage:     "Summarize a capture file",
		ArgsUsage: "<capture>",
		Flags:     ReadOnlyFlags(),
		Action:    inspectCaptureAction,
	}
}

func inspectCaptureAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("capture file required", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if err := rejectTUI(c, "inspect capture"); err != nil {
		return err
	}
	capt, err := capture.ReadFile(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(summarizeCapture(capt))
}

func summarizeCapture(c *capture.Capture) CaptureSummary {
	s := CaptureSummary{
		Version:    c.Header.Version,
		DeviceID:   c.Header.DeviceID,
		MTU:        c.Header.MTU,
		Records:    len(c.Records),
		Skipped:    c.Skipped,
		DurationMs: c.Duration().Milliseconds(),
		Bytes:      make(map[string]int64),
	}
	bytes := c.Bytes()
	for _, ch := range slices.Sorted(maps.Keys(bytes)) {
		s.Bytes[ch.String()] = bytes[ch]
	}
	return s
}
