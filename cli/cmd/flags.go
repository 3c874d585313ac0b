// Package cmd provides CLI commands for the pixelport binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (replay, inspect, stats only)",
	}

	// ConfigFlag points at a pixelport.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to pixelport.yaml",
		EnvVars: []string{"PIXELPORT_CONFIG"},
	}

	// LogLevelFlag overrides log.level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}
)

// ReadOnlyFlags returns the output flags shared by every read-only command.
// --tui is always accepted so unsupported commands can reject it with a
// clear message.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// DeviceFlags returns the flags of commands that build a device.
func DeviceFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		LogLevelFlag,
		&cli.StringFlag{
			Name:  "device-id",
			Usage: "Override device_id",
		},
	}
}

func rejectTUI(c *cli.Context, command string) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for "+command, 1)
	}
	return nil
}
