package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pixelport/archive"
	"github.com/pithecene-io/pixelport/cli/render"
	"github.com/pithecene-io/pixelport/types"
)

// listWarningThreshold is the result count above which gallery list
// suggests --limit.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// GalleryCommand returns the gallery command with subcommands.
func GalleryCommand() *cli.Command {
	return &cli.Command{
		Name:  "gallery",
		Usage: "Browse archived artifacts",
		Subcommands: []*cli.Command{
			galleryListCommand(),
			galleryGetCommand(),
		},
	}
}

func galleryListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List archived artifacts",
		Flags: append(append(ReadOnlyFlags(), DeviceFlags()...),
			&cli.StringFlag{
				Name:  "content",
				Usage: "Filter by content: animation or still_image",
			},
			&cli.StringFlag{
				Name:  "day",
				Usage: "Filter by UTC day (YYYY-MM-DD)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Return only the most recent N entries (0 = no limit)",
			},
		),
		Action: galleryListAction,
	}
}

func galleryListAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if err := rejectTUI(c, "gallery commands"); err != nil {
		return err
	}
	filter := archive.Filter{Content: types.ContentKind(c.String("content")), Day: c.String("day")}
	switch filter.Content {
	case "", types.ContentAnimation, types.ContentStillImage:
	default:
		return cli.Exit(fmt.Sprintf("invalid --content %q", filter.Content), 1)
	}

	store, err := openGallery(c)
	if err != nil {
		return err
	}
	entries, err := store.List(c.Context, filter)
	if err != nil {
		return err
	}
	limit := c.Int("limit")
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if len(entries) > listWarningThreshold && limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d entries. Consider using --limit to reduce output.\n\n", len(entries))
	}
	if entries == nil {
		entries = []archive.Entry{}
	}
	return r.Render(entries)
}

func galleryGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Copy an archived artifact to a local file",
		ArgsUsage: "<path>",
		Flags: append(DeviceFlags(),
			&cli.StringFlag{
				Name:     "out",
				Aliases:  []string{"o"},
				Usage:    "Destination file",
				Required: true,
			},
		),
		Action: galleryGetAction,
	}
}

func galleryGetAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("path required", 1)
	}
	store, err := openGallery(c)
	if err != nil {
		return err
	}
	data, err := store.Get(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	return os.WriteFile(c.String("out"), data, 0o644)
}

func openGallery(c *cli.Context) (*archive.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), 1)
	}
	return archive.Open(c.Context, cfg.Archive.Config, cfg.DeviceID)
}
