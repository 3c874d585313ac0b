package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pixelport/capture"
	"github.com/pithecene-io/pixelport/cli/render"
	"github.com/pithecene-io/pixelport/types"
	"github.com/pithecene-io/pixelport/wire"
)

// DebugCommand returns the debug command with subcommands.
func DebugCommand() *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "Diagnostic tools",
		Subcommands: []*cli.Command{
			debugCaptureCommand(),
		},
	}
}

// RecordView is one decoded capture record.
type RecordView struct {
	Index    int    `json:"index"`
	Channel  string `json:"channel"`
	OffsetMs int64  `json:"offset_ms"`
	Length   int    `json:"length"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail,omitempty"`
	Head     string `json:"head"`
}

// debugHeadLen is how many leading bytes a record dump shows.
const debugHeadLen = 8

func debugCaptureCommand() *cli.Command {
	return &cli.Command{
		Name:      "capture",
		Usage:     "Dump every record of a capture with its wire classification",
		ArgsUsage: "<capture>",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "channel",
				Usage: "Only show one channel: image or animation",
			},
		),
		Action: debugCaptureAction,
	}
}

func debugCaptureAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("capture file required", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if err := rejectTUI(c, "debug commands"); err != nil {
		return err
	}
	var only *types.Channel
	if name := c.String("channel"); name != "" {
		ch, err := types.ParseChannel(name)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		only = &ch
	}
	capt, err := capture.ReadFile(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	mtu := capt.Header.MTU
	if mtu <= 0 {
		mtu = wire.DefaultMTU
	}
	views := make([]RecordView, 0, len(capt.Records))
	for i, rec := range capt.Records {
		if only != nil && rec.Channel != *only {
			continue
		}
		views = append(views, describeRecord(i, rec, mtu))
	}
	return r.Render(views)
}

// describeRecord classifies rec the way the engine would on an idle session.
func describeRecord(i int, rec types.CaptureRecord, mtu int) RecordView {
	v := RecordView{
		Index:    i,
		Channel:  rec.Channel.String(),
		OffsetMs: rec.OffsetMs,
		Length:   len(rec.Data),
		Head:     hex.EncodeToString(rec.Data[:min(len(rec.Data), debugHeadLen)]),
	}
	switch rec.Channel {
	case types.ChannelImage:
		if !wire.LooksLikeImageHeader(rec.Data) {
			v.Kind = "data"
			return v
		}
		v.Kind = "header"
		h, err := wire.ParseImageHeader(rec.Data, wire.DefaultMaxArtifactSize)
		if err != nil {
			v.Detail = err.Error()
			return v
		}
		v.Detail = describeHeader(h)
	case types.ChannelAnimation:
		p, err := wire.DecodePacket(rec.Data)
		if err != nil {
			v.Kind = "rejected"
			v.Detail = err.Error()
			return v
		}
		v.Kind = p.Type.String()
		if p.Type != wire.PacketHeader {
			return v
		}
		h, err := wire.ParseAnimationHeader(rec.Data, mtu, wire.DefaultMaxArtifactSize)
		if err != nil {
			v.Detail = err.Error()
			return v
		}
		v.Detail = describeHeader(h)
	default:
		v.Kind = "unknown"
	}
	return v
}

func describeHeader(h wire.Header) string {
	return fmt.Sprintf("%d bytes in %d chunks", h.ExpectedBytes, h.ExpectedChunks)
}
