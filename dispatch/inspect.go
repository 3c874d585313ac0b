package dispatch

import (
	"encoding/hex"
	"image/gif"

	"github.com/pithecene-io/pixelport/iox"
	"github.com/pithecene-io/pixelport/raster"
	"github.com/pithecene-io/pixelport/storage"
	"github.com/pithecene-io/pixelport/types"
)

// Inspection describes how an artifact would be rendered.
type Inspection struct {
	Size      int64             `json:"size" yaml:"size"`
	Signature string            `json:"signature" yaml:"signature"`
	Content   types.ContentKind `json:"content" yaml:"content"`
	Width     int               `json:"width" yaml:"width"`
	Height    int               `json:"height" yaml:"height"`
	// Square is true when a still image is exactly a square raster.
	Square bool `json:"square,omitempty" yaml:"square,omitempty"`
	// RenderBytes is how much of a still image payload is drawn.
	RenderBytes int `json:"render_bytes,omitempty" yaml:"render_bytes,omitempty"`
	Frames      int `json:"frames,omitempty" yaml:"frames,omitempty"`
	LoopCount   int `json:"loop_count,omitempty" yaml:"loop_count,omitempty"`
	// Problem explains why rendering would fail, if it would.
	Problem string `json:"problem,omitempty" yaml:"problem,omitempty"`
}

// Inspect classifies a and works out its render geometry under cfg without
// touching any display. It only fails when a cannot be read at all.
func Inspect(a *storage.Artifact, cfg Config) (Inspection, error) {
	prefix, err := a.Prefix(SignatureLen)
	if err != nil {
		return Inspection{}, types.NewTransferError(types.ErrStorageIO, a.Channel, "read signature", err)
	}
	in := Inspection{
		Size:      a.Size,
		Signature: hex.EncodeToString(prefix),
		Content:   Classify(prefix),
	}

	if in.Content == types.ContentAnimation {
		r, err := a.Open()
		if err != nil {
			return Inspection{}, types.NewTransferError(types.ErrStorageIO, a.Channel, "open artifact", err)
		}
		g, err := gif.DecodeAll(r)
		iox.DiscardClose(r)
		if err != nil {
			in.Problem = err.Error()
			return in, nil
		}
		in.Width, in.Height = g.Config.Width, g.Config.Height
		in.Frames = len(g.Image)
		in.LoopCount = g.LoopCount
		return in, nil
	}

	geom, used, err := raster.Fit(a.Size, cfg.Panel, cfg.Format)
	if err != nil {
		in.Problem = err.Error()
		return in, nil
	}
	_, in.Square = raster.InferGeometry(a.Size, cfg.Panel, cfg.Format)
	in.Width, in.Height = geom.Width, geom.Height
	in.RenderBytes = used
	return in, nil
}
