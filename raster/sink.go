package raster

import (
	"image"

	"periph.io/x/conn/v3/display"
)

// StillSink renders still-image payloads onto a display.Drawer.
type StillSink struct {
	drawer  display.Drawer
	decoder Decoder
	blank   bool
}

// NewStillSink creates a sink drawing onto d. When blank is set the whole
// drawer is cleared before each image.
func NewStillSink(d display.Drawer, dec Decoder, blank bool) *StillSink {
	return &StillSink{drawer: d, decoder: dec, blank: blank}
}

// RenderStillImage decodes buf as a width x height raster and draws it at
// the panel origin. buf is not retained.
func (s *StillSink) RenderStillImage(buf []byte, width, height int) error {
	img, err := s.decoder.Decode(buf, Geometry{Width: width, Height: height})
	if err != nil {
		return err
	}
	if s.blank {
		blank := NewImage565(s.drawer.Bounds())
		if err := s.drawer.Draw(s.drawer.Bounds(), blank, s.drawer.Bounds().Min); err != nil {
			return err
		}
	}
	return s.drawer.Draw(image.Rect(0, 0, width, height), img, image.Point{})
}
