package raster

import (
	"errors"
	"fmt"
	"math"
)

// ErrNothingToRender is returned when a payload holds less than one pixel.
var ErrNothingToRender = errors.New("payload smaller than one pixel")

// Geometry is a raster size in pixels.
type Geometry struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// InferGeometry reports whether n bytes are exactly a square raster in
// format f that fits on panel, and its size.
func InferGeometry(n int64, panel Geometry, f Format) (Geometry, bool) {
	if n <= 0 {
		return Geometry{}, false
	}
	side := int(math.Sqrt(float64(n) * 8 / float64(f.BitsPerPixel())))
	limit := min(panel.Width, panel.Height)
	for s := max(side-1, 1); s <= side+1; s++ {
		if s <= limit && int64(f.FrameBytes(s, s)) == n {
			return Geometry{Width: s, Height: s}, true
		}
	}
	return Geometry{}, false
}

// Fit returns the geometry to render n bytes on panel and the number of
// payload bytes it consumes.
//
// A payload that is exactly a square raster renders at that size. Otherwise
// as many full panel-width rows as fit are rendered; a payload shorter than
// one row renders the whole pixels it holds as a single partial row.
func Fit(n int64, panel Geometry, f Format) (Geometry, int, error) {
	if g, ok := InferGeometry(n, panel, f); ok {
		return g, f.FrameBytes(g.Width, g.Height), nil
	}

	rowBytes := int64(f.RowBytes(panel.Width))
	if rowBytes > 0 && n >= rowBytes {
		rows := min(n/rowBytes, int64(panel.Height))
		g := Geometry{Width: panel.Width, Height: int(rows)}
		return g, f.FrameBytes(g.Width, g.Height), nil
	}

	cols := int(n * 8 / int64(f.BitsPerPixel()))
	cols = min(cols, panel.Width)
	if cols == 0 {
		return Geometry{}, 0, fmt.Errorf("%w: %d bytes in %s", ErrNothingToRender, n, f)
	}
	g := Geometry{Width: cols, Height: 1}
	return g, f.FrameBytes(g.Width, 1), nil
}
