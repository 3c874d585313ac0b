package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"sync"

	"periph.io/x/conn/v3/display"
)

// Panel is an in-memory display.Drawer standing in for the LED matrix.
// It keeps the last drawn frame and counts draws. Safe for concurrent use.
type Panel struct {
	name string

	mu     sync.Mutex
	frame  *Image565
	draws  int64
	halted bool
}

var _ display.Drawer = (*Panel)(nil)

// NewPanel creates a blank panel of size g.
func NewPanel(name string, g Geometry) *Panel {
	return &Panel{name: name, frame: NewImage565(image.Rect(0, 0, g.Width, g.Height))}
}

// String implements conn.Resource.
func (p *Panel) String() string {
	return fmt.Sprintf("%s{%dx%d}", p.name, p.frame.Rect.Dx(), p.frame.Rect.Dy())
}

// Halt implements conn.Resource. Draws fail afterwards.
func (p *Panel) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halted = true
	return nil
}

// ColorModel implements display.Drawer.
func (p *Panel) ColorModel() color.Model { return RGB565Model }

// Bounds implements display.Drawer.
func (p *Panel) Bounds() image.Rectangle { return p.frame.Rect }

// Draw implements display.Drawer.
func (p *Panel) Draw(dst image.Rectangle, src image.Image, sp image.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.halted {
		return errors.New("panel: halted")
	}
	dst = dst.Intersect(p.frame.Rect)
	if dst.Empty() {
		return nil
	}
	draw.Draw(p.frame, dst, src, sp, draw.Src)
	p.draws++
	return nil
}

// Clear blanks the panel.
func (p *Panel) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.frame.Pix)
}

// Draws returns how many Draw calls changed the frame.
func (p *Panel) Draws() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draws
}

// Frame returns a copy of the current frame.
func (p *Panel) Frame() *Image565 {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := NewImage565(p.frame.Rect)
	copy(cp.Pix, p.frame.Pix)
	return cp
}

// WritePNG encodes the current frame as PNG.
func (p *Panel) WritePNG(w io.Writer) error {
	return png.Encode(w, p.Frame())
}
