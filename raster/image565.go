package raster

import (
	"image"
	"image/color"
)

// RGB565 is a 16-bit color as driven onto the panel.
type RGB565 uint16

// RGBA implements color.Color.
func (c RGB565) RGBA() (r, g, b, a uint32) {
	r8 := uint32(c>>11&0x1f) << 3
	g8 := uint32(c>>5&0x3f) << 2
	b8 := uint32(c&0x1f) << 3
	r8 |= r8 >> 5
	g8 |= g8 >> 6
	b8 |= b8 >> 5
	return r8 * 0x101, g8 * 0x101, b8 * 0x101, 0xffff
}

// Pack565 packs 8-bit components into RGB565.
func Pack565(r, g, b uint8) RGB565 {
	return RGB565(uint16(r&0xf8)<<8 | uint16(g&0xfc)<<3 | uint16(b>>3))
}

func toRGB565(c color.Color) color.Color {
	if v, ok := c.(RGB565); ok {
		return v
	}
	r, g, b, _ := c.RGBA()
	return Pack565(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

// RGB565Model converts colors to RGB565.
var RGB565Model = color.ModelFunc(toRGB565)

// Image565 is an in-memory RGB565 image.
type Image565 struct {
	Pix    []RGB565
	Stride int
	Rect   image.Rectangle
}

// NewImage565 creates a black image with bounds r.
func NewImage565(r image.Rectangle) *Image565 {
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return &Image565{Rect: r}
	}
	return &Image565{Pix: make([]RGB565, w*h), Stride: w, Rect: r}
}

// ColorModel implements image.Image.
func (p *Image565) ColorModel() color.Model { return RGB565Model }

// Bounds implements image.Image.
func (p *Image565) Bounds() image.Rectangle { return p.Rect }

// At implements image.Image.
func (p *Image565) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return RGB565(0)
	}
	return p.Pix[p.offset(x, y)]
}

// Set implements draw.Image.
func (p *Image565) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	p.Pix[p.offset(x, y)] = toRGB565(c).(RGB565)
}

// Set565 stores c at (x, y) without color conversion.
func (p *Image565) Set565(x, y int, c RGB565) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	p.Pix[p.offset(x, y)] = c
}

func (p *Image565) offset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x - p.Rect.Min.X)
}
