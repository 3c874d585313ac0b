// Package raster decodes still-image payloads into pixels and draws them,
// along with decoded animations, onto a periph.io display.Drawer.
package raster

import (
	"fmt"
	"strings"
)

// Format is the pixel encoding of a still-image payload.
type Format string

const (
	// FormatMono1 packs 8 pixels per byte, most significant bit first,
	// rows padded to a whole byte.
	FormatMono1 Format = "mono1"
	// FormatRGB565 stores one big-endian 16-bit RGB565 value per pixel.
	FormatRGB565 Format = "rgb565"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatMono1, FormatRGB565:
		return f, nil
	default:
		return "", fmt.Errorf("unknown pixel format %q (must be mono1 or rgb565)", s)
	}
}

// BitsPerPixel returns the encoded size of one pixel.
func (f Format) BitsPerPixel() int {
	if f == FormatRGB565 {
		return 16
	}
	return 1
}

// RowBytes returns the bytes occupied by one row of width pixels.
func (f Format) RowBytes(width int) int {
	return (width*f.BitsPerPixel() + 7) / 8
}

// FrameBytes returns the bytes occupied by a width x height raster.
func (f Format) FrameBytes(width, height int) int {
	return f.RowBytes(width) * height
}

// ChannelOrder maps logical RGB onto the panel's wiring.
type ChannelOrder string

// Channel orders supported by HUB75 panels.
const (
	OrderRGB ChannelOrder = "rgb"
	OrderRBG ChannelOrder = "rbg"
	OrderGRB ChannelOrder = "grb"
	OrderGBR ChannelOrder = "gbr"
	OrderBRG ChannelOrder = "brg"
	OrderBGR ChannelOrder = "bgr"
)

// ParseChannelOrder parses a channel order name.
func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch o := ChannelOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case OrderRGB, OrderRBG, OrderGRB, OrderGBR, OrderBRG, OrderBGR:
		return o, nil
	default:
		return "", fmt.Errorf("unknown channel order %q", s)
	}
}

// Map returns the components to send on the panel's R, G and B lines.
func (o ChannelOrder) Map(r, g, b uint8) (uint8, uint8, uint8) {
	switch o {
	case OrderRBG:
		return r, b, g
	case OrderGRB:
		return g, r, b
	case OrderGBR:
		return g, b, r
	case OrderBRG:
		return b, r, g
	case OrderBGR:
		return b, g, r
	default:
		return r, g, b
	}
}

// Apply remaps the components of c.
func (o ChannelOrder) Apply(c RGB565) RGB565 {
	if o == "" || o == OrderRGB {
		return c
	}
	r := uint8(c>>8) & 0xf8
	g := uint8(c>>3) & 0xfc
	b := uint8(c<<3) & 0xf8
	return Pack565(o.Map(r, g, b))
}
