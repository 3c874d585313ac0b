package raster

import (
	"fmt"
	"image"
)

// Decoder turns still-image payloads into images for the panel.
type Decoder struct {
	Format Format
	Order  ChannelOrder
	// Foreground is the lit color for mono payloads.
	Foreground RGB565
}

// Decode interprets buf as a g-sized raster. buf must hold exactly
// Format.FrameBytes(g.Width, g.Height) bytes.
func (d Decoder) Decode(buf []byte, g Geometry) (*Image565, error) {
	if g.Width <= 0 || g.Height <= 0 {
		return nil, fmt.Errorf("raster: invalid geometry %s", g)
	}
	if want := d.Format.FrameBytes(g.Width, g.Height); len(buf) != want {
		return nil, fmt.Errorf("raster: %s %s needs %d bytes, got %d", d.Format, g, want, len(buf))
	}

	img := NewImage565(image.Rect(0, 0, g.Width, g.Height))
	switch d.Format {
	case FormatMono1:
		fg := d.mapColor(d.Foreground)
		rowBytes := d.Format.RowBytes(g.Width)
		for y := 0; y < g.Height; y++ {
			row := buf[y*rowBytes : (y+1)*rowBytes]
			for x := 0; x < g.Width; x++ {
				if row[x/8]&(0x80>>(x%8)) != 0 {
					img.Set565(x, y, fg)
				}
			}
		}
	case FormatRGB565:
		for i := 0; i < g.Width*g.Height; i++ {
			c := RGB565(uint16(buf[2*i])<<8 | uint16(buf[2*i+1]))
			img.Pix[i] = d.mapColor(c)
		}
	default:
		return nil, fmt.Errorf("raster: unsupported format %q", d.Format)
	}
	return img, nil
}

func (d Decoder) mapColor(c RGB565) RGB565 {
	return d.Order.Apply(c)
}
