package raster

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"
	"time"

	"github.com/pithecene-io/pixelport/storage"
	"github.com/pithecene-io/pixelport/types"
)

var panel64 = Geometry{Width: 64, Height: 64}

func TestParseFormatAndOrder(t *testing.T) {
	if f, err := ParseFormat(" RGB565 "); err != nil || f != FormatRGB565 {
		t.Errorf("ParseFormat = %q, %v", f, err)
	}
	if _, err := ParseFormat("yuv"); err == nil {
		t.Error("expected error for unknown format")
	}
	if o, err := ParseChannelOrder("BGR"); err != nil || o != OrderBGR {
		t.Errorf("ParseChannelOrder = %q, %v", o, err)
	}
	if _, err := ParseChannelOrder("rgbw"); err == nil {
		t.Error("expected error for unknown order")
	}
}

func TestChannelOrder_Map(t *testing.T) {
	tests := []struct {
		order   ChannelOrder
		r, g, b uint8
	}{
		{OrderRGB, 1, 2, 3},
		{OrderRBG, 1, 3, 2},
		{OrderGRB, 2, 1, 3},
		{OrderGBR, 2, 3, 1},
		{OrderBRG, 3, 1, 2},
		{OrderBGR, 3, 2, 1},
	}
	for _, tt := range tests {
		r, g, b := tt.order.Map(1, 2, 3)
		if r != tt.r || g != tt.g || b != tt.b {
			t.Errorf("%s.Map(1,2,3) = %d,%d,%d", tt.order, r, g, b)
		}
	}
	if got := OrderBGR.Apply(Pack565(0xf8, 0, 0)); got != Pack565(0, 0, 0xf8) {
		t.Errorf("BGR red = %#04x, want blue", uint16(got))
	}
}

func TestInferGeometry(t *testing.T) {
	tests := []struct {
		name   string
		n      int64
		format Format
		want   Geometry
		ok     bool
	}{
		{"mono 64x64", 512, FormatMono1, Geometry{64, 64}, true},
		{"mono 32x32", 128, FormatMono1, Geometry{32, 32}, true},
		{"rgb565 16x16", 512, FormatRGB565, Geometry{16, 16}, true},
		{"rgb565 64x64", 8192, FormatRGB565, Geometry{64, 64}, true},
		{"mono too large for panel", 2048, FormatMono1, Geometry{}, false},
		{"not square", 1000, FormatMono1, Geometry{}, false},
		{"empty", 0, FormatMono1, Geometry{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, ok := InferGeometry(tt.n, panel64, tt.format)
			if ok != tt.ok || g != tt.want {
				t.Errorf("InferGeometry(%d) = %v, %v; want %v, %v", tt.n, g, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name     string
		n        int64
		format   Format
		want     Geometry
		consumed int
	}{
		{"square", 512, FormatMono1, Geometry{64, 64}, 512},
		{"full rows", 1000, FormatRGB565, Geometry{64, 7}, 896},
		{"capped at panel height", 9000, FormatRGB565, Geometry{64, 64}, 8192},
		{"partial row rgb565", 40, FormatRGB565, Geometry{20, 1}, 40},
		{"tiny mono is square", 3, FormatMono1, Geometry{3, 3}, 3},
		{"single mono row", 9, FormatMono1, Geometry{64, 1}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, consumed, err := Fit(tt.n, panel64, tt.format)
			if err != nil {
				t.Fatalf("Fit: %v", err)
			}
			if g != tt.want || consumed != tt.consumed {
				t.Errorf("Fit(%d) = %v/%d, want %v/%d", tt.n, g, consumed, tt.want, tt.consumed)
			}
		})
	}

	if _, _, err := Fit(1, panel64, FormatRGB565); !errors.Is(err, ErrNothingToRender) {
		t.Errorf("one byte rgb565 err = %v, want ErrNothingToRender", err)
	}
}

func TestDecoder_Mono(t *testing.T) {
	dec := Decoder{Format: FormatMono1, Foreground: Pack565(0xff, 0xff, 0xff)}
	// 8x2: first row alternating, second row only the last pixel.
	img, err := dec.Decode([]byte{0xaa, 0x01}, Geometry{8, 2})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Pix[0] != dec.Foreground || img.Pix[1] != 0 {
		t.Errorf("row 0 = %v %v", img.Pix[0], img.Pix[1])
	}
	if img.Pix[15] != dec.Foreground || img.Pix[8] != 0 {
		t.Errorf("row 1 = %v %v", img.Pix[8], img.Pix[15])
	}

	if _, err := dec.Decode([]byte{0xff}, Geometry{8, 2}); err == nil {
		t.Error("expected size mismatch error")
	}
}

func TestDecoder_RGB565Order(t *testing.T) {
	red := Pack565(0xf8, 0, 0)
	buf := []byte{byte(red >> 8), byte(red)}

	img, err := Decoder{Format: FormatRGB565, Order: OrderGRB}.Decode(buf, Geometry{1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if img.Pix[0] != Pack565(0, 0xf8, 0) {
		t.Errorf("GRB red = %#04x, want green", uint16(img.Pix[0]))
	}
}

func TestStillSink_DrawsOntoPanel(t *testing.T) {
	p := NewPanel("test", Geometry{16, 16})
	sink := NewStillSink(p, Decoder{Format: FormatMono1, Foreground: Pack565(0xff, 0, 0)}, true)

	if err := sink.RenderStillImage([]byte{0x80, 0x00}, 16, 1); err != nil {
		t.Fatalf("RenderStillImage: %v", err)
	}
	frame := p.Frame()
	if frame.At(0, 0) != Pack565(0xff, 0, 0) {
		t.Errorf("pixel (0,0) = %v", frame.At(0, 0))
	}
	if frame.At(1, 0) != RGB565(0) {
		t.Errorf("pixel (1,0) = %v", frame.At(1, 0))
	}
	if p.Draws() != 2 {
		t.Errorf("Draws = %d, want 2 (clear + image)", p.Draws())
	}

	var buf bytes.Buffer
	if err := p.WritePNG(&buf); err != nil {
		t.Fatalf("WritePNG: %v", err)
	}
	if _, err := png.Decode(&buf); err != nil {
		t.Errorf("png decode: %v", err)
	}

	_ = p.Halt()
	if err := sink.RenderStillImage([]byte{0, 0}, 16, 1); err == nil {
		t.Error("expected error drawing on halted panel")
	}
}

func encodeGIF(t *testing.T, frames int) []byte {
	t.Helper()
	pal := color.Palette{color.Black, color.White}
	g := &gif.GIF{LoopCount: 0}
	for i := 0; i < frames; i++ {
		img := image.NewPaletted(image.Rect(0, 0, 4, 4), pal)
		img.SetColorIndex(i%4, 0, 1)
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, 1)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPlayer_PlaysAndReleases(t *testing.T) {
	p := NewPanel("test", Geometry{8, 8})
	player := NewPlayer(p, OrderRGB, nil)

	released := 0
	a := storage.NewMemoryArtifact(types.ChannelAnimation, encodeGIF(t, 3), func() { released++ })
	if err := player.RenderAnimation(a); err != nil {
		t.Fatalf("RenderAnimation: %v", err)
	}
	if !player.Playing() {
		t.Error("Playing = false after render")
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Draws() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Draws() < 2 {
		t.Fatalf("Draws = %d, want at least 2", p.Draws())
	}

	player.Stop()
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}
	if player.Playing() {
		t.Error("Playing = true after Stop")
	}
	player.Stop()
}

func TestPlayer_DecodeFailureKeepsOwnership(t *testing.T) {
	player := NewPlayer(NewPanel("test", Geometry{8, 8}), OrderRGB, nil)

	released := 0
	a := storage.NewMemoryArtifact(types.ChannelAnimation, []byte("GIF89a-not-really"), func() { released++ })
	if err := player.RenderAnimation(a); err == nil {
		t.Fatal("expected decode error")
	}
	if released != 0 {
		t.Errorf("released = %d, want 0", released)
	}
	if player.Playing() {
		t.Error("Playing = true after failed render")
	}
}
