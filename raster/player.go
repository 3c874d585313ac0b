package raster

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"sync"
	"time"

	"periph.io/x/conn/v3/display"

	"github.com/pithecene-io/pixelport/iox"
	"github.com/pithecene-io/pixelport/log"
	"github.com/pithecene-io/pixelport/storage"
)

// minFrameDelay floors GIF frame delays; many encoders write 0.
const minFrameDelay = 20 * time.Millisecond

// Player plays GIF artifacts onto a display.Drawer, one at a time.
//
// A playing artifact is owned by the player and released when playback
// stops.
type Player struct {
	drawer display.Drawer
	order  ChannelOrder
	logger *log.Logger

	mu  sync.Mutex
	cur *playback
}

type playback struct {
	artifact *storage.Artifact
	stop     chan struct{}
	done     chan struct{}
}

// NewPlayer creates a player drawing onto d. logger may be nil.
func NewPlayer(d display.Drawer, order ChannelOrder, logger *log.Logger) *Player {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Player{drawer: d, order: order, logger: logger}
}

// RenderAnimation decodes a and starts playing it, stopping any current
// playback. On error the caller keeps ownership of a.
func (p *Player) RenderAnimation(a *storage.Artifact) error {
	r, err := a.Open()
	if err != nil {
		return fmt.Errorf("open animation: %w", err)
	}
	g, err := gif.DecodeAll(r)
	iox.DiscardClose(r)
	if err != nil {
		return fmt.Errorf("decode animation: %w", err)
	}
	if len(g.Image) == 0 {
		return errors.New("decode animation: no frames")
	}

	p.Stop()

	pb := &playback{artifact: a, stop: make(chan struct{}), done: make(chan struct{})}
	p.mu.Lock()
	p.cur = pb
	p.mu.Unlock()

	p.logger.Info("animation playback started", map[string]any{
		"frames": len(g.Image),
		"width":  g.Config.Width,
		"height": g.Config.Height,
		"loops":  g.LoopCount,
	})
	go p.play(pb, g)
	return nil
}

// Stop ends playback and waits for the artifact to be released.
func (p *Player) Stop() {
	p.mu.Lock()
	pb := p.cur
	p.cur = nil
	p.mu.Unlock()
	if pb == nil {
		return
	}
	close(pb.stop)
	<-pb.done
}

// Playing reports whether an animation is being played or held.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil
}

// Close stops playback.
func (p *Player) Close() error {
	p.Stop()
	return nil
}

func (p *Player) play(pb *playback, g *gif.GIF) {
	defer close(pb.done)
	defer func() {
		if err := pb.artifact.Release(); err != nil {
			p.logger.Warn("animation release failed", map[string]any{"error": err.Error()})
		}
	}()

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	canvas := NewImage565(bounds)
	out := NewImage565(bounds)

	// LoopCount 0 loops forever; -1 plays once; n plays n+1 times.
	remaining := g.LoopCount + 1
	for {
		for i, frame := range g.Image {
			draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
			for j, c := range canvas.Pix {
				out.Pix[j] = p.order.Apply(c)
			}
			if err := p.drawer.Draw(bounds, out, image.Point{}); err != nil {
				p.logger.Warn("animation frame draw failed", map[string]any{"frame": i, "error": err.Error()})
			}

			delay := time.Duration(g.Delay[i]) * 10 * time.Millisecond
			select {
			case <-pb.stop:
				return
			case <-time.After(max(delay, minFrameDelay)):
			}
		}
		if g.LoopCount != 0 {
			remaining--
			if remaining <= 0 {
				break
			}
		}
	}

	// Hold the last frame until stopped.
	<-pb.stop
}
