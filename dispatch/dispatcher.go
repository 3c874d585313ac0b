package dispatch

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/pixelport/log"
	"github.com/pithecene-io/pixelport/memory"
	"github.com/pithecene-io/pixelport/raster"
	"github.com/pithecene-io/pixelport/storage"
	"github.com/pithecene-io/pixelport/types"
)

// AnimationSink plays animation artifacts. On success it owns the artifact
// and the host's animation flag, and releases the artifact when playback
// ends. On error the caller keeps ownership.
type AnimationSink interface {
	RenderAnimation(a *storage.Artifact) error
}

// StillImageSink draws a raw raster. buf is only valid during the call.
type StillImageSink interface {
	RenderStillImage(buf []byte, width, height int) error
}

// Config describes the panel still images are fitted to.
type Config struct {
	Panel  raster.Geometry
	Format raster.Format
	// StopYields is how many times StopAnimation yields after clearing the
	// animation flag, giving the playback loop time to let go of its file.
	StopYields int
	// MinFreeForAnimation is the primary-pool free space playback needs to
	// start. Animations arriving below it are refused. 0 disables the check.
	MinFreeForAnimation int64
}

// DefaultConfig returns a 64x64 RGB565 panel.
func DefaultConfig() Config {
	return Config{
		Panel:      raster.Geometry{Width: 64, Height: 64},
		Format:     raster.FormatRGB565,
		StopYields: 10,
	}
}

// Validate checks the panel geometry and format.
func (c Config) Validate() error {
	if c.Panel.Width <= 0 || c.Panel.Height <= 0 {
		return fmt.Errorf("dispatch: invalid panel geometry %s", c.Panel)
	}
	if _, err := raster.ParseFormat(string(c.Format)); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if c.StopYields < 0 {
		return errors.New("dispatch: stop yields must not be negative")
	}
	if c.MinFreeForAnimation < 0 {
		return errors.New("dispatch: min free for animation must not be negative")
	}
	return nil
}

// Options wires a Dispatcher to the host and its sinks.
type Options struct {
	Host      Host
	Animation AnimationSink
	Still     StillImageSink
	// Memory is the pool checked against MinFreeForAnimation. Required when
	// the check is enabled.
	Memory memory.Pool
	// Yielder defaults to storage.NopYielder.
	Yielder storage.Yielder
	// Logger defaults to a no-op logger.
	Logger *log.Logger
}

// Dispatcher routes completed artifacts to render sinks.
type Dispatcher struct {
	config    Config
	host      Host
	animation AnimationSink
	still     StillImageSink
	memory    memory.Pool
	yielder   storage.Yielder
	logger    *log.Logger
}

// New creates a Dispatcher.
func New(config Config, opts Options) (*Dispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if opts.Host == nil || opts.Animation == nil || opts.Still == nil {
		return nil, errors.New("dispatch: host, animation sink and still sink are required")
	}
	if config.MinFreeForAnimation > 0 && opts.Memory == nil {
		return nil, errors.New("dispatch: memory pool is required for the animation free-memory check")
	}
	if opts.Yielder == nil {
		opts.Yielder = storage.NopYielder
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &Dispatcher{
		config:    config,
		host:      opts.Host,
		animation: opts.Animation,
		still:     opts.Still,
		memory:    opts.Memory,
		yielder:   opts.Yielder,
		logger:    opts.Logger,
	}, nil
}

// Dispatch classifies a and renders it. On success the dispatcher (or the
// animation sink) owns a; on error the caller keeps ownership.
func (d *Dispatcher) Dispatch(a *storage.Artifact) (types.ContentKind, error) {
	prefix, err := a.Prefix(SignatureLen)
	if err != nil {
		return "", types.NewTransferError(types.ErrStorageIO, a.Channel, "read signature", err)
	}

	if IsAnimation(prefix) {
		if err := d.dispatchAnimation(a); err != nil {
			return "", err
		}
		return types.ContentAnimation, nil
	}

	d.logger.Debug("content unrecognized, rendering as still image", map[string]any{
		"channel": a.Channel.String(),
		"kind":    types.ErrContentUnrecognized.String(),
		"size":    a.Size,
	})
	if err := d.dispatchStill(a); err != nil {
		return "", err
	}
	return types.ContentStillImage, nil
}

func (d *Dispatcher) dispatchAnimation(a *storage.Artifact) error {
	if need := d.config.MinFreeForAnimation; need > 0 {
		if free := d.memory.Free(); free < need {
			d.logger.Warn("animation refused, low memory", map[string]any{
				"channel":  a.Channel.String(),
				"free":     free,
				"min_free": need,
			})
			return types.NewTransferError(types.ErrAllocationFailed, a.Channel,
				fmt.Sprintf("%d bytes free, playback needs %d", free, need), nil)
		}
	}

	d.host.StopCompetingModes()
	d.host.SetDisplayFlag(types.DisplayStillImage, false)
	d.host.SetDisplayFlag(types.DisplayAnimation, true)

	if err := d.animation.RenderAnimation(a); err != nil {
		d.host.SetDisplayFlag(types.DisplayAnimation, false)
		return fmt.Errorf("render animation: %w", err)
	}
	d.logger.Info("animation dispatched", map[string]any{
		"channel": a.Channel.String(),
		"backing": a.Kind.String(),
		"size":    a.Size,
	})
	return nil
}

func (d *Dispatcher) dispatchStill(a *storage.Artifact) error {
	d.host.StopCompetingModes()
	d.host.SetDisplayFlag(types.DisplayAnimation, false)

	g, used, err := raster.Fit(a.Size, d.config.Panel, d.config.Format)
	if err != nil {
		return err
	}

	var buf []byte
	if a.Kind == types.BackingMemory {
		buf = a.Data[:used]
	} else {
		buf = make([]byte, used)
		n, err := a.ReadInto(buf)
		if err != nil {
			return types.NewTransferError(types.ErrStorageIO, a.Channel, "read still image", err)
		}
		if n < used {
			return types.NewTransferError(types.ErrStorageIO, a.Channel,
				fmt.Sprintf("short read: %d of %d bytes", n, used), nil)
		}
	}

	if err := d.still.RenderStillImage(buf, g.Width, g.Height); err != nil {
		return fmt.Errorf("render still image: %w", err)
	}
	d.host.SetDisplayFlag(types.DisplayStillImage, true)

	if err := a.Release(); err != nil {
		d.logger.Warn("artifact release failed", map[string]any{
			"channel": a.Channel.String(),
			"error":   err.Error(),
		})
	}
	d.logger.Info("still image dispatched", map[string]any{
		"channel":  a.Channel.String(),
		"backing":  a.Kind.String(),
		"geometry": g.String(),
		"size":     a.Size,
		"rendered": used,
	})
	return nil
}

// StopAnimation clears the animation flag and yields so playback can
// release its artifact before the spool path is reused.
func (d *Dispatcher) StopAnimation() {
	d.host.SetDisplayFlag(types.DisplayAnimation, false)
	for i := 0; i < d.config.StopYields; i++ {
		d.yielder.Yield()
	}
}
