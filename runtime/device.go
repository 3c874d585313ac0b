// Package runtime assembles and drives a pixelport device: the transfer
// engine, its storage pools, the dispatcher and the panel sinks, the
// cooperative host loop that feeds them fragments and timer polls, and the
// event publisher that forwards lifecycle events to adapters.
package runtime

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/pixelport/archive"
	"github.com/pithecene-io/pixelport/dispatch"
	"github.com/pithecene-io/pixelport/log"
	"github.com/pithecene-io/pixelport/memory"
	"github.com/pithecene-io/pixelport/metrics"
	"github.com/pithecene-io/pixelport/raster"
	"github.com/pithecene-io/pixelport/storage"
	"github.com/pithecene-io/pixelport/transfer"
)

// DeviceConfig describes one device.
type DeviceConfig struct {
	Transfer transfer.Config
	Dispatch dispatch.Config
	// Order is the panel's color channel order.
	Order raster.ChannelOrder
	// Foreground is the lit color for mono still images.
	Foreground raster.RGB565
	// BlankBeforeStill clears the panel before drawing a still image.
	BlankBeforeStill bool

	PrimaryCapacity   int64
	SecondaryCapacity int64
	Tiers             memory.Tiers
	SafetyMultiplier  float64
	SpoolDir          string
}

// DefaultDeviceConfig returns a device with a 320 KiB primary pool and no
// secondary pool. SpoolDir must still be set.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Transfer:         transfer.DefaultConfig(),
		Dispatch:         dispatch.DefaultConfig(),
		Order:            raster.OrderRGB,
		Foreground:       raster.Pack565(0xff, 0xff, 0xff),
		PrimaryCapacity:  320 * 1024,
		Tiers:            memory.DefaultTiers(),
		SafetyMultiplier: storage.DefaultSafetyMultiplier,
	}
}

// DeviceOptions wires optional collaborators.
type DeviceOptions struct {
	// Clock defaults to transfer.SystemClock.
	Clock transfer.TimeProvider
	// Events receives engine lifecycle events.
	Events transfer.EventSink
	// Yielder is called during long spool operations.
	Yielder storage.Yielder
	// Archiver, if set, saves every rendered artifact. Device.Close drains it.
	Archiver *archive.Archiver
	Logger   *log.Logger
	Metrics  *metrics.Collector
}

// Device is an assembled engine with its pools and panel.
type Device struct {
	Engine    *transfer.Engine
	Selector  *storage.Selector
	Panel     *raster.Panel
	Player    *raster.Player
	Host      *dispatch.FlagHost
	Primary   *memory.Arena
	Secondary *memory.Arena

	archiver *archive.Archiver
}

// NewDevice builds a device. The panel geometry and pixel format come from
// cfg.Dispatch.
func NewDevice(cfg DeviceConfig, opts DeviceOptions) (*Device, error) {
	if cfg.PrimaryCapacity <= 0 {
		return nil, errors.New("device: primary capacity must be positive")
	}
	if cfg.SecondaryCapacity < 0 {
		return nil, errors.New("device: secondary capacity must not be negative")
	}
	if err := cfg.Dispatch.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	d := &Device{Primary: memory.NewArena("primary", cfg.PrimaryCapacity), archiver: opts.Archiver}
	var secondary memory.Pool
	if cfg.SecondaryCapacity > 0 {
		d.Secondary = memory.NewArena("secondary", cfg.SecondaryCapacity)
		secondary = d.Secondary
	}

	selector, err := storage.NewSelector(d.Primary, secondary, storage.SelectorConfig{
		Tiers:            cfg.Tiers,
		SafetyMultiplier: cfg.SafetyMultiplier,
		SpoolDir:         cfg.SpoolDir,
		Yielder:          opts.Yielder,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	d.Selector = selector

	d.Panel = raster.NewPanel("matrix", cfg.Dispatch.Panel)
	d.Player = raster.NewPlayer(d.Panel, cfg.Order, logger)
	d.Host = dispatch.NewFlagHost(d.Player.Stop)

	var (
		animation dispatch.AnimationSink  = d.Player
		still     dispatch.StillImageSink = raster.NewStillSink(d.Panel, raster.Decoder{
			Format:     cfg.Dispatch.Format,
			Order:      cfg.Order,
			Foreground: cfg.Foreground,
		}, cfg.BlankBeforeStill)
	)
	if opts.Archiver != nil {
		animation = opts.Archiver.Animation(animation)
		still = opts.Archiver.Still(still)
	}

	dispatcher, err := dispatch.New(cfg.Dispatch, dispatch.Options{
		Host:      d.Host,
		Animation: animation,
		Still:     still,
		Memory:    d.Primary,
		Yielder:   opts.Yielder,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	d.Engine, err = transfer.NewEngine(cfg.Transfer, transfer.Options{
		Selector:   selector,
		Dispatcher: dispatcher,
		Clock:      opts.Clock,
		Logger:     logger,
		Metrics:    opts.Metrics,
		Events:     opts.Events,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Close releases every session, stops playback, waits for pending archive
// writes and halts the panel.
func (d *Device) Close() error {
	var errs []error
	if err := d.Engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if err := d.Player.Close(); err != nil {
		errs = append(errs, fmt.Errorf("player: %w", err))
	}
	if d.archiver != nil {
		if err := d.archiver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("archive: %w", err))
		}
	}
	if err := d.Panel.Halt(); err != nil {
		errs = append(errs, fmt.Errorf("panel: %w", err))
	}
	return errors.Join(errs...)
}
