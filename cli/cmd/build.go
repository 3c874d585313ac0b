package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pixelport/adapter"
	"github.com/pithecene-io/pixelport/adapter/redis"
	"github.com/pithecene-io/pixelport/adapter/webhook"
	"github.com/pithecene-io/pixelport/archive"
	"github.com/pithecene-io/pixelport/cli/config"
	"github.com/pithecene-io/pixelport/dispatch"
	"github.com/pithecene-io/pixelport/log"
	"github.com/pithecene-io/pixelport/metrics"
	"github.com/pithecene-io/pixelport/raster"
	"github.com/pithecene-io/pixelport/runtime"
	"github.com/pithecene-io/pixelport/transfer"
)

// loadConfig reads --config (or the defaults) and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		d := config.Default()
		cfg = &d
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String("device-id"); v != "" {
		cfg.DeviceID = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return log.NewLogger(cfg.DeviceID, level).WithOutput(os.Stderr), nil
}

// deviceConfig maps the file configuration onto a runtime device.
func deviceConfig(cfg *config.Config) (runtime.DeviceConfig, error) {
	format, err := raster.ParseFormat(cfg.Panel.Format)
	if err != nil {
		return runtime.DeviceConfig{}, err
	}
	order, err := raster.ParseChannelOrder(cfg.Panel.Order)
	if err != nil {
		return runtime.DeviceConfig{}, err
	}
	fg, err := config.ParseColor(cfg.Panel.Foreground)
	if err != nil {
		return runtime.DeviceConfig{}, err
	}
	t := cfg.Transfer
	return runtime.DeviceConfig{
		Transfer: transfer.Config{
			MaxArtifactSize:     int64(t.MaxArtifactSize),
			MTU:                 t.MTU,
			Timeout:             t.Timeout.Duration,
			GracePeriod:         t.GracePeriod.Duration,
			CompletionSlack:     int64(t.CompletionSlack),
			MemoryCheckInterval: t.MemoryCheckInterval,
			LowMemoryWarning:    int64(t.LowMemoryWarning),
			ProgressInterval:    t.ProgressInterval,
		},
		Dispatch: dispatch.Config{
			Panel:      raster.Geometry{Width: cfg.Panel.Width, Height: cfg.Panel.Height},
			Format:     format,
			StopYields: cfg.Panel.StopYields,

			MinFreeForAnimation: int64(cfg.Memory.MinFreeForAnimation),
		},
		Order:             order,
		Foreground:        fg,
		BlankBeforeStill:  cfg.Panel.Blank,
		PrimaryCapacity:   int64(cfg.Memory.Primary),
		SecondaryCapacity: int64(cfg.Memory.Secondary),
		Tiers:             cfg.Memory.Tiers.Tiers(),
		SafetyMultiplier:  cfg.Memory.SafetyMultiplier,
		SpoolDir:          cfg.Storage.SpoolDir,
	}, nil
}

// buildAdapter returns nil when no adapter is configured.
func buildAdapter(cfg *config.Config) (adapter.Adapter, error) {
	a := cfg.Adapter
	retries := 0
	if a.Retries != nil {
		retries = *a.Retries
	}
	switch a.Type {
	case "":
		return nil, nil
	case "webhook":
		wh, err := webhook.New(webhook.Config{
			URL:     a.URL,
			Headers: a.Headers,
			Timeout: a.Timeout.Duration,
			Retries: retries,
			Backoff: a.Backoff.Duration,
		})
		if err != nil {
			return nil, err
		}
		return wh, nil
	case "redis":
		rd, err := redis.New(redis.Config{
			URL:     a.URL,
			Channel: a.Channel,
			Stream:  a.Stream,
			Timeout: a.Timeout.Duration,
			Retries: retries,
			Backoff: a.Backoff.Duration,
		})
		if err != nil {
			return nil, err
		}
		return rd, nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", a.Type)
	}
}

// buildArchiver returns nil unless the archive is enabled or forced.
func buildArchiver(ctx context.Context, cfg *config.Config, force bool, logger *log.Logger, m *metrics.Collector) (*archive.Archiver, error) {
	if !cfg.Archive.Enabled && !force {
		return nil, nil
	}
	store, err := archive.Open(ctx, cfg.Archive.Config, cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return archive.NewArchiver(store, archive.Options{
		Timeout:   cfg.Archive.Timeout.Duration,
		QueueSize: cfg.Archive.QueueSize,
		Logger:    logger,
		Metrics:   m,
	}), nil
}

func storageBackend(cfg *config.Config) string {
	if cfg.Memory.Secondary > 0 {
		return "memory+secondary+spool"
	}
	return "memory+spool"
}

func adapterName(cfg *config.Config) string {
	if cfg.Adapter.Type == "" {
		return "none"
	}
	return cfg.Adapter.Type
}

// healthCheck reports the host loop as stalled once it has not progressed
// for stallAfter.
func healthCheck(l *runtime.Liveness, stallAfter time.Duration) func() error {
	return func() error {
		if stallAfter <= 0 {
			return nil
		}
		if age := l.Age(); age > stallAfter {
			return fmt.Errorf("host loop stalled for %s", age.Round(time.Millisecond))
		}
		return nil
	}
}

var errNoSource = errors.New("bridge is disabled: set bridge.enabled or pass --listen")
