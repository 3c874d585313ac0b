package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/pixelport/archive"
	"github.com/pithecene-io/pixelport/bridge"
	"github.com/pithecene-io/pixelport/dispatch"
	"github.com/pithecene-io/pixelport/memory"
	"github.com/pithecene-io/pixelport/raster"
	"github.com/pithecene-io/pixelport/transfer"
)

// Config represents a pixelport.yaml configuration file.
// Omitted values keep their defaults; CLI flags override config values.
type Config struct {
	DeviceID string         `yaml:"device_id"`
	Log      LogConfig      `yaml:"log"`
	Panel    PanelConfig    `yaml:"panel"`
	Transfer TransferConfig `yaml:"transfer"`
	Memory   MemoryConfig   `yaml:"memory"`
	Storage  StorageConfig  `yaml:"storage"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Adapter  AdapterConfig  `yaml:"adapter"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Host     HostConfig     `yaml:"host"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// PanelConfig describes the LED matrix.
type PanelConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Format string `yaml:"format"`
	Order  string `yaml:"order"`
	// Foreground is the lit color for mono images as "#rrggbb".
	Foreground string `yaml:"foreground"`
	// Blank clears the panel before every still image.
	Blank bool `yaml:"blank"`
	// StopYields is how often the dispatcher yields after stopping playback.
	StopYields int `yaml:"stop_yields"`
}

// TransferConfig holds engine limits.
type TransferConfig struct {
	MaxArtifactSize     Size     `yaml:"max_artifact_size"`
	MTU                 int      `yaml:"mtu"`
	Timeout             Duration `yaml:"timeout"`
	GracePeriod         Duration `yaml:"grace_period"`
	CompletionSlack     Size     `yaml:"completion_slack"`
	MemoryCheckInterval int64    `yaml:"memory_check_interval"`
	LowMemoryWarning    Size     `yaml:"low_memory_warning"`
	ProgressInterval    int64    `yaml:"progress_interval"`
}

// MemoryConfig sizes the pools and the selector's threshold table.
type MemoryConfig struct {
	Primary          Size        `yaml:"primary"`
	Secondary        Size        `yaml:"secondary"`
	SafetyMultiplier float64     `yaml:"safety_multiplier"`
	Tiers            TiersConfig `yaml:"tiers"`
	// MinFreeForAnimation refuses playback when the primary pool has less
	// free space. 0 disables the check.
	MinFreeForAnimation Size `yaml:"min_free_for_animation"`
}

// TiersConfig mirrors memory.Tiers with size strings.
type TiersConfig struct {
	SecondaryThreshold Size `yaml:"secondary_threshold"`
	HighFree           Size `yaml:"high_free"`
	HighThreshold      Size `yaml:"high_threshold"`
	LowFree            Size `yaml:"low_free"`
	LowThreshold       Size `yaml:"low_threshold"`
	DefaultThreshold   Size `yaml:"default_threshold"`
}

// Tiers converts to memory.Tiers.
func (t TiersConfig) Tiers() memory.Tiers {
	return memory.Tiers{
		SecondaryThreshold: int64(t.SecondaryThreshold),
		HighFree:           int64(t.HighFree),
		HighThreshold:      int64(t.HighThreshold),
		LowFree:            int64(t.LowFree),
		LowThreshold:       int64(t.LowThreshold),
		DefaultThreshold:   int64(t.DefaultThreshold),
	}
}

// StorageConfig locates the spool files.
type StorageConfig struct {
	SpoolDir string `yaml:"spool_dir"`
}

// ArchiveConfig enables the artifact gallery.
type ArchiveConfig struct {
	Enabled bool     `yaml:"enabled"`
	Timeout Duration `yaml:"timeout"`
	// QueueSize bounds artifacts waiting to be archived; more are dropped.
	QueueSize int `yaml:"queue_size"`

	archive.Config `yaml:",inline"`
}

// AdapterConfig holds event adapter settings.
type AdapterConfig struct {
	Type      string            `yaml:"type"`
	URL       string            `yaml:"url"`
	Channel   string            `yaml:"channel,omitempty"`
	Stream    string            `yaml:"stream,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Timeout   Duration          `yaml:"timeout,omitempty"`
	Retries   *int              `yaml:"retries,omitempty"`
	Backoff   Duration          `yaml:"backoff,omitempty"`
	QueueSize int               `yaml:"queue_size,omitempty"`
}

// BridgeConfig holds the network bridge listener settings.
type BridgeConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Addr            string   `yaml:"addr"`
	Path            string   `yaml:"path"`
	MaxMessageBytes Size     `yaml:"max_message_bytes"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	PingInterval    Duration `yaml:"ping_interval"`
}

// Bridge converts to bridge.Config.
func (b BridgeConfig) Bridge() bridge.Config {
	return bridge.Config{
		Addr:            b.Addr,
		Path:            b.Path,
		MaxMessageBytes: int64(b.MaxMessageBytes),
		IdleTimeout:     b.IdleTimeout.Duration,
		PingInterval:    b.PingInterval.Duration,
	}
}

// HostConfig tunes the host loop.
type HostConfig struct {
	TickInterval Duration `yaml:"tick_interval"`
	QueueSize    int      `yaml:"queue_size"`
	// StallAfter marks the host unhealthy when the loop has not progressed
	// for this long.
	StallAfter Duration `yaml:"stall_after"`
}

// Default returns the stock configuration.
func Default() Config {
	tc := transfer.DefaultConfig()
	dc := dispatch.DefaultConfig()
	tiers := memory.DefaultTiers()
	bc := bridge.DefaultConfig()
	return Config{
		DeviceID: "pixelport",
		Log:      LogConfig{Level: "info"},
		Panel: PanelConfig{
			Width:      dc.Panel.Width,
			Height:     dc.Panel.Height,
			Format:     string(dc.Format),
			Order:      string(raster.OrderRGB),
			Foreground: "#ffffff",
			StopYields: dc.StopYields,
		},
		Transfer: TransferConfig{
			MaxArtifactSize:     Size(tc.MaxArtifactSize),
			MTU:                 tc.MTU,
			Timeout:             Duration{tc.Timeout},
			GracePeriod:         Duration{tc.GracePeriod},
			CompletionSlack:     Size(tc.CompletionSlack),
			MemoryCheckInterval: tc.MemoryCheckInterval,
			LowMemoryWarning:    Size(tc.LowMemoryWarning),
			ProgressInterval:    tc.ProgressInterval,
		},
		Memory: MemoryConfig{
			Primary:          320 * 1024,
			SafetyMultiplier: 1.5,
			Tiers: TiersConfig{
				SecondaryThreshold: Size(tiers.SecondaryThreshold),
				HighFree:           Size(tiers.HighFree),
				HighThreshold:      Size(tiers.HighThreshold),
				LowFree:            Size(tiers.LowFree),
				LowThreshold:       Size(tiers.LowThreshold),
				DefaultThreshold:   Size(tiers.DefaultThreshold),
			},
		},
		Storage: StorageConfig{SpoolDir: "./spool"},
		Archive: ArchiveConfig{
			Timeout:   Duration{archive.DefaultTimeout},
			QueueSize: archive.DefaultQueueSize,
			Config: archive.Config{
				Backend: archive.BackendFS,
				Root:    "./gallery",
				Dataset: archive.DefaultDataset,
			},
		},
		Bridge: BridgeConfig{
			Addr:            bc.Addr,
			Path:            bc.Path,
			MaxMessageBytes: Size(bc.MaxMessageBytes),
			IdleTimeout:     Duration{bc.IdleTimeout},
			PingInterval:    Duration{bc.PingInterval},
		},
		Host: HostConfig{
			TickInterval: Duration{100 * time.Millisecond},
			QueueSize:    256,
			StallAfter:   Duration{5 * time.Second},
		},
	}
}

// Validate checks values that the component constructors do not.
func (c *Config) Validate() error {
	var errs []error
	if c.DeviceID == "" {
		errs = append(errs, errors.New("device_id must not be empty"))
	}
	if _, err := raster.ParseFormat(c.Panel.Format); err != nil {
		errs = append(errs, fmt.Errorf("panel.format: %w", err))
	}
	if _, err := raster.ParseChannelOrder(c.Panel.Order); err != nil {
		errs = append(errs, fmt.Errorf("panel.order: %w", err))
	}
	if _, err := ParseColor(c.Panel.Foreground); err != nil {
		errs = append(errs, fmt.Errorf("panel.foreground: %w", err))
	}
	if c.Storage.SpoolDir == "" {
		errs = append(errs, errors.New("storage.spool_dir must not be empty"))
	}
	if err := c.Memory.Tiers.Tiers().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("memory.tiers: %w", err))
	}
	if c.Memory.MinFreeForAnimation < 0 {
		errs = append(errs, errors.New("memory.min_free_for_animation must not be negative"))
	}
	if c.Archive.QueueSize < 0 {
		errs = append(errs, errors.New("archive.queue_size must not be negative"))
	}
	if c.Archive.Enabled {
		if err := c.Archive.Config.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter.type %q must be webhook or redis", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, fmt.Errorf("adapter.url is required for %s", c.Adapter.Type))
	}
	if c.Bridge.Enabled {
		if err := c.Bridge.Bridge().Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ParseColor parses "#rrggbb" into an RGB565 value.
func ParseColor(s string) (raster.RGB565, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return 0, fmt.Errorf("invalid color %q (want #rrggbb)", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return raster.Pack565(uint8(v>>16), uint8(v>>8), uint8(v)), nil
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Size is a byte count parsed from "96KiB", "1MiB", "64KB" or a plain number.
type Size int64

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"kib", 1 << 10},
	{"mib", 1 << 20},
	{"gib", 1 << 30},
	{"kb", 1000},
	{"mb", 1000 * 1000},
	{"gb", 1000 * 1000 * 1000},
	{"k", 1 << 10},
	{"m", 1 << 20},
	{"b", 1},
}

// ParseSize parses a size string.
func ParseSize(s string) (Size, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return 0, errors.New("empty size")
	}
	mult := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(trimmed, u.suffix) {
			trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, u.suffix))
			mult = u.mult
			break
		}
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return Size(n * mult), nil
}

// UnmarshalYAML accepts a size string or an integer.
func (s *Size) UnmarshalYAML(unmarshal func(any) error) error {
	var n int64
	if err := unmarshal(&n); err == nil {
		if n < 0 {
			return fmt.Errorf("invalid size %d", n)
		}
		*s = Size(n)
		return nil
	}
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	parsed, err := ParseSize(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
