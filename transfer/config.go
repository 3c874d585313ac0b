package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/pixelport/wire"
)

// Config holds the engine's limits and intervals.
type Config struct {
	// MaxArtifactSize caps a declared payload size.
	MaxArtifactSize int64
	// MTU is the negotiated transport MTU; animation chunks carry MTU-2 bytes.
	MTU int
	// Timeout is the inactivity limit for a session awaiting data.
	Timeout time.Duration
	// GracePeriod is how long a completed session ignores stragglers.
	GracePeriod time.Duration
	// CompletionSlack is the largest byte gap tolerated when a session
	// completes by chunk count.
	CompletionSlack int64
	// MemoryCheckInterval is the number of chunks between telemetry samples.
	MemoryCheckInterval int64
	// LowMemoryWarning is the primary free level below which a sample warns.
	LowMemoryWarning int64
	// ProgressInterval is the number of chunks between progress logs.
	ProgressInterval int64
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxArtifactSize:     wire.DefaultMaxArtifactSize,
		MTU:                 wire.DefaultMTU,
		Timeout:             30 * time.Second,
		GracePeriod:         3 * time.Second,
		CompletionSlack:     64,
		MemoryCheckInterval: 10,
		LowMemoryWarning:    10000,
		ProgressInterval:    50,
	}
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid transfer config")

// Validate checks every field is usable.
func (c Config) Validate() error {
	switch {
	case c.MaxArtifactSize <= 0:
		return fmt.Errorf("%w: max artifact size must be positive", ErrInvalidConfig)
	case wire.ChunkPayloadSize(c.MTU) <= 0:
		return fmt.Errorf("%w: mtu %d leaves no chunk payload", ErrInvalidConfig, c.MTU)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	case c.GracePeriod < 0:
		return fmt.Errorf("%w: grace period must not be negative", ErrInvalidConfig)
	case c.CompletionSlack < 0:
		return fmt.Errorf("%w: completion slack must not be negative", ErrInvalidConfig)
	case c.MemoryCheckInterval <= 0 || c.ProgressInterval <= 0:
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	}
	return nil
}
