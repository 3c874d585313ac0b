package storage

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/pithecene-io/pixelport/log"
	"github.com/pithecene-io/pixelport/memory"
	"github.com/pithecene-io/pixelport/types"
)

// DefaultSafetyMultiplier is the free-memory margin required for a memory backing.
const DefaultSafetyMultiplier = 1.5

// Rung names the step of the selection ladder that produced a backing.
type Rung string

// Ladder rungs.
const (
	// RungMemory is a first-try allocation.
	RungMemory Rung = "memory"
	// RungMemoryAfterCompact is an allocation that succeeded after Compact.
	RungMemoryAfterCompact Rung = "memory_after_compact"
	// RungSpoolThreshold is a spool chosen because the size exceeds the threshold.
	RungSpoolThreshold Rung = "spool_threshold"
	// RungSpoolMargin is a spool chosen because the safety margin was not met.
	RungSpoolMargin Rung = "spool_margin"
	// RungSpoolAllocFailed is a spool chosen after allocation failed twice.
	RungSpoolAllocFailed Rung = "spool_alloc_failed"
)

// Fallback reports whether the rung fell back from memory to spool.
func (r Rung) Fallback() bool {
	return r == RungSpoolMargin || r == RungSpoolAllocFailed
}

// Decision records how a backing was chosen.
type Decision struct {
	Tier      memory.Tier
	Threshold int64
	Telemetry memory.Telemetry
	Kind      types.BackingKind
	Rung      Rung
	// Pool is the pool a memory backing was drawn from.
	Pool string
	// Compacted is true when Compact was called during selection.
	Compacted bool
}

// SelectorConfig configures a Selector.
type SelectorConfig struct {
	// Tiers is the threshold table. Zero value uses memory.DefaultTiers.
	Tiers memory.Tiers
	// SafetyMultiplier scales the free memory required for a memory backing.
	// Zero uses DefaultSafetyMultiplier.
	SafetyMultiplier float64
	// SpoolDir holds one spool file per channel.
	SpoolDir string
	// Yielder is passed to spool backings. Nil means NopYielder.
	Yielder Yielder
	// Logger is an optional logger. If nil, no logging is emitted.
	Logger *log.Logger
}

// Selector chooses a memory or spool backing for a new session.
// It is invoked once per accepted header.
type Selector struct {
	primary   memory.Pool
	secondary memory.Pool
	config    SelectorConfig
	logger    *log.Logger
	slots     [types.ChannelCount]spoolSlot
}

// NewSelector creates a selector over primary and an optional secondary pool.
func NewSelector(primary, secondary memory.Pool, config SelectorConfig) (*Selector, error) {
	if primary == nil {
		return nil, errors.New("selector: primary pool is required")
	}
	if config.SpoolDir == "" {
		return nil, errors.New("selector: spool dir is required")
	}
	if config.Tiers == (memory.Tiers{}) {
		config.Tiers = memory.DefaultTiers()
	}
	if config.SafetyMultiplier == 0 {
		config.SafetyMultiplier = DefaultSafetyMultiplier
	}
	if config.SafetyMultiplier < 1 {
		return nil, fmt.Errorf("selector: safety multiplier %.2f below 1", config.SafetyMultiplier)
	}
	if config.Yielder == nil {
		config.Yielder = NopYielder
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Selector{primary: primary, secondary: secondary, config: config, logger: logger}, nil
}

// SpoolPath returns the well-known spool path of ch.
func (s *Selector) SpoolPath(ch types.Channel) string {
	return SpoolPath(s.config.SpoolDir, ch)
}

// SpoolPath returns the well-known spool path of ch under dir.
func SpoolPath(dir string, ch types.Channel) string {
	return filepath.Join(dir, ch.String()+".spool")
}

// StagedLinkPath names the n-th extra link to a spool file. Links share the
// spool's directory so they stay on its filesystem.
func StagedLinkPath(spoolPath string, n uint64) string {
	return fmt.Sprintf("%s.staged-%d", spoolPath, n)
}

// StagedLinks lists the staged links left next to spoolPath.
func StagedLinks(spoolPath string) ([]string, error) {
	return filepath.Glob(spoolPath + ".staged-*")
}

// Telemetry samples the pools.
func (s *Selector) Telemetry() memory.Telemetry {
	return memory.Sample(s.primary, s.secondary)
}

// Primary returns the primary pool.
func (s *Selector) Primary() memory.Pool { return s.primary }

// Select chooses and creates the backing for a session of expected bytes.
//
// The ladder is: threshold from telemetry; spool if expected exceeds it;
// otherwise a memory buffer guarded by the safety margin, retried once after
// Compact; spool if memory still cannot be had. Only a spool creation
// failure is returned as an error (ErrStorageIO).
func (s *Selector) Select(ch types.Channel, expected int64) (Backing, Decision, error) {
	tel := s.Telemetry()
	tier, threshold := s.config.Tiers.Threshold(tel)
	d := Decision{Tier: tier, Threshold: threshold, Telemetry: tel}

	if expected > threshold {
		return s.spool(ch, expected, d, RungSpoolThreshold)
	}

	pool := s.primary
	if s.secondary != nil && tel.SecondaryCapacity > 0 {
		pool = s.secondary
	}
	d.Pool = pool.Name()

	required := int64(float64(expected) * s.config.SafetyMultiplier)
	if free := pool.Free(); free < required {
		s.logger.Warn("insufficient memory margin, spooling", map[string]any{
			"channel":  ch.String(),
			"pool":     pool.Name(),
			"required": required,
			"free":     free,
		})
		return s.spool(ch, expected, d, RungSpoolMargin)
	}

	buf, err := pool.Alloc(expected)
	if err != nil {
		s.logger.Warn("buffer allocation failed, compacting", map[string]any{
			"channel": ch.String(),
			"pool":    pool.Name(),
			"size":    expected,
			"free":    pool.Free(),
			"error":   err.Error(),
		})
		pool.Compact()
		d.Compacted = true
		buf, err = pool.Alloc(expected)
		if err != nil {
			s.logger.Warn("allocation failed after compaction, spooling", map[string]any{
				"channel": ch.String(),
				"pool":    pool.Name(),
				"free":    pool.Free(),
				"error":   err.Error(),
			})
			return s.spool(ch, expected, d, RungSpoolAllocFailed)
		}
		d.Rung = RungMemoryAfterCompact
	} else {
		d.Rung = RungMemory
	}

	d.Kind = types.BackingMemory
	s.logDecision(ch, expected, d)
	return NewMemoryBacking(pool, buf), d, nil
}

func (s *Selector) spool(ch types.Channel, expected int64, d Decision, rung Rung) (Backing, Decision, error) {
	d.Kind = types.BackingSpool
	d.Rung = rung
	d.Pool = ""
	b, err := createSpool(s.SpoolPath(ch), s.config.Yielder, &s.slots[ch])
	if err != nil {
		s.logger.Error("spool creation failed", map[string]any{
			"channel": ch.String(),
			"path":    s.SpoolPath(ch),
			"error":   err.Error(),
		})
		return nil, d, types.NewTransferError(types.ErrStorageIO, ch, "create spool", err)
	}
	s.logDecision(ch, expected, d)
	return b, d, nil
}

func (s *Selector) logDecision(ch types.Channel, expected int64, d Decision) {
	s.logger.Info("storage selected", map[string]any{
		"channel":      ch.String(),
		"expected":     expected,
		"backing":      d.Kind.String(),
		"rung":         string(d.Rung),
		"tier":         string(d.Tier),
		"threshold":    d.Threshold,
		"primary_free": d.Telemetry.PrimaryFree,
		"min_free":     d.Telemetry.PrimaryMinFree,
		"secondary":    d.Telemetry.SecondaryCapacity,
		"pool":         d.Pool,
	})
}
