package memory

import "fmt"

// Telemetry is a point-in-time view of the memory pools.
type Telemetry struct {
	PrimaryFree       int64
	PrimaryMinFree    int64
	SecondaryCapacity int64
}

// Sample reads telemetry from primary and an optional secondary pool.
func Sample(primary, secondary Pool) Telemetry {
	t := Telemetry{
		PrimaryFree:    primary.Free(),
		PrimaryMinFree: primary.MinFree(),
	}
	if secondary != nil {
		t.SecondaryCapacity = secondary.Capacity()
	}
	return t
}

// Tier names the rung of the threshold table that applied.
type Tier string

// Tiers in evaluation order.
const (
	TierSecondary Tier = "secondary"
	TierHigh      Tier = "high"
	TierLow       Tier = "low"
	TierDefault   Tier = "default"
)

// Tiers maps memory telemetry to an in-memory size threshold.
// Artifacts larger than the threshold are spooled.
type Tiers struct {
	// SecondaryThreshold applies whenever a secondary pool is present.
	SecondaryThreshold int64 `yaml:"secondary_threshold"`
	// HighFree is the primary free level at or above which HighThreshold applies.
	HighFree int64 `yaml:"high_free"`
	// HighThreshold is the threshold under low memory pressure.
	HighThreshold int64 `yaml:"high_threshold"`
	// LowFree is the primary free level below which LowThreshold applies.
	LowFree int64 `yaml:"low_free"`
	// LowThreshold is the threshold under high memory pressure.
	LowThreshold int64 `yaml:"low_threshold"`
	// DefaultThreshold applies between LowFree and HighFree.
	DefaultThreshold int64 `yaml:"default_threshold"`
}

// DefaultTiers returns the stock threshold table.
func DefaultTiers() Tiers {
	return Tiers{
		SecondaryThreshold: 512 * 1024,
		HighFree:           128 * 1024,
		HighThreshold:      96 * 1024,
		LowFree:            64 * 1024,
		LowThreshold:       32 * 1024,
		DefaultThreshold:   64 * 1024,
	}
}

// Threshold returns the tier and in-memory threshold for t.
func (ts Tiers) Threshold(t Telemetry) (Tier, int64) {
	switch {
	case t.SecondaryCapacity > 0:
		return TierSecondary, ts.SecondaryThreshold
	case t.PrimaryFree >= ts.HighFree:
		return TierHigh, ts.HighThreshold
	case t.PrimaryFree < ts.LowFree:
		return TierLow, ts.LowThreshold
	default:
		return TierDefault, ts.DefaultThreshold
	}
}

// Validate checks the table is ordered and positive.
func (ts Tiers) Validate() error {
	for name, v := range map[string]int64{
		"secondary_threshold": ts.SecondaryThreshold,
		"high_free":           ts.HighFree,
		"high_threshold":      ts.HighThreshold,
		"low_free":            ts.LowFree,
		"low_threshold":       ts.LowThreshold,
		"default_threshold":   ts.DefaultThreshold,
	} {
		if v <= 0 {
			return fmt.Errorf("memory tiers: %s must be positive, got %d", name, v)
		}
	}
	if ts.LowFree > ts.HighFree {
		return fmt.Errorf("memory tiers: low_free %d exceeds high_free %d", ts.LowFree, ts.HighFree)
	}
	if ts.LowThreshold > ts.DefaultThreshold || ts.DefaultThreshold > ts.HighThreshold {
		return fmt.Errorf("memory tiers: thresholds must satisfy low <= default <= high")
	}
	return nil
}
