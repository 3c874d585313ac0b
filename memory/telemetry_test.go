package memory

import "testing"

func TestTiers_Threshold(t *testing.T) {
	ts := DefaultTiers()
	tests := []struct {
		name     string
		tel      Telemetry
		wantTier Tier
		want     int64
	}{
		{"secondary present", Telemetry{PrimaryFree: 1024, SecondaryCapacity: 4 << 20}, TierSecondary, 512 * 1024},
		{"plenty primary", Telemetry{PrimaryFree: 200 * 1024}, TierHigh, 96 * 1024},
		{"exactly high", Telemetry{PrimaryFree: 128 * 1024}, TierHigh, 96 * 1024},
		{"middle", Telemetry{PrimaryFree: 100 * 1024}, TierDefault, 64 * 1024},
		{"exactly low", Telemetry{PrimaryFree: 64 * 1024}, TierDefault, 64 * 1024},
		{"scarce", Telemetry{PrimaryFree: 10 * 1024}, TierLow, 32 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, th := ts.Threshold(tt.tel)
			if tier != tt.wantTier || th != tt.want {
				t.Errorf("Threshold = (%s, %d), want (%s, %d)", tier, th, tt.wantTier, tt.want)
			}
		})
	}
}

func TestTiers_Validate(t *testing.T) {
	if err := DefaultTiers().Validate(); err != nil {
		t.Fatalf("default tiers invalid: %v", err)
	}

	bad := DefaultTiers()
	bad.LowFree = bad.HighFree + 1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for low_free > high_free")
	}

	bad = DefaultTiers()
	bad.LowThreshold = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero threshold")
	}

	bad = DefaultTiers()
	bad.LowThreshold = bad.HighThreshold + 1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unordered thresholds")
	}
}

func TestSample(t *testing.T) {
	p := NewArena("primary", 1000)
	if _, err := p.Alloc(300); err != nil {
		t.Fatal(err)
	}

	tel := Sample(p, nil)
	if tel.PrimaryFree != 700 || tel.PrimaryMinFree != 700 || tel.SecondaryCapacity != 0 {
		t.Errorf("Sample = %+v", tel)
	}

	s := NewArena("secondary", 4000)
	if got := Sample(p, s).SecondaryCapacity; got != 4000 {
		t.Errorf("SecondaryCapacity = %d, want 4000", got)
	}
}
