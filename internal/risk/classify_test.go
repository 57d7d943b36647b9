package risk

import (
	"math"
	"testing"
)

func TestProbabilityMonotonic(t *testing.T) {
	curve := DefaultConfig().Curve

	if got := Probability(0, curve); got != 0 {
		t.Errorf("Probability(0) = %v, want 0", got)
	}
	if got := Probability(1, curve); got != 1 {
		t.Errorf("Probability(1) = %v, want 1", got)
	}

	prev := -1.0
	for i := 0; i <= 1000; i++ {
		s := float64(i) / 1000
		p := Probability(s, curve)
		if p < prev {
			t.Fatalf("Probability(%v) = %v < Probability(previous) = %v", s, p, prev)
		}
		if p < 0 || p > 1 {
			t.Fatalf("Probability(%v) = %v outside [0,1]", s, p)
		}
		prev = p
	}
}

func TestProbabilityPenalizesSevereReadings(t *testing.T) {
	curve := DefaultConfig().Curve

	below := Probability(0.6, curve) - Probability(0.5, curve)
	above := Probability(0.9, curve) - Probability(0.8, curve)
	if above <= below {
		t.Errorf("slope above knee (%v) should exceed slope below knee (%v)", above, below)
	}
}

func TestLevelFor(t *testing.T) {
	th := DefaultConfig().Thresholds
	tests := []struct {
		p    float64
		want Level
	}{
		{0, LevelLow},
		{0.1, LevelLow},
		{0.2499, LevelLow},
		{0.25, LevelMedium},
		{0.4, LevelMedium},
		{0.4999, LevelMedium},
		{0.5, LevelHigh},
		{0.7499, LevelHigh},
		{0.75, LevelCritical},
		{0.9, LevelCritical},
		{1, LevelCritical},
	}

	for _, tt := range tests {
		if got := LevelFor(tt.p, th); got != tt.want {
			t.Errorf("LevelFor(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestLevelForStraddlesThresholds(t *testing.T) {
	th := DefaultConfig().Thresholds
	const eps = 1e-9

	for _, cut := range []float64{th.Medium, th.High, th.Critical} {
		lo := LevelFor(cut-eps, th)
		hi := LevelFor(cut, th)
		if lo == hi {
			t.Errorf("levels either side of %v both %v", cut, lo)
		}
		if hi.Rank() != lo.Rank()+1 {
			t.Errorf("crossing %v went from %v to %v, want one step", cut, lo, hi)
		}
	}
}

func TestLevelRankOrdering(t *testing.T) {
	levels := []Level{LevelLow, LevelMedium, LevelHigh, LevelCritical}
	for i := 1; i < len(levels); i++ {
		if levels[i].Rank() <= levels[i-1].Rank() {
			t.Errorf("%v should rank above %v", levels[i], levels[i-1])
		}
	}
	if Level("unknown").Rank() != -1 {
		t.Error("unknown level should rank -1")
	}
	if LevelMedium.Elevated() || !LevelHigh.Elevated() || !LevelCritical.Elevated() {
		t.Error("only high and critical are elevated")
	}
}

func TestResilienceStrictlyDecreasing(t *testing.T) {
	damping := DefaultConfig().ResilienceDamping

	prev := math.Inf(1)
	for i := 0; i <= 100; i++ {
		worst := float64(i) / 100
		r := Resilience(damping, 0.1, worst, 0.05)
		if worst >= 0.1 && r >= prev {
			t.Fatalf("Resilience with max %v = %v, not below previous %v", worst, r, prev)
		}
		if worst >= 0.1 {
			prev = r
		}
	}
}

func TestResilienceIgnoresNonWorstDomains(t *testing.T) {
	damping := DefaultConfig().ResilienceDamping

	a := Resilience(damping, 0.8, 0.1, 0.1)
	b := Resilience(damping, 0.8, 0.7, 0.79)
	if a != b {
		t.Errorf("Resilience changed with non-worst domains: %v vs %v", a, b)
	}

	// One critical domain cannot be masked by healthy ones.
	if got, limit := Resilience(damping, 0.9, 0, 0), 1-0.9*damping; got > limit+1e-12 {
		t.Errorf("Resilience = %v, want <= %v", got, limit)
	}
}

func TestClassifyUsesSharedThresholds(t *testing.T) {
	cfg := DefaultConfig()
	sev := DomainSeverity{Severity: map[Domain]float64{
		Environmental: 0.62,
		Health:        0.62,
		FoodSecurity:  0.2,
	}}

	a := Classify(sev, cfg)
	if a.EnvironmentalProb != a.HealthProb || a.EnvironmentalRisk != a.HealthRisk {
		t.Errorf("equal severities classified differently: env %v/%v health %v/%v",
			a.EnvironmentalRisk, a.EnvironmentalProb, a.HealthRisk, a.HealthProb)
	}
	if a.EnvironmentalRisk != LevelHigh {
		t.Errorf("EnvironmentalRisk = %v, want high", a.EnvironmentalRisk)
	}
	if a.FoodSecurityRisk != LevelLow {
		t.Errorf("FoodSecurityRisk = %v, want low", a.FoodSecurityRisk)
	}
	if a.CausalExplanations == nil {
		t.Error("CausalExplanations should be an empty list, not nil")
	}
}
