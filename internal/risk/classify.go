package risk

import (
	"math"
	"time"

	"github.com/lox/urbanrisk/internal/models"
)

// Level is a discrete risk level. Levels are ordered low < medium < high < critical.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Rank returns the level's position in the ordering, or -1 for unknown levels.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 0
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return -1
	}
}

// Elevated reports whether the level warrants an explanation.
func (l Level) Elevated() bool {
	return l.Rank() >= LevelHigh.Rank()
}

// Assessment is the classified risk picture for one city at one moment.
type Assessment struct {
	EnvironmentalRisk  Level     `json:"environmental_risk"`
	EnvironmentalProb  float64   `json:"environmental_prob"`
	HealthRisk         Level     `json:"health_risk"`
	HealthProb         float64   `json:"health_prob"`
	FoodSecurityRisk   Level     `json:"food_security_risk"`
	FoodSecurityProb   float64   `json:"food_security_prob"`
	ResilienceScore    float64   `json:"resilience_score"`
	CausalExplanations []string  `json:"causal_explanations"`
	City               string    `json:"city"`
	Timestamp          time.Time `json:"timestamp"`
}

// Prob returns the probability for d.
func (a Assessment) Prob(d Domain) float64 {
	switch d {
	case Environmental:
		return a.EnvironmentalProb
	case Health:
		return a.HealthProb
	case FoodSecurity:
		return a.FoodSecurityProb
	}
	return 0
}

// Level returns the level for d.
func (a Assessment) Level(d Domain) Level {
	switch d {
	case Environmental:
		return a.EnvironmentalRisk
	case Health:
		return a.HealthRisk
	case FoodSecurity:
		return a.FoodSecurityRisk
	}
	return ""
}

// Record flattens the assessment for the history table.
func (a Assessment) Record(state string) models.AssessmentRecord {
	return models.AssessmentRecord{
		City:              a.City,
		State:             state,
		AssessedAt:        a.Timestamp,
		EnvironmentalRisk: string(a.EnvironmentalRisk),
		EnvironmentalProb: a.EnvironmentalProb,
		HealthRisk:        string(a.HealthRisk),
		HealthProb:        a.HealthProb,
		FoodSecurityRisk:  string(a.FoodSecurityRisk),
		FoodSecurityProb:  a.FoodSecurityProb,
		ResilienceScore:   a.ResilienceScore,
	}
}

// Probability maps a severity in [0,1] to a probability in [0,1]. Below the knee
// the slope is gentle; above it the curve climbs more steeply so that severe
// readings are penalized. It maps 0 to 0 and 1 to 1 and never decreases.
func Probability(s float64, curve ProbabilityCurve) float64 {
	if s >= 1 {
		return 1
	}
	s = math.Max(0, s)
	k, kp := curve.Knee, curve.KneeProbability
	if s <= k {
		return s * kp / k
	}
	p := kp + (s-k)*(1-kp)/(1-k)
	return math.Min(1, p)
}

// LevelFor thresholds a probability. The mapping depends only on p, never on the
// domain that produced it.
func LevelFor(p float64, t Thresholds) Level {
	switch {
	case p >= t.Critical:
		return LevelCritical
	case p >= t.High:
		return LevelHigh
	case p >= t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Resilience is driven by the worst domain only: 1 - damping*max(probs).
func Resilience(damping float64, probs ...float64) float64 {
	worst := 0.0
	for _, p := range probs {
		worst = math.Max(worst, p)
	}
	return math.Max(0, math.Min(1, 1-damping*worst))
}

// Classify converts severities into an assessment. Explanations, city and
// timestamp are left for the caller to fill in.
func Classify(sev DomainSeverity, cfg Config) Assessment {
	env := Probability(sev.Of(Environmental), cfg.Curve)
	health := Probability(sev.Of(Health), cfg.Curve)
	food := Probability(sev.Of(FoodSecurity), cfg.Curve)

	return Assessment{
		EnvironmentalRisk:  LevelFor(env, cfg.Thresholds),
		EnvironmentalProb:  env,
		HealthRisk:         LevelFor(health, cfg.Thresholds),
		HealthProb:         health,
		FoodSecurityRisk:   LevelFor(food, cfg.Thresholds),
		FoodSecurityProb:   food,
		ResilienceScore:    Resilience(cfg.ResilienceDamping, env, health, food),
		CausalExplanations: []string{},
	}
}
