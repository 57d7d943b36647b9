package risk

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lox/urbanrisk/internal/models"
)

// Domain is an independent risk category fed by a disjoint set of indicators.
type Domain string

const (
	Environmental Domain = "environmental"
	Health        Domain = "health"
	FoodSecurity  Domain = "food_security"
)

// Domains lists the domains in reporting order.
var Domains = []Domain{Environmental, Health, FoodSecurity}

// Calibration maps one raw indicator onto a domain's [0,1] severity scale.
type Calibration struct {
	Indicator models.Indicator `yaml:"indicator"`
	Weight    float64          `yaml:"weight"`
	Lo        float64          `yaml:"lo"`
	Hi        float64          `yaml:"hi"`
	Invert    bool             `yaml:"invert,omitempty"` // higher raw value means lower severity
}

// ProbabilityCurve is a convex piecewise-linear curve through (0,0),
// (Knee, KneeProbability) and (1,1).
type ProbabilityCurve struct {
	Knee            float64 `yaml:"knee"`
	KneeProbability float64 `yaml:"knee_probability"`
}

// Thresholds are the probability cut points shared by every domain.
type Thresholds struct {
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

type CascadeConfig struct {
	Epsilon         float64 `yaml:"epsilon"`          // fraction of reference span
	MaxRounds       int     `yaml:"max_rounds"`       // bound on propagation rounds
	MinSignificance float64 `yaml:"min_significance"` // fraction of reference span worth explaining
}

// Economics holds the monetary proxies used by the scenario simulator. All
// values are assumptions, not derived data.
type Economics struct {
	// DomainValue is the value of reducing a domain's probability by 1.0.
	DomainValue map[Domain]float64 `yaml:"domain_value"`
	// UnitCost is the cost of moving an indicator by one unit. Indicators
	// without a positive cost are not cost-bearing.
	UnitCost map[models.Indicator]float64 `yaml:"unit_cost"`
}

// Config collects every tunable constant of the engine.
type Config struct {
	Calibration       map[Domain][]Calibration `yaml:"calibration"`
	Curve             ProbabilityCurve         `yaml:"probability_curve"`
	Thresholds        Thresholds               `yaml:"thresholds"`
	ResilienceDamping float64                  `yaml:"resilience_damping"`
	DomainWeights     map[Domain]float64       `yaml:"domain_weights"`
	DefaultSeverity   float64                  `yaml:"default_severity"`
	Cascade           CascadeConfig            `yaml:"cascade"`
	Economics         Economics                `yaml:"economics"`
}

func ref(name models.Indicator, weight float64, invert bool) Calibration {
	spec, _ := models.LookupIndicator(name)
	return Calibration{Indicator: name, Weight: weight, Lo: spec.RefLo, Hi: spec.RefHi, Invert: invert}
}

// DefaultConfig returns placeholder calibration values. They are not a fitted
// calibration; override them with LoadConfig once a domain source exists.
func DefaultConfig() Config {
	return Config{
		Calibration: map[Domain][]Calibration{
			Environmental: {
				ref(models.AQI, 0.30, false),
				ref(models.PM25, 0.15, false),
				ref(models.PM10, 0.10, false),
				ref(models.TrafficVolume, 0.15, false),
				ref(models.TrafficCongestionIndex, 0.15, false),
				ref(models.WindSpeed, 0.15, true),
			},
			Health: {
				ref(models.RespiratoryCases, 0.35, false),
				ref(models.HospitalLoad, 0.20, false),
				ref(models.BedOccupancyPercent, 0.25, false),
				ref(models.Temperature, 0.10, false),
				ref(models.Humidity, 0.10, false),
			},
			FoodSecurity: {
				ref(models.CropSupplyIndex, 0.40, true),
				ref(models.FoodPriceIndex, 0.30, false),
				ref(models.FoodPriceVolatility, 0.30, false),
			},
		},
		Curve:             ProbabilityCurve{Knee: 0.7, KneeProbability: 0.63},
		Thresholds:        Thresholds{Medium: 0.25, High: 0.5, Critical: 0.75},
		ResilienceDamping: 0.95,
		DomainWeights: map[Domain]float64{
			Environmental: 0.35,
			Health:        0.40,
			FoodSecurity:  0.25,
		},
		DefaultSeverity: 0.5,
		Cascade: CascadeConfig{
			Epsilon:         1e-6,
			MaxRounds:       16,
			MinSignificance: 0.01,
		},
		Economics: Economics{
			DomainValue: map[Domain]float64{
				Environmental: 20_000_000,
				Health:        50_000_000,
				FoodSecurity:  30_000_000,
			},
			UnitCost: map[models.Indicator]float64{
				models.AQI:                 25_000,
				models.TrafficVolume:       4_000,
				models.CropSupplyIndex:     60_000_000,
				models.RespiratoryCases:    20_000,
				models.HospitalLoad:        40_000_000,
				models.BedOccupancyPercent: 300_000,
			},
		},
	}
}

// LoadConfig reads a YAML override file on top of DefaultConfig. Map entries
// merge key by key; a domain's calibration list is replaced as a whole.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read engine config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

const weightTolerance = 1e-9

// Validate checks the structural invariants the engine relies on.
func (c Config) Validate() error {
	seen := make(map[models.Indicator]Domain)
	for _, d := range Domains {
		cals := c.Calibration[d]
		if len(cals) == 0 {
			return fmt.Errorf("calibration for %s: no indicators", d)
		}
		var sum float64
		for _, cal := range cals {
			if _, ok := models.LookupIndicator(cal.Indicator); !ok {
				return fmt.Errorf("calibration for %s: unknown indicator %q", d, cal.Indicator)
			}
			if prev, dup := seen[cal.Indicator]; dup {
				return fmt.Errorf("calibration: %s used by both %s and %s", cal.Indicator, prev, d)
			}
			seen[cal.Indicator] = d
			if cal.Weight <= 0 {
				return fmt.Errorf("calibration for %s: %s weight must be positive", d, cal.Indicator)
			}
			if cal.Hi <= cal.Lo {
				return fmt.Errorf("calibration for %s: %s range [%g, %g] is empty", d, cal.Indicator, cal.Lo, cal.Hi)
			}
			sum += cal.Weight
		}
		if math.Abs(sum-1) > weightTolerance {
			return fmt.Errorf("calibration for %s: weights sum to %g, want 1", d, sum)
		}
	}

	k, kp := c.Curve.Knee, c.Curve.KneeProbability
	if k <= 0 || k >= 1 || kp <= 0 || kp >= 1 {
		return fmt.Errorf("probability curve: knee (%g, %g) must lie strictly inside the unit square", k, kp)
	}
	if kp/k > (1-kp)/(1-k) {
		return fmt.Errorf("probability curve: knee (%g, %g) makes the curve concave", k, kp)
	}

	t := c.Thresholds
	if !(0 < t.Medium && t.Medium < t.High && t.High < t.Critical && t.Critical < 1) {
		return fmt.Errorf("thresholds must be strictly increasing inside (0,1): %+v", t)
	}
	if c.ResilienceDamping <= 0 || c.ResilienceDamping > 1 {
		return fmt.Errorf("resilience damping %g must be in (0,1]", c.ResilienceDamping)
	}
	if c.DefaultSeverity < 0 || c.DefaultSeverity > 1 {
		return fmt.Errorf("default severity %g must be in [0,1]", c.DefaultSeverity)
	}

	var wsum float64
	for _, d := range Domains {
		w := c.DomainWeights[d]
		if w < 0 {
			return fmt.Errorf("domain weight for %s must not be negative", d)
		}
		wsum += w
	}
	if math.Abs(wsum-1) > weightTolerance {
		return fmt.Errorf("domain weights sum to %g, want 1", wsum)
	}

	if c.Cascade.MaxRounds < 1 {
		return fmt.Errorf("cascade max_rounds must be at least 1")
	}
	if c.Cascade.Epsilon <= 0 {
		return fmt.Errorf("cascade epsilon must be positive")
	}
	for name, cost := range c.Economics.UnitCost {
		if _, ok := models.LookupIndicator(name); !ok {
			return fmt.Errorf("economics: unknown indicator %q", name)
		}
		if cost < 0 {
			return fmt.Errorf("economics: %s unit cost must not be negative", name)
		}
	}
	return nil
}
