package risk

import (
	"math"
	"sort"

	"github.com/lox/urbanrisk/internal/models"
)

// Contribution records how one indicator fed its domain's severity.
type Contribution struct {
	Indicator  models.Indicator
	Raw        float64 // zero when Defaulted
	Normalized float64
	Weight     float64
	Defaulted  bool
}

// Weighted returns the share of domain severity this indicator accounts for.
func (c Contribution) Weighted() float64 {
	return c.Weight * c.Normalized
}

// DomainSeverity is the normalized [0,1] severity of each domain together with
// the contributions that produced it.
type DomainSeverity struct {
	Severity      map[Domain]float64
	Contributions map[Domain][]Contribution
}

// Of returns the severity of d.
func (s DomainSeverity) Of(d Domain) float64 {
	return s.Severity[d]
}

// Dominant returns the contribution with the largest weighted share in d.
// Ties go to the indicator listed first in the calibration table.
func (s DomainSeverity) Dominant(d Domain) (Contribution, bool) {
	var best Contribution
	found := false
	for _, c := range s.Contributions[d] {
		if !found || c.Weighted() > best.Weighted() {
			best = c
			found = true
		}
	}
	return best, found
}

// Defaulted lists indicators that were missing and scored neutrally, by name.
func (s DomainSeverity) Defaulted() []models.Indicator {
	var out []models.Indicator
	for _, d := range Domains {
		for _, c := range s.Contributions[d] {
			if c.Defaulted {
				out = append(out, c.Indicator)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// calibrate maps a raw value onto [0,1]. The curve is monotonic: non-decreasing
// in v, or non-increasing when cal.Invert is set.
func calibrate(cal Calibration, v float64) float64 {
	x := (v - cal.Lo) / (cal.Hi - cal.Lo)
	x = math.Max(0, math.Min(1, x))
	if cal.Invert {
		return 1 - x
	}
	return x
}

// Normalize computes per-domain severities for state. Missing indicators score
// cfg.DefaultSeverity and are flagged; a state with no indicators at all yields
// a MissingDataError. Negative or non-finite raw values are rejected.
func Normalize(state models.CurrentState, cfg Config) (DomainSeverity, error) {
	if state.Len() == 0 {
		return DomainSeverity{}, &MissingDataError{City: state.City}
	}

	sev := DomainSeverity{
		Severity:      make(map[Domain]float64, len(Domains)),
		Contributions: make(map[Domain][]Contribution, len(Domains)),
	}

	present := 0
	for _, d := range Domains {
		cals := cfg.Calibration[d]
		contribs := make([]Contribution, 0, len(cals))
		var total float64
		for _, cal := range cals {
			c := Contribution{Indicator: cal.Indicator, Weight: cal.Weight}
			if v, ok := state.Value(cal.Indicator); ok {
				if _, err := checkValue(cal.Indicator, v); err != nil {
					return DomainSeverity{}, err
				}
				c.Raw = v
				c.Normalized = calibrate(cal, v)
				present++
			} else {
				c.Normalized = cfg.DefaultSeverity
				c.Defaulted = true
			}
			total += c.Weighted()
			contribs = append(contribs, c)
		}
		sev.Severity[d] = math.Max(0, math.Min(1, total))
		sev.Contributions[d] = contribs
	}

	if present == 0 {
		return DomainSeverity{}, &MissingDataError{City: state.City}
	}
	return sev, nil
}
