package risk

import (
	"math"

	"github.com/lox/urbanrisk/internal/models"
)

// ScenarioResult compares a baseline assessment with the assessment after an
// intervention has been applied and propagated.
type ScenarioResult struct {
	City                   string              `json:"city"`
	BaselineRisks          Assessment          `json:"baseline_risks"`
	InterventionRisks      Assessment          `json:"intervention_risks"`
	Improvements           map[Domain]float64  `json:"improvements"`
	OverallImprovement     float64             `json:"overall_improvement"`
	EconomicImpactEstimate *float64            `json:"economic_impact_estimate"`
	ROIEstimate            *float64            `json:"roi_estimate"`
	InterventionsApplied   models.Modification `json:"interventions_applied"`

	// Fired holds the cascade edges that carried change, for callers that want
	// more than the explanation text.
	Fired  []FiredEdge `json:"-"`
	Rounds int         `json:"-"`
}

// Improvement is the percentage reduction from baseline to intervention. A zero
// baseline has nothing to improve on, so it is defined as 0 rather than NaN.
func Improvement(baseline, intervention float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (baseline - intervention) / baseline * 100
}

// InterventionCost prices a modification with the unit cost table. Only
// supplied, cost-bearing indicators that actually move count.
func InterventionCost(baseline models.CurrentState, applied models.Modification, econ Economics) float64 {
	var cost float64
	for name, v := range applied {
		unit := econ.UnitCost[name]
		if unit <= 0 {
			continue
		}
		base, ok := baseline.Value(name)
		if !ok {
			continue
		}
		cost += math.Abs(v-base) * unit
	}
	return cost
}

// EconomicImpact values the probability change of each domain. Worsening a
// domain contributes negatively.
func EconomicImpact(baseline, intervention Assessment, econ Economics) float64 {
	var impact float64
	for _, d := range Domains {
		impact += (baseline.Prob(d) - intervention.Prob(d)) * econ.DomainValue[d]
	}
	return impact
}

func compare(baseline, intervention Assessment, state models.CurrentState, applied models.Modification, cfg Config) ScenarioResult {
	res := ScenarioResult{
		City:                 baseline.City,
		BaselineRisks:        baseline,
		InterventionRisks:    intervention,
		Improvements:         make(map[Domain]float64, len(Domains)),
		InterventionsApplied: applied,
	}
	for _, d := range Domains {
		imp := Improvement(baseline.Prob(d), intervention.Prob(d))
		res.Improvements[d] = imp
		res.OverallImprovement += imp * cfg.DomainWeights[d]
	}

	cost := InterventionCost(state, applied, cfg.Economics)
	if cost > 0 {
		impact := EconomicImpact(baseline, intervention, cfg.Economics)
		roi := (impact - cost) / cost * 100
		res.EconomicImpactEstimate = &impact
		res.ROIEstimate = &roi
	}
	return res
}
