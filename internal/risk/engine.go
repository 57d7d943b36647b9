// Package risk turns aggregated urban indicators into calibrated risk levels,
// propagates hypothetical interventions across domains through a static cascade
// graph, and compares the results.
//
// Everything here is a pure function of its inputs plus the read-only Graph and
// Config held by an Engine, so an Engine may be shared by any number of
// goroutines without locking.
package risk

import (
	"fmt"
	"time"

	"github.com/lox/urbanrisk/internal/models"
)

type Engine struct {
	graph *Graph
	cfg   Config
	now   func() time.Time
}

// NewEngine validates cfg and binds it to graph.
func NewEngine(graph *Graph, cfg Config) (*Engine, error) {
	if graph == nil {
		return nil, &GraphIntegrityError{Problems: []string{"no graph loaded"}}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	return &Engine{graph: graph, cfg: cfg, now: time.Now}, nil
}

// WithClock returns a copy of e that stamps assessments using now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	cp := *e
	cp.now = now
	return &cp
}

func (e *Engine) Graph() *Graph {
	return e.graph
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Assess produces the static risk assessment of state.
func (e *Engine) Assess(state models.CurrentState) (Assessment, error) {
	a, _, err := e.assess(state, nil, e.now())
	return a, err
}

func (e *Engine) assess(state models.CurrentState, fired []FiredEdge, at time.Time) (Assessment, DomainSeverity, error) {
	sev, err := Normalize(state, e.cfg)
	if err != nil {
		return Assessment{}, sev, err
	}
	a := Classify(sev, e.cfg)
	a.CausalExplanations = Explain(sev, a, fired, e.cfg)
	a.City = state.City
	a.Timestamp = at
	return a, sev, nil
}

// Simulate assesses baseline, applies and propagates mods, assesses the result
// and compares the two.
func (e *Engine) Simulate(baseline models.CurrentState, mods models.Modification) (ScenarioResult, error) {
	at := e.now()

	before, _, err := e.assess(baseline, nil, at)
	if err != nil {
		return ScenarioResult{}, fmt.Errorf("baseline: %w", err)
	}

	prop, err := e.graph.Propagate(baseline, mods, e.cfg.Cascade)
	if err != nil {
		return ScenarioResult{}, fmt.Errorf("propagate: %w", err)
	}

	after, _, err := e.assess(prop.State, prop.Fired, at)
	if err != nil {
		return ScenarioResult{}, fmt.Errorf("intervention: %w", err)
	}

	res := compare(before, after, baseline, prop.Applied, e.cfg)
	res.Fired = prop.Fired
	res.Rounds = prop.Rounds
	return res, nil
}
