package risk

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lox/urbanrisk/internal/models"
)

//go:embed cascade.yaml
var defaultGraphYAML []byte

// Edge is a directed influence from one indicator to another.
type Edge struct {
	Source models.Indicator `yaml:"source" json:"source"`
	Target models.Indicator `yaml:"target" json:"target"`
	Weight float64          `yaml:"weight" json:"weight"`
	Decay  float64          `yaml:"decay,omitempty" json:"decay,omitempty"`
}

func (e Edge) factor() float64 {
	if e.Decay == 0 {
		return e.Weight
	}
	return e.Weight * e.Decay
}

func (e Edge) String() string {
	return fmt.Sprintf("%s→%s", e.Source, e.Target)
}

type graphFile struct {
	Edges []Edge `yaml:"edges"`
}

// Graph is the static, acyclic cascade graph. It is immutable after
// construction and safe for concurrent use.
type Graph struct {
	edges    []Edge
	outgoing map[models.Indicator][]int
	order    []models.Indicator
	rank     map[models.Indicator]int
}

// NewGraph validates edges and builds the graph. Unknown indicators, bad
// weights, duplicates and cycles all produce a GraphIntegrityError.
func NewGraph(edges []Edge) (*Graph, error) {
	var problems []string
	seen := make(map[[2]models.Indicator]bool)
	for i, e := range edges {
		if _, ok := models.LookupIndicator(e.Source); !ok {
			problems = append(problems, fmt.Sprintf("edge %d: unknown source %q", i, e.Source))
		}
		if _, ok := models.LookupIndicator(e.Target); !ok {
			problems = append(problems, fmt.Sprintf("edge %d: unknown target %q", i, e.Target))
		}
		if e.Source == e.Target {
			problems = append(problems, fmt.Sprintf("edge %d: %s points at itself", i, e.Source))
		}
		if math.IsNaN(e.Weight) || e.Weight == 0 || math.Abs(e.Weight) > 1 {
			problems = append(problems, fmt.Sprintf("edge %d (%s): weight %g outside [-1,0)∪(0,1]", i, e, e.Weight))
		}
		if e.Decay < 0 || e.Decay > 1 || math.IsNaN(e.Decay) {
			problems = append(problems, fmt.Sprintf("edge %d (%s): decay %g outside (0,1]", i, e, e.Decay))
		}
		key := [2]models.Indicator{e.Source, e.Target}
		if seen[key] {
			problems = append(problems, fmt.Sprintf("edge %d: duplicate %s", i, e))
		}
		seen[key] = true
	}
	if len(problems) > 0 {
		return nil, &GraphIntegrityError{Problems: problems}
	}

	g := &Graph{
		edges:    append([]Edge(nil), edges...),
		outgoing: make(map[models.Indicator][]int),
		rank:     make(map[models.Indicator]int),
	}
	for i, e := range g.edges {
		g.outgoing[e.Source] = append(g.outgoing[e.Source], i)
	}

	order, err := topoSort(g.edges)
	if err != nil {
		return nil, err
	}
	g.order = order
	for i, name := range order {
		g.rank[name] = i
	}
	return g, nil
}

// topoSort is Kahn's algorithm with a name-ordered queue so the result is
// deterministic. Any node left over sits on a cycle.
func topoSort(edges []Edge) ([]models.Indicator, error) {
	indegree := make(map[models.Indicator]int)
	next := make(map[models.Indicator][]models.Indicator)
	for _, e := range edges {
		if _, ok := indegree[e.Source]; !ok {
			indegree[e.Source] = 0
		}
		indegree[e.Target]++
		next[e.Source] = append(next[e.Source], e.Target)
	}

	var ready []models.Indicator
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]models.Indicator, 0, len(indegree))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, t := range next[name] {
			indegree[t]--
			if indegree[t] == 0 {
				ready = append(ready, t)
			}
		}
	}

	if len(order) != len(indegree) {
		var stuck []string
		for name, n := range indegree {
			if n > 0 {
				stuck = append(stuck, string(name))
			}
		}
		sort.Strings(stuck)
		return nil, &GraphIntegrityError{Problems: []string{fmt.Sprintf("cycle through %v", stuck)}}
	}
	return order, nil
}

// ParseGraph decodes a YAML edge list.
func ParseGraph(data []byte) (*Graph, error) {
	var f graphFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &GraphIntegrityError{Problems: []string{fmt.Sprintf("parse: %v", err)}}
	}
	return NewGraph(f.Edges)
}

// LoadGraph reads a graph from path, or the built-in graph when path is empty.
func LoadGraph(path string) (*Graph, error) {
	if path == "" {
		return DefaultGraph()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cascade graph: %w", err)
	}
	return ParseGraph(data)
}

// DefaultGraph returns the built-in cascade graph.
func DefaultGraph() (*Graph, error) {
	return ParseGraph(defaultGraphYAML)
}

// Edges returns a copy of the edge list in declaration order.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// TopologicalOrder returns every indicator that appears in the graph, sources first.
func (g *Graph) TopologicalOrder() []models.Indicator {
	return append([]models.Indicator(nil), g.order...)
}

// FiredEdge is an edge that carried a change during propagation.
type FiredEdge struct {
	Edge
	// Contribution is the signed change delivered to the target, in target units.
	Contribution float64
	// Magnitude is |Contribution| as a fraction of the target's reference span.
	Magnitude float64
}

// Propagation is the outcome of applying a modification to a baseline.
type Propagation struct {
	State  models.CurrentState
	Fired  []FiredEdge // descending Magnitude
	Rounds int
	// Applied echoes the supplied modification after clamping.
	Applied models.Modification
}

// Propagate applies mods to baseline and pushes the resulting deltas through the
// graph. Deltas are measured in fractions of each indicator's reference span.
//
// Modified indicators are pinned to their supplied value. Targets missing from
// the baseline stay missing. Each round clamps every target to its valid range
// before passing anything on, so a saturated indicator forwards (and reports)
// only the change it actually took.
func (g *Graph) Propagate(baseline models.CurrentState, mods models.Modification, cfg CascadeConfig) (Propagation, error) {
	values := baseline.Values()
	applied := make(models.Modification, len(mods))
	pinned := make(map[models.Indicator]bool, len(mods))
	pending := make(map[models.Indicator]float64)

	for _, name := range mods.Keys() {
		v := mods[name]
		spec, err := checkValue(name, v)
		if err != nil {
			return Propagation{}, err
		}
		v = spec.Clamp(v)
		applied[name] = v
		pinned[name] = true
		if base, ok := values[name]; ok {
			if d := (v - base) / spec.RefSpan(); math.Abs(d) > cfg.Epsilon {
				pending[name] = d
			}
		}
		values[name] = v
	}

	carried := make([]float64, len(g.edges))
	rounds := 0
	for len(pending) > 0 && rounds < cfg.MaxRounds {
		rounds++
		active := make([]models.Indicator, 0, len(pending))
		for name := range pending {
			active = append(active, name)
		}
		sort.Slice(active, func(i, j int) bool { return g.before(active[i], active[j]) })

		incoming := make(map[models.Indicator]float64)
		step := make(map[int]float64)
		for _, src := range active {
			delta := pending[src]
			for _, idx := range g.outgoing[src] {
				e := g.edges[idx]
				if pinned[e.Target] {
					continue
				}
				if _, ok := values[e.Target]; !ok {
					continue
				}
				c := delta * e.factor()
				step[idx] += c
				incoming[e.Target] += c
			}
		}

		targets := make([]models.Indicator, 0, len(incoming))
		for name := range incoming {
			targets = append(targets, name)
		}
		sort.Slice(targets, func(i, j int) bool { return g.before(targets[i], targets[j]) })

		// Each target moves by what its range still allows. Only that
		// effective delta travels on, and the edges feeding the target share
		// it in proportion to what they pushed.
		scale := make(map[models.Indicator]float64, len(targets))
		pending = make(map[models.Indicator]float64, len(targets))
		for _, name := range targets {
			spec, _ := models.LookupIndicator(name)
			span := spec.RefSpan()
			want := incoming[name]
			old := values[name]
			values[name] = spec.Clamp(old + want*span)
			got := (values[name] - old) / span
			scale[name] = 1
			if want != 0 {
				scale[name] = got / want
			}
			if math.Abs(got) > cfg.Epsilon {
				pending[name] = got
			}
		}
		for idx, c := range step {
			carried[idx] += c * scale[g.edges[idx].Target]
		}
	}

	var fired []FiredEdge
	for idx, c := range carried {
		if c == 0 {
			continue
		}
		e := g.edges[idx]
		spec, _ := models.LookupIndicator(e.Target)
		fired = append(fired, FiredEdge{
			Edge:         e,
			Contribution: c * spec.RefSpan(),
			Magnitude:    math.Abs(c),
		})
	}
	sort.SliceStable(fired, func(i, j int) bool {
		if fired[i].Magnitude != fired[j].Magnitude {
			return fired[i].Magnitude > fired[j].Magnitude
		}
		if fired[i].Source != fired[j].Source {
			return fired[i].Source < fired[j].Source
		}
		return fired[i].Target < fired[j].Target
	})

	return Propagation{
		State:   baseline.WithValues(values),
		Fired:   fired,
		Rounds:  rounds,
		Applied: applied,
	}, nil
}

// before orders indicators by topological rank, then name.
func (g *Graph) before(a, b models.Indicator) bool {
	ra, oka := g.rank[a]
	rb, okb := g.rank[b]
	if oka && okb && ra != rb {
		return ra < rb
	}
	if oka != okb {
		return oka
	}
	return a < b
}
