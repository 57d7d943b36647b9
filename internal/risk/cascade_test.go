package risk

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lox/urbanrisk/internal/models"
)

func mustDefaultGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := DefaultGraph()
	if err != nil {
		t.Fatalf("DefaultGraph: %v", err)
	}
	return g
}

func assertClose(t *testing.T, label string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("%s = %v, want %v", label, got, want)
	}
}

func TestDefaultGraphIsAcyclic(t *testing.T) {
	g := mustDefaultGraph(t)

	order := g.TopologicalOrder()
	rank := make(map[models.Indicator]int, len(order))
	for i, name := range order {
		rank[name] = i
	}
	for _, e := range g.Edges() {
		if rank[e.Source] >= rank[e.Target] {
			t.Errorf("edge %s violates topological order", e)
		}
	}
}

func TestNewGraphIntegrity(t *testing.T) {
	tests := []struct {
		name    string
		edges   []Edge
		wantErr string
	}{
		{
			name: "two node cycle",
			edges: []Edge{
				{Source: models.AQI, Target: models.RespiratoryCases, Weight: 0.5},
				{Source: models.RespiratoryCases, Target: models.AQI, Weight: 0.1},
			},
			wantErr: "cycle",
		},
		{
			name: "longer cycle",
			edges: []Edge{
				{Source: models.TrafficVolume, Target: models.AQI, Weight: 0.3},
				{Source: models.AQI, Target: models.PM25, Weight: 0.8},
				{Source: models.PM25, Target: models.TrafficVolume, Weight: 0.1},
			},
			wantErr: "cycle",
		},
		{
			name:    "dangling target",
			edges:   []Edge{{Source: models.AQI, Target: "smog_index", Weight: 0.5}},
			wantErr: "unknown target",
		},
		{
			name:    "dangling source",
			edges:   []Edge{{Source: "noise", Target: models.AQI, Weight: 0.5}},
			wantErr: "unknown source",
		},
		{
			name:    "self loop",
			edges:   []Edge{{Source: models.AQI, Target: models.AQI, Weight: 0.5}},
			wantErr: "itself",
		},
		{
			name:    "zero weight",
			edges:   []Edge{{Source: models.AQI, Target: models.PM25, Weight: 0}},
			wantErr: "weight",
		},
		{
			name:    "decay above one",
			edges:   []Edge{{Source: models.AQI, Target: models.PM25, Weight: 0.5, Decay: 1.5}},
			wantErr: "decay",
		},
		{
			name: "duplicate edge",
			edges: []Edge{
				{Source: models.AQI, Target: models.PM25, Weight: 0.5},
				{Source: models.AQI, Target: models.PM25, Weight: 0.4},
			},
			wantErr: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.edges)
			var gerr *GraphIntegrityError
			if !errors.As(err, &gerr) {
				t.Fatalf("NewGraph error = %v, want GraphIntegrityError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadGraphFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.yaml")
	yml := `edges:
  - {source: traffic_volume, target: aqi, weight: 0.5}
  - {source: aqi, target: traffic_volume, weight: 0.5}
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadGraph(path)
	var gerr *GraphIntegrityError
	if !errors.As(err, &gerr) {
		t.Fatalf("LoadGraph(cyclic) error = %v, want GraphIntegrityError", err)
	}

	if _, err := LoadGraph(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadGraph(missing file) should fail")
	}

	g, err := LoadGraph("")
	if err != nil {
		t.Fatalf("LoadGraph(\"\"): %v", err)
	}
	if len(g.Edges()) == 0 {
		t.Error("default graph has no edges")
	}
}

func TestPropagateFollowsMultiplePaths(t *testing.T) {
	g := mustDefaultGraph(t)
	cfg := DefaultConfig().Cascade

	base := newState(map[models.Indicator]float64{
		models.TrafficVolume: 2000,
		models.AQI:           200,
		models.PM25:          100,
	})

	prop, err := g.Propagate(base, models.Modification{models.TrafficVolume: 1000}, cfg)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	// Δ = -1000/5000 = -0.2 spans.
	// aqi: -0.2*0.35 = -0.07 spans = -35.
	// pm25: direct -0.2*0.3 plus via aqi -0.07*0.8 = -0.116 spans = -29.
	aqi, _ := prop.State.Value(models.AQI)
	pm25, _ := prop.State.Value(models.PM25)
	assertClose(t, "aqi", aqi, 165)
	assertClose(t, "pm25", pm25, 71)

	if prop.State.Has(models.TrafficCongestionIndex) {
		t.Error("congestion was absent from baseline and should stay absent")
	}
	if got, _ := prop.State.Value(models.TrafficVolume); got != 1000 {
		t.Errorf("traffic_volume = %v, want supplied 1000", got)
	}

	if len(prop.Fired) != 3 {
		t.Fatalf("len(Fired) = %d, want 3: %+v", len(prop.Fired), prop.Fired)
	}
	for i := 1; i < len(prop.Fired); i++ {
		if prop.Fired[i].Magnitude > prop.Fired[i-1].Magnitude {
			t.Errorf("Fired not sorted by magnitude: %+v", prop.Fired)
		}
	}
	if first := prop.Fired[0]; first.Source != models.TrafficVolume || first.Target != models.AQI {
		t.Errorf("largest edge = %s, want traffic_volume→aqi", first.Edge)
	}
}

func TestPropagateIdempotentOnSaturatedFrontier(t *testing.T) {
	g := mustDefaultGraph(t)
	cfg := DefaultConfig().Cascade

	base := midpointState(DefaultConfig())
	mods := models.Modification{models.AQI: 150, models.TrafficVolume: 1800}

	first, err := g.Propagate(base, mods, cfg)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	again, err := g.Propagate(first.State, nil, cfg)
	if err != nil {
		t.Fatalf("Propagate(no mods): %v", err)
	}
	if len(again.Fired) != 0 {
		t.Errorf("no-op propagation fired %d edges", len(again.Fired))
	}

	repeat, err := g.Propagate(first.State, mods, cfg)
	if err != nil {
		t.Fatalf("Propagate(same mods): %v", err)
	}

	for _, name := range models.Indicators() {
		want, _ := first.State.Value(name)
		if got, _ := again.State.Value(name); got != want {
			t.Errorf("%s changed on empty re-propagation: %v -> %v", name, want, got)
		}
		if got, _ := repeat.State.Value(name); got != want {
			t.Errorf("%s changed on repeated modification: %v -> %v", name, want, got)
		}
	}
}

func TestPropagateClampsToValidRange(t *testing.T) {
	g := mustDefaultGraph(t)
	cfg := DefaultConfig().Cascade

	base := newState(map[models.Indicator]float64{
		models.AQI:              450,
		models.RespiratoryCases: 50,
	})

	prop, err := g.Propagate(base, models.Modification{models.AQI: 0}, cfg)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	// -0.9 spans * 0.5 = -225 cases, which would go negative.
	if got, _ := prop.State.Value(models.RespiratoryCases); got != 0 {
		t.Errorf("respiratory_cases = %v, want clamped 0", got)
	}
}

func TestPropagateForwardsOnlyEffectiveChange(t *testing.T) {
	g := mustDefaultGraph(t)
	cfg := DefaultConfig().Cascade

	base := newState(map[models.Indicator]float64{
		models.AQI:              350,
		models.PM25:             40,
		models.RespiratoryCases: 400,
		models.HospitalLoad:     0.5,
	})
	mods := models.Modification{models.AQI: 150}

	prop, err := g.Propagate(base, mods, cfg)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	// aqi -0.4 spans pushes pm25 by -0.32 spans (-80), but pm25 can only drop 40.
	pm25, _ := prop.State.Value(models.PM25)
	assertClose(t, "pm25", pm25, 0)

	// Direct aqi edge -100, then pm25's effective -0.16 spans * 0.3 = -24.
	resp, _ := prop.State.Value(models.RespiratoryCases)
	assertClose(t, "respiratory_cases", resp, 276)

	contrib := make(map[string]float64)
	for _, f := range prop.Fired {
		contrib[f.Edge.String()] = f.Contribution
	}
	tests := []struct {
		edge Edge
		want float64
	}{
		{Edge{Source: models.AQI, Target: models.PM25}, -40},
		{Edge{Source: models.PM25, Target: models.RespiratoryCases}, -24},
		{Edge{Source: models.AQI, Target: models.RespiratoryCases}, -100},
	}
	for _, tt := range tests {
		got, ok := contrib[tt.edge.String()]
		if !ok {
			t.Errorf("edge %s did not fire", tt.edge)
			continue
		}
		assertClose(t, tt.edge.String(), got, tt.want)
	}

	res, err := newTestEngine(t).Simulate(base, mods)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	var line string
	for _, l := range res.InterventionRisks.CausalExplanations {
		if strings.Contains(l, "aqi lowers pm25") {
			line = l
		}
	}
	if !strings.Contains(line, "by 40.0 µg/m³") {
		t.Errorf("aqi→pm25 explanation = %q, want the 40.0 µg/m³ pm25 actually moved", line)
	}
}

func TestPropagatePinsModifiedIndicators(t *testing.T) {
	g := mustDefaultGraph(t)
	cfg := DefaultConfig().Cascade

	base := newState(map[models.Indicator]float64{
		models.TrafficVolume: 4000,
		models.AQI:           300,
	})

	prop, err := g.Propagate(base, models.Modification{
		models.TrafficVolume: 1000,
		models.AQI:           280,
	}, cfg)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if got, _ := prop.State.Value(models.AQI); got != 280 {
		t.Errorf("aqi = %v, want supplied 280", got)
	}
}

func TestPropagateRespectsRoundCap(t *testing.T) {
	g := mustDefaultGraph(t)
	cfg := DefaultConfig().Cascade
	cfg.MaxRounds = 1

	base := newState(map[models.Indicator]float64{
		models.TrafficVolume: 2000,
		models.AQI:           200,
		models.PM25:          100,
	})

	prop, err := g.Propagate(base, models.Modification{models.TrafficVolume: 1000}, cfg)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if prop.Rounds != 1 {
		t.Errorf("Rounds = %d, want 1", prop.Rounds)
	}
	// Only the direct traffic→pm25 edge fires in one round: -0.06 spans = -15.
	pm25, _ := prop.State.Value(models.PM25)
	assertClose(t, "pm25", pm25, 85)
}

func TestPropagateValidatesModifications(t *testing.T) {
	g := mustDefaultGraph(t)
	cfg := DefaultConfig().Cascade
	base := newState(map[models.Indicator]float64{models.AQI: 200, models.TrafficVolume: 900})

	tests := []struct {
		name string
		mods models.Modification
	}{
		{"negative traffic volume", models.Modification{models.TrafficVolume: -100}},
		{"unknown indicator", models.Modification{"noise_db": 80}},
		{"not a number", models.Modification{models.AQI: math.NaN()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Propagate(base, tt.mods, cfg)
			var invalid *InvalidRangeError
			if !errors.As(err, &invalid) {
				t.Errorf("error = %v, want InvalidRangeError", err)
			}
		})
	}

	prop, err := g.Propagate(base, models.Modification{models.AQI: 900}, cfg)
	if err != nil {
		t.Fatalf("Propagate(aqi 900): %v", err)
	}
	if got := prop.Applied[models.AQI]; got != 500 {
		t.Errorf("applied aqi = %v, want clamped 500", got)
	}
}
