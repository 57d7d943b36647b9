package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lox/urbanrisk/internal/api"
	"github.com/lox/urbanrisk/internal/models"
	"github.com/lox/urbanrisk/internal/realtime"
	"github.com/lox/urbanrisk/internal/risk"
	"github.com/lox/urbanrisk/internal/store"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s
}

type testEnv struct {
	store   *store.Store
	tracker *realtime.Tracker
	srv     *api.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := setupTestStore(t)

	graph, err := risk.DefaultGraph()
	if err != nil {
		t.Fatal(err)
	}
	engine, err := risk.NewEngine(graph, risk.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	tracker := realtime.NewTracker(10, time.Hour)
	hub := realtime.NewHub(tracker)
	t.Cleanup(hub.Close)

	return &testEnv{
		store:   st,
		tracker: tracker,
		srv:     api.NewServer(st, engine, hub, tracker, "8080"),
	}
}

// seedDelhi stores a polluted, congested city across three sources.
func (e *testEnv) seedDelhi(t *testing.T) {
	t.Helper()
	now := time.Now().UTC().Add(-time.Minute)
	snaps := []models.Snapshot{
		{City: "delhi", Source: "air_quality", ObservedAt: now, Values: map[models.Indicator]float64{
			models.AQI: 350, models.PM25: 180,
		}},
		{City: "delhi", Source: "traffic", ObservedAt: now, Values: map[models.Indicator]float64{
			models.TrafficVolume: 4500, models.TrafficCongestionIndex: 0.7,
		}},
		{City: "delhi", Source: "health", ObservedAt: now, Values: map[models.Indicator]float64{
			models.RespiratoryCases: 400,
		}},
	}
	for _, snap := range snaps {
		if _, err := e.store.InsertSnapshot(snap); err != nil {
			t.Fatal(err)
		}
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func detail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	decode(t, w, &body)
	return body.Detail
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, "GET", "/health", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var health api.HealthStatus
	decode(t, w, &health)
	if health.Status != "ok" || !health.DatabaseConnected {
		t.Errorf("health = %+v", health)
	}
}

func TestCurrentState_NotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/current-state?city=atlantis&state=sea", "")
	if w.Code != 404 {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if got := detail(t, w); got != "No data found for city: atlantis, state: sea" {
		t.Errorf("detail = %q", got)
	}
}

func TestCurrentState_MissingCity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/current-state", "")
	if w.Code != 400 {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCurrentState(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedDelhi(t)

	w := env.do(t, "GET", "/api/v1/current-state?city=Delhi", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	decode(t, w, &body)
	if body["city"] != "delhi" {
		t.Errorf("city = %v", body["city"])
	}
	if body["aqi"] != 350.0 {
		t.Errorf("aqi = %v", body["aqi"])
	}
	if body["aqi_category"] != "Very Poor" {
		t.Errorf("aqi_category = %v", body["aqi_category"])
	}
	if body["congestion_level"] != "high" {
		t.Errorf("congestion_level = %v", body["congestion_level"])
	}
	fresh, ok := body["data_freshness"].(map[string]any)
	if !ok || len(fresh) != 3 {
		t.Errorf("data_freshness = %v", body["data_freshness"])
	}
	if _, ok := body["crop_supply_index"]; ok {
		t.Error("unreported indicator should be omitted")
	}
}

func TestRiskAssessment_RecordsHistoryAndTrend(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedDelhi(t)

	w := env.do(t, "GET", "/api/v1/risk-assessment?city=delhi", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var a risk.Assessment
	decode(t, w, &a)
	if a.City != "delhi" {
		t.Errorf("city = %q", a.City)
	}
	if !a.EnvironmentalRisk.Elevated() {
		t.Errorf("environmental risk = %s, want high or critical", a.EnvironmentalRisk)
	}
	if len(a.CausalExplanations) == 0 {
		t.Error("expected causal explanations")
	}

	if _, ok := env.tracker.Latest("delhi"); !ok {
		t.Error("assessment not published to tracker")
	}

	w = env.do(t, "GET", "/api/v1/historical?city=delhi&hours=1", "")
	if w.Code != 200 {
		t.Fatalf("historical: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var hist api.HistoricalResponse
	decode(t, w, &hist)
	if hist.RecordCount != 1 || len(hist.DataPoints) != 1 {
		t.Fatalf("record_count = %d, want 1", hist.RecordCount)
	}
	if hist.DataPoints[0].EnvironmentalRisk != string(a.EnvironmentalRisk) {
		t.Errorf("stored level = %q, want %q", hist.DataPoints[0].EnvironmentalRisk, a.EnvironmentalRisk)
	}

	w = env.do(t, "GET", "/api/v1/realtime-trends?city=delhi", "")
	if w.Code != 200 {
		t.Fatalf("trends: expected 200, got %d", w.Code)
	}
	var trends api.TrendsResponse
	decode(t, w, &trends)
	if len(trends.History) != 1 || trends.Latest == nil {
		t.Fatalf("trends = %+v", trends)
	}
	if trends.Summary[risk.Environmental].Direction != realtime.Stable {
		t.Errorf("direction = %s, want stable with one prediction", trends.Summary[risk.Environmental].Direction)
	}
	if trends.Confidence <= 0 || trends.Confidence > 0.1 {
		t.Errorf("confidence = %v, want fill ratio near 0.1", trends.Confidence)
	}
}

func TestHistorical_Validation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		target string
		code   int
	}{
		{"/api/v1/historical", 400},
		{"/api/v1/historical?city=delhi&hours=0", 400},
		{"/api/v1/historical?city=delhi&hours=169", 400},
		{"/api/v1/historical?city=delhi&hours=abc", 400},
		{"/api/v1/historical?city=delhi", 404},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := env.do(t, "GET", tt.target, "")
			if w.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, w.Code)
			}
		})
	}
}

func TestScenario(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedDelhi(t)

	w := env.do(t, "POST", "/api/v1/scenario", `{"city_id": "delhi", "modifications": {"aqi": 150, "traffic_volume": null}}`)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var res risk.ScenarioResult
	decode(t, w, &res)
	if res.Improvements[risk.Environmental] <= 0 {
		t.Errorf("environmental improvement = %v, want positive", res.Improvements[risk.Environmental])
	}
	if res.InterventionRisks.EnvironmentalProb >= res.BaselineRisks.EnvironmentalProb {
		t.Errorf("environmental prob %v -> %v, want a reduction",
			res.BaselineRisks.EnvironmentalProb, res.InterventionRisks.EnvironmentalProb)
	}
	if len(res.InterventionsApplied) != 1 || res.InterventionsApplied[models.AQI] != 150 {
		t.Errorf("interventions_applied = %v, want only aqi=150", res.InterventionsApplied)
	}
	if res.ROIEstimate == nil {
		t.Error("expected ROI estimate for a cost-bearing change")
	}
}

func TestScenario_Preset(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedDelhi(t)

	w := env.do(t, "POST", "/api/v1/scenario", `{"city_id": "delhi", "preset": "clean_air_push", "modifications": {"pm25": 100}}`)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res risk.ScenarioResult
	decode(t, w, &res)
	if got := res.InterventionsApplied[models.AQI]; math.Abs(got-245) > 1e-9 {
		t.Errorf("aqi = %v, want 245 (30%% below 350)", got)
	}
	if got := res.InterventionsApplied[models.PM25]; got != 100 {
		t.Errorf("pm25 = %v, want explicit override 100", got)
	}
}

func TestScenario_Errors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedDelhi(t)

	tests := []struct {
		name   string
		method string
		body   string
		code   int
	}{
		{"method", "GET", "", 405},
		{"bad json", "POST", `{"city_id":`, 400},
		{"missing city", "POST", `{"modifications": {"aqi": 100}}`, 400},
		{"unknown city", "POST", `{"city_id": "atlantis", "modifications": {"aqi": 100}}`, 404},
		{"unknown indicator", "POST", `{"city_id": "delhi", "modifications": {"smog": 3}}`, 400},
		{"negative traffic", "POST", `{"city_id": "delhi", "modifications": {"traffic_volume": -5}}`, 400},
		{"unknown preset", "POST", `{"city_id": "delhi", "preset": "teleport"}`, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, "/api/v1/scenario", tt.body)
			if w.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}
}

type fakeBriefer struct {
	text string
	err  error
}

func (f fakeBriefer) Brief(ctx context.Context, res risk.ScenarioResult) (string, error) {
	return f.text, f.err
}

func TestScenarioBriefing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedDelhi(t)
	body := `{"city_id": "delhi", "modifications": {"aqi": 150}}`

	w := env.do(t, "POST", "/api/v1/scenario/briefing", body)
	if w.Code != 503 {
		t.Fatalf("disabled: expected 503, got %d", w.Code)
	}

	env.srv.SetBriefer(fakeBriefer{text: "Cleaner air cuts health risk."})
	w = env.do(t, "POST", "/api/v1/scenario/briefing", body)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		City     string `json:"city"`
		Briefing string `json:"briefing"`
	}
	decode(t, w, &resp)
	if resp.City != "delhi" || resp.Briefing != "Cleaner air cuts health risk." {
		t.Errorf("response = %+v", resp)
	}

	env.srv.SetBriefer(fakeBriefer{err: errors.New("upstream down")})
	w = env.do(t, "POST", "/api/v1/scenario/briefing", body)
	if w.Code != 502 {
		t.Errorf("failing briefer: expected 502, got %d", w.Code)
	}
}

func TestCities(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedDelhi(t)
	if _, err := env.store.InsertSnapshot(models.Snapshot{
		City: "mumbai", State: "maharashtra", Source: "air_quality",
		ObservedAt: time.Now().UTC().Add(-72 * time.Hour),
		Values:     map[models.Indicator]float64{models.AQI: 90},
	}); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, "GET", "/api/v1/cities", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.CitiesResponse
	decode(t, w, &resp)
	if resp.TotalCities != 2 {
		t.Fatalf("total_cities = %d, want 2", resp.TotalCities)
	}
	delhi, mumbai := resp.Cities[0], resp.Cities[1]
	if delhi.City != "delhi" || !delhi.HasRecentData || delhi.Sources != 3 {
		t.Errorf("delhi = %+v", delhi)
	}
	if mumbai.City != "mumbai" || mumbai.HasRecentData {
		t.Errorf("mumbai = %+v", mumbai)
	}
}

func TestPresetsAndGraph(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/scenario-presets", "")
	if w.Code != 200 {
		t.Fatalf("presets: expected 200, got %d", w.Code)
	}
	var presets map[string][]risk.Preset
	decode(t, w, &presets)
	if len(presets["presets"]) != len(risk.Presets()) {
		t.Errorf("got %d presets, want %d", len(presets["presets"]), len(risk.Presets()))
	}

	w = env.do(t, "GET", "/api/v1/cascade-graph", "")
	if w.Code != 200 {
		t.Fatalf("graph: expected 200, got %d", w.Code)
	}
	var graph api.CascadeGraphResponse
	decode(t, w, &graph)
	if len(graph.Edges) == 0 || len(graph.Order) == 0 {
		t.Errorf("graph = %+v", graph)
	}
}

func TestIngestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	run, err := env.store.BeginFeedRun("http", "https://feeds.example.org/latest.json")
	if err != nil {
		t.Fatal(err)
	}
	run.HTTPStatus = 503
	if err := env.store.FinishFeedRun(run, errors.New("fetch feed: status 503")); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, "GET", "/api/v1/ingest-health", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.IngestHealthResponse
	decode(t, w, &resp)
	if resp.Days != 7 {
		t.Errorf("days = %d, want default 7", resp.Days)
	}
	if len(resp.Summary) != 1 || resp.Summary[0].Failed != 1 {
		t.Errorf("summary = %+v", resp.Summary)
	}
	if len(resp.RecentErrors) != 1 || resp.RecentErrors[0].HTTPStatus != 503 || resp.RecentErrors[0].Error != "fetch feed: status 503" {
		t.Errorf("recent_errors = %+v", resp.RecentErrors)
	}

	if w := env.do(t, "GET", "/api/v1/ingest-health?days=31", ""); w.Code != 400 {
		t.Errorf("days=31: expected 400, got %d", w.Code)
	}
}

func TestRiskCard(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	if w := env.do(t, "GET", "/api/v1/risk-card?city=delhi", ""); w.Code != 404 {
		t.Fatalf("no data: expected 404, got %d", w.Code)
	}

	env.seedDelhi(t)
	w := env.do(t, "GET", "/api/v1/risk-card?city=delhi", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.HasPrefix(w.Body.String(), "\x89PNG") {
		t.Error("body is not a PNG")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedDelhi(t)
	env.do(t, "GET", "/api/v1/risk-assessment?city=delhi", "")

	w := env.do(t, "GET", "/metrics", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "urbanrisk_assessments_total") {
		t.Error("expected assessment counter in metrics output")
	}
}

func TestCategories(t *testing.T) {
	aqi := []struct {
		v    float64
		want string
	}{
		{0, "Good"}, {50, "Good"}, {51, "Satisfactory"}, {150, "Moderate"},
		{250, "Poor"}, {400, "Very Poor"}, {401, "Severe"},
	}
	for _, tt := range aqi {
		if got := api.AQICategory(tt.v); got != tt.want {
			t.Errorf("AQICategory(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}

	congestion := []struct {
		v    float64
		want string
	}{
		{0.1, "low"}, {0.3, "moderate"}, {0.65, "high"}, {0.8, "severe"},
	}
	for _, tt := range congestion {
		if got := api.CongestionLevel(tt.v); got != tt.want {
			t.Errorf("CongestionLevel(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}
