package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lox/urbanrisk/internal/metrics"
	"github.com/lox/urbanrisk/internal/models"
	"github.com/lox/urbanrisk/internal/realtime"
	"github.com/lox/urbanrisk/internal/risk"
	"github.com/lox/urbanrisk/internal/store"
)

type HealthStatus struct {
	Status            string    `json:"status"`
	DatabaseConnected bool      `json:"database_connected"`
	Timestamp         time.Time `json:"timestamp"`
	Version           string    `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := HealthStatus{
		Status:            "ok",
		DatabaseConnected: true,
		Timestamp:         s.now().UTC(),
		Version:           version,
	}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		health.Status = "degraded"
		health.DatabaseConnected = false
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// loadState fetches the merged state for a city, writing a 404 when the city
// has neither air quality nor traffic data.
func (s *Server) loadState(w http.ResponseWriter, city, state string) (*models.CurrentState, bool) {
	if city == "" {
		writeDetail(w, http.StatusBadRequest, "city is required")
		return nil, false
	}
	cs, err := s.store.GetCurrentState(city, state)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if cs == nil || !cs.HasPrimaryData() {
		detail := "No data found for city: " + city
		if state != "" {
			detail += ", state: " + state
		}
		writeDetail(w, http.StatusNotFound, detail)
		return nil, false
	}
	return cs, true
}

func (s *Server) handleCurrentState(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	cs, ok := s.loadState(w, cityParams(r))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, currentStateResponse(*cs))
}

// currentStateResponse flattens the state and adds display categories for the
// headline indicators.
func currentStateResponse(cs models.CurrentState) map[string]any {
	out := map[string]any{
		"city":           cs.City,
		"timestamp":      cs.Timestamp,
		"data_freshness": cs.Freshness(),
	}
	if cs.State != "" {
		out["state"] = cs.State
	}
	for name, v := range cs.Values() {
		out[string(name)] = v
	}
	if aqi, ok := cs.Value(models.AQI); ok {
		out["aqi_category"] = AQICategory(aqi)
	}
	if ci, ok := cs.Value(models.TrafficCongestionIndex); ok {
		out["congestion_level"] = CongestionLevel(ci)
	}
	return out
}

// AQICategory names the national AQI band of a reading.
func AQICategory(aqi float64) string {
	switch {
	case aqi <= 50:
		return "Good"
	case aqi <= 100:
		return "Satisfactory"
	case aqi <= 200:
		return "Moderate"
	case aqi <= 300:
		return "Poor"
	case aqi <= 400:
		return "Very Poor"
	default:
		return "Severe"
	}
}

func CongestionLevel(index float64) string {
	switch {
	case index < 0.3:
		return "low"
	case index < 0.6:
		return "moderate"
	case index < 0.8:
		return "high"
	default:
		return "severe"
	}
}

// assess runs the engine on a state, timing it and counting the levels.
func (s *Server) assess(cs models.CurrentState) (risk.Assessment, error) {
	start := time.Now()
	a, err := s.engine.Assess(cs)
	metrics.EngineLatency.WithLabelValues("assess").Observe(time.Since(start).Seconds())
	if err != nil {
		return a, err
	}
	for _, d := range risk.Domains {
		metrics.AssessmentsTotal.WithLabelValues(string(d), string(a.Level(d))).Inc()
	}
	return a, nil
}

func (s *Server) handleRiskAssessment(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	cs, ok := s.loadState(w, cityParams(r))
	if !ok {
		return
	}

	a, err := s.assess(*cs)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.store.RecordAssessment(a.Record(cs.State)); err != nil {
		writeError(w, fmt.Errorf("record assessment: %w", err))
		return
	}
	s.hub.Publish(realtime.NewPrediction(a))

	writeJSON(w, http.StatusOK, a)
}

// ScenarioRequest asks for a what-if simulation. Modifications hold absolute
// indicator values; a preset, when named, is applied first and explicit
// modifications override it. Null values are ignored.
type ScenarioRequest struct {
	CityID        string              `json:"city_id"`
	State         string              `json:"state,omitempty"`
	Preset        string              `json:"preset,omitempty"`
	Modifications map[string]*float64 `json:"modifications"`
}

func (s *Server) simulate(w http.ResponseWriter, r *http.Request) (risk.ScenarioResult, bool) {
	if !allowMethod(w, r, http.MethodPost) {
		return risk.ScenarioResult{}, false
	}

	var req ScenarioRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return risk.ScenarioResult{}, false
	}
	city := strings.ToLower(strings.TrimSpace(req.CityID))
	state := strings.ToLower(strings.TrimSpace(req.State))
	if city == "" {
		writeDetail(w, http.StatusBadRequest, "city_id is required")
		return risk.ScenarioResult{}, false
	}

	cs, ok := s.loadState(w, city, state)
	if !ok {
		return risk.ScenarioResult{}, false
	}

	mods := models.Modification{}
	if req.Preset != "" {
		preset, found := risk.LookupPreset(req.Preset)
		if !found {
			writeDetail(w, http.StatusBadRequest, "unknown preset: "+req.Preset)
			return risk.ScenarioResult{}, false
		}
		mods = preset.Apply(*cs)
	}
	for name, v := range req.Modifications {
		if v != nil {
			mods[models.Indicator(name)] = *v
		}
	}

	start := time.Now()
	res, err := s.engine.Simulate(*cs, mods)
	metrics.EngineLatency.WithLabelValues("simulate").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SimulationsTotal.WithLabelValues("error").Inc()
		writeError(w, err)
		return risk.ScenarioResult{}, false
	}
	metrics.SimulationsTotal.WithLabelValues("ok").Inc()
	metrics.CascadeRounds.Observe(float64(res.Rounds))
	return res, true
}

func (s *Server) handleScenario(w http.ResponseWriter, r *http.Request) {
	res, ok := s.simulate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type BriefingResponse struct {
	risk.ScenarioResult
	Briefing string `json:"briefing"`
}

func (s *Server) handleScenarioBriefing(w http.ResponseWriter, r *http.Request) {
	if s.briefer == nil {
		writeDetail(w, http.StatusServiceUnavailable, "scenario briefings are disabled")
		return
	}
	res, ok := s.simulate(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()
	text, err := s.briefer.Brief(ctx, res)
	if err != nil {
		writeDetail(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, BriefingResponse{ScenarioResult: res, Briefing: text})
}

type HistoricalResponse struct {
	City        string                    `json:"city"`
	DataPoints  []models.AssessmentRecord `json:"data_points"`
	TimeRange   map[string]time.Time      `json:"time_range"`
	RecordCount int                       `json:"record_count"`
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	city, _ := cityParams(r)
	if city == "" {
		writeDetail(w, http.StatusBadRequest, "city is required")
		return
	}
	hours, err := intParam(r, "hours", 24, 1, 168)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	end := s.now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	history, err := s.store.GetAssessmentHistory(city, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(history) == 0 {
		writeDetail(w, http.StatusNotFound, "No historical data found for the specified time period")
		return
	}

	writeJSON(w, http.StatusOK, HistoricalResponse{
		City:       city,
		DataPoints: history,
		TimeRange: map[string]time.Time{
			"start": history[0].AssessedAt,
			"end":   history[len(history)-1].AssessedAt,
		},
		RecordCount: len(history),
	})
}

type CityResponse struct {
	models.CitySummary
	HasRecentData bool `json:"has_recent_data"`
}

type CitiesResponse struct {
	Cities      []CityResponse `json:"cities"`
	TotalCities int            `json:"total_cities"`
}

// recentWindow is how old a city's latest record may be to count as recent.
const recentWindow = 24 * time.Hour

func (s *Server) handleCities(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	cities, err := s.store.ListCities()
	if err != nil {
		writeError(w, err)
		return
	}

	now := s.now()
	resp := CitiesResponse{Cities: make([]CityResponse, 0, len(cities))}
	for _, c := range cities {
		resp.Cities = append(resp.Cities, CityResponse{
			CitySummary:   c,
			HasRecentData: now.Sub(c.LastObservedAt) <= recentWindow,
		})
	}
	resp.TotalCities = len(resp.Cities)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string][]risk.Preset{"presets": risk.Presets()})
}

type CascadeGraphResponse struct {
	Edges []risk.Edge        `json:"edges"`
	Order []models.Indicator `json:"topological_order"`
}

func (s *Server) handleCascadeGraph(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	g := s.engine.Graph()
	writeJSON(w, http.StatusOK, CascadeGraphResponse{
		Edges: g.Edges(),
		Order: g.TopologicalOrder(),
	})
}

type TrendsResponse struct {
	City       string                         `json:"city,omitempty"`
	History    []realtime.Prediction          `json:"history"`
	Summary    map[risk.Domain]realtime.Trend `json:"summary"`
	Latest     *realtime.Prediction           `json:"latest"`
	Confidence float64                        `json:"confidence"`
}

func (s *Server) handleRealtimeTrends(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	city, _ := cityParams(r)

	resp := TrendsResponse{
		City:       city,
		History:    s.tracker.History(city),
		Summary:    s.tracker.Summary(city),
		Confidence: s.tracker.Confidence(city, s.now()),
	}
	if p, ok := s.tracker.Latest(city); ok {
		resp.Latest = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

type IngestError struct {
	StartedAt  time.Time `json:"started_at"`
	Source     string    `json:"source"`
	Endpoint   string    `json:"endpoint"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Error      string    `json:"error"`
}

type IngestHealthResponse struct {
	Days         int             `json:"days"`
	Summary      []store.FeedDay `json:"summary"`
	RecentErrors []IngestError   `json:"recent_errors"`
}

func (s *Server) handleIngestHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	days, err := intParam(r, "days", 7, 1, 30)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := s.store.FeedHealth(days)
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := s.store.FeedFailures(10)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := IngestHealthResponse{
		Days:         days,
		Summary:      summary,
		RecentErrors: make([]IngestError, 0, len(runs)),
	}
	if resp.Summary == nil {
		resp.Summary = []store.FeedDay{}
	}
	for _, run := range runs {
		resp.RecentErrors = append(resp.RecentErrors, IngestError{
			StartedAt:  run.StartedAt,
			Source:     run.Source,
			Endpoint:   run.Endpoint,
			HTTPStatus: run.HTTPStatus,
			Error:      run.Err,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
