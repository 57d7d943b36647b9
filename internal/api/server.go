package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/urbanrisk/internal/realtime"
	"github.com/lox/urbanrisk/internal/risk"
	"github.com/lox/urbanrisk/internal/riskcard"
	"github.com/lox/urbanrisk/internal/store"
)

const version = "1.0.0"

// Briefer writes a narrative for a scenario result.
type Briefer interface {
	Brief(ctx context.Context, res risk.ScenarioResult) (string, error)
}

type Server struct {
	store   *store.Store
	engine  *risk.Engine
	tracker *realtime.Tracker
	hub     *realtime.Hub
	briefer Briefer
	cards   *riskcard.Cache
	port    string
	now     func() time.Time
}

func NewServer(st *store.Store, engine *risk.Engine, hub *realtime.Hub, tracker *realtime.Tracker, port string) *Server {
	return &Server{
		store:   st,
		engine:  engine,
		tracker: tracker,
		hub:     hub,
		cards:   riskcard.NewCache(5 * time.Minute),
		port:    port,
		now:     time.Now,
	}
}

// SetBriefer enables scenario briefings. Without one the briefing endpoint
// answers 503.
func (s *Server) SetBriefer(b Briefer) {
	s.briefer = b
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/current-state", s.handleCurrentState)
	mux.HandleFunc("/api/v1/risk-assessment", s.handleRiskAssessment)
	mux.HandleFunc("/api/v1/scenario", s.handleScenario)
	mux.HandleFunc("/api/v1/scenario/briefing", s.handleScenarioBriefing)
	mux.HandleFunc("/api/v1/historical", s.handleHistorical)
	mux.HandleFunc("/api/v1/cities", s.handleCities)
	mux.HandleFunc("/api/v1/scenario-presets", s.handlePresets)
	mux.HandleFunc("/api/v1/cascade-graph", s.handleCascadeGraph)
	mux.HandleFunc("/api/v1/realtime-trends", s.handleRealtimeTrends)
	mux.HandleFunc("/api/v1/ingest-health", s.handleIngestHealth)
	mux.HandleFunc("/api/v1/risk-card", s.handleRiskCard)
	mux.HandleFunc("/ws/predictions", s.hub.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var missing *risk.MissingDataError
	var invalid *risk.InvalidRangeError
	switch {
	case errors.As(err, &missing):
		writeDetail(w, http.StatusNotFound, err.Error())
	case errors.As(err, &invalid):
		writeDetail(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("api: %v", err)
		writeDetail(w, http.StatusInternalServerError, err.Error())
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// cityParams reads the city and optional state query parameters, lowercased
// to match ingested records.
func cityParams(r *http.Request) (city, state string) {
	q := r.URL.Query()
	return strings.ToLower(strings.TrimSpace(q.Get("city"))), strings.ToLower(strings.TrimSpace(q.Get("state")))
}

// intParam parses an optional integer parameter bounded to [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	if n < lo || n > hi {
		return 0, errors.New(name + " must be between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi))
	}
	return n, nil
}
