package api

import (
	"log"
	"net/http"

	"github.com/lox/urbanrisk/internal/riskcard"
)

// handleRiskCard serves a PNG summary of a city's current assessment. Cards are
// cached per city so crawlers refreshing a shared link do not rerun the engine.
func (s *Server) handleRiskCard(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	city, state := cityParams(r)
	key := city + "|" + state

	if data, ok := s.cards.Get(key); ok {
		serveCard(w, data)
		return
	}

	cs, ok := s.loadState(w, city, state)
	if !ok {
		return
	}
	a, err := s.assess(*cs)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := riskcard.Render(riskcard.FromAssessment(a))
	if err != nil {
		log.Printf("risk-card: render %s: %v", city, err)
		writeDetail(w, http.StatusInternalServerError, "failed to render risk card")
		return
	}
	s.cards.Set(key, data)
	serveCard(w, data)
}

func serveCard(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(data)
}
