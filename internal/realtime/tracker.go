// Package realtime keeps a rolling window of recent risk predictions and
// streams new ones to websocket subscribers.
package realtime

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lox/urbanrisk/internal/risk"
)

const (
	DefaultCapacity = 120
	DefaultHalfLife = 30 * time.Minute

	// trendBand is the change in mean probability below which a domain is stable.
	trendBand = 0.02
)

type Prediction struct {
	ID            string                     `json:"id"`
	City          string                     `json:"city"`
	Timestamp     time.Time                  `json:"timestamp"`
	Probabilities map[risk.Domain]float64    `json:"probabilities"`
	Levels        map[risk.Domain]risk.Level `json:"levels"`
	Resilience    float64                    `json:"resilience_score"`
}

// NewPrediction captures an assessment under a fresh identifier.
func NewPrediction(a risk.Assessment) Prediction {
	p := Prediction{
		ID:            uuid.NewString(),
		City:          a.City,
		Timestamp:     a.Timestamp,
		Probabilities: make(map[risk.Domain]float64, len(risk.Domains)),
		Levels:        make(map[risk.Domain]risk.Level, len(risk.Domains)),
		Resilience:    a.ResilienceScore,
	}
	for _, d := range risk.Domains {
		p.Probabilities[d] = a.Prob(d)
		p.Levels[d] = a.Level(d)
	}
	return p
}

type Direction string

const (
	Rising  Direction = "rising"
	Falling Direction = "falling"
	Stable  Direction = "stable"
)

type Trend struct {
	Latest    float64   `json:"latest"`
	Mean      float64   `json:"mean"`
	Direction Direction `json:"direction"`
}

// Tracker is a fixed-size ring buffer of predictions. It is safe for
// concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	buf      []Prediction
	next     int
	count    int
	halfLife time.Duration
}

func NewTracker(capacity int, halfLife time.Duration) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	return &Tracker{buf: make([]Prediction, capacity), halfLife: halfLife}
}

// Append stores p, evicting the oldest prediction when full.
func (t *Tracker) Append(p Prediction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf[t.next] = p
	t.next = (t.next + 1) % len(t.buf)
	if t.count < len(t.buf) {
		t.count++
	}
}

// History returns the stored predictions oldest first. An empty city matches
// every city.
func (t *Tracker) History(city string) []Prediction {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Prediction, 0, t.count)
	start := (t.next - t.count + len(t.buf)) % len(t.buf)
	for i := 0; i < t.count; i++ {
		p := t.buf[(start+i)%len(t.buf)]
		if city == "" || p.City == city {
			out = append(out, p)
		}
	}
	return out
}

func (t *Tracker) Latest(city string) (Prediction, bool) {
	h := t.History(city)
	if len(h) == 0 {
		return Prediction{}, false
	}
	return h[len(h)-1], true
}

// Summary reports, per domain, the latest probability, the window mean and
// whether the second half of the window runs above or below the first.
func (t *Tracker) Summary(city string) map[risk.Domain]Trend {
	h := t.History(city)
	out := make(map[risk.Domain]Trend, len(risk.Domains))
	if len(h) == 0 {
		return out
	}

	for _, d := range risk.Domains {
		tr := Trend{
			Latest:    h[len(h)-1].Probabilities[d],
			Mean:      meanProb(h, d),
			Direction: Stable,
		}
		if len(h) >= 2 {
			mid := len(h) / 2
			diff := meanProb(h[mid:], d) - meanProb(h[:mid], d)
			switch {
			case diff > trendBand:
				tr.Direction = Rising
			case diff < -trendBand:
				tr.Direction = Falling
			}
		}
		out[d] = tr
	}
	return out
}

func meanProb(ps []Prediction, d risk.Domain) float64 {
	var sum float64
	for _, p := range ps {
		sum += p.Probabilities[d]
	}
	return sum / float64(len(ps))
}

// Confidence is the buffer fill ratio for the city, decayed by the age of the
// latest prediction with the tracker's half-life.
func (t *Tracker) Confidence(city string, now time.Time) float64 {
	h := t.History(city)
	if len(h) == 0 {
		return 0
	}
	fill := float64(len(h)) / float64(len(t.buf))
	age := now.Sub(h[len(h)-1].Timestamp)
	if age < 0 {
		age = 0
	}
	return fill * math.Pow(0.5, age.Seconds()/t.halfLife.Seconds())
}
