package models

import (
	"time"
)

// Snapshot is one upstream record: the indicators a single source reported for a
// city at a point in time.
type Snapshot struct {
	ID           int64
	City         string
	State        string
	Source       string // "traffic", "air_quality", "health", "agriculture", ...
	ObservedAt   time.Time
	Values       map[Indicator]float64
	QualityFlags []string
	CreatedAt    time.Time
}

// CityRef identifies a city with optional state disambiguation.
type CityRef struct {
	City  string
	State string
}

// AssessmentRecord is a persisted risk assessment, used for history charts.
type AssessmentRecord struct {
	ID                int64     `json:"id"`
	City              string    `json:"city"`
	State             string    `json:"state,omitempty"`
	AssessedAt        time.Time `json:"assessed_at"`
	EnvironmentalRisk string    `json:"environmental_risk"`
	EnvironmentalProb float64   `json:"environmental_prob"`
	HealthRisk        string    `json:"health_risk"`
	HealthProb        float64   `json:"health_prob"`
	FoodSecurityRisk  string    `json:"food_security_risk"`
	FoodSecurityProb  float64   `json:"food_security_prob"`
	ResilienceScore   float64   `json:"resilience_score"`
}

// CitySummary describes a city known to the store.
type CitySummary struct {
	City           string    `json:"city"`
	State          string    `json:"state,omitempty"`
	LastObservedAt time.Time `json:"last_observed_at"`
	Sources        int       `json:"sources"`
}
