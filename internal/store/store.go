package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lox/urbanrisk/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertSnapshot stores one source record. It reports false when an identical
// (city, state, source, observed_at) record already exists.
func (s *Store) InsertSnapshot(snap models.Snapshot) (bool, error) {
	valuesJSON, err := json.Marshal(snap.Values)
	if err != nil {
		return false, fmt.Errorf("encode values: %w", err)
	}
	var flags sql.NullString
	if len(snap.QualityFlags) > 0 {
		b, err := json.Marshal(snap.QualityFlags)
		if err != nil {
			return false, fmt.Errorf("encode quality flags: %w", err)
		}
		flags = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.Exec(`
		INSERT INTO snapshots (city, state, source, observed_at, values_json, quality_flags)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(city, state, source, observed_at) DO NOTHING
	`, snap.City, snap.State, snap.Source, snap.ObservedAt.UTC(), string(valuesJSON), flags)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetLatestSnapshots returns the most recent record of every source reporting
// for a city, oldest first. An empty state matches any state.
func (s *Store) GetLatestSnapshots(city, state string) ([]models.Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.city, s.state, s.source, s.observed_at, s.values_json, s.quality_flags, s.created_at
		FROM snapshots s
		WHERE s.city = ? AND (? = '' OR s.state = ?)
		  AND s.id = (
			SELECT id FROM snapshots
			WHERE city = s.city AND state = s.state AND source = s.source
			ORDER BY observed_at DESC, id DESC
			LIMIT 1
		  )
		ORDER BY s.observed_at ASC, s.id ASC
	`, city, state, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (models.Snapshot, error) {
	var snap models.Snapshot
	var valuesJSON string
	var flags sql.NullString
	var createdAt sql.NullTime
	if err := row.Scan(&snap.ID, &snap.City, &snap.State, &snap.Source, &snap.ObservedAt, &valuesJSON, &flags, &createdAt); err != nil {
		return snap, err
	}
	if err := json.Unmarshal([]byte(valuesJSON), &snap.Values); err != nil {
		return snap, fmt.Errorf("decode values for snapshot %d: %w", snap.ID, err)
	}
	if flags.Valid {
		if err := json.Unmarshal([]byte(flags.String), &snap.QualityFlags); err != nil {
			return snap, fmt.Errorf("decode quality flags for snapshot %d: %w", snap.ID, err)
		}
	}
	snap.ObservedAt = snap.ObservedAt.UTC()
	if createdAt.Valid {
		snap.CreatedAt = createdAt.Time
	}
	return snap, nil
}

// GetCurrentState merges the latest record of every source into one state.
// Newer sources win when two report the same indicator. Returns nil when the
// city has no data.
func (s *Store) GetCurrentState(city, state string) (*models.CurrentState, error) {
	snaps, err := s.GetLatestSnapshots(city, state)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}

	values := make(map[models.Indicator]float64)
	freshness := make(map[string]time.Time, len(snaps))
	var latest time.Time
	for _, snap := range snaps {
		for k, v := range snap.Values {
			values[k] = v
		}
		freshness[snap.Source] = snap.ObservedAt
		if snap.ObservedAt.After(latest) {
			latest = snap.ObservedAt
		}
	}

	cs := models.NewCurrentState(snaps[0].City, snaps[len(snaps)-1].State, latest, values, freshness)
	return &cs, nil
}

// ListCities returns every city with at least one snapshot, ordered by name.
func (s *Store) ListCities() ([]models.CitySummary, error) {
	rows, err := s.db.Query(`
		SELECT s.city, s.state, s.observed_at,
			(SELECT COUNT(DISTINCT source) FROM snapshots WHERE city = s.city AND state = s.state)
		FROM snapshots s
		WHERE s.id = (
			SELECT id FROM snapshots
			WHERE city = s.city AND state = s.state
			ORDER BY observed_at DESC, id DESC
			LIMIT 1
		)
		ORDER BY s.city, s.state
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cities []models.CitySummary
	for rows.Next() {
		var c models.CitySummary
		if err := rows.Scan(&c.City, &c.State, &c.LastObservedAt, &c.Sources); err != nil {
			return nil, err
		}
		c.LastObservedAt = c.LastObservedAt.UTC()
		cities = append(cities, c)
	}
	return cities, rows.Err()
}

func (s *Store) RecordAssessment(rec models.AssessmentRecord) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO assessments (city, state, assessed_at, environmental_risk, environmental_prob,
			health_risk, health_prob, food_security_risk, food_security_prob, resilience_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.City, rec.State, rec.AssessedAt.UTC(), rec.EnvironmentalRisk, rec.EnvironmentalProb,
		rec.HealthRisk, rec.HealthProb, rec.FoodSecurityRisk, rec.FoodSecurityProb, rec.ResilienceScore)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetAssessmentHistory returns the assessments of a city in [start, end], oldest first.
func (s *Store) GetAssessmentHistory(city string, start, end time.Time) ([]models.AssessmentRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, city, state, assessed_at, environmental_risk, environmental_prob,
			health_risk, health_prob, food_security_risk, food_security_prob, resilience_score
		FROM assessments
		WHERE city = ? AND assessed_at >= ? AND assessed_at <= ?
		ORDER BY assessed_at ASC, id ASC
	`, city, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.AssessmentRecord
	for rows.Next() {
		var r models.AssessmentRecord
		if err := rows.Scan(&r.ID, &r.City, &r.State, &r.AssessedAt, &r.EnvironmentalRisk, &r.EnvironmentalProb,
			&r.HealthRisk, &r.HealthProb, &r.FoodSecurityRisk, &r.FoodSecurityProb, &r.ResilienceScore); err != nil {
			return nil, err
		}
		r.AssessedAt = r.AssessedAt.UTC()
		history = append(history, r)
	}
	return history, rows.Err()
}
