package store

import (
	"database/sql"
	"fmt"
	"time"
)

// FeedRun audits one fetch of one feed endpoint. The record counts mirror
// what the ingester reports for the document.
type FeedRun struct {
	ID         int64
	Source     string // http, ftp or file
	Endpoint   string // credentials stripped
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is open
	HTTPStatus int       // 0 for non-HTTP sources
	Bytes      int
	Parsed     int
	Stored     int
	Rejected   int
	Err        string // empty for a successful run
}

func (r *FeedRun) Failed() bool {
	return r.Err != ""
}

// BeginFeedRun opens an audit row for a fetch that is about to start.
func (s *Store) BeginFeedRun(source, endpoint string) (*FeedRun, error) {
	run := &FeedRun{Source: source, Endpoint: endpoint, StartedAt: time.Now().UTC()}
	res, err := s.db.Exec(`
		INSERT INTO feed_runs (day, source, endpoint, started_at) VALUES (?, ?, ?, ?)
	`, run.StartedAt.Format(time.DateOnly), source, endpoint, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert feed run: %w", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return run, nil
}

// FinishFeedRun closes run with its counts and the error that ended it, if any.
func (s *Store) FinishFeedRun(run *FeedRun, runErr error) error {
	run.FinishedAt = time.Now().UTC()
	if runErr != nil {
		run.Err = runErr.Error()
	}
	_, err := s.db.Exec(`
		UPDATE feed_runs
		SET finished_at = ?, http_status = ?, bytes = ?, parsed = ?, stored = ?, rejected = ?, error = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.Bytes, run.Parsed, run.Stored, run.Rejected, run.Err, run.ID)
	if err != nil {
		return fmt.Errorf("update feed run %d: %w", run.ID, err)
	}
	return nil
}

// FeedDay totals one endpoint's runs on one UTC day.
type FeedDay struct {
	Day      string `json:"day"`
	Source   string `json:"source"`
	Endpoint string `json:"endpoint"`
	Runs     int    `json:"runs"`
	Failed   int    `json:"failed"`
	Stored   int    `json:"records_stored"`
	Rejected int    `json:"records_rejected"`
}

// FeedHealth summarises runs from the last days UTC days, newest day first.
func (s *Store) FeedHealth(days int) ([]FeedDay, error) {
	since := time.Now().UTC().AddDate(0, 0, -days).Format(time.DateOnly)
	rows, err := s.db.Query(`
		SELECT day, source, endpoint, COUNT(*),
			SUM(error != ''), SUM(stored), SUM(rejected)
		FROM feed_runs
		WHERE day >= ?
		GROUP BY day, source, endpoint
		ORDER BY day DESC, source, endpoint
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeedDay
	for rows.Next() {
		var h FeedDay
		if err := rows.Scan(&h.Day, &h.Source, &h.Endpoint, &h.Runs, &h.Failed, &h.Stored, &h.Rejected); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// FeedFailures returns up to limit failed runs, newest first.
func (s *Store) FeedFailures(limit int) ([]FeedRun, error) {
	rows, err := s.db.Query(`
		SELECT id, source, endpoint, started_at, finished_at, http_status, bytes,
			parsed, stored, rejected, error
		FROM feed_runs
		WHERE error != ''
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeedRun
	for rows.Next() {
		var r FeedRun
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Source, &r.Endpoint, &r.StartedAt, &finished, &r.HTTPStatus,
			&r.Bytes, &r.Parsed, &r.Stored, &r.Rejected, &r.Err); err != nil {
			return nil, err
		}
		r.FinishedAt = finished.Time
		out = append(out, r)
	}
	return out, rows.Err()
}
