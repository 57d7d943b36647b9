package ingest

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/lox/urbanrisk/internal/metrics"
	"github.com/lox/urbanrisk/internal/models"
	"github.com/lox/urbanrisk/internal/realtime"
	"github.com/lox/urbanrisk/internal/risk"
	"github.com/lox/urbanrisk/internal/store"
)

// Publisher receives every prediction the scheduler produces.
type Publisher interface {
	Publish(p realtime.Prediction)
}

type Scheduler struct {
	store     *store.Store
	ingester  *Ingester
	engine    *risk.Engine
	publisher Publisher
	sources   []Source

	feedInterval    time.Duration
	refreshInterval time.Duration
	pruneInterval   time.Duration
	retention       time.Duration
}

func NewScheduler(st *store.Store, engine *risk.Engine, publisher Publisher, sources []Source) *Scheduler {
	return &Scheduler{
		store:           st,
		ingester:        NewIngester(st),
		engine:          engine,
		publisher:       publisher,
		sources:         sources,
		feedInterval:    10 * time.Minute,
		refreshInterval: time.Minute,
		pruneInterval:   24 * time.Hour,
		retention:       30 * 24 * time.Hour,
	}
}

// SetIntervals overrides the feed polling and prediction refresh periods.
// Zero leaves the current value.
func (s *Scheduler) SetIntervals(feed, refresh time.Duration) {
	if feed > 0 {
		s.feedInterval = feed
	}
	if refresh > 0 {
		s.refreshInterval = refresh
	}
}

// SetRetention sets how long archived feed documents are kept.
func (s *Scheduler) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention = d
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.ingestFeeds(ctx)
	s.RefreshPredictions()
	s.pruneArchive()

	feedTicker := time.NewTicker(s.feedInterval)
	refreshTicker := time.NewTicker(s.refreshInterval)
	pruneTicker := time.NewTicker(s.pruneInterval)
	defer feedTicker.Stop()
	defer refreshTicker.Stop()
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-feedTicker.C:
			s.ingestFeeds(ctx)
		case <-refreshTicker.C:
			s.RefreshPredictions()
		case <-pruneTicker.C:
			s.pruneArchive()
		}
	}
}

// IngestOnce pulls every feed a single time and returns the joined failures.
func (s *Scheduler) IngestOnce(ctx context.Context) error {
	return s.ingestFeeds(ctx)
}

func (s *Scheduler) ingestFeeds(ctx context.Context) error {
	var errs []error
	for _, src := range s.sources {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.ingester.Ingest(ctx, src); err != nil {
			log.Printf("scheduler: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RefreshPredictions assesses every known city, records the result in the
// history table and publishes it to stream subscribers.
func (s *Scheduler) RefreshPredictions() {
	cities, err := s.store.ListCities()
	if err != nil {
		log.Printf("scheduler: list cities: %v", err)
		return
	}

	published := 0
	for _, c := range cities {
		if err := s.refreshCity(c); err != nil {
			log.Printf("scheduler: refresh %s: %v", c.City, err)
			continue
		}
		published++
	}
	if published > 0 {
		log.Printf("scheduler: refreshed %d predictions", published)
	}
}

func (s *Scheduler) refreshCity(c models.CitySummary) error {
	state, err := s.store.GetCurrentState(c.City, c.State)
	if err != nil {
		return err
	}
	if state == nil || !state.HasPrimaryData() {
		return nil
	}

	start := time.Now()
	a, err := s.engine.Assess(*state)
	metrics.EngineLatency.WithLabelValues("assess").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	for _, d := range risk.Domains {
		metrics.AssessmentsTotal.WithLabelValues(string(d), string(a.Level(d))).Inc()
	}

	if _, err := s.store.RecordAssessment(a.Record(state.State)); err != nil {
		return err
	}
	if s.publisher != nil {
		s.publisher.Publish(realtime.NewPrediction(a))
	}
	return nil
}

func (s *Scheduler) pruneArchive() {
	n, err := s.store.PruneArchivedFeeds(time.Now().Add(-s.retention))
	if err != nil {
		log.Printf("scheduler: prune archive: %v", err)
		return
	}
	if n > 0 {
		log.Printf("scheduler: pruned %d archived feed documents", n)
	}
}
