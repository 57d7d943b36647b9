package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lox/urbanrisk/internal/metrics"
	"github.com/lox/urbanrisk/internal/models"
	"github.com/lox/urbanrisk/internal/store"
)

// Result summarises one ingest of one feed document.
type Result struct {
	Parsed   int
	Stored   int
	Rejected int
	Cities   []models.CityRef
}

// Ingester pulls feed documents into the store, auditing every fetch.
type Ingester struct {
	store *store.Store
	now   func() time.Time
}

func NewIngester(st *store.Store) *Ingester {
	return &Ingester{store: st, now: time.Now}
}

// Ingest fetches src once and stores every valid record. A fetch or decode
// failure is returned; rejected records are only logged and counted.
func (i *Ingester) Ingest(ctx context.Context, src Source) (Result, error) {
	run, err := i.store.BeginFeedRun(src.Kind(), src.Endpoint())
	if err != nil {
		log.Printf("ingest: %v", err)
	}

	body, fetch, err := src.Fetch(ctx)
	if fetch != nil && run != nil {
		run.HTTPStatus = fetch.HTTPStatus
		run.Bytes = fetch.ResponseSize
	}
	if err != nil {
		metrics.FeedFetchTotal.WithLabelValues(src.Kind(), "error").Inc()
		i.finish(run, err)
		return Result{}, fmt.Errorf("fetch %s: %w", src.Endpoint(), err)
	}
	metrics.FeedFetchTotal.WithLabelValues(src.Kind(), "ok").Inc()

	var runID int64
	if run != nil {
		runID = run.ID
	}
	if _, err := i.store.ArchiveFeed(runID, src.Kind(), src.Endpoint(), body); err != nil {
		log.Printf("ingest: archive %s: %v", src.Endpoint(), err)
	}

	res, err := i.ingestDocument(body)
	if run != nil {
		run.Parsed, run.Stored, run.Rejected = res.Parsed, res.Stored, res.Rejected
	}
	i.finish(run, err)
	if err != nil {
		return res, fmt.Errorf("ingest %s: %w", src.Endpoint(), err)
	}

	log.Printf("ingest: %s: %d records, %d stored, %d rejected", src.Endpoint(), res.Parsed, res.Stored, res.Rejected)
	return res, nil
}

func (i *Ingester) finish(run *store.FeedRun, err error) {
	if run == nil {
		return
	}
	if ferr := i.store.FinishFeedRun(run, err); ferr != nil {
		log.Printf("ingest: %v", ferr)
	}
}

func (i *Ingester) ingestDocument(body []byte) (Result, error) {
	records, err := DecodeFeed(body)
	if err != nil {
		return Result{}, err
	}

	res := Result{Parsed: len(records)}
	seen := make(map[models.CityRef]bool)
	now := i.now()

	for n, rec := range records {
		snap, err := ValidateRecord(rec, now)
		if err != nil {
			log.Printf("ingest: record %d (%q): %v", n, rec.City, err)
			res.Rejected++
			continue
		}
		if len(snap.QualityFlags) > 0 {
			log.Printf("ingest: %s/%s quality flags: %v", snap.City, snap.Source, snap.QualityFlags)
		}

		inserted, err := i.store.InsertSnapshot(snap)
		if err != nil {
			log.Printf("ingest: insert %s/%s: %v", snap.City, snap.Source, err)
			res.Rejected++
			continue
		}
		if !inserted {
			continue
		}
		res.Stored++
		metrics.SnapshotsIngested.WithLabelValues(snap.Source).Inc()

		ref := models.CityRef{City: snap.City, State: snap.State}
		if !seen[ref] {
			seen[ref] = true
			res.Cities = append(res.Cities, ref)
		}
	}
	return res, nil
}
