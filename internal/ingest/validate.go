package ingest

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/lox/urbanrisk/internal/models"
)

const (
	FlagUnknownIndicator = "unknown_indicator"
	FlagInvalidValue     = "invalid_value"
	FlagOutOfRange       = "out_of_range"
	FlagFutureTimestamp  = "future_timestamp"
	FlagMissingTimestamp = "missing_timestamp"

	defaultSource = "feed"
	maxClockSkew  = 10 * time.Minute
)

var (
	ErrMissingCity = errors.New("record has no city")
	ErrNoValues    = errors.New("record has no usable indicator values")
)

func flag(subject, kind string) string {
	if subject == "" {
		return kind
	}
	return subject + ":" + kind
}

// ValidateRecord turns a feed record into a snapshot. Unknown indicators and
// unusable values are dropped, out-of-range values are clamped; every such
// correction is reported as a quality flag on the snapshot.
func ValidateRecord(rec Record, now time.Time) (models.Snapshot, error) {
	snap := models.Snapshot{
		City:       strings.ToLower(strings.TrimSpace(rec.City)),
		State:      strings.ToLower(strings.TrimSpace(rec.State)),
		Source:     strings.TrimSpace(rec.Source),
		ObservedAt: rec.ObservedAt.UTC(),
		Values:     make(map[models.Indicator]float64, len(rec.Values)),
	}
	if snap.City == "" {
		return snap, ErrMissingCity
	}
	if snap.Source == "" {
		snap.Source = defaultSource
	}

	switch {
	case rec.ObservedAt.IsZero():
		snap.ObservedAt = now.UTC()
		snap.QualityFlags = append(snap.QualityFlags, flag("", FlagMissingTimestamp))
	case rec.ObservedAt.After(now.Add(maxClockSkew)):
		snap.ObservedAt = now.UTC()
		snap.QualityFlags = append(snap.QualityFlags, flag("", FlagFutureTimestamp))
	}

	names := make([]string, 0, len(rec.Values))
	for name := range rec.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := rec.Values[name]
		if v == nil {
			continue
		}
		spec, ok := models.LookupIndicator(models.Indicator(name))
		if !ok {
			snap.QualityFlags = append(snap.QualityFlags, flag(name, FlagUnknownIndicator))
			continue
		}
		if err := spec.Check(*v); err != nil {
			snap.QualityFlags = append(snap.QualityFlags, flag(name, FlagInvalidValue))
			continue
		}
		clamped := spec.Clamp(*v)
		if clamped != *v {
			snap.QualityFlags = append(snap.QualityFlags, flag(name, FlagOutOfRange))
		}
		snap.Values[spec.Name] = clamped
	}

	if len(snap.Values) == 0 {
		return snap, ErrNoValues
	}
	return snap, nil
}
