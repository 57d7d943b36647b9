package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// CurrentState is an aggregated snapshot of every indicator known for a city.
// Values are optional. The zero value is an empty state; build populated states
// with NewCurrentState. A CurrentState never shares its maps with callers.
type CurrentState struct {
	City      string
	State     string
	Timestamp time.Time

	values    map[Indicator]float64
	freshness map[string]time.Time
}

// NewCurrentState copies values and freshness into a new state.
func NewCurrentState(city, state string, ts time.Time, values map[Indicator]float64, freshness map[string]time.Time) CurrentState {
	cs := CurrentState{
		City:      city,
		State:     state,
		Timestamp: ts,
		values:    make(map[Indicator]float64, len(values)),
		freshness: make(map[string]time.Time, len(freshness)),
	}
	for k, v := range values {
		cs.values[k] = v
	}
	for k, v := range freshness {
		cs.freshness[k] = v
	}
	return cs
}

// Value returns the indicator value and whether it was present.
func (s CurrentState) Value(name Indicator) (float64, bool) {
	v, ok := s.values[name]
	return v, ok
}

func (s CurrentState) Has(name Indicator) bool {
	_, ok := s.values[name]
	return ok
}

// Len returns the number of indicators present.
func (s CurrentState) Len() int {
	return len(s.values)
}

// Values returns a copy of the indicator map.
func (s CurrentState) Values() map[Indicator]float64 {
	out := make(map[Indicator]float64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Freshness returns a copy of the per-source observation times.
func (s CurrentState) Freshness() map[string]time.Time {
	out := make(map[string]time.Time, len(s.freshness))
	for k, v := range s.freshness {
		out[k] = v
	}
	return out
}

// WithValues returns a copy of s with overlay applied on top of its values.
func (s CurrentState) WithValues(overlay map[Indicator]float64) CurrentState {
	vals := s.Values()
	for k, v := range overlay {
		vals[k] = v
	}
	return NewCurrentState(s.City, s.State, s.Timestamp, vals, s.freshness)
}

// HasPrimaryData reports whether either headline indicator is present. A state
// with neither AQI nor traffic volume is treated as "no data for this city".
func (s CurrentState) HasPrimaryData() bool {
	return s.Has(AQI) || s.Has(TrafficVolume)
}

func (s CurrentState) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.values)+4)
	out["city"] = s.City
	if s.State != "" {
		out["state"] = s.State
	}
	out["timestamp"] = s.Timestamp
	fresh := s.freshness
	if fresh == nil {
		fresh = map[string]time.Time{}
	}
	out["data_freshness"] = fresh
	for k, v := range s.values {
		out[string(k)] = v
	}
	return json.Marshal(out)
}

func (s *CurrentState) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var city, state string
	var ts time.Time
	fresh := map[string]time.Time{}
	values := map[Indicator]float64{}

	for key, msg := range raw {
		switch key {
		case "city":
			if err := json.Unmarshal(msg, &city); err != nil {
				return fmt.Errorf("city: %w", err)
			}
		case "state":
			if err := json.Unmarshal(msg, &state); err != nil {
				return fmt.Errorf("state: %w", err)
			}
		case "timestamp":
			if err := json.Unmarshal(msg, &ts); err != nil {
				return fmt.Errorf("timestamp: %w", err)
			}
		case "data_freshness":
			if err := json.Unmarshal(msg, &fresh); err != nil {
				return fmt.Errorf("data_freshness: %w", err)
			}
		default:
			name := Indicator(key)
			if _, ok := LookupIndicator(name); !ok {
				continue
			}
			var v *float64
			if err := json.Unmarshal(msg, &v); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			if v != nil {
				values[name] = *v
			}
		}
	}

	*s = NewCurrentState(city, state, ts, values, fresh)
	return nil
}

// Modification is a sparse set of proposed indicator values. Only supplied keys
// are changed directly.
type Modification map[Indicator]float64

// Keys returns the modified indicators in name order.
func (m Modification) Keys() []Indicator {
	keys := make([]Indicator, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
