package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Record is one entry of a feed document: the indicators one upstream source
// reported for one city. Null values mean "not reported".
type Record struct {
	City       string              `json:"city"`
	State      string              `json:"state,omitempty"`
	Source     string              `json:"source"`
	ObservedAt time.Time           `json:"observed_at"`
	Values     map[string]*float64 `json:"values"`
}

// DecodeFeed parses a feed document, either a bare JSON array of records or
// an object with a "records" array.
func DecodeFeed(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("decode feed: empty document")
	}

	if trimmed[0] == '[' {
		var records []Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode feed: %w", err)
		}
		return records, nil
	}

	var wrapped struct {
		Records []Record `json:"records"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	if wrapped.Records == nil {
		return nil, errors.New("decode feed: no records array")
	}
	return wrapped.Records, nil
}
