package events

import (
	"encoding/json"
	"fmt"
)

// RunSummaryData is the typed payload attached to run_completed events
type RunSummaryData struct {
	Fetched    int     `json:"fetched"`
	Analyzed   int     `json:"analyzed"`
	Copied     int     `json:"copied"`
	Stored     int     `json:"stored"`
	Errors     int     `json:"errors"`
	DedupRate  float64 `json:"dedup_rate"`
	CostSaved  float64 `json:"cost_saved"`
	DurationMs int64   `json:"duration_ms"`
}

// SetRunSummaryData attaches a run summary payload to an event
func SetRunSummaryData(e *Event, data RunSummaryData) error {
	m, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert run summary data: %w", err)
	}
	e.Data = m
	return nil
}

// GetRunSummaryData extracts the run summary payload from an event.
// Returns an error if the event carries no usable payload.
func GetRunSummaryData(e *Event) (*RunSummaryData, error) {
	if e.Type != EventRunCompleted {
		return nil, fmt.Errorf("event type %s does not carry a run summary", e.Type)
	}
	if e.Data == nil {
		return nil, fmt.Errorf("event has no data payload")
	}
	var data RunSummaryData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse run summary data: %w", err)
	}
	return &data, nil
}

// structToMap converts a typed payload to the generic event data map via JSON
func structToMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// mapToStruct converts a generic event data map back to a typed payload
func mapToStruct(m map[string]interface{}, dest interface{}) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
