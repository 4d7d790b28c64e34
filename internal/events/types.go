// Package events defines the typed event stream emitted by the enrichment
// pipeline. Events are persisted through the store so past runs can be
// inspected without scraping logs.
package events

import (
	"fmt"
	"time"
)

// EventType identifies the kind of pipeline event
type EventType string

const (
	// EventRunStarted marks the start of a pipeline run.
	EventRunStarted EventType = "run_started"

	// EventBatchResolved marks the completion of one batch's metadata
	// resolution, including the fail-closed case.
	EventBatchResolved EventType = "batch_resolved"

	// EventItemAnalyzed marks an item that ran fresh analysis.
	EventItemAnalyzed EventType = "item_analyzed"

	// EventItemCopied marks an item fully satisfied by reuse.
	EventItemCopied EventType = "item_copied"

	// EventItemFailed marks an item that recorded at least one failure.
	EventItemFailed EventType = "item_failed"

	// EventClaimReleased marks a fingerprint claim released by a failed
	// holder and handed to the next waiter.
	EventClaimReleased EventType = "claim_released"

	// EventRunCompleted marks the end of a run, carrying the final summary.
	EventRunCompleted EventType = "run_completed"
)

// IsValid checks if the event type is one of the known types
func (t EventType) IsValid() bool {
	switch t {
	case EventRunStarted, EventBatchResolved, EventItemAnalyzed, EventItemCopied,
		EventItemFailed, EventClaimReleased, EventRunCompleted:
		return true
	}
	return false
}

// Severity indicates the importance of an event
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// IsValid checks if the severity is one of the known levels
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Event is one observation from a pipeline run. ItemID is empty for run- and
// batch-scoped events. Data carries type-specific payload fields; use the
// typed helpers rather than reaching into the map directly.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	ItemID    string                 `json:"item_id,omitempty"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Validate checks that required fields are present
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event ID is required")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type: %q", e.Type)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp is required")
	}
	if e.RunID == "" {
		return fmt.Errorf("event run ID is required")
	}
	if !e.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %q", e.Severity)
	}
	if e.Message == "" {
		return fmt.Errorf("event message is required")
	}
	return nil
}
