package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"prism/internal/stats"
	"prism/internal/types"
)

// NewRunStartedEvent creates an event marking the start of a run
func NewRunStartedEvent(runID string, itemCount int, configSummary string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      EventRunStarted,
		Timestamp: time.Now(),
		RunID:     runID,
		Severity:  SeverityInfo,
		Message:   fmt.Sprintf("Run started with %d items", itemCount),
		Data: map[string]interface{}{
			"item_count": itemCount,
			"config":     configSummary,
		},
	}
}

// NewBatchResolvedEvent creates an event for one batch's metadata resolution.
// failed marks the fail-closed case where the whole batch is analyzed fresh.
func NewBatchResolvedEvent(runID string, batchSize, conceptsFound int, failed bool) *Event {
	severity := SeverityInfo
	message := fmt.Sprintf("Resolved batch of %d items (%d existing concepts)", batchSize, conceptsFound)
	if failed {
		severity = SeverityWarning
		message = fmt.Sprintf("Metadata resolution failed for batch of %d items, analyzing fresh", batchSize)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      EventBatchResolved,
		Timestamp: time.Now(),
		RunID:     runID,
		Severity:  severity,
		Message:   message,
		Data: map[string]interface{}{
			"batch_size":     batchSize,
			"concepts_found": conceptsFound,
			"failed":         failed,
		},
	}
}

// NewItemAnalyzedEvent creates an event for an item that ran fresh analysis
func NewItemAnalyzedEvent(runID, itemID, conceptID string, services int, cost float64) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      EventItemAnalyzed,
		Timestamp: time.Now(),
		RunID:     runID,
		ItemID:    itemID,
		Severity:  SeverityInfo,
		Message:   fmt.Sprintf("Analyzed %d services for $%.4f", services, cost),
		Data: map[string]interface{}{
			"concept_id": conceptID,
			"services":   services,
			"cost":       cost,
		},
	}
}

// NewItemCopiedEvent creates an event for an item fully satisfied by reuse
func NewItemCopiedEvent(runID, itemID, conceptID string, services int) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      EventItemCopied,
		Timestamp: time.Now(),
		RunID:     runID,
		ItemID:    itemID,
		Severity:  SeverityInfo,
		Message:   fmt.Sprintf("Copied %d services from concept %s", services, conceptID),
		Data: map[string]interface{}{
			"concept_id": conceptID,
			"services":   services,
		},
	}
}

// NewItemFailedEvent creates an event for a recorded item failure
func NewItemFailedEvent(runID, itemID string, kind types.ErrorKind, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      EventItemFailed,
		Timestamp: time.Now(),
		RunID:     runID,
		ItemID:    itemID,
		Severity:  SeverityError,
		Message:   message,
		Data: map[string]interface{}{
			"kind": string(kind),
		},
	}
}

// NewClaimReleasedEvent creates an event for a claim passed to the next waiter
func NewClaimReleasedEvent(runID string, fingerprint types.Fingerprint, waiters int) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      EventClaimReleased,
		Timestamp: time.Now(),
		RunID:     runID,
		Severity:  SeverityWarning,
		Message:   fmt.Sprintf("Claim on %s released with %d waiters", fingerprint.Short(), waiters),
		Data: map[string]interface{}{
			"fingerprint": string(fingerprint),
			"waiters":     waiters,
		},
	}
}

// NewRunCompletedEvent creates an event carrying the final run summary
func NewRunCompletedEvent(runID string, summary stats.Summary, duration time.Duration) *Event {
	event := &Event{
		ID:        uuid.New().String(),
		Type:      EventRunCompleted,
		Timestamp: time.Now(),
		RunID:     runID,
		Severity:  SeverityInfo,
		Message: fmt.Sprintf("Run completed in %s: %d analyzed, %d copied, $%.2f saved",
			duration.Round(time.Millisecond), summary.Counts.Analyzed, summary.Counts.Copied,
			summary.CostSaved),
	}
	if err := SetRunSummaryData(event, RunSummaryData{
		Fetched:    summary.Counts.Fetched,
		Analyzed:   summary.Counts.Analyzed,
		Copied:     summary.Counts.Copied,
		Stored:     summary.Counts.Stored,
		Errors:     summary.Counts.Errors,
		DedupRate:  summary.DedupRate,
		CostSaved:  summary.CostSaved,
		DurationMs: duration.Milliseconds(),
	}); err != nil {
		// Construction never produces unmarshalable data; keep the event
		// usable even if it somehow does.
		event.Data = map[string]interface{}{"error": err.Error()}
	}
	return event
}
