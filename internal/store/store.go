// Package store defines the persistence contracts for concepts, enrichment
// records, runs, and pipeline events. The sqlite subpackage provides the
// backend; everything above it depends only on these interfaces.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prism/internal/events"
	"prism/internal/types"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// WriteError wraps a failure to persist one enriched item
type WriteError struct {
	ItemID string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to store item %s: %v", e.ItemID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// MetadataStore resolves fingerprints to concept snapshots. This is the read
// side of deduplication: one bulk lookup per batch, never per item.
type MetadataStore interface {
	// ResolveBatch returns a snapshot for every fingerprint that already has
	// a concept. Fingerprints with no concept are simply absent from the
	// result. Implementations must answer with a bounded number of queries
	// regardless of batch size.
	ResolveBatch(ctx context.Context, fingerprints []types.Fingerprint) (map[types.Fingerprint]*types.ConceptSnapshot, error)
}

// Writer persists enriched items. StoreItem is atomic per item: the concept,
// its new records, and the item row land together or not at all.
type Writer interface {
	StoreItem(ctx context.Context, runID string, item *types.EnrichedItem) error
}

// Run is the persisted summary of one pipeline run
type Run struct {
	ID          string
	Model       string
	StartedAt   time.Time
	CompletedAt *time.Time
	Fetched     int
	Analyzed    int
	Copied      int
	Stored      int
	Errors      int
	DedupRate   float64
	CostSaved   float64
}

// RunStore tracks pipeline runs
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	// CompleteRun updates the run's counters and sets its completion time.
	CompleteRun(ctx context.Context, run *Run) error
	// GetRun returns ErrNotFound when no run has the given ID.
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
}

// EventStore persists the pipeline event stream
type EventStore interface {
	AppendEvent(ctx context.Context, event *events.Event) error
	// ListEvents returns a run's events in append order.
	ListEvents(ctx context.Context, runID string, limit int) ([]*events.Event, error)
}

// ConceptSummary describes one concept for inspection commands
type ConceptSummary struct {
	ID          string
	Fingerprint types.Fingerprint
	CreatedAt   time.Time
	Services    []types.ServiceType
}

// Store is the full persistence surface used by the pipeline and CLI
type Store interface {
	MetadataStore
	Writer
	RunStore
	EventStore

	// ListConcepts returns the most recently created concepts, newest first.
	ListConcepts(ctx context.Context, limit int) ([]*ConceptSummary, error)

	Close() error
}
