// Package types defines the core data structures shared across the enrichment
// pipeline: items, fingerprints, concepts, enrichment records, and the
// evidence bag passed between analysis services.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxTitleLength is the upper bound on item titles, enforced at validation
// time and by the database schema.
const MaxTitleLength = 500

// ServiceType identifies one analysis service in the enrichment chain.
type ServiceType string

const (
	// ServiceClassify assigns a taxonomy category to the item.
	ServiceClassify ServiceType = "classify"
	// ServiceEntities extracts named entities, topics, and keywords.
	ServiceEntities ServiceType = "entities"
	// ServiceAssess scores quality, novelty, and clarity. Consumes classify
	// and entities evidence.
	ServiceAssess ServiceType = "assess"
	// ServiceSummarize produces the final headline and abstract. Consumes
	// classify and assess evidence.
	ServiceSummarize ServiceType = "summarize"
)

// IsValid checks if the service type is one of the known types
func (s ServiceType) IsValid() bool {
	switch s {
	case ServiceClassify, ServiceEntities, ServiceAssess, ServiceSummarize:
		return true
	}
	return false
}

// AllServiceTypes returns the built-in service types in registration order.
func AllServiceTypes() []ServiceType {
	return []ServiceType{ServiceClassify, ServiceEntities, ServiceAssess, ServiceSummarize}
}

// Item is one unit of incoming content. Items are produced by an external
// fetcher, consumed exactly once per run, and never mutated by the pipeline.
type Item struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	Body    string `json:"body,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Validate checks that the item carries the fields the pipeline requires
func (i *Item) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("item ID is required")
	}
	if i.Title == "" {
		return fmt.Errorf("item title is required")
	}
	if len(i.Title) > MaxTitleLength {
		return fmt.Errorf("item title too long: %d chars (max %d)", len(i.Title), MaxTitleLength)
	}
	return nil
}

// Fingerprint is the canonical deduplication key derived from an item's
// normalized semantic content. Two items with equal semantic content carry
// equal fingerprints; a fingerprint is computed once per item per run and
// never recomputed afterwards.
type Fingerprint string

// IsZero reports whether the fingerprint is unset.
func (f Fingerprint) IsZero() bool { return f == "" }

// Short returns a truncated form suitable for logs.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// Concept is the canonical deduplication unit: one concept per fingerprint,
// owning at most one enrichment record per service type. A concept is created
// the first time its fingerprint is seen with no existing match; every later
// item sharing the fingerprint references the same concept.
type Concept struct {
	ID          string      `json:"id"`
	Fingerprint Fingerprint `json:"fingerprint"`
	CreatedAt   time.Time   `json:"created_at"`
}

// EnrichmentRecord is the output of one analysis service for one concept: the
// structured output payload, the evidence fragment later services may consume,
// and the cost incurred producing it. Records are immutable once created; a
// reuse copy duplicates the record onto the target item and never mutates the
// source.
type EnrichmentRecord struct {
	Service   ServiceType     `json:"service"`
	Output    json.RawMessage `json:"output"`
	Evidence  json.RawMessage `json:"evidence,omitempty"`
	Cost      float64         `json:"cost"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks structural integrity of the record
func (r *EnrichmentRecord) Validate() error {
	if !r.Service.IsValid() {
		return fmt.Errorf("invalid service type: %q", r.Service)
	}
	if len(r.Output) == 0 {
		return fmt.Errorf("record for %s has empty output", r.Service)
	}
	if !json.Valid(r.Output) {
		return fmt.Errorf("record for %s has malformed output", r.Service)
	}
	if len(r.Evidence) > 0 && !json.Valid(r.Evidence) {
		return fmt.Errorf("record for %s has malformed evidence", r.Service)
	}
	if r.Cost < 0 {
		return fmt.Errorf("record for %s has negative cost: %.4f", r.Service, r.Cost)
	}
	return nil
}

// Clone returns a deep copy of the record
func (r *EnrichmentRecord) Clone() *EnrichmentRecord {
	out := *r
	if r.Output != nil {
		out.Output = append(json.RawMessage(nil), r.Output...)
	}
	if r.Evidence != nil {
		out.Evidence = append(json.RawMessage(nil), r.Evidence...)
	}
	return &out
}

// ConceptSnapshot is a concept together with its current enrichment records,
// as resolved from the metadata store at the start of a batch.
type ConceptSnapshot struct {
	ConceptID   string
	Fingerprint Fingerprint
	Records     map[ServiceType]*EnrichmentRecord
}

// Record returns the enrichment record for the given service, if present.
// Safe to call on a nil snapshot.
func (s *ConceptSnapshot) Record(service ServiceType) (*EnrichmentRecord, bool) {
	if s == nil || s.Records == nil {
		return nil, false
	}
	rec, ok := s.Records[service]
	return rec, ok
}

// EvidenceBag accumulates evidence fragments keyed by the service that
// produced them. The bag is append-only while a chain or copy executes;
// services receive a clone and can never mutate fragments already written.
type EvidenceBag map[ServiceType]json.RawMessage

// Clone returns an independent copy of the bag
func (b EvidenceBag) Clone() EvidenceBag {
	out := make(EvidenceBag, len(b))
	for svc, frag := range b {
		out[svc] = append(json.RawMessage(nil), frag...)
	}
	return out
}

// Fragment returns the evidence fragment for a service, or nil when the
// service has not produced one (the degraded-evidence case for dependents).
func (b EvidenceBag) Fragment(service ServiceType) json.RawMessage {
	if b == nil {
		return nil
	}
	return b[service]
}

// ErrorKind classifies isolated failures recorded against an item or a batch.
type ErrorKind string

const (
	// ErrorKindMetadataResolution marks a batch-scoped metadata store failure.
	// Resolution fails closed: the whole batch is analyzed fresh.
	ErrorKindMetadataResolution ErrorKind = "metadata_resolution"
	// ErrorKindServiceFailure marks the failure of one analysis service for
	// one item. The chain continues past it.
	ErrorKindServiceFailure ErrorKind = "service_failure"
	// ErrorKindCopyIntegrity marks an unusable reuse snapshot. The copy is
	// aborted and the item falls back to fresh analysis.
	ErrorKindCopyIntegrity ErrorKind = "copy_integrity"
	// ErrorKindStorageWrite marks a failed persistence attempt. The item is
	// marked errored and not retried within the run.
	ErrorKindStorageWrite ErrorKind = "storage_write"
)

// ItemError is the serializable form of one recorded failure.
type ItemError struct {
	Kind    ErrorKind   `json:"kind"`
	Service ServiceType `json:"service,omitempty"`
	Message string      `json:"message"`
}

func (e ItemError) String() string {
	if e.Service != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Service, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// EnrichedItem is the finished bundle handed to the storage writer: the item,
// its concept assignment, and the enrichment records produced or copied for it.
type EnrichedItem struct {
	Item        *Item               `json:"item"`
	Fingerprint Fingerprint         `json:"fingerprint"`
	ConceptID   string              `json:"concept_id"`
	Records     []*EnrichmentRecord `json:"records"`
	// Copied is true when every enabled service was satisfied by reuse.
	// Mutually exclusive with having incurred fresh analysis cost.
	Copied bool `json:"copied"`
	// Cost is the fresh analysis cost incurred for this item. Always zero for
	// copied items; the avoided cost is accounted separately as savings.
	Cost   float64     `json:"cost"`
	Errors []ItemError `json:"errors,omitempty"`
}

// Validate cross-checks the bundle's internal consistency
func (e *EnrichedItem) Validate() error {
	if e.Item == nil {
		return fmt.Errorf("enriched item has no item")
	}
	if err := e.Item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}
	if e.Fingerprint.IsZero() {
		return fmt.Errorf("enriched item %s has no fingerprint", e.Item.ID)
	}
	if e.ConceptID == "" {
		return fmt.Errorf("enriched item %s has no concept ID", e.Item.ID)
	}
	if e.Copied && e.Cost != 0 {
		return fmt.Errorf("copied item %s reports nonzero cost %.4f", e.Item.ID, e.Cost)
	}
	seen := make(map[ServiceType]bool, len(e.Records))
	for _, rec := range e.Records {
		if rec == nil {
			return fmt.Errorf("enriched item %s has nil record", e.Item.ID)
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("enriched item %s: %w", e.Item.ID, err)
		}
		if seen[rec.Service] {
			return fmt.Errorf("enriched item %s has duplicate record for %s", e.Item.ID, rec.Service)
		}
		seen[rec.Service] = true
	}
	return nil
}
