// Package stats owns the run counters and derived deduplication accounting.
package stats

import (
	"fmt"
	"sync"
)

// Counts holds the raw counters for one run. Every counter is monotonic
// non-decreasing for the duration of the run.
type Counts struct {
	// Fetched is the number of items admitted from the fetcher.
	Fetched int `json:"fetched"`
	// Analyzed is the number of items that ran fresh analysis.
	Analyzed int `json:"analyzed"`
	// Copied is the number of items fully satisfied by reuse.
	Copied int `json:"copied"`
	// Stored is the number of items successfully persisted.
	Stored int `json:"stored"`
	// Errors is the number of recorded failures: one per failed service call,
	// one per aborted copy, one per failed write, and one per failed batch
	// resolution.
	Errors int `json:"errors"`
}

// Summary is the derived view of a run's counters.
type Summary struct {
	Counts Counts `json:"counts"`
	// DedupRate is the fraction of processed items satisfied by copy rather
	// than fresh analysis: copied / (analyzed + copied). Zero when nothing
	// has been processed.
	DedupRate float64 `json:"dedup_rate"`
	// CostSaved values the avoided fresh analyses in USD:
	// copied * unit cost per analysis.
	CostSaved float64 `json:"cost_saved"`
}

// Tracker is the exclusive owner of one run's statistics. All mutation goes
// through its increment methods; callers never touch counters directly.
// Safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	unitCost float64
	counts   Counts
}

// NewTracker creates a tracker valuing each avoided fresh analysis at
// unitCost USD.
func NewTracker(unitCost float64) (*Tracker, error) {
	if unitCost < 0 {
		return nil, fmt.Errorf("unit cost cannot be negative: %.4f", unitCost)
	}
	return &Tracker{unitCost: unitCost}, nil
}

// RecordFetched adds n items admitted from the fetcher
func (t *Tracker) RecordFetched(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts.Fetched += n
}

// RecordAnalyzed counts one item that ran fresh analysis
func (t *Tracker) RecordAnalyzed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts.Analyzed++
}

// RecordCopied counts one item fully satisfied by reuse
func (t *Tracker) RecordCopied() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts.Copied++
}

// RecordStored counts one successfully persisted item
func (t *Tracker) RecordStored() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts.Stored++
}

// RecordError counts one recorded failure
func (t *Tracker) RecordError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts.Errors++
}

// Counts returns a copy of the current counters
func (t *Tracker) Counts() Counts {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts
}

// Summary returns the counters plus the derived dedup rate and cost savings.
// May be called at any point during a run; it reflects every increment that
// happened before the call.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Summary{Counts: t.counts}
	if denom := t.counts.Analyzed + t.counts.Copied; denom > 0 {
		s.DedupRate = float64(t.counts.Copied) / float64(denom)
	}
	s.CostSaved = float64(t.counts.Copied) * t.unitCost
	return s
}

// String returns a one-line progress summary
func (t *Tracker) String() string {
	s := t.Summary()
	return fmt.Sprintf("fetched=%d analyzed=%d copied=%d stored=%d errors=%d dedup=%.1f%% saved=$%.2f",
		s.Counts.Fetched, s.Counts.Analyzed, s.Counts.Copied, s.Counts.Stored, s.Counts.Errors,
		s.DedupRate*100, s.CostSaved)
}
