// Package dedup implements the deduplication machinery: batch fingerprint
// resolution against the store, the copy-or-analyze gate, and the
// per-fingerprint claim arena that keeps concurrent workers from running the
// same fresh analysis twice.
package dedup

import (
	"context"
	"fmt"
	"log"

	"prism/internal/fingerprint"
	"prism/internal/store"
	"prism/internal/types"
)

// ResolutionError reports a failed batch metadata lookup. Resolution fails
// closed: the batch still runs, every item is treated as fresh, and exactly
// one of these errors is recorded for the whole batch.
type ResolutionError struct {
	BatchSize int
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("metadata resolution failed for batch of %d items: %v", e.BatchSize, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// BatchResolution maps one batch's items to their fingerprints and to the
// concept snapshots the store already holds.
type BatchResolution struct {
	// Fingerprints holds each item's computed fingerprint, keyed by item ID.
	Fingerprints map[string]types.Fingerprint

	// Snapshots holds known concepts keyed by fingerprint. A fingerprint
	// absent from this map has no stored concept.
	Snapshots map[types.Fingerprint]*types.ConceptSnapshot
}

// Fingerprint returns an item's computed fingerprint
func (r *BatchResolution) Fingerprint(itemID string) (types.Fingerprint, bool) {
	if r == nil {
		return "", false
	}
	fp, ok := r.Fingerprints[itemID]
	return fp, ok
}

// Snapshot returns the stored snapshot for an item, or nil for fresh content
func (r *BatchResolution) Snapshot(itemID string) *types.ConceptSnapshot {
	if r == nil {
		return nil
	}
	fp, ok := r.Fingerprints[itemID]
	if !ok {
		return nil
	}
	return r.Snapshots[fp]
}

// Resolver computes batch fingerprints and resolves them against the store
type Resolver struct {
	store store.MetadataStore
}

// NewResolver creates a resolver backed by the given metadata store
func NewResolver(st store.MetadataStore) (*Resolver, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	return &Resolver{store: st}, nil
}

// ResolveBatch fingerprints every item and performs one bulk store lookup for
// the whole batch. Per-item lookups are never issued.
//
// On store failure the returned resolution still carries every fingerprint,
// the snapshot map stays empty, and the error is a single *ResolutionError.
// Callers proceed with the resolution as if all content were fresh.
func (r *Resolver) ResolveBatch(ctx context.Context, items []*types.Item) (*BatchResolution, error) {
	resolution := &BatchResolution{
		Fingerprints: make(map[string]types.Fingerprint, len(items)),
		Snapshots:    make(map[types.Fingerprint]*types.ConceptSnapshot),
	}

	fps := make([]types.Fingerprint, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		fp := fingerprint.Compute(item)
		resolution.Fingerprints[item.ID] = fp
		fps = append(fps, fp)
	}
	if len(fps) == 0 {
		return resolution, nil
	}

	snapshots, err := r.store.ResolveBatch(ctx, fps)
	if err != nil {
		log.Printf("[DEDUP] Batch resolution failed for %d items: %v (treating batch as fresh)", len(items), err)
		return resolution, &ResolutionError{BatchSize: len(items), Err: err}
	}

	resolution.Snapshots = snapshots
	log.Printf("[DEDUP] Resolved batch: %d items, %d known concepts", len(items), len(snapshots))
	return resolution, nil
}
