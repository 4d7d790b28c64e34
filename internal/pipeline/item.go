package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"prism/internal/dedup"
	"prism/internal/enrich"
	"prism/internal/events"
	"prism/internal/fingerprint"
	"prism/internal/types"
)

// processItem takes one item through gating, enrichment, and persistence. It
// always returns a bundle; failures are recorded on it rather than returned.
func (p *Pipeline) processItem(ctx context.Context, rs *runState, resolution *dedup.BatchResolution, item *types.Item) *types.EnrichedItem {
	fp, ok := resolution.Fingerprint(item.ID)
	if !ok {
		fp = fingerprint.Compute(item)
	}
	enriched := &types.EnrichedItem{Item: item, Fingerprint: fp}

	p.enrichItem(ctx, rs, resolution, enriched)
	p.persistItem(ctx, rs, enriched)
	return enriched
}

// enrichItem decides and performs the work for one item: full reuse when the
// freshest snapshot covers every enabled service, otherwise fresh analysis
// under a per-fingerprint claim so concurrent items sharing the fingerprint
// wait for one result instead of duplicating AI calls.
func (p *Pipeline) enrichItem(ctx context.Context, rs *runState, resolution *dedup.BatchResolution, enriched *types.EnrichedItem) {
	item := enriched.Item
	fp := enriched.Fingerprint
	deadline := time.Now().Add(p.cfg.ClaimTimeout)

	snapshot := p.freshestSnapshot(rs, resolution, item.ID, fp)

	// forceFresh is set after a copy integrity failure: the snapshot is
	// untrusted and every enabled service is analyzed from scratch.
	forceFresh := false

	for {
		if !forceFresh {
			decisions := p.gate.Decide(snapshot, time.Now())
			if dedup.AllCopy(decisions) {
				if p.tryCopy(ctx, rs, enriched, snapshot, decisions) {
					return
				}
				forceFresh = true
			}
		}

		ticket := rs.arena.Claim(fp)
		if ticket.Holder {
			if ticket.Snapshot != nil {
				// Another item resolved this fingerprint after our last
				// look. Its result may already cover us.
				snapshot = ticket.Snapshot
				forceFresh = false
				decisions := p.gate.Decide(snapshot, time.Now())
				if dedup.AllCopy(decisions) {
					if p.tryCopy(ctx, rs, enriched, snapshot, decisions) {
						ticket.Resolve(nil) // keep the prior state for waiters
						return
					}
					forceFresh = true
				}
			}
			p.analyzeAsHolder(ctx, rs, enriched, snapshot, forceFresh, ticket)
			return
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		outcome, snap := ticket.Wait(ctx, remaining)
		if outcome == dedup.WaitTimeout {
			break
		}
		if outcome == dedup.WaitResolved {
			snapshot = snap
			forceFresh = false
		}
		// WaitReleased loops around to re-claim; exactly one waiter wins the
		// new claim and the rest return here as waiters again.
	}

	// The claim window closed without a usable result. Liveness wins over
	// strict dedup: analyze independently.
	log.Printf("[CLAIM] Item %s gave up waiting on %s, analyzing independently", item.ID, fp.Short())
	p.runAnalysis(ctx, rs, enriched, snapshot, forceFresh)
}

// freshestSnapshot prefers a claim resolution from this run over the batch's
// store resolution, since the former includes records produced moments ago.
func (p *Pipeline) freshestSnapshot(rs *runState, resolution *dedup.BatchResolution, itemID string, fp types.Fingerprint) *types.ConceptSnapshot {
	if snap, ok := rs.arena.Resolved(fp); ok {
		return snap
	}
	return resolution.Snapshot(itemID)
}

// tryCopy attempts to finish the item entirely from the snapshot. On an
// integrity failure it records the error and returns false, leaving the item
// on the fresh-analysis path.
func (p *Pipeline) tryCopy(ctx context.Context, rs *runState, enriched *types.EnrichedItem, snapshot *types.ConceptSnapshot, decisions []dedup.Decision) bool {
	records, err := enrich.Replay(snapshot, decisions)
	if err != nil {
		p.recordItemError(ctx, rs, enriched, types.ErrorKindCopyIntegrity, err.Error())
		return false
	}

	enriched.ConceptID = snapshot.ConceptID
	enriched.Records = records
	enriched.Copied = true
	enriched.Cost = 0
	rs.tracker.RecordCopied()
	p.emit(ctx, events.NewItemCopiedEvent(rs.id, enriched.Item.ID, snapshot.ConceptID, len(records)))
	log.Printf("[DEDUP] Item %s: copied %d records from concept %s", enriched.Item.ID, len(records), snapshot.ConceptID)
	return true
}

// analyzeAsHolder performs the fresh work while holding the fingerprint
// claim, then publishes the result to waiters. A holder that produced nothing
// new releases the claim so the next waiter can try instead.
func (p *Pipeline) analyzeAsHolder(ctx context.Context, rs *runState, enriched *types.EnrichedItem, snapshot *types.ConceptSnapshot, forceFresh bool, ticket *dedup.Ticket) {
	freshRecords := p.runAnalysis(ctx, rs, enriched, snapshot, forceFresh)
	if freshRecords > 0 {
		ticket.Resolve(dedup.MergeSnapshot(nil, enriched.Fingerprint, enriched.ConceptID, enriched.Records))
		return
	}

	waiters := ticket.Release()
	p.emit(ctx, events.NewClaimReleasedEvent(rs.id, enriched.Fingerprint, waiters))
	log.Printf("[CLAIM] Item %s produced no new records, released claim on %s (%d waiters)",
		enriched.Item.ID, enriched.Fingerprint.Short(), waiters)
}

// runAnalysis performs the fresh part of an item's enrichment: replaying
// whatever the snapshot still covers and executing the remaining services in
// dependency order. Returns the number of freshly produced records.
func (p *Pipeline) runAnalysis(ctx context.Context, rs *runState, enriched *types.EnrichedItem, snapshot *types.ConceptSnapshot, forceFresh bool) int {
	item := enriched.Item

	services := p.order
	var prefix []*types.EnrichmentRecord
	var seed types.EvidenceBag
	if !forceFresh && snapshot != nil {
		decisions := p.gate.Decide(snapshot, time.Now())
		copies, analyze := dedup.Split(decisions)
		replayed, err := enrich.Replay(snapshot, copies)
		if err != nil {
			// The reusable part is unusable after all; analyze everything.
			p.recordItemError(ctx, rs, enriched, types.ErrorKindCopyIntegrity, err.Error())
		} else {
			services = analyze
			prefix = replayed
			seed = enrich.EvidenceFromRecords(replayed)
		}
	}

	outcome := p.executor.Run(ctx, item, services, seed)
	for _, itemErr := range outcome.Errors {
		enriched.Errors = append(enriched.Errors, itemErr)
		rs.tracker.RecordError()
		p.emit(ctx, events.NewItemFailedEvent(rs.id, item.ID, itemErr.Kind, itemErr.String()))
	}

	if enriched.ConceptID == "" {
		if snapshot != nil && snapshot.ConceptID != "" {
			enriched.ConceptID = snapshot.ConceptID
		} else {
			enriched.ConceptID = uuid.New().String()
		}
	}
	enriched.Records = append(prefix, outcome.Records...)
	enriched.Cost = outcome.Cost
	enriched.Copied = false

	rs.tracker.RecordAnalyzed()
	p.emit(ctx, events.NewItemAnalyzedEvent(rs.id, item.ID, enriched.ConceptID, len(outcome.Records), outcome.Cost))
	log.Printf("[PIPELINE] Item %s: analyzed %d services for $%.4f (%d errors)",
		item.ID, len(outcome.Records), outcome.Cost, len(outcome.Errors))
	return len(outcome.Records)
}

// persistItem hands the finished bundle to the storage writer. A write
// failure marks the item errored; it is not retried within the run.
func (p *Pipeline) persistItem(ctx context.Context, rs *runState, enriched *types.EnrichedItem) {
	if err := p.store.StoreItem(ctx, rs.id, enriched); err != nil {
		log.Printf("[PIPELINE] Failed to store item %s: %v", enriched.Item.ID, err)
		p.recordItemError(ctx, rs, enriched, types.ErrorKindStorageWrite, err.Error())
		return
	}
	rs.tracker.RecordStored()
}

// recordItemError records one isolated failure against the item, the run
// counters, and the event stream.
func (p *Pipeline) recordItemError(ctx context.Context, rs *runState, enriched *types.EnrichedItem, kind types.ErrorKind, message string) {
	enriched.Errors = append(enriched.Errors, types.ItemError{Kind: kind, Message: message})
	rs.tracker.RecordError()
	p.emit(ctx, events.NewItemFailedEvent(rs.id, enriched.Item.ID, kind, message))
}
