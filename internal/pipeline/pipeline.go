// Package pipeline orchestrates enrichment runs: batched metadata resolution,
// a bounded worker pool, per-fingerprint claims, statistics, storage, and the
// persisted event stream.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"prism/internal/analysis"
	"prism/internal/config"
	"prism/internal/dedup"
	"prism/internal/enrich"
	"prism/internal/events"
	"prism/internal/stats"
	"prism/internal/store"
	"prism/internal/types"
)

// Pipeline runs batches of items through deduplication, enrichment, and
// storage. One Pipeline may serve many runs; all run-scoped state lives in
// the runState created per Run call.
type Pipeline struct {
	cfg      config.Config
	store    store.Store
	resolver *dedup.Resolver
	gate     *dedup.Gate
	executor *enrich.Executor

	// order is the enabled service set in dependency order.
	order []types.ServiceType
}

// New validates the configuration and wires the pipeline components.
func New(cfg config.Config, registry *analysis.Registry, st store.Store) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if registry == nil {
		return nil, fmt.Errorf("analysis registry is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}

	order, err := registry.OrderedSubset(cfg.EnabledSet())
	if err != nil {
		return nil, fmt.Errorf("failed to order enabled services: %w", err)
	}

	resolver, err := dedup.NewResolver(st)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}
	executor, err := enrich.NewExecutor(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	return &Pipeline{
		cfg:      cfg,
		store:    st,
		resolver: resolver,
		gate:     dedup.NewGate(order, cfg.CopyStalenessTTL),
		executor: executor,
		order:    order,
	}, nil
}

// Result is the outcome of one pipeline run.
type Result struct {
	RunID    string
	Summary  stats.Summary
	Items    []*types.EnrichedItem
	Duration time.Duration
}

// runState is the mutable state shared by all workers of one run.
type runState struct {
	id      string
	arena   *dedup.Arena
	tracker *stats.Tracker
}

// Run processes the items and returns the aggregate result. Item failures are
// isolated and recorded; the run itself completes regardless. Canceling the
// context stops admission of new items, but items already admitted run to
// completion and are reflected in the summary.
func (p *Pipeline) Run(ctx context.Context, items []*types.Item) (*Result, error) {
	start := time.Now()
	tracker, err := stats.NewTracker(p.cfg.UnitCostPerAnalysis)
	if err != nil {
		return nil, fmt.Errorf("failed to create stats tracker: %w", err)
	}
	rs := &runState{
		id:      uuid.New().String(),
		arena:   dedup.NewArena(),
		tracker: tracker,
	}

	// Admitted items must finish even when the run context is canceled, so
	// all processing and persistence runs on a detached context. The run
	// context governs admission only.
	workCtx := context.WithoutCancel(ctx)

	log.Printf("[PIPELINE] Run %s starting: %d items, width %d, batch size %d",
		rs.id, len(items), p.cfg.ConcurrencyWidth, p.cfg.BatchSize)

	if err := p.store.CreateRun(workCtx, &store.Run{
		ID:        rs.id,
		Model:     p.cfg.Model,
		StartedAt: start.UTC(),
	}); err != nil {
		log.Printf("[PIPELINE] Failed to record run %s: %v", rs.id, err)
	}
	p.emit(workCtx, events.NewRunStartedEvent(rs.id, len(items), p.cfg.String()))

	var (
		mu      sync.Mutex
		results []*types.EnrichedItem
		wg      sync.WaitGroup
	)
	sem := semaphore.NewWeighted(int64(p.cfg.ConcurrencyWidth))

admission:
	for batchStart := 0; batchStart < len(items); batchStart += p.cfg.BatchSize {
		if ctx.Err() != nil {
			log.Printf("[PIPELINE] Run %s canceled, stopping admission", rs.id)
			break
		}

		batchEnd := batchStart + p.cfg.BatchSize
		if batchEnd > len(items) {
			batchEnd = len(items)
		}
		batch := items[batchStart:batchEnd]

		resolution, resErr := p.resolver.ResolveBatch(workCtx, batch)
		if resErr != nil {
			// Fail-closed resolution is one recorded failure per batch.
			tracker.RecordError()
		}
		p.emit(workCtx, events.NewBatchResolvedEvent(rs.id, len(batch), len(resolution.Snapshots), resErr != nil))

		for _, item := range batch {
			if item == nil {
				continue
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				log.Printf("[PIPELINE] Run %s canceled while admitting items", rs.id)
				break admission
			}
			tracker.RecordFetched(1)
			wg.Add(1)
			go func(item *types.Item) {
				defer wg.Done()
				defer sem.Release(1)
				enriched := p.processItem(workCtx, rs, resolution, item)
				mu.Lock()
				results = append(results, enriched)
				mu.Unlock()
			}(item)
		}
	}

	wg.Wait()

	summary := tracker.Summary()
	duration := time.Since(start)

	if err := p.store.CompleteRun(workCtx, &store.Run{
		ID:        rs.id,
		Model:     p.cfg.Model,
		StartedAt: start.UTC(),
		Fetched:   summary.Counts.Fetched,
		Analyzed:  summary.Counts.Analyzed,
		Copied:    summary.Counts.Copied,
		Stored:    summary.Counts.Stored,
		Errors:    summary.Counts.Errors,
		DedupRate: summary.DedupRate,
		CostSaved: summary.CostSaved,
	}); err != nil {
		log.Printf("[PIPELINE] Failed to finalize run %s: %v", rs.id, err)
	}
	p.emit(workCtx, events.NewRunCompletedEvent(rs.id, summary, duration))

	log.Printf("[PIPELINE] Run %s finished in %s: %s",
		rs.id, duration.Round(time.Millisecond), tracker)

	return &Result{
		RunID:    rs.id,
		Summary:  summary,
		Items:    results,
		Duration: duration,
	}, nil
}

// emit persists a pipeline event. Event persistence is best-effort: a failure
// is logged and never fails the run.
func (p *Pipeline) emit(ctx context.Context, event *events.Event) {
	if err := p.store.AppendEvent(ctx, event); err != nil {
		log.Printf("[PIPELINE] Failed to persist %s event: %v", event.Type, err)
	}
}
