package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"prism/internal/events"
	"prism/internal/stats"
	"prism/internal/store"
	"prism/internal/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "prism.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEnrichedItem(id string, fp types.Fingerprint) *types.EnrichedItem {
	return &types.EnrichedItem{
		Item: &types.Item{
			ID:      id,
			Title:   "Chipmaker announces new accelerator",
			Summary: "A short summary.",
			Source:  "feed-a",
		},
		Fingerprint: fp,
		ConceptID:   "concept-" + id,
		Records: []*types.EnrichmentRecord{
			{
				Service:   types.ServiceClassify,
				Output:    json.RawMessage(`{"category":"technology","topics":["chips"]}`),
				Evidence:  json.RawMessage(`{"category":"technology"}`),
				Cost:      0.12,
				CreatedAt: time.Now(),
			},
			{
				Service:   types.ServiceEntities,
				Output:    json.RawMessage(`{"people":[],"organizations":["Acme Corp"]}`),
				Evidence:  json.RawMessage(`{"organizations":["Acme Corp"]}`),
				Cost:      0.12,
				CreatedAt: time.Now(),
			},
		},
		Cost: 0.24,
	}
}

func TestResolveBatchEmptyAndMissing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	snapshots, err := s.ResolveBatch(ctx, nil)
	if err != nil {
		t.Fatalf("ResolveBatch(nil) failed: %v", err)
	}
	if len(snapshots) != 0 {
		t.Errorf("Expected empty result for empty batch, got %d", len(snapshots))
	}

	snapshots, err = s.ResolveBatch(ctx, []types.Fingerprint{"aaaa", "bbbb"})
	if err != nil {
		t.Fatalf("ResolveBatch failed: %v", err)
	}
	if len(snapshots) != 0 {
		t.Errorf("Expected no snapshots for unknown fingerprints, got %d", len(snapshots))
	}
}

func TestStoreItemAndResolveBatch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	fp := types.Fingerprint("fp-1")
	item := testEnrichedItem("item-1", fp)
	if err := s.StoreItem(ctx, "run-1", item); err != nil {
		t.Fatalf("StoreItem failed: %v", err)
	}

	// Duplicate fingerprints in the batch resolve once
	snapshots, err := s.ResolveBatch(ctx, []types.Fingerprint{fp, fp, "unknown"})
	if err != nil {
		t.Fatalf("ResolveBatch failed: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", len(snapshots))
	}

	snap := snapshots[fp]
	if snap == nil {
		t.Fatal("Expected snapshot for stored fingerprint")
	}
	if snap.ConceptID != item.ConceptID {
		t.Errorf("Concept ID mismatch: got %s, want %s", snap.ConceptID, item.ConceptID)
	}
	if len(snap.Records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(snap.Records))
	}

	rec, ok := snap.Record(types.ServiceClassify)
	if !ok {
		t.Fatal("Expected classify record")
	}
	if string(rec.Output) != `{"category":"technology","topics":["chips"]}` {
		t.Errorf("Output not preserved byte for byte: %s", rec.Output)
	}
	if string(rec.Evidence) != `{"category":"technology"}` {
		t.Errorf("Evidence not preserved byte for byte: %s", rec.Evidence)
	}
	if rec.Cost != 0.12 {
		t.Errorf("Cost mismatch: got %v, want 0.12", rec.Cost)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("Expected record CreatedAt to round-trip")
	}
}

func TestStoreItemDoesNotOverwriteRecords(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	fp := types.Fingerprint("fp-1")
	first := testEnrichedItem("item-1", fp)
	if err := s.StoreItem(ctx, "run-1", first); err != nil {
		t.Fatalf("StoreItem failed: %v", err)
	}

	// A re-run of the same content must not mutate existing records.
	second := testEnrichedItem("item-1", fp)
	second.Records[0].Output = json.RawMessage(`{"category":"different"}`)
	if err := s.StoreItem(ctx, "run-2", second); err != nil {
		t.Fatalf("StoreItem re-run failed: %v", err)
	}

	snapshots, err := s.ResolveBatch(ctx, []types.Fingerprint{fp})
	if err != nil {
		t.Fatalf("ResolveBatch failed: %v", err)
	}
	rec, ok := snapshots[fp].Record(types.ServiceClassify)
	if !ok {
		t.Fatal("Expected classify record")
	}
	if string(rec.Output) != `{"category":"technology","topics":["chips"]}` {
		t.Errorf("Record was overwritten on re-run: %s", rec.Output)
	}
}

func TestStoreItemConceptIDAuthoritative(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	fp := types.Fingerprint("fp-shared")
	first := testEnrichedItem("item-1", fp)
	if err := s.StoreItem(ctx, "run-1", first); err != nil {
		t.Fatalf("StoreItem failed: %v", err)
	}

	second := testEnrichedItem("item-2", fp)
	second.ConceptID = "concept-item-2-proposed"
	if err := s.StoreItem(ctx, "run-1", second); err != nil {
		t.Fatalf("StoreItem failed: %v", err)
	}

	if second.ConceptID != first.ConceptID {
		t.Errorf("Expected stored concept ID %s to win, got %s", first.ConceptID, second.ConceptID)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM concepts`).Scan(&count); err != nil {
		t.Fatalf("Count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 concept row, got %d", count)
	}
}

func TestStoreItemRejectsInvalid(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	item := testEnrichedItem("item-1", types.Fingerprint("fp-1"))
	item.Copied = true // copied with nonzero cost is contradictory

	err := s.StoreItem(ctx, "run-1", item)
	if err == nil {
		t.Fatal("Expected invalid item to be rejected")
	}
	var writeErr *store.WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("Expected WriteError, got %T", err)
	}
	if writeErr.ItemID != "item-1" {
		t.Errorf("WriteError item ID mismatch: got %s", writeErr.ItemID)
	}
}

func TestRunLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := &store.Run{ID: "run-1", Model: "claude-sonnet-4-5-20250929", StartedAt: time.Now()}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.CompletedAt != nil {
		t.Error("Expected in-progress run to have no completion time")
	}
	if got.Model != run.Model {
		t.Errorf("Model mismatch: got %s", got.Model)
	}

	run.Fetched = 10
	run.Analyzed = 6
	run.Copied = 4
	run.Stored = 10
	run.DedupRate = 0.4
	run.CostSaved = 0.48
	if err := s.CompleteRun(ctx, run); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	got, err = s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.CompletedAt == nil {
		t.Fatal("Expected completed run to have a completion time")
	}
	if got.Copied != 4 || got.DedupRate != 0.4 || got.CostSaved != 0.48 {
		t.Errorf("Counters did not round-trip: %+v", got)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}

	err = s.CompleteRun(context.Background(), &store.Run{ID: "missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound completing unknown run, got: %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := &store.Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun(%s) failed: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("Expected newest first, got %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestEventAppendAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := events.NewRunStartedEvent("run-1", 10, "services=classify")
	second := events.NewItemCopiedEvent("run-1", "item-1", "concept-1", 2)
	third := events.NewRunCompletedEvent("run-1", stats.Summary{}, time.Second)

	for _, event := range []*events.Event{first, second, third} {
		if err := s.AppendEvent(ctx, event); err != nil {
			t.Fatalf("AppendEvent(%s) failed: %v", event.Type, err)
		}
	}
	// An event for another run must not show up.
	if err := s.AppendEvent(ctx, events.NewRunStartedEvent("run-2", 1, "")); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	got, err := s.ListEvents(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(got))
	}
	if got[0].Type != events.EventRunStarted || got[2].Type != events.EventRunCompleted {
		t.Errorf("Events out of append order: %s ... %s", got[0].Type, got[2].Type)
	}
	if got[1].ItemID != "item-1" {
		t.Errorf("ItemID mismatch: got %s", got[1].ItemID)
	}
	if got[1].Data["concept_id"] != "concept-1" {
		t.Errorf("Event data did not round-trip: %+v", got[1].Data)
	}
}

func TestListConcepts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	older := testEnrichedItem("item-1", types.Fingerprint("fp-old"))
	older.Records[0].CreatedAt = time.Now().Add(-time.Hour)
	if err := s.StoreItem(ctx, "run-1", older); err != nil {
		t.Fatalf("StoreItem failed: %v", err)
	}
	newer := testEnrichedItem("item-2", types.Fingerprint("fp-new"))
	if err := s.StoreItem(ctx, "run-1", newer); err != nil {
		t.Fatalf("StoreItem failed: %v", err)
	}

	concepts, err := s.ListConcepts(ctx, 10)
	if err != nil {
		t.Fatalf("ListConcepts failed: %v", err)
	}
	if len(concepts) != 2 {
		t.Fatalf("Expected 2 concepts, got %d", len(concepts))
	}
	for _, c := range concepts {
		if len(c.Services) != 2 {
			t.Errorf("Concept %s: expected 2 services, got %v", c.ID, c.Services)
		}
		if c.Fingerprint.IsZero() {
			t.Errorf("Concept %s: missing fingerprint", c.ID)
		}
	}
}
