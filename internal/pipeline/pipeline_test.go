package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"prism/internal/analysis"
	"prism/internal/config"
	"prism/internal/events"
	"prism/internal/fingerprint"
	"prism/internal/store"
	"prism/internal/types"
)

// scriptedService is a fake analysis service with programmable failures and
// timing, counting every call it receives.
type scriptedService struct {
	typ  types.ServiceType
	deps []types.ServiceType

	failAll        bool
	failFirst      bool          // first call fails, later calls succeed
	firstCallDelay time.Duration // first call sleeps before returning
	started        chan struct{} // closed when the first call begins, if set
	release        chan struct{} // first call blocks on this, if set

	mu    sync.Mutex
	calls int
}

func (s *scriptedService) Type() types.ServiceType { return s.typ }

func (s *scriptedService) Dependencies() []types.ServiceType { return s.deps }

func (s *scriptedService) Analyze(ctx context.Context, item *types.Item, bag types.EvidenceBag) (*analysis.Result, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if call == 1 {
		if s.started != nil {
			close(s.started)
		}
		if s.release != nil {
			<-s.release
		}
		if s.firstCallDelay > 0 {
			time.Sleep(s.firstCallDelay)
		}
	}
	if s.failAll || (s.failFirst && call == 1) {
		return nil, fmt.Errorf("scripted %s failure", s.typ)
	}
	return &analysis.Result{
		Output:   json.RawMessage(fmt.Sprintf(`{"service":%q,"call":%d}`, s.typ, call)),
		Evidence: json.RawMessage(fmt.Sprintf(`{"from":%q}`, s.typ)),
		Cost:     0.01,
	}, nil
}

func (s *scriptedService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// memStore is an in-memory store.Store. StoreItem feeds stored records back
// into ResolveBatch the way the sqlite writer does, so re-runs see earlier
// results.
type memStore struct {
	mu           sync.Mutex
	snapshots    map[types.Fingerprint]*types.ConceptSnapshot
	resolveErr   error
	resolveCalls int
	stored       []*types.EnrichedItem
	runs         map[string]*store.Run
	events       []*events.Event
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		snapshots: make(map[types.Fingerprint]*types.ConceptSnapshot),
		runs:      make(map[string]*store.Run),
	}
}

func (m *memStore) seedConcept(conceptID string, fp types.Fingerprint, records map[types.ServiceType]*types.EnrichmentRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[fp] = &types.ConceptSnapshot{
		ConceptID:   conceptID,
		Fingerprint: fp,
		Records:     records,
	}
}

func (m *memStore) ResolveBatch(ctx context.Context, fingerprints []types.Fingerprint) (map[types.Fingerprint]*types.ConceptSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveCalls++
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	out := make(map[types.Fingerprint]*types.ConceptSnapshot, len(fingerprints))
	for _, fp := range fingerprints {
		if snap, ok := m.snapshots[fp]; ok {
			out[fp] = snap
		}
	}
	return out, nil
}

func (m *memStore) StoreItem(ctx context.Context, runID string, item *types.EnrichedItem) error {
	if err := item.Validate(); err != nil {
		return &store.WriteError{ItemID: item.Item.ID, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[item.Fingerprint]
	if !ok {
		snap = &types.ConceptSnapshot{
			ConceptID:   item.ConceptID,
			Fingerprint: item.Fingerprint,
			Records:     make(map[types.ServiceType]*types.EnrichmentRecord),
		}
		m.snapshots[item.Fingerprint] = snap
	}
	item.ConceptID = snap.ConceptID
	for _, rec := range item.Records {
		if _, exists := snap.Records[rec.Service]; !exists {
			snap.Records[rec.Service] = rec.Clone()
		}
	}
	m.stored = append(m.stored, item)
	return nil
}

func (m *memStore) CreateRun(ctx context.Context, run *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *memStore) CompleteRun(ctx context.Context, run *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return fmt.Errorf("run %s: %w", run.ID, store.ErrNotFound)
	}
	copied := *run
	now := time.Now().UTC()
	copied.CompletedAt = &now
	m.runs[run.ID] = &copied
	return nil
}

func (m *memStore) GetRun(ctx context.Context, id string) (*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	return run, nil
}

func (m *memStore) ListRuns(ctx context.Context, limit int) ([]*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Run, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run)
	}
	return out, nil
}

func (m *memStore) AppendEvent(ctx context.Context, event *events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memStore) ListEvents(ctx context.Context, runID string, limit int) ([]*events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*events.Event
	for _, e := range m.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ListConcepts(ctx context.Context, limit int) ([]*store.ConceptSummary, error) {
	return nil, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) countEvents(typ events.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (m *memStore) storedItems() []*types.EnrichedItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.EnrichedItem, len(m.stored))
	copy(out, m.stored)
	return out
}

// Test helpers.

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.ClaimTimeout = 30 * time.Second
	return cfg
}

func scriptedRegistry(t *testing.T, services ...*scriptedService) *analysis.Registry {
	t.Helper()
	registry := analysis.NewRegistry()
	for _, svc := range services {
		if err := registry.Register(svc); err != nil {
			t.Fatalf("Failed to register %s: %v", svc.typ, err)
		}
	}
	return registry
}

func fullServiceSet() []*scriptedService {
	return []*scriptedService{
		{typ: types.ServiceClassify},
		{typ: types.ServiceEntities},
		{typ: types.ServiceAssess, deps: []types.ServiceType{types.ServiceClassify, types.ServiceEntities}},
		{typ: types.ServiceSummarize, deps: []types.ServiceType{types.ServiceClassify, types.ServiceAssess}},
	}
}

func distinctItems(n int) []*types.Item {
	items := make([]*types.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, &types.Item{
			ID:    fmt.Sprintf("item-%d", i),
			Title: fmt.Sprintf("Distinct Title %d", i),
			Body:  fmt.Sprintf("Distinct body number %d.", i),
		})
	}
	return items
}

func sharedItem(id string) *types.Item {
	return &types.Item{
		ID:      id,
		Title:   "Shared Title",
		Summary: "Shared summary.",
		Body:    "Shared body used by every duplicate.",
	}
}

func seededRecord(service types.ServiceType, output string) *types.EnrichmentRecord {
	return &types.EnrichmentRecord{
		Service:   service,
		Output:    json.RawMessage(output),
		Evidence:  json.RawMessage(fmt.Sprintf(`{"seeded":%q}`, service)),
		Cost:      0.05,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
}

func fullSeedRecords() map[types.ServiceType]*types.EnrichmentRecord {
	return map[types.ServiceType]*types.EnrichmentRecord{
		types.ServiceClassify:  seededRecord(types.ServiceClassify, `{"category":"seeded"}`),
		types.ServiceEntities:  seededRecord(types.ServiceEntities, `{"people":["seeded"]}`),
		types.ServiceAssess:    seededRecord(types.ServiceAssess, `{"quality":"high"}`),
		types.ServiceSummarize: seededRecord(types.ServiceSummarize, `{"headline":"seeded"}`),
	}
}

// Scenario: distinct fresh items, empty store. Everything is analyzed, nothing
// copied, nothing saved.
func TestRunAllFreshItems(t *testing.T) {
	services := fullServiceSet()
	st := newMemStore()
	p, err := New(testConfig(), scriptedRegistry(t, services...), st)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := p.Run(context.Background(), distinctItems(5))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	counts := result.Summary.Counts
	if counts.Fetched != 5 || counts.Analyzed != 5 || counts.Copied != 0 || counts.Stored != 5 || counts.Errors != 0 {
		t.Errorf("Unexpected counts: %+v", counts)
	}
	if result.Summary.DedupRate != 0 {
		t.Errorf("Expected dedup rate 0, got %f", result.Summary.DedupRate)
	}
	if result.Summary.CostSaved != 0 {
		t.Errorf("Expected no savings, got %f", result.Summary.CostSaved)
	}
	for _, svc := range services {
		if got := svc.callCount(); got != 5 {
			t.Errorf("Service %s: expected 5 calls, got %d", svc.typ, got)
		}
	}
	if len(result.Items) != 5 {
		t.Errorf("Expected 5 result items, got %d", len(result.Items))
	}
	for _, item := range result.Items {
		if item.Copied {
			t.Errorf("Item %s should not be marked copied", item.Item.ID)
		}
		if len(item.Records) != 4 {
			t.Errorf("Item %s: expected 4 records, got %d", item.Item.ID, len(item.Records))
		}
	}
}

// Scenario: a known concept with a full snapshot. Duplicates copy, fresh
// items analyze, and the accounting identities hold exactly.
func TestRunCopiesKnownConcepts(t *testing.T) {
	services := fullServiceSet()
	st := newMemStore()
	seedOutputs := fullSeedRecords()
	st.seedConcept("concept-shared", fingerprint.Compute(sharedItem("probe")), seedOutputs)

	cfg := testConfig()
	cfg.ConcurrencyWidth = 4
	p, err := New(cfg, scriptedRegistry(t, services...), st)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	items := make([]*types.Item, 0, 10)
	for i := 0; i < 7; i++ {
		items = append(items, sharedItem(fmt.Sprintf("dup-%d", i)))
	}
	items = append(items, distinctItems(3)...)

	result, err := p.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	counts := result.Summary.Counts
	if counts.Analyzed != 3 || counts.Copied != 7 || counts.Stored != 10 || counts.Errors != 0 {
		t.Errorf("Unexpected counts: %+v", counts)
	}
	if want := float64(counts.Copied) / float64(counts.Analyzed+counts.Copied); result.Summary.DedupRate != want {
		t.Errorf("Dedup rate: expected %f, got %f", want, result.Summary.DedupRate)
	}
	if want := float64(counts.Copied) * cfg.UnitCostPerAnalysis; result.Summary.CostSaved != want {
		t.Errorf("Cost saved: expected %f, got %f", want, result.Summary.CostSaved)
	}
	// Copies never touch the services.
	for _, svc := range services {
		if got := svc.callCount(); got != 3 {
			t.Errorf("Service %s: expected 3 calls, got %d", svc.typ, got)
		}
	}

	// Copy fidelity: copied items carry byte-identical records at zero cost.
	copiedItems := 0
	for _, item := range st.storedItems() {
		if !item.Copied {
			continue
		}
		copiedItems++
		if item.Cost != 0 {
			t.Errorf("Copied item %s has nonzero cost %f", item.Item.ID, item.Cost)
		}
		if item.ConceptID != "concept-shared" {
			t.Errorf("Copied item %s references concept %s", item.Item.ID, item.ConceptID)
		}
		if len(item.Records) != 4 {
			t.Errorf("Copied item %s: expected 4 records, got %d", item.Item.ID, len(item.Records))
			continue
		}
		for _, rec := range item.Records {
			seeded := seedOutputs[rec.Service]
			if string(rec.Output) != string(seeded.Output) {
				t.Errorf("Copied record %s output diverged: %s", rec.Service, rec.Output)
			}
			if string(rec.Evidence) != string(seeded.Evidence) {
				t.Errorf("Copied record %s evidence diverged: %s", rec.Service, rec.Evidence)
			}
		}
	}
	if copiedItems != 7 {
		t.Errorf("Expected 7 copied items in storage, got %d", copiedItems)
	}
	if got := st.countEvents(events.EventItemCopied); got != 7 {
		t.Errorf("Expected 7 item_copied events, got %d", got)
	}
}

// Scenario: the metadata store is down for the batch. Resolution fails closed,
// everything analyzes fresh, and the failure is recorded once per batch.
func TestRunSurvivesResolutionFailure(t *testing.T) {
	services := fullServiceSet()
	st := newMemStore()
	st.resolveErr = errors.New("store down")

	p, err := New(testConfig(), scriptedRegistry(t, services...), st)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := p.Run(context.Background(), distinctItems(4))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	counts := result.Summary.Counts
	if counts.Analyzed != 4 || counts.Copied != 0 || counts.Stored != 4 {
		t.Errorf("Unexpected counts: %+v", counts)
	}
	if counts.Errors != 1 {
		t.Errorf("Resolution failure must be recorded exactly once per batch, got %d errors", counts.Errors)
	}
	if got := st.countEvents(events.EventBatchResolved); got != 1 {
		t.Errorf("Expected 1 batch_resolved event, got %d", got)
	}
}

// Scenario: a snapshot passes the gate but fails replay (a record filed under
// the wrong service). The copy aborts and the item analyzes everything fresh;
// no partial copy is persisted.
func TestRunFallsBackOnCopyIntegrityFailure(t *testing.T) {
	services := fullServiceSet()
	st := newMemStore()

	records := fullSeedRecords()
	// Miskey the classify slot with an entities record: structurally valid,
	// so the gate approves it, but replay refuses it.
	records[types.ServiceClassify] = seededRecord(types.ServiceEntities, `{"people":["misfiled"]}`)
	item := sharedItem("victim")
	st.seedConcept("concept-corrupt", fingerprint.Compute(item), records)

	p, err := New(testConfig(), scriptedRegistry(t, services...), st)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := p.Run(context.Background(), []*types.Item{item})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	counts := result.Summary.Counts
	if counts.Analyzed != 1 || counts.Copied != 0 {
		t.Errorf("Aborted copy must count as analyzed: %+v", counts)
	}
	if counts.Errors != 1 {
		t.Errorf("Expected exactly the integrity error, got %d errors", counts.Errors)
	}
	for _, svc := range services {
		if got := svc.callCount(); got != 1 {
			t.Errorf("Service %s: expected 1 fresh call after fallback, got %d", svc.typ, got)
		}
	}

	stored := st.storedItems()
	if len(stored) != 1 {
		t.Fatalf("Expected 1 stored item, got %d", len(stored))
	}
	if len(stored[0].Records) != 4 {
		t.Fatalf("Expected 4 fresh records, got %d", len(stored[0].Records))
	}
	for _, rec := range stored[0].Records {
		if string(rec.Output) == `{"people":["misfiled"]}` {
			t.Error("The corrupt seeded record must not survive into the stored item")
		}
	}
}

// A snapshot covering part of the enabled set replays what it can and
// analyzes the rest. The item incurred fresh work, so it counts as analyzed.
func TestRunMixedCopyAnalyzeCountsAnalyzed(t *testing.T) {
	classify := &scriptedService{typ: types.ServiceClassify}
	entities := &scriptedService{typ: types.ServiceEntities}
	st := newMemStore()

	item := sharedItem("mixed")
	st.seedConcept("concept-partial", fingerprint.Compute(item), map[types.ServiceType]*types.EnrichmentRecord{
		types.ServiceClassify: seededRecord(types.ServiceClassify, `{"category":"seeded"}`),
	})

	cfg := testConfig()
	cfg.EnabledServices = []types.ServiceType{types.ServiceClassify, types.ServiceEntities}
	p, err := New(cfg, scriptedRegistry(t, classify, entities), st)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := p.Run(context.Background(), []*types.Item{item})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	counts := result.Summary.Counts
	if counts.Analyzed != 1 || counts.Copied != 0 || counts.Errors != 0 {
		t.Errorf("Unexpected counts: %+v", counts)
	}
	if classify.callCount() != 0 {
		t.Errorf("Covered service should be replayed, not called (%d calls)", classify.callCount())
	}
	if entities.callCount() != 1 {
		t.Errorf("Uncovered service should be analyzed once, got %d calls", entities.callCount())
	}

	stored := st.storedItems()
	if len(stored) != 1 || len(stored[0].Records) != 2 {
		t.Fatalf("Expected 1 stored item with 2 records, got %+v", stored)
	}
	byService := make(map[types.ServiceType]*types.EnrichmentRecord)
	for _, rec := range stored[0].Records {
		byService[rec.Service] = rec
	}
	if rec := byService[types.ServiceClassify]; rec == nil || string(rec.Output) != `{"category":"seeded"}` {
		t.Errorf("Replayed classify record diverged: %+v", rec)
	}
	if rec := byService[types.ServiceEntities]; rec == nil || rec.Cost == 0 {
		t.Errorf("Fresh entities record missing or free: %+v", rec)
	}
	if stored[0].Copied {
		t.Error("A mixed item must not be marked copied")
	}
}

// A second run over the same items with a persistent store finds every
// concept already enriched.
func TestRunIdempotentRerun(t *testing.T) {
	services := fullServiceSet()
	st := newMemStore()
	p, err := New(testConfig(), scriptedRegistry(t, services...), st)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	items := distinctItems(4)
	first, err := p.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if first.Summary.Counts.Analyzed != 4 || first.Summary.Counts.Copied != 0 {
		t.Fatalf("First run counts off: %+v", first.Summary.Counts)
	}

	second, err := p.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	counts := second.Summary.Counts
	if counts.Analyzed != 0 || counts.Copied != 4 {
		t.Errorf("Re-run should copy everything: %+v", counts)
	}
	for _, svc := range services {
		if got := svc.callCount(); got != 4 {
			t.Errorf("Service %s: expected no calls on the re-run (total 4), got %d", svc.typ, got)
		}
	}
	if second.RunID == first.RunID {
		t.Error("Each run must get its own ID")
	}
}

// Run bookkeeping: the run row is created, completed with final counters, and
// the lifecycle events are persisted.
func TestRunPersistsRunAndEvents(t *testing.T) {
	services := fullServiceSet()
	st := newMemStore()
	p, err := New(testConfig(), scriptedRegistry(t, services...), st)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := p.Run(context.Background(), distinctItems(2))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	run, err := st.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.CompletedAt == nil {
		t.Error("Run should be marked completed")
	}
	if run.Analyzed != 2 || run.Stored != 2 {
		t.Errorf("Persisted run counters off: %+v", run)
	}
	if got := st.countEvents(events.EventRunStarted); got != 1 {
		t.Errorf("Expected 1 run_started event, got %d", got)
	}
	if got := st.countEvents(events.EventRunCompleted); got != 1 {
		t.Errorf("Expected 1 run_completed event, got %d", got)
	}
	if got := st.countEvents(events.EventItemAnalyzed); got != 2 {
		t.Errorf("Expected 2 item_analyzed events, got %d", got)
	}
}
