package dedup

import (
	"context"
	"log"
	"sync"
	"time"

	"prism/internal/types"
)

// WaitOutcome is what a waiter observed when its claim settled
type WaitOutcome int

const (
	// WaitResolved means the holder finished and published a snapshot.
	// The waiter re-gates against it.
	WaitResolved WaitOutcome = iota

	// WaitReleased means the holder failed with nothing to publish. The
	// waiter should claim again; whoever claims first leads the retry.
	WaitReleased

	// WaitTimeout means the claim did not settle in time (or the context
	// ended). The waiter proceeds with independent analysis: possibly
	// duplicated cost, never a wrong result.
	WaitTimeout
)

func (o WaitOutcome) String() string {
	switch o {
	case WaitResolved:
		return "RESOLVED"
	case WaitReleased:
		return "RELEASED"
	case WaitTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

type claimState int

const (
	claimActive claimState = iota
	claimResolved
)

// claim is one fingerprint's entry in the arena. While active it has exactly
// one holder; once settled it either caches the resolved snapshot or, when
// released empty-handed, leaves the table entirely.
type claim struct {
	state claimState

	// base is the resolved snapshot this claim started from; nil for a
	// first claim. A release restores it.
	base *types.ConceptSnapshot

	// snapshot is the published result once resolved.
	snapshot *types.ConceptSnapshot

	// done closes when the claim settles.
	done chan struct{}

	// released is true when the holder gave up without publishing.
	released bool

	waiters int
}

// Ticket is one participant's handle on a fingerprint claim. Holders must
// settle the claim with exactly one Resolve or Release call; waiters call
// Wait.
type Ticket struct {
	arena *Arena
	fp    types.Fingerprint
	claim *claim

	// Holder marks the caller as the claim's owner.
	Holder bool

	// Snapshot is the resolved state the claim started from. Non-nil only
	// for a holder whose claim superseded a resolved entry; the holder
	// re-gates against it before running anything fresh.
	Snapshot *types.ConceptSnapshot
}

// Arena serializes fresh analysis per fingerprint within a run. At any
// moment at most one participant holds a fingerprint's claim; everyone else
// blocks until the holder publishes, fails, or the wait times out.
type Arena struct {
	mu     sync.Mutex
	claims map[types.Fingerprint]*claim
}

// NewArena creates an empty claim arena
func NewArena() *Arena {
	return &Arena{claims: make(map[types.Fingerprint]*claim)}
}

// Claim enters the arena for a fingerprint. The first caller (or the first
// after a release) becomes the holder. A claim over a resolved entry also
// makes the caller a holder, seeded with the resolved snapshot, so follow-up
// analysis stays serialized per fingerprint.
func (a *Arena) Claim(fp types.Fingerprint) *Ticket {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.claims[fp]
	if ok && entry.state == claimActive {
		entry.waiters++
		log.Printf("[CLAIM] %s: joined as waiter (%d waiting)", fp.Short(), entry.waiters)
		return &Ticket{arena: a, fp: fp, claim: entry, Holder: false}
	}

	var base *types.ConceptSnapshot
	if ok && entry.state == claimResolved {
		base = entry.snapshot
		log.Printf("[CLAIM] %s: re-claimed over resolved state", fp.Short())
	} else {
		log.Printf("[CLAIM] %s: claimed", fp.Short())
	}

	next := &claim{state: claimActive, base: base, done: make(chan struct{})}
	a.claims[fp] = next
	return &Ticket{arena: a, fp: fp, claim: next, Holder: true, Snapshot: base}
}

// Resolved returns the cached snapshot for a fingerprint whose claim has
// settled successfully. Returns false while a claim is active or when the
// fingerprint was never claimed.
func (a *Arena) Resolved(fp types.Fingerprint) (*types.ConceptSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.claims[fp]
	if !ok || entry.state != claimResolved {
		return nil, false
	}
	return entry.snapshot, true
}

// Resolve publishes the holder's snapshot and wakes every waiter. The
// snapshot must not be mutated afterwards; it becomes the shared resolved
// state for later claims. A nil snapshot restores the claim's base.
func (t *Ticket) Resolve(snapshot *types.ConceptSnapshot) {
	if !t.Holder {
		return
	}
	t.arena.mu.Lock()
	defer t.arena.mu.Unlock()

	c := t.claim
	if c.state != claimActive {
		return
	}
	c.state = claimResolved
	c.snapshot = snapshot
	if c.snapshot == nil {
		c.snapshot = c.base
	}
	records := 0
	if c.snapshot != nil {
		records = len(c.snapshot.Records)
	}
	log.Printf("[CLAIM] %s: resolved with %d records (%d waiting)", t.fp.Short(), records, c.waiters)
	close(c.done)
}

// Release settles the claim empty-handed and reports how many waiters were
// blocked on it. With a base snapshot the prior resolved state is restored
// and waiters observe it as a resolution; with no base the entry leaves the
// table and waiters race to claim again, so the first of them leads the
// retry.
func (t *Ticket) Release() int {
	if !t.Holder {
		return 0
	}
	t.arena.mu.Lock()
	defer t.arena.mu.Unlock()

	c := t.claim
	if c.state != claimActive {
		return 0
	}

	c.state = claimResolved
	if c.base != nil {
		c.snapshot = c.base
	} else {
		c.released = true
		delete(t.arena.claims, t.fp)
	}
	log.Printf("[CLAIM] %s: released (%d waiting)", t.fp.Short(), c.waiters)
	close(c.done)
	return c.waiters
}

// Wait blocks until the claim settles, the timeout passes, or the context
// ends. Only meaningful for waiters; a holder calling Wait gets its own
// starting snapshot back.
func (t *Ticket) Wait(ctx context.Context, timeout time.Duration) (WaitOutcome, *types.ConceptSnapshot) {
	if t.Holder {
		return WaitResolved, t.Snapshot
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-t.claim.done:
	case <-expired:
		log.Printf("[CLAIM] %s: wait timed out, proceeding independently", t.fp.Short())
		return WaitTimeout, nil
	case <-ctx.Done():
		return WaitTimeout, nil
	}

	t.arena.mu.Lock()
	defer t.arena.mu.Unlock()
	if t.claim.released {
		return WaitReleased, nil
	}
	return WaitResolved, t.claim.snapshot
}

// MergeSnapshot overlays fresh records onto a base snapshot without mutating
// the base. Existing records win conflicts: enrichment records are immutable
// once created.
func MergeSnapshot(base *types.ConceptSnapshot, fp types.Fingerprint, conceptID string, fresh []*types.EnrichmentRecord) *types.ConceptSnapshot {
	merged := &types.ConceptSnapshot{
		ConceptID:   conceptID,
		Fingerprint: fp,
		Records:     make(map[types.ServiceType]*types.EnrichmentRecord),
	}
	if base != nil {
		if base.ConceptID != "" {
			merged.ConceptID = base.ConceptID
		}
		for svc, rec := range base.Records {
			merged.Records[svc] = rec
		}
	}
	for _, rec := range fresh {
		if rec == nil {
			continue
		}
		if _, exists := merged.Records[rec.Service]; exists {
			continue
		}
		merged.Records[rec.Service] = rec
	}
	return merged
}
