package dedup

import (
	"time"

	"prism/internal/types"
)

// DecisionKind says whether a service's result is copied or computed fresh
type DecisionKind int

const (
	// DecisionAnalyze means the service must run fresh analysis.
	DecisionAnalyze DecisionKind = iota

	// DecisionCopy means a stored record satisfies the service.
	DecisionCopy
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionAnalyze:
		return "ANALYZE"
	case DecisionCopy:
		return "COPY"
	default:
		return "UNKNOWN"
	}
}

// Decision is the gate's verdict for one enabled service
type Decision struct {
	Service types.ServiceType
	Kind    DecisionKind

	// Record backs a COPY decision; nil for ANALYZE. The record is the
	// store's copy and must be cloned before it is attached to an item.
	Record *types.EnrichmentRecord
}

// Gate decides COPY versus ANALYZE per enabled service. A service copies
// only when the snapshot holds a structurally valid record that is within
// the staleness TTL; every other case analyzes fresh. The gate is pure: it
// never touches the store and never mutates the snapshot.
type Gate struct {
	enabled []types.ServiceType
	ttl     time.Duration
}

// NewGate creates a gate for the given services, in the order decisions are
// returned. A ttl of zero means stored records never go stale.
func NewGate(enabled []types.ServiceType, ttl time.Duration) *Gate {
	services := make([]types.ServiceType, len(enabled))
	copy(services, enabled)
	return &Gate{enabled: services, ttl: ttl}
}

// Services returns the gate's service order
func (g *Gate) Services() []types.ServiceType {
	out := make([]types.ServiceType, len(g.enabled))
	copy(out, g.enabled)
	return out
}

// Decide returns one decision per enabled service. A nil snapshot yields
// ANALYZE for every service.
func (g *Gate) Decide(snapshot *types.ConceptSnapshot, now time.Time) []Decision {
	decisions := make([]Decision, 0, len(g.enabled))
	for _, svc := range g.enabled {
		rec, ok := snapshot.Record(svc)
		if ok && g.reusable(rec, now) {
			decisions = append(decisions, Decision{Service: svc, Kind: DecisionCopy, Record: rec})
			continue
		}
		decisions = append(decisions, Decision{Service: svc, Kind: DecisionAnalyze})
	}
	return decisions
}

// reusable reports whether a stored record can back a COPY decision
func (g *Gate) reusable(rec *types.EnrichmentRecord, now time.Time) bool {
	if rec == nil || rec.Validate() != nil {
		return false
	}
	if g.ttl <= 0 {
		return true
	}
	// A record of unknown age cannot satisfy a freshness requirement.
	if rec.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(rec.CreatedAt) <= g.ttl
}

// AllCopy reports whether every decision is a COPY. An empty decision list
// is never all-copy.
func AllCopy(decisions []Decision) bool {
	for _, d := range decisions {
		if d.Kind != DecisionCopy {
			return false
		}
	}
	return len(decisions) > 0
}

// Split partitions decisions into the copyable set and the service types
// needing fresh analysis, preserving order.
func Split(decisions []Decision) (copies []Decision, analyze []types.ServiceType) {
	for _, d := range decisions {
		if d.Kind == DecisionCopy {
			copies = append(copies, d)
			continue
		}
		analyze = append(analyze, d.Service)
	}
	return copies, analyze
}
