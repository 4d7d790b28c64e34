// Package analysis defines the pluggable analysis-service contract, the
// dependency-ordered service registry, and the Claude-backed built-in
// services that enrich items.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"prism/internal/types"
)

// Result is the successful outcome of one analysis-service invocation: the
// structured output payload, the evidence fragment downstream services may
// consume, and the cost incurred in USD.
type Result struct {
	Output   json.RawMessage
	Evidence json.RawMessage
	Cost     float64
}

// Service is one analysis stage in the enrichment chain.
//
// A service declares, once and statically, which other service types'
// evidence it may consume; the registry topologically sorts services by these
// declarations so execution order is a data property rather than a
// code-layout accident. Analyze receives a clone of the evidence bag and must
// tolerate absent fragments: a missing dependency fragment means the upstream
// service failed and the call proceeds in degraded-evidence mode.
type Service interface {
	// Type identifies the service.
	Type() types.ServiceType

	// Dependencies lists the service types whose evidence this service may
	// consume. Never changes between calls.
	Dependencies() []types.ServiceType

	// Analyze enriches one item. The returned Result is complete: output,
	// evidence fragment, and incurred cost.
	Analyze(ctx context.Context, item *types.Item, evidence types.EvidenceBag) (*Result, error)
}

// buildResult marshals a service's typed output and evidence into a Result
func buildResult(output, evidence interface{}, cost float64) (*Result, error) {
	out, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	ev, err := json.Marshal(evidence)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence: %w", err)
	}
	return &Result{Output: out, Evidence: ev, Cost: cost}, nil
}

// decodeFragment reads one dependency's evidence fragment out of the bag.
// Returns ok=false when the fragment is absent or undecodable; callers treat
// both as a degraded dependency and say so in the prompt.
func decodeFragment[T any](bag types.EvidenceBag, service types.ServiceType) (T, bool) {
	var frag T
	raw := bag.Fragment(service)
	if raw == nil {
		return frag, false
	}
	if err := json.Unmarshal(raw, &frag); err != nil {
		return frag, false
	}
	return frag, true
}
