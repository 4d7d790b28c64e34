// Package enrich runs the enrichment chain for a single item: either
// replaying stored records for a known concept or executing analysis services
// in dependency order, sharing evidence fragments down the chain.
package enrich

import (
	"context"
	"fmt"
	"log"
	"time"

	"prism/internal/analysis"
	"prism/internal/types"
)

// Outcome is the result of running the analysis chain for one item.
type Outcome struct {
	// Records holds one enrichment record per service that succeeded.
	Records []*types.EnrichmentRecord

	// Bag carries the evidence fragments seeded into and produced during
	// the run, keyed by service.
	Bag types.EvidenceBag

	// Cost is the total AI spend for this run in USD.
	Cost float64

	// Errors records isolated service failures. The chain continues past
	// them with degraded evidence.
	Errors []types.ItemError
}

// Executor drives analysis services against items.
type Executor struct {
	registry *analysis.Registry
}

func NewExecutor(registry *analysis.Registry) (*Executor, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	return &Executor{registry: registry}, nil
}

// Run executes the given services in order against the item. The order must
// already respect dependencies (see Registry.OrderedSubset). The seed bag
// carries evidence fragments from replayed records so partially-reused items
// still get real upstream context.
//
// A failing service is recorded and skipped. Downstream services run anyway
// and their prompts note the missing fragment.
func (e *Executor) Run(ctx context.Context, item *types.Item, services []types.ServiceType, seed types.EvidenceBag) *Outcome {
	outcome := &Outcome{Bag: seed.Clone()}

	for _, svcType := range services {
		if err := ctx.Err(); err != nil {
			outcome.Errors = append(outcome.Errors, types.ItemError{
				Kind:    types.ErrorKindServiceFailure,
				Service: svcType,
				Message: fmt.Sprintf("canceled before start: %v", err),
			})
			continue
		}

		svc, ok := e.registry.Get(svcType)
		if !ok {
			outcome.Errors = append(outcome.Errors, types.ItemError{
				Kind:    types.ErrorKindServiceFailure,
				Service: svcType,
				Message: "service not registered",
			})
			continue
		}

		// Each service reads its own copy of the bag.
		result, err := svc.Analyze(ctx, item, outcome.Bag.Clone())
		if err != nil {
			svcErr := &ServiceError{Service: svcType, Err: err}
			log.Printf("[ENRICH] Item %s: %v (continuing with degraded evidence)", item.ID, svcErr)
			outcome.Errors = append(outcome.Errors, types.ItemError{
				Kind:    types.ErrorKindServiceFailure,
				Service: svcType,
				Message: err.Error(),
			})
			continue
		}

		record := &types.EnrichmentRecord{
			Service:   svcType,
			Output:    result.Output,
			Evidence:  result.Evidence,
			Cost:      result.Cost,
			CreatedAt: time.Now().UTC(),
		}
		outcome.Records = append(outcome.Records, record)
		outcome.Cost += result.Cost
		if len(result.Evidence) > 0 {
			outcome.Bag[svcType] = result.Evidence
		}
	}

	return outcome
}
