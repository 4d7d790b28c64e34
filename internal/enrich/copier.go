package enrich

import (
	"encoding/json"
	"fmt"
	"log"

	"prism/internal/dedup"
	"prism/internal/types"
)

// Replay reproduces stored enrichment records for a known concept without any
// AI calls. Returned records are deep copies, byte-identical to the stored
// originals, and cost nothing.
//
// The copy is atomic: every COPY decision must replay cleanly or the whole
// attempt fails with a CopyIntegrityError and no partial results.
func Replay(snapshot *types.ConceptSnapshot, decisions []dedup.Decision) ([]*types.EnrichmentRecord, error) {
	conceptID := ""
	if snapshot != nil {
		conceptID = snapshot.ConceptID
	}

	records := make([]*types.EnrichmentRecord, 0, len(decisions))
	for _, d := range decisions {
		if d.Kind != dedup.DecisionCopy {
			continue
		}
		if d.Record == nil {
			return nil, &CopyIntegrityError{
				ConceptID: conceptID,
				Service:   d.Service,
				Reason:    "no stored record attached",
			}
		}
		if d.Record.Service != d.Service {
			return nil, &CopyIntegrityError{
				ConceptID: conceptID,
				Service:   d.Service,
				Reason:    fmt.Sprintf("record belongs to service %s", d.Record.Service),
			}
		}
		if err := d.Record.Validate(); err != nil {
			return nil, &CopyIntegrityError{
				ConceptID: conceptID,
				Service:   d.Service,
				Reason:    err.Error(),
			}
		}
		records = append(records, d.Record.Clone())
	}

	if len(records) > 0 {
		log.Printf("[ENRICH] Replayed %d stored records from concept %s", len(records), conceptID)
	}
	return records, nil
}

// EvidenceFromRecords builds an evidence bag from the fragments carried by
// the given records. Records without evidence contribute nothing, which
// downstream prompts treat as a missing upstream fragment.
func EvidenceFromRecords(records []*types.EnrichmentRecord) types.EvidenceBag {
	bag := make(types.EvidenceBag)
	for _, rec := range records {
		if rec == nil || len(rec.Evidence) == 0 {
			continue
		}
		bag[rec.Service] = append(json.RawMessage(nil), rec.Evidence...)
	}
	return bag
}
