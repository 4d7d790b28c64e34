package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"prism/internal/types"
)

// ResolveBatch looks up concepts and their records for a batch of
// fingerprints. It issues at most two queries regardless of batch size: one
// for the concepts, one for every matched concept's records.
func (s *Store) ResolveBatch(ctx context.Context, fingerprints []types.Fingerprint) (map[types.Fingerprint]*types.ConceptSnapshot, error) {
	out := make(map[types.Fingerprint]*types.ConceptSnapshot)

	// A batch may carry the same fingerprint many times; query each once.
	unique := make([]types.Fingerprint, 0, len(fingerprints))
	seen := make(map[types.Fingerprint]bool, len(fingerprints))
	for _, fp := range fingerprints {
		if fp.IsZero() || seen[fp] {
			continue
		}
		seen[fp] = true
		unique = append(unique, fp)
	}
	if len(unique) == 0 {
		return out, nil
	}

	byConcept, err := s.conceptsByFingerprint(ctx, unique, out)
	if err != nil {
		return nil, err
	}
	if len(byConcept) == 0 {
		return out, nil
	}

	if err := s.loadRecords(ctx, byConcept); err != nil {
		return nil, err
	}
	return out, nil
}

// conceptsByFingerprint fills out with empty snapshots for every matched
// fingerprint and returns the snapshots keyed by concept ID.
func (s *Store) conceptsByFingerprint(ctx context.Context, fingerprints []types.Fingerprint, out map[types.Fingerprint]*types.ConceptSnapshot) (map[string]*types.ConceptSnapshot, error) {
	args := make([]any, len(fingerprints))
	for i, fp := range fingerprints {
		args[i] = string(fp)
	}

	query := `SELECT id, fingerprint FROM concepts WHERE fingerprint IN (` + makePlaceholders(len(fingerprints)) + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query concepts: %w", err)
	}
	defer rows.Close()

	byConcept := make(map[string]*types.ConceptSnapshot)
	for rows.Next() {
		var id, fp string
		if err := rows.Scan(&id, &fp); err != nil {
			return nil, fmt.Errorf("failed to scan concept: %w", err)
		}
		snap := &types.ConceptSnapshot{
			ConceptID:   id,
			Fingerprint: types.Fingerprint(fp),
			Records:     make(map[types.ServiceType]*types.EnrichmentRecord),
		}
		out[snap.Fingerprint] = snap
		byConcept[id] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read concepts: %w", err)
	}
	return byConcept, nil
}

// loadRecords attaches every record of the given concepts to their snapshots
func (s *Store) loadRecords(ctx context.Context, byConcept map[string]*types.ConceptSnapshot) error {
	args := make([]any, 0, len(byConcept))
	for id := range byConcept {
		args = append(args, id)
	}

	query := `SELECT concept_id, service, output, evidence, cost, created_at
		FROM enrichment_records WHERE concept_id IN (` + makePlaceholders(len(args)) + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query enrichment records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var conceptID, service, output, evidence, createdRaw string
		var cost float64
		if err := rows.Scan(&conceptID, &service, &output, &evidence, &cost, &createdRaw); err != nil {
			return fmt.Errorf("failed to scan enrichment record: %w", err)
		}

		rec := &types.EnrichmentRecord{
			Service: types.ServiceType(service),
			Output:  json.RawMessage(output),
			Cost:    cost,
		}
		if evidence != "" {
			rec.Evidence = json.RawMessage(evidence)
		}
		if created, err := parseTime(createdRaw); err == nil {
			rec.CreatedAt = created
		}

		snap, ok := byConcept[conceptID]
		if !ok {
			continue
		}
		snap.Records[rec.Service] = rec
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read enrichment records: %w", err)
	}
	return nil
}
