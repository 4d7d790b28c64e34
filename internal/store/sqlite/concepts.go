package sqlite

import (
	"context"
	"fmt"
	"sort"

	"prism/internal/store"
	"prism/internal/types"
)

// ListConcepts returns the most recently created concepts, newest first,
// with the set of services each concept holds records for.
func (s *Store) ListConcepts(ctx context.Context, limit int) ([]*store.ConceptSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fingerprint, created_at FROM concepts
		 ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}
	defer rows.Close()

	var out []*store.ConceptSummary
	byID := make(map[string]*store.ConceptSummary)
	for rows.Next() {
		var id, fp, createdRaw string
		if err := rows.Scan(&id, &fp, &createdRaw); err != nil {
			return nil, fmt.Errorf("failed to scan concept: %w", err)
		}
		summary := &store.ConceptSummary{
			ID:          id,
			Fingerprint: types.Fingerprint(fp),
		}
		if created, err := parseTime(createdRaw); err == nil {
			summary.CreatedAt = created
		}
		out = append(out, summary)
		byID[id] = summary
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read concepts: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(byID))
	for id := range byID {
		args = append(args, id)
	}
	svcRows, err := s.db.QueryContext(ctx,
		`SELECT concept_id, service FROM enrichment_records
		 WHERE concept_id IN (`+makePlaceholders(len(args))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query concept services: %w", err)
	}
	defer svcRows.Close()

	for svcRows.Next() {
		var conceptID, service string
		if err := svcRows.Scan(&conceptID, &service); err != nil {
			return nil, fmt.Errorf("failed to scan concept service: %w", err)
		}
		if summary, ok := byID[conceptID]; ok {
			summary.Services = append(summary.Services, types.ServiceType(service))
		}
	}
	if err := svcRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read concept services: %w", err)
	}

	for _, summary := range out {
		sort.Slice(summary.Services, func(i, j int) bool {
			return summary.Services[i] < summary.Services[j]
		})
	}
	return out, nil
}
