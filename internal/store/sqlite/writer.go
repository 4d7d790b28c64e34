package sqlite

import (
	"context"
	"fmt"
	"time"

	"prism/internal/store"
	"prism/internal/types"
)

// StoreItem persists one enriched item in a single transaction: the concept
// row, any records the concept does not already hold, and the item row.
//
// The write is idempotent. Concepts upsert on fingerprint with the stored ID
// staying authoritative, records never overwrite (they are immutable per
// concept and service), and re-running the same item replaces its item row.
func (s *Store) StoreItem(ctx context.Context, runID string, item *types.EnrichedItem) error {
	if item == nil {
		return &store.WriteError{ItemID: "", Err: fmt.Errorf("nil enriched item")}
	}
	if err := item.Validate(); err != nil {
		return &store.WriteError{ItemID: itemID(item), Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &store.WriteError{ItemID: item.Item.ID, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	// First writer wins the concept row; later items adopt the stored ID.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO concepts (id, fingerprint, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		item.ConceptID, string(item.Fingerprint), formatTime(time.Now())); err != nil {
		return &store.WriteError{ItemID: item.Item.ID, Err: fmt.Errorf("failed to upsert concept: %w", err)}
	}

	var conceptID string
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM concepts WHERE fingerprint = ?`,
		string(item.Fingerprint)).Scan(&conceptID); err != nil {
		return &store.WriteError{ItemID: item.Item.ID, Err: fmt.Errorf("failed to read concept ID: %w", err)}
	}

	for _, rec := range item.Records {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO enrichment_records (concept_id, service, output, evidence, cost, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(concept_id, service) DO NOTHING`,
			conceptID, string(rec.Service), string(rec.Output), string(rec.Evidence),
			rec.Cost, formatTime(createdAt)); err != nil {
			return &store.WriteError{ItemID: item.Item.ID, Err: fmt.Errorf("failed to insert %s record: %w", rec.Service, err)}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO items
		 (id, run_id, concept_id, title, summary, body, source, fingerprint, copied, cost, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Item.ID, runID, conceptID,
		item.Item.Title, item.Item.Summary, item.Item.Body, item.Item.Source,
		string(item.Fingerprint), boolToInt(item.Copied), item.Cost,
		formatTime(time.Now())); err != nil {
		return &store.WriteError{ItemID: item.Item.ID, Err: fmt.Errorf("failed to insert item: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return &store.WriteError{ItemID: item.Item.ID, Err: fmt.Errorf("failed to commit: %w", err)}
	}

	// Reflect the authoritative concept ID back to the caller.
	item.ConceptID = conceptID
	return nil
}

func itemID(item *types.EnrichedItem) string {
	if item.Item == nil {
		return ""
	}
	return item.Item.ID
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
