package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"prism/internal/events"
)

// AppendEvent persists one pipeline event
func (s *Store) AppendEvent(ctx context.Context, event *events.Event) error {
	if event == nil {
		return fmt.Errorf("nil event")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	var data any
	if len(event.Data) > 0 {
		encoded, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		data = string(encoded)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (id, run_id, item_id, event_type, severity, message, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.RunID, nullableString(event.ItemID),
		string(event.Type), string(event.Severity), event.Message,
		data, formatTime(event.Timestamp)); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns a run's events in append order
func (s *Store) ListEvents(ctx context.Context, runID string, limit int) ([]*events.Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, item_id, event_type, severity, message, data, created_at
		 FROM run_events WHERE run_id = ? ORDER BY rowid LIMIT ?`,
		runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []*events.Event
	for rows.Next() {
		var (
			event      events.Event
			itemID     sql.NullString
			eventType  string
			severity   string
			dataRaw    sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&event.ID, &event.RunID, &itemID, &eventType,
			&severity, &event.Message, &dataRaw, &createdRaw); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.ItemID = itemID.String
		event.Type = events.EventType(eventType)
		event.Severity = events.Severity(severity)
		if dataRaw.Valid && dataRaw.String != "" {
			if err := json.Unmarshal([]byte(dataRaw.String), &event.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		if created, err := parseTime(createdRaw); err == nil {
			event.Timestamp = created
		}
		out = append(out, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return out, nil
}
