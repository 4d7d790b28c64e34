package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"prism/internal/store"
)

const runColumns = `id, model, started_at, completed_at, fetched, analyzed, copied, stored, errors, dedup_rate, cost_saved`

// CreateRun records the start of a pipeline run
func (s *Store) CreateRun(ctx context.Context, run *store.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, model, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Model, formatTime(startedAt)); err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

// CompleteRun writes the run's final counters and completion time
func (s *Store) CompleteRun(ctx context.Context, run *store.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	completedAt := time.Now()
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET completed_at = ?, fetched = ?, analyzed = ?, copied = ?,
		 stored = ?, errors = ?, dedup_rate = ?, cost_saved = ?
		 WHERE id = ?`,
		formatTime(completedAt), run.Fetched, run.Analyzed, run.Copied,
		run.Stored, run.Errors, run.DedupRate, run.CostSaved, run.ID)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", run.ID, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("run %s: %w", run.ID, store.ErrNotFound)
	}
	run.CompletedAt = &completedAt
	return nil
}

// GetRun returns one run, or store.ErrNotFound
func (s *Store) GetRun(ctx context.Context, id string) (*store.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*store.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*store.Run, error) {
	var (
		run          store.Run
		startedRaw   string
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&run.ID, &run.Model, &startedRaw, &completedRaw,
		&run.Fetched, &run.Analyzed, &run.Copied, &run.Stored,
		&run.Errors, &run.DedupRate, &run.CostSaved,
	); err != nil {
		return nil, err
	}

	if started, err := parseTime(startedRaw); err == nil {
		run.StartedAt = started
	}
	if completedRaw.Valid {
		if completed, err := parseTime(completedRaw.String); err == nil {
			run.CompletedAt = &completed
		}
	}
	return &run, nil
}
