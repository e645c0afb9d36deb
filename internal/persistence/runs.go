package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/storyloop/internal/scheduler"
)

// BeginRun records the start of a run.
func (s *SQLiteStore) BeginRun(ctx context.Context, run scheduler.RunInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, doc_path, description, branch, capacity, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.DocPath, run.Description, run.Branch, run.Capacity, run.StartedAt)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// RecordAttempt records one classified worker dispatch.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, att scheduler.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO story_attempts (run_id, story_id, slot, status, reason, log_path, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		att.RunID, att.StoryID, att.Slot, string(att.Status), att.Reason, att.LogPath,
		att.StartedAt, att.FinishedAt)
	if err != nil {
		return fmt.Errorf("inserting attempt for story %s: %w", att.StoryID, err)
	}
	return nil
}

// FinishRun records a run's terminal outcome and counts.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, outcome scheduler.Outcome, completed, total int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET outcome = ?, completed = ?, total = ?, finished_at = ? WHERE id = ?`,
		outcome.String(), completed, total, time.Now(), runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing run %s: no such run", runID)
	}
	return nil
}

// RunSummary is one row of run history.
type RunSummary struct {
	ID         string
	DocPath    string
	Outcome    string
	Completed  int
	Total      int
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// ListRuns returns run history, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.doc_path, COALESCE(r.outcome, ''), COALESCE(r.completed, 0), COALESCE(r.total, 0),
		        (SELECT COUNT(*) FROM story_attempts a WHERE a.run_id = r.id),
		        r.started_at, COALESCE(r.finished_at, r.started_at)
		 FROM runs r ORDER BY r.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.DocPath, &r.Outcome, &r.Completed, &r.Total,
			&r.Attempts, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AttemptSummary is one recorded dispatch of a story.
type AttemptSummary struct {
	StoryID    string
	Slot       int
	Status     string
	Reason     string
	LogPath    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// ListAttempts returns a run's attempts in dispatch order.
func (s *SQLiteStore) ListAttempts(ctx context.Context, runID string) ([]AttemptSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT story_id, slot, status, COALESCE(reason, ''), COALESCE(log_path, ''), started_at, finished_at
		 FROM story_attempts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying attempts for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []AttemptSummary
	for rows.Next() {
		var a AttemptSummary
		if err := rows.Scan(&a.StoryID, &a.Slot, &a.Status, &a.Reason, &a.LogPath,
			&a.StartedAt, &a.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning attempt row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ scheduler.Recorder = (*SQLiteStore)(nil)
