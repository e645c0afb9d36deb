package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		doc_path TEXT NOT NULL,
		description TEXT,
		branch TEXT,
		capacity INTEGER NOT NULL,
		outcome TEXT,
		completed INTEGER,
		total INTEGER,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS story_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		story_id TEXT NOT NULL,
		slot INTEGER NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		log_path TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_story_attempts_run_story
		ON story_attempts(run_id, story_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
