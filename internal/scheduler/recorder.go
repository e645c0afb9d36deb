package scheduler

import (
	"context"
	"time"

	"github.com/aristath/storyloop/internal/story"
)

// RunInfo describes a run for history recording.
type RunInfo struct {
	ID          string
	DocPath     string
	Description string
	Branch      string
	Capacity    int
	StartedAt   time.Time
}

// Attempt describes one classified worker dispatch.
type Attempt struct {
	RunID      string
	StoryID    string
	Slot       int
	Status     story.Status
	Reason     string
	LogPath    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder receives run history. The scheduler only produces records;
// storage and archival live behind this interface.
type Recorder interface {
	BeginRun(ctx context.Context, run RunInfo) error
	RecordAttempt(ctx context.Context, att Attempt) error
	FinishRun(ctx context.Context, runID string, outcome Outcome, completed, total int) error
}

// NopRecorder discards all history.
type NopRecorder struct{}

func (NopRecorder) BeginRun(context.Context, RunInfo) error                      { return nil }
func (NopRecorder) RecordAttempt(context.Context, Attempt) error                 { return nil }
func (NopRecorder) FinishRun(context.Context, string, Outcome, int, int) error   { return nil }
