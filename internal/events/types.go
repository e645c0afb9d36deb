package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	StoryID() string
}

// Topic constants
const (
	TopicStory = "story"
	TopicRun   = "run"
)

// Event type constants
const (
	EventTypeStoryDispatched = "story.dispatched"
	EventTypeStoryCompleted  = "story.completed"
	EventTypeStoryFailed     = "story.failed"
	EventTypeStoryRetried    = "story.retried"
	EventTypeRunProgress     = "run.progress"
	EventTypeRunFinished     = "run.finished"
)

// StoryDispatchedEvent is published when a story is handed to a worker slot.
type StoryDispatchedEvent struct {
	ID        string
	Title     string
	Slot      int
	Timestamp time.Time
}

func (e StoryDispatchedEvent) EventType() string { return EventTypeStoryDispatched }
func (e StoryDispatchedEvent) StoryID() string   { return e.ID }

// StoryCompletedEvent is published when a worker's story is classified completed.
type StoryCompletedEvent struct {
	ID        string
	Slot      int
	Duration  time.Duration
	Timestamp time.Time
}

func (e StoryCompletedEvent) EventType() string { return EventTypeStoryCompleted }
func (e StoryCompletedEvent) StoryID() string   { return e.ID }

// StoryFailedEvent is published when failure evidence is found in a worker's log.
type StoryFailedEvent struct {
	ID        string
	Slot      int
	Reason    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e StoryFailedEvent) EventType() string { return EventTypeStoryFailed }
func (e StoryFailedEvent) StoryID() string   { return e.ID }

// StoryRetriedEvent is published when a worker exits ambiguously and the
// story reverts to pending for a future dispatch.
type StoryRetriedEvent struct {
	ID        string
	Slot      int
	Reason    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e StoryRetriedEvent) EventType() string { return EventTypeStoryRetried }
func (e StoryRetriedEvent) StoryID() string   { return e.ID }

// RunProgressEvent is published once per scheduler iteration.
type RunProgressEvent struct {
	Iteration  int
	Total      int
	Completed  int
	Failed     int
	InProgress int
	Pending    int
	Timestamp  time.Time
}

func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) StoryID() string   { return "" }

// RunFinishedEvent is published when the scheduler loop reaches a
// terminal outcome.
type RunFinishedEvent struct {
	Outcome   string
	Completed int
	Total     int
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) StoryID() string   { return "" }
