// Package story defines the persisted story document schema shared with
// the PRD conversion tool and the external agent workers.
package story

// Status represents the lifecycle state of a story.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Story is a unit of schedulable work. The scheduler only interprets
// ID, Dependencies, Status and Passes; everything else is opaque and
// belongs to the conversion tool, the worker, or the display layer.
type Story struct {
	ID           string   `json:"id"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Priority     int      `json:"priority,omitempty"`   // display only, never affects dispatch order
	Dependencies []string `json:"dependencies,omitempty"`
	Status       Status   `json:"status,omitempty"`
	Passes       bool     `json:"passes"` // legacy completion flag, kept in sync with Status
	Notes        string   `json:"notes,omitempty"` // worker scratch space, scheduler never writes it
}

// Document is the top-level persisted state document.
type Document struct {
	Description string  `json:"description,omitempty"`
	BranchName  string  `json:"branchName,omitempty"`
	Stories     []Story `json:"userStories"`
}

// Normalize reconciles the legacy passes flag with the status field.
// Records written before the status field existed carry only passes:
// passes implies completed, otherwise the story is pending. A status
// of completed always implies passes.
func (s *Story) Normalize() {
	if s.Status == "" {
		if s.Passes {
			s.Status = StatusCompleted
		} else {
			s.Status = StatusPending
		}
	}
	if s.Status == StatusCompleted {
		s.Passes = true
	}
}

// Completed reports whether the story is done, accepting either the
// status field or the legacy passes flag.
func (s *Story) Completed() bool {
	return s.Status == StatusCompleted || s.Passes
}

// Normalize applies Story.Normalize to every story in the document.
func (d *Document) Normalize() {
	for i := range d.Stories {
		d.Stories[i].Normalize()
	}
}

// Find returns a pointer to the story with the given id, or nil.
// Lookup is linear; documents are small.
func (d *Document) Find(id string) *Story {
	for i := range d.Stories {
		if d.Stories[i].ID == id {
			return &d.Stories[i]
		}
	}
	return nil
}

// CompletedCount returns the number of completed stories.
func (d *Document) CompletedCount() int {
	n := 0
	for i := range d.Stories {
		if d.Stories[i].Completed() {
			n++
		}
	}
	return n
}

// AllDone reports whether every story is completed. An empty document
// is never done.
func (d *Document) AllDone() bool {
	return len(d.Stories) > 0 && d.CompletedCount() == len(d.Stories)
}
