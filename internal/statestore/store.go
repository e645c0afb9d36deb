// Package statestore persists the story document with an atomic
// write-replace discipline so readers never observe a partial file.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aristath/storyloop/internal/story"
)

// Store is a file-backed store for a single story document.
// It does not serialize concurrent processes against each other;
// writers are expected to confine themselves to the fields of the
// story they own (last full document write wins).
type Store struct {
	path string
}

// New creates a store for the document at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// Load reads, parses, and normalizes the document.
func (s *Store) Load() (*story.Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var doc story.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}

	doc.Normalize()
	return &doc, nil
}

// Mutate applies fn to a freshly loaded document and persists the
// result atomically: the new document is written to a temporary file
// in the same directory, then renamed over the original. If fn returns
// an error nothing is written. Returns the persisted document.
func (s *Store) Mutate(fn func(*story.Document) error) (*story.Document, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}

	if err := fn(doc); err != nil {
		return nil, err
	}
	doc.Normalize()

	if err := s.persist(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// persist writes the document via temp-file-plus-rename. Transient
// filesystem errors are retried with a short exponential backoff.
func (s *Store) persist(doc *story.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}
	data = append(data, '\n')

	write := func() error {
		dir := filepath.Dir(s.path)
		tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		tmpName := tmp.Name()

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing temp file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("closing temp file: %w", err)
		}

		if err := os.Rename(tmpName, s.path); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("replacing %s: %w", s.path, err)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 3 * time.Second

	return backoff.Retry(write, policy)
}

// Counts is an opaque census of story statuses at a point in time.
type Counts struct {
	Total      int
	Pending    int
	InProgress int
	Completed  int
	Failed     int
}

// Snapshot returns the current status census.
func (s *Store) Snapshot() (Counts, error) {
	doc, err := s.Load()
	if err != nil {
		return Counts{}, err
	}
	return Census(doc), nil
}

// Diff returns the change in counts since a prior snapshot.
func (s *Store) Diff(prev Counts) (Counts, error) {
	cur, err := s.Snapshot()
	if err != nil {
		return Counts{}, err
	}
	return Counts{
		Total:      cur.Total - prev.Total,
		Pending:    cur.Pending - prev.Pending,
		InProgress: cur.InProgress - prev.InProgress,
		Completed:  cur.Completed - prev.Completed,
		Failed:     cur.Failed - prev.Failed,
	}, nil
}

// Census counts stories by normalized status.
func Census(doc *story.Document) Counts {
	c := Counts{Total: len(doc.Stories)}
	for i := range doc.Stories {
		switch doc.Stories[i].Status {
		case story.StatusPending:
			c.Pending++
		case story.StatusInProgress:
			c.InProgress++
		case story.StatusCompleted:
			c.Completed++
		case story.StatusFailed:
			c.Failed++
		}
	}
	return c
}
