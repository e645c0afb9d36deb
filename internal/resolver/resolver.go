// Package resolver computes which stories are eligible to start.
package resolver

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/aristath/storyloop/internal/story"
)

// Ready returns the ids of stories eligible to start right now: status
// pending and every dependency completed. Output follows document
// order; no priority sorting. A dependency referencing a nonexistent
// story is never satisfied, so its dependents never become ready.
func Ready(doc *story.Document) []string {
	var ready []string

	for i := range doc.Stories {
		st := &doc.Stories[i]
		if st.Status != story.StatusPending {
			continue
		}

		satisfied := true
		for _, depID := range st.Dependencies {
			dep := doc.Find(depID)
			if dep == nil || !dep.Completed() {
				satisfied = false
				break
			}
		}

		if satisfied {
			ready = append(ready, st.ID)
		}
	}

	return ready
}

// Blocked returns, for every pending story that is not ready, the list
// of dependency ids holding it back. Unknown ids are included as-is.
// Used for stall reporting.
func Blocked(doc *story.Document) map[string][]string {
	blocked := make(map[string][]string)

	for i := range doc.Stories {
		st := &doc.Stories[i]
		if st.Status != story.StatusPending {
			continue
		}

		var unmet []string
		for _, depID := range st.Dependencies {
			dep := doc.Find(depID)
			if dep == nil || !dep.Completed() {
				unmet = append(unmet, depID)
			}
		}
		if len(unmet) > 0 {
			blocked[st.ID] = unmet
		}
	}

	return blocked
}

// Validate checks the dependency graph for unknown ids and cycles
// using a topological sort. A non-nil error is advisory: the scheduler
// still runs (the affected stories simply never become ready and the
// run ends Stalled), but the CLI surfaces the problem up front.
func Validate(doc *story.Document) error {
	var problems []string

	for i := range doc.Stories {
		st := &doc.Stories[i]
		for _, depID := range st.Dependencies {
			if doc.Find(depID) == nil {
				problems = append(problems, fmt.Sprintf("story %q depends on unknown story %q", st.ID, depID))
			}
		}
	}

	var edges []toposort.Edge
	for i := range doc.Stories {
		st := &doc.Stories[i]
		if len(st.Dependencies) == 0 {
			edges = append(edges, toposort.Edge{nil, st.ID})
			continue
		}
		for _, depID := range st.Dependencies {
			if doc.Find(depID) != nil {
				edges = append(edges, toposort.Edge{depID, st.ID})
			}
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		problems = append(problems, fmt.Sprintf("dependency cycle: %v", err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("dependency graph: %s", strings.Join(problems, "; "))
	}
	return nil
}
