package worker

import (
	"fmt"
	"strings"

	"github.com/aristath/storyloop/internal/story"
)

// Outcome is what a finished worker left behind.
type Outcome struct {
	Log           string // Captured per-slot log text
	ProcessExited bool   // Whether OS-level exit was observed (vs. sentinel only)
}

// Result is the classified outcome for a story.
type Result struct {
	Status story.Status
	Reason string
}

// Classifier decides a story's resulting status from its worker's
// outcome. It is a strategy interface so the keyword heuristic can be
// replaced by a structured-outcome protocol without touching the
// scheduler loop.
type Classifier interface {
	Classify(st *story.Story, out Outcome) Result
}

// KeywordClassifier implements the default heuristic:
//  1. the store already shows the story completed -> completed
//  2. the log contains a failure keyword -> failed
//  3. otherwise -> pending (ambiguous, retry on a later scan)
//
// st must be re-read from the store after the worker exits, since the
// worker itself writes the completion flag.
type KeywordClassifier struct {
	Keywords []string
}

// NewKeywordClassifier creates a classifier with the given failure
// keywords, falling back to the defaults when none are given.
func NewKeywordClassifier(keywords []string) *KeywordClassifier {
	if len(keywords) == 0 {
		keywords = []string{"error", "failed", "exception"}
	}
	return &KeywordClassifier{Keywords: keywords}
}

// Classify applies the decision order, first match wins.
func (c *KeywordClassifier) Classify(st *story.Story, out Outcome) Result {
	if st != nil && st.Completed() {
		return Result{Status: story.StatusCompleted, Reason: "worker reported success"}
	}

	logLower := strings.ToLower(out.Log)
	for _, kw := range c.Keywords {
		if strings.Contains(logLower, strings.ToLower(kw)) {
			return Result{
				Status: story.StatusFailed,
				Reason: fmt.Sprintf("failure keyword %q in worker log", kw),
			}
		}
	}

	return Result{Status: story.StatusPending, Reason: "worker exited without a verdict"}
}
