package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/storyloop/internal/statestore"
	"github.com/aristath/storyloop/internal/story"
	"github.com/aristath/storyloop/internal/worker"
)

// fakeBehavior scripts one story's worker for the fake supervisor.
type fakeBehavior struct {
	complete       bool   // worker writes its own completion flag before exiting
	log            string // captured log text
	pollsUntilDone int    // IsDone stays false for this many calls
	never          bool   // worker never finishes (interrupt tests)
}

type fakeRun struct {
	behavior fakeBehavior
	polls    int
}

// fakeSupervisor mirrors the real supervisor's contract: Start claims
// the story in the store (pending -> in_progress) before "launching".
type fakeSupervisor struct {
	mu            sync.Mutex
	store         *statestore.Store
	behaviors     map[string]fakeBehavior
	started       []string
	running       int
	maxConcurrent int
	handles       map[*worker.Handle]*fakeRun
	killed        bool
}

func newFakeSupervisor(store *statestore.Store, behaviors map[string]fakeBehavior) *fakeSupervisor {
	return &fakeSupervisor{
		store:     store,
		behaviors: behaviors,
		handles:   make(map[*worker.Handle]*fakeRun),
	}
}

func (f *fakeSupervisor) Start(ctx context.Context, st story.Story, slot int) (*worker.Handle, error) {
	if _, err := f.store.Mutate(func(d *story.Document) error {
		rec := d.Find(st.ID)
		if rec == nil || rec.Status != story.StatusPending {
			return worker.ErrNotPending
		}
		rec.Status = story.StatusInProgress
		return nil
	}); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.started = append(f.started, st.ID)
	f.running++
	if f.running > f.maxConcurrent {
		f.maxConcurrent = f.running
	}
	b := f.behaviors[st.ID]
	h := &worker.Handle{StoryID: st.ID, Slot: slot, StartedAt: time.Now(), LogPath: "fake.log"}
	f.handles[h] = &fakeRun{behavior: b}
	f.mu.Unlock()

	if b.complete {
		if _, err := f.store.Mutate(func(d *story.Document) error {
			rec := d.Find(st.ID)
			rec.Status = story.StatusCompleted
			rec.Passes = true
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (f *fakeSupervisor) IsDone(h *worker.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.handles[h]
	if r.behavior.never {
		return false
	}
	if r.polls < r.behavior.pollsUntilDone {
		r.polls++
		return false
	}
	return true
}

func (f *fakeSupervisor) Outcome(h *worker.Handle) (worker.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return worker.Outcome{Log: f.handles[h].behavior.log, ProcessExited: true}, nil
}

func (f *fakeSupervisor) Release(h *worker.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handles[h]; ok {
		f.running--
		delete(f.handles, h)
	}
}

func (f *fakeSupervisor) KillAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
}

func (f *fakeSupervisor) startedOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

// countingRecorder tallies recorder calls.
type countingRecorder struct {
	mu       sync.Mutex
	begun    int
	attempts []Attempt
	finished []Outcome
}

func (r *countingRecorder) BeginRun(_ context.Context, _ RunInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begun++
	return nil
}

func (r *countingRecorder) RecordAttempt(_ context.Context, att Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, att)
	return nil
}

func (r *countingRecorder) FinishRun(_ context.Context, _ string, outcome Outcome, _, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, outcome)
	return nil
}

func newLoopStore(t *testing.T, stories ...story.Story) *statestore.Store {
	t.Helper()
	data, err := json.Marshal(story.Document{Description: "test run", Stories: stories})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "prd.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return statestore.New(path)
}

func testConfig(capacity, maxIter int) Config {
	return Config{
		RunID:         "run-test",
		Capacity:      capacity,
		MaxIterations: maxIter,
		PollInterval:  time.Millisecond,
	}
}

func diamond() []story.Story {
	return []story.Story{
		{ID: "A"},
		{ID: "B", Dependencies: []string{"A"}},
		{ID: "C", Dependencies: []string{"A"}},
		{ID: "D", Dependencies: []string{"B", "C"}},
	}
}

// TestRunDiamondParallel runs the A/(B,C)/D graph with two slots and
// verifies dispatch order and parallelism.
func TestRunDiamondParallel(t *testing.T) {
	store := newLoopStore(t, diamond()...)
	sup := newFakeSupervisor(store, map[string]fakeBehavior{
		"A": {complete: true}, "B": {complete: true},
		"C": {complete: true}, "D": {complete: true},
	})
	rec := &countingRecorder{}

	loop := New(store, sup, worker.NewKeywordClassifier(nil), nil, rec, testConfig(2, 20))
	outcome, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeAllDone {
		t.Fatalf("outcome = %s, want all-done", outcome)
	}

	if got, want := sup.startedOrder(), []string{"A", "B", "C", "D"}; !reflect.DeepEqual(got, want) {
		t.Errorf("dispatch order = %v, want %v", got, want)
	}
	if sup.maxConcurrent != 2 {
		t.Errorf("max concurrent = %d, want 2 (B and C share the wave)", sup.maxConcurrent)
	}
	if len(rec.attempts) != 4 {
		t.Errorf("recorded attempts = %d, want 4", len(rec.attempts))
	}
	if rec.begun != 1 || len(rec.finished) != 1 || rec.finished[0] != OutcomeAllDone {
		t.Errorf("recorder lifecycle: begun=%d finished=%v", rec.begun, rec.finished)
	}
}

// TestRunDiamondSerialized verifies the same graph completes with a
// single slot, strictly serialized.
func TestRunDiamondSerialized(t *testing.T) {
	store := newLoopStore(t, diamond()...)
	sup := newFakeSupervisor(store, map[string]fakeBehavior{
		"A": {complete: true}, "B": {complete: true},
		"C": {complete: true}, "D": {complete: true},
	})

	loop := New(store, sup, worker.NewKeywordClassifier(nil), nil, nil, testConfig(1, 20))
	outcome, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeAllDone {
		t.Fatalf("outcome = %s, want all-done", outcome)
	}
	if got, want := sup.startedOrder(), []string{"A", "B", "C", "D"}; !reflect.DeepEqual(got, want) {
		t.Errorf("dispatch order = %v, want %v", got, want)
	}
	if sup.maxConcurrent != 1 {
		t.Errorf("max concurrent = %d, want 1", sup.maxConcurrent)
	}
}

// TestRunAllDoneImmediately verifies a fully completed document exits
// without dispatching anything.
func TestRunAllDoneImmediately(t *testing.T) {
	store := newLoopStore(t,
		story.Story{ID: "a", Status: story.StatusCompleted},
		story.Story{ID: "b", Passes: true},
	)
	sup := newFakeSupervisor(store, nil)

	outcome, err := New(store, sup, worker.NewKeywordClassifier(nil), nil, nil, testConfig(2, 20)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeAllDone {
		t.Errorf("outcome = %s, want all-done", outcome)
	}
	if len(sup.startedOrder()) != 0 {
		t.Errorf("dispatched %v on an already-complete document", sup.startedOrder())
	}
}

// TestRunStallsOnUnknownDependency: a story depending on a nonexistent
// id never becomes ready and the loop reports Stalled, not a hang.
func TestRunStallsOnUnknownDependency(t *testing.T) {
	store := newLoopStore(t, story.Story{ID: "b", Dependencies: []string{"X"}})
	sup := newFakeSupervisor(store, nil)

	outcome, err := New(store, sup, worker.NewKeywordClassifier(nil), nil, nil, testConfig(2, 20)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeStalled {
		t.Errorf("outcome = %s, want stalled", outcome)
	}

	doc, _ := store.Load()
	if got := doc.Find("b").Status; got != story.StatusPending {
		t.Errorf("blocked story status = %q, want pending", got)
	}
}

// TestRunStallsWithZeroCapacity: ready stories exist but no slot can
// ever run them; the loop terminates Stalled instead of spinning.
func TestRunStallsWithZeroCapacity(t *testing.T) {
	store := newLoopStore(t,
		story.Story{ID: "A"},
		story.Story{ID: "B", Dependencies: []string{"A"}},
	)
	sup := newFakeSupervisor(store, nil)

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := New(store, sup, worker.NewKeywordClassifier(nil), nil, nil, testConfig(0, 20)).Run(context.Background())
		done <- outcome
	}()

	select {
	case outcome := <-done:
		if outcome != OutcomeStalled {
			t.Errorf("outcome = %s, want stalled", outcome)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate with zero capacity")
	}
}

// TestRunStallsOnFailedDependency: a failed story is never retried and
// its dependents stall.
func TestRunStallsOnFailedDependency(t *testing.T) {
	store := newLoopStore(t,
		story.Story{ID: "A"},
		story.Story{ID: "B", Dependencies: []string{"A"}},
	)
	sup := newFakeSupervisor(store, map[string]fakeBehavior{
		"A": {log: "build error: cannot continue"},
	})

	outcome, err := New(store, sup, worker.NewKeywordClassifier(nil), nil, nil, testConfig(2, 20)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeStalled {
		t.Fatalf("outcome = %s, want stalled", outcome)
	}

	doc, _ := store.Load()
	if got := doc.Find("A").Status; got != story.StatusFailed {
		t.Errorf("A status = %q, want failed", got)
	}
	if got := doc.Find("B").Status; got != story.StatusPending {
		t.Errorf("B status = %q, want pending", got)
	}
	if got := sup.startedOrder(); len(got) != 1 {
		t.Errorf("failed story was re-dispatched: %v", got)
	}
}

// TestRunExhaustsIterationCap: an ambiguous worker reverts the story
// to pending each pass until the cap hits.
func TestRunExhaustsIterationCap(t *testing.T) {
	store := newLoopStore(t, story.Story{ID: "A"})
	sup := newFakeSupervisor(store, map[string]fakeBehavior{
		"A": {log: "did half the work"},
	})
	rec := &countingRecorder{}

	outcome, err := New(store, sup, worker.NewKeywordClassifier(nil), nil, rec, testConfig(1, 3)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeExhausted {
		t.Fatalf("outcome = %s, want exhausted", outcome)
	}

	// Re-offered once per iteration within the cap.
	if got := sup.startedOrder(); !reflect.DeepEqual(got, []string{"A", "A", "A"}) {
		t.Errorf("dispatches = %v, want A x3", got)
	}
	for _, att := range rec.attempts {
		if att.Status != story.StatusPending {
			t.Errorf("attempt status = %q, want pending", att.Status)
		}
	}

	doc, _ := store.Load()
	if got := doc.Find("A").Status; got != story.StatusPending {
		t.Errorf("A status after exhaustion = %q, want pending (resumable)", got)
	}
}

// TestRunNoDoubleDispatch: a story still running is never re-selected
// while another slot turns over.
func TestRunNoDoubleDispatch(t *testing.T) {
	store := newLoopStore(t,
		story.Story{ID: "slow"},
		story.Story{ID: "fast"},
	)
	sup := newFakeSupervisor(store, map[string]fakeBehavior{
		"slow": {complete: true, pollsUntilDone: 10},
		"fast": {complete: true},
	})

	outcome, err := New(store, sup, worker.NewKeywordClassifier(nil), nil, nil, testConfig(2, 20)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeAllDone {
		t.Fatalf("outcome = %s, want all-done", outcome)
	}

	seen := map[string]int{}
	for _, id := range sup.startedOrder() {
		seen[id]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("story %q dispatched %d times, want 1", id, n)
		}
	}
}

// TestRunCompletionMarker: the campaign completion marker in worker
// output is an alternate AllDone trigger, independent of counting.
func TestRunCompletionMarker(t *testing.T) {
	store := newLoopStore(t,
		story.Story{ID: "A"},
		story.Story{ID: "B", Dependencies: []string{"A"}},
	)
	sup := newFakeSupervisor(store, map[string]fakeBehavior{
		"A": {log: "nothing left to do\nALL_STORIES_COMPLETE\n"},
	})

	cfg := testConfig(1, 20)
	cfg.CompletionMarker = "ALL_STORIES_COMPLETE"

	outcome, err := New(store, sup, worker.NewKeywordClassifier(nil), nil, nil, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeAllDone {
		t.Errorf("outcome = %s, want all-done via completion marker", outcome)
	}
}

// TestRunInterruptResetsAndResumes: cancelling mid-run kills workers,
// resets in_progress stories to pending, and a fresh run completes.
func TestRunInterruptResetsAndResumes(t *testing.T) {
	store := newLoopStore(t,
		story.Story{ID: "done-already", Status: story.StatusCompleted},
		story.Story{ID: "A"},
	)
	sup := newFakeSupervisor(store, map[string]fakeBehavior{
		"A": {never: true},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	outcome, err := New(store, sup, worker.NewKeywordClassifier(nil), nil, nil, testConfig(1, 20)).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeInterrupted {
		t.Fatalf("outcome = %s, want interrupted", outcome)
	}
	if !sup.killed {
		t.Error("workers were not killed on interrupt")
	}

	doc, _ := store.Load()
	if got := doc.Find("A").Status; got != story.StatusPending {
		t.Errorf("A status after interrupt = %q, want pending", got)
	}
	if got := doc.Find("done-already").Status; got != story.StatusCompleted {
		t.Errorf("completed story lost on interrupt: %q", got)
	}

	// Resume: a fresh loop over the same store finishes the work.
	sup2 := newFakeSupervisor(store, map[string]fakeBehavior{
		"A": {complete: true},
	})
	outcome, err = New(store, sup2, worker.NewKeywordClassifier(nil), nil, nil, testConfig(1, 20)).Run(context.Background())
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if outcome != OutcomeAllDone {
		t.Errorf("resumed outcome = %s, want all-done", outcome)
	}
}

// TestRunReclaimsOrphanedInProgress: a run killed hard leaves its
// claims as in_progress. A fresh run resets them at startup so the
// stories are re-offered instead of stalling with nothing dispatched.
func TestRunReclaimsOrphanedInProgress(t *testing.T) {
	store := newLoopStore(t,
		story.Story{ID: "A", Status: story.StatusInProgress},
		story.Story{ID: "B", Dependencies: []string{"A"}},
	)
	sup := newFakeSupervisor(store, map[string]fakeBehavior{
		"A": {complete: true},
		"B": {complete: true},
	})

	outcome, err := New(store, sup, worker.NewKeywordClassifier(nil), nil, nil, testConfig(1, 20)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeAllDone {
		t.Fatalf("outcome = %s, want all-done", outcome)
	}
	if got, want := sup.startedOrder(), []string{"A", "B"}; !reflect.DeepEqual(got, want) {
		t.Errorf("dispatch order = %v, want %v", got, want)
	}
}

// TestReportStallNamesOrphanedStories: the stall breakdown calls out
// in_progress stories that have no running worker behind them.
func TestReportStallNamesOrphanedStories(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	store := newLoopStore(t)
	l := New(store, newFakeSupervisor(store, nil), worker.NewKeywordClassifier(nil), nil, nil, testConfig(1, 20))

	l.reportStall(&story.Document{Stories: []story.Story{
		{ID: "A", Status: story.StatusInProgress},
		{ID: "B", Dependencies: []string{"A"}},
	}})

	out := buf.String()
	if !strings.Contains(out, "in_progress") || !strings.Contains(out, "A") {
		t.Errorf("stall report omits the orphaned story:\n%s", out)
	}
	if strings.Contains(out, "no runnable stories and no running workers") {
		t.Errorf("generic stall message used despite a diagnosable cause:\n%s", out)
	}
}

// TestRunWorkerCompletionWinsOverKeywords: the store's completion flag
// beats failure keywords in the same log.
func TestRunWorkerCompletionWinsOverKeywords(t *testing.T) {
	store := newLoopStore(t, story.Story{ID: "A"})
	sup := newFakeSupervisor(store, map[string]fakeBehavior{
		"A": {complete: true, log: "fixed the error handling, done"},
	})

	outcome, err := New(store, sup, worker.NewKeywordClassifier(nil), nil, nil, testConfig(1, 20)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeAllDone {
		t.Errorf("outcome = %s, want all-done", outcome)
	}

	doc, _ := store.Load()
	st := doc.Find("A")
	if st.Status != story.StatusCompleted || !st.Passes {
		t.Errorf("A = status %q passes %v, want completed/true", st.Status, st.Passes)
	}
}
