// Package scheduler drives stories to completion: it computes the
// ready set, dispatches stories into a bounded pool of worker slots,
// polls for completions, classifies them, and reconciles the state
// store, including crash/interrupt recovery.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aristath/storyloop/internal/events"
	"github.com/aristath/storyloop/internal/resolver"
	"github.com/aristath/storyloop/internal/statestore"
	"github.com/aristath/storyloop/internal/story"
	"github.com/aristath/storyloop/internal/worker"
)

// Supervisor is the scheduler's view of the worker supervisor.
type Supervisor interface {
	Start(ctx context.Context, st story.Story, slot int) (*worker.Handle, error)
	IsDone(h *worker.Handle) bool
	Outcome(h *worker.Handle) (worker.Outcome, error)
	Release(h *worker.Handle)
	KillAll()
}

// Config holds the loop's knobs.
type Config struct {
	RunID            string
	Capacity         int           // Worker slots; 0 means none (dispatch impossible)
	MaxIterations    int           // Hard cap; <=0 defaults to 20
	PollInterval     time.Duration // Completion poll interval; <=0 defaults to 10s
	CompletionMarker string        // Literal token in worker output meaning the whole campaign is done
}

// slot is one unit of worker concurrency capacity.
type slot struct {
	id        int
	handle    *worker.Handle
	storyID   string
	startedAt time.Time
}

func (s *slot) occupied() bool { return s.handle != nil }

func (s *slot) clear() {
	s.handle = nil
	s.storyID = ""
	s.startedAt = time.Time{}
}

// Loop is one scheduler run over a state store. Slots are owned by the
// Loop instance; there is no process-wide worker state.
type Loop struct {
	store      *statestore.Store
	sup        Supervisor
	classifier worker.Classifier
	bus        *events.Bus
	rec        Recorder
	cfg        Config
	slots      []*slot
}

// New creates a scheduler loop. bus and rec may be nil.
func New(store *statestore.Store, sup Supervisor, classifier worker.Classifier, bus *events.Bus, rec Recorder, cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if rec == nil {
		rec = NopRecorder{}
	}

	slots := make([]*slot, 0, cfg.Capacity)
	for i := 1; i <= cfg.Capacity; i++ {
		slots = append(slots, &slot{id: i})
	}

	return &Loop{
		store:      store,
		sup:        sup,
		classifier: classifier,
		bus:        bus,
		rec:        rec,
		cfg:        cfg,
		slots:      slots,
	}
}

// Run executes the scheduler until all stories are done, the iteration
// cap is hit, no progress is possible, or ctx is cancelled. The error
// is non-nil only for unrecoverable faults (state store unreadable,
// agent unlaunchable); Stalled and Exhausted are outcomes, not errors.
func (l *Loop) Run(ctx context.Context) (Outcome, error) {
	// A prior run killed hard (SIGKILL, power loss) never ran the
	// shutdown reset, leaving its claims as in_progress. Reclaim them
	// now so those stories are re-offered instead of wedging the run.
	l.resetInFlight()

	doc, err := l.store.Load()
	if err != nil {
		return OutcomeStalled, err
	}

	if err := l.rec.BeginRun(ctx, RunInfo{
		ID:          l.cfg.RunID,
		DocPath:     l.store.Path(),
		Description: doc.Description,
		Branch:      doc.BranchName,
		Capacity:    l.cfg.Capacity,
		StartedAt:   time.Now(),
	}); err != nil {
		log.Printf("WARNING: run history unavailable: %v", err)
	}

	iteration := 0
	for {
		if ctx.Err() != nil {
			return l.shutdown(ctx)
		}

		// Scan.
		doc, err := l.store.Load()
		if err != nil {
			return OutcomeStalled, fmt.Errorf("scanning state store: %w", err)
		}
		if doc.AllDone() {
			return l.finish(ctx, OutcomeAllDone, doc)
		}

		// Dispatch in resolver order into free slots.
		ready := resolver.Ready(doc)
		next := 0
		for _, sl := range l.slots {
			if sl.occupied() || next >= len(ready) {
				continue
			}
			id := ready[next]
			next++

			st := doc.Find(id)
			h, err := l.sup.Start(ctx, *st, sl.id)
			if err != nil {
				if errors.Is(err, worker.ErrAgentUnavailable) {
					l.cleanupSlots()
					return OutcomeStalled, err
				}
				if errors.Is(err, worker.ErrNotPending) {
					// Claimed between Scan and Dispatch; skip.
					continue
				}
				log.Printf("WARNING: dispatch of story %q failed: %v", id, err)
				continue
			}

			sl.handle = h
			sl.storyID = id
			sl.startedAt = time.Now()
			log.Printf("dispatched story %q to slot %d", id, sl.id)
			l.bus.Publish(events.TopicStory, events.StoryDispatchedEvent{
				ID:        id,
				Title:     st.Title,
				Slot:      sl.id,
				Timestamp: time.Now(),
			})
		}

		// Stall check: nothing running and nothing dispatchable.
		if l.occupiedCount() == 0 {
			if len(ready) == 0 {
				l.reportStall(doc)
				return l.finish(ctx, OutcomeStalled, doc)
			}
			if l.cfg.Capacity <= 0 {
				log.Printf("WARNING: %d stories ready but no worker slots configured", len(ready))
				return l.finish(ctx, OutcomeStalled, doc)
			}
			// Transient dispatch failures: re-offer on the next scan.
		}

		snap := statestore.Census(doc)

		// Wait for at least one completion, then classify every done
		// slot found in this pass.
		if l.occupiedCount() > 0 {
			done, err := l.waitForDone(ctx)
			if err != nil {
				return l.shutdown(ctx)
			}
			markerSeen := false
			for _, sl := range done {
				if l.classifySlot(ctx, sl) {
					markerSeen = true
				}
			}
			if markerSeen {
				log.Printf("completion marker observed in worker output")
				fresh, err := l.store.Load()
				if err != nil {
					fresh = doc
				}
				return l.finish(ctx, OutcomeAllDone, fresh)
			}
		}

		// Advance.
		iteration++
		l.publishProgress(iteration, snap)
		if iteration >= l.cfg.MaxIterations {
			fresh, err := l.store.Load()
			if err != nil {
				fresh = doc
			}
			log.Printf("WARNING: iteration cap (%d) reached with %d/%d stories completed",
				l.cfg.MaxIterations, fresh.CompletedCount(), len(fresh.Stories))
			return l.finish(ctx, OutcomeExhausted, fresh)
		}
	}
}

// waitForDone polls occupied slots until at least one reports done or
// ctx is cancelled. Bounded polling, not event-driven: detection
// latency is at most the poll interval.
func (l *Loop) waitForDone(ctx context.Context) ([]*slot, error) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var done []*slot
		for _, sl := range l.slots {
			if sl.occupied() && l.sup.IsDone(sl.handle) {
				done = append(done, sl)
			}
		}
		if len(done) > 0 {
			return done, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// classifySlot resolves a finished slot: classify the outcome, write
// the resulting status, record history, release the slot. Reports
// whether the campaign completion marker was seen in the output.
func (l *Loop) classifySlot(ctx context.Context, sl *slot) bool {
	out, err := l.sup.Outcome(sl.handle)
	if err != nil {
		log.Printf("WARNING: reading outcome for story %q: %v", sl.storyID, err)
	}

	// Re-read: the worker itself writes the completion flag.
	var fresh *story.Story
	if doc, err := l.store.Load(); err == nil {
		fresh = doc.Find(sl.storyID)
	}

	res := l.classifier.Classify(fresh, out)
	if _, err := l.store.Mutate(func(d *story.Document) error {
		if rec := d.Find(sl.storyID); rec != nil {
			rec.Status = res.Status
			rec.Passes = res.Status == story.StatusCompleted
		}
		return nil
	}); err != nil {
		log.Printf("ERROR: writing status for story %q: %v", sl.storyID, err)
	}

	duration := time.Since(sl.startedAt)
	now := time.Now()
	switch res.Status {
	case story.StatusCompleted:
		log.Printf("story %q completed (slot %d, %s)", sl.storyID, sl.id, duration.Round(time.Second))
		l.bus.Publish(events.TopicStory, events.StoryCompletedEvent{
			ID: sl.storyID, Slot: sl.id, Duration: duration, Timestamp: now,
		})
	case story.StatusFailed:
		log.Printf("WARNING: story %q failed (slot %d): %s", sl.storyID, sl.id, res.Reason)
		l.bus.Publish(events.TopicStory, events.StoryFailedEvent{
			ID: sl.storyID, Slot: sl.id, Reason: res.Reason, Duration: duration, Timestamp: now,
		})
	default:
		log.Printf("story %q outcome ambiguous, will retry: %s", sl.storyID, res.Reason)
		l.bus.Publish(events.TopicStory, events.StoryRetriedEvent{
			ID: sl.storyID, Slot: sl.id, Reason: res.Reason, Duration: duration, Timestamp: now,
		})
	}

	if err := l.rec.RecordAttempt(ctx, Attempt{
		RunID:      l.cfg.RunID,
		StoryID:    sl.storyID,
		Slot:       sl.id,
		Status:     res.Status,
		Reason:     res.Reason,
		LogPath:    sl.handle.LogPath,
		StartedAt:  sl.startedAt,
		FinishedAt: now,
	}); err != nil {
		log.Printf("WARNING: recording attempt for story %q: %v", sl.storyID, err)
	}

	markerSeen := l.cfg.CompletionMarker != "" && strings.Contains(out.Log, l.cfg.CompletionMarker)

	l.sup.Release(sl.handle)
	sl.clear()

	return markerSeen
}

// shutdown handles operator interruption: terminate all workers, clear
// sentinels, reset every in_progress story to pending, release slots.
// The store ends up identical to "no run active"; resuming is safe.
func (l *Loop) shutdown(ctx context.Context) (Outcome, error) {
	log.Printf("shutdown requested, resetting in-flight stories")
	l.cleanupSlots()

	doc, _ := l.store.Load()
	completed, total := 0, 0
	if doc != nil {
		completed, total = doc.CompletedCount(), len(doc.Stories)
	}
	// ctx is already cancelled here; history writes get a fresh one.
	l.finishRecords(context.Background(), OutcomeInterrupted, completed, total)
	return OutcomeInterrupted, nil
}

// cleanupSlots kills all worker processes and resets in_progress
// stories. Used by both shutdown and abnormal-abort paths.
func (l *Loop) cleanupSlots() {
	l.sup.KillAll()

	for _, sl := range l.slots {
		if sl.occupied() {
			l.sup.Release(sl.handle)
			sl.clear()
		}
	}

	l.resetInFlight()
}

// resetInFlight resets every in_progress story to pending, not just
// this loop's slots. Run calls it at startup to reclaim stories a
// crashed run left claimed; cleanupSlots calls it on the way out.
func (l *Loop) resetInFlight() {
	if _, err := l.store.Mutate(func(d *story.Document) error {
		for i := range d.Stories {
			if d.Stories[i].Status == story.StatusInProgress {
				d.Stories[i].Status = story.StatusPending
			}
		}
		return nil
	}); err != nil {
		log.Printf("ERROR: resetting in-flight stories: %v", err)
	}
}

// finish publishes and records the terminal outcome. Any slots still
// occupied (completion-marker exit) are cleaned up first.
func (l *Loop) finish(ctx context.Context, outcome Outcome, doc *story.Document) (Outcome, error) {
	if l.occupiedCount() > 0 {
		l.cleanupSlots()
		if fresh, err := l.store.Load(); err == nil {
			doc = fresh
		}
	}

	completed, total := doc.CompletedCount(), len(doc.Stories)
	log.Printf("run finished: %s (%d/%d stories completed)", outcome, completed, total)
	l.finishRecords(ctx, outcome, completed, total)
	return outcome, nil
}

func (l *Loop) finishRecords(ctx context.Context, outcome Outcome, completed, total int) {
	l.bus.Publish(events.TopicRun, events.RunFinishedEvent{
		Outcome:   outcome.String(),
		Completed: completed,
		Total:     total,
		Timestamp: time.Now(),
	})
	if err := l.rec.FinishRun(ctx, l.cfg.RunID, outcome, completed, total); err != nil {
		log.Printf("WARNING: recording run outcome: %v", err)
	}
}

// publishProgress logs and publishes the per-iteration census delta.
func (l *Loop) publishProgress(iteration int, prev statestore.Counts) {
	cur, err := l.store.Snapshot()
	if err != nil {
		return
	}
	diff, err := l.store.Diff(prev)
	if err == nil && diff.Completed > 0 {
		log.Printf("iteration %d: +%d completed (%d/%d)", iteration, diff.Completed, cur.Completed, cur.Total)
	}
	l.bus.Publish(events.TopicRun, events.RunProgressEvent{
		Iteration:  iteration,
		Total:      cur.Total,
		Completed:  cur.Completed,
		Failed:     cur.Failed,
		InProgress: cur.InProgress,
		Pending:    cur.Pending,
		Timestamp:  time.Now(),
	})
}

// reportStall distinguishes "stories failed" from "stories blocked on
// unmet or unknown dependencies" so the operator knows what to reset.
func (l *Loop) reportStall(doc *story.Document) {
	var failed, orphaned []string
	for i := range doc.Stories {
		switch doc.Stories[i].Status {
		case story.StatusFailed:
			failed = append(failed, doc.Stories[i].ID)
		case story.StatusInProgress:
			orphaned = append(orphaned, doc.Stories[i].ID)
		}
	}
	if len(failed) > 0 {
		log.Printf("WARNING: %d stories failed and will not be retried automatically: %s",
			len(failed), strings.Join(failed, ", "))
	}
	if len(orphaned) > 0 {
		log.Printf("WARNING: %d stories are marked in_progress with no running worker: %s",
			len(orphaned), strings.Join(orphaned, ", "))
	}

	blocked := resolver.Blocked(doc)
	for id, unmet := range blocked {
		log.Printf("WARNING: story %q blocked on unmet dependencies: %s", id, strings.Join(unmet, ", "))
	}
	if len(failed) == 0 && len(orphaned) == 0 && len(blocked) == 0 {
		log.Printf("WARNING: no runnable stories and no running workers")
	}
}

func (l *Loop) occupiedCount() int {
	n := 0
	for _, sl := range l.slots {
		if sl.occupied() {
			n++
		}
	}
	return n
}
