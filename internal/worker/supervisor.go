// Package worker launches and monitors one external agent process per
// story, with sentinel-file completion signaling.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/storyloop/internal/config"
	"github.com/aristath/storyloop/internal/statestore"
	"github.com/aristath/storyloop/internal/story"
)

// ErrNotPending is returned by Start when the story was claimed by
// another scheduler pass between Scan and Dispatch.
var ErrNotPending = errors.New("story is not pending")

// ErrAgentUnavailable is returned when the spawn circuit breaker is
// open: the agent CLI has failed to launch repeatedly and the run
// should abort as a configuration error.
var ErrAgentUnavailable = errors.New("agent unavailable: repeated launch failures")

// Handle is the ephemeral binding of a worker slot to its running
// process. Destroyed once the slot's outcome has been classified.
type Handle struct {
	StoryID   string
	Slot      int
	StartedAt time.Time
	LogPath   string

	cmd          interface{ Kill() error } // set for real processes, nil in tests
	sentinelPath string
	promptPath   string
	exited       atomic.Bool
}

// Supervisor launches external agent workers and exposes liveness and
// completion signals for them.
type Supervisor struct {
	store    *statestore.Store
	provider config.ProviderConfig
	logDir   string
	marker   string
	parallel bool
	procs    *ProcessManager
	breaker  *gobreaker.CircuitBreaker
}

// NewSupervisor creates a supervisor.
// parallel controls the isolation note in composed prompts.
func NewSupervisor(store *statestore.Store, provider config.ProviderConfig, cfg config.ClassifierConfig, logDir string, parallel bool, procs *ProcessManager) *Supervisor {
	return &Supervisor{
		store:    store,
		provider: provider,
		logDir:   logDir,
		marker:   cfg.CompletionMarker,
		parallel: parallel,
		procs:    procs,
		breaker:  newSpawnBreaker(provider.Command),
	}
}

// newSpawnBreaker builds the launch circuit breaker for one provider.
// Spawn failures mean the agent binary or its environment is broken;
// after a few in a row there is no point dispatching further stories.
func newSpawnBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("WARNING: agent launch breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Cancellation is the operator's doing, not the agent's.
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
}

// Start transitions the story to in_progress in the state store, then
// launches the agent process for it. Returns immediately after launch;
// completion is observed via IsDone. The in_progress write happens
// before the launch so a concurrent scheduler pass observing the same
// document cannot re-dispatch the story.
func (s *Supervisor) Start(ctx context.Context, st story.Story, slot int) (*Handle, error) {
	if _, err := s.store.Mutate(func(d *story.Document) error {
		rec := d.Find(st.ID)
		if rec == nil {
			return fmt.Errorf("story %q not in document", st.ID)
		}
		if rec.Status != story.StatusPending {
			return fmt.Errorf("%w: %q is %s", ErrNotPending, st.ID, rec.Status)
		}
		rec.Status = story.StatusInProgress
		return nil
	}); err != nil {
		return nil, err
	}

	h, err := s.launch(ctx, st, slot)
	if err != nil {
		// Undo the claim so the story is re-offered on the next scan.
		if _, resetErr := s.store.Mutate(func(d *story.Document) error {
			if rec := d.Find(st.ID); rec != nil && rec.Status == story.StatusInProgress {
				rec.Status = story.StatusPending
			}
			return nil
		}); resetErr != nil {
			log.Printf("ERROR: failed to reset story %q after launch failure: %v", st.ID, resetErr)
		}
		return nil, err
	}
	return h, nil
}

// launch composes the prompt, prepares the slot's log and sentinel,
// and starts the agent through a shell wrapper. The wrapper appends
// all output to the slot log and touches the sentinel when the agent
// exits, giving a completion signal that survives even if this
// coordinator dies before cmd.Wait returns.
func (s *Supervisor) launch(ctx context.Context, st story.Story, slot int) (*Handle, error) {
	if err := os.MkdirAll(s.logDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(s.logDir, fmt.Sprintf("slot-%d.log", slot))
	sentinelPath := SentinelPath(s.logDir, slot)
	promptPath := filepath.Join(s.logDir, fmt.Sprintf("slot-%d.prompt.txt", slot))

	// Stale sentinel from a crashed run must not read as completion.
	if err := os.Remove(sentinelPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale sentinel: %w", err)
	}

	prompt := ComposePrompt(s.store.Path(), st, s.parallel, s.marker)
	if err := os.WriteFile(promptPath, []byte(prompt), 0644); err != nil {
		return nil, fmt.Errorf("writing prompt file: %w", err)
	}

	// Truncate the slot log so classification only sees this story's output.
	header := fmt.Sprintf("=== story %s (slot %d) %s ===\n", st.ID, slot, time.Now().Format(time.RFC3339))
	if err := os.WriteFile(logPath, []byte(header), 0644); err != nil {
		return nil, fmt.Errorf("truncating slot log: %w", err)
	}

	script := s.wrapperScript(promptPath, logPath, sentinelPath)
	cmd := newCommand(ctx, "sh", "-c", script)

	if _, err := s.breaker.Execute(func() (interface{}, error) {
		if _, lookErr := exec.LookPath(s.provider.Command); lookErr != nil {
			return nil, lookErr
		}
		return nil, cmd.Start()
	}); err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w (provider %q)", ErrAgentUnavailable, s.provider.Command)
		}
		return nil, fmt.Errorf("launching %s: %w", s.provider.Command, err)
	}

	s.procs.Track(cmd)

	h := &Handle{
		StoryID:      st.ID,
		Slot:         slot,
		StartedAt:    time.Now(),
		LogPath:      logPath,
		sentinelPath: sentinelPath,
		promptPath:   promptPath,
		cmd:          processHandle{cmd: cmd},
	}

	go func() {
		_ = cmd.Wait()
		s.procs.Untrack(cmd)
		h.exited.Store(true)
	}()

	return h, nil
}

// wrapperScript builds the sh -c payload: run the agent with the
// prompt, stream everything into the slot log, touch the sentinel on
// exit, preserve the agent's exit code.
func (s *Supervisor) wrapperScript(promptPath, logPath, sentinelPath string) string {
	parts := []string{shellQuote(s.provider.Command)}
	for _, a := range s.provider.Args {
		parts = append(parts, shellQuote(a))
	}
	if s.provider.PromptFlag != "" {
		parts = append(parts, shellQuote(s.provider.PromptFlag))
	}
	parts = append(parts, fmt.Sprintf(`"$(cat %s)"`, shellQuote(promptPath)))

	return fmt.Sprintf("%s >> %s 2>&1; rc=$?; : > %s; exit $rc",
		strings.Join(parts, " "), shellQuote(logPath), shellQuote(sentinelPath))
}

// IsDone reports whether the slot's worker has finished: either the
// sentinel marker exists or the OS observed process exit. Non-blocking.
func (s *Supervisor) IsDone(h *Handle) bool {
	if h.exited.Load() {
		return true
	}
	_, err := os.Stat(h.sentinelPath)
	return err == nil
}

// Outcome returns the finished worker's captured log and whether
// OS-level exit was observed.
func (s *Supervisor) Outcome(h *Handle) (Outcome, error) {
	data, err := os.ReadFile(h.LogPath)
	if err != nil && !os.IsNotExist(err) {
		return Outcome{}, fmt.Errorf("reading slot log: %w", err)
	}
	return Outcome{
		Log:           string(data),
		ProcessExited: h.exited.Load(),
	}, nil
}

// Release removes the slot's sentinel marker and prompt file after
// classification. The log stays on disk for inspection.
func (s *Supervisor) Release(h *Handle) {
	if err := os.Remove(h.sentinelPath); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: failed to remove sentinel for slot %d: %v", h.Slot, err)
	}
	if err := os.Remove(h.promptPath); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: failed to remove prompt file for slot %d: %v", h.Slot, err)
	}
}

// Kill terminates the slot's worker process group.
func (s *Supervisor) Kill(h *Handle) {
	if h.cmd == nil {
		return
	}
	if err := h.cmd.Kill(); err != nil && !h.exited.Load() {
		log.Printf("WARNING: failed to kill worker for story %q: %v", h.StoryID, err)
	}
}

// KillAll terminates every tracked worker process group.
func (s *Supervisor) KillAll() {
	if err := s.procs.KillAll(); err != nil {
		log.Printf("ERROR: killing workers: %v", err)
	}
}

// SentinelPath returns the sentinel marker path for a slot.
func SentinelPath(logDir string, slot int) string {
	return filepath.Join(logDir, fmt.Sprintf("slot-%d.done", slot))
}

// shellQuote wraps s in single quotes, escaping embedded single quotes
// so the value survives sh -c verbatim.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
