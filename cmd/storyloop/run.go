package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/storyloop/internal/config"
	"github.com/aristath/storyloop/internal/events"
	"github.com/aristath/storyloop/internal/persistence"
	"github.com/aristath/storyloop/internal/resolver"
	"github.com/aristath/storyloop/internal/scheduler"
	"github.com/aristath/storyloop/internal/statestore"
	"github.com/aristath/storyloop/internal/story"
	"github.com/aristath/storyloop/internal/tui"
	"github.com/aristath/storyloop/internal/worker"
)

var styleSummary = lipgloss.NewStyle().Bold(true).Padding(0, 1)

func runRoot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagParallel < 0 || flagMaxIterations < 0 || flagPollSeconds < 0 {
		return fmt.Errorf("--parallel, --max-iterations and --poll-seconds must be positive")
	}

	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg)

	// The TUI needs a terminal; piped output gets plain log lines.
	plainMode := flagPlain || !isatty.IsTerminal(os.Stdout.Fd())

	docPath, err := resolveDocPath(args)
	if err != nil {
		return err
	}

	store := statestore.New(docPath)
	doc, err := store.Load()
	if err != nil {
		return fmt.Errorf("reading story document %s: %w", docPath, err)
	}

	preflight(doc)

	if doc.AllDone() {
		fmt.Println(styleSummary.Render(fmt.Sprintf("All %d stories already completed, nothing to do.", len(doc.Stories))))
		return nil
	}

	provider, ok := cfg.Providers[cfg.Agent]
	if !ok {
		return fmt.Errorf("unknown agent %q: configure it under providers", cfg.Agent)
	}
	if _, err := exec.LookPath(provider.Command); err != nil {
		return fmt.Errorf("agent CLI %q not found in PATH: %w", provider.Command, err)
	}

	pm := worker.NewProcessManager()
	defer pm.KillAll()

	bus := events.NewBus()

	var rec scheduler.Recorder = scheduler.NopRecorder{}
	history, err := persistence.NewSQLiteStore(ctx, cfg.Paths.HistoryDB)
	if err != nil {
		log.Printf("WARNING: run history disabled: %v", err)
	} else {
		defer history.Close()
		rec = history
	}

	parallel := cfg.Scheduler.Parallel > 1
	sup := worker.NewSupervisor(store, provider, cfg.Classifier, cfg.Paths.LogDir, parallel, pm)
	classifier := worker.NewKeywordClassifier(cfg.Classifier.FailureKeywords)

	loop := scheduler.New(store, sup, classifier, bus, rec, scheduler.Config{
		RunID:            uuid.NewString(),
		Capacity:         cfg.Scheduler.Parallel,
		MaxIterations:    cfg.Scheduler.MaxIterations,
		PollInterval:     time.Duration(cfg.Scheduler.PollSeconds) * time.Second,
		CompletionMarker: cfg.Classifier.CompletionMarker,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The TUI model subscribes to the bus here, before the loop starts
	// publishing, so no early dispatch event is missed.
	var p *tea.Program
	if !plainMode {
		// Scheduler log lines would tear the alternate screen; park them
		// in a file next to the worker logs for the duration of the run.
		if f, err := openRunLog(cfg.Paths.LogDir); err == nil {
			log.SetOutput(f)
			defer func() {
				log.SetOutput(os.Stderr)
				f.Close()
			}()
		}
		p = tea.NewProgram(tui.New(bus), tea.WithAltScreen())
	}

	var outcome scheduler.Outcome
	loopDone := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer close(loopDone)
		var runErr error
		outcome, runErr = loop.Run(runCtx)
		return runErr
	})

	if p != nil {
		// The run-finished event normally quits the TUI; this covers a
		// dropped event when the subscriber buffer is full.
		go func() {
			<-loopDone
			p.Quit()
		}()
		g.Go(func() error {
			final, err := p.Run()
			if m, ok := final.(tui.Model); ok && m.UserQuit() {
				cancel()
			}
			return err
		})
	}

	err = g.Wait()
	bus.Close()
	if err != nil {
		return err
	}

	printSummary(store, outcome, cfg.Paths.LogDir)

	switch outcome {
	case scheduler.OutcomeAllDone:
		exitCode = exitOK
	case scheduler.OutcomeInterrupted:
		exitCode = exitInterrupted
	default:
		exitCode = exitIncomplete
	}
	return nil
}

func openRunLog(logDir string) (*os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(logDir, "scheduler.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// applyFlagOverrides layers command-line flags over the merged config,
// the same way the project config layers over the global one.
func applyFlagOverrides(cfg *config.Config) {
	if flagAgent != "" {
		cfg.Agent = flagAgent
	}
	if flagParallel > 0 {
		cfg.Scheduler.Parallel = flagParallel
	}
	if flagMaxIterations > 0 {
		cfg.Scheduler.MaxIterations = flagMaxIterations
	}
	if flagPollSeconds > 0 {
		cfg.Scheduler.PollSeconds = flagPollSeconds
	}
}

// preflight reports document problems that do not prevent a run.
func preflight(doc *story.Document) {
	if doc.BranchName == "" {
		log.Printf("WARNING: document has no branchName; workers will use the current branch")
	}
	if err := resolver.Validate(doc); err != nil {
		log.Printf("WARNING: %v", err)
	}
}

func printSummary(store *statestore.Store, outcome scheduler.Outcome, logDir string) {
	doc, err := store.Load()
	if err != nil {
		return
	}
	counts := statestore.Census(doc)
	line := fmt.Sprintf("%s: %d/%d stories completed", outcome, counts.Completed, counts.Total)
	if counts.Failed > 0 {
		line += fmt.Sprintf(", %d failed", counts.Failed)
	}
	fmt.Println(styleSummary.Render(line))
	fmt.Printf("  worker logs: %s\n", logDir)
}
