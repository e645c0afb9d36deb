package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/aristath/storyloop/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestPickDocument(t *testing.T) {
	tests := []struct {
		name        string
		files       map[string]string
		want        string
		wantErr     bool
		errContains string
	}{
		{
			name: "single story document",
			files: map[string]string{
				"prd.json": `{"userStories": [{"id": "a"}]}`,
			},
			want: "prd.json",
		},
		{
			name: "unrelated json skipped",
			files: map[string]string{
				"prd.json":      `{"userStories": [{"id": "a"}]}`,
				"tsconfig.json": `{"compilerOptions": {}}`,
				"broken.json":   `{not json`,
			},
			want: "prd.json",
		},
		{
			name:        "no candidates",
			files:       map[string]string{"notes.json": `{"a": 1}`},
			wantErr:     true,
			errContains: "no story document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeFile(t, filepath.Join(dir, name), content)
			}

			got, err := pickDocument(dir)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("pickDocument: %v", err)
			}
			if filepath.Base(got) != tt.want {
				t.Errorf("picked %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveDocPathPrefersArgument(t *testing.T) {
	got, err := resolveDocPath([]string{"custom/prd.json"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "custom/prd.json" {
		t.Errorf("got %s, want custom/prd.json", got)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	origAgent, origParallel, origMax := flagAgent, flagParallel, flagMaxIterations
	t.Cleanup(func() {
		flagAgent, flagParallel, flagMaxIterations = origAgent, origParallel, origMax
	})

	cfg := config.DefaultConfig()
	flagAgent = "codex"
	flagParallel = 3
	flagMaxIterations = 0 // unset flags leave config alone

	applyFlagOverrides(cfg)

	if cfg.Agent != "codex" {
		t.Errorf("Agent = %q, want codex", cfg.Agent)
	}
	if cfg.Scheduler.Parallel != 3 {
		t.Errorf("Parallel = %d, want 3", cfg.Scheduler.Parallel)
	}
	if cfg.Scheduler.MaxIterations != 20 {
		t.Errorf("MaxIterations = %d, want default 20", cfg.Scheduler.MaxIterations)
	}
}

// Interrupt handling relies on signal.NotifyContext cancelling promptly;
// SIGUSR1 stands in for SIGINT so the test runner is not affected.
func TestSignalContextCancellation(t *testing.T) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("sending SIGUSR1: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context did not cancel after SIGUSR1")
	}
}
