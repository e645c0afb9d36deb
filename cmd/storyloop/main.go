package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes. Interrupted runs use 130 so shell scripts can tell a
// Ctrl+C apart from a stalled or exhausted run.
const (
	exitOK          = 0
	exitIncomplete  = 1
	exitInterrupted = 130
)

var exitCode = exitOK

var rootCmd = &cobra.Command{
	Use:   "storyloop [prd.json]",
	Short: "Drive a story document to completion with agent CLI workers",
	Long: `Storyloop reads a story document (prd.json), dispatches pending
stories to agent CLI workers in dependency order, classifies each
worker's outcome from its log, and repeats until every story is
completed or no progress is possible. Interrupting a run resets
in-flight stories to pending so the next invocation resumes cleanly.`,
	Args:          cobra.MaximumNArgs(1),
	RunE:          runRoot,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagAgent         string
	flagParallel      int
	flagMaxIterations int
	flagPollSeconds   int
	flagPlain         bool
)

func init() {
	rootCmd.Flags().StringVar(&flagAgent, "agent", "", "agent provider to use (overrides config)")
	rootCmd.Flags().IntVar(&flagParallel, "parallel", 0, "concurrent worker slots (overrides config)")
	rootCmd.Flags().IntVar(&flagMaxIterations, "max-iterations", 0, "scheduler iteration cap (overrides config)")
	rootCmd.Flags().IntVar(&flagPollSeconds, "poll-seconds", 0, "completion poll interval in seconds (overrides config)")
	rootCmd.Flags().BoolVar(&flagPlain, "plain", false, "log to stdout instead of the TUI")

	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitCode = exitIncomplete
	}
	os.Exit(exitCode)
}
