package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/aristath/storyloop/internal/config"
	"github.com/aristath/storyloop/internal/persistence"
)

var flagHistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past runs, or the story attempts of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "maximum runs to list")
}

var (
	styleHistoryHeader = lipgloss.NewStyle().Bold(true)
	styleHistoryDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := persistence.NewSQLiteStore(ctx, cfg.Paths.HistoryDB)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer store.Close()

	if len(args) == 1 {
		return printAttempts(ctx, store, args[0])
	}
	return printRuns(ctx, store)
}

func printRuns(ctx context.Context, store *persistence.SQLiteStore) error {
	runs, err := store.ListRuns(ctx, flagHistoryLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	fmt.Println(styleHistoryHeader.Render(fmt.Sprintf("%-36s  %-19s  %-11s  %9s  %8s", "RUN", "STARTED", "OUTCOME", "STORIES", "ATTEMPTS")))
	for _, r := range runs {
		outcome := r.Outcome
		if outcome == "" {
			outcome = "running"
		}
		fmt.Printf("%-36s  %-19s  %-11s  %4d/%-4d  %8d\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), outcome, r.Completed, r.Total, r.Attempts)
	}
	return nil
}

func printAttempts(ctx context.Context, store *persistence.SQLiteStore, runID string) error {
	attempts, err := store.ListAttempts(ctx, runID)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Printf("No attempts recorded for run %s.\n", runID)
		return nil
	}

	fmt.Println(styleHistoryHeader.Render(fmt.Sprintf("%-16s  %4s  %-10s  %s", "STORY", "SLOT", "STATUS", "REASON")))
	for _, a := range attempts {
		fmt.Printf("%-16s  %4d  %-10s  %s\n", a.StoryID, a.Slot, a.Status, a.Reason)
		if a.LogPath != "" {
			fmt.Println(styleHistoryDim.Render("                  log: " + a.LogPath))
		}
	}
	return nil
}
