package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aristath/storyloop/internal/config"
)

var flagConfigGlobal bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage storyloop configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current effective settings",
	Long: `Writes the merged configuration (defaults, global, project) to
.storyloop/config.json so it can be edited. With --global the file is
written to ~/.storyloop/config.json instead.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&flagConfigGlobal, "global", false, "write the global config instead of the project one")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}

	path := filepath.Join(".storyloop", "config.json")
	if flagConfigGlobal {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".storyloop", "config.json")
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; edit it directly", path)
	}

	if err := config.Save(cfg, path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
