package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global
// config, defaults. Missing files are not errors; malformed JSON is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.storyloop/config.json
// Project: .storyloop/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".storyloop", "config.json")
	projectPath := filepath.Join(".storyloop", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Missing files are silently skipped. Only fields the file
// actually sets override the base.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Agent != "" {
		base.Agent = loaded.Agent
	}
	for key, provider := range loaded.Providers {
		base.Providers[key] = provider
	}

	if loaded.Scheduler.Parallel > 0 {
		base.Scheduler.Parallel = loaded.Scheduler.Parallel
	}
	if loaded.Scheduler.MaxIterations > 0 {
		base.Scheduler.MaxIterations = loaded.Scheduler.MaxIterations
	}
	if loaded.Scheduler.PollSeconds > 0 {
		base.Scheduler.PollSeconds = loaded.Scheduler.PollSeconds
	}

	if len(loaded.Classifier.FailureKeywords) > 0 {
		base.Classifier.FailureKeywords = loaded.Classifier.FailureKeywords
	}
	if loaded.Classifier.CompletionMarker != "" {
		base.Classifier.CompletionMarker = loaded.Classifier.CompletionMarker
	}

	if loaded.Paths.LogDir != "" {
		base.Paths.LogDir = loaded.Paths.LogDir
	}
	if loaded.Paths.HistoryDB != "" {
		base.Paths.HistoryDB = loaded.Paths.HistoryDB
	}

	return nil
}
