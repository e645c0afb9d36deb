package config

// DefaultConfig returns the default configuration with built-in agent
// providers and scheduler settings.
func DefaultConfig() *Config {
	return &Config{
		Agent: "claude",
		Providers: map[string]ProviderConfig{
			"claude": {
				Command:    "claude",
				Args:       []string{"--output-format", "text", "--dangerously-skip-permissions"},
				PromptFlag: "-p",
			},
			"codex": {
				Command: "codex",
				Args:    []string{"exec"},
			},
			"goose": {
				Command:    "goose",
				Args:       []string{"run"},
				PromptFlag: "-t",
			},
		},
		Scheduler: SchedulerConfig{
			Parallel:      5,
			MaxIterations: 20,
			PollSeconds:   10,
		},
		Classifier: ClassifierConfig{
			FailureKeywords:  []string{"error", "failed", "exception"},
			CompletionMarker: "ALL_STORIES_COMPLETE",
		},
		Paths: PathsConfig{
			LogDir:    ".storyloop/logs",
			HistoryDB: ".storyloop/history.db",
		},
	}
}
