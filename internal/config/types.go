package config

// ProviderConfig defines how to invoke one agent CLI.
// Multiple providers can be configured; Agent selects the active one.
type ProviderConfig struct {
	Command    string   `json:"command"`               // CLI binary name (e.g., "claude", "codex", "goose")
	Args       []string `json:"args,omitempty"`        // Args placed before the prompt
	PromptFlag string   `json:"prompt_flag,omitempty"` // Flag carrying the prompt; empty means positional
}

// SchedulerConfig holds the scheduler loop knobs.
type SchedulerConfig struct {
	Parallel      int `json:"parallel"`       // Concurrent worker slots
	MaxIterations int `json:"max_iterations"` // Hard iteration cap per run
	PollSeconds   int `json:"poll_seconds"`   // Completion-detection poll interval
}

// ClassifierConfig holds the outcome classification knobs.
type ClassifierConfig struct {
	FailureKeywords  []string `json:"failure_keywords,omitempty"`  // Case-insensitive substrings marking failure
	CompletionMarker string   `json:"completion_marker,omitempty"` // Literal token the agent emits when all work is done
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	LogDir    string `json:"log_dir"`    // Per-slot worker logs and sentinel markers
	HistoryDB string `json:"history_db"` // SQLite run-history database
}

// Config is the top-level configuration.
type Config struct {
	Agent      string                    `json:"agent"` // Key into Providers
	Providers  map[string]ProviderConfig `json:"providers"`
	Scheduler  SchedulerConfig           `json:"scheduler"`
	Classifier ClassifierConfig          `json:"classifier"`
	Paths      PathsConfig               `json:"paths"`
}
