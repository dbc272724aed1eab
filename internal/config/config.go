// Package config loads orchestra configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Executor backend tags. Backends implement the same Execute contract; the
// tag selects which implementation the run is wired with.
const (
	BackendLocal  = "local"
	BackendClaude = "claude"
)

// HistoryConfig configures the sqlite execution-history store.
type HistoryConfig struct {
	// Enabled turns the history store on.
	Enabled bool `yaml:"enabled"`

	// DBPath is the path to the history database. Relative paths resolve
	// against the state directory.
	DBPath string `yaml:"db_path"`
}

// Config holds orchestra configuration options.
type Config struct {
	// StateDir is the root directory for run state (contexts, results, logs).
	StateDir string `yaml:"state_dir"`

	// LogLevel sets logging verbosity (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Backend selects the execution backend ("local" or "claude").
	Backend string `yaml:"backend"`

	// DefaultTimeout bounds a single subtask's interaction loop when the
	// subtask does not declare its own timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// DefaultMaxTurns bounds the number of worker turns per subtask when the
	// subtask does not declare its own limit.
	DefaultMaxTurns int `yaml:"default_max_turns"`

	// MaxConcurrency bounds the parallel scheduler's worker pool
	// (0 or 1 = sequential).
	MaxConcurrency int `yaml:"max_concurrency"`

	// SkipAnalysis skips the decomposition-analysis phase; used when a
	// predefined subtask file is supplied.
	SkipAnalysis bool `yaml:"skip_analysis"`

	// ClaudePath is the claude CLI binary used by the claude backend.
	ClaudePath string `yaml:"claude_path"`

	// History configures the execution-history store.
	History HistoryConfig `yaml:"history"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		StateDir:        ".orchestra",
		LogLevel:        "info",
		Backend:         BackendLocal,
		DefaultTimeout:  500 * time.Second,
		DefaultMaxTurns: 3,
		MaxConcurrency:  1,
		SkipAnalysis:    false,
		ClaudePath:      "claude",
		History: HistoryConfig{
			Enabled: true,
			DBPath:  "history.db",
		},
	}
}

// LoadConfig loads configuration from the given path. A missing file yields
// the defaults without error; a malformed file is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Temporary struct so duration fields accept Go duration strings.
	type yamlConfig struct {
		StateDir        string        `yaml:"state_dir"`
		LogLevel        string        `yaml:"log_level"`
		Backend         string        `yaml:"backend"`
		DefaultTimeout  string        `yaml:"default_timeout"`
		DefaultMaxTurns *int          `yaml:"default_max_turns"`
		MaxConcurrency  *int          `yaml:"max_concurrency"`
		SkipAnalysis    *bool         `yaml:"skip_analysis"`
		ClaudePath      string        `yaml:"claude_path"`
		History         HistoryConfig `yaml:"history"`
	}

	var raw yamlConfig
	raw.History = cfg.History
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if raw.StateDir != "" {
		cfg.StateDir = raw.StateDir
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	if raw.Backend != "" {
		cfg.Backend = raw.Backend
	}
	if raw.DefaultTimeout != "" {
		d, err := time.ParseDuration(raw.DefaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse default_timeout: %w", err)
		}
		cfg.DefaultTimeout = d
	}
	if raw.DefaultMaxTurns != nil {
		cfg.DefaultMaxTurns = *raw.DefaultMaxTurns
	}
	if raw.MaxConcurrency != nil {
		cfg.MaxConcurrency = *raw.MaxConcurrency
	}
	if raw.SkipAnalysis != nil {
		cfg.SkipAnalysis = *raw.SkipAnalysis
	}
	if raw.ClaudePath != "" {
		cfg.ClaudePath = raw.ClaudePath
	}
	cfg.History = raw.History

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal, BackendClaude:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be positive")
	}
	if c.DefaultMaxTurns <= 0 {
		return fmt.Errorf("default_max_turns must be positive")
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must not be negative")
	}
	return nil
}
