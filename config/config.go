// Package config provides configuration loading and management for forgeloop.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete forgeloop configuration
type Config struct {
	Backends   []BackendConfig  `yaml:"backends"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Iteration  IterationConfig  `yaml:"iteration"`
	Project    ProjectConfig    `yaml:"project"`
	Events     EventsConfig     `yaml:"events"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
}

// BackendConfig names one generation backend. Rank is the position in the
// configured list: earlier entries are preferred.
type BackendConfig struct {
	// Name is the model identifier sent to the provider.
	Name string `yaml:"name"`
	// Provider selects the API adapter (anthropic, ollama, openai).
	Provider string `yaml:"provider"`
	// URL overrides the provider's default endpoint URL.
	URL string `yaml:"url,omitempty"`
}

// DispatcherConfig configures request dispatch and failure handling
type DispatcherConfig struct {
	// MaxRetries is the generic retry budget per logical request.
	// Rate-limit rotations do not consume it.
	MaxRetries int `yaml:"max_retries"`
	// RateCooldown is how long a rate-limited backend is excluded when the
	// failure text carries no recommended wait.
	RateCooldown time.Duration `yaml:"rate_cooldown"`
	// SwitchWait is the pause before rotating to another backend after a
	// rate-limit signal.
	SwitchWait time.Duration `yaml:"switch_wait"`
	// StructuredRetries bounds corrective re-prompt rounds for malformed
	// structured output.
	StructuredRetries int `yaml:"structured_retries"`
	// RequestTimeout bounds a single backend HTTP request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// IterationConfig configures the outer loop and its stop conditions.
// A value of 0 or below disables the corresponding stop predicate.
type IterationConfig struct {
	MaxIterations      int           `yaml:"max_iterations"`
	MaxMinutes         int           `yaml:"max_minutes"`
	StopAfterPasses    int           `yaml:"stop_after_consecutive_passes"`
	StopAfterNoChange  int           `yaml:"stop_after_no_change_iterations"`
	Interval           time.Duration `yaml:"interval"`
	SnapshotKeep       int           `yaml:"snapshot_keep"`
	PushEvery          int           `yaml:"push_every"`
	PromptFileLimit    int           `yaml:"prompt_file_limit"`
	PromptCharsPerFile int           `yaml:"prompt_chars_per_file"`
	EvalLogTailChars   int           `yaml:"eval_log_tail_chars"`
}

// ProjectConfig configures project directory layout
type ProjectConfig struct {
	// Root is the parent directory new projects are bootstrapped into.
	Root string `yaml:"root"`
	// WorkspaceDir is the mutable workspace subdirectory name.
	WorkspaceDir string `yaml:"workspace_dir"`
	// IgnoreGlobs are doublestar patterns excluded from prompt listings
	// and snapshots.
	IgnoreGlobs []string `yaml:"ignore_globs"`
}

// EventsConfig configures the lifecycle event stream
type EventsConfig struct {
	// NATSURL is the NATS server URL (empty = event publishing disabled).
	NATSURL string `yaml:"nats_url"`
	// SubjectPrefix is prepended to lifecycle subjects.
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig configures the Prometheus metrics listener
type MetricsConfig struct {
	// Listen is the metrics HTTP address (empty = disabled).
	Listen string `yaml:"listen"`
}

// EvaluationConfig configures the workspace evaluator
type EvaluationConfig struct {
	// RequiredFile must exist in the workspace for any iteration to pass.
	RequiredFile string `yaml:"required_file"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backends: []BackendConfig{
			{Name: "gemini-2.5-pro", Provider: "openai"},
			{Name: "gemini-2.5-flash", Provider: "openai"},
			{Name: "gemini-2.0-flash", Provider: "openai"},
		},
		Dispatcher: DispatcherConfig{
			MaxRetries:        3,
			RateCooldown:      60 * time.Second,
			SwitchWait:        10 * time.Second,
			StructuredRetries: 2,
			RequestTimeout:    180 * time.Second,
		},
		Iteration: IterationConfig{
			MaxIterations:      100,
			MaxMinutes:         0,
			StopAfterPasses:    0,
			StopAfterNoChange:  0,
			Interval:           0,
			SnapshotKeep:       20,
			PushEvery:          10,
			PromptFileLimit:    20,
			PromptCharsPerFile: 3000,
			EvalLogTailChars:   2000,
		},
		Project: ProjectConfig{
			Root:         "projects",
			WorkspaceDir: "workspace",
			IgnoreGlobs:  []string{".git/**", "snapshots/**"},
		},
		Events: EventsConfig{
			SubjectPrefix: "forgeloop",
		},
		Evaluation: EvaluationConfig{
			RequiredFile: "index.html",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend is required")
	}
	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backends[%d].name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate backend name: %s", b.Name)
		}
		seen[b.Name] = true
		if b.Provider == "" {
			return fmt.Errorf("backends[%d].provider is required", i)
		}
	}
	if c.Dispatcher.MaxRetries < 1 {
		return fmt.Errorf("dispatcher.max_retries must be at least 1")
	}
	if c.Dispatcher.RateCooldown <= 0 {
		return fmt.Errorf("dispatcher.rate_cooldown must be positive")
	}
	if c.Dispatcher.StructuredRetries < 1 {
		return fmt.Errorf("dispatcher.structured_retries must be at least 1")
	}
	if c.Iteration.SnapshotKeep < 1 {
		return fmt.Errorf("iteration.snapshot_keep must be at least 1")
	}
	if c.Project.WorkspaceDir == "" {
		return fmt.Errorf("project.workspace_dir is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if len(other.Backends) > 0 {
		c.Backends = other.Backends
	}

	if other.Dispatcher.MaxRetries != 0 {
		c.Dispatcher.MaxRetries = other.Dispatcher.MaxRetries
	}
	if other.Dispatcher.RateCooldown != 0 {
		c.Dispatcher.RateCooldown = other.Dispatcher.RateCooldown
	}
	if other.Dispatcher.SwitchWait != 0 {
		c.Dispatcher.SwitchWait = other.Dispatcher.SwitchWait
	}
	if other.Dispatcher.StructuredRetries != 0 {
		c.Dispatcher.StructuredRetries = other.Dispatcher.StructuredRetries
	}
	if other.Dispatcher.RequestTimeout != 0 {
		c.Dispatcher.RequestTimeout = other.Dispatcher.RequestTimeout
	}

	if other.Iteration.MaxIterations != 0 {
		c.Iteration.MaxIterations = other.Iteration.MaxIterations
	}
	if other.Iteration.MaxMinutes != 0 {
		c.Iteration.MaxMinutes = other.Iteration.MaxMinutes
	}
	if other.Iteration.StopAfterPasses != 0 {
		c.Iteration.StopAfterPasses = other.Iteration.StopAfterPasses
	}
	if other.Iteration.StopAfterNoChange != 0 {
		c.Iteration.StopAfterNoChange = other.Iteration.StopAfterNoChange
	}
	if other.Iteration.Interval != 0 {
		c.Iteration.Interval = other.Iteration.Interval
	}
	if other.Iteration.SnapshotKeep != 0 {
		c.Iteration.SnapshotKeep = other.Iteration.SnapshotKeep
	}
	if other.Iteration.PushEvery != 0 {
		c.Iteration.PushEvery = other.Iteration.PushEvery
	}
	if other.Iteration.PromptFileLimit != 0 {
		c.Iteration.PromptFileLimit = other.Iteration.PromptFileLimit
	}
	if other.Iteration.PromptCharsPerFile != 0 {
		c.Iteration.PromptCharsPerFile = other.Iteration.PromptCharsPerFile
	}
	if other.Iteration.EvalLogTailChars != 0 {
		c.Iteration.EvalLogTailChars = other.Iteration.EvalLogTailChars
	}

	if other.Project.Root != "" {
		c.Project.Root = other.Project.Root
	}
	if other.Project.WorkspaceDir != "" {
		c.Project.WorkspaceDir = other.Project.WorkspaceDir
	}
	if len(other.Project.IgnoreGlobs) > 0 {
		c.Project.IgnoreGlobs = other.Project.IgnoreGlobs
	}

	if other.Events.NATSURL != "" {
		c.Events.NATSURL = other.Events.NATSURL
	}
	if other.Events.SubjectPrefix != "" {
		c.Events.SubjectPrefix = other.Events.SubjectPrefix
	}

	if other.Metrics.Listen != "" {
		c.Metrics.Listen = other.Metrics.Listen
	}

	if other.Evaluation.RequiredFile != "" {
		c.Evaluation.RequiredFile = other.Evaluation.RequiredFile
	}
}
