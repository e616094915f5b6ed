// Package config defines the application configuration, its YAML loader,
// and the file watcher that hot-reloads routing thresholds.
package config

import (
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// DataDir is the directory where checkpoints and event logs are stored.
	DataDir string `yaml:"data_dir"`

	// LogLevel is the logging level (debug, info, warn, error, fatal).
	LogLevel string `yaml:"log_level"`

	// EvidenceDir optionally points at a directory of evidence files the
	// capability tools serve instead of their canned data.
	EvidenceDir string `yaml:"evidence_dir"`

	Provider ProviderConfig `yaml:"provider"`
	Debate   DebateConfig   `yaml:"debate"`
	Routing  RoutingConfig  `yaml:"routing"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ProviderConfig selects and tunes the model backend.
type ProviderConfig struct {
	// Model is the backend model identifier. The prefix "mock:" selects
	// the scripted mock provider; the rest of the value is the scenario
	// file path.
	Model string `yaml:"model"`

	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// DebateConfig holds the per-session budgets and feature toggles.
type DebateConfig struct {
	MaxDiscussionSteps int           `yaml:"max_discussion_steps"`
	MaxRounds          int           `yaml:"max_rounds"`
	ConsensusThreshold float64       `yaml:"consensus_threshold"`
	SessionBudget      time.Duration `yaml:"session_budget"`
	EnableCritique     bool          `yaml:"enable_critique"`
	DynamicRouting     bool          `yaml:"dynamic_routing"`
}

// RoutingConfig holds the supervisor thresholds. This section is
// hot-reloadable; see Watcher.
type RoutingConfig struct {
	RepetitionCap    int     `yaml:"repetition_cap"`
	SettleConfidence float64 `yaml:"settle_confidence"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	TLSCAPath   string `yaml:"tls_ca_path"`
	TLSInsecure bool   `yaml:"tls_insecure"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		DataDir:  "data",
		LogLevel: "info",
		Provider: ProviderConfig{
			Model:       "claude-sonnet-4-5-20250929",
			MaxTokens:   4096,
			Temperature: 0.0,
		},
		Debate: DebateConfig{
			MaxDiscussionSteps: 24,
			MaxRounds:          3,
			ConsensusThreshold: 0.75,
			SessionBudget:      15 * time.Minute,
			EnableCritique:     true,
			DynamicRouting:     true,
		},
		Routing: RoutingConfig{
			RepetitionCap:    2,
			SettleConfidence: 0.8,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return NewConfigError("data_dir must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return NewConfigError("log_level must be one of debug, info, warn, error, fatal")
	}
	if c.Provider.Model == "" {
		return NewConfigError("provider.model must not be empty")
	}
	if c.Provider.MaxTokens < 1 {
		return NewConfigError("provider.max_tokens must be at least 1")
	}
	if c.Debate.MaxDiscussionSteps < 1 {
		return NewConfigError("debate.max_discussion_steps must be at least 1")
	}
	if c.Debate.MaxRounds < 1 {
		return NewConfigError("debate.max_rounds must be at least 1")
	}
	if c.Debate.ConsensusThreshold <= 0 || c.Debate.ConsensusThreshold > 1 {
		return NewConfigError("debate.consensus_threshold must be in (0, 1]")
	}
	if c.Debate.SessionBudget <= 0 {
		return NewConfigError("debate.session_budget must be positive")
	}
	if c.Routing.RepetitionCap < 1 {
		return NewConfigError("routing.repetition_cap must be at least 1")
	}
	if c.Routing.SettleConfidence <= 0 || c.Routing.SettleConfidence > 1 {
		return NewConfigError("routing.settle_confidence must be in (0, 1]")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}
	return nil
}

// ConfigError represents a configuration error.
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message.
func (e *ConfigError) Error() string {
	return e.message
}
