package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"empty model", func(c *Config) { c.Provider.Model = "" }, "provider.model"},
		{"zero steps", func(c *Config) { c.Debate.MaxDiscussionSteps = 0 }, "max_discussion_steps"},
		{"zero rounds", func(c *Config) { c.Debate.MaxRounds = 0 }, "max_rounds"},
		{"threshold above one", func(c *Config) { c.Debate.ConsensusThreshold = 1.5 }, "consensus_threshold"},
		{"zero budget", func(c *Config) { c.Debate.SessionBudget = 0 }, "session_budget"},
		{"zero repetition cap", func(c *Config) { c.Routing.RepetitionCap = 0 }, "repetition_cap"},
		{"settle out of range", func(c *Config) { c.Routing.SettleConfidence = 0 }, "settle_confidence"},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }, "tracing.endpoint"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inquest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/inquest
log_level: debug
debate:
  max_rounds: 5
  session_budget: 30m
routing:
  settle_confidence: 0.9
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/inquest", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Debate.MaxRounds)
	assert.Equal(t, 30*time.Minute, cfg.Debate.SessionBudget)
	assert.Equal(t, 0.9, cfg.Routing.SettleConfidence)

	// Untouched sections keep their defaults.
	assert.Equal(t, 24, cfg.Debate.MaxDiscussionSteps)
	assert.Equal(t, 2, cfg.Routing.RepetitionCap)
}

func TestLoadFileRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "debate:\n  max_rounds: 0\n")
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_rounds")
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
