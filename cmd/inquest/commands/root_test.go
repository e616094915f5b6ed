package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevelFlags(t *testing.T) {
	defaultLevel, packages, err := parseLogLevelFlags([]string{"debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", defaultLevel)
	assert.Empty(t, packages)

	defaultLevel, packages, err = parseLogLevelFlags([]string{
		"default=warn", "debate.supervisor=debug", "tools=error",
	})
	require.NoError(t, err)
	assert.Equal(t, "warn", defaultLevel)
	assert.Equal(t, map[string]string{
		"debate.supervisor": "debug",
		"tools":             "error",
	}, packages)

	_, _, err = parseLogLevelFlags([]string{"loud"})
	require.Error(t, err)
}

func TestParseLogLevelFlagsCLIOverridesEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL_DEBATE_ENGINE", "debug")

	_, packages, err := parseLogLevelFlags([]string{"debate.engine=warn"})
	require.NoError(t, err)
	assert.Equal(t, "warn", packages["debate.engine"])
}

func TestConvertEnvKeyToPackageName(t *testing.T) {
	assert.Equal(t, "debate.supervisor", convertEnvKeyToPackageName("LOG_LEVEL_DEBATE_SUPERVISOR"))
	assert.Equal(t, "tools", convertEnvKeyToPackageName("LOG_LEVEL_TOOLS"))
}

func TestParseContext(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "incident.yaml")
	require.NoError(t, os.WriteFile(file, []byte("service: checkout\nregion: eu-west-1\n"), 0o600))

	out, err := parseContext(file, []string{"region=us-east-1", "symptom=timeouts"})
	require.NoError(t, err)
	assert.Equal(t, "checkout", out["service"])
	// Command-line pairs override file values.
	assert.Equal(t, "us-east-1", out["region"])
	assert.Equal(t, "timeouts", out["symptom"])

	_, err = parseContext("", nil)
	require.Error(t, err)

	_, err = parseContext("", []string{"not-a-pair"})
	require.Error(t, err)
}
