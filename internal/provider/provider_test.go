package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		recoverable bool
		fatal       bool
	}{
		{
			name:        "recoverable wrapper",
			err:         Recoverable("rate limited", errors.New("429")),
			recoverable: true,
			fatal:       false,
		},
		{
			name:        "fatal wrapper",
			err:         Fatal("authentication rejected", errors.New("401")),
			recoverable: false,
			fatal:       true,
		},
		{
			name:        "deadline exceeded is recoverable",
			err:         context.DeadlineExceeded,
			recoverable: true,
			fatal:       false,
		},
		{
			name:        "plain error is neither",
			err:         errors.New("boom"),
			recoverable: false,
			fatal:       false,
		},
		{
			name:        "nil",
			err:         nil,
			recoverable: false,
			fatal:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.recoverable, IsRecoverable(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := Recoverable("transport error", inner)
	assert.True(t, errors.Is(err, inner))
	assert.Contains(t, err.Error(), "recoverable: transport error")

	ferr := Fatal("bad credentials", nil)
	assert.Equal(t, "fatal: bad credentials", ferr.Error())
}

func TestMockProviderSequentialPlayback(t *testing.T) {
	mock := NewMockProvider(&Scenario{
		Name: "seq",
		Steps: []ScenarioStep{
			{Text: `{"summary": "first"}`},
			{Text: `{"summary": "second"}`},
		},
	})

	resp, err := mock.Invoke(context.Background(), Request{Prompt: "analyze"})
	require.NoError(t, err)
	assert.Equal(t, `{"summary": "first"}`, resp.Text)

	resp, err = mock.Invoke(context.Background(), Request{Prompt: "analyze"})
	require.NoError(t, err)
	assert.Equal(t, `{"summary": "second"}`, resp.Text)

	// Exhausted scenarios degrade to an empty object.
	resp, err = mock.Invoke(context.Background(), Request{Prompt: "analyze"})
	require.NoError(t, err)
	assert.Equal(t, "{}", resp.Text)
}

func TestMockProviderTriggeredSteps(t *testing.T) {
	mock := NewMockProvider(&Scenario{
		Name: "triggers",
		Steps: []ScenarioStep{
			{Trigger: "judge", Text: `{"verdict": "oom"}`, Repeat: true},
			{Text: `{"summary": "default"}`},
		},
	})

	// Trigger matches the system prompt, case-insensitively.
	resp, err := mock.Invoke(context.Background(), Request{System: "You are the Judge.", Prompt: "decide"})
	require.NoError(t, err)
	assert.Equal(t, `{"verdict": "oom"}`, resp.Text)

	// Repeat steps stay active.
	resp, err = mock.Invoke(context.Background(), Request{Prompt: "the judge should rule"})
	require.NoError(t, err)
	assert.Equal(t, `{"verdict": "oom"}`, resp.Text)

	// Non-matching requests fall through to the positional step.
	resp, err = mock.Invoke(context.Background(), Request{Prompt: "analyze logs"})
	require.NoError(t, err)
	assert.Equal(t, `{"summary": "default"}`, resp.Text)
}

func TestMockProviderErrorInjection(t *testing.T) {
	mock := NewMockProvider(&Scenario{
		Name: "failures",
		Steps: []ScenarioStep{
			{Fail: "recoverable", FailMessage: "scripted timeout"},
			{Fail: "fatal"},
		},
	})

	_, err := mock.Invoke(context.Background(), Request{Prompt: "a"})
	require.Error(t, err)
	assert.True(t, IsRecoverable(err))
	assert.Contains(t, err.Error(), "scripted timeout")

	_, err = mock.Invoke(context.Background(), Request{Prompt: "b"})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	content := `name: happy-path
description: two analysts then a judge
steps:
  - trigger: network
    text: '{"summary": "packet loss on eth0"}'
  - text: '{"summary": "no database anomalies"}'
  - trigger: judge
    text: '{"verdict": "network partition"}'
    repeat: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "happy-path", scenario.Name)
	require.Len(t, scenario.Steps, 3)
	assert.Equal(t, "network", scenario.Steps[0].Trigger)
	assert.True(t, scenario.Steps[2].Repeat)
}

func TestLoadScenarioRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: empty\nsteps: []\n"), 0o600))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no steps")
}

func TestBuildSystemPrompt(t *testing.T) {
	req := Request{
		System: "You are an analyst.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"summary": map[string]interface{}{"type": "string"},
			},
		},
	}
	got := buildSystemPrompt(req)
	assert.Contains(t, got, "You are an analyst.")
	assert.Contains(t, got, `"summary"`)

	assert.Equal(t, "plain", buildSystemPrompt(Request{System: "plain"}))
}
