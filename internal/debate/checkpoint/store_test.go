package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/inquest/internal/debate/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newStore(t)

	st := types.RuntimeState{
		SessionID: "sess-1",
		Status:    types.StatusRunning,
		Round:     2,
		Turns: []types.Turn{
			{
				Round:      1,
				Phase:      types.PhaseAnalysis,
				AgentName:  "infra-analyst",
				Confidence: 0.71,
				Output:     map[string]interface{}{"conclusion": "packet loss on eth0"},
			},
		},
		Checkpoints: []types.RoundCheckpoint{
			{Round: 1, DiscussionSteps: 4, CreatedAt: time.Now().UTC()},
		},
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveState(st))

	loaded, err := store.LoadState("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", loaded.SessionID)
	require.Len(t, loaded.Turns, 1)
	assert.Equal(t, "infra-analyst", loaded.Turns[0].AgentName)
	assert.Equal(t, 0.71, loaded.Turns[0].Confidence)
	assert.Equal(t, "packet loss on eth0", loaded.Turns[0].Output["conclusion"])
}

func TestLoadStateNotFound(t *testing.T) {
	store := newStore(t)
	_, err := store.LoadState("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusWithoutReplay(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.SaveState(types.RuntimeState{
		SessionID:     "sess-2",
		Status:        types.StatusFailed,
		FailureReason: "authentication rejected",
	}))

	status, err := store.Status("sess-2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, status)
}

func TestVerdictSurvivesRoundTrip(t *testing.T) {
	store := newStore(t)

	verdict := &types.FinalVerdict{
		RootCause:  "connection pool exhaustion",
		Summary:    "pool size 10 under 400 rps",
		Confidence: 0.84,
		ProducedBy: "judge",
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.SaveState(types.RuntimeState{
		SessionID: "sess-3",
		Status:    types.StatusCompleted,
		Verdict:   verdict,
	}))

	loaded, err := store.LoadState("sess-3")
	require.NoError(t, err)
	require.NotNil(t, loaded.Verdict)
	assert.Equal(t, verdict.RootCause, loaded.Verdict.RootCause)
	assert.Equal(t, verdict.Confidence, loaded.Verdict.Confidence)
}

func TestTaskRegistryLifecycle(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.RegisterSession("a"))
	require.NoError(t, store.RegisterSession("b"))
	require.NoError(t, store.SetSessionStatus("a", types.StatusCompleted))

	running, err := store.InFlightSessions()
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "b", running[0].SessionID)

	all, err := store.Sessions()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCorruptRegistryStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.json"), []byte("{not json"), 0o600))

	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.RegisterSession("fresh"))
	running, err := store.InFlightSessions()
	require.NoError(t, err)
	assert.Len(t, running, 1)
}

func TestEventLogPath(t *testing.T) {
	store := newStore(t)
	path := store.EventLogPath("sess-9")
	assert.Equal(t, "sess-9.events.jsonl", filepath.Base(path))
}
