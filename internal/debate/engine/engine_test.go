package engine

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/inquest/internal/audit"
	"github.com/moolen/inquest/internal/debate/catalog"
	"github.com/moolen/inquest/internal/debate/checkpoint"
	"github.com/moolen/inquest/internal/debate/types"
	"github.com/moolen/inquest/internal/provider"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxDiscussionSteps = 12
	cfg.MaxRounds = 2
	cfg.ConsensusThreshold = 0.75
	cfg.SessionBudget = time.Minute
	cfg.DynamicRouting = false
	return cfg
}

func newTestEngine(t *testing.T, p provider.Provider, cfg Config) (*Engine, *checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)
	eng, err := New(Options{Provider: p, Store: store, Config: cfg})
	require.NoError(t, err)
	return eng, store
}

func runToCompletion(t *testing.T, eng *Engine, sessionID string) types.RuntimeState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, eng.Wait(ctx, sessionID))
	rt, err := eng.GetState(sessionID)
	require.NoError(t, err)
	return rt
}

func analysisStep(trigger, conclusion string, confidence float64) provider.ScenarioStep {
	return provider.ScenarioStep{
		Trigger: trigger,
		Text: `{"summary": "examined the evidence", "conclusion": "` + conclusion +
			`", "evidence_chain": ["log excerpt", "config diff"], "confidence": ` +
			formatFloat(confidence) + `}`,
		Repeat: true,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func TestSessionConvergesOnJudgeVerdict(t *testing.T) {
	scenario := &provider.Scenario{
		Name: "converges",
		Steps: []provider.ScenarioStep{
			analysisStep("infrastructure analyst", "deploy raised the pool size", 0.8),
			analysisStep("application analyst", "checkout holds connections too long", 0.7),
			analysisStep("database analyst", "pool raised past max_connections", 0.9),
			{
				Trigger: "You are the judge",
				Text: `{"root_cause": "connection pool raised past database max_connections",
					"summary": "the deploy at 14:02 raised the checkout pool past the database limit",
					"evidence_chain": ["pool exhausted logs", "60/60 connections held"],
					"confidence": 0.9}`,
			},
		},
	}
	eng, store := newTestEngine(t, provider.NewMockProvider(scenario), testConfig())

	id, err := eng.StartSession(context.Background(), "", map[string]interface{}{
		"service": "checkout", "symptom": "latency spike and 5xx",
	})
	require.NoError(t, err)

	rt := runToCompletion(t, eng, id)
	assert.Equal(t, types.StatusCompleted, rt.Status)
	require.NotNil(t, rt.Verdict)
	assert.Equal(t, "connection pool raised past database max_connections", rt.Verdict.RootCause)
	assert.Equal(t, catalog.Judge, rt.Verdict.ProducedBy)
	assert.False(t, rt.Verdict.Degraded)
	assert.InDelta(t, 0.9, rt.Verdict.Confidence, 0.001)

	// One analysis fan-out plus the judge; consensus stops round one.
	require.Len(t, rt.Turns, 4)
	for i, turn := range rt.Turns {
		assert.Equal(t, i+1, turn.Round)
	}
	assert.Equal(t, types.PhaseJudgment, rt.Turns[3].Phase)

	// The judge sees the analysts' broadcasts through its mailbox.
	assert.Contains(t, rt.Turns[3].Prompt, "evidence from "+catalog.InfraAnalyst)

	require.Len(t, rt.Checkpoints, 1)
	assert.NotEmpty(t, rt.Checkpoints[0].Cards)

	status, err := store.Status(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, status)
}

func TestEventLogCoversSessionLifecycle(t *testing.T) {
	// The judge step comes first: the judge's role instruction mentions
	// analysts, so a leading "analyst" trigger would shadow it.
	scenario := &provider.Scenario{
		Name: "events",
		Steps: []provider.ScenarioStep{
			{Trigger: "You are the judge", Text: `{"root_cause": "pool misconfigured", "summary": "s", "confidence": 0.9}`},
			analysisStep("analyst", "pool misconfigured", 0.8),
		},
	}
	eng, store := newTestEngine(t, provider.NewMockProvider(scenario), testConfig())

	id, err := eng.StartSession(context.Background(), "evt-1", nil)
	require.NoError(t, err)
	runToCompletion(t, eng, id)

	events, err := audit.ReadEvents(store.EventLogPath(id))
	require.NoError(t, err)
	require.NotEmpty(t, events)

	assert.Equal(t, audit.EventTypeSessionStart, events[0].Type)
	assert.Equal(t, audit.EventTypeSessionEnd, events[len(events)-1].Type)

	var seen []audit.EventType
	for i, event := range events {
		assert.Equal(t, int64(i+1), event.Sequence)
		seen = append(seen, event.Type)
	}
	assert.Contains(t, seen, audit.EventTypeDecision)
	assert.Contains(t, seen, audit.EventTypeTurnExecuted)
	assert.Contains(t, seen, audit.EventTypeRoundCheckpoint)
	assert.Contains(t, seen, audit.EventTypeConsensus)
	assert.Contains(t, seen, audit.EventTypeFinalization)
}

func TestFallbackVerdictWhenJudgeNeverSettles(t *testing.T) {
	scenario := &provider.Scenario{
		Name: "degraded-judge",
		Steps: []provider.ScenarioStep{
			analysisStep("infrastructure analyst", "deploy raised the pool size", 0.8),
			analysisStep("application analyst", "checkout holds connections too long", 0.7),
			analysisStep("database analyst", "pool raised past max_connections", 0.9),
			{
				Trigger: "You are the judge",
				Text:    "I am not able to reach a verdict on this incident.",
				Repeat:  true,
			},
		},
	}
	eng, _ := newTestEngine(t, provider.NewMockProvider(scenario), testConfig())

	id, err := eng.StartSession(context.Background(), "fallback-1", nil)
	require.NoError(t, err)

	rt := runToCompletion(t, eng, id)
	assert.Equal(t, types.StatusCompleted, rt.Status)
	require.NotNil(t, rt.Verdict)
	assert.True(t, rt.Verdict.Degraded)
	assert.Equal(t, "pool raised past max_connections", rt.Verdict.RootCause)
	assert.Equal(t, catalog.DataAnalyst, rt.Verdict.ProducedBy)
	assert.LessOrEqual(t, rt.Verdict.Confidence, 0.7)

	// Two full rounds: the judge degrades in both, then rounds run out.
	assert.Len(t, rt.Turns, 8)
	assert.Len(t, rt.Checkpoints, 2)
}

func TestFanOutSaturatesStepBudget(t *testing.T) {
	// A three-analyst fan-out against a budget of two: the step counter
	// stops at the cap and the round loop finalizes instead of running on.
	scenario := &provider.Scenario{
		Name: "tight-budget",
		Steps: []provider.ScenarioStep{
			analysisStep("infrastructure analyst", "deploy raised the pool size", 0.8),
			analysisStep("application analyst", "checkout holds connections too long", 0.7),
			analysisStep("database analyst", "pool raised past max_connections", 0.9),
		},
	}
	cfg := testConfig()
	cfg.MaxDiscussionSteps = 2
	cfg.MaxRounds = 1
	eng, _ := newTestEngine(t, provider.NewMockProvider(scenario), cfg)

	id, err := eng.StartSession(context.Background(), "budget-1", nil)
	require.NoError(t, err)

	rt := runToCompletion(t, eng, id)
	assert.Equal(t, types.StatusCompleted, rt.Status)
	assert.Len(t, rt.Turns, 3)
	assert.Equal(t, 2, rt.DiscussionSteps, "counter saturates at the budget")

	require.NotNil(t, rt.Verdict)
	assert.True(t, rt.Verdict.Degraded)
	assert.Equal(t, catalog.DataAnalyst, rt.Verdict.ProducedBy)
}

func TestCommanderDecompositionShapesRound(t *testing.T) {
	// With dynamic routing on, the commander opens the round: it picks the
	// analysts and their shared instruction, and later stops the debate.
	// That stop decision must survive into the persisted decision log.
	scenario := &provider.Scenario{
		Name: "decomposition",
		Steps: []provider.ScenarioStep{
			{
				Trigger: "You are the incident commander",
				Text:    `{"parallel_agents": ["infra-analyst", "data-analyst"], "instruction": "Focus on the shared database"}`,
			},
			{
				Trigger: "You are the incident commander",
				Text:    `{"stop": true, "reason": "the analysts already agree", "confidence": 0.9}`,
				Repeat:  true,
			},
			analysisStep("infrastructure analyst", "pool raised past the database limit", 0.6),
			analysisStep("database analyst", "pool raised past the database limit", 0.7),
		},
	}
	cfg := testConfig()
	cfg.DynamicRouting = true
	eng, store := newTestEngine(t, provider.NewMockProvider(scenario), cfg)

	id, err := eng.StartSession(context.Background(), "decomp-1", nil)
	require.NoError(t, err)

	rt := runToCompletion(t, eng, id)
	assert.Equal(t, types.StatusCompleted, rt.Status)

	// Commander plan, two analysts, commander stop. The application
	// analyst was left out of the decomposition and never runs.
	require.Len(t, rt.Turns, 4)
	for _, turn := range rt.Turns {
		assert.NotEqual(t, catalog.AppAnalyst, turn.AgentName)
	}
	assert.Equal(t, catalog.Commander, rt.Turns[0].AgentName)
	assert.Contains(t, rt.Turns[1].Prompt, "Focus on the shared database")

	persisted, err := store.LoadState(id)
	require.NoError(t, err)
	require.NotNil(t, persisted.Debate)
	require.NotEmpty(t, persisted.Debate.DecisionLog)
	last := persisted.Debate.DecisionLog[len(persisted.Debate.DecisionLog)-1]
	assert.True(t, last.Stop)
	assert.Equal(t, types.DecisionDynamic, last.Mode)
	assert.Equal(t, "the analysts already agree", last.Reason)
}

func TestFatalBackendErrorFailsSession(t *testing.T) {
	scenario := &provider.Scenario{
		Name: "fatal",
		Steps: []provider.ScenarioStep{
			{Trigger: "application analyst", Fail: "fatal", FailMessage: "invalid api key"},
		},
	}
	eng, store := newTestEngine(t, provider.NewMockProvider(scenario), testConfig())

	id, err := eng.StartSession(context.Background(), "fatal-1", nil)
	require.NoError(t, err)

	rt := runToCompletion(t, eng, id)
	assert.Equal(t, types.StatusFailed, rt.Status)
	assert.Contains(t, rt.FailureReason, catalog.AppAnalyst)
	assert.Nil(t, rt.Verdict)

	status, err := store.Status(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, status)
}

func TestSubscribeEventsStreamsLiveSession(t *testing.T) {
	gate := make(chan struct{})
	fp := &provider.FuncProvider{Fn: func(_ context.Context, req provider.Request) (*provider.Response, error) {
		<-gate
		if strings.Contains(req.System, "judge") {
			return &provider.Response{Text: `{"root_cause": "rc", "summary": "s", "confidence": 0.9}`}, nil
		}
		return &provider.Response{Text: `{"summary": "s", "conclusion": "c", "confidence": 0.8}`}, nil
	}}
	eng, _ := newTestEngine(t, fp, testConfig())

	id, err := eng.StartSession(context.Background(), "sub-1", nil)
	require.NoError(t, err)

	events, unsubscribe, err := eng.SubscribeEvents(id)
	require.NoError(t, err)
	defer unsubscribe()
	close(gate)

	var received []audit.Event
	for event := range events {
		received = append(received, event)
	}
	require.NotEmpty(t, received)

	var eventTypes []audit.EventType
	last := int64(0)
	for _, event := range received {
		assert.Greater(t, event.Sequence, last)
		last = event.Sequence
		eventTypes = append(eventTypes, event.Type)
	}
	assert.Contains(t, eventTypes, audit.EventTypeTurnExecuted)
	assert.Contains(t, eventTypes, audit.EventTypeSessionEnd)
}

func TestResumeContinuesRunningSession(t *testing.T) {
	scenario := &provider.Scenario{
		Name: "resume",
		Steps: []provider.ScenarioStep{
			{Trigger: "You are the judge", Text: `{"root_cause": "pool misconfigured", "summary": "s", "confidence": 0.9}`},
			analysisStep("analyst", "pool misconfigured", 0.8),
		},
	}
	eng, store := newTestEngine(t, provider.NewMockProvider(scenario), testConfig())

	// Simulate a process that crashed right after registering the session.
	st := types.SessionState{
		SessionID:          "res-1",
		Round:              1,
		MaxDiscussionSteps: 12,
		MaxRounds:          2,
		ConsensusThreshold: 0.75,
	}
	require.NoError(t, store.RegisterSession("res-1"))
	require.NoError(t, store.SaveState(types.RuntimeState{
		SessionID: "res-1",
		Status:    types.StatusRunning,
		StartedAt: time.Now(),
		Debate:    &st,
	}))

	require.NoError(t, eng.Resume(context.Background(), "res-1"))
	rt := runToCompletion(t, eng, "res-1")
	assert.Equal(t, types.StatusCompleted, rt.Status)
	require.NotNil(t, rt.Verdict)
	assert.Equal(t, "pool misconfigured", rt.Verdict.RootCause)
}

func TestResumeRejectsFinishedOrUnknownSessions(t *testing.T) {
	eng, store := newTestEngine(t, &provider.FuncProvider{}, testConfig())

	err := eng.Resume(context.Background(), "missing")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	require.NoError(t, store.SaveState(types.RuntimeState{
		SessionID: "done-1",
		Status:    types.StatusCompleted,
	}))
	err = eng.Resume(context.Background(), "done-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to resume")

	require.NoError(t, store.SaveState(types.RuntimeState{
		SessionID: "bare-1",
		Status:    types.StatusRunning,
	}))
	err = eng.Resume(context.Background(), "bare-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no debate state")
}

func TestFinalizePrefersLatestUsableJudgment(t *testing.T) {
	turns := []types.Turn{
		{Round: 1, Phase: types.PhaseJudgment, AgentName: catalog.Judge,
			Output: map[string]interface{}{"root_cause": "old verdict", "summary": "s"}, Confidence: 0.6},
		{Round: 2, Phase: types.PhaseJudgment, AgentName: catalog.Judge,
			Output: map[string]interface{}{"root_cause": "new verdict", "summary": "s"}, Confidence: 0.8},
	}
	verdict := Finalize(types.SessionState{}, turns)
	assert.Equal(t, "new verdict", verdict.RootCause)
	assert.False(t, verdict.Degraded)
}

func TestFinalizeFallbackRaisesConfidenceModestly(t *testing.T) {
	cards := []types.EvidenceCard{
		{AgentName: "infra-analyst", Phase: types.PhaseAnalysis, Conclusion: "packet loss", Confidence: 0.5},
	}
	verdict := Finalize(types.SessionState{HistoryCards: cards}, nil)
	assert.True(t, verdict.Degraded)
	assert.InDelta(t, 0.55, verdict.Confidence, 0.001, "promoted conclusion gets a small lift")

	// The lift never pushes past the fallback ceiling.
	cards[0].Confidence = 0.9
	verdict = Finalize(types.SessionState{HistoryCards: cards}, nil)
	assert.InDelta(t, fallbackConfidenceCap, verdict.Confidence, 0.001)
}

func TestFinalizeWithoutAnyConclusion(t *testing.T) {
	verdict := Finalize(types.SessionState{}, nil)
	assert.True(t, verdict.Degraded)
	assert.Equal(t, "undetermined", verdict.RootCause)
	assert.Zero(t, verdict.Confidence)
}
