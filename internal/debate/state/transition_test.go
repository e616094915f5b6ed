package state

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/inquest/internal/debate/types"
)

func evidenceMsg(sender, receiver, conclusion string, confidence float64) types.AgentMessage {
	return types.AgentMessage{
		Sender:   sender,
		Receiver: receiver,
		Type:     types.MessageEvidence,
		Content: map[string]interface{}{
			"phase":      "analysis",
			"conclusion": conclusion,
			"confidence": confidence,
		},
	}
}

func TestApplyEmptyDeltaIsIdentity(t *testing.T) {
	svc := NewTransitionService()
	st := types.SessionState{
		SessionID:    "s1",
		Messages:     []types.AgentMessage{evidenceMsg("a", "judge", "x", 0.5)},
		HistoryCards: []types.EvidenceCard{{AgentName: "a", Phase: types.PhaseAnalysis, Conclusion: "x", Confidence: 0.5}},
		Claims:       []string{"claim-1"},
		Round:        2,
		DiscussionSteps: 3,
	}

	next := svc.Apply(st, types.StepResult{})
	assert.Equal(t, st, next)

	// Re-applying yields the same state again.
	assert.Equal(t, next, svc.Apply(next, types.StepResult{}))
}

func TestApplyNeverMutatesInput(t *testing.T) {
	svc := NewTransitionService()
	st := types.SessionState{SessionID: "s1"}

	_ = svc.Apply(st, types.StepResult{
		Messages: []types.AgentMessage{evidenceMsg("a", "judge", "x", 0.5)},
		Claims:   []string{"c1"},
	})

	assert.Empty(t, st.Messages)
	assert.Empty(t, st.Claims)
	assert.Zero(t, st.DiscussionSteps)
}

func TestApplyProjectsCardsFromMessages(t *testing.T) {
	svc := NewTransitionService()
	st := types.SessionState{SessionID: "s1"}

	next := svc.Apply(st, types.StepResult{
		Messages: []types.AgentMessage{
			evidenceMsg("infra-analyst", "judge", "packet loss on eth0", 0.7),
		},
	})

	require.Len(t, next.HistoryCards, 1)
	assert.Equal(t, "infra-analyst", next.HistoryCards[0].AgentName)
	assert.Equal(t, "packet loss on eth0", next.HistoryCards[0].Conclusion)
	assert.Equal(t, 0.7, next.HistoryCards[0].Confidence)
}

func TestApplyDeduplicatesMessages(t *testing.T) {
	svc := NewTransitionService()
	msg := evidenceMsg("a", "judge", "same conclusion", 0.6)

	st := svc.Apply(types.SessionState{}, types.StepResult{
		Messages: []types.AgentMessage{msg},
	})
	require.Len(t, st.Messages, 1)
	steps := st.DiscussionSteps

	// The identical message (same speaker, same content signature) within
	// the trailing window is dropped; no card or message is added.
	next := svc.Apply(st, types.StepResult{
		Messages: []types.AgentMessage{msg},
	})
	assert.Len(t, next.Messages, 1)
	assert.Len(t, next.HistoryCards, 1)
	assert.Equal(t, steps, next.DiscussionSteps, "no new work, budget unchanged")
}

func TestApplyDedupWindowIsBounded(t *testing.T) {
	svc := NewTransitionService()
	st := types.SessionState{}

	first := evidenceMsg("a", "judge", "original", 0.5)
	st = svc.Apply(st, types.StepResult{Messages: []types.AgentMessage{first}})

	// Push the original outside the dedup window.
	for i := 0; i < types.MessageDedupWindow; i++ {
		st = svc.Apply(st, types.StepResult{
			Messages: []types.AgentMessage{evidenceMsg("b", "judge", fmt.Sprintf("filler-%d", i), 0.5)},
		})
	}

	st = svc.Apply(st, types.StepResult{Messages: []types.AgentMessage{first}})
	assert.Len(t, st.Messages, types.MessageDedupWindow+2, "message outside the window is re-appended")
}

func TestApplyHistoryCardsNeverShrink(t *testing.T) {
	svc := NewTransitionService()
	st := types.SessionState{
		HistoryCards: []types.EvidenceCard{
			{AgentName: "old", Phase: types.PhaseAnalysis, Conclusion: "kept", Confidence: 0.4},
		},
	}

	next := svc.Apply(st, types.StepResult{
		Messages: []types.AgentMessage{evidenceMsg("a", "judge", "new", 0.6)},
	})

	require.Len(t, next.HistoryCards, 2)
	assert.Equal(t, "kept", next.HistoryCards[0].Conclusion, "existing cards keep their position")
	assert.Equal(t, "new", next.HistoryCards[1].Conclusion)
}

func TestApplyReconcilesRoundLevelCards(t *testing.T) {
	svc := NewTransitionService()

	// A degraded turn produces a round-level card but no broadcast message.
	next := svc.Apply(types.SessionState{}, types.StepResult{
		Cards: []types.EvidenceCard{
			{AgentName: "infra-analyst", Phase: types.PhaseAnalysis, Conclusion: "call failed", Confidence: 0},
		},
	})
	require.Len(t, next.HistoryCards, 1)

	// The same card arriving again, now via a message, is not duplicated.
	next = svc.Apply(next, types.StepResult{
		Messages: []types.AgentMessage{evidenceMsg("infra-analyst", "judge", "call failed", 0)},
	})
	assert.Len(t, next.HistoryCards, 1)
}

func TestApplyBudgetAdvancesByCardCountOrOne(t *testing.T) {
	svc := NewTransitionService()

	// Two new cards advance the budget by two.
	st := svc.Apply(types.SessionState{}, types.StepResult{
		Messages: []types.AgentMessage{
			evidenceMsg("a", "judge", "one", 0.5),
			evidenceMsg("b", "judge", "two", 0.5),
		},
	})
	assert.Equal(t, 2, st.DiscussionSteps)

	// A turn without cards or messages still advances by one.
	st = svc.Apply(st, types.StepResult{
		Turns: []types.Turn{{Round: 1, AgentName: "a", Output: map[string]interface{}{"error": "timeout"}}},
	})
	assert.Equal(t, 3, st.DiscussionSteps)

	// A command-only message (no card projection) advances by one.
	st = svc.Apply(st, types.StepResult{
		Messages: []types.AgentMessage{{
			Sender: "commander", Receiver: "a", Type: types.MessageCommand,
			Content: map[string]interface{}{"instruction": "check the lb"},
		}},
	})
	assert.Equal(t, 4, st.DiscussionSteps)
}

func TestApplyBudgetSaturatesAtMax(t *testing.T) {
	svc := NewTransitionService()
	st := types.SessionState{MaxDiscussionSteps: 2, DiscussionSteps: 1}

	// A three-way fan-out lands one step short of fitting; the counter
	// stops at the cap instead of overshooting it.
	st = svc.Apply(st, types.StepResult{
		Messages: []types.AgentMessage{
			evidenceMsg("a", "judge", "one", 0.5),
			evidenceMsg("b", "judge", "two", 0.5),
			evidenceMsg("c", "judge", "three", 0.5),
		},
	})
	assert.Equal(t, 2, st.DiscussionSteps)

	// Further work cannot push it past the cap either.
	st = svc.Apply(st, types.StepResult{
		Turns: []types.Turn{{Round: 1, AgentName: "a", Output: map[string]interface{}{"error": "timeout"}}},
	})
	assert.Equal(t, 2, st.DiscussionSteps)
}

func TestApplyAgentOutputsKeepLatest(t *testing.T) {
	svc := NewTransitionService()

	st := svc.Apply(types.SessionState{}, types.StepResult{
		Turns: []types.Turn{{Round: 1, AgentName: "a", Output: map[string]interface{}{"conclusion": "v1"}}},
	})
	st = svc.Apply(st, types.StepResult{
		Turns: []types.Turn{{Round: 2, AgentName: "a", Output: map[string]interface{}{"conclusion": "v2"}}},
	})

	require.Contains(t, st.AgentOutputs, "a")
	assert.Equal(t, "v2", st.AgentOutputs["a"]["conclusion"])
}

func TestApplyDecisionLogBounded(t *testing.T) {
	svc := NewTransitionService()
	st := types.SessionState{}

	for i := 0; i < types.DecisionLogCap+7; i++ {
		st = svc.Apply(st, types.StepResult{
			Decision: &types.Decision{Target: fmt.Sprintf("agent-%d", i), Mode: types.DecisionDynamic, Reason: "r"},
		})
	}

	require.Len(t, st.DecisionLog, types.DecisionLogCap)
	assert.Equal(t, "agent-7", st.DecisionLog[0].Target)
}

func TestApplyResolvedQuestionsRemoved(t *testing.T) {
	svc := NewTransitionService()

	st := svc.Apply(types.SessionState{}, types.StepResult{
		OpenQuestions: []string{"q1", "q2"},
	})
	require.Equal(t, []string{"q1", "q2"}, st.OpenQuestions)

	st = svc.Apply(st, types.StepResult{
		ResolvedQuestions: []string{"q1"},
	})
	assert.Equal(t, []string{"q2"}, st.OpenQuestions)
}

func TestApplyConsensusLatches(t *testing.T) {
	svc := NewTransitionService()

	st := svc.Apply(types.SessionState{}, types.StepResult{ConsensusReached: true})
	assert.True(t, st.ConsensusReached)

	st = svc.Apply(st, types.StepResult{
		Messages: []types.AgentMessage{evidenceMsg("a", "judge", "later", 0.5)},
	})
	assert.True(t, st.ConsensusReached, "consensus never un-latches")
}
