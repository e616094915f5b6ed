package mailbox

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/inquest/internal/debate/types"
)

func msg(sender, receiver, body string) types.AgentMessage {
	return types.AgentMessage{
		Sender:   sender,
		Receiver: receiver,
		Type:     types.MessageFeedback,
		Content:  map[string]interface{}{"conclusion": body},
	}
}

func TestEnqueueAppendsWithoutMutating(t *testing.T) {
	mb := map[string][]types.AgentMessage{}
	out := Enqueue(mb, "judge", msg("critic", "judge", "one"))

	require.Len(t, out["judge"], 1)
	assert.Empty(t, mb, "input mailbox must not be mutated")

	out = Enqueue(out, "judge", msg("critic", "judge", "two"))
	require.Len(t, out["judge"], 2)
	assert.Equal(t, "one", out["judge"][0].Content["conclusion"])
}

func TestEnqueueEvictsOldestPastCap(t *testing.T) {
	mb := map[string][]types.AgentMessage{}
	for i := 0; i < types.MailboxCap+5; i++ {
		mb = Enqueue(mb, "judge", msg("critic", "judge", fmt.Sprintf("m%d", i)))
	}

	require.Len(t, mb["judge"], types.MailboxCap)
	// The oldest five were evicted FIFO.
	assert.Equal(t, "m5", mb["judge"][0].Content["conclusion"])
	assert.Equal(t, fmt.Sprintf("m%d", types.MailboxCap+4),
		mb["judge"][types.MailboxCap-1].Content["conclusion"])
}

func TestDequeueFullyConsumes(t *testing.T) {
	mb := map[string][]types.AgentMessage{}
	mb = Enqueue(mb, "judge", msg("a", "judge", "one"))
	mb = Enqueue(mb, "judge", msg("b", "judge", "two"))
	mb = Enqueue(mb, "critic", msg("a", "critic", "other"))

	msgs, rest := Dequeue(mb, "judge")
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content["conclusion"])
	assert.Empty(t, rest["judge"])
	assert.Len(t, rest["critic"], 1, "other receivers untouched")

	// Original mailbox is unchanged.
	assert.Len(t, mb["judge"], 2)
}

func TestDequeueEmptyReceiver(t *testing.T) {
	mb := map[string][]types.AgentMessage{}
	msgs, rest := Dequeue(mb, "nobody")
	assert.Nil(t, msgs)
	assert.Equal(t, mb, rest)
}

func TestCompact(t *testing.T) {
	oversized := make([]types.AgentMessage, types.MailboxCap+3)
	for i := range oversized {
		oversized[i] = msg("a", "judge", fmt.Sprintf("m%d", i))
	}
	mb := map[string][]types.AgentMessage{
		"judge": oversized,
		"empty": {},
	}

	out := Compact(mb)
	require.Len(t, out["judge"], types.MailboxCap)
	assert.Equal(t, "m3", out["judge"][0].Content["conclusion"])
	_, hasEmpty := out["empty"]
	assert.False(t, hasEmpty)
}

func TestEvidenceTruncatesChain(t *testing.T) {
	card := types.EvidenceCard{
		AgentName:     "infra-analyst",
		Phase:         types.PhaseAnalysis,
		Conclusion:    "packet loss on eth0",
		EvidenceChain: []string{"e1", "e2", "e3", "e4", "e5"},
		Confidence:    1.7,
	}

	m := Evidence("infra-analyst", "judge", card)
	assert.Equal(t, types.MessageEvidence, m.Type)
	assert.Equal(t, []string{"e1", "e2", "e3"}, m.Content["evidence"])
	assert.Equal(t, 1.0, m.Content["confidence"], "confidence clamped")
}

func TestRender(t *testing.T) {
	msgs := []types.AgentMessage{
		Command("commander", "infra-analyst", "focus on the load balancer"),
		Evidence("app-analyst", "infra-analyst", types.EvidenceCard{
			Phase:      types.PhaseAnalysis,
			Conclusion: "no recent deploys",
			Confidence: 0.6,
		}),
	}

	rendered := Render(msgs)
	assert.Contains(t, rendered, "command from commander")
	assert.Contains(t, rendered, "focus on the load balancer")
	assert.Contains(t, rendered, "evidence from app-analyst")

	assert.Empty(t, Render(nil))
}
