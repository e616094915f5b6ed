// Package recorder keeps the append-only turn log and derives the evidence
// cards used for routing and prompt context. Cards are always projections
// of recorded turns or messages, never hand-authored.
package recorder

import (
	"fmt"
	"sync"

	"github.com/moolen/inquest/internal/debate/mailbox"
	"github.com/moolen/inquest/internal/debate/types"
	"github.com/moolen/inquest/internal/logging"
)

// TurnRecorder owns the ordered turn log for one session. Round numbers
// strictly increase by 1; Append rejects anything else.
type TurnRecorder struct {
	mu     sync.Mutex
	turns  []types.Turn
	logger *logging.Logger
}

// New creates an empty recorder.
func New() *TurnRecorder {
	return &TurnRecorder{
		logger: logging.GetLogger("debate.recorder"),
	}
}

// Resume creates a recorder pre-loaded with turns from a checkpoint.
func Resume(turns []types.Turn) (*TurnRecorder, error) {
	r := New()
	for _, turn := range turns {
		if err := r.Append(turn); err != nil {
			return nil, fmt.Errorf("turn log corrupt: %w", err)
		}
	}
	return r, nil
}

// NextRound returns the round number the next turn must carry.
func (r *TurnRecorder) NextRound() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns) + 1
}

// Append records an executed turn. The turn's round must be exactly one
// past the last recorded round.
func (r *TurnRecorder) Append(turn types.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	expected := len(r.turns) + 1
	if turn.Round != expected {
		return fmt.Errorf("turn round %d out of order, expected %d", turn.Round, expected)
	}
	r.turns = append(r.turns, turn)

	r.logger.DebugWithFields("turn appended",
		logging.Field("agent", turn.AgentName),
		logging.Field("round", turn.Round),
		logging.Field("degraded", turn.Degraded()),
	)
	return nil
}

// Turns returns a copy of the ordered turn log.
func (r *TurnRecorder) Turns() []types.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Turn, len(r.turns))
	copy(out, r.turns)
	return out
}

// Len returns the number of recorded turns.
func (r *TurnRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

// Broadcast enqueues the turn's evidence card to the commander and all
// peers except the speaker, so every agent sees peer conclusions without
// carrying the full turn log. Degraded turns are not broadcast. Returns the
// new mailbox.
func (r *TurnRecorder) Broadcast(mb map[string][]types.AgentMessage, turn types.Turn, commander string, peers []string) map[string][]types.AgentMessage {
	if turn.Degraded() {
		return mb
	}
	card := CardFromTurn(turn)

	receivers := make([]string, 0, len(peers)+1)
	if commander != "" && commander != turn.AgentName {
		receivers = append(receivers, commander)
	}
	for _, peer := range peers {
		if peer != turn.AgentName && peer != commander {
			receivers = append(receivers, peer)
		}
	}

	for _, receiver := range receivers {
		mb = mailbox.Enqueue(mb, receiver, mailbox.Evidence(turn.AgentName, receiver, card))
	}
	return mb
}

// CardFromTurn projects a turn into its evidence card. Judgment turns put
// the root cause in the conclusion slot.
func CardFromTurn(turn types.Turn) types.EvidenceCard {
	card := types.EvidenceCard{
		AgentName:  turn.AgentName,
		Phase:      turn.Phase,
		Confidence: types.ClampConfidence(turn.Confidence),
		RawOutput:  turn.Output,
	}
	if turn.Output == nil {
		return card
	}

	card.Summary = stringField(turn.Output, "summary")
	card.Conclusion = stringField(turn.Output, "conclusion")
	if turn.Phase == types.PhaseJudgment {
		if rc := stringField(turn.Output, "root_cause"); rc != "" {
			card.Conclusion = rc
		}
	}
	card.EvidenceChain = stringSliceField(turn.Output, "evidence_chain")
	return card
}

// CardFromMessage projects an evidence message back into a card. Used by
// the message-first state projection.
func CardFromMessage(msg types.AgentMessage) (types.EvidenceCard, bool) {
	if msg.Type != types.MessageEvidence || msg.Content == nil {
		return types.EvidenceCard{}, false
	}
	card := types.EvidenceCard{
		AgentName:     msg.Sender,
		Phase:         types.Phase(stringField(msg.Content, "phase")),
		Conclusion:    stringField(msg.Content, "conclusion"),
		EvidenceChain: stringSliceField(msg.Content, "evidence"),
	}
	if conf, ok := msg.Content["confidence"].(float64); ok {
		card.Confidence = types.ClampConfidence(conf)
	}
	return card, true
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func stringSliceField(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
