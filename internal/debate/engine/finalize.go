package engine

import (
	"fmt"
	"time"

	"github.com/moolen/inquest/internal/debate/types"
)

const (
	// fallbackConfidenceCap is the ceiling for fallback-synthesized
	// verdicts; they never claim judge-level certainty.
	fallbackConfidenceCap = 0.7

	// fallbackConfidenceLift is the modest raise applied to the promoted
	// conclusion's own confidence, bounded by the cap.
	fallbackConfidenceLift = 0.05
)

// Finalize synthesizes the terminal verdict. The latest usable judgment turn
// wins; without one the best non-judgment conclusion is promoted with a
// modestly raised confidence, marked degraded. A session that produced any
// conclusion at all always gets a verdict.
func Finalize(st types.SessionState, turns []types.Turn) types.FinalVerdict {
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		if turn.Phase != types.PhaseJudgment || turn.Degraded() {
			continue
		}
		rootCause, _ := turn.Output["root_cause"].(string)
		if rootCause == "" {
			continue
		}
		summary, _ := turn.Output["summary"].(string)
		return types.FinalVerdict{
			RootCause:     rootCause,
			Summary:       summary,
			Confidence:    types.ClampConfidence(turn.Confidence),
			EvidenceChain: stringSlice(turn.Output, "evidence_chain"),
			ProducedBy:    turn.AgentName,
			CreatedAt:     time.Now(),
		}
	}

	if best, ok := bestConclusion(st.HistoryCards); ok {
		confidence := best.Confidence + fallbackConfidenceLift
		if confidence > fallbackConfidenceCap {
			confidence = fallbackConfidenceCap
		}
		return types.FinalVerdict{
			RootCause: best.Conclusion,
			Summary: fmt.Sprintf("Synthesized from the %s conclusion of %s; the judge produced no usable verdict.",
				best.Phase, best.AgentName),
			Confidence:    types.ClampConfidence(confidence),
			EvidenceChain: best.EvidenceChain,
			ProducedBy:    best.AgentName,
			Degraded:      true,
			CreatedAt:     time.Now(),
		}
	}

	return types.FinalVerdict{
		RootCause:  "undetermined",
		Summary:    "No agent produced a usable conclusion before the session ended.",
		Confidence: 0,
		Degraded:   true,
		CreatedAt:  time.Now(),
	}
}

// bestConclusion picks the highest-confidence non-judgment card with a
// conclusion. Ties keep the earlier card.
func bestConclusion(cards []types.EvidenceCard) (types.EvidenceCard, bool) {
	var best types.EvidenceCard
	found := false
	for _, card := range cards {
		if card.Phase == types.PhaseJudgment || card.Conclusion == "" {
			continue
		}
		if !found || card.Confidence > best.Confidence {
			best = card
			found = true
		}
	}
	return best, found
}
