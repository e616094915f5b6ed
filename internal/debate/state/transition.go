// Package state implements the transition service that folds a step's
// result into the accumulated session state. The message log is the single
// source of truth; cards, claims, and open questions are derived views
// reconciled against it on every transition. State is never mutated in
// place: Apply returns a fresh value.
package state

import (
	"fmt"

	"github.com/moolen/inquest/internal/debate/recorder"
	"github.com/moolen/inquest/internal/debate/types"
	"github.com/moolen/inquest/internal/logging"
)

// TransitionService merges step deltas into session state.
type TransitionService struct {
	logger *logging.Logger
}

// NewTransitionService creates a transition service.
func NewTransitionService() *TransitionService {
	return &TransitionService{
		logger: logging.GetLogger("debate.state"),
	}
}

// Apply folds result into state and returns the next state. An empty
// result yields a state identical to the input. The history card view
// never shrinks, agent outputs keep the latest entry per agent, and the
// discussion step budget always advances when any work was done.
func (s *TransitionService) Apply(state types.SessionState, result types.StepResult) types.SessionState {
	next := cloneState(state)
	if result.Empty() {
		return next
	}

	appended := s.mergeMessages(&next, result.Messages)
	newCards := s.reconcileCards(&next, result.Cards)

	next.Claims = appendUnique(next.Claims, result.Claims)
	next.OpenQuestions = appendUnique(next.OpenQuestions, result.OpenQuestions)
	next.OpenQuestions = removeAll(next.OpenQuestions, result.ResolvedQuestions)

	for _, turn := range result.Turns {
		if next.AgentOutputs == nil {
			next.AgentOutputs = make(map[string]map[string]interface{})
		}
		next.AgentOutputs[turn.AgentName] = turn.Output
	}

	for target, command := range result.Commands {
		if next.AgentCommands == nil {
			next.AgentCommands = make(map[string]string)
		}
		next.AgentCommands[target] = command
	}

	if result.ConsensusReached {
		next.ConsensusReached = true
	}

	if result.Decision != nil {
		next.DecisionLog = append(next.DecisionLog, *result.Decision)
		if len(next.DecisionLog) > types.DecisionLogCap {
			next.DecisionLog = next.DecisionLog[len(next.DecisionLog)-types.DecisionLogCap:]
		}
	}

	// The budget advances by new-card count, or by one when the step only
	// produced messages or turns. A non-empty step never stalls it, and
	// the counter saturates at MaxDiscussionSteps: a parallel fan-out
	// larger than the remaining budget cannot push it past the cap.
	switch {
	case newCards > 0:
		next.DiscussionSteps += newCards
	case appended > 0 || len(result.Turns) > 0:
		next.DiscussionSteps++
	}
	if next.MaxDiscussionSteps > 0 && next.DiscussionSteps > next.MaxDiscussionSteps {
		next.DiscussionSteps = next.MaxDiscussionSteps
	}

	s.logger.DebugWithFields("state transition applied",
		logging.Field("session", next.SessionID),
		logging.Field("new_messages", appended),
		logging.Field("new_cards", newCards),
		logging.Field("discussion_steps", next.DiscussionSteps),
	)
	return next
}

// mergeMessages appends new messages deduplicated against a trailing window
// of the existing log. Returns the number actually appended.
func (s *TransitionService) mergeMessages(next *types.SessionState, msgs []types.AgentMessage) int {
	appended := 0
	for _, msg := range msgs {
		if s.isDuplicate(next.Messages, msg) {
			continue
		}
		next.Messages = append(next.Messages, msg)
		appended++
	}
	return appended
}

func (s *TransitionService) isDuplicate(log []types.AgentMessage, msg types.AgentMessage) bool {
	window := log
	if len(window) > types.MessageDedupWindow {
		window = window[len(window)-types.MessageDedupWindow:]
	}
	sig := messageSignature(msg)
	for _, existing := range window {
		if messageSignature(existing) == sig {
			return true
		}
	}
	return false
}

// messageSignature keys a message by speaker, type, and a truncated content
// rendering. Map formatting is key-sorted, so the signature is stable.
func messageSignature(msg types.AgentMessage) string {
	content := fmt.Sprintf("%v", msg.Content)
	if len(content) > 120 {
		content = content[:120]
	}
	return msg.Sender + "|" + string(msg.Type) + "|" + content
}

// reconcileCards recomputes the card view: existing cards keep their order,
// then cards projected from the merged message log that are not yet
// represented, then round-level cards the step produced directly. The view
// never shrinks. Returns the number of cards added.
func (s *TransitionService) reconcileCards(next *types.SessionState, roundCards []types.EvidenceCard) int {
	seen := make(map[string]struct{}, len(next.HistoryCards))
	for _, card := range next.HistoryCards {
		seen[cardKey(card)] = struct{}{}
	}

	added := 0
	appendCard := func(card types.EvidenceCard) {
		key := cardKey(card)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		card.Confidence = types.ClampConfidence(card.Confidence)
		next.HistoryCards = append(next.HistoryCards, card)
		added++
	}

	for _, msg := range next.Messages {
		if card, ok := recorder.CardFromMessage(msg); ok {
			appendCard(card)
		}
	}
	for _, card := range roundCards {
		appendCard(card)
	}
	return added
}

func cardKey(card types.EvidenceCard) string {
	conclusion := card.Conclusion
	if len(conclusion) > 120 {
		conclusion = conclusion[:120]
	}
	return card.AgentName + "|" + string(card.Phase) + "|" + conclusion
}

func appendUnique(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	for _, s := range incoming {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		existing = append(existing, s)
	}
	return existing
}

func removeAll(existing, remove []string) []string {
	if len(remove) == 0 || len(existing) == 0 {
		return existing
	}
	drop := make(map[string]struct{}, len(remove))
	for _, s := range remove {
		drop[s] = struct{}{}
	}
	out := existing[:0]
	for _, s := range existing {
		if _, gone := drop[s]; !gone {
			out = append(out, s)
		}
	}
	return out
}

// cloneState deep-copies the mutable parts of a session state.
func cloneState(state types.SessionState) types.SessionState {
	next := state

	next.Messages = append([]types.AgentMessage(nil), state.Messages...)
	next.HistoryCards = append([]types.EvidenceCard(nil), state.HistoryCards...)
	next.Claims = append([]string(nil), state.Claims...)
	next.OpenQuestions = append([]string(nil), state.OpenQuestions...)
	next.DecisionLog = append([]types.Decision(nil), state.DecisionLog...)

	if state.AgentOutputs != nil {
		next.AgentOutputs = make(map[string]map[string]interface{}, len(state.AgentOutputs))
		for k, v := range state.AgentOutputs {
			next.AgentOutputs[k] = v
		}
	}
	if state.AgentCommands != nil {
		next.AgentCommands = make(map[string]string, len(state.AgentCommands))
		for k, v := range state.AgentCommands {
			next.AgentCommands[k] = v
		}
	}
	if state.Mailbox != nil {
		next.Mailbox = make(map[string][]types.AgentMessage, len(state.Mailbox))
		for k, v := range state.Mailbox {
			next.Mailbox[k] = append([]types.AgentMessage(nil), v...)
		}
	}
	return next
}
