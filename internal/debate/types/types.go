// Package types contains the shared domain types for the debate engine:
// agent specs, turns, evidence cards, mailbox messages, session state, and
// the persisted checkpoint projections.
package types

import "time"

// Phase identifies the debate phase an agent participates in.
// The set is closed; Valid rejects anything else at catalog load time.
type Phase string

const (
	// PhaseAnalysis is the initial independent root-cause analysis.
	PhaseAnalysis Phase = "analysis"
	// PhaseCritique challenges the analysis conclusions.
	PhaseCritique Phase = "critique"
	// PhaseRebuttal lets analysis agents answer the critique.
	PhaseRebuttal Phase = "rebuttal"
	// PhaseJudgment weighs all conclusions and issues the verdict.
	PhaseJudgment Phase = "judgment"
)

// Valid reports whether p is one of the four known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseAnalysis, PhaseCritique, PhaseRebuttal, PhaseJudgment:
		return true
	}
	return false
}

// AgentSpec describes one reasoning agent. Specs are built once from the
// static catalog and never mutated.
type AgentSpec struct {
	// Name is unique within a session.
	Name string `json:"name"`

	// Role is a human-readable description of the agent's specialty.
	Role string `json:"role"`

	// Phase determines when the agent runs and which output schema applies.
	Phase Phase `json:"phase"`

	// SystemPrompt is the role instruction sent with every call.
	SystemPrompt string `json:"system_prompt"`

	// Tools lists the capability tool names this agent may use.
	Tools []string `json:"tools,omitempty"`

	// MaxTokens bounds the model response size.
	MaxTokens int `json:"max_tokens"`

	// Timeout bounds a single model call. Expiry degrades the turn,
	// it does not abort the session.
	Timeout time.Duration `json:"timeout"`

	// Temperature controls sampling randomness for this agent.
	Temperature float64 `json:"temperature"`
}

// TokenUsage records the token accounting for one model call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Turn is one executed agent call, successful or degraded. Turns are
// immutable and appended to an ordered, append-only log; Round strictly
// increases by 1 per turn within a session.
type Turn struct {
	// Round is the 1-based turn number, unique per session.
	Round int `json:"round"`

	// Phase the executing agent belongs to.
	Phase Phase `json:"phase"`

	// AgentName and AgentRole identify the executing agent.
	AgentName string `json:"agent_name"`
	AgentRole string `json:"agent_role"`

	// Model is the backend model identifier used for the call.
	Model string `json:"model"`

	// Prompt is the full user prompt sent to the backend.
	Prompt string `json:"prompt"`

	// Output is the phase-dependent semi-structured result. Degraded
	// turns carry an "error" key and a human-readable "conclusion".
	Output map[string]interface{} `json:"output"`

	// Confidence is clamped to [0,1]; degraded turns report 0.
	Confidence float64 `json:"confidence"`

	// Usage is the token accounting reported by the backend.
	Usage TokenUsage `json:"usage"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Degraded reports whether this turn was produced by the failure path.
func (t Turn) Degraded() bool {
	if t.Output == nil {
		return false
	}
	_, ok := t.Output["error"]
	return ok
}

// EvidenceCard is the normalized projection of a turn or message used for
// routing and prompt context. Cards are always derived, never hand-authored.
type EvidenceCard struct {
	AgentName string `json:"agent_name"`
	Phase     Phase  `json:"phase"`

	// Summary is a short description of what the agent did.
	Summary string `json:"summary"`

	// Conclusion is the agent's root-cause claim for this turn.
	Conclusion string `json:"conclusion"`

	// EvidenceChain lists the supporting evidence in order.
	EvidenceChain []string `json:"evidence_chain,omitempty"`

	Confidence float64 `json:"confidence"`

	// RawOutput preserves the full structured output the card was
	// projected from.
	RawOutput map[string]interface{} `json:"raw_output,omitempty"`
}

// MessageType classifies an inter-agent mailbox message.
type MessageType string

const (
	// MessageCommand is a commander → specialist instruction.
	MessageCommand MessageType = "command"
	// MessageFeedback is a specialist → commander completion report.
	MessageFeedback MessageType = "feedback"
	// MessageEvidence is a specialist broadcast of its conclusion.
	MessageEvidence MessageType = "evidence"
)

// AgentMessage lives only in the mailbox. A receiver's queue is consumed
// fully on its next execution, or evicted FIFO past the backlog cap.
type AgentMessage struct {
	Sender   string                 `json:"sender"`
	Receiver string                 `json:"receiver"`
	Type     MessageType            `json:"type"`
	Content  map[string]interface{} `json:"content,omitempty"`
}

// DecisionMode records which rule produced a routing decision.
type DecisionMode string

const (
	// DecisionSeeded honors the round-opening decomposition step.
	DecisionSeeded DecisionMode = "seeded"
	// DecisionConsensus stops via the consensus shortcut.
	DecisionConsensus DecisionMode = "consensus"
	// DecisionBudget is the deterministic model-free fallback.
	DecisionBudget DecisionMode = "budget_fallback"
	// DecisionDynamic came from a live commander call.
	DecisionDynamic DecisionMode = "dynamic"
	// DecisionFallback is the budget-guard logic applied after a failed
	// dynamic routing call.
	DecisionFallback DecisionMode = "fallback"
	// DecisionGuardrail marks a decision overridden by a guardrail rule.
	DecisionGuardrail DecisionMode = "guardrail"
)

// Decision is one supervisor routing decision. Decisions append to a
// bounded trailing log on the session state.
type Decision struct {
	// Target is the next agent to run; empty when Stop is set.
	Target string `json:"target,omitempty"`

	// Parallel lists analysis agents to dispatch concurrently; when
	// non-empty it takes precedence over Target.
	Parallel []string `json:"parallel,omitempty"`

	// Stop ends the debate and moves to finalization.
	Stop bool `json:"stop,omitempty"`

	Reason string       `json:"reason"`
	Mode   DecisionMode `json:"mode"`

	// Commands carries optional per-agent instructions from the
	// commander, keyed by target agent name.
	Commands map[string]string `json:"commands,omitempty"`
}

// PlannedStep is a pre-seeded routing step authored by the round-opening
// decomposition, consumed before any model-based routing this round.
type PlannedStep struct {
	Agent       string   `json:"agent,omitempty"`
	Parallel    []string `json:"parallel,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
}

// Bounds enforced across the session. These are fixed caps, not tunables.
const (
	// MailboxCap is the maximum backlog per receiver; older messages
	// are evicted FIFO.
	MailboxCap = 20

	// DecisionLogCap bounds the trailing supervisor decision log.
	DecisionLogCap = 20

	// EvidenceBroadcastMax is the number of evidence items included in
	// a post-turn evidence broadcast.
	EvidenceBroadcastMax = 3

	// MessageDedupWindow is how many trailing messages are considered
	// when deduplicating newly produced ones.
	MessageDedupWindow = 30
)

// ClampConfidence forces v into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
