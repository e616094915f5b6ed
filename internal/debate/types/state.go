package types

import "time"

// SessionState is the accumulated state of one debate session. It is owned
// exclusively by the control loop and never mutated in place: every step
// produces a StepResult that the transition service merges into a fresh
// state. The message log is the single source of truth; cards, claims and
// open questions are derived views recomputed from it.
type SessionState struct {
	// SessionID identifies the session across checkpoints and events.
	SessionID string `json:"session_id"`

	// ContextSummary is the opaque incident evidence supplied at start,
	// forwarded to prompt builders without interpretation.
	ContextSummary map[string]interface{} `json:"context_summary,omitempty"`

	// Messages is the ordered canonical message log.
	Messages []AgentMessage `json:"messages"`

	// HistoryCards is the append-only derived card view; its length
	// never decreases across transitions.
	HistoryCards []EvidenceCard `json:"history_cards"`

	// Claims and OpenQuestions are derived from the message log.
	Claims        []string `json:"claims,omitempty"`
	OpenQuestions []string `json:"open_questions,omitempty"`

	// AgentOutputs holds the latest structured output per agent name.
	AgentOutputs map[string]map[string]interface{} `json:"agent_outputs,omitempty"`

	// AgentCommands holds the latest commander instruction per target.
	AgentCommands map[string]string `json:"agent_commands,omitempty"`

	// ConsensusReached is set once a judgment card clears the threshold.
	ConsensusReached bool `json:"consensus_reached"`

	// Round is the current debate round (1-based).
	Round int `json:"round"`

	// DiscussionSteps counts supervisor decision + execution pairs this
	// session; it never exceeds MaxDiscussionSteps.
	DiscussionSteps int `json:"discussion_steps"`

	// Budgets for this session.
	MaxDiscussionSteps int     `json:"max_discussion_steps"`
	MaxRounds          int     `json:"max_rounds"`
	ConsensusThreshold float64 `json:"consensus_threshold"`

	// NextStep is the pre-seeded route for the current round, if any.
	NextStep *PlannedStep `json:"next_step,omitempty"`

	// Mailbox is the per-receiver message queues. The sole intentionally
	// shared mutable structure, bounded by MailboxCap per receiver.
	Mailbox map[string][]AgentMessage `json:"mailbox,omitempty"`

	// DecisionLog is the bounded trailing supervisor decision log.
	DecisionLog []Decision `json:"decision_log,omitempty"`

	// FinalPayload is set exactly once, by finalization.
	FinalPayload map[string]interface{} `json:"final_payload,omitempty"`
}

// StepResult is the delta produced by executing one step. The transition
// service folds it into the state; an empty delta leaves the state
// identical (idempotence).
type StepResult struct {
	// Turn is the executed turn, if a model call happened this step.
	Turns []Turn `json:"turns,omitempty"`

	// Messages are new mailbox/log messages produced this step.
	Messages []AgentMessage `json:"messages,omitempty"`

	// Cards are round-level cards the step produced directly; they are
	// reconciled against the cards recomputed from the message log.
	Cards []EvidenceCard `json:"cards,omitempty"`

	// Claims/OpenQuestions extracted from the step's output.
	Claims        []string `json:"claims,omitempty"`
	OpenQuestions []string `json:"open_questions,omitempty"`

	// ResolvedQuestions are open questions this step answered; they are
	// removed from the state's derived view.
	ResolvedQuestions []string `json:"resolved_questions,omitempty"`

	// Commands updates the latest commander instruction per target.
	Commands map[string]string `json:"commands,omitempty"`

	// ConsensusReached marks judgment output that cleared the threshold.
	ConsensusReached bool `json:"consensus_reached,omitempty"`

	// Decision is the supervisor decision that led to this step.
	Decision *Decision `json:"decision,omitempty"`
}

// Empty reports whether the delta would leave the state unchanged.
func (r StepResult) Empty() bool {
	return len(r.Turns) == 0 && len(r.Messages) == 0 && len(r.Cards) == 0 &&
		len(r.Claims) == 0 && len(r.OpenQuestions) == 0 &&
		len(r.ResolvedQuestions) == 0 && len(r.Commands) == 0 &&
		!r.ConsensusReached && r.Decision == nil
}

// SessionStatus is the lifecycle status of a session.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// RoundCheckpoint is the compact per-round projection persisted by the
// checkpoint store.
type RoundCheckpoint struct {
	Round           int            `json:"round"`
	DiscussionSteps int            `json:"discussion_steps"`
	Cards           []EvidenceCard `json:"cards"`
	CreatedAt       time.Time      `json:"created_at"`
}

// FinalVerdict is the terminal output of a session, produced exactly once.
type FinalVerdict struct {
	// RootCause is the converged root-cause statement.
	RootCause string `json:"root_cause"`

	// Summary is the synthesized explanation.
	Summary string `json:"summary"`

	// Confidence is clamped to [0,1]. Fallback-synthesized verdicts
	// never claim judge-level certainty.
	Confidence float64 `json:"confidence"`

	// EvidenceChain lists the supporting evidence in order.
	EvidenceChain []string `json:"evidence_chain,omitempty"`

	// ProducedBy names the agent whose conclusion was used.
	ProducedBy string `json:"produced_by"`

	// Degraded is set when the judge output was unusable and the
	// verdict was synthesized from the best non-judge conclusion.
	Degraded bool `json:"degraded,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// RuntimeState is the externally visible projection of a session, persisted
// per round and retrievable without replaying turns.
type RuntimeState struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`

	// FailureReason is set when Status is failed.
	FailureReason string `json:"failure_reason,omitempty"`

	Round           int `json:"round"`
	DiscussionSteps int `json:"discussion_steps"`

	// Turns is the full ordered turn log.
	Turns []Turn `json:"turns"`

	Checkpoints []RoundCheckpoint `json:"checkpoints,omitempty"`

	// Verdict is present once the session completed.
	Verdict *FinalVerdict `json:"verdict,omitempty"`

	// Debate is the full accumulated session state, persisted so a
	// restarted process can resume mid-session.
	Debate *SessionState `json:"debate,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
