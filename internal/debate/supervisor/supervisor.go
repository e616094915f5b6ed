// Package supervisor decides, per discussion step, which agent runs next or
// whether the debate stops. Decisions follow a strict priority order, then
// pass a guardrail chain that enforces the global invariants. A failed
// commander call never aborts the session; it degrades to the deterministic
// fallback, so the loop always makes progress.
package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/moolen/inquest/internal/debate/catalog"
	"github.com/moolen/inquest/internal/debate/types"
	"github.com/moolen/inquest/internal/logging"
)

// Defaults for the tunable thresholds.
const (
	DefaultRepetitionCap    = 2
	DefaultSettleConfidence = 0.8
)

// Config holds the tunable routing thresholds.
type Config struct {
	// RepetitionCap is the maximum number of consecutive turns one agent
	// may take.
	RepetitionCap int

	// SettleConfidence is the commander self-confidence above which the
	// settle rules proceed to the judge.
	SettleConfidence float64
}

// AgentCaller executes one agent call. Satisfied by the invoker; tests
// substitute a scripted implementation.
type AgentCaller interface {
	Invoke(ctx context.Context, spec types.AgentSpec, prompt string, round, loopRound int, history []types.EvidenceCard) (types.Turn, error)
}

// Supervisor is the routing rule engine for one session.
type Supervisor struct {
	catalog *catalog.Catalog
	caller  AgentCaller
	config  Config
	logger  *logging.Logger
}

// New creates a supervisor. caller may be nil, in which case dynamic
// routing is disabled and every step uses the deterministic fallback.
func New(cat *catalog.Catalog, caller AgentCaller, config Config) *Supervisor {
	return &Supervisor{
		catalog: cat,
		caller:  caller,
		config:  config,
		logger:  logging.GetLogger("debate.supervisor"),
	}
}

// Decide picks the next routing decision. Priority order: consensus
// shortcut, budget guard, seeded route, dynamic commander routing. The
// consensus shortcut and the budget guard are checked before the seed on
// purpose: an already-available high-confidence judgment wins over a
// pre-planned opening move. The returned turn is the commander's, when
// dynamic routing made a model call.
func (s *Supervisor) Decide(ctx context.Context, st types.SessionState, turns, roundTurns []types.Turn, nextRound int) (types.Decision, *types.Turn) {
	rc := RuleContext{
		State:      st,
		Turns:      turns,
		RoundTurns: roundTurns,
		Catalog:    s.catalog,
		Config:     s.config,
	}

	if card, ok := latestJudgmentCard(st.HistoryCards); ok && card.Confidence >= st.ConsensusThreshold {
		return types.Decision{
			Stop:   true,
			Reason: fmt.Sprintf("judgment confidence %.2f meets threshold %.2f", card.Confidence, st.ConsensusThreshold),
			Mode:   types.DecisionConsensus,
		}, nil
	}

	if st.DiscussionSteps >= st.MaxDiscussionSteps {
		d := applyGuardrails(rc, fallbackDecision(rc))
		s.logDecision(d)
		return d, nil
	}

	if st.NextStep != nil && len(roundTurns) == 0 {
		d := applyGuardrails(rc, decisionFromStep(*st.NextStep))
		s.logDecision(d)
		return d, nil
	}

	d, turn := s.dynamicDecision(ctx, rc, nextRound)
	d = applyGuardrails(rc, d)
	s.logDecision(d)
	return d, turn
}

// PlanRound asks the commander to decompose the opening of a round: which
// analysts run in parallel and with what shared instruction. With dynamic
// routing disabled, or on any commander failure, the default full fan-out
// is used. The returned turn is the commander's, when a model call happened.
func (s *Supervisor) PlanRound(ctx context.Context, st types.SessionState, nextRound int) (types.PlannedStep, *types.Turn) {
	plan := defaultPlan(s.catalog)
	if s.caller == nil {
		return plan, nil
	}

	turn, err := s.caller.Invoke(ctx, catalog.CommanderSpec(), s.decompositionPrompt(st), nextRound, st.Round, recentCards(st.HistoryCards, 8))
	if err != nil {
		s.logger.ErrorWithErr("round decomposition failed, using default plan", err)
		return plan, nil
	}
	if turn.Degraded() {
		return plan, &turn
	}

	var parallel []string
	if raw, ok := turn.Output["parallel_agents"].([]interface{}); ok {
		for _, item := range raw {
			name, _ := item.(string)
			if spec, known := s.catalog.Lookup(name); known && spec.Phase == types.PhaseAnalysis {
				parallel = append(parallel, name)
			}
		}
	}
	if len(parallel) > 0 {
		plan.Parallel = parallel
	}
	if instruction := stringOr(turn.Output, "instruction", ""); instruction != "" {
		plan.Instruction = instruction
	}
	return plan, &turn
}

// defaultPlan is the degraded round opening: every analysis agent runs in
// parallel with a generic instruction.
func defaultPlan(cat *catalog.Catalog) types.PlannedStep {
	return types.PlannedStep{
		Parallel:    cat.AnalysisAgents(),
		Instruction: "Independently analyze the incident and state your best root-cause hypothesis.",
	}
}

func (s *Supervisor) decompositionPrompt(st types.SessionState) string {
	var b strings.Builder

	b.WriteString("Decompose the opening of this debate round: pick the analysts to run in parallel and give them one shared instruction.\n")
	b.WriteString("Respond with a JSON object: parallel_agents (list of analysis agent names), instruction.\n")

	if len(st.ContextSummary) > 0 {
		fmt.Fprintf(&b, "\nIncident context: %v\n", st.ContextSummary)
	}
	fmt.Fprintf(&b, "\nRound %d of %d.\n", st.Round, st.MaxRounds)
	if len(st.OpenQuestions) > 0 {
		fmt.Fprintf(&b, "Open questions: %s\n", strings.Join(st.OpenQuestions, "; "))
	}

	b.WriteString("\nAnalysis agents:\n")
	for _, spec := range s.catalog.Specs() {
		if spec.Phase == types.PhaseAnalysis {
			fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Role)
		}
	}
	return b.String()
}

func decisionFromStep(step types.PlannedStep) types.Decision {
	d := types.Decision{
		Target:   step.Agent,
		Parallel: step.Parallel,
		Reason:   "pre-seeded by round decomposition",
		Mode:     types.DecisionSeeded,
	}
	if step.Instruction != "" {
		target := step.Agent
		if target == "" && len(step.Parallel) > 0 {
			target = step.Parallel[0]
		}
		if target != "" {
			d.Commands = map[string]string{target: step.Instruction}
		}
	}
	return d
}

// dynamicDecision invokes the commander for a structured routing decision.
// Any failure, including a fatal backend error, degrades to the
// deterministic fallback; routing never aborts a session.
func (s *Supervisor) dynamicDecision(ctx context.Context, rc RuleContext, nextRound int) (types.Decision, *types.Turn) {
	if s.caller == nil {
		d := fallbackDecision(rc)
		d.Mode = types.DecisionFallback
		d.Reason = "dynamic routing disabled: " + d.Reason
		return d, nil
	}

	prompt := s.commanderPrompt(rc)
	turn, err := s.caller.Invoke(ctx, catalog.CommanderSpec(), prompt, nextRound, rc.State.Round, recentCards(rc.State.HistoryCards, 8))
	if err != nil {
		s.logger.ErrorWithErr("commander call failed, using fallback", err)
		d := fallbackDecision(rc)
		d.Mode = types.DecisionFallback
		d.Reason = "commander call failed: " + d.Reason
		return d, nil
	}
	if turn.Degraded() {
		d := fallbackDecision(rc)
		d.Mode = types.DecisionFallback
		d.Reason = "commander output degraded: " + d.Reason
		return d, &turn
	}

	d, ok := s.parseCommanderDecision(turn.Output)
	if !ok {
		fb := fallbackDecision(rc)
		fb.Mode = types.DecisionFallback
		fb.Reason = "commander routed to unknown agent: " + fb.Reason
		return fb, &turn
	}
	return d, &turn
}

// parseCommanderDecision maps the commander's structured output onto a
// decision, validating every referenced agent against the catalog.
func (s *Supervisor) parseCommanderDecision(output map[string]interface{}) (types.Decision, bool) {
	d := types.Decision{Mode: types.DecisionDynamic}

	if stop, ok := output["stop"].(bool); ok && stop {
		d.Stop = true
		d.Reason = stringOr(output, "reason", "commander requested stop")
		return d, true
	}

	if raw, ok := output["parallel_agents"].([]interface{}); ok {
		for _, item := range raw {
			name, _ := item.(string)
			if spec, known := s.catalog.Lookup(name); known && spec.Phase == types.PhaseAnalysis {
				d.Parallel = append(d.Parallel, name)
			}
		}
	}

	if target, ok := output["next_agent"].(string); ok && target != "" {
		if _, known := s.catalog.Lookup(target); !known {
			return types.Decision{}, false
		}
		d.Target = target
	}

	if len(d.Parallel) == 0 && d.Target == "" {
		return types.Decision{}, false
	}

	if commands, ok := output["commands"].(map[string]interface{}); ok {
		d.Commands = make(map[string]string, len(commands))
		for target, raw := range commands {
			if instruction, ok := raw.(string); ok {
				if _, known := s.catalog.Lookup(target); known {
					d.Commands[target] = instruction
				}
			}
		}
	}

	d.Reason = stringOr(output, "reason", "commander routing")
	return d, true
}

// commanderPrompt builds the compact routing context: incident summary,
// budget status, recent conclusions, trailing dialogue, and the roster.
func (s *Supervisor) commanderPrompt(rc RuleContext) string {
	var b strings.Builder

	b.WriteString("Decide who speaks next in the incident debate.\n\n")

	if len(rc.State.ContextSummary) > 0 {
		fmt.Fprintf(&b, "Incident context: %v\n\n", rc.State.ContextSummary)
	}

	fmt.Fprintf(&b, "Round %d. Discussion steps used: %d of %d.\n",
		rc.State.Round, rc.State.DiscussionSteps, rc.State.MaxDiscussionSteps)

	if len(rc.State.OpenQuestions) > 0 {
		fmt.Fprintf(&b, "Open questions: %s\n", strings.Join(rc.State.OpenQuestions, "; "))
	}

	b.WriteString("\nAvailable agents:\n")
	for _, spec := range s.catalog.Specs() {
		fmt.Fprintf(&b, "- %s (%s): %s\n", spec.Name, spec.Phase, spec.Role)
	}

	if msgs := rc.State.Messages; len(msgs) > 0 {
		b.WriteString("\nRecent dialogue:\n")
		start := len(msgs) - 6
		if start < 0 {
			start = 0
		}
		for _, msg := range msgs[start:] {
			fmt.Fprintf(&b, "- %s -> %s (%s): %v\n", msg.Sender, msg.Receiver, msg.Type, msg.Content)
		}
	}

	return b.String()
}

func (s *Supervisor) logDecision(d types.Decision) {
	s.logger.InfoWithFields("routing decision",
		logging.Field("target", d.Target),
		logging.Field("parallel", strings.Join(d.Parallel, ",")),
		logging.Field("stop", d.Stop),
		logging.Field("mode", string(d.Mode)),
		logging.Field("reason", d.Reason),
	)
}

// stringOr reads a string value from a structured output map, falling back
// when the key is absent, non-string, or empty.
func stringOr(m map[string]interface{}, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func latestJudgmentCard(cards []types.EvidenceCard) (types.EvidenceCard, bool) {
	for i := len(cards) - 1; i >= 0; i-- {
		if cards[i].Phase == types.PhaseJudgment {
			return cards[i], true
		}
	}
	return types.EvidenceCard{}, false
}

func recentCards(cards []types.EvidenceCard, n int) []types.EvidenceCard {
	if len(cards) <= n {
		return cards
	}
	return cards[len(cards)-n:]
}
