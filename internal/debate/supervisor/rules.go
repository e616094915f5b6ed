package supervisor

import (
	"fmt"

	"github.com/moolen/inquest/internal/debate/catalog"
	"github.com/moolen/inquest/internal/debate/types"
)

// RuleContext is the read-only view the rules evaluate against.
type RuleContext struct {
	State types.SessionState

	// Turns is the full session turn log.
	Turns []types.Turn

	// RoundTurns are the turns executed in the current debate round.
	RoundTurns []types.Turn

	Catalog *catalog.Catalog
	Config  Config
}

// GuardrailRule may override a raw routing decision to enforce a global
// invariant. It returns the (possibly replaced) decision and whether it
// overrode the input. Rules are pure and independently testable.
type GuardrailRule struct {
	Name  string
	Apply func(rc RuleContext, d types.Decision) (types.Decision, bool)
}

// Guardrails returns the fixed-priority guardrail chain.
func Guardrails() []GuardrailRule {
	return []GuardrailRule{
		{Name: "repetition", Apply: repetitionRule},
		{Name: "critique-cycle", Apply: critiqueCycleRule},
		{Name: "no-critique-revisit", Apply: noCritiqueRevisitRule},
		{Name: "judge-coverage", Apply: judgeCoverageRule},
		{Name: "commander-settle", Apply: commanderSettleRule},
		{Name: "post-rebuttal-settle", Apply: postRebuttalSettleRule},
	}
}

// applyGuardrails runs the chain in order. Later rules see earlier
// overrides.
func applyGuardrails(rc RuleContext, d types.Decision) types.Decision {
	for _, rule := range Guardrails() {
		next, overrode := rule.Apply(rc, d)
		if overrode {
			next.Mode = types.DecisionGuardrail
			next.Reason = fmt.Sprintf("%s rule: %s", rule.Name, next.Reason)
			d = next
		}
	}
	return d
}

// repetitionRule forbids routing to the same agent more than RepetitionCap
// consecutive times; the route is replaced with the deterministic fallback.
func repetitionRule(rc RuleContext, d types.Decision) (types.Decision, bool) {
	if d.Stop || d.Target == "" {
		return d, false
	}
	limit := rc.Config.RepetitionCap
	if limit <= 0 {
		limit = DefaultRepetitionCap
	}

	consecutive := 0
	for i := len(rc.Turns) - 1; i >= 0; i-- {
		if rc.Turns[i].AgentName != d.Target {
			break
		}
		consecutive++
	}
	if consecutive < limit {
		return d, false
	}

	fb := fallbackDecision(rc)
	if fb.Target == d.Target {
		// Fallback picked the same agent; send the judge instead.
		fb.Target = rc.Catalog.JudgeName()
	}
	fb.Reason = fmt.Sprintf("%s spoke %d consecutive times", d.Target, consecutive)
	return fb, true
}

// critiqueCycleRule keeps critique/rebuttal single-pass: once both a
// critique card and a rebuttal card exist this round, a requested re-run of
// parallel analysis is replaced with a route to the judge.
func critiqueCycleRule(rc RuleContext, d types.Decision) (types.Decision, bool) {
	if d.Stop || len(d.Parallel) == 0 {
		return d, false
	}
	if !roundHasPhase(rc.RoundTurns, types.PhaseCritique) || !roundHasPhase(rc.RoundTurns, types.PhaseRebuttal) {
		return d, false
	}
	return types.Decision{
		Target: rc.Catalog.JudgeName(),
		Reason: "critique and rebuttal completed, parallel analysis re-run denied",
	}, true
}

// noCritiqueRevisitRule forbids returning to plain analysis agents after
// the critique/rebuttal cycle completed this round.
func noCritiqueRevisitRule(rc RuleContext, d types.Decision) (types.Decision, bool) {
	if d.Stop || d.Target == "" {
		return d, false
	}
	spec, ok := rc.Catalog.Lookup(d.Target)
	if !ok || spec.Phase != types.PhaseAnalysis {
		return d, false
	}
	if !roundHasPhase(rc.RoundTurns, types.PhaseCritique) || !roundHasPhase(rc.RoundTurns, types.PhaseRebuttal) {
		return d, false
	}
	return types.Decision{
		Target: rc.Catalog.JudgeName(),
		Reason: fmt.Sprintf("analysis revisit of %s after rebuttal denied", d.Target),
	}, true
}

// judgeCoverageRule requires every analysis agent to have spoken at least
// once before the judge runs; the first missing one is inserted instead.
func judgeCoverageRule(rc RuleContext, d types.Decision) (types.Decision, bool) {
	if d.Stop || d.Target != rc.Catalog.JudgeName() {
		return d, false
	}
	spoken := spokenAgents(rc.Turns)
	for _, name := range rc.Catalog.AnalysisAgents() {
		if _, ok := spoken[name]; !ok {
			return types.Decision{
				Target: name,
				Reason: fmt.Sprintf("%s has not spoken yet, inserted before the judge", name),
			}, true
		}
	}
	return d, false
}

// commanderSettleRule proceeds to the judge without an explicit request
// when the commander's own confidence is high and no open questions remain.
func commanderSettleRule(rc RuleContext, d types.Decision) (types.Decision, bool) {
	if d.Stop || d.Mode != types.DecisionDynamic {
		return d, false
	}
	if d.Target == rc.Catalog.JudgeName() {
		return d, false
	}
	settle := rc.Config.SettleConfidence
	if settle <= 0 {
		settle = DefaultSettleConfidence
	}
	if rc.commanderConfidence() < settle || len(rc.State.OpenQuestions) > 0 {
		return d, false
	}
	return types.Decision{
		Target: rc.Catalog.JudgeName(),
		Reason: fmt.Sprintf("commander confidence %.2f with no open questions", rc.commanderConfidence()),
	}, true
}

// postRebuttalSettleRule routes to the judge once the rebuttal is done and
// no open questions remain, instead of continuing analysis.
func postRebuttalSettleRule(rc RuleContext, d types.Decision) (types.Decision, bool) {
	if d.Stop || d.Target == rc.Catalog.JudgeName() {
		return d, false
	}
	if !roundHasPhase(rc.RoundTurns, types.PhaseRebuttal) || len(rc.State.OpenQuestions) > 0 {
		return d, false
	}
	return types.Decision{
		Target: rc.Catalog.JudgeName(),
		Reason: "rebuttal complete with no open questions",
	}, true
}

// fallbackDecision is the deterministic, model-free route used by the
// budget guard and after failed dynamic routing: the least-recently-spoken
// analysis agent that has not spoken this round, else the judge.
func fallbackDecision(rc RuleContext) types.Decision {
	spokenThisRound := spokenAgents(rc.RoundTurns)
	lastSpoke := make(map[string]int)
	for i, turn := range rc.Turns {
		lastSpoke[turn.AgentName] = i
	}

	best := ""
	bestIdx := len(rc.Turns) + 1
	for _, name := range rc.Catalog.AnalysisAgents() {
		if _, spoke := spokenThisRound[name]; spoke {
			continue
		}
		idx, ever := lastSpoke[name]
		if !ever {
			idx = -1
		}
		if idx < bestIdx {
			best = name
			bestIdx = idx
		}
	}

	if best != "" {
		return types.Decision{
			Target: best,
			Reason: fmt.Sprintf("deterministic fallback: %s least recently spoken", best),
			Mode:   types.DecisionBudget,
		}
	}
	return types.Decision{
		Target: rc.Catalog.JudgeName(),
		Reason: "deterministic fallback: all analysis agents spoke this round",
		Mode:   types.DecisionBudget,
	}
}

func roundHasPhase(turns []types.Turn, phase types.Phase) bool {
	for _, turn := range turns {
		if turn.Phase == phase {
			return true
		}
	}
	return false
}

func spokenAgents(turns []types.Turn) map[string]struct{} {
	spoken := make(map[string]struct{}, len(turns))
	for _, turn := range turns {
		spoken[turn.AgentName] = struct{}{}
	}
	return spoken
}

// commanderConfidence reads the commander's latest self-reported confidence
// from the agent outputs.
func (rc RuleContext) commanderConfidence() float64 {
	out, ok := rc.State.AgentOutputs[catalog.Commander]
	if !ok {
		return 0
	}
	conf, ok := out["confidence"].(float64)
	if !ok {
		return 0
	}
	return types.ClampConfidence(conf)
}
