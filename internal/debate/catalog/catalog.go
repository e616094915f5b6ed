// Package catalog holds the static agent roster and the default execution
// sequence. Specs are immutable; the catalog validates name uniqueness and
// phase completeness once at startup so routing never dispatches on an
// unknown name.
package catalog

import (
	"fmt"
	"time"

	"github.com/moolen/inquest/internal/debate/types"
)

// Built-in agent names. Routing rules reference agents through the catalog,
// not through these constants, but the defaults and tests use them.
const (
	InfraAnalyst = "infra-analyst"
	AppAnalyst   = "app-analyst"
	DataAnalyst  = "data-analyst"
	Critic       = "critic"
	Rebuttal     = "rebuttal"
	Judge        = "judge"
	Commander    = "commander"
)

// Catalog is a validated, immutable agent roster.
type Catalog struct {
	specs  []types.AgentSpec
	byName map[string]types.AgentSpec
}

// New builds a catalog from the given specs. It fails on duplicate names,
// invalid phases, a missing or duplicated judge, or a critique agent
// without a rebuttal counterpart.
func New(specs []types.AgentSpec) (*Catalog, error) {
	if err := Validate(specs); err != nil {
		return nil, err
	}
	byName := make(map[string]types.AgentSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}
	return &Catalog{specs: specs, byName: byName}, nil
}

// Default returns the built-in incident-analysis roster: three analysis
// specialists, a critique/rebuttal pair, and the judge.
func Default() *Catalog {
	c, err := New(defaultSpecs())
	if err != nil {
		// The built-in roster is validated by tests; this is unreachable.
		panic(fmt.Sprintf("built-in catalog invalid: %v", err))
	}
	return c
}

// Validate checks name uniqueness and phase completeness.
func Validate(specs []types.AgentSpec) error {
	seen := make(map[string]struct{}, len(specs))
	counts := make(map[types.Phase]int)
	for _, spec := range specs {
		if spec.Name == "" {
			return fmt.Errorf("agent spec with empty name")
		}
		if _, dup := seen[spec.Name]; dup {
			return fmt.Errorf("duplicate agent name %q", spec.Name)
		}
		seen[spec.Name] = struct{}{}
		if !spec.Phase.Valid() {
			return fmt.Errorf("agent %q has unknown phase %q", spec.Name, spec.Phase)
		}
		counts[spec.Phase]++
	}
	if counts[types.PhaseAnalysis] == 0 {
		return fmt.Errorf("catalog has no analysis agents")
	}
	if counts[types.PhaseJudgment] != 1 {
		return fmt.Errorf("catalog needs exactly one judgment agent, got %d", counts[types.PhaseJudgment])
	}
	if (counts[types.PhaseCritique] > 0) != (counts[types.PhaseRebuttal] > 0) {
		return fmt.Errorf("critique and rebuttal agents must be configured together")
	}
	return nil
}

// Sequence returns the default execution order: all analysis agents first,
// then (when enabled) critique and rebuttal, and the judge last. Pure and
// deterministic; callers may not mutate the returned specs.
func (c *Catalog) Sequence(enableCritique bool) []types.AgentSpec {
	ordered := make([]types.AgentSpec, 0, len(c.specs))
	for _, spec := range c.specs {
		if spec.Phase == types.PhaseAnalysis {
			ordered = append(ordered, spec)
		}
	}
	if enableCritique {
		for _, phase := range []types.Phase{types.PhaseCritique, types.PhaseRebuttal} {
			for _, spec := range c.specs {
				if spec.Phase == phase {
					ordered = append(ordered, spec)
				}
			}
		}
	}
	for _, spec := range c.specs {
		if spec.Phase == types.PhaseJudgment {
			ordered = append(ordered, spec)
		}
	}
	return ordered
}

// Lookup returns the spec for name.
func (c *Catalog) Lookup(name string) (types.AgentSpec, bool) {
	spec, ok := c.byName[name]
	return spec, ok
}

// AnalysisAgents returns the analysis-phase agent names in roster order.
// The judge-coverage rule treats this as the minimum set that must speak.
func (c *Catalog) AnalysisAgents() []string {
	var names []string
	for _, spec := range c.specs {
		if spec.Phase == types.PhaseAnalysis {
			names = append(names, spec.Name)
		}
	}
	return names
}

// JudgeName returns the judgment agent's name.
func (c *Catalog) JudgeName() string {
	for _, spec := range c.specs {
		if spec.Phase == types.PhaseJudgment {
			return spec.Name
		}
	}
	return ""
}

// Specs returns the full roster in declaration order.
func (c *Catalog) Specs() []types.AgentSpec {
	return c.specs
}

// CommanderSpec returns the coordinating agent used for round decomposition
// and dynamic routing. The commander is not part of the debate sequence and
// produces no evidence cards.
func CommanderSpec() types.AgentSpec {
	return types.AgentSpec{
		Name:  Commander,
		Role:  "incident commander coordinating the debate",
		Phase: types.PhaseAnalysis,
		SystemPrompt: "You are the incident commander. You decompose the incident, " +
			"assign focus areas to the specialist analysts, and decide who should " +
			"speak next. You never analyze the incident yourself. Respond with a " +
			"single JSON object containing next_agent or parallel_agents, an " +
			"optional stop flag with a reason, your own confidence that the debate " +
			"has converged, and optional per-agent commands.",
		MaxTokens:   1024,
		Timeout:     45 * time.Second,
		Temperature: 0.0,
	}
}

func defaultSpecs() []types.AgentSpec {
	return []types.AgentSpec{
		{
			Name:  InfraAnalyst,
			Role:  "infrastructure and network analyst",
			Phase: types.PhaseAnalysis,
			SystemPrompt: "You are an infrastructure analyst on an incident response team. " +
				"Examine the evidence for infrastructure causes: node pressure, network " +
				"partitions, DNS failures, resource exhaustion, deploy rollouts. " +
				"Respond with a single JSON object: summary, conclusion, " +
				"evidence_chain (ordered list of observations), confidence in [0,1].",
			Tools:       []string{"logs", "repository"},
			MaxTokens:   2048,
			Timeout:     90 * time.Second,
			Temperature: 0.0,
		},
		{
			Name:  AppAnalyst,
			Role:  "application and code analyst",
			Phase: types.PhaseAnalysis,
			SystemPrompt: "You are an application analyst on an incident response team. " +
				"Examine the evidence for application causes: recent code changes, " +
				"unhandled errors, memory leaks, misconfiguration, dependency failures. " +
				"Respond with a single JSON object: summary, conclusion, " +
				"evidence_chain (ordered list of observations), confidence in [0,1].",
			Tools:       []string{"repository", "logs"},
			MaxTokens:   2048,
			Timeout:     90 * time.Second,
			Temperature: 0.0,
		},
		{
			Name:  DataAnalyst,
			Role:  "database and storage analyst",
			Phase: types.PhaseAnalysis,
			SystemPrompt: "You are a database analyst on an incident response team. " +
				"Examine the evidence for data-layer causes: slow queries, lock " +
				"contention, replication lag, connection pool exhaustion, disk pressure. " +
				"Respond with a single JSON object: summary, conclusion, " +
				"evidence_chain (ordered list of observations), confidence in [0,1].",
			Tools:       []string{"database", "logs"},
			MaxTokens:   2048,
			Timeout:     90 * time.Second,
			Temperature: 0.0,
		},
		{
			Name:  Critic,
			Role:  "devil's advocate challenging the analysts",
			Phase: types.PhaseCritique,
			SystemPrompt: "You are the critic on an incident response team. Challenge " +
				"the analysts' conclusions: find unsupported claims, alternative " +
				"explanations the evidence permits, and missing checks. Respond with " +
				"a single JSON object: summary, conclusion, challenges (list of " +
				"objections keyed by agent), confidence in [0,1].",
			MaxTokens:   2048,
			Timeout:     90 * time.Second,
			Temperature: 0.2,
		},
		{
			Name:  Rebuttal,
			Role:  "analyst advocate answering the critique",
			Phase: types.PhaseRebuttal,
			SystemPrompt: "You are the rebuttal speaker on an incident response team. " +
				"Answer the critic's objections on behalf of the analysts: concede " +
				"what the evidence cannot support, defend what it can. Respond with " +
				"a single JSON object: summary, conclusion, resolved (objections " +
				"answered), open_questions (objections that stand), confidence in [0,1].",
			MaxTokens:   2048,
			Timeout:     90 * time.Second,
			Temperature: 0.1,
		},
		{
			Name:  Judge,
			Role:  "judge issuing the final verdict",
			Phase: types.PhaseJudgment,
			SystemPrompt: "You are the judge on an incident response team. Weigh every " +
				"analyst conclusion, the critique, and the rebuttal, then issue a " +
				"verdict. Respond with a single JSON object: root_cause, summary, " +
				"evidence_chain (ordered list of the decisive evidence), " +
				"confidence in [0,1].",
			Tools:       []string{"case-library"},
			MaxTokens:   3072,
			Timeout:     120 * time.Second,
			Temperature: 0.0,
		},
	}
}
