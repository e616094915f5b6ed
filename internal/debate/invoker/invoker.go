// Package invoker drives a single model call for one agent spec: it builds
// the request, recovers structured output from whatever the model returns,
// and converts recoverable failures into degraded turns so routing always
// continues.
package invoker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/moolen/inquest/internal/debate/types"
	"github.com/moolen/inquest/internal/logging"
	"github.com/moolen/inquest/internal/provider"
)

// ToolRunner supplies capability tool output that is folded into the
// agent's prompt context. Implemented by the tools registry.
type ToolRunner interface {
	// Gather runs the named tools against the incident query and returns
	// their rendered outputs keyed by tool name. Failures are rendered as
	// error notes rather than returned.
	Gather(ctx context.Context, toolNames []string, query string) map[string]string
}

// Invoker executes agent calls against a model backend.
type Invoker struct {
	provider provider.Provider
	tools    ToolRunner
	logger   *logging.Logger
}

// New creates an invoker. tools may be nil; agents then run without
// capability tool context.
func New(p provider.Provider, tools ToolRunner) *Invoker {
	return &Invoker{
		provider: p,
		tools:    tools,
		logger:   logging.GetLogger("debate.invoker"),
	}
}

// Invoke runs one model call for spec and returns the resulting turn.
// Recoverable failures (timeout, malformed output, transient backend
// errors) produce a degraded turn with confidence 0 and an error note;
// fatal failures are returned as errors and the caller aborts the session.
func (inv *Invoker) Invoke(ctx context.Context, spec types.AgentSpec, prompt string, round, loopRound int, history []types.EvidenceCard) (types.Turn, error) {
	startedAt := time.Now()

	fullPrompt := inv.buildPrompt(ctx, spec, prompt, loopRound, history)

	turn := types.Turn{
		Round:     round,
		Phase:     spec.Phase,
		AgentName: spec.Name,
		AgentRole: spec.Role,
		Model:     inv.provider.Model(),
		Prompt:    fullPrompt,
		StartedAt: startedAt,
	}

	resp, err := inv.provider.Invoke(ctx, provider.Request{
		System:      spec.SystemPrompt,
		Prompt:      fullPrompt,
		Schema:      schemaForPhase(spec.Phase),
		MaxTokens:   spec.MaxTokens,
		Temperature: spec.Temperature,
		Timeout:     spec.Timeout,
	})
	if err != nil {
		if provider.IsFatal(err) {
			inv.logger.ErrorWithErr("fatal backend error", err, spec.Name)
			return types.Turn{}, fmt.Errorf("agent %s: %w", spec.Name, err)
		}
		inv.logger.WarnWithFields("agent call degraded",
			logging.Field("agent", spec.Name),
			logging.Field("round", round),
			logging.Field("error", err.Error()),
		)
		return degrade(turn, fmt.Sprintf("agent call failed: %v", err)), nil
	}

	output, rerr := RecoverOutput(resp.Text, spec.Phase)
	turn.Usage = types.TokenUsage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	if rerr != nil {
		inv.logger.WarnWithFields("unrecoverable model output",
			logging.Field("agent", spec.Name),
			logging.Field("round", round),
			logging.Field("bytes", len(resp.Text)),
		)
		turn = degrade(turn, "model returned no parseable structured output")
		turn.Output["raw_text"] = truncate(resp.Text, 2000)
		return turn, nil
	}

	turn.Output = output
	turn.Confidence = types.ClampConfidence(confidenceFrom(output))
	turn.CompletedAt = time.Now()

	inv.logger.DebugWithFields("turn executed",
		logging.Field("agent", spec.Name),
		logging.Field("round", round),
		logging.Field("confidence", turn.Confidence),
	)
	return turn, nil
}

// buildPrompt assembles the user prompt: caller content, loop-round marker,
// recent history cards, and any capability tool output the spec enables.
func (inv *Invoker) buildPrompt(ctx context.Context, spec types.AgentSpec, prompt string, loopRound int, history []types.EvidenceCard) string {
	var b strings.Builder
	b.WriteString(prompt)

	if loopRound > 1 {
		fmt.Fprintf(&b, "\n\nThis is debate round %d; earlier rounds did not converge.", loopRound)
	}

	if len(history) > 0 {
		b.WriteString("\n\nConclusions recorded so far:\n")
		for _, card := range history {
			fmt.Fprintf(&b, "- %s (%s, confidence %.2f): %s\n",
				card.AgentName, card.Phase, card.Confidence, card.Conclusion)
		}
	}

	if inv.tools != nil && len(spec.Tools) > 0 {
		outputs := inv.tools.Gather(ctx, spec.Tools, prompt)
		if len(outputs) > 0 {
			b.WriteString("\nTool output:\n")
			for _, name := range spec.Tools {
				if out, ok := outputs[name]; ok {
					fmt.Fprintf(&b, "--- %s ---\n%s\n", name, out)
				}
			}
		}
	}

	return b.String()
}

// degrade finalizes a turn through the failure path: confidence 0, error
// note, human-readable conclusion.
func degrade(turn types.Turn, reason string) types.Turn {
	turn.Output = map[string]interface{}{
		"error":      reason,
		"conclusion": fmt.Sprintf("%s produced no usable output this turn (%s)", turn.AgentName, reason),
	}
	turn.Confidence = 0
	turn.CompletedAt = time.Now()
	return turn
}

// confidenceFrom reads the confidence field tolerantly: models emit it as a
// number, a numeric string, or occasionally a percentage.
func confidenceFrom(output map[string]interface{}) float64 {
	raw, ok := output["confidence"]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		if v > 1 && v <= 100 {
			return v / 100
		}
		return v
	case int:
		if v > 1 && v <= 100 {
			return float64(v) / 100
		}
		return float64(v)
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(v), "%")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		if strings.HasSuffix(strings.TrimSpace(v), "%") || (f > 1 && f <= 100) {
			return f / 100
		}
		return f
	default:
		return 0
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// schemaForPhase returns the advisory output schema embedded in the system
// instruction for each phase.
func schemaForPhase(phase types.Phase) map[string]interface{} {
	str := map[string]interface{}{"type": "string"}
	num := map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1}
	strArr := map[string]interface{}{"type": "array", "items": str}

	switch phase {
	case types.PhaseJudgment:
		return map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"root_cause":     str,
				"summary":        str,
				"evidence_chain": strArr,
				"confidence":     num,
			},
			"required": []string{"root_cause", "summary", "confidence"},
		}
	case types.PhaseCritique:
		return map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"summary":    str,
				"conclusion": str,
				"challenges": map[string]interface{}{"type": "object"},
				"confidence": num,
			},
			"required": []string{"summary", "conclusion", "confidence"},
		}
	case types.PhaseRebuttal:
		return map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"summary":        str,
				"conclusion":     str,
				"resolved":       strArr,
				"open_questions": strArr,
				"confidence":     num,
			},
			"required": []string{"summary", "conclusion", "confidence"},
		}
	default:
		return map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"summary":        str,
				"conclusion":     str,
				"evidence_chain": strArr,
				"confidence":     num,
			},
			"required": []string{"summary", "conclusion", "confidence"},
		}
	}
}
