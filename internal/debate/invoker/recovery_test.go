package invoker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/inquest/internal/debate/types"
)

func TestRecoverOutput(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		phase types.Phase
		want  map[string]interface{}
	}{
		{
			name:  "clean json",
			text:  `{"summary": "ok", "confidence": 0.8}`,
			phase: types.PhaseAnalysis,
			want:  map[string]interface{}{"summary": "ok", "confidence": 0.8},
		},
		{
			name: "fenced block with language tag",
			text: "Here is my analysis:\n```json\n{\"conclusion\": \"oom kill\"}\n```\nHope that helps.",
			phase: types.PhaseAnalysis,
			want:  map[string]interface{}{"conclusion": "oom kill"},
		},
		{
			name: "fenced block without language tag",
			text: "```\n{\"conclusion\": \"disk full\"}\n```",
			phase: types.PhaseAnalysis,
			want:  map[string]interface{}{"conclusion": "disk full"},
		},
		{
			name:  "prose-wrapped object",
			text:  `After reviewing the logs I conclude {"conclusion": "dns failure", "confidence": 0.7} based on the evidence.`,
			phase: types.PhaseAnalysis,
			want:  map[string]interface{}{"conclusion": "dns failure", "confidence": 0.7},
		},
		{
			name:  "braces inside quoted strings do not skew depth",
			text:  `noise {"summary": "config was {malformed}", "confidence": 0.5} noise`,
			phase: types.PhaseAnalysis,
			want:  map[string]interface{}{"summary": "config was {malformed}", "confidence": 0.5},
		},
		{
			name:  "escaped quotes inside strings",
			text:  `{"summary": "the \"primary\" db", "confidence": 0.6}`,
			phase: types.PhaseAnalysis,
			want:  map[string]interface{}{"summary": `the "primary" db`, "confidence": 0.6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RecoverOutput(tt.text, tt.phase)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecoverOutputFailure(t *testing.T) {
	_, err := RecoverOutput("no structure here at all", types.PhaseAnalysis)
	assert.ErrorIs(t, err, ErrNoStructuredOutput)

	// Truncated non-judgment output is not deep-recovered.
	_, err = RecoverOutput(`{"summary": "cut off`, types.PhaseAnalysis)
	assert.ErrorIs(t, err, ErrNoStructuredOutput)
}

func TestRecoverTruncatedJudgment(t *testing.T) {
	// The trailing object was cut off mid-stream; the verdict fields are
	// still salvaged individually.
	text := `{"root_cause": "connection pool exhaustion on the primary", "summary": "pool size 10 with 400 rps", "confidence": 0.84, "evidence_chain": ["pool wait p99 9s", "conn refused in app logs", "no infra anoma`

	got, err := RecoverOutput(text, types.PhaseJudgment)
	require.NoError(t, err)
	assert.Equal(t, "connection pool exhaustion on the primary", got["root_cause"])
	assert.Equal(t, "pool size 10 with 400 rps", got["summary"])
	assert.Equal(t, 0.84, got["confidence"])
	assert.Equal(t, []string{"pool wait p99 9s", "conn refused in app logs", "no infra anoma"}, got["evidence_chain"])
}

func TestRecoverTruncatedJudgmentValueCutMidString(t *testing.T) {
	text := `{"root_cause": "replication lag exceeded the failover thresho`
	got, err := RecoverOutput(text, types.PhaseJudgment)
	require.NoError(t, err)
	assert.Equal(t, "replication lag exceeded the failover thresho", got["root_cause"])
}

func TestRecoverJudgmentRequiresRootCause(t *testing.T) {
	_, err := RecoverOutput(`{"summary": "no verdict field here`, types.PhaseJudgment)
	assert.ErrorIs(t, err, ErrNoStructuredOutput)
}

func TestFirstBalancedObject(t *testing.T) {
	s, ok := firstBalancedObject(`x {"a": {"b": 1}} y {"c": 2}`)
	require.True(t, ok)
	assert.Equal(t, `{"a": {"b": 1}}`, s)

	_, ok = firstBalancedObject("never closes {")
	assert.False(t, ok)

	_, ok = firstBalancedObject("no braces")
	assert.False(t, ok)
}
