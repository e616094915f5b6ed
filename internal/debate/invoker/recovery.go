package invoker

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/moolen/inquest/internal/debate/types"
)

// ErrNoStructuredOutput is returned when no recovery layer could extract a
// JSON object from the response text.
var ErrNoStructuredOutput = errors.New("no structured output recovered")

// RecoverOutput extracts a structured object from raw model output. Layers,
// in order: parse the whole text, parse the content of fenced code blocks,
// scan for the first balanced brace-delimited object with quote-aware depth
// tracking. Judgment-phase output gets one more pass that salvages the
// verdict fields from a truncated trailing object.
func RecoverOutput(text string, phase types.Phase) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(text)

	if obj, ok := parseObject(trimmed); ok {
		return obj, nil
	}

	for _, block := range fencedBlocks(trimmed) {
		if obj, ok := parseObject(block); ok {
			return obj, nil
		}
	}

	if candidate, ok := firstBalancedObject(trimmed); ok {
		if obj, ok := parseObject(candidate); ok {
			return obj, nil
		}
	}

	if phase == types.PhaseJudgment {
		if obj, ok := recoverTruncatedVerdict(trimmed); ok {
			return obj, nil
		}
	}

	return nil, ErrNoStructuredOutput
}

func parseObject(s string) (map[string]interface{}, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, obj != nil
}

// fencedBlocks returns the contents of all ``` fenced blocks, language tag
// stripped.
func fencedBlocks(s string) []string {
	var blocks []string
	for {
		start := strings.Index(s, "```")
		if start < 0 {
			return blocks
		}
		s = s[start+3:]
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && nl < 20 {
			// Drop the language tag line (```json etc.).
			if !strings.ContainsAny(s[:nl], "{}") {
				s = s[nl+1:]
			}
		}
		end := strings.Index(s, "```")
		if end < 0 {
			blocks = append(blocks, strings.TrimSpace(s))
			return blocks
		}
		blocks = append(blocks, strings.TrimSpace(s[:end]))
		s = s[end+3:]
	}
}

// firstBalancedObject scans for the first brace-delimited object, tracking
// string literals and escapes so braces inside quoted values don't skew the
// depth count.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// recoverTruncatedVerdict salvages the judgment fields from output whose
// trailing object was cut off mid-stream. It pulls root_cause, summary,
// evidence_chain and confidence individually, so a verdict survives even
// when the object never closes.
func recoverTruncatedVerdict(s string) (map[string]interface{}, bool) {
	rootCause, ok := extractStringField(s, "root_cause")
	if !ok {
		return nil, false
	}

	out := map[string]interface{}{"root_cause": rootCause}
	if summary, ok := extractStringField(s, "summary"); ok {
		out["summary"] = summary
	}
	if conf, ok := extractNumberField(s, "confidence"); ok {
		out["confidence"] = conf
	}
	if chain, ok := extractStringArrayField(s, "evidence_chain"); ok {
		out["evidence_chain"] = chain
	}
	return out, true
}

// extractStringField finds `"key": "value"` and returns the unescaped value.
func extractStringField(s, key string) (string, bool) {
	idx := strings.Index(s, `"`+key+`"`)
	if idx < 0 {
		return "", false
	}
	rest := s[idx+len(key)+2:]
	rest = strings.TrimLeft(rest, " \t\n:")
	if len(rest) == 0 || rest[0] != '"' {
		return "", false
	}

	var b strings.Builder
	escaped := false
	for i := 1; i < len(rest); i++ {
		c := rest[i]
		if escaped {
			switch c {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(c)
			}
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			return b.String(), true
		}
		b.WriteByte(c)
	}
	// The closing quote was truncated away; whatever accumulated is the
	// best available value.
	if b.Len() > 0 {
		return b.String(), true
	}
	return "", false
}

func extractNumberField(s, key string) (float64, bool) {
	idx := strings.Index(s, `"`+key+`"`)
	if idx < 0 {
		return 0, false
	}
	rest := s[idx+len(key)+2:]
	rest = strings.TrimLeft(rest, " \t\n:")
	end := 0
	for end < len(rest) && (rest[end] == '-' || rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(rest[:end], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func extractStringArrayField(s, key string) ([]string, bool) {
	idx := strings.Index(s, `"`+key+`"`)
	if idx < 0 {
		return nil, false
	}
	rest := s[idx+len(key)+2:]
	rest = strings.TrimLeft(rest, " \t\n:")
	if len(rest) == 0 || rest[0] != '[' {
		return nil, false
	}

	var items []string
	i := 1
	for i < len(rest) {
		switch rest[i] {
		case ']':
			return items, true
		case '"':
			item, consumed := readQuoted(rest[i:])
			if consumed == 0 {
				// Truncated mid-string; keep the partial item.
				if item != "" {
					items = append(items, item)
				}
				return items, len(items) > 0
			}
			items = append(items, item)
			i += consumed
		default:
			i++
		}
	}
	return items, len(items) > 0
}

// readQuoted reads a quoted string starting at s[0] == '"'. It returns the
// value and the number of bytes consumed including both quotes, or 0 when
// the string never closes.
func readQuoted(s string) (string, int) {
	var b strings.Builder
	escaped := false
	for i := 1; i < len(s); i++ {
		c := s[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			return b.String(), i + 1
		}
		b.WriteByte(c)
	}
	return b.String(), 0
}
