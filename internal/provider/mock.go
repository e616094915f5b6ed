package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MockProvider implements Provider without real API calls. It serves
// responses from a scripted scenario: steps with a trigger fire when the
// trigger substring appears in the request, untriggered steps are consumed
// in order.
type MockProvider struct {
	mu       sync.Mutex
	steps    []ScenarioStep
	consumed []bool
	model    string
}

// NewMockProvider creates a mock provider from a scenario.
func NewMockProvider(scenario *Scenario) *MockProvider {
	return &MockProvider{
		steps:    scenario.Steps,
		consumed: make([]bool, len(scenario.Steps)),
		model:    "mock:" + scenario.Name,
	}
}

// NewMockProviderFromFile creates a mock provider from a scenario file.
func NewMockProviderFromFile(path string) (*MockProvider, error) {
	scenario, err := LoadScenario(path)
	if err != nil {
		return nil, err
	}
	return NewMockProvider(scenario), nil
}

// Invoke implements Provider.Invoke.
func (m *MockProvider) Invoke(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	step, ok := m.match(req.System + "\n" + req.Prompt)
	if !ok {
		// Scenario exhausted: answer with an empty object so callers
		// exercise their degraded-output path deterministically.
		return &Response{Text: "{}"}, nil
	}

	switch step.Fail {
	case "recoverable":
		return nil, Recoverable(failMessage(step, "scripted transient failure"), nil)
	case "fatal":
		return nil, Fatal(failMessage(step, "scripted fatal failure"), nil)
	}

	return &Response{
		Text: step.Text,
		Usage: Usage{
			InputTokens:  len(req.Prompt) / 4,
			OutputTokens: len(step.Text) / 4,
		},
	}, nil
}

// match returns the first matching unconsumed step. Triggered steps win
// over positional ones.
func (m *MockProvider) match(request string) (ScenarioStep, bool) {
	for i, step := range m.steps {
		if m.consumed[i] || step.Trigger == "" {
			continue
		}
		if containsFold(request, step.Trigger) {
			if !step.Repeat {
				m.consumed[i] = true
			}
			return step, true
		}
	}
	for i, step := range m.steps {
		if m.consumed[i] || step.Trigger != "" {
			continue
		}
		if !step.Repeat {
			m.consumed[i] = true
		}
		return step, true
	}
	return ScenarioStep{}, false
}

func failMessage(step ScenarioStep, fallback string) string {
	if step.FailMessage != "" {
		return step.FailMessage
	}
	return fallback
}

func containsFold(haystack, needle string) bool {
	// Triggers are short; a simple scan is fine.
	if needle == "" {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if equalFold(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Name implements Provider.Name.
func (m *MockProvider) Name() string { return "mock" }

// Model implements Provider.Model.
func (m *MockProvider) Model() string { return m.model }

// FuncProvider adapts a function to the Provider interface. Used by tests
// that need full control over individual calls.
type FuncProvider struct {
	// Fn handles each Invoke call.
	Fn func(ctx context.Context, req Request) (*Response, error)

	// ModelID is reported by Model(); defaults to "func".
	ModelID string
}

// Invoke implements Provider.Invoke.
func (f *FuncProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	if f.Fn == nil {
		return nil, errors.New("FuncProvider.Fn is nil")
	}
	return f.Fn(ctx, req)
}

// Name implements Provider.Name.
func (f *FuncProvider) Name() string { return "func" }

// Model implements Provider.Model.
func (f *FuncProvider) Model() string {
	if f.ModelID == "" {
		return "func"
	}
	return f.ModelID
}

var (
	_ Provider = (*MockProvider)(nil)
	_ Provider = (*AnthropicProvider)(nil)
	_ Provider = (*FuncProvider)(nil)
)

// ErrScenarioExhausted is kept for callers that want to distinguish an
// exhausted scenario; the mock currently degrades instead of failing.
var ErrScenarioExhausted = fmt.Errorf("mock scenario exhausted")
