// Package provider implements the model backend abstraction for the debate
// engine. A Provider drives exactly one structured model call; the invoker
// layers output recovery and degradation on top of it.
package provider

import (
	"context"
	"time"
)

// Request describes one model call.
type Request struct {
	// System is the role instruction for the call.
	System string

	// Prompt is the user prompt.
	Prompt string

	// Schema is the JSON schema the response is expected to match. It is
	// advisory: backends embed it in the instruction, they do not enforce
	// it. The invoker recovers structure from whatever comes back.
	Schema map[string]interface{}

	// MaxTokens bounds the response size.
	MaxTokens int

	// Temperature controls sampling randomness.
	Temperature float64

	// Timeout bounds the call. Zero means the caller's context governs.
	Timeout time.Duration
}

// Usage contains token usage information.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the model's raw response.
type Response struct {
	// Text is the full text content of the response.
	Text string

	// Usage contains token accounting.
	Usage Usage
}

// Provider defines the interface for model backends.
type Provider interface {
	// Invoke sends one request and returns the complete response.
	// Errors are classified: recoverable errors degrade the single turn,
	// fatal errors abort the session.
	Invoke(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider name for logging and display.
	Name() string

	// Model returns the model identifier being used.
	Model() string
}

// Config contains common configuration for providers.
type Config struct {
	// Model is the model identifier (e.g., "claude-sonnet-4-5-20250929").
	Model string

	// MaxTokens is the default maximum number of tokens to generate.
	MaxTokens int

	// Temperature is the default sampling temperature.
	Temperature float64
}

// DefaultConfig returns sensible defaults for incident analysis.
func DefaultConfig() Config {
	return Config{
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   4096,
		Temperature: 0.0, // deterministic for incident response
	}
}
