package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider using the Anthropic Claude API.
type AnthropicProvider struct {
	client anthropic.Client
	config Config
}

// NewAnthropicProvider creates a new Anthropic provider. The API key is
// read from the ANTHROPIC_API_KEY environment variable by default.
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	applyDefaults(&cfg)
	return &AnthropicProvider{
		client: anthropic.NewClient(),
		config: cfg,
	}, nil
}

// NewAnthropicProviderWithKey creates an Anthropic provider with an
// explicit API key.
func NewAnthropicProviderWithKey(apiKey string, cfg Config) (*AnthropicProvider, error) {
	applyDefaults(&cfg)
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		config: cfg,
	}, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
}

// Invoke implements Provider.Invoke for Anthropic.
func (p *AnthropicProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	system := buildSystemPrompt(req)
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var textParts []string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}

	return &Response{
		Text: strings.Join(textParts, ""),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// Name implements Provider.Name.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model implements Provider.Model.
func (p *AnthropicProvider) Model() string { return p.config.Model }

// buildSystemPrompt appends the expected output schema to the system
// instruction so the model produces structured output.
func buildSystemPrompt(req Request) string {
	if len(req.Schema) == 0 {
		return req.System
	}
	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		return req.System
	}
	return req.System + "\n\nRespond with a single JSON object matching this schema:\n" + string(schemaJSON)
}

// classifyAnthropicError maps API failures onto the recoverable/fatal
// split. Auth and configuration errors are fatal; everything else
// (timeouts, rate limits, server errors) degrades the single turn.
func classifyAnthropicError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Recoverable("request timed out", err)
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 401, 403:
			return Fatal("authentication rejected", err)
		case 404:
			return Fatal(fmt.Sprintf("model not found (status %d)", apierr.StatusCode), err)
		case 429:
			return Recoverable("rate limited", err)
		default:
			if apierr.StatusCode >= 500 {
				return Recoverable("backend error", err)
			}
			return Recoverable(fmt.Sprintf("request rejected (status %d)", apierr.StatusCode), err)
		}
	}

	return Recoverable("transport error", err)
}
