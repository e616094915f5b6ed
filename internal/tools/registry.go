// Package tools provides the capability tool registry for debate agents.
// Tools supply incident evidence (repository state, log excerpts, database
// health, prior-case lookups) that the invoker folds into agent prompts.
// The registry is an explicit, injected instance; there is no process-wide
// tool state.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/moolen/inquest/internal/logging"
)

// MaxToolResponseBytes caps a single tool response. Larger output is
// truncated to keep agent prompts within the model context.
const MaxToolResponseBytes = 16 * 1024

// Tool defines the interface for capability tools.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Execute runs the tool against a free-text incident query.
	Execute(ctx context.Context, query string) (*Result, error)
}

// Result is the output of one tool execution.
type Result struct {
	// Success indicates whether the tool executed successfully.
	Success bool `json:"success"`

	// Data contains the tool-specific output.
	Data interface{} `json:"data,omitempty"`

	// Error contains failure details when Success is false.
	Error string `json:"error,omitempty"`

	// Summary is a brief description of what happened.
	Summary string `json:"summary,omitempty"`

	// ExecutionTimeMs is how long the tool took to run.
	ExecutionTimeMs int64 `json:"executionTimeMs"`
}

// Registry manages tool registration and execution.
type Registry struct {
	tools  map[string]Tool
	mu     sync.RWMutex
	logger *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logging.GetLogger("tools"),
	}
}

// NewDefaultRegistry creates a registry with the four built-in lookup
// tools. evidenceDir may be empty; file-backed tools then fall back to
// their canned data.
func NewDefaultRegistry(evidenceDir string) (*Registry, error) {
	r := NewRegistry()
	r.Register(NewRepositoryTool(evidenceDir))
	r.Register(NewLogTool(evidenceDir))
	r.Register(NewDatabaseTool(evidenceDir))

	caseLib, err := NewCaseLibraryTool()
	if err != nil {
		return nil, err
	}
	r.Register(caseLib)
	return r, nil
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.logger.Debug("registered tool %s", tool.Name())
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Execute runs a tool by name. Failures come back as unsuccessful results,
// never as errors; a broken tool must not break the agent call.
func (r *Registry) Execute(ctx context.Context, name, query string) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return &Result{Success: false, Error: fmt.Sprintf("tool %q not found", name)}
	}

	start := time.Now()
	result, err := tool.Execute(ctx, query)
	if err != nil {
		return &Result{
			Success:         false,
			Error:           err.Error(),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return truncateResult(result, MaxToolResponseBytes)
}

// Gather runs the named tools and renders their results for prompt
// inclusion. Implements the invoker's ToolRunner.
func (r *Registry) Gather(ctx context.Context, toolNames []string, query string) map[string]string {
	out := make(map[string]string, len(toolNames))
	for _, name := range toolNames {
		result := r.Execute(ctx, name, query)
		out[name] = renderResult(result)
	}
	return out
}

func renderResult(result *Result) string {
	if !result.Success {
		return fmt.Sprintf("tool failed: %s", result.Error)
	}
	data, err := json.MarshalIndent(result.Data, "", "  ")
	if err != nil {
		return result.Summary
	}
	if result.Summary != "" {
		return result.Summary + "\n" + string(data)
	}
	return string(data)
}

// truncateResult bounds oversized tool output while keeping it valid for
// prompt inclusion.
func truncateResult(result *Result, maxBytes int) *Result {
	if result == nil || result.Data == nil {
		return result
	}
	dataBytes, err := json.Marshal(result.Data)
	if err != nil || len(dataBytes) <= maxBytes {
		return result
	}

	partial := string(dataBytes[:maxBytes*80/100])
	return &Result{
		Success: result.Success,
		Data: map[string]interface{}{
			"_truncated":      true,
			"_original_bytes": len(dataBytes),
			"partial_data":    partial,
		},
		Error:           result.Error,
		Summary:         fmt.Sprintf("%s [truncated %d to %d bytes]", result.Summary, len(dataBytes), maxBytes),
		ExecutionTimeMs: result.ExecutionTimeMs,
	}
}
