// Package audit writes the per-session append-only event log as JSONL.
// Every routing decision, turn, checkpoint, and lifecycle change becomes an
// event with a strictly increasing sequence number and a content-derived
// event id, so consumers can detect duplicate delivery and replay the full
// history of a session.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeSessionStart marks the start of a new session.
	EventTypeSessionStart EventType = "session_start"
	// EventTypeDecision logs one supervisor routing decision.
	EventTypeDecision EventType = "decision"
	// EventTypeTurnExecuted logs a completed agent turn.
	EventTypeTurnExecuted EventType = "turn_executed"
	// EventTypeTurnDegraded logs a turn produced by the failure path.
	EventTypeTurnDegraded EventType = "turn_degraded"
	// EventTypeRoundCheckpoint marks a persisted round checkpoint.
	EventTypeRoundCheckpoint EventType = "round_checkpoint"
	// EventTypeConsensus marks the consensus shortcut firing.
	EventTypeConsensus EventType = "consensus"
	// EventTypeFinalization logs the final verdict synthesis.
	EventTypeFinalization EventType = "finalization"
	// EventTypeError marks a processing error.
	EventTypeError EventType = "error"
	// EventTypeSessionEnd marks the end of a session.
	EventTypeSessionEnd EventType = "session_end"

	// EventTypeLLMRequest logs each model request with token usage.
	EventTypeLLMRequest EventType = "llm_request"
	// EventTypeSessionMetrics logs aggregated session metrics.
	EventTypeSessionMetrics EventType = "session_metrics"
)

// Event is a single audit log event.
type Event struct {
	// EventID is derived from the event content; identical content yields
	// an identical id, making duplicate delivery detectable.
	EventID string `json:"event_id"`

	// Sequence strictly increases per session.
	Sequence int64 `json:"sequence"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// Type is the event type.
	Type EventType `json:"type"`
	// SessionID is the session identifier.
	SessionID string `json:"session_id"`
	// Agent is the agent that generated the event, if applicable.
	Agent string `json:"agent,omitempty"`
	// Data contains event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Logger writes audit events to a JSONL file and fans them out to an
// optional sink.
type Logger struct {
	file      *os.File
	writer    *bufio.Writer
	mutex     sync.Mutex
	sessionID string
	sequence  int64
	sink      func(Event)
}

// NewLogger creates an audit logger appending to filePath.
func NewLogger(filePath, sessionID string) (*Logger, error) {
	// Event log path comes from the data directory configuration.
	// #nosec G304
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log file: %w", err)
	}

	return &Logger{
		file:      file,
		writer:    bufio.NewWriter(file),
		sessionID: sessionID,
	}, nil
}

// SetSink registers a callback invoked for every written event. Used to
// feed live event subscriptions.
func (l *Logger) SetSink(sink func(Event)) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.sink = sink
}

// SetSequence advances the sequence counter, used when resuming a session
// whose event log already contains entries.
func (l *Logger) SetSequence(seq int64) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.sequence = seq
}

// write assigns sequence and id, persists the event, and notifies the sink.
func (l *Logger) write(event Event) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.sequence++
	event.Sequence = l.sequence
	event.EventID = deriveEventID(event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if _, err := l.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for crash safety
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush event log: %w", err)
	}

	if l.sink != nil {
		l.sink(event)
	}
	return nil
}

// deriveEventID hashes the identity-bearing content of an event. The
// timestamp is excluded on purpose: a redelivered event with the same
// content must produce the same id.
func deriveEventID(event Event) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|", event.SessionID, event.Sequence, event.Type, event.Agent)
	if event.Data != nil {
		// Marshal sorts map keys, so the hash input is stable.
		if data, err := json.Marshal(event.Data); err == nil {
			h.Write(data)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// LogSessionStart logs the start of a new session.
func (l *Logger) LogSessionStart(model string, contextKeys []string) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeSessionStart,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"model":        model,
			"context_keys": contextKeys,
		},
	})
}

// LogDecision logs one supervisor routing decision.
func (l *Logger) LogDecision(target string, parallel []string, stop bool, mode, reason string) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeDecision,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"target":   target,
			"parallel": parallel,
			"stop":     stop,
			"mode":     mode,
			"reason":   reason,
		},
	})
}

// LogTurn logs an executed turn, degraded or not.
func (l *Logger) LogTurn(agent string, round int, phase string, confidence float64, degraded bool) error {
	eventType := EventTypeTurnExecuted
	if degraded {
		eventType = EventTypeTurnDegraded
	}
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		SessionID: l.sessionID,
		Agent:     agent,
		Data: map[string]interface{}{
			"round":      round,
			"phase":      phase,
			"confidence": confidence,
		},
	})
}

// LogRoundCheckpoint marks a persisted round checkpoint.
func (l *Logger) LogRoundCheckpoint(round, discussionSteps, cards int) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeRoundCheckpoint,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"round":            round,
			"discussion_steps": discussionSteps,
			"cards":            cards,
		},
	})
}

// LogConsensus marks the consensus shortcut firing.
func (l *Logger) LogConsensus(confidence, threshold float64) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeConsensus,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"confidence": confidence,
			"threshold":  threshold,
		},
	})
}

// LogFinalization logs the final verdict synthesis.
func (l *Logger) LogFinalization(producedBy string, confidence float64, degraded bool) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeFinalization,
		SessionID: l.sessionID,
		Agent:     producedBy,
		Data: map[string]interface{}{
			"confidence": confidence,
			"degraded":   degraded,
		},
	})
}

// LogError logs a processing error.
func (l *Logger) LogError(agent string, err error) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeError,
		SessionID: l.sessionID,
		Agent:     agent,
		Data: map[string]interface{}{
			"error": err.Error(),
		},
	})
}

// LogSessionEnd logs the end of a session with its terminal status.
func (l *Logger) LogSessionEnd(status string) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeSessionEnd,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"status": status,
		},
	})
}

// LogLLMRequest logs an individual model request with token usage.
func (l *Logger) LogLLMRequest(provider, model string, inputTokens, outputTokens int) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeLLMRequest,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"provider":      provider,
			"model":         model,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
			"total_tokens":  inputTokens + outputTokens,
		},
	})
}

// LogSessionMetrics logs aggregated metrics for the entire session.
func (l *Logger) LogSessionMetrics(totalRequests, totalInputTokens, totalOutputTokens int) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeSessionMetrics,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"total_llm_requests":  totalRequests,
			"total_input_tokens":  totalInputTokens,
			"total_output_tokens": totalOutputTokens,
			"total_tokens":        totalInputTokens + totalOutputTokens,
		},
	})
}

// ReadEvents loads all events from a JSONL event log. Used by resume to
// restore the sequence counter and by inspection tooling.
func ReadEvents(filePath string) ([]Event, error) {
	// #nosec G304
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			// A torn trailing write after a crash is expected; stop there.
			break
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan event log: %w", err)
	}
	return events, nil
}

// Close flushes and closes the event log.
func (l *Logger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var errs []error
	if err := l.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush event log: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close event log file: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing event log: %v", errs)
	}
	return nil
}
