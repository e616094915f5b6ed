// Package checkpoint persists session state for crash resume. Each session
// gets a state file and an append-only event log under the data directory;
// a shared task registry tracks in-flight sessions so a restarted process
// can find and resume them. Durability is best-effort: write failures are
// logged by callers and the session continues in memory.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/moolen/inquest/internal/debate/types"
	"github.com/moolen/inquest/internal/logging"
)

// ErrNotFound is returned when no state exists for a session id.
var ErrNotFound = errors.New("session not found")

const tasksFile = "tasks.json"

// TaskEntry is one row of the task registry.
type TaskEntry struct {
	SessionID string              `json:"session_id"`
	Status    types.SessionStatus `json:"status"`
	StartedAt time.Time           `json:"started_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Store is a file-backed checkpoint store.
type Store struct {
	dataDir string
	mu      sync.Mutex
	logger  *logging.Logger
}

// NewStore creates the data directory if needed and returns a store.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &Store{
		dataDir: dataDir,
		logger:  logging.GetLogger("debate.checkpoint"),
	}, nil
}

func (s *Store) statePath(sessionID string) string {
	return filepath.Join(s.dataDir, sessionID+".state.json")
}

// EventLogPath returns the per-session append-only event log path.
func (s *Store) EventLogPath(sessionID string) string {
	return filepath.Join(s.dataDir, sessionID+".events.jsonl")
}

// SaveState writes the runtime state atomically (tmp file + rename).
func (s *Store) SaveState(st types.RuntimeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	path := s.statePath(st.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	s.logger.DebugWithFields("state checkpointed",
		logging.Field("session", st.SessionID),
		logging.Field("status", string(st.Status)),
		logging.Field("turns", len(st.Turns)),
	)
	return nil
}

// LoadState reads a session's runtime state.
func (s *Store) LoadState(sessionID string) (types.RuntimeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.statePath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return types.RuntimeState{}, ErrNotFound
		}
		return types.RuntimeState{}, fmt.Errorf("failed to read state file: %w", err)
	}

	var st types.RuntimeState
	if err := json.Unmarshal(data, &st); err != nil {
		return types.RuntimeState{}, fmt.Errorf("state file for %s corrupt: %w", sessionID, err)
	}
	return st, nil
}

// Status returns a session's lifecycle status without replaying turns.
func (s *Store) Status(sessionID string) (types.SessionStatus, error) {
	st, err := s.LoadState(sessionID)
	if err != nil {
		return "", err
	}
	return st.Status, nil
}

// RegisterSession adds a session to the task registry as running.
func (s *Store) RegisterSession(sessionID string) error {
	now := time.Now()
	return s.updateRegistry(func(tasks map[string]TaskEntry) {
		tasks[sessionID] = TaskEntry{
			SessionID: sessionID,
			Status:    types.StatusRunning,
			StartedAt: now,
			UpdatedAt: now,
		}
	})
}

// SetSessionStatus updates a session's registry entry.
func (s *Store) SetSessionStatus(sessionID string, status types.SessionStatus) error {
	return s.updateRegistry(func(tasks map[string]TaskEntry) {
		entry, ok := tasks[sessionID]
		if !ok {
			entry = TaskEntry{SessionID: sessionID, StartedAt: time.Now()}
		}
		entry.Status = status
		entry.UpdatedAt = time.Now()
		tasks[sessionID] = entry
	})
}

// InFlightSessions lists sessions the registry still marks as running,
// oldest first. Used by resume after a restart.
func (s *Store) InFlightSessions() ([]TaskEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.readRegistry()
	if err != nil {
		return nil, err
	}

	var running []TaskEntry
	for _, entry := range tasks {
		if entry.Status == types.StatusRunning {
			running = append(running, entry)
		}
	}
	sortByStart(running)
	return running, nil
}

// Sessions lists all registry entries, oldest first.
func (s *Store) Sessions() ([]TaskEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.readRegistry()
	if err != nil {
		return nil, err
	}
	out := make([]TaskEntry, 0, len(tasks))
	for _, entry := range tasks {
		out = append(out, entry)
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) updateRegistry(mutate func(map[string]TaskEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.readRegistry()
	if err != nil {
		return err
	}
	mutate(tasks)

	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task registry: %w", err)
	}
	path := filepath.Join(s.dataDir, tasksFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write task registry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace task registry: %w", err)
	}
	return nil
}

func (s *Store) readRegistry() (map[string]TaskEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, tasksFile))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]TaskEntry), nil
		}
		return nil, fmt.Errorf("failed to read task registry: %w", err)
	}
	var tasks map[string]TaskEntry
	if err := json.Unmarshal(data, &tasks); err != nil {
		// A corrupt registry must not block new sessions.
		s.logger.Warn("task registry corrupt, starting fresh")
		return make(map[string]TaskEntry), nil
	}
	if tasks == nil {
		tasks = make(map[string]TaskEntry)
	}
	return tasks, nil
}

func sortByStart(entries []TaskEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.Before(entries[j].StartedAt)
	})
}
