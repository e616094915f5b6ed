package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moolen/inquest/internal/logging"
)

// DefaultStopTimeout bounds how long Stop waits for a single component.
const DefaultStopTimeout = 10 * time.Second

// Manager owns a set of components and starts them in registration
// order, stopping them in reverse. A failed start rolls back the
// components already running.
type Manager struct {
	mu          sync.Mutex
	components  []Component
	started     []Component
	stopTimeout time.Duration
	logger      *logging.Logger
}

// NewManager creates a manager with the default per-component stop timeout.
func NewManager() *Manager {
	return &Manager{
		stopTimeout: DefaultStopTimeout,
		logger:      logging.GetLogger("lifecycle"),
	}
}

// SetStopTimeout overrides the per-component stop timeout.
func (m *Manager) SetStopTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.stopTimeout = d
	}
}

// Register adds a component. Registration order is start order.
func (m *Manager) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

// Start brings every registered component up in order. When a component
// fails, the ones already running are stopped in reverse order and the
// start error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.components {
		m.logger.Debug("starting component: %s", c.Name())
		if err := c.Start(ctx); err != nil {
			m.logger.Error("component %s failed to start: %v", c.Name(), err)
			m.stopStartedLocked()
			return fmt.Errorf("failed to start %s: %w", c.Name(), err)
		}
		m.started = append(m.started, c)
	}
	return nil
}

// Stop shuts down every running component in reverse start order. Each
// component gets its own timeout; a slow or failing component does not
// block the others. The first error is returned.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		if err := m.stopOne(ctx, c); err != nil {
			m.logger.Error("component %s failed to stop: %v", c.Name(), err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to stop %s: %w", c.Name(), err)
			}
		}
	}
	m.started = nil
	return firstErr
}

func (m *Manager) stopStartedLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), m.stopTimeout)
	defer cancel()
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		if err := m.stopOne(ctx, c); err != nil {
			m.logger.Error("rollback stop of %s failed: %v", c.Name(), err)
		}
	}
	m.started = nil
}

func (m *Manager) stopOne(ctx context.Context, c Component) error {
	stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Stop(stopCtx) }()
	select {
	case err := <-done:
		return err
	case <-stopCtx.Done():
		return fmt.Errorf("stop timed out after %s", m.stopTimeout)
	}
}
