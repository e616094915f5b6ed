// Package lifecycle starts and stops the long-lived pieces of the
// process (tracing, config watching, metrics) in dependency order.
package lifecycle

import "context"

// Component is a long-lived part of the process with an explicit
// start/stop lifecycle.
type Component interface {
	// Name identifies the component in logs and errors.
	Name() string

	// Start brings the component up. It must return once the component
	// is ready; long-running work belongs in goroutines the component
	// owns.
	Start(ctx context.Context) error

	// Stop shuts the component down and releases its resources. It must
	// honor ctx cancellation.
	Stop(ctx context.Context) error
}

type funcComponent struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

// NewComponent adapts a pair of start/stop functions into a Component.
// Either function may be nil.
func NewComponent(name string, start, stop func(ctx context.Context) error) Component {
	return &funcComponent{name: name, start: start, stop: stop}
}

func (c *funcComponent) Name() string { return c.name }

func (c *funcComponent) Start(ctx context.Context) error {
	if c.start == nil {
		return nil
	}
	return c.start(ctx)
}

func (c *funcComponent) Stop(ctx context.Context) error {
	if c.stop == nil {
		return nil
	}
	return c.stop(ctx)
}
