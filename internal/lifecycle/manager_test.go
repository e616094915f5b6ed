package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingComponent struct {
	name     string
	log      *[]string
	startErr error
	stopErr  error
}

func (c *recordingComponent) Name() string { return c.name }

func (c *recordingComponent) Start(ctx context.Context) error {
	*c.log = append(*c.log, "start:"+c.name)
	return c.startErr
}

func (c *recordingComponent) Stop(ctx context.Context) error {
	*c.log = append(*c.log, "stop:"+c.name)
	return c.stopErr
}

func TestStartAndStopOrder(t *testing.T) {
	var log []string
	m := NewManager()
	m.Register(&recordingComponent{name: "a", log: &log})
	m.Register(&recordingComponent{name: "b", log: &log})
	m.Register(&recordingComponent{name: "c", log: &log})

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	assert.Equal(t, []string{
		"start:a", "start:b", "start:c",
		"stop:c", "stop:b", "stop:a",
	}, log)
}

func TestStartFailureRollsBack(t *testing.T) {
	var log []string
	m := NewManager()
	m.Register(&recordingComponent{name: "a", log: &log})
	m.Register(&recordingComponent{name: "b", log: &log, startErr: fmt.Errorf("boom")})
	m.Register(&recordingComponent{name: "c", log: &log})

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start b")

	// a started before b failed and must be rolled back; c never starts.
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, log)
}

func TestStopCollectsFirstError(t *testing.T) {
	var log []string
	m := NewManager()
	m.Register(&recordingComponent{name: "a", log: &log, stopErr: fmt.Errorf("a broke")})
	m.Register(&recordingComponent{name: "b", log: &log, stopErr: fmt.Errorf("b broke")})

	require.NoError(t, m.Start(context.Background()))
	err := m.Stop(context.Background())
	require.Error(t, err)
	// b stops first (reverse order) so its error is reported.
	assert.Contains(t, err.Error(), "failed to stop b")
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, log)
}

func TestStopTimesOutSlowComponent(t *testing.T) {
	m := NewManager()
	m.SetStopTimeout(50 * time.Millisecond)
	m.Register(NewComponent("slow",
		nil,
		func(ctx context.Context) error {
			<-time.After(5 * time.Second)
			return nil
		}))

	require.NoError(t, m.Start(context.Background()))
	start := time.Now()
	err := m.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFuncComponentNilFunctions(t *testing.T) {
	c := NewComponent("noop", nil, nil)
	assert.Equal(t, "noop", c.Name())
	assert.NoError(t, c.Start(context.Background()))
	assert.NoError(t, c.Stop(context.Background()))
}
