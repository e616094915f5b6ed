package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a sequence of scripted model responses loaded from YAML.
// Scenarios drive the mock provider for offline runs and engine tests.
type Scenario struct {
	// Name is the scenario identifier.
	Name string `yaml:"name"`

	// Description is a human-readable description of what the scenario
	// exercises.
	Description string `yaml:"description,omitempty"`

	// Steps defines the sequence of scripted responses.
	Steps []ScenarioStep `yaml:"steps"`
}

// ScenarioStep defines a single scripted response.
type ScenarioStep struct {
	// Trigger is an optional substring that must be present in the
	// request (system prompt + user prompt) to activate this step.
	// Triggered steps can fire out of sequence; untriggered steps are
	// consumed in order.
	Trigger string `yaml:"trigger,omitempty"`

	// Text is the raw response text.
	Text string `yaml:"text,omitempty"`

	// Fail injects an error instead of a response.
	// Values: "recoverable", "fatal".
	Fail string `yaml:"fail,omitempty"`

	// FailMessage is the injected error message.
	FailMessage string `yaml:"fail_message,omitempty"`

	// Repeat keeps the step active instead of consuming it.
	Repeat bool `yaml:"repeat,omitempty"`
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	// Scenario file path is intentionally configurable for testing.
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file %s: %w", path, err)
	}

	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s has no steps", path)
	}

	return &scenario, nil
}
