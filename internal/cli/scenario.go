package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/operon-io/operon/internal/pipefile"
)

// Scenario drives one run command invocation: the pipefile to
// execute, seed data per target, and an optional expected result.
type Scenario struct {
	// Name identifies the scenario; defaults to the file name.
	Name string `yaml:"name,omitempty"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Pipefile is the CUE pipeline to run, relative to the scenario
	// file.
	Pipefile string `yaml:"pipefile"`

	// Seed lists documents inserted into memory targets before the
	// pipeline runs, keyed by target name. Persistent targets are not
	// seeded; they carry their own state.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`

	// Expect, when present, is compared against the pipeline's final
	// result through its JSON form. A mismatch fails the run.
	Expect *any `yaml:"expect,omitempty"`
}

// LoadScenario reads a scenario file and resolves the pipefile path
// relative to it.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if s.Pipefile == "" {
		return nil, fmt.Errorf("scenario %s: pipefile is required", path)
	}
	if !filepath.IsAbs(s.Pipefile) {
		s.Pipefile = filepath.Join(filepath.Dir(path), s.Pipefile)
	}
	if s.Name == "" {
		s.Name = pipefile.Name(path)
	}
	return &s, nil
}
