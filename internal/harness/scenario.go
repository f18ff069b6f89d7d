package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario defines one flow scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Flow is inline CUE source with at least one flow.
	Flow string `yaml:"flow"`

	// FlowName selects a flow when Flow defines several. Empty means the
	// first one.
	FlowName string `yaml:"flow_name,omitempty"`

	// RunID is the fixed run ID. If empty, defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// MaxSteps bounds the run; 0 is unlimited.
	MaxSteps int `yaml:"max_steps,omitempty"`

	Nodes   map[string]NodeBehavior   `yaml:"nodes,omitempty"`
	Routers map[string]RouterBehavior `yaml:"routers,omitempty"`

	Expect Expectations `yaml:"expect"`
}

// NodeBehavior scripts a node body. At most one field may be set.
type NodeBehavior struct {
	Returns  any    `yaml:"returns,omitempty"`
	Echo     bool   `yaml:"echo,omitempty"`
	Multiply int    `yaml:"multiply,omitempty"`
	Counter  bool   `yaml:"counter,omitempty"`
	Fail     string `yaml:"fail,omitempty"`
	Panic    string `yaml:"panic,omitempty"`
}

// RouterBehavior scripts a router.
type RouterBehavior struct {
	Route   RouteRule         `yaml:"route"`
	Cases   map[string]string `yaml:"cases,omitempty"`
	Default string            `yaml:"default,omitempty"`
	Fail    string            `yaml:"fail,omitempty"`
}

// RouteRule selects the state value a router switches on.
type RouteRule struct {
	// Of names the node whose last output is read.
	Of string `yaml:"of"`
	// Mod, when positive, reduces an integer value modulo Mod.
	Mod int `yaml:"mod,omitempty"`
}

// Expectations describe the required outcome of a run.
type Expectations struct {
	Counts   map[string]int   `yaml:"counts,omitempty"`
	Received map[string][]any `yaml:"received,omitempty"`
	Failed   []string         `yaml:"failed,omitempty"`
	NotRun   []string         `yaml:"not_run,omitempty"`
	Exceeded []string         `yaml:"exceeded,omitempty"`
}

func (e Expectations) empty() bool {
	return len(e.Counts) == 0 && len(e.Received) == 0 && len(e.Failed) == 0 &&
		len(e.NotRun) == 0 && len(e.Exceeded) == 0
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("glob scenarios: %w", err)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Flow == "" {
		return fmt.Errorf("flow is required")
	}
	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}
	if s.Expect.empty() {
		return fmt.Errorf("expect must contain at least one expectation")
	}

	for _, name := range sortedNames(s.Nodes) {
		if err := validateNodeBehavior(s.Nodes[name]); err != nil {
			return fmt.Errorf("nodes.%s: %w", name, err)
		}
	}
	for _, name := range sortedNames(s.Routers) {
		r := s.Routers[name]
		if r.Fail == "" && r.Route.Of == "" {
			return fmt.Errorf("routers.%s: route.of is required", name)
		}
		if r.Route.Mod < 0 {
			return fmt.Errorf("routers.%s: route.mod must be non-negative", name)
		}
	}
	for name, n := range s.Expect.Counts {
		if n < 0 {
			return fmt.Errorf("expect.counts.%s: count must be non-negative", name)
		}
	}
	return nil
}

func validateNodeBehavior(b NodeBehavior) error {
	set := 0
	for _, on := range []bool{b.Returns != nil, b.Echo, b.Multiply != 0, b.Counter, b.Fail != "", b.Panic != ""} {
		if on {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("at most one of returns, echo, multiply, counter, fail, panic may be set")
	}
	return nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
