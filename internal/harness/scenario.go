package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dashopt/internal/cost"
	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/optimizer"
)

// Scenario defines an optimizer scenario: a task, its statistics, budget
// overrides and the expected outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Task is the CUE task directory.
	Task string `yaml:"task"`

	// Stats is the statistics source: a fixture .yaml or a SQLite database.
	Stats string `yaml:"stats"`

	// Options are the optimizer settings.
	Options Options `yaml:"options,omitempty"`

	// Overrides replace budgets of the compiled task.
	Overrides Overrides `yaml:"overrides,omitempty"`

	// Assertions validate the optimizer result.
	Assertions []Assertion `yaml:"assertions"`

	// RunID is an optional fixed run id. If empty, defaults to "test-run".
	RunID string `yaml:"run_id,omitempty"`
}

// Options mirror the optimize command's flags.
type Options struct {
	Arbitrary        bool     `yaml:"arbitrary,omitempty"`
	BestServerMemory bool     `yaml:"best_server_memory,omitempty"`
	ValidOnly        bool     `yaml:"valid_only,omitempty"`
	Alpha            float64  `yaml:"alpha,omitempty"`
	Selectivity      string   `yaml:"selectivity,omitempty"`
	SelectiveTables  []string `yaml:"selective_tables,omitempty"`
}

// Overrides replace parts of the compiled task before optimizing.
type Overrides struct {
	// Memory replaces the memory budget.
	Memory *ir.Memory `yaml:"memory,omitempty"`

	// MemoryFraction sets both memory budgets to this fraction of the
	// smallest single-cache candidate. It pins a task just out of reach
	// whatever the cost coefficients are.
	MemoryFraction float64 `yaml:"memory_fraction,omitempty"`

	// Latency replaces the latency budget of the named interactions.
	Latency map[string]ir.Latency `yaml:"latency,omitempty"`
}

// Assertion validates the optimizer result.
type Assertion struct {
	// Type specifies the assertion type:
	// - "status": the result status equals Status
	// - "plan_count": exactly Count plans were chosen
	// - "plan_keys": the chosen plan keys are exactly Keys
	// - "plan_contains": the plan for Key contains a node of kind Operator
	// - "shared_cache": at least Count signatures are shared between plans
	// - "memory_ratio": the memory ratio lies in [Min, Max]
	// - "candidates": the search kept exactly Count candidates
	Type string `yaml:"type"`

	// Status is the expected status (used by status).
	Status string `yaml:"status,omitempty"`

	// Count is the expected count (used by plan_count, shared_cache, candidates).
	Count int `yaml:"count,omitempty"`

	// Keys are the expected plan keys (used by plan_keys).
	Keys []string `yaml:"keys,omitempty"`

	// Key selects one plan; empty means every plan (used by plan_contains).
	Key string `yaml:"key,omitempty"`

	// Operator is a plan node kind such as "PrefixSumBuild" (used by plan_contains).
	Operator string `yaml:"operator,omitempty"`

	// Min and Max bound the memory ratio (used by memory_ratio).
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus       = "status"
	AssertPlanCount    = "plan_count"
	AssertPlanKeys     = "plan_keys"
	AssertPlanContains = "plan_contains"
	AssertSharedCache  = "shared_cache"
	AssertMemoryRatio  = "memory_ratio"
	AssertCandidates   = "candidates"
)

// PathNotFoundError is returned when a scenario references a task or
// statistics path that doesn't exist.
type PathNotFoundError struct {
	Scenario     string
	Field        string
	Path         string
	ResolvedPath string
}

// Error implements the error interface.
func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("scenario %q references %s %q which does not exist (resolved to: %s)",
		e.Scenario, e.Field, e.Path, e.ResolvedPath)
}

// LoadScenario reads and parses a scenario YAML file. Task and statistics
// paths are resolved relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving task and statistics paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve paths BEFORE validation
	scenario.resolve(basePath)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// resolve makes relative task and statistics paths relative to base.
func (s *Scenario) resolve(base string) {
	if base == "" {
		return
	}
	if s.Task != "" && !filepath.IsAbs(s.Task) {
		s.Task = filepath.Join(base, s.Task)
	}
	if s.Stats != "" && !filepath.IsAbs(s.Stats) {
		s.Stats = filepath.Join(base, s.Stats)
	}
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Task == "" {
		return fmt.Errorf("task is required")
	}
	if s.Stats == "" {
		return fmt.Errorf("stats is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for field, path := range map[string]string{"task": s.Task, "stats": s.Stats} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return &PathNotFoundError{Scenario: s.Name, Field: field, Path: path, ResolvedPath: absPath(path)}
		}
	}

	if s.Options.Alpha < 0 {
		return fmt.Errorf("options.alpha must be positive, got %g", s.Options.Alpha)
	}
	if s.Options.Selectivity != "" {
		if _, err := cost.ParseSelectivityMode(s.Options.Selectivity); err != nil {
			return fmt.Errorf("options.selectivity: %w", err)
		}
	}
	if s.Overrides.Memory != nil && s.Overrides.MemoryFraction != 0 {
		return fmt.Errorf("overrides: memory and memory_fraction are exclusive")
	}
	if s.Overrides.MemoryFraction < 0 {
		return fmt.Errorf("overrides.memory_fraction must be positive, got %g", s.Overrides.MemoryFraction)
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStatus:
		switch optimizer.Status(a.Status) {
		case optimizer.StatusSatisfiable, optimizer.StatusUnsatisfiable, optimizer.StatusFailed:
		default:
			return fmt.Errorf("assertions[%d]: unknown status %q", index, a.Status)
		}
	case AssertPlanCount, AssertSharedCache, AssertCandidates:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertPlanKeys:
		if a.Keys == nil {
			return fmt.Errorf("assertions[%d]: keys list is required for plan_keys", index)
		}
	case AssertPlanContains:
		if a.Operator == "" {
			return fmt.Errorf("assertions[%d]: operator is required for plan_contains", index)
		}
	case AssertMemoryRatio:
		if a.Min == nil && a.Max == nil {
			return fmt.Errorf("assertions[%d]: min or max is required for memory_ratio", index)
		}
		if a.Min != nil && a.Max != nil && *a.Min > *a.Max {
			return fmt.Errorf("assertions[%d]: min %g exceeds max %g", index, *a.Min, *a.Max)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
