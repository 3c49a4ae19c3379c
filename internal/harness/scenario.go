package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tidemark/internal/columns"
)

// Scenario is a scripted sequence of incremental runs against one read.
// Each run plans the read with a scripted probe result, then commits,
// abandons or leaves the plan pending. Assertions check the stored HWM and
// the plans afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is the read definition file, relative to the scenario file.
	Config string `yaml:"config"`

	// Read names the read in Config to run.
	Read string `yaml:"read"`

	// Process scopes the HWM identity, as the --process flag does.
	Process string `yaml:"process,omitempty"`

	// Tables is the source schema served to the planner.
	Tables map[string][]columns.Field `yaml:"tables,omitempty"`

	// Runs are executed in order against one HWM store.
	Runs []RunStep `yaml:"runs"`

	// Assertions validate the final store and plans.
	Assertions []Assertion `yaml:"assertions"`

	// PlanPrefix prefixes deterministic plan ids. Defaults to "run".
	PlanPrefix string `yaml:"plan_prefix,omitempty"`
}

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePending = "pending"
)

// RunStep is one planned read.
type RunStep struct {
	// Min and Max are returned by the bounds probe. A null max means the
	// source has no matching rows.
	Min any `yaml:"min,omitempty"`
	Max any `yaml:"max"`

	// ProbeError makes the probe fail with this message.
	ProbeError string `yaml:"probe_error,omitempty"`

	// Outcome settles the plan: success commits, failure abandons and
	// pending leaves it proposed. Defaults to success.
	Outcome string `yaml:"outcome,omitempty"`

	// Expect validates the plan, or the planning error.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies what a run must produce. Empty fields are not checked.
type ExpectClause struct {
	// Error is the expected error code, e.g. TYPE_MISMATCH. When set the run
	// must fail to plan.
	Error    string `yaml:"error,omitempty"`
	Mode     string `yaml:"mode,omitempty"`
	Boundary string `yaml:"boundary,omitempty"`
	Where    string `yaml:"where,omitempty"`
	Query    string `yaml:"query,omitempty"`
}

// Assertion validates the state left by the runs.
type Assertion struct {
	// Type is one of hwm_value, history_count, query_contains,
	// proposal_status.
	Type string `yaml:"type"`

	// Value is the expected serialized HWM value (hwm_value). Absent
	// expects no stored HWM.
	Value *string `yaml:"value,omitempty"`

	// Count is the expected number of saved values (history_count).
	Count int `yaml:"count,omitempty"`

	// Run is the 1-based run index (query_contains).
	Run int `yaml:"run,omitempty"`

	// Contains is the expected query fragment (query_contains).
	Contains string `yaml:"contains,omitempty"`

	// Plan and Status check a persisted proposal (proposal_status).
	Plan   string `yaml:"plan,omitempty"`
	Status string `yaml:"status,omitempty"`
}

// Assertion type constants.
const (
	AssertHWMValue       = "hwm_value"
	AssertHistoryCount   = "history_count"
	AssertQueryContains  = "query_contains"
	AssertProposalStatus = "proposal_status"
)

// LoadScenario reads and parses a scenario YAML file, resolving the config
// path relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the config path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Config != "" && !filepath.IsAbs(scenario.Config) && basePath != "" {
		scenario.Config = filepath.Join(basePath, scenario.Config)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Config == "" {
		return fmt.Errorf("config is required")
	}
	if _, err := os.Stat(s.Config); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.Config)
	}
	if s.Read == "" {
		return fmt.Errorf("read is required")
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}

	for i, run := range s.Runs {
		switch run.Outcome {
		case "", OutcomeSuccess, OutcomeFailure, OutcomePending:
		default:
			return fmt.Errorf("runs[%d]: unknown outcome %q", i, run.Outcome)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, len(s.Runs)); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, runs int) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertHWMValue:
	case AssertHistoryCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for history_count", index)
		}
	case AssertQueryContains:
		if a.Run < 1 || a.Run > runs {
			return fmt.Errorf("assertions[%d]: run must be between 1 and %d for query_contains", index, runs)
		}
		if a.Contains == "" {
			return fmt.Errorf("assertions[%d]: contains is required for query_contains", index)
		}
	case AssertProposalStatus:
		if a.Plan == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: plan and status are required for proposal_status", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
