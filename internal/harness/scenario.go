package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/referral/internal/events"
)

// Scenario defines a replayable conformance scenario.
// A scenario loads program configuration, applies a sequence of record
// mutations through the real ingestion path, and asserts on the engine's
// outcomes and the resulting rollups.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Programs is the CUE configuration directory to load.
	// Relative paths are resolved against the scenario file's directory.
	Programs string `yaml:"programs"`

	// Steps are applied in order, each as one ingestion envelope.
	Steps []Step `yaml:"steps"`

	// Assertions validate outcomes and final state.
	// Supported types: outcome, commission_count, membership, rollup
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one ingestion envelope, optionally expected to be rejected.
type Step struct {
	events.Envelope `yaml:",inline"`

	// ExpectError, when set, requires the step to fail with an error
	// containing this text.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// recordID returns the id the step addresses.
func (s Step) recordID() string {
	switch {
	case s.Signup != nil:
		return s.Signup.ID
	case s.Purchase != nil:
		return s.Purchase.ID
	default:
		return s.ID
	}
}

// Assertion validates an outcome or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "outcome": an automation's outcome for an event
	// - "commission_count": number of stored commissions
	// - "membership": a promoter's current circle
	// - "rollup": metrics of an all-time row, or of a day row when Date is set
	Type string `yaml:"type"`

	// Event is the record id whose trigger event is checked (outcome).
	Event string `yaml:"event,omitempty"`

	// Automation is the automation id (outcome, commission_count).
	Automation string `yaml:"automation,omitempty"`

	// Status is the expected outcome status (outcome).
	Status string `yaml:"status,omitempty"`

	// Reason is the expected skip reason (outcome). Empty matches any.
	Reason string `yaml:"reason,omitempty"`

	// Program scopes commission_count, membership and rollup.
	Program string `yaml:"program,omitempty"`

	// Promoter is the promoter id (commission_count, membership).
	Promoter string `yaml:"promoter,omitempty"`

	// Circle is the expected circle id (membership).
	Circle string `yaml:"circle,omitempty"`

	// Count is the expected number of commissions (commission_count).
	Count int `yaml:"count,omitempty"`

	// Dimension and ID select the rollup key; Date selects a day row.
	Dimension string `yaml:"dimension,omitempty"`
	ID        string `yaml:"id,omitempty"`
	Date      string `yaml:"date,omitempty"`

	// Expect maps metric names to expected values (rollup).
	// Subset match - only specified metrics are validated.
	Expect map[string]string `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertOutcome         = "outcome"
	AssertCommissionCount = "commission_count"
	AssertMembership      = "membership"
	AssertRollup          = "rollup"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// The programs path is resolved relative to the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	// Resolve programs path relative to the scenario BEFORE validation
	if scenario.Programs != "" && !filepath.IsAbs(scenario.Programs) {
		scenario.Programs = filepath.Join(filepath.Dir(path), scenario.Programs)
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return scenario, nil
}

// ParseScenario decodes scenario YAML without resolving or validating paths.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
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

	if s.Programs == "" {
		return fmt.Errorf("programs directory is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Kind == "" {
			return fmt.Errorf("step[%d]: kind is required", i)
		}
		// Generated ids would make snapshots differ between runs.
		if step.recordID() == "" && step.ExpectError == "" {
			return fmt.Errorf("step[%d]: record id is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion[%d]: %w", i, err)
		}
	}

	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertOutcome:
		if a.Event == "" || a.Automation == "" || a.Status == "" {
			return fmt.Errorf("outcome requires event, automation and status")
		}
	case AssertCommissionCount:
		if a.Program == "" {
			return fmt.Errorf("commission_count requires program")
		}
	case AssertMembership:
		if a.Program == "" || a.Promoter == "" || a.Circle == "" {
			return fmt.Errorf("membership requires program, promoter and circle")
		}
	case AssertRollup:
		if a.Program == "" || a.Dimension == "" || a.ID == "" || len(a.Expect) == 0 {
			return fmt.Errorf("rollup requires program, dimension, id and expect")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
