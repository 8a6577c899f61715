package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cardfile/internal/lock"
)

// Scenario is one scripted run against a fresh data directory.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// LockMode selects the counter lock; empty means create.
	LockMode string `yaml:"lock_mode,omitempty"`

	// LockTimeout bounds lock acquisition, as a Go duration string.
	LockTimeout string `yaml:"lock_timeout,omitempty"`

	// Index routes city queries through the SQLite index.
	Index bool `yaml:"index,omitempty"`

	// Strict rejects history types outside the core five.
	Strict bool `yaml:"strict,omitempty"`

	// Counter seeds counter.txt before the first step.
	Counter *int64 `yaml:"counter,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step invokes one operation.
type Step struct {
	Op     string         `yaml:"op"`
	Args   map[string]any `yaml:"args,omitempty"`
	Expect *Expect        `yaml:"expect,omitempty"`
}

// Expect checks a step's outcome and, optionally, a subset of its result.
type Expect struct {
	Outcome string         `yaml:"outcome"`
	Result  map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the trace or the final directory state.
type Assertion struct {
	Type   string         `yaml:"type"`
	Op     string         `yaml:"op,omitempty"`
	Ops    []string       `yaml:"ops,omitempty"`
	Count  int            `yaml:"count,omitempty"`
	Number string         `yaml:"number,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Value  *int64         `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceCount   = "trace_count"
	AssertTraceOrder   = "trace_order"
	AssertCardState    = "card_state"
	AssertCardMissing  = "card_missing"
	AssertJournalLines = "journal_lines"
	AssertCounter      = "counter"
	AssertNoArtifacts  = "no_artifacts"
)

// Outcome constants recorded in the trace.
const (
	OutcomeOK             = "ok"
	OutcomeNotFound       = "not_found"
	OutcomeLockTimeout    = "lock_timeout"
	OutcomeIOFailure      = "io_failure"
	OutcomeValidation     = "validation_failure"
	OutcomeStaleRevision  = "stale_revision"
	OutcomeAlreadyDecided = "already_decided"
	OutcomeError          = "error"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.LockMode != "" {
		if _, err := lock.ParseMode(s.LockMode); err != nil {
			return err
		}
	}
	if s.LockTimeout != "" {
		d, err := time.ParseDuration(s.LockTimeout)
		if err != nil {
			return fmt.Errorf("lock_timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("lock_timeout must be positive")
		}
	}
	if s.Counter != nil && *s.Counter < 0 {
		return fmt.Errorf("counter must be non-negative")
	}

	for i, step := range s.Steps {
		if !knownOps[step.Op] {
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
		if step.Expect != nil && step.Expect.Outcome == "" {
			return fmt.Errorf("steps[%d].expect: outcome is required", i)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertCardState:
		if a.Number == "" {
			return fmt.Errorf("assertions[%d]: number is required for card_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for card_state", index)
		}
	case AssertCardMissing:
		if a.Number == "" {
			return fmt.Errorf("assertions[%d]: number is required for card_missing", index)
		}
	case AssertJournalLines:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for journal_lines", index)
		}
	case AssertCounter:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for counter", index)
		}
	case AssertNoArtifacts:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
