package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a graph scenario.
// Scenarios drive a graph through a sequence of mutations and saves, then
// assert on the resulting relationships, ledger and stored documents.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is inline CUE declaring the models, in the format accepted by
	// schema.Compile.
	Schema string `yaml:"schema,omitempty"`

	// SchemaDir is a directory of CUE model files, relative to the scenario
	// file. Exactly one of Schema and SchemaDir is required.
	SchemaDir string `yaml:"schema_dir,omitempty"`

	// Steps run in order against one graph.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final graph, ledger and store.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation on the graph.
//
// Entities are referred to by alias. An alias is bound by the step that
// creates the entity (new, map) and keeps naming the same local identifier
// across reloads.
type Step struct {
	// Op is the operation:
	// - "new": create an entity of Type bound to As, with Attrs
	// - "set": set Attrs on Entity
	// - "link": set Field of Entity to To (alias, list of aliases or null)
	// - "append", "insert", "remove_member", "splice", "clear": edit the
	//   collection at Field of Entity
	// - "remove", "restore": tombstone or restore Entity
	// - "map": create or update an entity of Type from Raw, bound to As
	// - "save": merge pending changes and wait for the result
	// - "reload": discard the graph and continue with a fresh one over the
	//   same store
	// - "resolve": resolve the fault at Field of Entity
	Op string `yaml:"op"`

	As     string                 `yaml:"as,omitempty"`
	Type   string                 `yaml:"type,omitempty"`
	Entity string                 `yaml:"entity,omitempty"`
	Field  string                 `yaml:"field,omitempty"`
	Attrs  map[string]interface{} `yaml:"attrs,omitempty"`
	Raw    map[string]interface{} `yaml:"raw,omitempty"`
	To     interface{}            `yaml:"to,omitempty"`
	Index  int                    `yaml:"index,omitempty"`
	Count  int                    `yaml:"count,omitempty"`

	// ExpectError, if set, requires the step to fail with an error whose
	// message contains it.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step operations.
const (
	OpNew          = "new"
	OpSet          = "set"
	OpLink         = "link"
	OpAppend       = "append"
	OpInsert       = "insert"
	OpRemoveMember = "remove_member"
	OpSplice       = "splice"
	OpClear        = "clear"
	OpRemove       = "remove"
	OpRestore      = "restore"
	OpMap          = "map"
	OpSave         = "save"
	OpReload       = "reload"
	OpResolve      = "resolve"
)

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "related": Field of Entity relates exactly Expect (alias, list or null)
	// - "attribute": attribute Field of Entity equals Expect
	// - "reciprocal": every resolved relationship in the graph is mirrored
	// - "pending": the ledger holds Count records (for Entity, if given)
	// - "fault": Field of Entity is a fault iff Expect is true
	// - "state": Entity is "live", "removed" or "deleted"
	// - "stored": stored field Field of Entity equals Expect
	// - "final_state": query Table and verify expected column values
	Type string `yaml:"type"`

	Entity string      `yaml:"entity,omitempty"`
	Field  string      `yaml:"field,omitempty"`
	Expect interface{} `yaml:"expect,omitempty"`
	Count  int         `yaml:"count,omitempty"`

	// Table, Where and Columns are used by final_state. Where values that
	// are aliases are replaced by their local identifiers.
	Table   string                 `yaml:"table,omitempty"`
	Where   map[string]interface{} `yaml:"where,omitempty"`
	Columns map[string]interface{} `yaml:"columns,omitempty"`
}

// Assertion type constants.
const (
	AssertRelated    = "related"
	AssertAttribute  = "attribute"
	AssertReciprocal = "reciprocal"
	AssertPending    = "pending"
	AssertFault      = "fault"
	AssertState      = "state"
	AssertStored     = "stored"
	AssertFinalState = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// SchemaDir is resolved relative to the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.SchemaDir != "" && !filepath.IsAbs(scenario.SchemaDir) {
		scenario.SchemaDir = filepath.Join(filepath.Dir(path), scenario.SchemaDir)
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
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

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Schema == "") == (s.SchemaDir == "") {
		return fmt.Errorf("exactly one of schema and schema_dir is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("steps[%d]: %s is required for %s", index, field, st.Op)
		}
		return nil
	}

	switch st.Op {
	case OpNew, OpMap:
		if err := need("type", st.Type); err != nil {
			return err
		}
		return need("as", st.As)
	case OpSet, OpRemove, OpRestore:
		return need("entity", st.Entity)
	case OpLink, OpAppend, OpInsert, OpRemoveMember, OpSplice, OpClear, OpResolve:
		if err := need("entity", st.Entity); err != nil {
			return err
		}
		return need("field", st.Field)
	case OpSave, OpReload:
		return nil
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRelated, AssertFault, AssertStored, AssertAttribute:
		if a.Entity == "" || a.Field == "" {
			return fmt.Errorf("assertions[%d]: entity and field are required for %s", index, a.Type)
		}
	case AssertState:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for state", index)
		}
		switch a.Expect {
		case stateLive, stateRemoved, stateDeleted:
		default:
			return fmt.Errorf("assertions[%d]: state must be live, removed or deleted", index)
		}
	case AssertPending:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for pending", index)
		}
	case AssertReciprocal:
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Columns) == 0 {
			return fmt.Errorf("assertions[%d]: columns is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
