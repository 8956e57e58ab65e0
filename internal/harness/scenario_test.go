package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const personSchema = `model: Person: {
  collection: "people"
  attributes: {name: string}
}
`

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
name: test_scenario
description: "Test scenario for validation"
schema: |
  model: Person: {collection: "people", attributes: {name: string}}
steps:
  - {op: new, type: Person, as: ada, attrs: {name: Ada, age: 36}}
  - {op: save}
assertions:
  - {type: attribute, entity: ada, field: name, expect: Ada}
  - {type: pending, count: 0}
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Contains(t, scenario.Schema, "model: Person")
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, OpNew, scenario.Steps[0].Op)
	assert.Equal(t, "ada", scenario.Steps[0].As)
	assert.Equal(t, "Ada", scenario.Steps[0].Attrs["name"])
	assert.Equal(t, 36, scenario.Steps[0].Attrs["age"])
	assert.Equal(t, OpSave, scenario.Steps[1].Op)
	require.Len(t, scenario.Assertions, 2)
	assert.Equal(t, AssertPending, scenario.Assertions[1].Type)
	assert.Equal(t, 0, scenario.Assertions[1].Count)
}

func TestLoadScenario_SchemaDirRelativeToFile(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, `
name: relative
description: "schema_dir resolves next to the scenario"
schema_dir: models
steps:
  - {op: save}
assertions:
  - {type: reciprocal}
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "models"), scenario.SchemaDir)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	base := "description: d\nschema: x\nsteps:\n  - {op: save}\nassertions:\n  - {type: reciprocal}\n"

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing name", base, "name is required"},
		{"missing description", "name: n\nschema: x\nsteps:\n  - {op: save}\nassertions:\n  - {type: reciprocal}\n", "description is required"},
		{"no schema", "name: n\ndescription: d\nsteps:\n  - {op: save}\nassertions:\n  - {type: reciprocal}\n", "exactly one of schema and schema_dir"},
		{"both schemas", "name: n\n" + base + "schema_dir: s\n", "exactly one of schema and schema_dir"},
		{"no steps", "name: n\ndescription: d\nschema: x\nassertions:\n  - {type: reciprocal}\n", "steps list is required"},
		{"no assertions", "name: n\ndescription: d\nschema: x\nsteps:\n  - {op: save}\n", "assertions list is required"},
		{"unknown field", "name: n\n" + base + "assertion: []\n", "failed to parse YAML"},
		{"malformed", "name: [unclosed\n", "failed to parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateStep(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr string
	}{
		{"new ok", Step{Op: OpNew, Type: "Person", As: "ada"}, ""},
		{"new without type", Step{Op: OpNew, As: "ada"}, "type is required for new"},
		{"map without alias", Step{Op: OpMap, Type: "Person"}, "as is required for map"},
		{"set without entity", Step{Op: OpSet}, "entity is required for set"},
		{"link without field", Step{Op: OpLink, Entity: "ada"}, "field is required for link"},
		{"splice ok", Step{Op: OpSplice, Entity: "ada", Field: "cars", Count: 1}, ""},
		{"save", Step{Op: OpSave}, ""},
		{"reload", Step{Op: OpReload}, ""},
		{"missing op", Step{}, "op is required"},
		{"unknown op", Step{Op: "teleport"}, `unknown op "teleport"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStep(3, &tt.step)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "steps[3]")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAssertion(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"related ok", Assertion{Type: AssertRelated, Entity: "ada", Field: "cars"}, ""},
		{"related without field", Assertion{Type: AssertRelated, Entity: "ada"}, "entity and field are required"},
		{"stored without entity", Assertion{Type: AssertStored, Field: "name"}, "entity and field are required"},
		{"state ok", Assertion{Type: AssertState, Entity: "ada", Expect: "removed"}, ""},
		{"state bad value", Assertion{Type: AssertState, Entity: "ada", Expect: "gone"}, "live, removed or deleted"},
		{"state without entity", Assertion{Type: AssertState, Expect: "live"}, "entity is required"},
		{"pending zero", Assertion{Type: AssertPending}, ""},
		{"pending negative", Assertion{Type: AssertPending, Count: -1}, "count must be non-negative"},
		{"reciprocal", Assertion{Type: AssertReciprocal}, ""},
		{"final_state without table", Assertion{Type: AssertFinalState, Columns: map[string]interface{}{"rev": 1}}, "table is required"},
		{"final_state without columns", Assertion{Type: AssertFinalState, Table: "documents"}, "columns is required"},
		{"missing type", Assertion{}, "type is required"},
		{"unknown type", Assertion{Type: "trace_contains"}, "unknown assertion type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAssertion(0, &tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.NotEmpty(t, scenario.Steps)
			assert.NotEmpty(t, scenario.Assertions)
		})
	}
}
