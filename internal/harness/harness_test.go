package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const garageSchema = `model: Person: {
  collection: "people"
  attributes: {name: string}
}
model: Car: {
  collection: "cars"
  attributes: {name: string}
  relationships: owner: {type: "one_to_many", model: "Person", reverse: "cars"}
}
`

func TestRun_ExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "minimal",
		Description: "One entity, one save",
		Schema:      personSchema,
		Steps: []Step{
			{Op: OpNew, Type: "Person", As: "ada", Attrs: map[string]interface{}{"name": "Ada"}},
			{Op: OpSave},
		},
		Assertions: []Assertion{
			{Type: AssertPending, Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	records := result.Records()
	require.Len(t, records, 2)
	assert.Equal(t, TraceEvent{Kind: "set", Seq: 1, Type: "Person", Entity: "ada", Field: "id"}, records[0])
	assert.Equal(t, TraceEvent{Kind: "set", Seq: 2, Type: "Person", Entity: "ada", Field: "name", New: "Ada"}, records[1])

	save := result.Trace[len(result.Trace)-1]
	assert.Equal(t, "save", save.Kind)
	assert.Equal(t, []string{"ada"}, save.Written)

	require.Len(t, result.Documents, 1)
	doc := result.Documents[0]
	assert.Equal(t, "ada", doc.ID)
	assert.Equal(t, int64(1), doc.Rev)
	assert.False(t, doc.Deleted)
	assert.Equal(t, map[string]any{"id": nil, "name": "Ada"}, doc.Fields)
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/owner_handoff.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Documents, second.Documents)
}

func TestRun_FreshDatabasePerRun(t *testing.T) {
	scenario := &Scenario{
		Name:        "fresh",
		Description: "Nothing survives between runs",
		Schema:      personSchema,
		Steps: []Step{
			{Op: OpNew, Type: "Person", As: "ada", Attrs: map[string]interface{}{"name": "Ada"}},
			{Op: OpSave},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Table: "documents", Where: map[string]interface{}{"id": "ada"}, Columns: map[string]interface{}{"rev": 1}},
		},
	}

	for range 2 {
		result, err := Run(scenario)
		require.NoError(t, err)
		assert.True(t, result.Pass, "errors: %v", result.Errors)
		assert.Len(t, result.Documents, 1)
	}
}

func TestRun_StepFailureStopsExecution(t *testing.T) {
	scenario := &Scenario{
		Name:        "step_failure",
		Description: "An unexpected error ends the run before assertions",
		Schema:      garageSchema,
		Steps: []Step{
			{Op: OpNew, Type: "Person", As: "ada"},
			{Op: OpSet, Entity: "ada", Attrs: map[string]interface{}{"age": 36}},
			{Op: OpNew, Type: "Person", As: "bob"},
		},
		Assertions: []Assertion{
			{Type: AssertAttribute, Entity: "ada", Field: "name", Expect: "never checked"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[1] set")
	assert.Contains(t, result.Errors[0], "unknown attribute")
	assert.NotContains(t, result.Errors[0], "never checked")
}

func TestRun_ExpectError(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr string
	}{
		{
			name:    "expected error occurs",
			step:    Step{Op: OpLink, Entity: "ada", Field: "cars", To: "mini", ExpectError: "single entity"},
			wantErr: "",
		},
		{
			name:    "expected error missing",
			step:    Step{Op: OpLink, Entity: "mini", Field: "owner", To: "ada", ExpectError: "anything"},
			wantErr: "expected error containing \"anything\", got none",
		},
		{
			name:    "different error",
			step:    Step{Op: OpLink, Entity: "mini", Field: "owner", To: []interface{}{"ada"}, ExpectError: "single entity"},
			wantErr: "cannot assign a collection",
		},
		{
			name:    "unknown alias",
			step:    Step{Op: OpRemove, Entity: "zed"},
			wantErr: `unknown alias "zed"`,
		},
		{
			name:    "unknown field",
			step:    Step{Op: OpResolve, Entity: "mini", Field: "wheels"},
			wantErr: `Car has no relationship "wheels"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := &Scenario{
				Name:        "expect_error",
				Description: "Step error expectations",
				Schema:      garageSchema,
				Steps: []Step{
					{Op: OpNew, Type: "Person", As: "ada"},
					{Op: OpNew, Type: "Car", As: "mini"},
					tt.step,
				},
				Assertions: []Assertion{{Type: AssertReciprocal}},
			}

			result, err := Run(scenario)
			require.NoError(t, err)
			if tt.wantErr == "" {
				assert.True(t, result.Pass, "errors: %v", result.Errors)
				return
			}
			assert.False(t, result.Pass)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], tt.wantErr)
		})
	}
}

func TestRun_SchemaErrorIsSetupFailure(t *testing.T) {
	scenario, err := LoadScenario("testdata/invalid/bad_schema.yaml")
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile schema")
}

func TestRun_AssertionFailureReported(t *testing.T) {
	scenario, err := LoadScenario("testdata/invalid/failing.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: attribute (ada.name)")
	assert.Contains(t, result.Errors[0], "Expected: Bob")
	assert.Contains(t, result.Errors[0], "Actual: Ada")
}

func TestRun_TraceNamesUnaliasedEntities(t *testing.T) {
	scenario := &Scenario{
		Name:        "placeholders",
		Description: "Entities created by mapping are named by type and remote id",
		Schema:      garageSchema,
		Steps: []Step{
			{Op: OpMap, Type: "Car", As: "mini", Raw: map[string]interface{}{"id": "c1", "owner": "p1"}},
		},
		Assertions: []Assertion{
			{Type: AssertRelated, Entity: "mini", Field: "owner", Expect: "Person/p1"},
			{Type: AssertReciprocal},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	var splice TraceEvent
	for _, ev := range result.Records() {
		if ev.Kind == "splice" {
			splice = ev
		}
	}
	assert.Equal(t, "Person/p1", splice.Entity)
	assert.Equal(t, "cars", splice.Field)
	assert.Equal(t, -1, splice.Index)
	assert.Equal(t, []string{"mini"}, splice.Added)
}

func TestResult_AddError(t *testing.T) {
	result := NewResult()
	assert.True(t, result.Pass)

	result.AddError("boom")
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"boom"}, result.Errors)
}

func TestResult_Records(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Kind: "set", Seq: 1},
		{Kind: "save", Written: []string{"ada"}},
		{Kind: "splice", Seq: 2},
	}

	records := result.Records()
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].Seq)
	assert.Equal(t, int64(2), records[1].Seq)
}

func TestToObject(t *testing.T) {
	obj, err := toObject(nil)
	require.NoError(t, err)
	assert.Empty(t, obj)

	_, err = toObject(map[string]interface{}{"weight": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}
