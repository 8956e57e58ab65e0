package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt", "nested/c.YAML"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}

	paths, err := FindScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.YAML"),
	}, paths)

	single, err := FindScenarios(filepath.Join(dir, "b.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, single)

	_, err = FindScenarios(filepath.Join(dir, "absent"))
	assert.Error(t, err)
}

func TestRunDir_ExampleScenarios(t *testing.T) {
	result, err := RunDir("testdata/scenarios")
	require.NoError(t, err)

	assert.True(t, result.OK(), "failures: %+v", result.Failures)
	assert.Equal(t, result.TotalScenarios, result.Passed)
	assert.Positive(t, result.TotalScenarios)
}

func TestRunDir_Failures(t *testing.T) {
	result, err := RunDir("testdata/invalid")
	require.NoError(t, err)

	assert.False(t, result.OK())
	assert.Equal(t, 3, result.TotalScenarios)
	assert.Equal(t, 0, result.Passed)
	require.Len(t, result.Failures, 3)

	byPath := make(map[string]ScenarioFailure)
	for _, f := range result.Failures {
		byPath[filepath.Base(f.Path)] = f
	}
	assert.Contains(t, byPath["bad_schema.yaml"].Errors[0], "scenario execution failed")
	assert.Equal(t, "failing", byPath["failing.yaml"].Scenario)
	assert.Contains(t, byPath["failing.yaml"].Errors[0], "Assertion failed: attribute")
	assert.Contains(t, byPath["no_steps.yaml"].Errors[0], "failed to load scenario")
}
