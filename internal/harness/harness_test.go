package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios and
// compares traces against golden files.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenario files found")

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRunReportsAssertionFailure(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing",
		Description: "a deliberately wrong expectation",
		Clients:     []string{"a"},
		Steps: []Step{
			{Action: ActionSetCells, Client: "a", Cells: []CellSpec{{X: 1, Y: 1, Value: 5}}},
		},
		Assertions: []Assertion{
			{Type: AssertCellValue, Client: "a", X: 1, Y: 1, Expect: 6},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `"5"`)
	assert.Contains(t, result.Errors[0], `"6"`)
}

func TestRunIsolatesClients(t *testing.T) {
	scenario := &Scenario{
		Name:        "isolation",
		Description: "edits do not reach other clients before sync",
		Clients:     []string{"a", "b"},
		Steps: []Step{
			{Action: ActionSetCells, Client: "a", Cells: []CellSpec{{X: 1, Y: 1, Value: 5}}},
		},
		Assertions: []Assertion{
			{Type: AssertCellValue, Client: "a", X: 1, Y: 1, Expect: 5},
			{Type: AssertCellValue, Client: "b", X: 1, Y: 1, Expect: nil},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunResumeWithoutPendingFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad-resume",
		Description: "resume with no outstanding async request",
		Clients:     []string{"a"},
		Steps: []Step{
			{Action: ActionResume, Client: "a", Value: 1},
		},
		Assertions: []Assertion{
			{Type: AssertCanUndo, Client: "a", Expect: false},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no outstanding async request")
}
