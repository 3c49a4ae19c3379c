package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenarios_Golden(t *testing.T) {
	paths, err := FindScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.Len(t, paths, 4)

	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err)
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Trace, len(s.Runs))
		})
	}
}

func TestRun_FailedRunKeepsHWM(t *testing.T) {
	result, err := Run(loadTestScenario(t, "failed_run_keeps_hwm"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	hwms := make([]string, 0, len(result.Trace))
	for _, ev := range result.Trace {
		hwms = append(hwms, ev.HWM)
	}
	assert.Equal(t, []string{"100", "100", "200", "200", "200"}, hwms)
	assert.Equal(t, OutcomeFailure, result.Trace[1].Outcome)
}

func TestRun_ReportsMismatches(t *testing.T) {
	s := loadTestScenario(t, "failed_run_keeps_hwm")
	s.Runs[0].Expect.Boundary = "(0, 100]"
	s.Runs = append(s.Runs, RunStep{Max: 300, Expect: &ExpectClause{Error: "TYPE_MISMATCH"}})
	v := "300"
	s.Assertions = []Assertion{
		{Type: AssertHWMValue, Value: &v},
		{Type: AssertHistoryCount, Count: 1},
		{Type: AssertQueryContains, Run: 1, Contains: "id <= 100"},
		{Type: AssertProposalStatus, Plan: "run-2", Status: "abandoned"},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3, "errors: %v", result.Errors)
	assert.Contains(t, result.Errors[0], "run 1: boundary mismatch")
	assert.Contains(t, result.Errors[1], "run 6: expected error TYPE_MISMATCH, got plan run-6")
	assert.Contains(t, result.Errors[2], "assertions[1]")
	assert.Contains(t, result.Errors[2], "Assertion failed: history_count")
}

func TestRun_UnexpectedPlanningError(t *testing.T) {
	s := loadTestScenario(t, "failed_run_keeps_hwm")
	s.Runs = []RunStep{{ProbeError: "connection refused"}, {Max: 3}}
	s.Assertions = nil

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "connection refused")
	assert.Equal(t, errorUncoded, result.Trace[0].Error)
	assert.Equal(t, "3", result.Trace[1].HWM)
}

func TestRun_UnknownRead(t *testing.T) {
	s := loadTestScenario(t, "date_offset")
	s.Read = "nope"
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "C009")
}

func TestLoadScenario_Validation(t *testing.T) {
	dir := t.TempDir()
	config, err := filepath.Abs(filepath.Join("testdata", "configs", "shop.yaml"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing name", "description: d\nconfig: " + config + "\nread: orders\nruns: [{max: 1}]\n", "name is required"},
		{"missing read", "name: n\ndescription: d\nconfig: " + config + "\nruns: [{max: 1}]\n", "read is required"},
		{"no runs", "name: n\ndescription: d\nconfig: " + config + "\nread: orders\n", "runs list is required"},
		{"bad outcome", "name: n\ndescription: d\nconfig: " + config + "\nread: orders\nruns: [{max: 1, outcome: maybe}]\n", "unknown outcome"},
		{"unknown field", "name: n\ndescription: d\nconfig: " + config + "\nread: orders\nrunz: []\n", "failed to parse YAML"},
		{"run out of range", "name: n\ndescription: d\nconfig: " + config + "\nread: orders\nruns: [{max: 1}]\nassertions: [{type: query_contains, run: 2, contains: x}]\n", "run must be between 1 and 1"},
		{"unknown assertion", "name: n\ndescription: d\nconfig: " + config + "\nread: orders\nruns: [{max: 1}]\nassertions: [{type: final_state}]\n", "unknown assertion type"},
		{"missing config", "name: n\ndescription: d\nconfig: nope.yaml\nread: orders\nruns: [{max: 1}]\n", "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "s.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_ResolvesConfigRelativeToFile(t *testing.T) {
	s := loadTestScenario(t, "mongo_pending")
	assert.Equal(t, filepath.Join("testdata", "configs", "events.cue"), s.Config)
	assert.Equal(t, "job", s.PlanPrefix)
}

func TestRunSuite(t *testing.T) {
	paths, err := FindScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	broken, err := FindScenarios(filepath.Join("testdata", "broken"))
	require.NoError(t, err)
	paths = append(paths, broken...)

	result, err := RunSuite(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, len(paths), result.TotalScenarios)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, result.TotalScenarios-2, result.Passed)

	byPath := map[string]string{}
	for _, f := range result.Failures {
		byPath[filepath.Base(f.ScenarioPath)] = f.Error
	}
	assert.Contains(t, byPath["missing_config.yaml"], "failed to load scenario")
	assert.Contains(t, byPath["wrong_hwm.yaml"], "scenario assertions failed")
}

func TestRunSuite_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := RunSuite(ctx, []string{filepath.Join("testdata", "scenarios", "date_offset.yaml")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, result.TotalScenarios)
}

func TestFindScenarios_File(t *testing.T) {
	path := filepath.Join("testdata", "scenarios", "date_offset.yaml")
	paths, err := FindScenarios(path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)

	_, err = FindScenarios(filepath.Join("testdata", "missing"))
	assert.Error(t, err)
}
