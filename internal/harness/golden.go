package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tidemark/internal/fingerprint"
)

// TraceSnapshot captures the trace of a scenario execution for golden
// comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts the snapshot to the value shapes fingerprint.Marshal
// accepts. Empty fields are omitted.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{"run": ev.Run}
		for k, v := range map[string]string{
			"plan_id":  ev.PlanID,
			"mode":     ev.Mode,
			"boundary": ev.Boundary,
			"where":    ev.Where,
			"query":    ev.Query,
			"outcome":  ev.Outcome,
			"error":    ev.Error,
			"hwm":      ev.HWM,
		} {
			if v != "" {
				m[k] = v
			}
		}
		trace[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
	}
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// SnapshotJSON renders the golden file content of a result: canonical JSON
// followed by a newline.
func SnapshotJSON(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	traceJSON, err := fingerprint.Marshal(snapshot.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	return append(traceJSON, '\n'), nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := SnapshotJSON(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
