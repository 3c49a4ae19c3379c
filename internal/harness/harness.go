package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/tidemark/internal/config"
	"github.com/roach88/tidemark/internal/dialect"
	"github.com/roach88/tidemark/internal/hwm"
	"github.com/roach88/tidemark/internal/logger"
	"github.com/roach88/tidemark/internal/planerr"
	"github.com/roach88/tidemark/internal/planner"
	"github.com/roach88/tidemark/internal/store"
	"github.com/roach88/tidemark/internal/testutil"
)

// errorUncoded marks planning failures that carry no planerr code, such as
// probe errors.
const errorUncoded = "ERROR"

// Harness runs one scenario against a fresh in-memory HWM store with a
// scripted probe, a stepping clock and sequential plan ids.
type Harness struct {
	store    *store.Store
	planner  *planner.Planner
	probe    *testutil.FakeProbe
	read     config.Read
	identity *hwm.Identity
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Load the config and pick the read
//  2. Open an in-memory SQLite HWM store (the config's store is ignored)
//  3. Plan and settle each run, recording the trace
//  4. Evaluate assertions against the store and trace
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	cfg, err := config.Load(scenario.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	read, err := cfg.Read(scenario.Read)
	if err != nil {
		return nil, err
	}
	d, err := dialect.Lookup(cfg.Source.Dialect)
	if err != nil {
		return nil, err
	}

	registry := hwm.NewRegistry()
	clock := testutil.NewClock()
	st, err := store.Open(":memory:", registry, store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	prefix := scenario.PlanPrefix
	if prefix == "" {
		prefix = "run"
	}
	probe := testutil.NewFakeProbe(nil)
	pcfg := planner.Config{
		Dialect:  d,
		Probe:    probe,
		Store:    st,
		Registry: registry,
		Logger:   logger.Nop(),
		IDs:      testutil.NewSequentialIDs(prefix),
		Source:   cfg.Source.InstanceName(),
		Process:  scenario.Process,
	}
	if len(scenario.Tables) > 0 {
		schema := testutil.NewFakeSchema()
		for table, fields := range scenario.Tables {
			schema.WithTable(table, fields...)
		}
		pcfg.Schema = schema
	}
	p, err := planner.New(pcfg)
	if err != nil {
		return nil, err
	}

	h := &Harness{store: st, planner: p, probe: probe, read: read}
	if read.HWM != nil {
		h.identity = &hwm.Identity{
			Source:  pcfg.Source,
			Table:   read.Table,
			Column:  read.HWM.Column,
			Process: scenario.Process,
		}
	}

	result := NewResult()
	if err := h.executeRuns(ctx, scenario.Runs, result); err != nil {
		return nil, fmt.Errorf("failed to execute runs: %w", err)
	}

	for _, msg := range h.evaluateAssertions(ctx, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeRuns plans and settles each run in order. Planning errors are part
// of the trace; commit errors abort the scenario.
func (h *Harness) executeRuns(ctx context.Context, runs []RunStep, result *Result) error {
	for i, step := range runs {
		ev := TraceEvent{Run: i + 1}

		var probeErr error
		if step.ProbeError != "" {
			probeErr = errors.New(step.ProbeError)
		}
		h.probe.Fail(probeErr)
		h.probe.Set(step.Min, step.Max)

		plan, err := h.planner.Plan(ctx, h.read.Request())
		if err != nil {
			ev.Error = string(planerr.CodeOf(err))
			if ev.Error == "" {
				ev.Error = errorUncoded
			}
			if step.Expect == nil || step.Expect.Error == "" {
				result.AddError(fmt.Sprintf("run %d: unexpected error: %v", ev.Run, err))
			} else if step.Expect.Error != ev.Error {
				result.AddError(fmt.Sprintf("run %d: expected error %s, got %s: %v", ev.Run, step.Expect.Error, ev.Error, err))
			}
		} else {
			ev.PlanID = plan.ID()
			ev.Mode = string(plan.Mode())
			if plan.Mode() == planner.ModeIncremental {
				ev.Boundary = plan.Boundary().String()
			}
			ev.Where = plan.Where()
			ev.Query = plan.Query()

			ev.Outcome = step.Outcome
			if ev.Outcome == "" {
				ev.Outcome = OutcomeSuccess
			}
			switch ev.Outcome {
			case OutcomeSuccess:
				err = h.planner.Commit(ctx, plan, true)
			case OutcomeFailure:
				err = h.planner.Commit(ctx, plan, false)
			}
			if err != nil {
				return fmt.Errorf("run %d: commit: %w", ev.Run, err)
			}
			checkExpect(ev, step.Expect, result)
		}

		hwmValue, err := h.currentHWM(ctx)
		if err != nil {
			return fmt.Errorf("run %d: %w", ev.Run, err)
		}
		ev.HWM = hwmValue
		result.AddRun(ev)
	}
	return nil
}

func checkExpect(ev TraceEvent, expect *ExpectClause, result *Result) {
	if expect == nil {
		return
	}
	if expect.Error != "" {
		result.AddError(fmt.Sprintf("run %d: expected error %s, got plan %s", ev.Run, expect.Error, ev.PlanID))
		return
	}
	for _, c := range []struct{ field, want, got string }{
		{"mode", expect.Mode, ev.Mode},
		{"boundary", expect.Boundary, ev.Boundary},
		{"where", expect.Where, ev.Where},
		{"query", expect.Query, ev.Query},
	} {
		if c.want != "" && c.want != c.got {
			result.AddError(fmt.Sprintf("run %d: %s mismatch\n  expected: %s\n  actual:   %s", ev.Run, c.field, c.want, c.got))
		}
	}
}

// currentHWM returns the serialized stored value, or "" when none is stored.
func (h *Harness) currentHWM(ctx context.Context) (string, error) {
	if h.identity == nil {
		return "", nil
	}
	st, err := h.store.Load(ctx, *h.identity)
	if err != nil || st == nil || st.Value == nil {
		return "", err
	}
	return st.Kind.Serialize(st.Value)
}
