package harness

import (
	"context"
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			if ev.Error != "" {
				fmt.Fprintf(&buf, "  [%d] error %s hwm=%q\n", ev.Run, ev.Error, ev.HWM)
				continue
			}
			fmt.Fprintf(&buf, "  [%d] %s %s %s hwm=%q\n", ev.Run, ev.PlanID, ev.Outcome, ev.Boundary, ev.HWM)
		}
	}
	return buf.String()
}

// evaluateAssertions runs every assertion and returns the failure messages.
func (h *Harness) evaluateAssertions(ctx context.Context, result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertHWMValue:
			err = h.assertHWMValue(ctx, result.Trace, a)
		case AssertHistoryCount:
			err = h.assertHistoryCount(ctx, result.Trace, a)
		case AssertQueryContains:
			err = assertQueryContains(result.Trace, a)
		case AssertProposalStatus:
			err = h.assertProposalStatus(ctx, result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// assertHWMValue checks the stored HWM value; a nil Value expects none.
func (h *Harness) assertHWMValue(ctx context.Context, trace []TraceEvent, a Assertion) error {
	if h.identity == nil {
		return fmt.Errorf("read %s has no hwm", h.read.Name)
	}
	got, err := h.currentHWM(ctx)
	if err != nil {
		return err
	}
	want := ""
	if a.Value != nil {
		want = *a.Value
	}
	if got != want {
		return &AssertionError{
			Type:     AssertHWMValue,
			Expected: describeValue(want),
			Actual:   describeValue(got),
			Trace:    trace,
		}
	}
	return nil
}

func describeValue(v string) string {
	if v == "" {
		return "no stored hwm"
	}
	return v
}

// assertHistoryCount checks how many values were saved for the read's HWM.
func (h *Harness) assertHistoryCount(ctx context.Context, trace []TraceEvent, a Assertion) error {
	if h.identity == nil {
		return fmt.Errorf("read %s has no hwm", h.read.Name)
	}
	history, err := h.store.History(ctx, *h.identity)
	if err != nil {
		return err
	}
	if len(history) != a.Count {
		return &AssertionError{
			Type:     AssertHistoryCount,
			Expected: fmt.Sprintf("%d saved values", a.Count),
			Actual:   fmt.Sprintf("%d saved values", len(history)),
			Trace:    trace,
		}
	}
	return nil
}

// assertQueryContains checks the query of run a.Run for a fragment.
func assertQueryContains(trace []TraceEvent, a Assertion) error {
	if a.Run < 1 || a.Run > len(trace) {
		return fmt.Errorf("run %d not in trace of %d runs", a.Run, len(trace))
	}
	ev := trace[a.Run-1]
	if !strings.Contains(ev.Query, a.Contains) {
		return &AssertionError{
			Type:     AssertQueryContains,
			Expected: fmt.Sprintf("run %d query containing %q", a.Run, a.Contains),
			Actual:   ev.Query,
			Trace:    trace,
		}
	}
	return nil
}

// assertProposalStatus checks the persisted status of a plan's proposal.
func (h *Harness) assertProposalStatus(ctx context.Context, trace []TraceEvent, a Assertion) error {
	p, err := h.store.LoadProposal(ctx, a.Plan)
	if err != nil {
		return err
	}
	if got := p.Status().String(); got != a.Status {
		return &AssertionError{
			Type:     AssertProposalStatus,
			Expected: fmt.Sprintf("plan %s %s", a.Plan, a.Status),
			Actual:   fmt.Sprintf("plan %s %s", a.Plan, got),
			Trace:    trace,
		}
	}
	return nil
}
