package harness

// TraceEvent records one run of a scenario.
type TraceEvent struct {
	Run      int    `json:"run"`
	PlanID   string `json:"plan_id,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Boundary string `json:"boundary,omitempty"`
	Where    string `json:"where,omitempty"`
	Query    string `json:"query,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	// Error is the planning error code when the run could not be planned.
	Error string `json:"error,omitempty"`
	// HWM is the stored value after the run settled, empty when none.
	HWM string `json:"hwm,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains one event per run, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddRun appends a run to the trace.
func (r *Result) AddRun(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
