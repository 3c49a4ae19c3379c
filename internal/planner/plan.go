package planner

import (
	"github.com/roach88/tidemark/internal/hwm"
)

// Mode is the read mode of a plan.
type Mode string

const (
	// ModeSnapshot reads everything matching where.
	ModeSnapshot Mode = "snapshot"
	// ModeIncremental reads the rows between the stored HWM and the current max.
	ModeIncremental Mode = "incremental"
	// ModeBatch reads the rows above the stored HWM one step at a time.
	ModeBatch Mode = "batch"
)

// ReadPlan is the immutable result of Plan: everything an execution engine
// needs to read the source, plus the HWM proposal to settle afterwards.
type ReadPlan struct {
	id          string
	dialect     string
	table       string
	columns     []string
	where       string
	hint        string
	boundary    hwm.Boundary
	mode        Mode
	proposal    *hwm.Proposal
	fingerprint string
	query       string
	more        bool
}

// ID is the plan id, unique per Plan call.
func (p *ReadPlan) ID() string { return p.id }

// Dialect is the dialect name the plan was rendered for.
func (p *ReadPlan) Dialect() string { return p.dialect }

// Table is the validated table name.
func (p *ReadPlan) Table() string { return p.table }

// Columns returns a copy of the resolved projection, or nil when the dialect
// does not support projection.
func (p *ReadPlan) Columns() []string {
	if p.columns == nil {
		return nil
	}
	return append([]string(nil), p.columns...)
}

// Where is the rendered filter, boundary condition included.
func (p *ReadPlan) Where() string { return p.where }

// Hint is the rendered hint.
func (p *ReadPlan) Hint() string { return p.hint }

// Boundary is the HWM range read by this plan. Snapshot plans are unbounded.
func (p *ReadPlan) Boundary() hwm.Boundary { return p.boundary }

// Mode is snapshot, incremental or batch.
func (p *ReadPlan) Mode() Mode { return p.mode }

// Proposal is the HWM proposal of an incremental plan, nil for snapshots.
func (p *ReadPlan) Proposal() *hwm.Proposal { return p.proposal }

// Fingerprint is the content hash of the plan. Plans that read the same data
// the same way share a fingerprint regardless of their ids.
func (p *ReadPlan) Fingerprint() string { return p.fingerprint }

// Query is the dialect's full read statement.
func (p *ReadPlan) Query() string { return p.query }

// MoreBatches reports whether a batch plan leaves batches for the next Plan
// call once this one is committed.
func (p *ReadPlan) MoreBatches() bool { return p.more }
