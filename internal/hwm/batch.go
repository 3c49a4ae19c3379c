package hwm

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/tidemark/internal/planerr"
)

// maxBatches bounds a single walk of a BatchIterator.
const maxBatches = 100000

// Batch splits an incremental run into sequential ranges of Step width.
// Start and Stop are optional and default to the probed minimum and maximum.
type Batch struct {
	Step  string
	Start string
	Stop  string
}

// BatchIterator yields the boundaries of a batched run in order: each is
// (current, min(current+step, stop)], and the walk ends once current reaches
// stop.
type BatchIterator struct {
	kind    Kind
	stepper Stepper
	step    string
	current Value
	stop    Value
	// firstLower replaces the lower bound of the first batch when
	// overrideFirst is set: nil to read the probed minimum itself, or the
	// stored value moved back by an offset.
	firstLower    Value
	overrideFirst bool
	n             int
}

// NewBatchIterator creates an iterator walking from start to stop. A nil
// start makes the first batch (nil, stop]; a nil stop yields no batches.
func NewBatchIterator(kind Kind, step string, start, stop Value) (*BatchIterator, error) {
	if kind == nil {
		return nil, planerr.InvalidInput("hwm", "hwm kind is required")
	}
	if strings.TrimSpace(step) == "" {
		return nil, planerr.InvalidInput("hwm.step", "batch step is required")
	}
	stepper, ok := kind.(Stepper)
	if !ok {
		return nil, planerr.Unsupported("", "hwm.step", "HWM kind %s does not support batch steps", kind.Name())
	}
	return &BatchIterator{kind: kind, stepper: stepper, step: step, current: start, stop: stop}, nil
}

// Next returns the next boundary. ok is false when the walk is over.
func (it *BatchIterator) Next() (b Boundary, ok bool, err error) {
	if it.stop == nil {
		return Boundary{}, false, nil
	}
	if it.current != nil {
		cmp, err := it.kind.Compare(it.current, it.stop)
		if err != nil {
			return Boundary{}, false, err
		}
		if cmp >= 0 {
			return Boundary{}, false, nil
		}
	}
	if it.n >= maxBatches {
		return Boundary{}, false, planerr.InvalidInput("hwm.step", "step %q yields more than %d batches", it.step, maxBatches)
	}

	upper := it.stop
	if it.current != nil {
		next, err := it.stepper.ApplyStep(it.current, it.step)
		if err != nil {
			return Boundary{}, false, err
		}
		if cmp, err := it.kind.Compare(next, it.current); err != nil {
			return Boundary{}, false, err
		} else if cmp <= 0 {
			return Boundary{}, false, planerr.InvalidInput("hwm.step", "batch step %q must be positive", it.step)
		}
		if cmp, err := it.kind.Compare(next, it.stop); err != nil {
			return Boundary{}, false, err
		} else if cmp < 0 {
			upper = next
		}
	}

	b = Boundary{Lower: it.current, Upper: upper}
	if it.n == 0 && it.overrideFirst {
		b.Lower = it.firstLower
	}
	it.current = upper
	it.n++
	return b, true, nil
}

// All drains the iterator.
func (it *BatchIterator) All() ([]Boundary, error) {
	var out []Boundary
	for {
		b, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, b)
	}
}

// Batches returns the boundaries still to read for a batched run. The walk
// resumes at the stored value, otherwise it starts at Batch.Start or the
// probed minimum. Offset only lowers the first bound; steps are taken from
// the stored value so every batch advances the HWM.
func (e *Engine) Batches(ctx context.Context, req Request) (*BatchIterator, error) {
	it, _, err := e.batches(ctx, req)
	return it, err
}

func (e *Engine) batches(ctx context.Context, req Request) (*BatchIterator, *State, error) {
	if req.Batch == nil {
		return nil, nil, planerr.InvalidInput("hwm.step", "batch step is required")
	}
	prev, err := e.loadPrevious(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	warm := prev != nil && prev.Value != nil

	start, err := e.parseBound(req, "start", req.Batch.Start)
	if err != nil {
		return nil, nil, err
	}
	stop, err := e.parseBound(req, "stop", req.Batch.Stop)
	if err != nil {
		return nil, nil, err
	}

	var firstLower Value
	overrideFirst := false
	if stop == nil || (!warm && start == nil) {
		rawMin, rawMax, err := e.probe.MinMax(ctx, req.Probe)
		if err != nil {
			return nil, nil, fmt.Errorf("probe bounds of %s: %w", req.Identity.Column, err)
		}
		if stop == nil && rawMax != nil {
			if stop, err = req.Kind.Parse(rawMax); err != nil {
				return nil, nil, err
			}
		}
		if !warm && start == nil && rawMin != nil {
			if start, err = req.Kind.Parse(rawMin); err != nil {
				return nil, nil, err
			}
			overrideFirst = true
		}
	}

	if warm {
		start = prev.Value
		overrideFirst = req.Offset != ""
		if firstLower, err = applyOffset(req, prev.Value); err != nil {
			return nil, nil, err
		}
	}

	it, err := NewBatchIterator(req.Kind, req.Batch.Step, start, stop)
	if err != nil {
		return nil, nil, err
	}
	it.firstLower, it.overrideFirst = firstLower, overrideFirst
	return it, prev, nil
}

func (e *Engine) parseBound(req Request, name, raw string) (Value, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, err := req.Kind.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", name, err)
	}
	return v, nil
}

// BeginBatch is Begin for a batched run: it proposes the first remaining
// batch. more reports whether batches remain after it. Once the walk is over
// the boundary is empty and the proposal keeps the stored value.
func (e *Engine) BeginBatch(ctx context.Context, req Request) (p *Proposal, b Boundary, more bool, err error) {
	it, prev, err := e.batches(ctx, req)
	if err != nil {
		return nil, Boundary{}, false, err
	}
	proposed, err := NewState(req.Identity.Column, req.Kind, req.Probe.Expression, nil)
	if err != nil {
		return nil, Boundary{}, false, err
	}
	if prev != nil {
		proposed.Value = prev.Value
	}

	b, ok, err := it.Next()
	if err != nil {
		return nil, Boundary{}, false, err
	}
	if !ok {
		b = Boundary{Lower: proposed.Value, Upper: proposed.Value}
		e.log.Debug().Str("hwm", req.Identity.QualifiedName()).Msg("batches exhausted")
		return NewProposal(req.Identity, proposed, prev), b, false, nil
	}

	if proposed.Value == nil {
		proposed.Value = b.Upper
	} else if cmp, err := req.Kind.Compare(b.Upper, proposed.Value); err != nil {
		return nil, Boundary{}, false, err
	} else if cmp > 0 {
		proposed.Value = b.Upper
	}

	_, more, err = it.Next()
	if err != nil {
		return nil, Boundary{}, false, err
	}
	e.log.Debug().
		Str("hwm", req.Identity.QualifiedName()).
		Stringer("boundary", b).
		Bool("more", more).
		Msg("batch")
	return NewProposal(req.Identity, proposed, prev), b, more, nil
}
