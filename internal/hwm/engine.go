package hwm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/roach88/tidemark/internal/planerr"
)

// ProbeRequest describes the MIN/MAX probe of the HWM column or expression.
// Where and Hint are already rendered for the source.
type ProbeRequest struct {
	Table      string
	Column     string
	Expression string
	Where      string
	Hint       string
}

// BoundsProbe returns the current minimum and maximum of the HWM column.
// Values are raw driver values; the engine parses them with the HWM kind.
// A nil max means the source has no rows matching the request.
type BoundsProbe interface {
	MinMax(ctx context.Context, req ProbeRequest) (min, max any, err error)
}

// Request is one incremental run.
type Request struct {
	Identity Identity
	Kind     Kind
	Probe    ProbeRequest

	// Offset moves the previous value back before it becomes the lower bound.
	Offset string

	// Batch splits the run into steps. Only BeginBatch and Batches read it.
	Batch *Batch
}

// Engine computes read boundaries and commits HWM values.
type Engine struct {
	store Store
	probe BoundsProbe
	log   zerolog.Logger
}

// NewEngine creates an Engine.
func NewEngine(store Store, probe BoundsProbe, log zerolog.Logger) *Engine {
	return &Engine{store: store, probe: probe, log: log}
}

// Begin computes the boundary for an incremental run and the state to commit
// if the run succeeds.
//
// Cold start (no stored state): boundary (nil, max]. Warm start: boundary
// (previous, max]; an empty or inverted range is valid and not an error.
// The proposed value never moves below the previous one.
func (e *Engine) Begin(ctx context.Context, req Request) (*Proposal, Boundary, error) {
	prev, err := e.loadPrevious(ctx, req)
	if err != nil {
		return nil, Boundary{}, err
	}

	_, rawMax, err := e.probe.MinMax(ctx, req.Probe)
	if err != nil {
		return nil, Boundary{}, fmt.Errorf("probe bounds of %s: %w", req.Identity.Column, err)
	}

	proposed, err := NewState(req.Identity.Column, req.Kind, req.Probe.Expression, rawMax)
	if err != nil {
		return nil, Boundary{}, err
	}
	boundary := Boundary{Upper: proposed.Value}

	if prev == nil || prev.Value == nil {
		e.log.Debug().
			Str("hwm", req.Identity.QualifiedName()).
			Stringer("boundary", boundary).
			Msg("cold start")
		return NewProposal(req.Identity, proposed, prev), boundary, nil
	}

	if boundary.Lower, err = applyOffset(req, prev.Value); err != nil {
		return nil, Boundary{}, err
	}

	if proposed.Value == nil {
		proposed.Value = prev.Value
	} else {
		cmp, err := req.Kind.Compare(proposed.Value, prev.Value)
		if err != nil {
			return nil, Boundary{}, err
		}
		if cmp < 0 {
			e.log.Warn().
				Str("hwm", req.Identity.QualifiedName()).
				Stringer("previous", prev.Value).
				Stringer("current_max", proposed.Value).
				Msg("current max is below the stored HWM, keeping the stored value")
			proposed.Value = prev.Value
		}
	}

	e.log.Debug().
		Str("hwm", req.Identity.QualifiedName()).
		Stringer("boundary", boundary).
		Msg("warm start")
	return NewProposal(req.Identity, proposed, prev), boundary, nil
}

// loadPrevious checks req and returns the stored state of its identity.
func (e *Engine) loadPrevious(ctx context.Context, req Request) (*State, error) {
	if err := req.Identity.Validate(); err != nil {
		return nil, err
	}
	if req.Kind == nil {
		return nil, planerr.InvalidInput("hwm", "hwm kind is required")
	}
	if e.store == nil || e.probe == nil {
		return nil, planerr.InvalidInput("hwm", "incremental reads need an HWM store and a bounds probe")
	}

	prev, err := e.store.Load(ctx, req.Identity)
	if err != nil {
		return nil, fmt.Errorf("load hwm %s: %w", req.Identity.QualifiedName(), err)
	}
	if prev != nil && prev.Kind.Name() != req.Kind.Name() {
		return nil, planerr.TypeMismatch(req.Kind.Name(),
			"stored HWM for %s has kind %s, column now resolves to %s",
			req.Identity.QualifiedName(), prev.Kind.Name(), req.Kind.Name())
	}
	return prev, nil
}

// applyOffset moves v back by req.Offset, if one is set.
func applyOffset(req Request, v Value) (Value, error) {
	if req.Offset == "" {
		return v, nil
	}
	off, ok := req.Kind.(Offsetter)
	if !ok {
		return nil, planerr.Unsupported("", "hwm.offset", "HWM kind %s does not support offsets", req.Kind.Name())
	}
	return off.ApplyOffset(v, req.Offset)
}

// Commit settles a proposal. On success the proposed state is saved; on
// failure the store is not touched and the proposal is abandoned. A proposal
// whose save fails stays proposed so the commit can be retried. A proposal
// below the stored value (a newer plan committed first) is abandoned with
// INVALID_INPUT and never saved.
func (e *Engine) Commit(ctx context.Context, p *Proposal, succeeded bool) error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusProposed {
		return planerr.InvalidInput("hwm", "proposal for %s already settled (%s)", p.Identity.QualifiedName(), p.status)
	}

	if !succeeded {
		p.status = StatusAbandoned
		e.log.Info().Str("hwm", p.Identity.QualifiedName()).Msg("read failed, HWM left unchanged")
		return nil
	}

	if p.State.Value != nil {
		current, err := e.store.Load(ctx, p.Identity)
		if err != nil {
			return fmt.Errorf("load hwm %s: %w", p.Identity.QualifiedName(), err)
		}
		if err := CheckAdvance(p.Identity, current, p.State); err != nil {
			p.status = StatusAbandoned
			e.log.Warn().Err(err).Str("hwm", p.Identity.QualifiedName()).Msg("stale proposal abandoned")
			return err
		}
		if err := e.store.Save(ctx, p.Identity, p.State); err != nil {
			// The store repeats the check atomically; a refusal there is final.
			if planerr.IsCode(err, planerr.CodeInvalidInput) {
				p.status = StatusAbandoned
			}
			return fmt.Errorf("save hwm %s: %w", p.Identity.QualifiedName(), err)
		}
	}
	p.status = StatusCommitted
	e.log.Info().
		Str("hwm", p.Identity.QualifiedName()).
		Stringer("value", valueOrNil{p.State.Value}).
		Msg("HWM committed")
	return nil
}

type valueOrNil struct{ v Value }

func (v valueOrNil) String() string { return boundString(v.v) }
