// Package planner turns a read request into a ReadPlan: it validates the
// request against the dialect, resolves the projection, computes the HWM
// boundary and renders every query fragment. Commit settles the plan's HWM
// proposal after the read has run.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/roach88/tidemark/internal/columns"
	"github.com/roach88/tidemark/internal/dialect"
	"github.com/roach88/tidemark/internal/fingerprint"
	"github.com/roach88/tidemark/internal/hwm"
	"github.com/roach88/tidemark/internal/logger"
	"github.com/roach88/tidemark/internal/metrics"
	"github.com/roach88/tidemark/internal/planerr"
	"github.com/roach88/tidemark/internal/predicate"
)

// IDGenerator produces plan ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 plan ids.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7. It panics if the random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ProposalStore is implemented by HWM stores that persist proposals, so a
// plan made by one process can be committed by another.
type ProposalStore interface {
	SaveProposal(ctx context.Context, planID string, p *hwm.Proposal) error
	LoadProposal(ctx context.Context, planID string) (*hwm.Proposal, error)
	SettleProposal(ctx context.Context, planID string, status hwm.Status) error
}

// Config wires a Planner to one source.
type Config struct {
	Dialect *dialect.Dialect

	// Schema expands wildcards and resolves HWM types when no schema hint is
	// given. Optional.
	Schema columns.SchemaLookup
	// Probe and Store are required for incremental plans.
	Probe hwm.BoundsProbe
	Store hwm.Store

	Registry *hwm.Registry
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
	IDs      IDGenerator

	// Source identifies the source instance in HWM identities, e.g.
	// "postgres://db:5432/shop". Defaults to the dialect name.
	Source string
	// Process optionally scopes HWM identities to one process.
	Process string
}

// HWMSpec selects the HWM column of an incremental read.
type HWMSpec struct {
	Column string
	// Expression is read instead of Column and aliased as Column.
	Expression string
	// Type is a kind name or source type name. When empty the type comes
	// from the schema.
	Type string
	// Offset moves the stored value back before it becomes the lower bound.
	Offset string

	// Step turns the read into a batch read of ranges this wide. Start and
	// Stop bound the batches and default to the probed min and max.
	Step  string
	Start string
	Stop  string
}

// batch returns the engine batch, or nil for a plain incremental read.
func (s *HWMSpec) batch() *hwm.Batch {
	if strings.TrimSpace(s.Step) == "" {
		return nil
	}
	return &hwm.Batch{Step: s.Step, Start: s.Start, Stop: s.Stop}
}

// Request is one read to plan.
type Request struct {
	Table   string
	Columns []string
	Where   predicate.Predicate
	Hint    predicate.Predicate
	HWM     *HWMSpec

	// SchemaHint replaces the schema lookup for this request.
	SchemaHint []columns.Field
}

// Planner builds read plans for one source.
type Planner struct {
	cfg    Config
	engine *hwm.Engine
	log    *logger.Logger
}

// New creates a Planner.
func New(cfg Config) (*Planner, error) {
	if cfg.Dialect == nil {
		return nil, planerr.InvalidInput("dialect", "dialect is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = hwm.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.IDs == nil {
		cfg.IDs = UUIDv7Generator{}
	}
	if cfg.Source == "" {
		cfg.Source = cfg.Dialect.Name
	}
	log := cfg.Logger.Named("planner")
	return &Planner{
		cfg:    cfg,
		engine: hwm.NewEngine(cfg.Store, cfg.Probe, *log.Logger),
		log:    log,
	}, nil
}

// Dialect returns the planner's dialect.
func (p *Planner) Dialect() *dialect.Dialect {
	return p.cfg.Dialect
}

// Plan validates req and builds its ReadPlan. Any failure returns no plan and
// leaves the HWM store untouched.
func (p *Planner) Plan(ctx context.Context, req Request) (plan *ReadPlan, err error) {
	d := p.cfg.Dialect
	mode := ModeSnapshot
	if req.HWM != nil {
		mode = ModeIncremental
		if req.HWM.batch() != nil {
			mode = ModeBatch
		}
	}

	id := p.cfg.IDs.Generate()
	log := p.log.With().Str("plan_id", id).Str("table", req.Table).Str("mode", string(mode)).Logger()

	start := time.Now()
	defer func() {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeError
			log.Debug().Err(err).Msg("plan rejected")
		}
		p.cfg.Metrics.ObservePlan(d.Name, string(mode), outcome, time.Since(start))
	}()

	if err := p.validate(req); err != nil {
		return nil, err
	}
	log.Debug().Strs("columns", req.Columns).Bool("schema_hint", len(req.SchemaHint) > 0).Msg("request validated")

	var lookup columns.SchemaLookup
	if len(req.SchemaHint) > 0 {
		lookup = columns.Static(req.SchemaHint)
	} else if p.cfg.Schema != nil {
		lookup = p.cfg.Schema
	}

	var hwmColumn *columns.HWMColumn
	if req.HWM != nil {
		hwmColumn = &columns.HWMColumn{Name: req.HWM.Column, Expression: req.HWM.Expression}
	}

	var resolved []string
	if d.SupportsColumns {
		resolved, err = columns.Resolve(ctx, columns.Request{
			Table:     req.Table,
			Requested: req.Columns,
			Lookup:    lookup,
			HWM:       hwmColumn,
		})
		if err != nil {
			return nil, err
		}
		log.Debug().Strs("resolved", resolved).Msg("columns resolved")
	}

	where, err := d.RenderWhere(req.Where)
	if err != nil {
		return nil, err
	}
	hint, err := d.RenderHint(req.Hint)
	if err != nil {
		return nil, err
	}

	plan = &ReadPlan{
		id:      id,
		dialect: d.Name,
		table:   req.Table,
		columns: resolved,
		where:   where,
		hint:    hint,
		mode:    mode,
	}

	if req.HWM != nil {
		kind, err := p.resolveKind(ctx, req, lookup, resolved)
		if err != nil {
			return nil, err
		}
		identity := hwm.Identity{
			Source:  p.cfg.Source,
			Table:   req.Table,
			Column:  req.HWM.Column,
			Process: p.cfg.Process,
		}
		hreq := hwm.Request{
			Identity: identity,
			Kind:     kind,
			Probe: hwm.ProbeRequest{
				Table:      req.Table,
				Column:     req.HWM.Column,
				Expression: req.HWM.Expression,
				Where:      where,
				Hint:       hint,
			},
			Offset: req.HWM.Offset,
			Batch:  req.HWM.batch(),
		}
		var proposal *hwm.Proposal
		var boundary hwm.Boundary
		if hreq.Batch != nil {
			proposal, boundary, plan.more, err = p.engine.BeginBatch(ctx, hreq)
		} else {
			proposal, boundary, err = p.engine.Begin(ctx, hreq)
		}
		if err != nil {
			return nil, err
		}
		log.Debug().Str("hwm", identity.QualifiedName()).Str("kind", kind.Name()).Stringer("boundary", boundary).Msg("boundary computed")

		plan.where, err = d.RenderBoundary(req.Where, dialect.Target{Column: req.HWM.Column, Expression: req.HWM.Expression}, boundary)
		if err != nil {
			return nil, err
		}
		plan.boundary = boundary
		plan.proposal = proposal
	}

	plan.query = d.RenderQuery(plan.table, plan.columns, plan.where, plan.hint)
	if plan.fingerprint, err = planFingerprint(plan); err != nil {
		return nil, planerr.Internal("fingerprint plan: %v", err)
	}

	if ps, ok := p.cfg.Store.(ProposalStore); ok && plan.proposal != nil {
		if err := ps.SaveProposal(ctx, plan.id, plan.proposal); err != nil {
			return nil, fmt.Errorf("persist proposal of plan %s: %w", plan.id, err)
		}
	}

	log.Info().
		Str("where", plan.where).
		Stringer("boundary", plan.boundary).
		Str("fingerprint", plan.fingerprint).
		Msg("plan ready")
	return plan, nil
}

func (p *Planner) validate(req Request) error {
	d := p.cfg.Dialect
	if err := d.ValidateTable(req.Table); err != nil {
		return err
	}
	if err := d.ValidateWhere(req.Where); err != nil {
		return err
	}
	if err := d.ValidateHint(req.Hint); err != nil {
		return err
	}
	if err := d.ValidateColumns(req.Columns); err != nil {
		return err
	}
	if req.HWM == nil {
		return nil
	}

	if strings.TrimSpace(req.HWM.Column) == "" {
		return planerr.StructuralInput("hwm.column", "hwm column name is required")
	}
	if err := d.ValidateHWMExpression(req.HWM.Expression); err != nil {
		return err
	}
	if req.HWM.batch() == nil && (req.HWM.Start != "" || req.HWM.Stop != "") {
		return planerr.StructuralInput("hwm.step", "hwm start and stop need a batch step")
	}
	if len(req.SchemaHint) > 0 {
		if _, ok := columns.Static(req.SchemaHint).Find(req.HWM.Column); !ok {
			return planerr.SchemaMismatch(req.HWM.Column,
				"schema hint must contain the hwm column %q, otherwise its HWM type cannot be determined", req.HWM.Column)
		}
	} else if d.RequiresSchemaHint {
		return planerr.SchemaMismatch(req.HWM.Column,
			"%s needs a schema hint containing the hwm column %q", d.Name, req.HWM.Column)
	}
	return nil
}

// resolveKind picks the HWM kind: the explicit type, else the type of the HWM
// column in the schema.
func (p *Planner) resolveKind(ctx context.Context, req Request, lookup columns.SchemaLookup, resolved []string) (hwm.Kind, error) {
	if t := strings.TrimSpace(req.HWM.Type); t != "" {
		if k, err := p.cfg.Registry.Kind(t); err == nil {
			return k, nil
		}
		return p.cfg.Registry.Lookup(t)
	}
	if lookup == nil {
		return nil, planerr.SchemaMismatch(req.HWM.Column,
			"cannot determine the type of hwm column %q: no schema lookup and no explicit type", req.HWM.Column)
	}

	cols := resolved
	if cols == nil {
		cols = []string{req.HWM.Column}
	}
	fields, err := lookup.Schema(ctx, req.Table, cols)
	if err != nil {
		return nil, fmt.Errorf("schema of %s: %w", req.Table, err)
	}
	field, ok := columns.Static(fields).Find(req.HWM.Column)
	if !ok {
		return nil, planerr.SchemaMismatch(req.HWM.Column, "hwm column %q is not in the schema of %s", req.HWM.Column, req.Table)
	}
	kind, err := p.cfg.Registry.Lookup(field.Type)
	if err != nil {
		if planerr.IsUnsupported(err) {
			return nil, planerr.TypeMismatch(field.Type, "hwm column %q has type %s, which cannot be used as an HWM", field.Name, field.Type)
		}
		return nil, err
	}
	return kind, nil
}

// Commit settles the HWM proposal of plan after its read has run. The HWM is
// saved only when succeeded is true. Snapshot plans have nothing to commit.
func (p *Planner) Commit(ctx context.Context, plan *ReadPlan, succeeded bool) error {
	if plan == nil {
		return planerr.InvalidInput("plan", "plan is required")
	}
	if plan.proposal == nil {
		return nil
	}
	return p.settle(ctx, plan.id, plan.proposal, succeeded)
}

// CommitPlanID settles a persisted proposal by plan id. The store must
// implement ProposalStore.
func (p *Planner) CommitPlanID(ctx context.Context, planID string, succeeded bool) error {
	ps, ok := p.cfg.Store.(ProposalStore)
	if !ok {
		return planerr.Unsupported("", "store", "the configured HWM store does not persist proposals")
	}
	proposal, err := ps.LoadProposal(ctx, planID)
	if err != nil {
		return fmt.Errorf("load proposal of plan %s: %w", planID, err)
	}
	return p.settle(ctx, planID, proposal, succeeded)
}

func (p *Planner) settle(ctx context.Context, planID string, proposal *hwm.Proposal, succeeded bool) error {
	ctx = hwm.WithPlanID(ctx, planID)
	if err := p.engine.Commit(ctx, proposal, succeeded); err != nil {
		p.cfg.Metrics.ObserveCommit(metrics.OutcomeError)
		// A stale proposal is abandoned by the engine; record that.
		if ps, ok := p.cfg.Store.(ProposalStore); ok && proposal.Status() == hwm.StatusAbandoned {
			err = multierr.Append(err, ps.SettleProposal(ctx, planID, hwm.StatusAbandoned))
		}
		return err
	}

	outcome := metrics.OutcomeCommitted
	if !succeeded {
		outcome = metrics.OutcomeAbandoned
	}
	p.cfg.Metrics.ObserveCommit(outcome)

	if ps, ok := p.cfg.Store.(ProposalStore); ok {
		if err := ps.SettleProposal(ctx, planID, proposal.Status()); err != nil {
			return fmt.Errorf("settle proposal of plan %s: %w", planID, err)
		}
	}
	p.log.Debug().Str("plan_id", planID).Str("outcome", outcome).Msg("plan settled")
	return nil
}

func planFingerprint(plan *ReadPlan) (string, error) {
	content := map[string]any{
		"dialect": plan.dialect,
		"table":   plan.table,
		"mode":    string(plan.mode),
		"where":   plan.where,
		"hint":    plan.hint,
	}
	if plan.columns != nil {
		content["columns"] = plan.columns
	}
	if plan.boundary.Lower != nil {
		content["lower"] = plan.boundary.Lower.String()
	}
	if plan.boundary.Upper != nil {
		content["upper"] = plan.boundary.Upper.String()
	}
	if plan.proposal != nil {
		content["hwm"] = plan.proposal.Identity.QualifiedName()
	}
	return fingerprint.Hash(fingerprint.DomainPlan, content)
}
