package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/tidemark/internal/config"
	"github.com/roach88/tidemark/internal/hwm"
	"github.com/roach88/tidemark/internal/logger"
	"github.com/roach88/tidemark/internal/planerr"
	"github.com/roach88/tidemark/internal/planner"
)

// planConcurrency bounds the reads planned at once by plan --all.
const planConcurrency = 4

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	All bool
}

// PlanOutput is one planned read.
type PlanOutput struct {
	PlanID      string   `json:"plan_id"`
	Read        string   `json:"read"`
	Dialect     string   `json:"dialect"`
	Table       string   `json:"table"`
	Mode        string   `json:"mode"`
	Columns     []string `json:"columns,omitempty"`
	Where       string   `json:"where,omitempty"`
	Hint        string   `json:"hint,omitempty"`
	Boundary    string   `json:"boundary,omitempty"`
	HWM         string   `json:"hwm,omitempty"`
	Query       string   `json:"query,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	MoreBatches bool     `json:"more_batches,omitempty"`
}

func newPlanOutput(read string, p *planner.ReadPlan) PlanOutput {
	out := PlanOutput{
		PlanID:      p.ID(),
		Read:        read,
		Dialect:     p.Dialect(),
		Table:       p.Table(),
		Mode:        string(p.Mode()),
		Columns:     p.Columns(),
		Where:       p.Where(),
		Hint:        p.Hint(),
		Query:       p.Query(),
		Fingerprint: p.Fingerprint(),
		MoreBatches: p.MoreBatches(),
	}
	if prop := p.Proposal(); prop != nil {
		out.Boundary = p.Boundary().String()
		out.HWM = prop.Identity.QualifiedName()
	}
	return out
}

// RenderText implements TextRenderer.
func (p PlanOutput) RenderText(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(tw, "%s\t%s\n", k, v)
		}
	}
	row("plan", p.PlanID)
	row("read", p.Read+" ("+p.Mode+")")
	row("table", p.Table)
	row("columns", strings.Join(p.Columns, ", "))
	row("where", p.Where)
	row("hint", p.Hint)
	row("boundary", p.Boundary)
	row("hwm", p.HWM)
	row("query", p.Query)
	row("fingerprint", p.Fingerprint)
	if p.MoreBatches {
		row("batches", "more after commit")
	}
	tw.Flush()
}

// PlanList is the result of the plan command.
type PlanList struct {
	Plans []PlanOutput `json:"plans"`
}

// RenderText implements TextRenderer.
func (l PlanList) RenderText(w io.Writer) {
	for i, p := range l.Plans {
		if i > 0 {
			fmt.Fprintln(w)
		}
		p.RenderText(w)
	}
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <config> [read...]",
		Short: "Build read plans",
		Long: `Build read plans for the named reads of a config file or directory.

Incremental plans probe the source for the current HWM maximum and record a
proposal in the HWM store. Settle it with "tidemark commit" once the read has
run; the stored HWM only moves on commit.

A read whose hwm has a step is planned one batch at a time: each plan covers
the next step above the stored HWM, and more_batches tells whether another
plan is needed after this one is committed.

A config with a single read needs no read name.

Exit codes:
  0 - All plans built
  1 - A read was rejected
  2 - Command error (invalid config, unreachable source, etc.)

Examples:
  tidemark plan ./reads orders
  tidemark plan reads.cue --all --format json
  TIDEMARK_STORE=/var/lib/tidemark/hwm.db tidemark plan reads.cue orders`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "plan every read of the config")

	return cmd
}

func runPlan(ctx context.Context, opts *PlanOptions, path string, reads []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return f.Report(err)
	}
	names, err := selectReads(cfg, reads, opts.All)
	if err != nil {
		return f.Report(err)
	}
	if err := checkIdentities(cfg, names, opts.Process); err != nil {
		return f.Report(err)
	}

	s, err := openSession(ctx, opts.RootOptions, cfg, true)
	if err != nil {
		return f.Report(err)
	}
	defer s.Close()
	ctx = logger.WithLogger(ctx, s.log)

	plans := make([]PlanOutput, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(planConcurrency)
	for i, name := range names {
		i, name := i, name
		read, err := cfg.Read(name)
		if err != nil {
			return f.Report(err)
		}
		g.Go(func() error {
			plan, err := s.planner.Plan(gctx, read.Request())
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			plans[i] = newPlanOutput(name, plan)
			f.VerboseLog("planned %s as %s", name, plan.ID())
			return nil
		})
	}
	err = g.Wait()
	s.push(ctx, opts.Pushgateway)
	if err != nil {
		return f.Report(err)
	}
	return f.Success(PlanList{Plans: plans})
}

// selectReads picks the reads to plan: all of them, the named ones, or the
// only one.
func selectReads(cfg *config.Config, reads []string, all bool) ([]string, error) {
	switch {
	case all && len(reads) > 0:
		return nil, NewExitError(ExitCommandError, "--all and read names are mutually exclusive")
	case all:
		return cfg.ReadNames(), nil
	case len(reads) > 0:
		for _, name := range reads {
			if _, err := cfg.Read(name); err != nil {
				return nil, err
			}
		}
		return reads, nil
	case len(cfg.Reads) == 1:
		return cfg.ReadNames(), nil
	default:
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("config defines %d reads, name one of %v or pass --all", len(cfg.Reads), cfg.ReadNames()))
	}
}

// checkIdentities refuses a batch in which two incremental reads would
// propose against the same HWM identity. Their commits would otherwise race
// on one stored value.
func checkIdentities(cfg *config.Config, names []string, process string) error {
	owners := make(map[string][]string)
	column := make(map[string]string)
	var order []string
	for _, name := range names {
		read, err := cfg.Read(name)
		if err != nil {
			return err
		}
		if read.HWM == nil {
			continue
		}
		id := hwm.Identity{
			Source:  cfg.Source.InstanceName(),
			Table:   read.Table,
			Column:  read.HWM.Column,
			Process: process,
		}
		qn := id.QualifiedName()
		if _, seen := owners[qn]; !seen {
			order = append(order, qn)
			column[qn] = read.HWM.Column
		}
		owners[qn] = append(owners[qn], name)
	}
	for _, qn := range order {
		if reads := owners[qn]; len(reads) > 1 {
			return planerr.ColumnConflict(column[qn], "reads %s share hwm %s; give each its own hwm column or plan them separately",
				strings.Join(reads, ", "), qn).
				With("hwm", qn).
				With("reads", strings.Join(reads, ", "))
		}
	}
	return nil
}
