package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tidemark/internal/config"
	"github.com/roach88/tidemark/internal/logger"
	"github.com/roach88/tidemark/internal/planner"
)

// RunOutput is the result of the run command.
type RunOutput struct {
	// Plan is the last plan run; batch reads run several.
	Plan    PlanOutput `json:"plan"`
	Batches int        `json:"batches,omitempty"`
	Rows    int64      `json:"rows"`
	// HWM is the stored value after the commit, empty for snapshot reads.
	HWM string `json:"hwm_value,omitempty"`
}

// RenderText implements TextRenderer.
func (r RunOutput) RenderText(w io.Writer) {
	r.Plan.RenderText(w)
	if r.Batches > 0 {
		fmt.Fprintf(w, "batches  %d\n", r.Batches)
	}
	fmt.Fprintf(w, "rows  %d\n", r.Rows)
	if r.HWM != "" {
		fmt.Fprintf(w, "hwm value  %s\n", r.HWM)
	}
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config> <read>",
		Short: "Plan a read, run it against the source and commit the HWM",
		Long: `Plan a read, run its query against the source and count the rows.

The HWM is committed only if the query succeeds; a failed read leaves the
stored HWM where it was, so the next run reads the same range again.

A batch read runs and commits its batches in order until none remain. A
failed batch stops the run; the batches before it stay committed.

Exit codes:
  0 - Read succeeded
  1 - Read rejected or failed
  2 - Command error`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd.Context(), rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runRead(parent context.Context, opts *RootOptions, path, readName string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(path)
	if err != nil {
		return f.Report(err)
	}
	read, err := cfg.Read(readName)
	if err != nil {
		return f.Report(err)
	}

	s, err := openSession(ctx, opts, cfg, true)
	if err != nil {
		return f.Report(err)
	}
	defer s.Close()
	defer s.push(parent, opts.Pushgateway)
	ctx = logger.WithLogger(ctx, s.log)

	var out RunOutput
	for {
		plan, err := s.planner.Plan(ctx, read.Request())
		if err != nil {
			return f.Report(fmt.Errorf("read %s: %w", readName, err))
		}
		log := s.log.With().Str("plan_id", plan.ID()).Str("read", readName).Logger()

		rows, readErr := s.db.Count(ctx, plan)
		if err := s.planner.Commit(ctx, plan, readErr == nil); err != nil {
			return f.Report(err)
		}
		if readErr != nil {
			log.Error().Err(readErr).Msg("read failed, HWM unchanged")
			return f.Report(WrapExitError(ExitFailure, "read "+readName+" failed", readErr))
		}
		s.metrics.AddRows(plan.Table(), rows)
		log.Info().Int64("rows", rows).Msg("read done")

		out.Plan = newPlanOutput(readName, plan)
		out.Rows += rows
		if prop := plan.Proposal(); prop != nil && prop.State.Value != nil {
			out.HWM = prop.State.Value.String()
		}
		if plan.Mode() == planner.ModeBatch {
			out.Batches++
		}
		if !plan.MoreBatches() {
			return f.Success(out)
		}
		f.VerboseLog("batch %d of %s committed", out.Batches, readName)
	}
}
