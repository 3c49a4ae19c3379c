package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tidemark/internal/config"
)

// CommitOptions holds flags for the commit command.
type CommitOptions struct {
	*RootOptions
	Failed bool
}

// CommitOutput is the result of the commit command.
type CommitOutput struct {
	PlanID string `json:"plan_id"`
	Status string `json:"status"`
}

// RenderText implements TextRenderer.
func (c CommitOutput) RenderText(w io.Writer) {
	fmt.Fprintf(w, "plan %s %s\n", c.PlanID, c.Status)
}

// NewCommitCommand creates the commit command.
func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "commit <config> <plan-id>",
		Short: "Settle the HWM proposal of a plan",
		Long: `Settle the HWM proposal recorded by "tidemark plan".

By default the read succeeded and the proposed HWM is saved. With --failed
the proposal is abandoned and the stored HWM is left unchanged. A proposal
settles once. The HWM store must persist proposals (sqlite).

Examples:
  tidemark commit reads.cue 0190c2f5-7f6a-7c1e-9d1b-3f5d2a1e8c4b
  tidemark commit reads.cue 0190c2f5-7f6a-7c1e-9d1b-3f5d2a1e8c4b --failed`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommit(cmd.Context(), opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "the read failed: abandon the proposal")

	return cmd
}

func runCommit(ctx context.Context, opts *CommitOptions, path, planID string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return f.Report(err)
	}
	s, err := openSession(ctx, opts.RootOptions, cfg, false)
	if err != nil {
		return f.Report(err)
	}
	defer s.Close()

	err = s.planner.CommitPlanID(ctx, planID, !opts.Failed)
	s.push(ctx, opts.Pushgateway)
	if err != nil {
		return f.Report(err)
	}

	status := "committed"
	if opts.Failed {
		status = "abandoned"
	}
	return f.Success(CommitOutput{PlanID: planID, Status: status})
}
