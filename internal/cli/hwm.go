package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tidemark/internal/config"
	"github.com/roach88/tidemark/internal/hwm"
)

// HWMOptions holds flags for the hwm subcommands.
type HWMOptions struct {
	*RootOptions
	Config string
}

// HWMRecord is one stored HWM value.
type HWMRecord struct {
	Name       string    `json:"qualified_name"`
	Kind       string    `json:"kind"`
	Column     string    `json:"column"`
	Expression string    `json:"expression,omitempty"`
	Value      string    `json:"value"`
	PlanID     string    `json:"plan_id,omitempty"`
	Modified   time.Time `json:"modified_time"`
}

func newHWMRecord(rec hwm.Record) HWMRecord {
	return HWMRecord{
		Name:       rec.Identity.QualifiedName(),
		Kind:       rec.Kind,
		Column:     rec.Name,
		Expression: rec.Expression,
		Value:      rec.Value,
		PlanID:     rec.PlanID,
		Modified:   rec.ModifiedTime,
	}
}

// HWMList is the result of hwm list and hwm show.
type HWMList struct {
	Records []HWMRecord `json:"records"`
	// Pending lists plans whose proposal is not settled yet (hwm show only).
	Pending []string `json:"pending,omitempty"`
}

// pendingLister is implemented by stores that persist proposals.
type pendingLister interface {
	PendingProposals(ctx context.Context, id hwm.Identity) ([]string, error)
}

// RenderText implements TextRenderer.
func (l HWMList) RenderText(w io.Writer) {
	if len(l.Records) == 0 {
		fmt.Fprintln(w, "no stored hwm values")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tVALUE\tPLAN\tMODIFIED")
	for _, r := range l.Records {
		modified := ""
		if !r.Modified.IsZero() {
			modified = r.Modified.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Kind, r.Value, r.PlanID, modified)
	}
	tw.Flush()
	if len(l.Pending) > 0 {
		fmt.Fprintf(w, "pending plans: %s\n", strings.Join(l.Pending, ", "))
	}
}

// NewHWMCommand creates the hwm command group.
func NewHWMCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HWMOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "hwm",
		Short: "Inspect stored high-water marks",
		Long: `Inspect the HWM store.

The store is chosen by --store/--store-kind (or TIDEMARK_STORE and
TIDEMARK_STORE_KIND), then by the store section of --config.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file or directory whose store section to use")

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List the current value of every stored HWM",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHWMList(cmd.Context(), opts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <qualified-name>",
		Short: "Show the saved values of one HWM, newest first",
		Long: `Show the saved values of one HWM, newest first.

The qualified name is column#table@source, with #process appended for
process-scoped HWMs, as printed by "tidemark plan".`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHWMShow(cmd.Context(), opts, args[0], cmd)
		},
	})

	return cmd
}

func (o *HWMOptions) openStore() (recordStore, func() error, error) {
	var sc config.StoreConfig
	if o.Config != "" {
		cfg, err := config.Load(o.Config)
		if err != nil {
			return nil, nil, err
		}
		sc = cfg.Store
	}
	return openStore(o.RootOptions, sc, hwm.NewRegistry())
}

func runHWMList(ctx context.Context, opts *HWMOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if ctx == nil {
		ctx = context.Background()
	}
	st, closeStore, err := opts.openStore()
	if err != nil {
		return f.Report(err)
	}
	defer closeStore()

	records, err := st.List(ctx)
	if err != nil {
		return f.Report(err)
	}
	return f.Success(toHWMList(records))
}

func runHWMShow(ctx context.Context, opts *HWMOptions, name string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if ctx == nil {
		ctx = context.Background()
	}
	id, err := hwm.ParseQualifiedName(name)
	if err != nil {
		return f.Report(err)
	}
	st, closeStore, err := opts.openStore()
	if err != nil {
		return f.Report(err)
	}
	defer closeStore()

	history, err := st.History(ctx, id)
	if err != nil {
		return f.Report(err)
	}
	out := toHWMList(history)
	if pl, ok := st.(pendingLister); ok {
		if out.Pending, err = pl.PendingProposals(ctx, id); err != nil {
			return f.Report(err)
		}
	}
	if len(history) == 0 && len(out.Pending) == 0 {
		return f.Report(NewExitError(ExitFailure, "no stored hwm "+id.QualifiedName()))
	}
	return f.Success(out)
}

func toHWMList(records []hwm.Record) HWMList {
	out := HWMList{Records: make([]HWMRecord, 0, len(records))}
	for _, rec := range records {
		out.Records = append(out.Records, newHWMRecord(rec))
	}
	return out
}
