package cli

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/tidemark/internal/dialect"
	"github.com/roach88/tidemark/internal/source"
)

// DialectInfo describes one built-in dialect.
type DialectInfo struct {
	Name             string `json:"name"`
	Tables           string `json:"tables"`
	StructuredWhere  bool   `json:"structured_where"`
	Columns          bool   `json:"columns"`
	HWMExpression    bool   `json:"hwm_expression"`
	DriverRegistered bool   `json:"driver"`
}

// DialectList is the result of the dialects command.
type DialectList struct {
	Dialects []DialectInfo `json:"dialects"`
}

// RenderText implements TextRenderer.
func (l DialectList) RenderText(w io.Writer) {
	yn := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DIALECT\tTABLES\tWHERE\tCOLUMNS\tHWM EXPRESSION\tDRIVER")
	for _, d := range l.Dialects {
		where := "string"
		if d.StructuredWhere {
			where = "object"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Name, d.Tables, where, yn(d.Columns), yn(d.HWMExpression), yn(d.DriverRegistered))
	}
	tw.Flush()
}

// NewDialectsCommand creates the dialects command.
func NewDialectsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "dialects",
		Short:         "List the supported source dialects",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			list, err := listDialects()
			if err != nil {
				return f.Report(err)
			}
			return f.Success(list)
		},
	}
}

func listDialects() (DialectList, error) {
	drivers := source.Drivers()
	list := DialectList{Dialects: []DialectInfo{}}
	for _, name := range dialect.Names() {
		d, err := dialect.Lookup(name)
		if err != nil {
			return DialectList{}, err
		}
		list.Dialects = append(list.Dialects, DialectInfo{
			Name:             d.Name,
			Tables:           d.TableRule.String(),
			StructuredWhere:  d.WhereMustBeStructured,
			Columns:          d.SupportsColumns,
			HWMExpression:    d.SupportsHWMExpression,
			DriverRegistered: slices.Contains(drivers, d.Name),
		})
	}
	return list, nil
}
