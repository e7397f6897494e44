package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/polyql/internal/queryir"
)

// DialectInfo describes one registered dialect.
type DialectInfo struct {
	Name        queryir.Dialect `json:"name"`
	DisplayName string          `json:"display_name"`
	Parse       bool            `json:"parse"`
	Translate   bool            `json:"translate"`
}

// NewDialectsCommand creates the dialects command.
func NewDialectsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "dialects",
		Short:         "List supported dialects",
		Long:          "List every registered dialect, in detection priority order, with whether it can be parsed and translated to.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDialects(rootOpts, cmd)
		},
	}
}

func runDialects(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	e, err := opts.setup(f)
	if err != nil {
		return err
	}

	infos := make([]DialectInfo, 0, len(e.reg.Dialects()))
	for _, d := range e.reg.Dialects() {
		infos = append(infos, DialectInfo{
			Name:        d,
			DisplayName: d.DisplayName(),
			Parse:       e.reg.HasParser(d),
			Translate:   e.reg.HasTranslator(d),
		})
	}

	return f.Success(infos, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDISPLAY NAME\tPARSE\tTRANSLATE")
		for _, i := range infos {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", i.Name, i.DisplayName, yesNo(i.Parse), yesNo(i.Translate))
		}
		tw.Flush()
	})
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
