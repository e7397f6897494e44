package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/polyql/internal/queryir"
)

// ParseOptions holds flags for the parse command.
type ParseOptions struct {
	*RootOptions
	Dialect string
}

// ParseResult is the output of the parse command.
type ParseResult struct {
	Dialect    queryir.Dialect `json:"dialect"`
	Detected   bool            `json:"detected"`
	Confidence float64         `json:"confidence,omitempty"`
	Plan       map[string]any  `json:"plan"`
	Warnings   []string        `json:"warnings,omitempty"`
	Problems   []string        `json:"problems,omitempty"`
}

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ParseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "parse [query|-]",
		Short: "Parse a query and print its plan",
		Long: `Parse a query into the dialect-neutral plan and print it.

The dialect is detected unless --dialect is given. The query is read from
stdin when no argument or "-" is given.

Examples:
  polyql parse 'rate(http_requests_total[5m])'
  polyql parse --dialect influxql 'SELECT mean(value) FROM cpu'
  echo 'up' | polyql parse --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Dialect, "dialect", "d", "", "source dialect (detected when empty)")

	return cmd
}

func runParse(opts *ParseOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	text, err := readQuery(cmd, args)
	if err != nil {
		return f.Fail(ErrCodeUsage, err)
	}
	e, err := opts.setup(f)
	if err != nil {
		return err
	}

	res := ParseResult{}
	var plan *queryir.QueryPlan
	if opts.Dialect != "" {
		d, err := e.reg.Resolve(opts.Dialect)
		if err != nil {
			return f.Fail(ErrCodeUnknownDialect, err)
		}
		res.Dialect = d
		plan, err = e.reg.Parse(d, text)
		if err != nil {
			return f.Fail(ErrCodeParse, err)
		}
	} else {
		res.Detected = true
		plan, res.Dialect, res.Confidence, err = e.reg.ParseAutoWithConfidence(text)
		if err != nil {
			return f.Fail(ErrCodeParse, err)
		}
		f.VerboseLog("Detected %s with confidence %.2f", res.Dialect, res.Confidence)
	}

	res.Plan = queryir.Describe(plan)
	vr := queryir.Validate(plan)
	res.Warnings = vr.Warnings
	for _, p := range vr.Problems() {
		res.Problems = append(res.Problems, p.Error())
	}

	return f.Success(res, func(w io.Writer) {
		if res.Detected {
			fmt.Fprintf(w, "Dialect: %s (detected, confidence %.2f)\n", res.Dialect.DisplayName(), res.Confidence)
		} else {
			fmt.Fprintf(w, "Dialect: %s\n", res.Dialect.DisplayName())
		}
		if b, err := queryir.MarshalPlan(plan); err == nil {
			fmt.Fprintf(w, "%s\n", b)
		}
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "Warning: %s\n", warn)
		}
		for _, p := range res.Problems {
			fmt.Fprintf(w, "Problem: %s\n", p)
		}
	})
}
