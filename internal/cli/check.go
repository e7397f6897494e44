package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/polyql/internal/harness"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Golden string // golden file directory
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// CheckResult holds the overall check result.
type CheckResult struct {
	Scenarios []*harness.Result `json:"scenarios"`
	harness.Summary
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run YAML conformance scenarios against the built-in dialects.

Each scenario checks detection, the parsed plan and translations of one
query. Translations marked golden are compared with files in --golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, malformed scenarios, etc.)

Examples:
  polyql check ./scenarios
  polyql check ./scenarios --filter "promql_*"
  polyql check ./scenarios --golden ./golden --update
  polyql check ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden file directory (golden checks are skipped when empty)")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by name (glob pattern)")

	return cmd
}

func runCheck(opts *CheckOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if opts.Update && opts.Golden == "" {
		return f.Fail(ErrCodeUsage, fmt.Errorf("--update needs --golden"))
	}
	e, err := opts.setup(f)
	if err != nil {
		return err
	}

	scenarios, err := harness.LoadDir(dir)
	if err != nil {
		return f.Fail(ErrCodeScenario, err)
	}
	if opts.Filter != "" {
		kept := scenarios[:0]
		for _, sc := range scenarios {
			matched, err := filepath.Match(opts.Filter, sc.Name)
			if err != nil {
				return f.Fail(ErrCodeUsage, fmt.Errorf("invalid filter pattern: %w", err))
			}
			if matched {
				kept = append(kept, sc)
			}
		}
		scenarios = kept
	}
	f.VerboseLog("Running %d scenario(s) from %s", len(scenarios), dir)

	results, err := harness.RunAll(e.reg, scenarios, harness.Options{GoldenDir: opts.Golden, Update: opts.Update})
	if err != nil {
		return f.Fail(ErrCodeGeneric, err)
	}
	res := CheckResult{Scenarios: results, Summary: harness.Summarize(results)}

	if err := f.Success(res, func(w io.Writer) { writeCheckText(w, res) }); err != nil {
		return err
	}
	if res.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", res.Failed, res.Total))
	}
	return nil
}

func writeCheckText(w io.Writer, res CheckResult) {
	if res.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, r := range res.Scenarios {
		if r.Pass {
			fmt.Fprintf(w, "✓ %s\n", r.Scenario)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", r.Scenario)
		for _, msg := range r.Errors {
			fmt.Fprintf(w, "  %s\n", msg)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", res.Passed, res.Failed, res.Total)
}
