package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/store"
)

// TranslateOptions holds flags for the translate command.
type TranslateOptions struct {
	*RootOptions
	From    string
	To      string
	Record  bool
	History string // history database; overrides the config
}

// TranslateResult is the output of the translate command.
type TranslateResult struct {
	Source     queryir.Dialect `json:"source"`
	Target     queryir.Dialect `json:"target"`
	Confidence float64         `json:"confidence,omitempty"`
	Output     string          `json:"output"`
	RecordID   string          `json:"record_id,omitempty"`
}

// NewTranslateCommand creates the translate command.
func NewTranslateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TranslateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "translate --to <dialect> [query|-]",
		Short: "Translate a query into another dialect",
		Long: `Translate a query from one dialect into another.

The source dialect is detected unless --from is given. The target falls
back to translate.default_target from the config. With --record the
attempt is written to the history database.

Examples:
  polyql translate --to influxql 'rate(http_requests_total{job="api"}[5m])'
  polyql translate --from influxql --to flux 'SELECT mean(value) FROM cpu'
  polyql translate --to promql --record --history ./history.db -`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.From, "from", "f", "", "source dialect (detected when empty)")
	cmd.Flags().StringVarP(&opts.To, "to", "t", "", "target dialect")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "record the translation in the history database")
	cmd.Flags().StringVar(&opts.History, "history", "", "path to the history database (overrides config)")

	return cmd
}

func runTranslate(opts *TranslateOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	text, err := readQuery(cmd, args)
	if err != nil {
		return f.Fail(ErrCodeUsage, err)
	}
	e, err := opts.setup(f)
	if err != nil {
		return err
	}

	res := TranslateResult{Target: e.cfg.Translate.DefaultTarget}
	if opts.To != "" {
		if res.Target, err = e.reg.Resolve(opts.To); err != nil {
			return f.Fail(ErrCodeUnknownDialect, err)
		}
	}
	if res.Target == "" {
		return f.Fail(ErrCodeUsage, fmt.Errorf("no target dialect: pass --to or set translate.default_target"))
	}
	if opts.From != "" {
		if res.Source, err = e.reg.Resolve(opts.From); err != nil {
			return f.Fail(ErrCodeUnknownDialect, err)
		}
	}

	var history *store.Store
	if opts.Record {
		path := e.cfg.History.Path
		if opts.History != "" {
			path = opts.History
		}
		if path == "" {
			return f.Fail(ErrCodeUsage, fmt.Errorf("--record needs a history database: pass --history or set history.path"))
		}
		if history, err = store.Open(path); err != nil {
			return f.Fail(ErrCodeHistory, err)
		}
		defer history.Close()
	}

	start := time.Now()
	var plan *queryir.QueryPlan
	if res.Source == "" {
		plan, res.Source, res.Confidence, err = e.reg.ParseAutoWithConfidence(text)
		f.VerboseLog("Detected %s with confidence %.2f", res.Source, res.Confidence)
	} else {
		plan, err = e.reg.Parse(res.Source, text)
	}
	if err == nil {
		res.Output, err = e.reg.Translate(plan, res.Target)
	}

	if history != nil {
		rec, recErr := history.Record(commandContext(cmd), store.Entry{
			Source:     res.Source,
			Target:     res.Target,
			Query:      text,
			Output:     res.Output,
			Confidence: res.Confidence,
			Err:        err,
			Duration:   time.Since(start),
		})
		if recErr != nil {
			return f.Fail(ErrCodeHistory, recErr)
		}
		res.RecordID = rec.ID
		f.VerboseLog("Recorded translation %s", rec.ID)
	}
	if err != nil {
		return f.Fail(ErrCodeTranslate, err)
	}

	return f.Success(res, func(w io.Writer) {
		fmt.Fprintln(w, res.Output)
	})
}
