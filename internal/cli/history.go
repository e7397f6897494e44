package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/polyql/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Source   string
	Target   string
	Failed   bool
	Limit    int
	Stats    bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show recorded translations",
		Long: `Show translations recorded with translate --record or by the server.

With an id, print that record. Otherwise list the most recent records,
newest first, or with --stats summarize the whole history.

Examples:
  polyql history --db ./history.db
  polyql history --db ./history.db --target influxql --failed
  polyql history --db ./history.db --stats
  polyql history --db ./history.db 2HbR5kBJ9vQyT3Nd8cL0sPq1aZx`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the history database (overrides config)")
	cmd.Flags().StringVar(&opts.Source, "source", "", "only records from this dialect")
	cmd.Flags().StringVar(&opts.Target, "target", "", "only records to this dialect")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "only failed translations")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", store.DefaultLimit, "maximum number of records")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "summarize instead of listing")

	return cmd
}

func runHistory(opts *HistoryOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	e, err := opts.setup(f)
	if err != nil {
		return err
	}
	path := e.cfg.History.Path
	if opts.Database != "" {
		path = opts.Database
	}
	if path == "" {
		return f.Fail(ErrCodeUsage, fmt.Errorf("no history database: pass --db or set history.path"))
	}
	st, err := store.Open(path)
	if err != nil {
		return f.Fail(ErrCodeHistory, err)
	}
	defer st.Close()
	ctx := commandContext(cmd)

	switch {
	case len(args) == 1:
		rec, ok, err := st.Get(ctx, args[0])
		if err != nil {
			return f.Fail(ErrCodeHistory, err)
		}
		if !ok {
			_ = f.Error(ErrCodeNotFound, fmt.Sprintf("no record %s", args[0]), nil)
			return NewExitError(ExitFailure, fmt.Sprintf("no record %s", args[0]))
		}
		return f.Success(rec, func(w io.Writer) { writeRecord(w, rec) })

	case opts.Stats:
		stats, err := st.Stats(ctx)
		if err != nil {
			return f.Fail(ErrCodeHistory, err)
		}
		return f.Success(stats, func(w io.Writer) { writeStats(w, stats) })
	}

	filter := store.Filter{FailedOnly: opts.Failed, Limit: opts.Limit}
	if opts.Source != "" {
		if filter.Source, err = e.reg.Resolve(opts.Source); err != nil {
			return f.Fail(ErrCodeUnknownDialect, err)
		}
	}
	if opts.Target != "" {
		if filter.Target, err = e.reg.Resolve(opts.Target); err != nil {
			return f.Fail(ErrCodeUnknownDialect, err)
		}
	}
	recs, err := st.Recent(ctx, filter)
	if err != nil {
		return f.Fail(ErrCodeHistory, err)
	}
	return f.Success(recs, func(w io.Writer) { writeRecords(w, recs) })
}

func writeRecords(w io.Writer, recs []store.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No translations recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tSOURCE\tTARGET\tRESULT")
	for _, r := range recs {
		result := "ok"
		if r.Failed() {
			result = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.CreatedAt.Format(time.RFC3339), r.Source, r.Target, result)
	}
	tw.Flush()
}

func writeRecord(w io.Writer, r store.Record) {
	fmt.Fprintf(w, "ID:       %s\n", r.ID)
	fmt.Fprintf(w, "Time:     %s\n", r.CreatedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "Source:   %s\n", r.Source)
	fmt.Fprintf(w, "Target:   %s\n", r.Target)
	fmt.Fprintf(w, "Duration: %s\n", r.Duration)
	fmt.Fprintf(w, "Query:\n  %s\n", r.Query)
	if r.Failed() {
		fmt.Fprintf(w, "Error:\n  %s\n", r.Error)
		return
	}
	fmt.Fprintf(w, "Output:\n  %s\n", r.Output)
}

func writeStats(w io.Writer, s store.Stats) {
	fmt.Fprintf(w, "%d translation(s), %d failed, %d distinct queries\n", s.Total, s.Failed, s.DistinctQuery)
	if len(s.Pairs) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTARGET\tTOTAL\tFAILED\tAVG")
	for _, p := range s.Pairs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", p.Source, p.Target, p.Total, p.Failed, time.Duration(p.AvgMicros)*time.Microsecond)
	}
	tw.Flush()
}
