package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/polyql/internal/queryir"
)

// DetectOptions holds flags for the detect command.
type DetectOptions struct {
	*RootOptions
	Explain bool
}

// DetectScore is one dialect's non-zero score.
type DetectScore struct {
	Dialect    queryir.Dialect `json:"dialect"`
	Points     int             `json:"points"`
	Signatures []string        `json:"signatures,omitempty"`
	Keywords   []string        `json:"keywords,omitempty"`
}

// DetectResult is the output of the detect command.
type DetectResult struct {
	Dialect    queryir.Dialect `json:"dialect"`
	Confidence float64         `json:"confidence"`
	Scores     []DetectScore   `json:"scores,omitempty"`
}

// NewDetectCommand creates the detect command.
func NewDetectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DetectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "detect [query|-]",
		Short: "Detect the dialect of a query",
		Long: `Detect which dialect a query is written in.

Detection never fails: text no rule recognises falls back to a heuristic
with confidence 0. Use --explain to see how each dialect scored.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Explain, "explain", false, "include per-dialect scores")

	return cmd
}

func runDetect(opts *DetectOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	text, err := readQuery(cmd, args)
	if err != nil {
		return f.Fail(ErrCodeUsage, err)
	}
	e, err := opts.setup(f)
	if err != nil {
		return err
	}

	det := e.reg.Detector()
	res := DetectResult{}
	res.Dialect, res.Confidence = det.DetectWithConfidence(text)
	if opts.Explain {
		for _, s := range det.Scores(text) {
			if s.Points == 0 {
				continue
			}
			res.Scores = append(res.Scores, DetectScore{
				Dialect:    s.Dialect,
				Points:     s.Points,
				Signatures: s.Signatures,
				Keywords:   s.Keywords,
			})
		}
	}

	return f.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "%s (confidence %.2f)\n", res.Dialect, res.Confidence)
		if opts.Explain {
			fmt.Fprint(w, det.Explain(text))
		}
	})
}
