package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/polyql/internal/config"
	"github.com/roach88/polyql/internal/detect"
	"github.com/roach88/polyql/internal/logging"
	"github.com/roach88/polyql/internal/registry"
	"github.com/roach88/polyql/internal/rules"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // path to a TOML config file
	Rules   string // path to a CUE detector rules file; overrides the config

	// NewTraceID overrides trace ID generation (for testing).
	NewTraceID func() string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the polyql CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "polyql",
		Short: "polyql - time-series query language translator",
		Long: `Parse, detect and translate queries between time-series query languages.

Supported dialects include PromQL, MetricsQL, InfluxQL, Flux, Graphite,
OpenTSDB, Druid, ClickHouse, QuestDB, TDengine, TimescaleDB and SQL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return WrapExitError(ExitCommandError, "invalid flags",
					fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to TOML config file")
	cmd.PersistentFlags().StringVar(&opts.Rules, "rules", "", "path to CUE detector rules (overrides config)")

	// Add subcommands
	cmd.AddCommand(NewParseCommand(opts))
	cmd.AddCommand(NewDetectCommand(opts))
	cmd.AddCommand(NewTranslateCommand(opts))
	cmd.AddCommand(NewDialectsCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:     o.Format,
		Writer:     cmd.OutOrStdout(),
		ErrWriter:  cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:    o.Verbose,
		NewTraceID: o.NewTraceID,
	}
}

// env is what most commands need: resolved config, a logger and a
// registry whose detector carries any configured rules.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	reg    *registry.Registry
}

// setup loads the config and rules. Failures are reported through f.
func (o *RootOptions) setup(f *OutputFormatter) (*env, error) {
	return o.setupWith(f, o.logger)
}

// setupWith is setup with a custom logger constructor.
func (o *RootOptions) setupWith(f *OutputFormatter, newLogger func(io.Writer, config.Log) (*zap.Logger, error)) (*env, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, f.Fail(ErrCodeConfig, err)
	}
	logger, err := newLogger(f.GetErrWriter(), cfg.Log)
	if err != nil {
		return nil, f.Fail(ErrCodeConfig, err)
	}

	regOpts := append([]registry.Option{registry.WithLogger(logger)}, registry.Builtins()...)
	rulesFile := cfg.Detector.RulesFile
	if o.Rules != "" {
		rulesFile = o.Rules
	}
	if rulesFile != "" {
		exts, err := rules.Load(rulesFile)
		if err != nil {
			return nil, f.Fail(ErrCodeRules, err)
		}
		f.VerboseLog("Loaded %d detector rule set(s) from %s", len(exts), rulesFile)
		regOpts = append(regOpts, registry.WithDetector(detect.New(detect.WithRules(exts...))))
	}
	return &env{cfg: cfg, logger: logger, reg: registry.New(regOpts...)}, nil
}

// logger logs to w only in verbose mode, at debug level.
func (o *RootOptions) logger(w io.Writer, conf config.Log) (*zap.Logger, error) {
	if !o.Verbose {
		return logging.Nop(), nil
	}
	l, _, err := logging.New(w, logging.Options{Level: "debug", Format: conf.Format})
	return l, err
}

// readQuery returns the query from args, or from stdin when there are no
// args or the only arg is "-".
func readQuery(cmd *cobra.Command, args []string) (string, error) {
	var text string
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		text = string(b)
	} else {
		text = strings.Join(args, " ")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("no query given")
	}
	return text, nil
}

// commandContext returns the command's context, or Background outside
// Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
