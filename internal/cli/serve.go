package cli

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/polyql/internal/config"
	"github.com/roach88/polyql/internal/logging"
	"github.com/roach88/polyql/internal/server"
	"github.com/roach88/polyql/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string

	// Listener overrides Listen (for testing).
	Listener net.Listener
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the polyql HTTP API.

Besides the JSON API under /api/v1, the server answers on each dialect's
native endpoint (/api/v1/query, /query, /api/v2/query, /druid/v2,
/api/query, /render, /exec) and exposes Prometheus metrics on /metrics.
Settings come from the config file; --listen overrides server.listen.

Example:
  polyql serve --config ./polyql.toml
  polyql serve --listen :8080 --rules ./rules.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Listen, "listen", "l", "", "listen address (overrides config)")

	return cmd
}

// serverLogger always logs; --verbose forces debug level.
func (o *ServeOptions) serverLogger(w io.Writer, conf config.Log) (*zap.Logger, error) {
	if o.Verbose {
		conf.Level = "debug"
	}
	l, _, err := logging.New(w, logging.Options{Level: conf.Level, Format: conf.Format})
	return l, err
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	e, err := opts.setupWith(f, opts.serverLogger)
	if err != nil {
		return err
	}
	defer e.logger.Sync() //nolint:errcheck

	var history *store.Store
	if e.cfg.History.Path != "" {
		if history, err = store.Open(e.cfg.History.Path); err != nil {
			return f.Fail(ErrCodeHistory, err)
		}
		defer func() {
			if err := history.Close(); err != nil {
				e.logger.Error("Closing history", zap.Error(err))
			}
		}()
		e.logger.Info("History enabled", zap.String("path", e.cfg.History.Path))
	}

	srv, err := server.New(server.Config{
		Registry:      e.reg,
		History:       history,
		Logger:        e.logger,
		CacheSize:     e.cfg.Translate.CacheSize,
		MaxQuerySize:  e.cfg.Server.MaxQuerySize,
		DefaultTarget: e.cfg.Translate.DefaultTarget,
	})
	if err != nil {
		return f.Fail(ErrCodeGeneric, err)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			e.logger.Info("Received signal, shutting down", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	rt, wt := e.cfg.Server.ReadTimeout, e.cfg.Server.WriteTimeout
	if opts.Listener != nil {
		err = srv.Serve(ctx, opts.Listener, rt, wt)
	} else {
		addr := e.cfg.Server.Listen
		if opts.Listen != "" {
			addr = opts.Listen
		}
		err = srv.ListenAndServe(ctx, addr, rt, wt)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	return nil
}
