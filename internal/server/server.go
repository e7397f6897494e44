// Package server exposes parsing, detection and translation over HTTP.
//
// Besides the JSON API under /api/v1, the server answers on the native
// endpoints of the dialects it understands (/api/v1/query for PromQL,
// /query for InfluxQL, /render for Graphite and so on). Each native
// request is parsed in the endpoint's dialect and handed to an Executor;
// the default EchoExecutor returns the plan snapshot.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/registry"
	"github.com/roach88/polyql/internal/store"
)

// DefaultMaxQuerySize bounds request bodies when Config leaves it zero.
const DefaultMaxQuerySize = 1 << 20

// Config configures a Server. Only Registry is required.
type Config struct {
	Registry *registry.Registry
	// Executor receives queries from the native endpoints. Defaults to
	// EchoExecutor.
	Executor Executor
	// History, when set, records every translation.
	History *store.Store
	Logger  *zap.Logger
	// CacheSize is the number of translated outputs kept; zero disables
	// the cache.
	CacheSize     int
	MaxQuerySize  int64
	DefaultTarget queryir.Dialect
	// NewRequestID generates request IDs. Defaults to random UUIDs.
	NewRequestID func() string
}

// Server is an http.Handler serving the polyql API.
type Server struct {
	conf     Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics
	cache    *outputCache
	router   *mux.Router
}

// New builds a server from conf.
func New(conf Config) (*Server, error) {
	if conf.Registry == nil {
		return nil, errors.New("server: registry is required")
	}
	if conf.Executor == nil {
		conf.Executor = EchoExecutor{}
	}
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	if conf.MaxQuerySize <= 0 {
		conf.MaxQuerySize = DefaultMaxQuerySize
	}
	if conf.NewRequestID == nil {
		conf.NewRequestID = uuid.NewString
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	m := newMetrics(reg)
	cache, err := newOutputCache(conf.CacheSize, m)
	if err != nil {
		return nil, errors.Wrap(err, "server: create cache")
	}

	s := &Server{
		conf:     conf,
		logger:   conf.Logger.Named("server"),
		registry: reg,
		metrics:  m,
		cache:    cache,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.Use(requestIDMiddleware(s.conf.NewRequestID))
	r.Use(accessLogMiddleware(s.conf.Logger))
	r.Use(panicCatchMiddleware(s.logger))
	r.NotFoundHandler = s.handler(handleNotFound)
	r.MethodNotAllowedHandler = s.handler(handleMethodNotAllowed)

	r.Handle("/healthz", s.handler(handleHealth)).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")

	r.Handle("/api/v1/parse", s.handler(handleParse)).Methods("POST")
	r.Handle("/api/v1/detect", s.handler(handleDetect)).Methods("POST")
	r.Handle("/api/v1/translate", s.handler(handleTranslate)).Methods("POST")
	r.Handle("/api/v1/dialects", s.handler(handleDialects)).Methods("GET")

	r.Handle("/api/v1/query", s.handler(handlePromQuery)).Methods("GET", "POST")
	r.Handle("/api/v1/query_range", s.handler(handlePromQuery)).Methods("GET", "POST")
	r.Handle("/query", s.handler(handleInfluxQuery)).Methods("GET", "POST")
	r.Handle("/api/v2/query", s.handler(handleFluxQuery)).Methods("POST")
	r.Handle("/druid/v2", s.handler(handleDruidQuery)).Methods("POST")
	r.Handle("/druid/v2/", s.handler(handleDruidQuery)).Methods("POST")
	r.Handle("/api/query", s.handler(handleOpenTSDBQuery)).Methods("GET", "POST")
	r.Handle("/render", s.handler(handleRender)).Methods("GET", "POST")
	r.Handle("/exec", s.handler(handleQuestDBExec)).Methods("GET")
	r.Handle("/dialect/auto", s.handler(handleAuto)).Methods("GET", "POST")
}

func (s *Server) handler(f func(*Server, http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f(s, w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Metrics returns the registry the server's metrics live in.
func (s *Server) Metrics() *prometheus.Registry { return s.registry }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return s.Serve(ctx, ln, readTimeout, writeTimeout)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Handler:      s,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info("Listening", zap.Stringer("addr", ln.Addr()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("Stopped")
	return nil
}
