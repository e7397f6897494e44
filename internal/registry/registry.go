// Package registry maps dialects to their parsers and translators and ties
// them to the detector.
//
// A Registry is built once by New and never changes afterwards, so it is
// safe for concurrent use. Dialects plug in through WithParser and
// WithTranslator; Builtins supplies the options for every dialect this
// module ships.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/polyql/internal/detect"
	"github.com/roach88/polyql/internal/parser/flux"
	"github.com/roach88/polyql/internal/parser/graphite"
	"github.com/roach88/polyql/internal/parser/influxql"
	"github.com/roach88/polyql/internal/parser/jsonreq"
	"github.com/roach88/polyql/internal/parser/metricsql"
	"github.com/roach88/polyql/internal/parser/promql"
	"github.com/roach88/polyql/internal/parser/sqlext"
	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/translate"
)

// Parser turns query text in one dialect into a plan.
type Parser interface {
	Dialect() queryir.Dialect
	Parse(text string) (*queryir.QueryPlan, error)
}

// Registry holds one parser and at most one translator per dialect.
type Registry struct {
	parsers     map[queryir.Dialect]Parser
	translators map[queryir.Dialect]translate.Translator
	detector    *detect.Detector
	logger      *zap.Logger
}

// Option configures a Registry under construction.
type Option func(*Registry)

// WithParser registers p for its dialect, replacing an earlier parser.
func WithParser(p Parser) Option {
	return func(r *Registry) {
		r.parsers[p.Dialect()] = p
		r.logger.Debug("registered parser", zap.String("dialect", string(p.Dialect())))
	}
}

// WithTranslator registers t for its target, replacing an earlier one.
func WithTranslator(t translate.Translator) Option {
	return func(r *Registry) {
		r.translators[t.Target()] = t
		r.logger.Debug("registered translator", zap.String("dialect", string(t.Target())))
	}
}

// WithDetector replaces the built-in detector, e.g. with one carrying
// extra rules.
func WithDetector(d *detect.Detector) Option {
	return func(r *Registry) {
		if d != nil {
			r.detector = d
		}
	}
}

// WithLogger sets the logger registrations are reported to. It must come
// before the options it should observe.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// BuiltinParsers returns a parser for every dialect.
func BuiltinParsers() []Parser {
	return []Parser{
		sqlext.NewClickHouse(),
		sqlext.NewQuestDB(),
		sqlext.NewTDengine(),
		sqlext.NewTimescale(),
		sqlext.NewDruidSQL(),
		influxql.New(),
		flux.New(),
		metricsql.New(),
		promql.New(),
		graphite.New(),
		jsonreq.NewDruidNative(),
		jsonreq.NewOpenTSDB(),
		sqlext.NewGeneric(),
	}
}

// Builtins returns the options registering every built-in parser and
// translator.
func Builtins() []Option {
	var opts []Option
	for _, p := range BuiltinParsers() {
		opts = append(opts, WithParser(p))
	}
	for _, t := range translate.Builtins() {
		opts = append(opts, WithTranslator(t))
	}
	return opts
}

// New builds a registry from opts. With no options it is empty apart from
// the built-in detector.
func New(opts ...Option) *Registry {
	r := &Registry{
		parsers:     make(map[queryir.Dialect]Parser),
		translators: make(map[queryir.Dialect]translate.Translator),
		detector:    detect.New(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns a shared registry with the built-ins, built on first use.
// Prefer passing an explicitly built Registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New(Builtins()...)
	})
	return defaultRegistry
}

// Detector returns the detector ParseAuto uses.
func (r *Registry) Detector() *detect.Detector { return r.detector }

// Parse parses text as dialect d.
func (r *Registry) Parse(d queryir.Dialect, text string) (*queryir.QueryPlan, error) {
	p, ok := r.parsers[d]
	if !ok {
		return nil, queryir.NewParseError(d, "no parser registered for dialect %q", d)
	}
	return p.Parse(text)
}

// ParseAuto detects the dialect of text and parses it.
func (r *Registry) ParseAuto(text string) (*queryir.QueryPlan, error) {
	plan, _, _, err := r.ParseAutoWithConfidence(text)
	return plan, err
}

// ParseAutoWithConfidence is ParseAuto that also reports the detected
// dialect and the detector's confidence in it.
func (r *Registry) ParseAutoWithConfidence(text string) (*queryir.QueryPlan, queryir.Dialect, float64, error) {
	d, conf := r.detector.DetectWithConfidence(text)
	plan, err := r.Parse(d, text)
	if err != nil {
		return nil, d, conf, err
	}
	return plan, d, conf, nil
}

// Translate renders plan in target.
func (r *Registry) Translate(plan *queryir.QueryPlan, target queryir.Dialect) (string, error) {
	t, ok := r.translators[target]
	if !ok {
		return "", queryir.Unsupported(target, "target", "no translator registered for dialect %q", target)
	}
	return t.Translate(plan)
}

// TranslateQuery parses text as source, or as the detected dialect when
// source is empty, and renders it in target. A parse failure comes back
// as a TranslateError wrapping the ParseError.
func (r *Registry) TranslateQuery(text string, source, target queryir.Dialect) (string, error) {
	if !r.HasTranslator(target) {
		return "", queryir.Unsupported(target, "target", "no translator registered for dialect %q", target)
	}
	var (
		plan *queryir.QueryPlan
		err  error
	)
	if source == "" {
		plan, err = r.ParseAuto(text)
	} else {
		plan, err = r.Parse(source, text)
	}
	if err != nil {
		return "", &queryir.TranslateError{Target: target, Message: "parsing source query", Err: err}
	}
	return r.Translate(plan, target)
}

// Dialects returns every dialect with a parser or a translator, in
// priority order.
func (r *Registry) Dialects() []queryir.Dialect {
	seen := make(map[queryir.Dialect]bool)
	for d := range r.parsers {
		seen[d] = true
	}
	for d := range r.translators {
		seen[d] = true
	}
	return sorted(seen)
}

// Parsers returns the dialects with a parser, in priority order.
func (r *Registry) Parsers() []queryir.Dialect {
	seen := make(map[queryir.Dialect]bool, len(r.parsers))
	for d := range r.parsers {
		seen[d] = true
	}
	return sorted(seen)
}

// Translators returns the dialects with a translator, in priority order.
func (r *Registry) Translators() []queryir.Dialect {
	seen := make(map[queryir.Dialect]bool, len(r.translators))
	for d := range r.translators {
		seen[d] = true
	}
	return sorted(seen)
}

// HasParser reports whether d has a parser.
func (r *Registry) HasParser(d queryir.Dialect) bool {
	_, ok := r.parsers[d]
	return ok
}

// HasTranslator reports whether d has a translator.
func (r *Registry) HasTranslator(d queryir.Dialect) bool {
	_, ok := r.translators[d]
	return ok
}

// Resolve parses a user-supplied dialect name and checks that the
// registry knows it.
func (r *Registry) Resolve(name string) (queryir.Dialect, error) {
	d, err := queryir.ParseDialect(name)
	if err != nil {
		return "", err
	}
	if !r.HasParser(d) && !r.HasTranslator(d) {
		return "", fmt.Errorf("dialect %s is not registered", d)
	}
	return d, nil
}

// sorted orders dialects by priority, breaking ties between unknown
// dialects by name.
func sorted(set map[queryir.Dialect]bool) []queryir.Dialect {
	out := make([]queryir.Dialect, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Priority(), out[j].Priority()
		if pi != pj {
			return pi < pj
		}
		return out[i] < out[j]
	})
	return out
}
