package server

import (
	"context"
	"net/url"

	"github.com/roach88/polyql/internal/queryir"
)

// Request is a parsed query handed to an Executor.
type Request struct {
	// Endpoint is the route the query arrived on, e.g. "/api/v1/query".
	Endpoint   string
	Dialect    queryir.Dialect
	Confidence float64
	Query      string
	Plan       *queryir.QueryPlan
	// Params holds the request's remaining parameters (time, step, db,
	// format, ...), uninterpreted.
	Params url.Values
}

// Executor runs parsed queries against a backend. Implementations must be
// safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, req Request) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) (any, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// EchoExecutor answers every query with its plan snapshot and validation
// result instead of running it.
type EchoExecutor struct{}

// Execute implements Executor.
func (EchoExecutor) Execute(_ context.Context, req Request) (any, error) {
	out := map[string]any{
		"dialect": string(req.Dialect),
		"plan":    queryir.Describe(req.Plan),
	}
	if req.Confidence > 0 {
		out["confidence"] = req.Confidence
	}
	if v := validation(req.Plan); v != nil {
		out["validation"] = v
	}
	return out, nil
}

// validation describes a plan's warnings and problems, or returns nil for
// a clean plan.
func validation(p *queryir.QueryPlan) map[string]any {
	res := queryir.Validate(p)
	if res.Valid() && len(res.Warnings) == 0 {
		return nil
	}
	out := map[string]any{}
	if len(res.Warnings) > 0 {
		out["warnings"] = res.Warnings
	}
	if problems := res.Problems(); len(problems) > 0 {
		msgs := make([]string, len(problems))
		for i, p := range problems {
			msgs[i] = p.Error()
		}
		out["problems"] = msgs
	}
	return out
}
