package harness

import (
	"fmt"

	"github.com/roach88/polyql/internal/queryir"
)

// Result is the outcome of running one scenario.
type Result struct {
	Scenario string `json:"scenario"`

	// Pass is true if every expectation held.
	Pass bool `json:"pass"`

	// Dialect is the dialect the query was parsed as.
	Dialect    queryir.Dialect `json:"dialect,omitempty"`
	Confidence float64         `json:"confidence"`

	// Plan is the tagged plan view, nil when parsing failed.
	Plan     map[string]any `json:"plan,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`

	// Outputs holds each successful translation by target.
	Outputs map[queryir.Dialect]string `json:"outputs,omitempty"`

	// Errors contains one message per failed expectation.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(name string) *Result {
	return &Result{
		Scenario: name,
		Pass:     true,
		Outputs:  make(map[queryir.Dialect]string),
		Errors:   []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Summary aggregates a batch of results.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Summarize counts passes and failures.
func Summarize(results []*Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Pass {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}
