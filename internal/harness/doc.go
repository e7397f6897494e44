// Package harness runs conformance scenarios against a registry.
//
// A scenario is one query plus what is expected of it: how it is detected,
// what plan it parses to and what each translation must look like.
//
// # Scenario Format
//
// Scenarios are YAML files, one scenario per file:
//
//	name: promql_rate
//	description: "rate over a 5m range with a label matcher"
//	query: rate(http_requests_total{job="api"}[5m])
//	dialect: promql          # optional; detected when empty
//	expect:
//	  detection:
//	    dialect: promql
//	    min_confidence: 0.5
//	    min_signatures: 1
//	  plan:
//	    sources: [{name: http_requests_total}]
//	    filters: [{column: job, op: "==", value: api}]
//	  translations:
//	    - target: influxql
//	      contains: ['derivative(']
//	      reparse: true
//	      golden: true
//
// Unknown fields are rejected so that a misspelt expectation fails loudly
// instead of passing vacuously.
//
// # Plan Matching
//
// expect.plan is matched against the tagged view queryir.Describe returns.
// Maps match when every expected key is present with a matching value;
// extra keys are ignored. A list matches when every expected element
// matches some element of the actual list. Numbers compare by value, so
// 300000 in YAML matches an int64 in the plan.
//
// # Golden Files
//
// Translations marked golden are compared byte for byte with
// <golden dir>/<scenario>_<target>.golden. Tests use RunWithGolden, which
// stores them under testdata/golden through goldie; regenerate with
//
//	go test ./internal/harness -update
package harness
