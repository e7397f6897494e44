package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/registry"
)

func TestScenarios(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.Len(t, scenarios, 6)

	reg := registry.New(registry.Builtins()...)
	for _, sc := range scenarios {
		sc := sc
		t.Run(sc.Name, func(t *testing.T) {
			res := RunWithGolden(t, reg, sc)
			assert.True(t, res.Pass)
		})
	}
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	sc := &Scenario{
		Name:        "wrong_expectations",
		Description: "every check is wrong",
		Query:       `rate(http_requests_total{job="api"}[5m])`,
		Expect: Expect{
			Detection: &DetectionExpect{Dialect: "influxql", MinKeywords: 1},
			Plan: map[string]any{
				"sources": []any{map[string]any{"name": "cpu"}},
			},
			Translations: []TranslationExpect{
				{Target: "influxql", Contains: []string{"mean("}},
			},
		},
	}

	res, err := Run(registry.New(registry.Builtins()...), sc, Options{})
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Equal(t, queryir.PromQL, res.Dialect)
	assert.Len(t, res.Errors, 4, "%v", res.Errors)
	assert.Contains(t, res.Errors[0], "detected promql, expected influxql")
	assert.Contains(t, res.Outputs[queryir.InfluxQL], "derivative(")
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	sc := &Scenario{
		Name:        "parses_fine",
		Description: "expects an error that never comes",
		Query:       "up",
		Dialect:     "promql",
		Expect:      Expect{Error: "parse error"},
	}
	res, err := Run(registry.New(registry.Builtins()...), sc, Options{})
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "parsing as promql succeeded")
}

func TestRun_UnexpectedParseError(t *testing.T) {
	sc := &Scenario{
		Name:        "broken",
		Description: "unbalanced",
		Query:       "sum(rate(x[5m])",
		Dialect:     "promql",
		Expect:      Expect{Plan: map[string]any{"sources": []any{}}},
	}
	res, err := Run(registry.New(registry.Builtins()...), sc, Options{})
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Nil(t, res.Plan)
	assert.Contains(t, res.Errors[0], "parse as promql")
}

func TestRun_NilArguments(t *testing.T) {
	_, err := Run(nil, &Scenario{}, Options{})
	assert.Error(t, err)
	_, err = Run(registry.New(), nil, Options{})
	assert.Error(t, err)
}

func TestRun_GoldenDir(t *testing.T) {
	reg := registry.New(registry.Builtins()...)
	dir := t.TempDir()
	sc := &Scenario{
		Name:        "rate",
		Description: "golden round trip",
		Query:       `rate(http_requests_total{job="api"}[5m])`,
		Dialect:     "promql",
		Expect: Expect{Translations: []TranslationExpect{
			{Target: "promql", Golden: true},
		}},
	}

	res, err := Run(reg, sc, Options{GoldenDir: dir})
	require.NoError(t, err)
	assert.False(t, res.Pass, "missing golden file must fail")
	assert.Contains(t, res.Errors[0], "does not exist")

	res, err = Run(reg, sc, Options{GoldenDir: dir, Update: true})
	require.NoError(t, err)
	assert.True(t, res.Pass)

	data, err := os.ReadFile(filepath.Join(dir, "rate_promql.golden"))
	require.NoError(t, err)
	assert.Equal(t, res.Outputs[queryir.PromQL], string(data))

	res, err = Run(reg, sc, Options{GoldenDir: dir})
	require.NoError(t, err)
	assert.True(t, res.Pass, "%v", res.Errors)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "rate_promql.golden"), []byte("up"), 0o644))
	res, err = Run(reg, sc, Options{GoldenDir: dir})
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Contains(t, res.Errors[0], "differs from golden file")
}

func TestRunAll_Summarize(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	broken := &Scenario{
		Name:        "broken",
		Description: "wrong dialect",
		Query:       "up",
		Expect:      Expect{Detection: &DetectionExpect{Dialect: "graphite"}},
	}

	results, err := RunAll(registry.New(registry.Builtins()...), append(scenarios, broken), Options{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 7, Passed: 6, Failed: 1}, Summarize(results))
}

func TestMatchSubset(t *testing.T) {
	actual := map[string]any{
		"sources": []any{
			map[string]any{"kind": "measurement", "name": "cpu"},
			map[string]any{"kind": "measurement", "name": "mem"},
		},
		"columns":    []string{"a", "b"},
		"time_range": map[string]any{"type": "relative", "duration_ms": int64(3600000)},
		"limit":      int64(10),
	}
	tests := []struct {
		name     string
		expected map[string]any
		ok       bool
		why      string
	}{
		{"empty", map[string]any{}, true, ""},
		{"int matches int64", map[string]any{"limit": 10}, true, ""},
		{"float matches int64", map[string]any{"limit": 10.0}, true, ""},
		{"nested subset", map[string]any{"time_range": map[string]any{"duration_ms": 3600000}}, true, ""},
		{"list element anywhere", map[string]any{"sources": []any{map[string]any{"name": "mem"}}}, true, ""},
		{"string list", map[string]any{"columns": []any{"b"}}, true, ""},
		{"missing key", map[string]any{"offset": 1}, false, `plan.offset: missing key "offset"`},
		{"wrong number", map[string]any{"limit": 11}, false, "plan.limit: expected 11, got 10"},
		{"no matching element", map[string]any{"sources": []any{map[string]any{"name": "disk"}}}, false, "plan.sources[0]: no element matches"},
		{"type mismatch", map[string]any{"time_range": "relative"}, false, "plan.time_range: expected relative"},
		{"list expected", map[string]any{"limit": []any{10}}, false, "plan.limit: expected a list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, why := matchSubset(actual, tt.expected, "plan")
			assert.Equal(t, tt.ok, ok)
			assert.Contains(t, why, tt.why)
		})
	}
}
