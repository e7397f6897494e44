package cli

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/store"
	"github.com/roach88/polyql/internal/testutil"
)

// safeBuffer guards a builder shared with the server goroutine.
type safeBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const promRate = `rate(http_requests_total{job="api"}[5m])`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse_DetectsDialect(t *testing.T) {
	resp, err := executeJSON(t, "parse", promRate)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)

	var res ParseResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, queryir.PromQL, res.Dialect)
	assert.True(t, res.Detected)
	assert.Greater(t, res.Confidence, 0.0)
	assert.Empty(t, res.Problems)

	srcs := res.Plan["sources"].([]any)
	assert.Equal(t, "http_requests_total", srcs[0].(map[string]any)["name"])
}

func TestParse_ExplicitDialectFromStdin(t *testing.T) {
	out, _, err := execute(t, testutil.CanonicalQueries[queryir.InfluxQL], "parse", "--dialect", "influx", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Dialect: InfluxQL\n")
	assert.Contains(t, out, `"source_dialect": "influxql"`)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code string
		exit int
	}{
		{"unknown dialect", []string{"parse", "--dialect", "promq", "up"}, ErrCodeUnknownDialect, ExitCommandError},
		{"parse error", []string{"parse", "--dialect", "promql", "sum(rate(x[5m])"}, ErrCodeParse, ExitFailure},
		{"no query", []string{"parse"}, ErrCodeUsage, ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := executeJSON(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exit, GetExitCode(err))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestParse_SuggestsDialect(t *testing.T) {
	resp, err := executeJSON(t, "parse", "--dialect", "promq", "up")
	require.Error(t, err)
	details := resp.Error.Details.(map[string]any)
	assert.Equal(t, "promql", details["suggestion"])
}

func TestDetect(t *testing.T) {
	out, _, err := execute(t, "", "detect", testutil.CanonicalQueries[queryir.ClickHouse])
	require.NoError(t, err)
	assert.Equal(t, "clickhouse (confidence 1.00)\n", out)

	resp, err := executeJSON(t, "detect", "--explain", testutil.CanonicalQueries[queryir.ClickHouse])
	require.NoError(t, err)
	var res DetectResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, queryir.ClickHouse, res.Dialect)
	require.Len(t, res.Scores, 1)
	assert.Contains(t, res.Scores[0].Keywords, "with totals")
}

func TestDetect_WithRules(t *testing.T) {
	dir := t.TempDir()
	rules := writeFile(t, dir, "rules.cue", `dialects: graphite: signatures: ["^custom\\."]`)

	out, _, err := execute(t, "", "detect", "custom.metric")
	require.NoError(t, err)
	assert.NotContains(t, out, "graphite")

	out, _, err = execute(t, "", "--rules", rules, "detect", "custom.metric")
	require.NoError(t, err)
	assert.Equal(t, "graphite (confidence 1.00)\n", out)
}

func TestDetect_BadRules(t *testing.T) {
	dir := t.TempDir()
	rules := writeFile(t, dir, "rules.cue", `dialects: nosuch: keywords: ["x"]`)

	resp, err := executeJSON(t, "--rules", rules, "detect", "up")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeRules, resp.Error.Code)
}

func TestTranslate(t *testing.T) {
	out, _, err := execute(t, "", "translate", "--to", "influxql", promRate)
	require.NoError(t, err)
	assert.Contains(t, out, "derivative(")
	assert.Contains(t, out, `FROM "http_requests_total"`)

	resp, err := executeJSON(t, "translate", "--from", "promql", "--to", "influx", promRate)
	require.NoError(t, err)
	var res TranslateResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, queryir.PromQL, res.Source)
	assert.Equal(t, queryir.InfluxQL, res.Target)
	assert.Zero(t, res.Confidence)
	assert.Empty(t, res.RecordID)
}

func TestTranslate_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code string
		exit int
	}{
		{"no target", []string{"translate", promRate}, ErrCodeUsage, ExitCommandError},
		{"unknown target", []string{"translate", "--to", "sparql", promRate}, ErrCodeUnknownDialect, ExitCommandError},
		{"unsupported target", []string{"translate", "--to", "druidnative", promRate}, ErrCodeUnsupported, ExitFailure},
		{"parse error", []string{"translate", "--from", "promql", "--to", "influxql", "rate("}, ErrCodeParse, ExitFailure},
		{"record without database", []string{"translate", "--to", "influxql", "--record", promRate}, ErrCodeUsage, ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := executeJSON(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exit, GetExitCode(err))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestTranslate_DefaultTargetFromConfig(t *testing.T) {
	dir := t.TempDir()
	conf := writeFile(t, dir, "polyql.toml", "[translate]\ndefault_target = \"influxql\"\n")

	out, _, err := execute(t, "", "--config", conf, "translate", promRate)
	require.NoError(t, err)
	assert.Contains(t, out, "derivative(")
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	conf := writeFile(t, dir, "polyql.toml", "[log]\nlevel = \"loud\"\n")

	resp, err := executeJSON(t, "--config", conf, "dialects")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
}

func TestTranslate_RecordAndHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")

	resp, err := executeJSON(t, "translate", "--to", "influxql", "--record", "--history", db, promRate)
	require.NoError(t, err)
	var res TranslateResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	require.NotEmpty(t, res.RecordID)

	_, err = executeJSON(t, "translate", "--from", "promql", "--to", "influxql", "--record", "--history", db, "rate(")
	require.Error(t, err)

	resp, err = executeJSON(t, "history", "--db", db)
	require.NoError(t, err)
	var recs []store.Record
	require.NoError(t, json.Unmarshal(resp.Data, &recs))
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Failed(), "newest first")
	assert.Equal(t, res.RecordID, recs[1].ID)
	assert.Equal(t, queryir.PromQL, recs[1].Source)
	assert.Equal(t, res.Output, recs[1].Output)

	resp, err = executeJSON(t, "history", "--db", db, "--failed")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(resp.Data, &recs))
	assert.Len(t, recs, 1)

	resp, err = executeJSON(t, "history", "--db", db, "--stats")
	require.NoError(t, err)
	var stats store.Stats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Pairs, 1)
	assert.Equal(t, queryir.InfluxQL, stats.Pairs[0].Target)

	out, _, err := execute(t, "", "history", "--db", db, res.RecordID)
	require.NoError(t, err)
	assert.Contains(t, out, "ID:       "+res.RecordID)
	assert.Contains(t, out, "derivative(")

	resp, err = executeJSON(t, "history", "--db", db, "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestHistory_RequiresDatabase(t *testing.T) {
	resp, err := executeJSON(t, "history")
	require.Error(t, err)
	assert.Equal(t, ErrCodeUsage, resp.Error.Code)
}

func TestHistory_EmptyText(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	out, _, err := execute(t, "", "history", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "No translations recorded.\n", out)
}

func TestDialects(t *testing.T) {
	resp, err := executeJSON(t, "dialects")
	require.NoError(t, err)
	var infos []DialectInfo
	require.NoError(t, json.Unmarshal(resp.Data, &infos))
	require.Len(t, infos, len(queryir.AllDialects()))
	assert.Equal(t, queryir.ClickHouse, infos[0].Name)
	for _, i := range infos {
		assert.True(t, i.Parse, i.Name)
		assert.Equal(t, i.Name != queryir.DruidNative, i.Translate, i.Name)
	}

	out, _, err := execute(t, "", "dialects")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "NAME"))
	assert.Contains(t, out, "Druid native")
}

const scenariosDir = "../harness/testdata/scenarios"

func TestCheck(t *testing.T) {
	out, _, err := execute(t, "", "check", scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ promql_rate\n")
	assert.Contains(t, out, "6 passed, 0 failed, 6 total")

	resp, err := executeJSON(t, "check", scenariosDir, "--filter", "promql_*")
	require.NoError(t, err)
	var res struct {
		Total  int `json:"total"`
		Passed int `json:"passed"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Passed)
}

func TestCheck_Failures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wrong.yaml", `name: wrong
description: "expects the wrong dialect"
query: up
expect:
  detection:
    dialect: graphite
`)
	out, _, err := execute(t, "", "check", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "detected promql, expected graphite")
}

func TestCheck_CommandErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "typo.yaml", "name: typo\ndescription: d\nquery: up\nexpectations: {}\n")

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"malformed scenario", []string{"check", dir}, ErrCodeScenario},
		{"missing directory", []string{"check", filepath.Join(dir, "nope")}, ErrCodeScenario},
		{"update without golden", []string{"check", scenariosDir, "--update"}, ErrCodeUsage},
		{"bad filter", []string{"check", scenariosDir, "--filter", "["}, ErrCodeUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := executeJSON(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestCheck_UpdateGolden(t *testing.T) {
	golden := t.TempDir()
	_, _, err := execute(t, "", "check", scenariosDir, "--golden", golden, "--update")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(golden, "influxql_mean_window_influxql.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `mean("value")`)

	_, _, err = execute(t, "", "check", scenariosDir, "--golden", golden)
	require.NoError(t, err)
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errOut := &safeBuffer{}
	cmd := newServeCommand(&ServeOptions{RootOptions: &RootOptions{Format: "text"}, Listener: ln})
	cmd.SetOut(io.Discard)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Contains(t, errOut.String(), "Listening")
}
