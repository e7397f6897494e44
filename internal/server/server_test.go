package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/registry"
	"github.com/roach88/polyql/internal/store"
	"github.com/roach88/polyql/internal/testutil"
)

const promRate = `rate(http_requests_total{job="api"}[5m])`

type response struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
	Error  *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	TraceID string `json:"trace_id"`
}

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	conf := Config{
		Registry:     registry.New(registry.Builtins()...),
		CacheSize:    16,
		NewRequestID: testutil.NewSequentialIDs("req").Next,
	}
	if mutate != nil {
		mutate(&conf)
	}
	s, err := New(conf)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, target, contentType, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func TestNew_RequiresRegistry(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec, resp := do(t, s, "GET", "/healthz", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "req-1", resp.TraceID)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	assert.EqualValues(t, 13, resp.Data["dialects"])
}

func TestRequestIDHeaderIsKept(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
	assert.Contains(t, rec.Body.String(), `"trace_id":"abc"`)
}

func TestDialects(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/dialects", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []struct {
			Name      string `json:"name"`
			Parse     bool   `json:"parse"`
			Translate bool   `json:"translate"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 13)
	assert.Equal(t, "clickhouse", resp.Data[0].Name)
	for _, d := range resp.Data {
		assert.True(t, d.Parse, d.Name)
		assert.Equal(t, d.Name != "druidnative", d.Translate, d.Name)
	}
}

func TestParse(t *testing.T) {
	s := newTestServer(t, nil)

	rec, resp := do(t, s, "POST", "/api/v1/parse", "application/json", `{"query":"rate(http_requests_total[5m])"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "promql", resp.Data["dialect"])
	assert.Contains(t, resp.Data, "confidence")
	assert.Contains(t, resp.Data, "plan")

	rec, resp = do(t, s, "POST", "/api/v1/parse", "application/json", `{"query":"up","dialect":"prometheus"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "promql", resp.Data["dialect"])
	assert.NotContains(t, resp.Data, "confidence")
}

func TestDetect(t *testing.T) {
	s := newTestServer(t, nil)
	rec, resp := do(t, s, "POST", "/api/v1/detect", "application/json",
		`{"query":"SELECT mean(\"value\") FROM \"cpu\" WHERE time > now() - 1h GROUP BY time(5m)"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "influxql", resp.Data["dialect"])
	assert.NotEmpty(t, resp.Data["scores"])
}

func TestTranslate_CachesOutput(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"query":` + jsonString(promRate) + `,"source":"promql","target":"influxql"}`

	rec, resp := do(t, s, "POST", "/api/v1/translate", "application/json", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, resp.Data["output"], "derivative(")
	assert.Equal(t, false, resp.Data["cached"])

	_, again := do(t, s, "POST", "/api/v1/translate", "application/json", body)
	assert.Equal(t, true, again.Data["cached"])
	assert.Equal(t, resp.Data["output"], again.Data["output"])

	assert.Equal(t, 1.0, promtestutil.ToFloat64(s.metrics.cacheHits.WithLabelValues("influxql")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(s.metrics.cacheMisses.WithLabelValues("influxql")))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(s.metrics.requests.WithLabelValues("translate", "promql", "ok")))
}

func TestTranslate_DetectsSource(t *testing.T) {
	s := newTestServer(t, nil)
	rec, resp := do(t, s, "POST", "/api/v1/translate", "application/json",
		`{"query":`+jsonString(promRate)+`,"target":"flux"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "promql", resp.Data["source"])
	assert.Contains(t, resp.Data, "confidence")
}

func TestTranslate_DefaultTarget(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.DefaultTarget = queryir.InfluxQL })
	rec, resp := do(t, s, "POST", "/api/v1/translate", "application/json", `{"query":`+jsonString(promRate)+`,"source":"promql"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "influxql", resp.Data["target"])
}

func TestTranslate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{`, http.StatusBadRequest, codeBadRequest},
		{"empty query", `{"query":" ","target":"flux"}`, http.StatusBadRequest, codeBadRequest},
		{"no target", `{"query":"up"}`, http.StatusBadRequest, codeBadRequest},
		{"unknown target", `{"query":"up","target":"promq"}`, http.StatusBadRequest, codeDialect},
		{"parse failure", `{"query":"sum(rate(x[5m]","source":"promql","target":"influxql"}`, http.StatusBadRequest, codeParse},
		{"no translator", `{"query":"up","source":"promql","target":"druidnative"}`, http.StatusUnprocessableEntity, codeUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec, resp := do(t, s, "POST", "/api/v1/translate", "application/json", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestTranslate_SuggestsDialect(t *testing.T) {
	s := newTestServer(t, nil)
	_, resp := do(t, s, "POST", "/api/v1/translate", "application/json", `{"query":"up","target":"promq"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "promql", resp.Error.Details["suggestion"])
}

func TestTranslate_RecordsHistory(t *testing.T) {
	history, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })
	s := newTestServer(t, func(c *Config) { c.History = history })

	do(t, s, "POST", "/api/v1/translate", "application/json", `{"query":`+jsonString(promRate)+`,"source":"promql","target":"influxql"}`)
	do(t, s, "POST", "/api/v1/translate", "application/json", `{"query":"sum(","source":"promql","target":"influxql"}`)

	recs, err := history.Recent(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Failed())
	assert.False(t, recs[1].Failed())
	assert.Equal(t, queryir.InfluxQL, recs[1].Target)
}

func TestMaxQuerySize(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.MaxQuerySize = 32 })

	rec, resp := do(t, s, "POST", "/api/v1/translate", "application/json",
		`{"query":"`+strings.Repeat("x", 64)+`","target":"flux"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, codeTooLarge, resp.Error.Code)

	rec, _ = do(t, s, "GET", "/api/v1/query?query="+strings.Repeat("a", 64), "", "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestNativeEndpoints(t *testing.T) {
	canonical := testutil.CanonicalQueries
	tests := []struct {
		name        string
		method      string
		target      string
		contentType string
		body        string
		dialect     string
	}{
		{"prometheus", "GET", "/api/v1/query?query=up&time=1700000000", "", "", "promql"},
		{"prometheus range", "POST", "/api/v1/query_range", "application/x-www-form-urlencoded",
			"query=" + url.QueryEscape(canonical[queryir.PromQL]) + "&start=1&end=2&step=15", "promql"},
		{"influxdb v1", "GET", "/query?db=telegraf&q=" + url.QueryEscape(canonical[queryir.InfluxQL]), "", "", "influxql"},
		{"influxdb v2 raw", "POST", "/api/v2/query", "application/vnd.flux", canonical[queryir.Flux], "flux"},
		{"influxdb v2 json", "POST", "/api/v2/query", "application/json",
			`{"query":` + jsonString(canonical[queryir.Flux]) + `}`, "flux"},
		{"druid", "POST", "/druid/v2", "application/json", canonical[queryir.DruidNative], "druidnative"},
		{"opentsdb", "POST", "/api/query", "application/json", canonical[queryir.OpenTSDB], "opentsdb"},
		{"graphite", "GET", "/render?from=-1h&target=" + url.QueryEscape(canonical[queryir.Graphite]), "", "", "graphite"},
		{"questdb", "GET", "/exec?query=" + url.QueryEscape(canonical[queryir.QuestDB]), "", "", "questdb"},
		{"auto", "POST", "/dialect/auto", "text/plain", canonical[queryir.PromQL], "promql"},
		{"auto get", "GET", "/dialect/auto?query=" + url.QueryEscape(canonical[queryir.InfluxQL]), "", "", "influxql"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec, resp := do(t, s, tt.method, tt.target, tt.contentType, tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.dialect, resp.Data["dialect"])
			assert.NotEmpty(t, resp.Data["plan"])
		})
	}
}

func TestNative_InfluxDatabaseParam(t *testing.T) {
	var got Request
	s := newTestServer(t, func(c *Config) {
		c.Executor = ExecutorFunc(func(_ context.Context, req Request) (any, error) {
			got = req
			return map[string]any{"ok": true}, nil
		})
	})
	rec, _ := do(t, s, "GET", "/query?db=telegraf&epoch=ms&q="+url.QueryEscape(`SELECT "value" FROM "cpu"`), "", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "/query", got.Endpoint)
	assert.Equal(t, queryir.InfluxQL, got.Dialect)
	assert.Equal(t, "telegraf", got.Plan.Database)
	assert.Equal(t, "ms", got.Params.Get("epoch"))
	assert.Empty(t, got.Params.Get("q"))
}

func TestNative_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"missing query", "/api/v1/query", http.StatusBadRequest, codeBadRequest},
		{"missing target", "/render?from=-1h", http.StatusBadRequest, codeBadRequest},
		{"parse error", "/api/v1/query?query=" + url.QueryEscape("sum(rate(x[5m]"), http.StatusBadRequest, codeParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec, resp := do(t, s, "GET", tt.target, "", "")
			assert.Equal(t, tt.status, rec.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestNative_ExecutorFailure(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.Executor = ExecutorFunc(func(context.Context, Request) (any, error) {
			return nil, errors.New("backend unavailable")
		})
	})
	rec, resp := do(t, s, "GET", "/api/v1/query?query=up", "", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, codeExecute, resp.Error.Code)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(s.metrics.requests.WithLabelValues("promql", "promql", codeExecute)))
}

func TestNative_ExecutorPanic(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := newTestServer(t, func(c *Config) {
		c.Logger = zap.New(core)
		c.Executor = ExecutorFunc(func(context.Context, Request) (any, error) {
			panic("boom")
		})
	})
	rec, resp := do(t, s, "GET", "/api/v1/query?query=up", "", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, codeInternal, resp.Error.Code)
	assert.Equal(t, 1, logs.FilterMessage("Panic").Len())
}

func TestRouting(t *testing.T) {
	s := newTestServer(t, nil)

	rec, resp := do(t, s, "GET", "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Error.Code)

	rec, resp = do(t, s, "DELETE", "/api/v1/translate", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method_not_allowed", resp.Error.Code)

	rec, _ = do(t, s, "GET", "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := newTestServer(t, func(c *Config) { c.Logger = zap.New(core) })
	do(t, s, "GET", "/api/v1/query?query=up", "", "")

	completed := logs.FilterMessage("Request completed").All()
	require.Len(t, completed, 1)
	assert.EqualValues(t, http.StatusOK, completed[0].ContextMap()["status_code"])

	handled := logs.FilterMessage("Query handled").All()
	require.Len(t, handled, 1)
	assert.Equal(t, "promql", handled[0].ContextMap()["dialect"])
	assert.Equal(t, "ok", handled[0].ContextMap()["outcome"])
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
