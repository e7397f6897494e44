package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/polyql/internal/queryir"
)

// nativeQuery is a query extracted from a dialect-native request.
type nativeQuery struct {
	text   string
	params url.Values
	// database is applied to the plan when the query names none.
	database string
}

// serveNative parses q as dialect d (detecting it when d is empty) and
// hands the plan to the executor.
func (s *Server) serveNative(w http.ResponseWriter, r *http.Request, op string, d queryir.Dialect, q nativeQuery, err error) {
	start := time.Now()
	if err == nil && strings.TrimSpace(q.text) == "" {
		err = badRequest("query is required")
	}
	if err == nil {
		err = s.checkSize(q.text)
	}
	if err != nil {
		s.observe(r, op, d, start, err)
		s.respondError(w, r, err)
		return
	}

	var (
		plan *queryir.QueryPlan
		conf float64
	)
	if d == "" {
		plan, d, conf, err = s.conf.Registry.ParseAutoWithConfidence(q.text)
	} else {
		plan, err = s.conf.Registry.Parse(d, q.text)
	}
	if err == nil {
		if plan.Database == "" && q.database != "" {
			plan.Database = q.database
		}
		var result any
		result, err = s.conf.Executor.Execute(r.Context(), Request{
			Endpoint:   r.URL.Path,
			Dialect:    d,
			Confidence: conf,
			Query:      q.text,
			Plan:       plan,
			Params:     q.params,
		})
		if err != nil {
			err = &executeError{err: err}
		}
		s.observe(r, op, d, start, err)
		if err == nil {
			s.respond(w, r, result)
			return
		}
	} else {
		s.observe(r, op, d, start, err)
	}
	s.respondError(w, r, err)
}

// without returns a copy of vals minus the named keys.
func without(vals url.Values, keys ...string) url.Values {
	out := url.Values{}
	for k, v := range vals {
		out[k] = append([]string(nil), v...)
	}
	for _, k := range keys {
		out.Del(k)
	}
	return out
}

// fromForm reads the query from a form parameter.
func (s *Server) fromForm(w http.ResponseWriter, r *http.Request, key string) (nativeQuery, url.Values, error) {
	vals, err := s.form(w, r)
	if err != nil {
		return nativeQuery{}, nil, err
	}
	return nativeQuery{text: vals.Get(key), params: without(vals, key)}, vals, nil
}

// handlePromQuery serves the Prometheus HTTP API: query plus time or
// start/end/step.
func handlePromQuery(s *Server, w http.ResponseWriter, r *http.Request) {
	q, _, err := s.fromForm(w, r, "query")
	s.serveNative(w, r, "promql", queryir.PromQL, q, err)
}

// handleInfluxQuery serves the InfluxDB 1.x /query endpoint: q and db.
func handleInfluxQuery(s *Server, w http.ResponseWriter, r *http.Request) {
	q, vals, err := s.fromForm(w, r, "q")
	if err == nil {
		q.database = vals.Get("db")
	}
	s.serveNative(w, r, "influxql", queryir.InfluxQL, q, err)
}

// handleFluxQuery serves the InfluxDB 2.x /api/v2/query endpoint. The body
// is raw Flux or a JSON document with a "query" field.
func handleFluxQuery(s *Server, w http.ResponseWriter, r *http.Request) {
	q := nativeQuery{params: without(r.URL.Query())}
	var err error
	if isJSON(r) {
		var body struct {
			Query string `json:"query"`
		}
		err = s.decode(w, r, &body)
		q.text = body.Query
	} else {
		q.text, err = s.readBody(w, r)
	}
	s.serveNative(w, r, "flux", queryir.Flux, q, err)
}

// handleDruidQuery serves the Druid broker's native JSON endpoint.
func handleDruidQuery(s *Server, w http.ResponseWriter, r *http.Request) {
	text, err := s.readBody(w, r)
	s.serveNative(w, r, "druid_native", queryir.DruidNative, nativeQuery{text: text, params: without(r.URL.Query())}, err)
}

// handleOpenTSDBQuery serves /api/query: a JSON body on POST, the m=
// query string form on GET.
func handleOpenTSDBQuery(s *Server, w http.ResponseWriter, r *http.Request) {
	var (
		q   nativeQuery
		err error
	)
	if r.Method == http.MethodGet {
		q.text = r.URL.RawQuery
	} else {
		q.text, err = s.readBody(w, r)
	}
	s.serveNative(w, r, "opentsdb", queryir.OpenTSDB, q, err)
}

// handleRender serves Graphite's /render. The whole parameter set is
// handed to the parser so from and until become the time range.
func handleRender(s *Server, w http.ResponseWriter, r *http.Request) {
	vals, err := s.form(w, r)
	var q nativeQuery
	if err == nil {
		if vals.Get("target") == "" {
			err = badRequest("target is required")
		} else {
			q = nativeQuery{text: vals.Encode(), params: without(vals, "target", "from", "until")}
		}
	}
	s.serveNative(w, r, "graphite", queryir.Graphite, q, err)
}

// handleQuestDBExec serves QuestDB's /exec endpoint.
func handleQuestDBExec(s *Server, w http.ResponseWriter, r *http.Request) {
	q, _, err := s.fromForm(w, r, "query")
	s.serveNative(w, r, "questdb", queryir.QuestDB, q, err)
}

// handleAuto detects the dialect of the query parameter or raw body.
func handleAuto(s *Server, w http.ResponseWriter, r *http.Request) {
	var (
		q   nativeQuery
		err error
	)
	if r.Method == http.MethodGet {
		q.text = r.URL.Query().Get("query")
		q.params = without(r.URL.Query(), "query")
	} else {
		q.text, err = s.readBody(w, r)
	}
	s.serveNative(w, r, "auto", "", q, err)
}
