package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/store"
)

var apiJSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

const (
	statusSuccess = "success"
	statusError   = "error"
)

type apiError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// envelope wraps every JSON response.
type envelope struct {
	Status  string    `json:"status"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	TraceID string    `json:"trace_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := apiJSON.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Error writing response", zap.Error(err))
	}
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, s.logger, http.StatusOK, envelope{
		Status:  statusSuccess,
		Data:    data,
		TraceID: RequestIDFromContext(r.Context()),
	})
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, ae := errorResponse(err)
	if status >= 500 {
		s.logger.Warn("error",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, s.logger, status, envelope{
		Status:  statusError,
		Error:   ae,
		TraceID: RequestIDFromContext(r.Context()),
	})
}

// observe records the outcome of one operation in the metrics and the log.
func (s *Server) observe(r *http.Request, op string, d queryir.Dialect, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		_, ae := errorResponse(err)
		outcome = ae.Code
	}
	s.metrics.requests.WithLabelValues(op, string(d), outcome).Inc()
	s.metrics.latency.WithLabelValues(op).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("operation", op),
		zap.String("dialect", string(d)),
		zap.Duration("latency", elapsed),
		zap.String("outcome", outcome),
	}
	if err != nil {
		s.logger.Info("Query failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Debug("Query handled", fields...)
}

func (s *Server) checkSize(text string) error {
	if int64(len(text)) > s.conf.MaxQuerySize {
		return &requestError{status: http.StatusRequestEntityTooLarge, code: codeTooLarge, msg: "query exceeds the maximum size"}
	}
	return nil
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) (string, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.conf.MaxQuerySize))
	if err != nil {
		return "", s.bodyError(err)
	}
	return string(b), nil
}

func (s *Server) bodyError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return &requestError{status: http.StatusRequestEntityTooLarge, code: codeTooLarge, msg: "request body exceeds the maximum size"}
	}
	return badRequest("reading request: " + err.Error())
}

// form returns the URL and form-encoded body parameters.
func (s *Server) form(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	if r.Method == http.MethodPost && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, s.conf.MaxQuerySize)
	}
	if err := r.ParseForm(); err != nil {
		return nil, s.bodyError(err)
	}
	return r.Form, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	if err := apiJSON.UnmarshalFromString(body, v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

// dialect resolves an optional dialect name from a request.
func (s *Server) dialect(name string) (queryir.Dialect, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil
	}
	return s.conf.Registry.Resolve(name)
}

func handleNotFound(s *Server, w http.ResponseWriter, r *http.Request) {
	s.respondErrorStatus(w, r, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
}

func handleMethodNotAllowed(s *Server, w http.ResponseWriter, r *http.Request) {
	s.respondErrorStatus(w, r, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not allowed on "+r.URL.Path)
}

func (s *Server) respondErrorStatus(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	s.respondError(w, r, &requestError{status: status, code: code, msg: msg})
}

func handleHealth(s *Server, w http.ResponseWriter, r *http.Request) {
	if s.conf.History != nil {
		if err := s.conf.History.Ping(r.Context()); err != nil {
			s.respondError(w, r, &requestError{status: http.StatusServiceUnavailable, code: "unhealthy", msg: err.Error()})
			return
		}
	}
	s.respond(w, r, map[string]any{
		"dialects":    len(s.conf.Registry.Dialects()),
		"cache_items": s.cache.len(),
	})
}

type parseRequest struct {
	Query   string `json:"query"`
	Dialect string `json:"dialect,omitempty"`
}

func handleParse(s *Server, w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req parseRequest
	d, err := s.parseRequest(w, r, &req)
	if err != nil {
		s.observe(r, "parse", d, start, err)
		s.respondError(w, r, err)
		return
	}

	var (
		plan *queryir.QueryPlan
		conf float64
	)
	if d == "" {
		plan, d, conf, err = s.conf.Registry.ParseAutoWithConfidence(req.Query)
	} else {
		plan, err = s.conf.Registry.Parse(d, req.Query)
	}
	s.observe(r, "parse", d, start, err)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	data := map[string]any{
		"dialect": string(d),
		"plan":    queryir.Describe(plan),
	}
	if conf > 0 {
		data["confidence"] = conf
	}
	if v := validation(plan); v != nil {
		data["validation"] = v
	}
	s.respond(w, r, data)
}

func (s *Server) parseRequest(w http.ResponseWriter, r *http.Request, req *parseRequest) (queryir.Dialect, error) {
	if err := s.decode(w, r, req); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Query) == "" {
		return "", badRequest("query is required")
	}
	if err := s.checkSize(req.Query); err != nil {
		return "", err
	}
	return s.dialect(req.Dialect)
}

func handleDetect(s *Server, w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req parseRequest
	if _, err := s.parseRequest(w, r, &req); err != nil {
		s.observe(r, "detect", "", start, err)
		s.respondError(w, r, err)
		return
	}
	det := s.conf.Registry.Detector()
	d, conf := det.DetectWithConfidence(req.Query)
	s.observe(r, "detect", d, start, nil)

	scores := []map[string]any{}
	for _, sc := range det.Scores(req.Query) {
		if sc.Points == 0 {
			continue
		}
		scores = append(scores, map[string]any{
			"dialect":    string(sc.Dialect),
			"points":     sc.Points,
			"signatures": len(sc.Signatures),
			"keywords":   sc.Keywords,
		})
	}
	s.respond(w, r, map[string]any{
		"dialect":    string(d),
		"confidence": conf,
		"scores":     scores,
	})
}

type translateRequest struct {
	Query  string `json:"query"`
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
}

func handleTranslate(s *Server, w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req translateRequest
	source, target, err := s.translateRequest(w, r, &req)
	if err != nil {
		s.observe(r, "translate", source, start, err)
		s.respondError(w, r, err)
		return
	}

	var conf float64
	if source == "" {
		source, conf = s.conf.Registry.Detector().DetectWithConfidence(req.Query)
	}
	key := cacheKey{source: source, target: target, text: req.Query}
	out, cached := s.cache.get(key)
	if !cached {
		out, err = s.conf.Registry.TranslateQuery(req.Query, source, target)
		if err == nil {
			s.cache.add(key, out)
		}
	}
	s.observe(r, "translate", source, start, err)
	s.record(r, store.Entry{
		Source:     source,
		Target:     target,
		Query:      req.Query,
		Output:     out,
		Confidence: conf,
		Err:        err,
		Duration:   time.Since(start),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	data := map[string]any{
		"source": string(source),
		"target": string(target),
		"output": out,
		"cached": cached,
	}
	if conf > 0 {
		data["confidence"] = conf
	}
	s.respond(w, r, data)
}

func (s *Server) translateRequest(w http.ResponseWriter, r *http.Request, req *translateRequest) (queryir.Dialect, queryir.Dialect, error) {
	if err := s.decode(w, r, req); err != nil {
		return "", "", err
	}
	if strings.TrimSpace(req.Query) == "" {
		return "", "", badRequest("query is required")
	}
	if err := s.checkSize(req.Query); err != nil {
		return "", "", err
	}
	source, err := s.dialect(req.Source)
	if err != nil {
		return "", "", err
	}
	target := s.conf.DefaultTarget
	if req.Target != "" {
		if target, err = s.conf.Registry.Resolve(req.Target); err != nil {
			return source, "", err
		}
	}
	if target == "" {
		return source, "", badRequest("target is required")
	}
	return source, target, nil
}

func (s *Server) record(r *http.Request, e store.Entry) {
	if s.conf.History == nil {
		return
	}
	if _, err := s.conf.History.Record(r.Context(), e); err != nil {
		s.logger.Warn("Recording translation failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
}

func handleDialects(s *Server, w http.ResponseWriter, r *http.Request) {
	reg := s.conf.Registry
	out := []map[string]any{}
	for _, d := range reg.Dialects() {
		out = append(out, map[string]any{
			"name":         string(d),
			"display_name": d.DisplayName(),
			"parse":        reg.HasParser(d),
			"translate":    reg.HasTranslator(d),
		})
	}
	s.respond(w, r, out)
}
