package server

import (
	"errors"
	"net/http"

	"github.com/roach88/polyql/internal/queryir"
)

// Error codes in API responses.
const (
	codeBadRequest  = "bad_request"
	codeTooLarge    = "too_large"
	codeParse       = "parse_error"
	codeTranslate   = "translate_error"
	codeUnsupported = "unsupported"
	codeDialect     = "unknown_dialect"
	codeExecute     = "execute_error"
	codeInternal    = "internal"
)

// requestError is a problem with the request itself.
type requestError struct {
	status int
	code   string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, code: codeBadRequest, msg: msg}
}

// executeError marks a failure inside the Executor.
type executeError struct{ err error }

func (e *executeError) Error() string { return e.err.Error() }
func (e *executeError) Unwrap() error { return e.err }

// errorResponse maps err to a status and API error. Parse failures are the
// caller's fault (400); plans that cannot be expressed in the target are
// 422.
func errorResponse(err error) (int, *apiError) {
	var (
		re *requestError
		ue *queryir.UnknownDialectError
		pe *queryir.ParseError
		te *queryir.TranslateError
		ee *executeError
	)
	switch {
	case errors.As(err, &re):
		return re.status, &apiError{Code: re.code, Message: re.msg}
	case errors.As(err, &ue):
		ae := &apiError{Code: codeDialect, Message: ue.Error()}
		if ue.Suggestion != "" {
			ae.Details = map[string]any{"suggestion": string(ue.Suggestion)}
		}
		return http.StatusBadRequest, ae
	case errors.As(err, &pe):
		ae := &apiError{Code: codeParse, Message: pe.Error(), Details: map[string]any{"dialect": string(pe.Dialect)}}
		if pe.Line > 0 {
			ae.Details["line"] = pe.Line
			ae.Details["column"] = pe.Column
		}
		if pe.Position != nil {
			ae.Details["position"] = *pe.Position
		}
		return http.StatusBadRequest, ae
	case errors.As(err, &te):
		ae := &apiError{Code: codeTranslate, Message: te.Error(), Details: map[string]any{"target": string(te.Target)}}
		if te.Unsupported != "" {
			ae.Code = codeUnsupported
			ae.Details["feature"] = te.Unsupported
		}
		return http.StatusUnprocessableEntity, ae
	case errors.As(err, &ee):
		return http.StatusBadGateway, &apiError{Code: codeExecute, Message: ee.Error()}
	}
	return http.StatusInternalServerError, &apiError{Code: codeInternal, Message: err.Error()}
}
