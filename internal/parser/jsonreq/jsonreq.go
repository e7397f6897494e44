// Package jsonreq parses JSON query documents, OpenTSDB /api/query
// requests and Druid native queries, into query plans.
//
// Documents are read with github.com/valyala/fastjson. Extraction is best
// effort: fields with no plan representation are kept in hints, and only a
// missing required field or a malformed document is an error.
package jsonreq

import (
	"strconv"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// MaxDepth bounds filter nesting in Druid documents and nested
// query data sources.
const MaxDepth = 64

// document parses text as a JSON object.
func document(d queryir.Dialect, text string) (*fastjson.Value, error) {
	if strings.TrimSpace(text) == "" {
		return nil, queryir.NewParseError(d, "empty document")
	}
	var p fastjson.Parser
	v, err := p.Parse(text)
	if err != nil {
		return nil, queryir.NewParseError(d, "invalid JSON document: %v", err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, queryir.NewParseError(d, "expected a JSON object, found %s", v.Type())
	}
	return v, nil
}

// str returns v as a string. Numbers and booleans are rendered as text.
func str(v *fastjson.Value) (string, bool) {
	if v == nil {
		return "", false
	}
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes()), true
	case fastjson.TypeNumber:
		return v.String(), true
	case fastjson.TypeTrue:
		return "true", true
	case fastjson.TypeFalse:
		return "false", true
	}
	return "", false
}

// integer returns v as an int64, accepting numeric strings.
func integer(v *fastjson.Value) (int64, bool) {
	if v == nil {
		return 0, false
	}
	switch v.Type() {
	case fastjson.TypeNumber:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case fastjson.TypeString:
		n, err := strconv.ParseInt(strings.TrimSpace(string(v.GetStringBytes())), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func boolean(v *fastjson.Value) (bool, bool) {
	if v == nil {
		return false, false
	}
	switch v.Type() {
	case fastjson.TypeTrue:
		return true, true
	case fastjson.TypeFalse:
		return false, true
	case fastjson.TypeString:
		b, err := strconv.ParseBool(string(v.GetStringBytes()))
		return b, err == nil
	}
	return false, false
}

// value converts a JSON scalar to a plan value.
func value(v *fastjson.Value) (queryir.Value, bool) {
	if v == nil {
		return nil, false
	}
	switch v.Type() {
	case fastjson.TypeNull:
		return queryir.NullValue{}, true
	case fastjson.TypeString:
		return queryir.StringValue(v.GetStringBytes()), true
	case fastjson.TypeNumber:
		return queryir.ParseNumber(v.String())
	case fastjson.TypeTrue:
		return queryir.BoolValue(true), true
	case fastjson.TypeFalse:
		return queryir.BoolValue(false), true
	}
	return nil, false
}

// stringList returns v as a list of strings. A single string is a list of one.
func stringList(v *fastjson.Value) []string {
	if v == nil {
		return nil
	}
	if s, ok := str(v); ok {
		return []string{s}
	}
	items, err := v.Array()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := str(item); ok {
			out = append(out, s)
		}
	}
	return out
}

// instant parses an absolute or relative time: epoch seconds or
// milliseconds, "1h-ago", "now" or a date.
func instant(v *fastjson.Value) (queryir.Bound, bool) {
	if n, ok := integer(v); ok && v.Type() == fastjson.TypeNumber {
		return queryir.Bound{Ms: timeexpr.EpochToMs(n)}, true
	}
	s, ok := str(v)
	if !ok {
		return queryir.Bound{}, false
	}
	return instantText(s)
}

func instantText(s string) (queryir.Bound, bool) {
	s = strings.TrimSpace(s)
	if timeexpr.IsNow(s) {
		return queryir.Now, true
	}
	if d, ok := timeexpr.ParseRelative(s); ok {
		return queryir.Bound{Ms: -d, Relative: true}, true
	}
	// OpenTSDB writes 2024/01/02-15:04:05.
	if len(s) > 11 && s[4] == '/' && s[10] == '-' {
		s = s[:10] + " " + s[11:]
	}
	ms, err := timeexpr.ParseTime(s)
	if err != nil {
		return queryir.Bound{}, false
	}
	return queryir.Bound{Ms: ms}, true
}
