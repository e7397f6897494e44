package translate

import (
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// OpenTSDB renders plans as /api/query JSON documents, one sub-query per
// source.
type OpenTSDB struct {
	// DefaultStart is used when the plan has no lower time bound.
	DefaultStart string
}

// NewOpenTSDB returns the OpenTSDB translator.
func NewOpenTSDB() *OpenTSDB { return &OpenTSDB{DefaultStart: "1h-ago"} }

// Target implements Translator.
func (*OpenTSDB) Target() queryir.Dialect { return queryir.OpenTSDB }

var tsdbJSON = jsoniter.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
}.Froze()

type tsdbDocument struct {
	Start        any         `json:"start"`
	End          any         `json:"end,omitempty"`
	Queries      []tsdbQuery `json:"queries"`
	MsResolution bool        `json:"msResolution,omitempty"`
	Timezone     string      `json:"timezone,omitempty"`
}

type tsdbQuery struct {
	Metric      string           `json:"metric"`
	Aggregator  string           `json:"aggregator"`
	Downsample  string           `json:"downsample,omitempty"`
	Rate        bool             `json:"rate,omitempty"`
	RateOptions *tsdbRateOptions `json:"rateOptions,omitempty"`
	Filters     []tsdbFilter     `json:"filters,omitempty"`
}

type tsdbRateOptions struct {
	Counter bool `json:"counter"`
}

type tsdbFilter struct {
	Type    string `json:"type"`
	Tagk    string `json:"tagk"`
	Filter  string `json:"filter"`
	GroupBy bool   `json:"groupBy"`
}

var tsdbAggregatorNames = map[queryir.AggKind]string{
	queryir.AggSum:      "sum",
	queryir.AggAvg:      "avg",
	queryir.AggMin:      "min",
	queryir.AggMax:      "max",
	queryir.AggCount:    "count",
	queryir.AggFirst:    "first",
	queryir.AggFirstRow: "first",
	queryir.AggLast:     "last",
	queryir.AggLastRow:  "last",
	queryir.AggStddev:   "dev",
	queryir.AggMedian:   "median",
	queryir.AggSpread:   "diff",
}

// tsdbAggregator names fn as an OpenTSDB aggregator: p99 and p999 for
// percentiles, ep99r3 for estimated ones.
func tsdbAggregator(fn queryir.AggFunction) (string, bool) {
	if name, ok := tsdbAggregatorNames[fn.Kind]; ok {
		return name, true
	}
	digits := strings.ReplaceAll(queryir.FormatFloat(fn.Param), ".", "")
	switch fn.Kind {
	case queryir.AggPercentile:
		return "p" + digits, len(digits) >= 2 && len(digits) <= 3
	case queryir.AggApercentile:
		return "ep" + digits + "r3", len(digits) >= 2 && len(digits) <= 3
	case queryir.AggCustom:
		return fn.Name, isIdent(fn.Name)
	}
	return "", false
}

// Translate implements Translator.
func (t *OpenTSDB) Translate(plan *queryir.QueryPlan) (string, error) {
	if _, err := primarySource(queryir.OpenTSDB, plan); err != nil {
		return "", err
	}
	doc := tsdbDocument{Start: t.DefaultStart}
	s := timeSpan(plan)
	if s.lower != nil {
		doc.Start = tsdbTime(*s.lower)
	}
	if s.upper != nil && !(s.upper.Relative && s.upper.Ms == 0) {
		doc.End = tsdbTime(*s.upper)
	}
	if plan.OutputFormat != nil && plan.OutputFormat.TimestampFormat == "ms" {
		doc.MsResolution = true
	}
	doc.Timezone, _ = plan.Hints.CustomValue("timezone")

	q := tsdbQuery{Aggregator: "none"}
	counter := false
	for _, a := range plan.Aggregations {
		switch a.Function.Kind {
		case queryir.AggRate, queryir.AggIrate:
			q.Rate = true
			continue
		}
		if q.Aggregator != "none" {
			continue
		}
		if name, ok := tsdbAggregator(a.Function); ok {
			q.Aggregator = name
		}
	}
	for _, tr := range plan.Transformations {
		if d, ok := tr.Op.(queryir.Derivative); ok {
			q.Rate = true
			counter = counter || d.NonNegative
		}
	}
	if v, _ := plan.Hints.CustomValue("rate_counter"); v == "true" {
		counter = true
	}
	if q.Rate && counter {
		q.RateOptions = &tsdbRateOptions{Counter: true}
	}
	if b, ok := bucketOf(plan); ok {
		q.Downsample = tsdbDownsample(plan, b, q.Aggregator)
	}
	q.Filters = tsdbFilters(plan)

	for _, src := range plan.Sources {
		if src.Kind == queryir.SourceSubquery || src.Name == "" {
			continue
		}
		sub := q
		sub.Metric = src.Name
		doc.Queries = append(doc.Queries, sub)
	}
	if len(doc.Queries) == 0 {
		return "", queryir.Unsupported(queryir.OpenTSDB, "subquery", "OpenTSDB queries name metrics directly")
	}
	out, err := tsdbJSON.MarshalToString(doc)
	if err != nil {
		return "", &queryir.TranslateError{Target: queryir.OpenTSDB, Message: "encoding request", Err: err}
	}
	return out, nil
}

// tsdbTime renders a bound as "<d>-ago" or epoch milliseconds.
func tsdbTime(b queryir.Bound) any {
	switch {
	case !b.Relative:
		return b.Ms
	case b.Ms == 0:
		return "now"
	case b.Ms < 0:
		return timeexpr.FormatShort(-b.Ms, "ms") + "-ago"
	}
	return "now"
}

func tsdbDownsample(plan *queryir.QueryPlan, b bucket, aggregator string) string {
	fn := aggregator
	if fn == "none" {
		fn = "avg"
	}
	interval := timeexpr.FormatShort(b.ms, "ms")
	if v, _ := plan.Hints.CustomValue("calendar"); v == "true" {
		interval += "c"
	}
	out := interval + "-" + fn
	if b.fill != nil {
		switch b.fill.Mode {
		case queryir.FillNone:
			out += "-none"
		case queryir.FillNull:
			out += "-null"
		case queryir.FillValue:
			if n, ok := queryir.NumberOf(b.fill.Value); ok && n == 0 {
				out += "-zero"
			}
		}
	}
	return out
}

// tsdbFilters renders filter conditions as OpenTSDB filters and marks the
// grouping tags, adding a wildcard filter for tags that are only grouped.
func tsdbFilters(plan *queryir.QueryPlan) []tsdbFilter {
	var out []tsdbFilter
	for _, f := range plan.Filters {
		out = append(out, tsdbConditionFilters(f.Condition)...)
	}
	for _, tag := range plan.Tags() {
		found := false
		for i := range out {
			if out[i].Tagk == tag {
				out[i].GroupBy = true
				found = true
			}
		}
		if !found {
			out = append(out, tsdbFilter{Type: "wildcard", Tagk: tag, Filter: "*", GroupBy: true})
		}
	}
	return out
}

func tsdbConditionFilters(c queryir.Condition) []tsdbFilter {
	filter := func(typ, tagk, f string) []tsdbFilter {
		return []tsdbFilter{{Type: typ, Tagk: tagk, Filter: f}}
	}
	switch v := c.(type) {
	case queryir.And:
		var out []tsdbFilter
		for _, sub := range v.Conditions {
			out = append(out, tsdbConditionFilters(sub)...)
		}
		return out
	case queryir.Or:
		if col, _, ok := equalityAlternation(v); ok {
			vals := make([]string, len(v.Conditions))
			for i, sub := range v.Conditions {
				vals[i] = plainString(sub.(queryir.Comparison).Value)
			}
			return filter("literal_or", col, strings.Join(vals, "|"))
		}
	case queryir.Not:
		if n := negate(v.Condition); !isNot(n) {
			return tsdbConditionFilters(n)
		}
	case queryir.Comparison:
		if isTimeColumn(v.Column) {
			return nil
		}
		val := plainString(v.Value)
		switch v.Op {
		case queryir.OpEq:
			return filter("literal_or", v.Column, val)
		case queryir.OpNotEq:
			return filter("not_literal_or", v.Column, val)
		case queryir.OpLike:
			return filter("regexp", v.Column, likeToRegex(val))
		}
	case queryir.Regex:
		if !v.Negated {
			return filter("regexp", v.Column, v.Pattern)
		}
	case queryir.In:
		vals := make([]string, len(v.Values))
		for i, val := range v.Values {
			vals[i] = plainString(val)
		}
		if v.Negated {
			return filter("not_literal_or", v.Column, strings.Join(vals, "|"))
		}
		return filter("literal_or", v.Column, strings.Join(vals, "|"))
	case queryir.IsNull:
		if !v.Negated {
			return filter("not_key", v.Column, "")
		}
	}
	return nil
}
