package jsonreq

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// OpenTSDB parses /api/query requests, either the JSON body
//
//	{"start": "1h-ago", "queries": [{"metric": "sys.cpu.user",
//	 "aggregator": "sum", "downsample": "5m-avg", "tags": {"host": "*"}}]}
//
// or the GET form start=1h-ago&m=sum:5m-avg:sys.cpu.user{host=*}.
type OpenTSDB struct{}

// NewOpenTSDB returns the OpenTSDB parser.
func NewOpenTSDB() *OpenTSDB { return &OpenTSDB{} }

// Dialect returns queryir.OpenTSDB.
func (*OpenTSDB) Dialect() queryir.Dialect { return queryir.OpenTSDB }

// Parse converts an OpenTSDB request to a plan. start and at least one
// query with a metric are required.
func (*OpenTSDB) Parse(text string) (plan *queryir.QueryPlan, err error) {
	const d = queryir.OpenTSDB
	defer func() {
		if r := recover(); r != nil {
			plan, err = nil, queryir.NewParseError(d, "internal parser failure: %v", r)
		}
	}()

	trimmed := strings.TrimSpace(text)
	if trimmed != "" && trimmed[0] != '{' && strings.Contains(trimmed, "m=") {
		return parseQueryString(text)
	}
	doc, err := document(d, text)
	if err != nil {
		return nil, err
	}

	req := &tsdbRequest{plan: queryir.NewPlan(d, text)}
	start := doc.Get("start")
	if start == nil {
		return nil, queryir.NewParseError(d, "start is required")
	}
	if err := req.setStart(start.String(), func() (queryir.Bound, bool) { return instant(start) }); err != nil {
		return nil, err
	}
	if end := doc.Get("end"); end != nil {
		if err := req.setEnd(end.String(), func() (queryir.Bound, bool) { return instant(end) }); err != nil {
			return nil, err
		}
	}

	queries := doc.GetArray("queries")
	if len(queries) == 0 {
		return nil, queryir.NewParseError(d, "at least one query is required")
	}
	for i, q := range queries {
		mq, err := jsonQuery(i, q)
		if err != nil {
			return nil, err
		}
		req.add(mq)
	}

	if ms, ok := boolean(doc.Get("msResolution")); ok && ms {
		req.plan.OutputFormat = &queryir.OutputFormat{TimestampFormat: "ms"}
	}
	for _, key := range []string{"timezone", "useCalendar", "showTSUIDs", "showSummary", "showQuery", "noAnnotations", "globalAnnotations", "delete"} {
		if s, ok := str(doc.Get(key)); ok {
			req.plan.Hints.SetCustom(key, s)
		}
	}
	return req.finish(), nil
}

// tsdbRequest accumulates the sub-queries of one request into a plan.
type tsdbRequest struct {
	plan   *queryir.QueryPlan
	bounds queryir.TimeBounds
	groups map[string]bool
}

func (r *tsdbRequest) setStart(raw string, parse func() (queryir.Bound, bool)) error {
	b, ok := parse()
	if !ok {
		return queryir.NewParseError(queryir.OpenTSDB, "invalid start time %s", raw)
	}
	r.bounds.SetLower(b)
	return nil
}

func (r *tsdbRequest) setEnd(raw string, parse func() (queryir.Bound, bool)) error {
	b, ok := parse()
	if !ok {
		return queryir.NewParseError(queryir.OpenTSDB, "invalid end time %s", raw)
	}
	r.bounds.SetUpper(b)
	return nil
}

func (r *tsdbRequest) finish() *queryir.QueryPlan {
	r.plan.TimeRange = r.bounds.Range()
	if n := len(r.plan.Sources); n > 1 {
		r.plan.Hints.SetCustom("queries", strconv.Itoa(n))
	}
	return r.plan
}

// metricQuery is one sub-query, from a JSON queries entry or an m= spec.
type metricQuery struct {
	metric     string
	aggregator string
	downsample string
	rate       bool
	counter    bool
	filters    []tagFilter
}

// tagFilter is an OpenTSDB 2.2 filter. Legacy tags are converted to
// literal_or and wildcard filters.
type tagFilter struct {
	kind    string
	tagk    string
	filter  string
	groupBy bool
}

func (r *tsdbRequest) add(q metricQuery) {
	p := r.plan
	p.AddSource(queryir.DataSource{Name: q.metric, Kind: queryir.SourceMetric})

	if q.downsample != "" {
		r.downsample(q.downsample)
	}
	if q.rate {
		p.AddAggregation(queryir.Aggregation{Function: queryir.Fn(queryir.AggRate)})
		if q.counter {
			p.Hints.SetCustom("rate_counter", "true")
		}
	}
	if fn, ok := tsdbAggregator(q.aggregator); ok {
		p.AddAggregation(queryir.Aggregation{Function: fn})
	}
	for _, f := range q.filters {
		if cond, ok := f.condition(); ok {
			p.AddFilter(cond)
		}
		if f.groupBy {
			if r.groups == nil {
				r.groups = map[string]bool{}
			}
			if !r.groups[f.tagk] {
				r.groups[f.tagk] = true
				p.AddGroupBy(queryir.GroupTag{Name: f.tagk})
			}
		}
	}
}

// downsample reads "<interval>-<fn>[-<fill>]". Only the first interval
// becomes a window; the full spec is kept as a hint.
func (r *tsdbRequest) downsample(spec string) {
	p := r.plan
	p.Hints.SetCustom("downsample", spec)
	parts := strings.SplitN(spec, "-", 3)
	if len(parts) < 2 || len(p.Windows) > 0 {
		return
	}
	interval := parts[0]
	if interval == "0all" {
		return
	}
	if strings.HasSuffix(interval, "c") {
		interval = strings.TrimSuffix(interval, "c")
		p.Hints.SetCustom("calendar", "true")
	}
	ms, err := timeexpr.ParseDuration(interval)
	if err != nil || ms <= 0 {
		return
	}
	w := queryir.Window{Kind: queryir.IntervalWindow{DurationMs: ms}}
	if len(parts) == 3 {
		switch parts[2] {
		case "none":
			w.Fill = queryir.NewFill(queryir.FillNone)
		case "nan", "null":
			w.Fill = queryir.NewFill(queryir.FillNull)
		case "zero":
			w.Fill = &queryir.Fill{Mode: queryir.FillValue, Value: queryir.IntValue(0)}
		}
	}
	p.AddWindow(w)
}

var tsdbAggregators = map[string]queryir.AggKind{
	"sum":    queryir.AggSum,
	"zimsum": queryir.AggSum,
	"avg":    queryir.AggAvg,
	"min":    queryir.AggMin,
	"mimmin": queryir.AggMin,
	"max":    queryir.AggMax,
	"mimmax": queryir.AggMax,
	"count":  queryir.AggCount,
	"first":  queryir.AggFirst,
	"last":   queryir.AggLast,
	"dev":    queryir.AggStddev,
	"median": queryir.AggMedian,
	"diff":   queryir.AggSpread,
}

var (
	percentileName  = regexp.MustCompile(`^p(\d{2,3})$`)
	estimatedName   = regexp.MustCompile(`^ep(\d{2,3})r\d$`)
	filterFunction  = regexp.MustCompile(`^(\w+)\((.*)\)$`)
	metricSpecSplit = regexp.MustCompile(`[{}]`)
)

// tsdbAggregator maps an aggregator name. "none" and empty map to nothing.
func tsdbAggregator(name string) (queryir.AggFunction, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "none":
		return queryir.AggFunction{}, false
	}
	if kind, ok := tsdbAggregators[name]; ok {
		return queryir.Fn(kind), true
	}
	if m := percentileName.FindStringSubmatch(name); m != nil {
		return queryir.Percentile(percentOf(m[1])), true
	}
	if m := estimatedName.FindStringSubmatch(name); m != nil {
		return queryir.Apercentile(percentOf(m[1])), true
	}
	return queryir.Custom(name), true
}

// percentOf reads OpenTSDB percentile digits: "99" is 99, "999" is 99.9.
func percentOf(digits string) float64 {
	n, _ := strconv.ParseFloat(digits, 64)
	for i := 2; i < len(digits); i++ {
		n /= 10
	}
	return n
}

func (f tagFilter) condition() (queryir.Condition, bool) {
	values := strings.Split(f.filter, "|")
	switch f.kind {
	case "literal_or", "not_literal_or":
		negated := f.kind == "not_literal_or"
		if len(values) == 1 {
			op := queryir.OpEq
			if negated {
				op = queryir.OpNotEq
			}
			return queryir.Comparison{Column: f.tagk, Op: op, Value: queryir.StringValue(values[0])}, true
		}
		list := make([]queryir.Value, len(values))
		for i, v := range values {
			list[i] = queryir.StringValue(v)
		}
		return queryir.In{Column: f.tagk, Values: list, Negated: negated}, true
	case "iliteral_or", "not_iliteral_or":
		quoted := make([]string, len(values))
		for i, v := range values {
			quoted[i] = regexp.QuoteMeta(v)
		}
		return queryir.Regex{
			Column:  f.tagk,
			Pattern: "(?i)^(?:" + strings.Join(quoted, "|") + ")$",
			Negated: f.kind == "not_iliteral_or",
		}, true
	case "wildcard", "iwildcard":
		if f.filter == "*" {
			return nil, false
		}
		pattern := wildcardPattern(f.filter)
		if f.kind == "iwildcard" {
			pattern = "(?i)" + pattern
		}
		return queryir.Regex{Column: f.tagk, Pattern: pattern}, true
	case "regexp":
		return queryir.Regex{Column: f.tagk, Pattern: f.filter}, true
	case "not_key":
		return queryir.IsNull{Column: f.tagk}, true
	}
	return nil, false
}

// wildcardPattern converts a glob with * to an anchored regular expression.
func wildcardPattern(glob string) string {
	parts := strings.Split(glob, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return "^" + strings.Join(parts, ".*") + "$"
}

// legacyTag converts a tags entry: "*" groups by the tag, "a|b" filters
// and groups, and a plain value filters.
func legacyTag(tagk, v string) tagFilter {
	switch {
	case v == "*":
		return tagFilter{kind: "wildcard", tagk: tagk, filter: v, groupBy: true}
	case strings.Contains(v, "|"):
		return tagFilter{kind: "literal_or", tagk: tagk, filter: v, groupBy: true}
	}
	return tagFilter{kind: "literal_or", tagk: tagk, filter: v}
}

func jsonQuery(i int, q *fastjson.Value) (metricQuery, error) {
	var mq metricQuery
	if q.Type() != fastjson.TypeObject {
		return mq, queryir.NewParseError(queryir.OpenTSDB, "queries[%d]: expected an object", i)
	}
	mq.metric, _ = str(q.Get("metric"))
	if mq.metric == "" {
		if ids := stringList(q.Get("tsuids")); len(ids) > 0 {
			mq.metric = strings.Join(ids, ",")
		}
	}
	if mq.metric == "" {
		return mq, queryir.NewParseError(queryir.OpenTSDB, "queries[%d]: metric is required", i)
	}
	mq.aggregator, _ = str(q.Get("aggregator"))
	mq.downsample, _ = str(q.Get("downsample"))
	mq.rate, _ = boolean(q.Get("rate"))
	mq.counter, _ = boolean(q.Get("rateOptions", "counter"))

	if tags := q.GetObject("tags"); tags != nil {
		tags.Visit(func(k []byte, v *fastjson.Value) {
			if s, ok := str(v); ok {
				mq.filters = append(mq.filters, legacyTag(string(k), s))
			}
		})
	}
	for j, f := range q.GetArray("filters") {
		kind, _ := str(f.Get("type"))
		tagk, _ := str(f.Get("tagk"))
		if kind == "" || tagk == "" {
			return mq, queryir.NewParseError(queryir.OpenTSDB, "queries[%d].filters[%d]: type and tagk are required", i, j)
		}
		filter, _ := str(f.Get("filter"))
		groupBy, _ := boolean(f.Get("groupBy"))
		mq.filters = append(mq.filters, tagFilter{kind: strings.ToLower(kind), tagk: tagk, filter: filter, groupBy: groupBy})
	}
	return mq, nil
}

// parseQueryString reads the GET form of /api/query.
func parseQueryString(text string) (*queryir.QueryPlan, error) {
	const d = queryir.OpenTSDB
	values, err := url.ParseQuery(strings.TrimPrefix(strings.TrimSpace(text), "?"))
	if err != nil {
		return nil, queryir.NewParseError(d, "invalid query string: %v", err)
	}
	req := &tsdbRequest{plan: queryir.NewPlan(d, text)}
	start := values.Get("start")
	if start == "" {
		return nil, queryir.NewParseError(d, "start is required")
	}
	if err := req.setStart(start, func() (queryir.Bound, bool) { return instantText(start) }); err != nil {
		return nil, err
	}
	if end := values.Get("end"); end != "" {
		if err := req.setEnd(end, func() (queryir.Bound, bool) { return instantText(end) }); err != nil {
			return nil, err
		}
	}
	specs := values["m"]
	if len(specs) == 0 {
		return nil, queryir.NewParseError(d, "at least one query is required")
	}
	for i, spec := range specs {
		mq, err := metricSpec(i, spec)
		if err != nil {
			return nil, err
		}
		req.add(mq)
	}
	if _, ok := values["ms"]; ok {
		req.plan.OutputFormat = &queryir.OutputFormat{TimestampFormat: "ms"}
	}
	if tz := values.Get("tz"); tz != "" {
		req.plan.Hints.SetCustom("timezone", tz)
	}
	return req.finish(), nil
}

// metricSpec reads aggregator:[downsample:][rate[{opts}]:]metric[{tags}][{filters}].
func metricSpec(i int, spec string) (metricQuery, error) {
	var mq metricQuery
	head, braces, _ := strings.Cut(spec, "{")
	if braces != "" {
		braces = "{" + braces
	}
	// rate{counter} carries braces before the metric; re-split on the last colon.
	if j := strings.LastIndex(spec, ":"); j > len(head) {
		head, braces = spec[:j+1], ""
		rest := spec[j+1:]
		if k := strings.Index(rest, "{"); k >= 0 {
			head += rest[:k]
			braces = rest[k:]
		} else {
			head += rest
		}
	}
	parts := strings.Split(head, ":")
	if len(parts) < 2 || parts[len(parts)-1] == "" {
		return mq, queryir.NewParseError(queryir.OpenTSDB, "m[%d]: expected aggregator:metric, found %q", i, spec)
	}
	mq.aggregator = parts[0]
	mq.metric = parts[len(parts)-1]
	for _, p := range parts[1 : len(parts)-1] {
		switch {
		case p == "rate":
			mq.rate = true
		case strings.HasPrefix(p, "rate{"):
			mq.rate = true
			mq.counter = strings.Contains(p, "counter")
		case strings.Contains(p, "-"):
			mq.downsample = p
		case p == "explicit_tags":
		default:
			return mq, queryir.NewParseError(queryir.OpenTSDB, "m[%d]: unknown modifier %q", i, p)
		}
	}

	groups := metricSpecSplit.Split(braces, -1)
	block := 0
	for _, g := range groups {
		if strings.TrimSpace(g) == "" {
			continue
		}
		block++
		for _, pair := range strings.Split(g, ",") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return mq, queryir.NewParseError(queryir.OpenTSDB, "m[%d]: expected tag=value, found %q", i, pair)
			}
			k, v = strings.TrimSpace(k), strings.TrimSpace(v)
			var f tagFilter
			if m := filterFunction.FindStringSubmatch(v); m != nil {
				f = tagFilter{kind: strings.ToLower(m[1]), tagk: k, filter: m[2], groupBy: block == 1}
			} else if block == 1 {
				f = legacyTag(k, v)
			} else {
				f = tagFilter{kind: "literal_or", tagk: k, filter: v}
			}
			mq.filters = append(mq.filters, f)
		}
	}
	return mq, nil
}
