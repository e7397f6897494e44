package queryir

import (
	"encoding/hex"

	jsoniter "github.com/json-iterator/go"
)

var snapshotJSON = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// MarshalPlan renders Describe(p) as indented JSON with sorted keys.
// Equal plans always produce identical bytes.
func MarshalPlan(p *QueryPlan) ([]byte, error) {
	return snapshotJSON.MarshalIndent(Describe(p), "", "  ")
}

// Describe returns a tagged, JSON-friendly view of the plan. Every union
// member becomes an object with a "type" key. Empty fields are omitted.
func Describe(p *QueryPlan) map[string]any {
	if p == nil {
		return nil
	}
	out := map[string]any{}
	if p.SourceDialect != "" {
		out["source_dialect"] = string(p.SourceDialect)
	}
	if p.Database != "" {
		out["database"] = p.Database
	}
	if len(p.Sources) > 0 {
		srcs := make([]any, len(p.Sources))
		for i, s := range p.Sources {
			srcs[i] = describeSource(s)
		}
		out["sources"] = srcs
	}
	if len(p.Columns) > 0 {
		out["columns"] = append([]string(nil), p.Columns...)
	}
	if p.TimeRange != nil {
		out["time_range"] = describeTimeRange(p.TimeRange)
	}
	if len(p.Filters) > 0 {
		fs := make([]any, len(p.Filters))
		for i, f := range p.Filters {
			fs[i] = DescribeCondition(f.Condition)
		}
		out["filters"] = fs
	}
	if len(p.Aggregations) > 0 {
		as := make([]any, len(p.Aggregations))
		for i, a := range p.Aggregations {
			as[i] = describeAggregation(a)
		}
		out["aggregations"] = as
	}
	if len(p.Windows) > 0 {
		ws := make([]any, len(p.Windows))
		for i, w := range p.Windows {
			ws[i] = describeWindow(w)
		}
		out["windows"] = ws
	}
	if len(p.GroupBy) > 0 {
		gs := make([]any, len(p.GroupBy))
		for i, g := range p.GroupBy {
			gs[i] = describeGroup(g.Expr)
		}
		out["group_by"] = gs
	}
	if len(p.Transformations) > 0 {
		ts := make([]any, len(p.Transformations))
		for i, t := range p.Transformations {
			ts[i] = describeTransform(t)
		}
		out["transformations"] = ts
	}
	if len(p.OrderBy) > 0 {
		os := make([]any, len(p.OrderBy))
		for i, o := range p.OrderBy {
			m := map[string]any{"column": o.Column, "ascending": o.Ascending}
			if o.NullsFirst != nil {
				m["nulls_first"] = *o.NullsFirst
			}
			os[i] = m
		}
		out["order_by"] = os
	}
	if p.Limit != nil {
		out["limit"] = *p.Limit
	}
	if p.Offset != nil {
		out["offset"] = *p.Offset
	}
	if p.OutputFormat != nil {
		out["output_format"] = describeOutput(*p.OutputFormat)
	}
	if h := describeHints(p.Hints); len(h) > 0 {
		out["hints"] = h
	}
	return out
}

func describeSource(s DataSource) map[string]any {
	m := map[string]any{"kind": s.Kind.String()}
	if s.Name != "" {
		m["name"] = s.Name
	}
	if s.Database != "" {
		m["database"] = s.Database
	}
	if s.RetentionPolicy != "" {
		m["retention_policy"] = s.RetentionPolicy
	}
	if s.Alias != "" {
		m["alias"] = s.Alias
	}
	if s.Subquery != nil {
		m["subquery"] = Describe(s.Subquery)
	}
	return m
}

func describeTimeRange(tr TimeRange) map[string]any {
	switch r := tr.(type) {
	case Absolute:
		return map[string]any{"type": "absolute", "start_ms": r.StartMs, "end_ms": r.EndMs}
	case Relative:
		m := map[string]any{"type": "relative", "duration_ms": r.DurationMs}
		if r.AnchorMs != nil {
			m["anchor_ms"] = *r.AnchorMs
		}
		return m
	case Since:
		return map[string]any{"type": "since", "start_ms": r.StartMs}
	case Until:
		return map[string]any{"type": "until", "end_ms": r.EndMs}
	default:
		return map[string]any{"type": "unknown"}
	}
}

// DescribeCondition returns the tagged view of one condition.
func DescribeCondition(c Condition) map[string]any {
	switch cond := c.(type) {
	case Comparison:
		return map[string]any{"type": "comparison", "column": cond.Column, "op": cond.Op.String(), "value": DescribeValue(cond.Value)}
	case Regex:
		return map[string]any{"type": "regex", "column": cond.Column, "pattern": cond.Pattern, "negated": cond.Negated}
	case In:
		vals := make([]any, len(cond.Values))
		for i, v := range cond.Values {
			vals[i] = DescribeValue(v)
		}
		return map[string]any{"type": "in", "column": cond.Column, "values": vals, "negated": cond.Negated}
	case Between:
		return map[string]any{"type": "between", "column": cond.Column, "low": DescribeValue(cond.Low), "high": DescribeValue(cond.High), "negated": cond.Negated}
	case IsNull:
		return map[string]any{"type": "is_null", "column": cond.Column, "negated": cond.Negated}
	case And:
		return map[string]any{"type": "and", "conditions": describeConditions(cond.Conditions)}
	case Or:
		return map[string]any{"type": "or", "conditions": describeConditions(cond.Conditions)}
	case Not:
		return map[string]any{"type": "not", "condition": DescribeCondition(cond.Condition)}
	default:
		return map[string]any{"type": "unknown"}
	}
}

func describeConditions(cs []Condition) []any {
	out := make([]any, len(cs))
	for i, c := range cs {
		out[i] = DescribeCondition(c)
	}
	return out
}

// DescribeValue returns a JSON-friendly form of v.
func DescribeValue(v Value) any {
	switch val := v.(type) {
	case nil, NullValue:
		return nil
	case BoolValue:
		return bool(val)
	case IntValue:
		return int64(val)
	case UIntValue:
		return uint64(val)
	case FloatValue:
		return float64(val)
	case StringValue:
		return string(val)
	case TimestampValue:
		return map[string]any{"timestamp_ms": int64(val)}
	case DurationValue:
		return map[string]any{"duration_ms": int64(val)}
	case BytesValue:
		return "0x" + hex.EncodeToString(val)
	case ListValue:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = DescribeValue(e)
		}
		return out
	default:
		return v.String()
	}
}

func describeAggregation(a Aggregation) map[string]any {
	m := map[string]any{"function": a.Function.String()}
	if a.Column != "" {
		m["column"] = a.Column
	}
	if len(a.Args) > 0 {
		args := make([]any, len(a.Args))
		for i, v := range a.Args {
			args[i] = DescribeValue(v)
		}
		m["args"] = args
	}
	if a.Alias != "" {
		m["alias"] = a.Alias
	}
	if a.Distinct {
		m["distinct"] = true
	}
	return m
}

func describeWindow(w Window) map[string]any {
	m := map[string]any{}
	switch k := w.Kind.(type) {
	case IntervalWindow:
		m["type"] = "interval"
		m["duration_ms"] = k.DurationMs
		if k.OffsetMs != 0 {
			m["offset_ms"] = k.OffsetMs
		}
		if k.SlidingMs != nil {
			m["sliding_ms"] = *k.SlidingMs
		}
	case RangeWindow:
		m["type"] = "range"
		m["duration_ms"] = k.DurationMs
	case SessionWindow:
		m["type"] = "session"
		m["gap_ms"] = k.GapMs
		if k.Column != "" {
			m["column"] = k.Column
		}
	case StateWindow:
		m["type"] = "state"
		m["column"] = k.Column
	case EventWindow:
		m["type"] = "event"
		m["start"] = DescribeCondition(k.Start)
		m["end"] = DescribeCondition(k.End)
	case CountWindow:
		m["type"] = "count"
		m["n"] = k.N
		if k.Sliding != nil {
			m["sliding"] = *k.Sliding
		}
	case SampleByWindow:
		m["type"] = "sample_by"
		m["interval_ms"] = k.IntervalMs
		if k.Align != "" {
			m["align"] = k.Align
		}
	case RowsWindow:
		m["type"] = "rows"
		if k.Preceding != nil {
			m["preceding"] = *k.Preceding
		}
		if k.Following != nil {
			m["following"] = *k.Following
		}
	default:
		m["type"] = "unknown"
	}
	if w.Fill != nil {
		f := map[string]any{"mode": w.Fill.Mode.String()}
		if w.Fill.Value != nil {
			f["value"] = DescribeValue(w.Fill.Value)
		}
		m["fill"] = f
	}
	return m
}

func describeGroup(g GroupExpr) map[string]any {
	switch e := g.(type) {
	case GroupColumn:
		return map[string]any{"type": "column", "name": e.Name}
	case TimeBucket:
		m := map[string]any{"type": "time_bucket", "interval_ms": e.IntervalMs}
		if e.Column != "" {
			m["column"] = e.Column
		}
		return m
	case GroupTag:
		return map[string]any{"type": "tag", "name": e.Name}
	case AllTags:
		return map[string]any{"type": "all_tags"}
	case GroupExpression:
		return map[string]any{"type": "expression", "text": e.Text}
	default:
		return map[string]any{"type": "unknown"}
	}
}

func describeTransform(t Transformation) map[string]any {
	m := map[string]any{"op": TransformName(t.Op)}
	switch op := t.Op.(type) {
	case Math:
		if op.Arg != nil {
			m["arg"] = *op.Arg
		}
	case Derivative:
		if op.UnitMs != 0 {
			m["unit_ms"] = op.UnitMs
		}
	case MovingAverage:
		m["points"] = op.Points
	case Elapsed:
		if op.UnitMs != 0 {
			m["unit_ms"] = op.UnitMs
		}
	case LabelReplace:
		m["dst"] = op.Dst
		m["replacement"] = op.Replacement
		m["src"] = op.Src
		m["regex"] = op.Regex
	case LabelJoin:
		m["dst"] = op.Dst
		m["separator"] = op.Separator
		m["src"] = append([]string(nil), op.Src...)
	case Cast:
		m["to"] = string(op.Type)
	case CustomTransform:
		if len(op.Args) > 0 {
			args := make([]any, len(op.Args))
			for i, v := range op.Args {
				args[i] = DescribeValue(v)
			}
			m["args"] = args
		}
	}
	if t.Column != "" {
		m["column"] = t.Column
	}
	if t.Alias != "" {
		m["alias"] = t.Alias
	}
	return m
}

func describeOutput(o OutputFormat) map[string]any {
	m := map[string]any{}
	if o.TimestampFormat != "" {
		m["timestamp_format"] = o.TimestampFormat
	}
	if o.IncludeMeta {
		m["include_meta"] = true
	}
	if o.ResultType != "" {
		m["result_type"] = o.ResultType
	}
	if len(o.Options) > 0 {
		m["options"] = o.Options
	}
	return m
}

func describeHints(h QueryHints) map[string]any {
	m := map[string]any{}
	if h.StepMs != nil {
		m["step_ms"] = *h.StepMs
	}
	if h.TimeoutMs != nil {
		m["timeout_ms"] = *h.TimeoutMs
	}
	if h.LookbackDeltaMs != nil {
		m["lookback_delta_ms"] = *h.LookbackDeltaMs
	}
	if h.Parallel != nil {
		m["parallel"] = *h.Parallel
	}
	if h.ForceIndex != "" {
		m["force_index"] = h.ForceIndex
	}
	if h.MemoryLimitBytes != nil {
		m["memory_limit_bytes"] = *h.MemoryLimitBytes
	}
	if h.UseCache != nil {
		m["use_cache"] = *h.UseCache
	}
	if len(h.Custom) > 0 {
		m["custom"] = h.Custom
	}
	return m
}
