package queryir

import (
	"fmt"

	"go.uber.org/multierr"
)

// maxSubqueryDepth bounds validation of nested subquery sources.
const maxSubqueryDepth = 32

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	// Warnings are lossy or unusual constructs that still translate.
	Warnings []string

	// Err combines every hard problem (nil when the plan is well formed).
	// Use multierr.Errors to list them individually.
	Err error
}

// Valid reports whether no hard problems were found.
func (r ValidationResult) Valid() bool { return r.Err == nil }

// Problems returns each hard problem.
func (r ValidationResult) Problems() []error { return multierr.Errors(r.Err) }

// Validate checks a plan for structural problems.
//
// Hard problems: a nil plan, no source, negative durations or bounds,
// a zero-width interval window, percentile outside [0, 100], histogram
// quantile outside [0, 1], a non-positive top/bottom/sample count, and an
// absolute time range whose start is after its end.
//
// Warnings: Custom aggregations and transforms (lossy in most targets),
// unmapped hints, windows with no aggregation, and more than one window.
//
// Validate is a pure function with no side effects.
func Validate(p *QueryPlan) ValidationResult {
	v := &validator{}
	v.validatePlan(p, "", 0)
	return ValidationResult{Warnings: v.warnings, Err: v.err}
}

type validator struct {
	warnings []string
	err      error
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) addProblem(format string, args ...any) {
	v.err = multierr.Append(v.err, fmt.Errorf(format, args...))
}

func (v *validator) validatePlan(p *QueryPlan, prefix string, depth int) {
	if p == nil {
		v.addProblem("%snil plan", prefix)
		return
	}
	if depth > maxSubqueryDepth {
		v.addProblem("%ssubquery nesting exceeds %d", prefix, maxSubqueryDepth)
		return
	}
	if len(p.Sources) == 0 {
		v.addProblem("%splan has no source", prefix)
	}
	for i, s := range p.Sources {
		if s.Kind == SourceSubquery {
			if s.Subquery == nil {
				v.addProblem("%ssource %d: subquery source without a plan", prefix, i)
				continue
			}
			v.validatePlan(s.Subquery, fmt.Sprintf("%ssubquery %d: ", prefix, i), depth+1)
			continue
		}
		if s.Name == "" {
			v.addProblem("%ssource %d: empty name", prefix, i)
		}
	}

	v.validateTimeRange(p.TimeRange, prefix)
	for _, f := range p.Filters {
		v.validateCondition(f.Condition, prefix)
	}
	for _, a := range p.Aggregations {
		v.validateAggregation(a, prefix)
	}
	for _, w := range p.Windows {
		v.validateWindow(w, prefix)
	}
	if len(p.Windows) > 1 {
		v.addWarning("%s%d windows; most targets render only the first", prefix, len(p.Windows))
	}
	if len(p.Windows) > 0 && len(p.Aggregations) == 0 {
		v.addWarning("%swindow without aggregation", prefix)
	}
	for _, g := range p.GroupBy {
		if tb, ok := g.Expr.(TimeBucket); ok && tb.IntervalMs <= 0 {
			v.addProblem("%stime bucket interval must be positive, got %dms", prefix, tb.IntervalMs)
		}
		if e, ok := g.Expr.(GroupExpression); ok {
			v.addWarning("%sopaque group expression %q", prefix, e.Text)
		}
	}
	for _, t := range p.Transformations {
		v.validateTransform(t, prefix)
	}
	if p.Limit != nil && *p.Limit < 0 {
		v.addProblem("%snegative limit %d", prefix, *p.Limit)
	}
	if p.Offset != nil && *p.Offset < 0 {
		v.addProblem("%snegative offset %d", prefix, *p.Offset)
	}
	if p.Hints.StepMs != nil && *p.Hints.StepMs <= 0 {
		v.addProblem("%sstep must be positive, got %dms", prefix, *p.Hints.StepMs)
	}
	if len(p.Hints.Custom) > 0 {
		v.addWarning("%s%d unmapped feature(s) kept in hints", prefix, len(p.Hints.Custom))
	}
}

func (v *validator) validateTimeRange(tr TimeRange, prefix string) {
	switch r := tr.(type) {
	case nil:
	case Absolute:
		if r.StartMs > r.EndMs {
			v.addProblem("%stime range start %d is after end %d", prefix, r.StartMs, r.EndMs)
		}
	case Relative:
		if r.DurationMs < 0 {
			v.addProblem("%snegative relative duration %dms", prefix, r.DurationMs)
		}
	case Since, Until:
	default:
		v.addWarning("%sunknown time range type %T", prefix, tr)
	}
}

func (v *validator) validateCondition(c Condition, prefix string) {
	switch cond := c.(type) {
	case nil:
		v.addWarning("%snil filter condition", prefix)
	case Comparison:
		if cond.Column == "" {
			v.addProblem("%scomparison without a column", prefix)
		}
	case Regex:
		if cond.Column == "" {
			v.addProblem("%sregex match without a column", prefix)
		}
	case In:
		if len(cond.Values) == 0 {
			v.addWarning("%sempty IN list on %s", prefix, cond.Column)
		}
	case Between, IsNull:
	case And:
		for _, sub := range cond.Conditions {
			v.validateCondition(sub, prefix)
		}
	case Or:
		for _, sub := range cond.Conditions {
			v.validateCondition(sub, prefix)
		}
	case Not:
		v.validateCondition(cond.Condition, prefix)
	default:
		v.addWarning("%sunknown condition type %T", prefix, c)
	}
}

func (v *validator) validateAggregation(a Aggregation, prefix string) {
	f := a.Function
	switch f.Kind {
	case AggPercentile, AggApercentile:
		if f.Param < 0 || f.Param > 100 {
			v.addProblem("%s%s: percentile %s outside [0, 100]", prefix, f.Kind, FormatFloat(f.Param))
		}
	case AggHistogramQuantile:
		if f.Param < 0 || f.Param > 1 {
			v.addProblem("%shistogram_quantile: quantile %s outside [0, 1]", prefix, FormatFloat(f.Param))
		}
	case AggTopK, AggBottomK, AggSample:
		if f.N <= 0 {
			v.addProblem("%s%s: count must be positive, got %d", prefix, f.Kind, f.N)
		}
	case AggCustom:
		v.addWarning("%scustom aggregate %q has no canonical mapping", prefix, f.Name)
	}
}

func (v *validator) validateWindow(w Window, prefix string) {
	switch k := w.Kind.(type) {
	case IntervalWindow:
		if k.DurationMs <= 0 {
			v.addProblem("%sinterval window must be positive, got %dms", prefix, k.DurationMs)
		}
		if k.SlidingMs != nil && *k.SlidingMs <= 0 {
			v.addProblem("%ssliding step must be positive, got %dms", prefix, *k.SlidingMs)
		}
		if k.OffsetMs < 0 {
			v.addProblem("%snegative window offset %dms", prefix, k.OffsetMs)
		}
	case RangeWindow:
		if k.DurationMs <= 0 {
			v.addProblem("%srange window must be positive, got %dms", prefix, k.DurationMs)
		}
	case SessionWindow:
		if k.GapMs <= 0 {
			v.addProblem("%ssession gap must be positive, got %dms", prefix, k.GapMs)
		}
	case StateWindow:
		if k.Column == "" {
			v.addProblem("%sstate window without a column", prefix)
		}
	case EventWindow:
		if k.Start == nil || k.End == nil {
			v.addProblem("%sevent window needs start and end conditions", prefix)
		}
	case CountWindow:
		if k.N <= 0 {
			v.addProblem("%scount window must be positive, got %d", prefix, k.N)
		}
	case SampleByWindow:
		if k.IntervalMs <= 0 {
			v.addProblem("%ssample-by interval must be positive, got %dms", prefix, k.IntervalMs)
		}
	case RowsWindow:
	case nil:
		v.addProblem("%swindow without a kind", prefix)
	default:
		v.addWarning("%sunknown window type %T", prefix, w.Kind)
	}
	if w.Fill != nil && w.Fill.Mode == FillValue && w.Fill.Value == nil {
		v.addProblem("%svalue fill without a value", prefix)
	}
}

func (v *validator) validateTransform(t Transformation, prefix string) {
	switch op := t.Op.(type) {
	case MovingAverage:
		if op.Points <= 0 {
			v.addProblem("%smoving_average points must be positive, got %d", prefix, op.Points)
		}
	case Derivative:
		if op.UnitMs < 0 {
			v.addProblem("%snegative derivative unit %dms", prefix, op.UnitMs)
		}
	case CustomTransform:
		v.addWarning("%scustom transform %q has no canonical mapping", prefix, op.Name)
	case nil:
		v.addProblem("%stransformation without an operator", prefix)
	}
}
