package queryir

import (
	"fmt"
	"strings"
)

// SourceKind classifies what a DataSource names.
type SourceKind int

const (
	SourceTable SourceKind = iota
	SourceMetric
	SourceMeasurement
	SourceSuperTable
	SourceSubTable
	SourceStream
	SourceSubquery
)

var sourceKindNames = [...]string{
	SourceTable:       "table",
	SourceMetric:      "metric",
	SourceMeasurement: "measurement",
	SourceSuperTable:  "super_table",
	SourceSubTable:    "sub_table",
	SourceStream:      "stream",
	SourceSubquery:    "subquery",
}

func (k SourceKind) String() string {
	if int(k) >= 0 && int(k) < len(sourceKindNames) {
		return sourceKindNames[k]
	}
	return fmt.Sprintf("SourceKind(%d)", int(k))
}

// DataSource is one FROM-equivalent. Subquery is set only when
// Kind == SourceSubquery.
type DataSource struct {
	Name            string
	Database        string
	RetentionPolicy string
	Alias           string
	Kind            SourceKind
	Subquery        *QueryPlan
}

// OrderBy is one sort key.
type OrderBy struct {
	Column     string
	Ascending  bool
	NullsFirst *bool
}

// OutputFormat carries result-shaping requests (FORMAT JSON, resultType).
type OutputFormat struct {
	TimestampFormat string
	IncludeMeta     bool
	ResultType      string
	Options         map[string]string
}

// QueryHints holds execution hints plus Custom, the escape hatch for
// dialect features with no structural representation. Custom values may
// hold dialect-native text; no other plan field does.
type QueryHints struct {
	StepMs           *int64
	TimeoutMs        *int64
	LookbackDeltaMs  *int64
	Parallel         *int
	ForceIndex       string
	MemoryLimitBytes *int64
	UseCache         *bool
	Custom           map[string]string
}

// SetCustom records an unmapped feature. Repeated keys are joined with
// "; " so nothing recorded earlier is lost; a value already present is
// not repeated.
func (h *QueryHints) SetCustom(key, value string) {
	if h.Custom == nil {
		h.Custom = make(map[string]string)
	}
	prev, ok := h.Custom[key]
	if !ok {
		h.Custom[key] = value
		return
	}
	for _, v := range strings.Split(prev, "; ") {
		if v == value {
			return
		}
	}
	h.Custom[key] = prev + "; " + value
}

// CustomValue returns a Custom hint.
func (h QueryHints) CustomValue(key string) (string, bool) {
	v, ok := h.Custom[key]
	return v, ok
}

// QueryPlan is the dialect-agnostic representation of one query.
//
// A plan is built by exactly one parser call and must not be mutated
// after it is returned. All durations are milliseconds.
type QueryPlan struct {
	Sources         []DataSource
	TimeRange       TimeRange
	Filters         []Filter
	Aggregations    []Aggregation
	Windows         []Window
	GroupBy         []GroupBy
	Transformations []Transformation
	OrderBy         []OrderBy
	Limit           *int64
	Offset          *int64
	OutputFormat    *OutputFormat
	Hints           QueryHints
	Database        string
	OriginalQuery   string
	SourceDialect   Dialect
	Columns         []string
}

// NewPlan returns an empty plan tagged with its source dialect and text.
func NewPlan(d Dialect, text string) *QueryPlan {
	return &QueryPlan{SourceDialect: d, OriginalQuery: text}
}

// AddSource appends a source.
func (p *QueryPlan) AddSource(s DataSource) { p.Sources = append(p.Sources, s) }

// AddFilter appends a condition as a top-level conjunct. A top-level And is
// flattened into separate filters.
func (p *QueryPlan) AddFilter(c Condition) {
	if c == nil {
		return
	}
	if and, ok := c.(And); ok {
		for _, sub := range and.Conditions {
			p.AddFilter(sub)
		}
		return
	}
	p.Filters = append(p.Filters, Filter{Condition: c})
}

// AddAggregation appends an aggregation; callers add inner functions first.
func (p *QueryPlan) AddAggregation(a Aggregation) { p.Aggregations = append(p.Aggregations, a) }

// AddWindow appends a window.
func (p *QueryPlan) AddWindow(w Window) { p.Windows = append(p.Windows, w) }

// AddGroupBy appends a grouping key.
func (p *QueryPlan) AddGroupBy(g GroupExpr) { p.GroupBy = append(p.GroupBy, GroupBy{Expr: g}) }

// AddTransformation appends a transformation; callers add inner functions first.
func (p *QueryPlan) AddTransformation(t Transformation) {
	p.Transformations = append(p.Transformations, t)
}

// AddOrderBy appends a sort key.
func (p *QueryPlan) AddOrderBy(column string, ascending bool) {
	p.OrderBy = append(p.OrderBy, OrderBy{Column: column, Ascending: ascending})
}

// AddColumn appends a projected column once.
func (p *QueryPlan) AddColumn(name string) {
	for _, c := range p.Columns {
		if c == name {
			return
		}
	}
	p.Columns = append(p.Columns, name)
}

// SetLimit sets the row/series bound.
func (p *QueryPlan) SetLimit(n int64) { p.Limit = Int64Ptr(n) }

// SetOffset sets the number of leading results to skip.
func (p *QueryPlan) SetOffset(n int64) { p.Offset = Int64Ptr(n) }

// PrimarySource returns the first source.
func (p *QueryPlan) PrimarySource() (DataSource, bool) {
	if p == nil || len(p.Sources) == 0 {
		return DataSource{}, false
	}
	return p.Sources[0], true
}

// FirstWindow returns the first window.
func (p *QueryPlan) FirstWindow() (Window, bool) {
	if p == nil || len(p.Windows) == 0 {
		return Window{}, false
	}
	return p.Windows[0], true
}

// Tags returns the names of tag and column groupings in order.
func (p *QueryPlan) Tags() []string {
	var out []string
	for _, g := range p.GroupBy {
		if name, ok := GroupName(g.Expr); ok {
			out = append(out, name)
		}
	}
	return out
}

// HasAllTags reports whether the plan groups by every tag.
func (p *QueryPlan) HasAllTags() bool {
	for _, g := range p.GroupBy {
		if _, ok := g.Expr.(AllTags); ok {
			return true
		}
	}
	return false
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }
