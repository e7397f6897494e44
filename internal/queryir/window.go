package queryir

import "fmt"

// TimeRange bounds the queried interval.
//
// This is a sealed interface - only types in this package implement it.
// A nil TimeRange means the query is unbounded.
type TimeRange interface {
	timeRangeNode()
}

// Absolute is a closed interval in Unix milliseconds.
type Absolute struct {
	StartMs int64
	EndMs   int64
}

// Relative is the trailing DurationMs before AnchorMs, or before query
// evaluation time when AnchorMs is nil ("now() - 1h").
type Relative struct {
	DurationMs int64
	AnchorMs   *int64
}

// Since is open-ended from StartMs.
type Since struct {
	StartMs int64
}

// Until is open-started up to EndMs.
type Until struct {
	EndMs int64
}

func (Absolute) timeRangeNode() {}
func (Relative) timeRangeNode() {}
func (Since) timeRangeNode()    {}
func (Until) timeRangeNode()    {}

// WindowKind is the grouping a Window applies before aggregation.
//
// This is a sealed interface - only types in this package implement it.
type WindowKind interface {
	windowNode()
}

// IntervalWindow is a tumbling (or, with SlidingMs, hopping) time window.
type IntervalWindow struct {
	DurationMs int64
	OffsetMs   int64
	SlidingMs  *int64
}

// RangeWindow is a per-evaluation lookback, e.g. PromQL's [5m].
type RangeWindow struct {
	DurationMs int64
}

// SessionWindow closes when consecutive rows are more than GapMs apart.
type SessionWindow struct {
	GapMs  int64
	Column string
}

// StateWindow opens a new window whenever Column changes value.
type StateWindow struct {
	Column string
}

// EventWindow opens when Start holds and closes when End holds.
type EventWindow struct {
	Start Condition
	End   Condition
}

// CountWindow groups every N rows, advancing by Sliding rows when set.
type CountWindow struct {
	N       int64
	Sliding *int64
}

// SampleByWindow is a calendar-aware downsampling interval. Align carries
// the alignment mode ("calendar", "first observation") when given.
type SampleByWindow struct {
	IntervalMs int64
	Align      string
}

// RowsWindow is a row-offset frame around the current row.
type RowsWindow struct {
	Preceding *int64
	Following *int64
}

func (IntervalWindow) windowNode() {}
func (RangeWindow) windowNode()    {}
func (SessionWindow) windowNode()  {}
func (StateWindow) windowNode()    {}
func (EventWindow) windowNode()    {}
func (CountWindow) windowNode()    {}
func (SampleByWindow) windowNode() {}
func (RowsWindow) windowNode()     {}

// FillMode is the strategy for populating empty windows.
type FillMode int

const (
	FillNone FillMode = iota
	FillNull
	FillPrevious
	FillNext
	FillLinear
	FillValue
)

var fillModeNames = [...]string{
	FillNone:     "none",
	FillNull:     "null",
	FillPrevious: "previous",
	FillNext:     "next",
	FillLinear:   "linear",
	FillValue:    "value",
}

func (m FillMode) String() string {
	if int(m) >= 0 && int(m) < len(fillModeNames) {
		return fillModeNames[m]
	}
	return fmt.Sprintf("FillMode(%d)", int(m))
}

// Fill is a fill strategy; Value is set only for FillValue.
type Fill struct {
	Mode  FillMode
	Value Value
}

// NewFill returns a fill with the given mode.
func NewFill(mode FillMode) *Fill { return &Fill{Mode: mode} }

// Window pairs a window kind with an optional fill strategy.
type Window struct {
	Kind WindowKind
	Fill *Fill
}

// WindowDuration returns the span of interval-like windows in ms.
func WindowDuration(k WindowKind) (int64, bool) {
	switch w := k.(type) {
	case IntervalWindow:
		return w.DurationMs, true
	case RangeWindow:
		return w.DurationMs, true
	case SampleByWindow:
		return w.IntervalMs, true
	default:
		return 0, false
	}
}

// GroupExpr is one grouping key.
//
// This is a sealed interface - only types in this package implement it.
type GroupExpr interface {
	groupNode()
}

// GroupColumn groups by a plain column.
type GroupColumn struct {
	Name string
}

// TimeBucket groups by Column truncated to IntervalMs buckets. An empty
// Column means the dialect's designated time column.
type TimeBucket struct {
	IntervalMs int64
	Column     string
}

// GroupTag groups by a series tag / label.
type GroupTag struct {
	Name string
}

// AllTags groups by every tag (GROUP BY *).
type AllTags struct{}

// GroupExpression is a grouping key with no structural mapping; Text keeps
// the source expression.
type GroupExpression struct {
	Text string
}

func (GroupColumn) groupNode()     {}
func (TimeBucket) groupNode()      {}
func (GroupTag) groupNode()        {}
func (AllTags) groupNode()         {}
func (GroupExpression) groupNode() {}

// GroupBy wraps one grouping key.
type GroupBy struct {
	Expr GroupExpr
}

// GroupName returns the column or tag name for named groupings.
func GroupName(g GroupExpr) (string, bool) {
	switch e := g.(type) {
	case GroupColumn:
		return e.Name, true
	case GroupTag:
		return e.Name, true
	default:
		return "", false
	}
}
