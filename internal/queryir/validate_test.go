package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlan() *QueryPlan {
	p := NewPlan(InfluxQL, "")
	p.AddSource(DataSource{Name: "cpu", Kind: SourceMeasurement})
	p.TimeRange = Relative{DurationMs: 3600000}
	p.AddAggregation(Agg(AggAvg, "value"))
	p.AddWindow(Window{Kind: IntervalWindow{DurationMs: 300000}, Fill: NewFill(FillNull)})
	return p
}

func TestValidate_WellFormedPlan(t *testing.T) {
	result := Validate(validPlan())

	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
	assert.Empty(t, result.Problems())
}

func TestValidate_NilPlan(t *testing.T) {
	result := Validate(nil)
	require.False(t, result.Valid())
	assert.Contains(t, result.Err.Error(), "nil plan")
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	p := NewPlan(SQL, "")
	p.TimeRange = Absolute{StartMs: 10, EndMs: 5}
	p.AddAggregation(Aggregation{Function: Percentile(150)})
	p.AddAggregation(Aggregation{Function: HistogramQuantile(2)})
	p.AddAggregation(Aggregation{Function: TopK(0)})
	p.AddWindow(Window{Kind: IntervalWindow{DurationMs: 0}})
	p.Limit = Int64Ptr(-1)

	result := Validate(p)
	require.False(t, result.Valid())

	problems := result.Problems()
	assert.Len(t, problems, 7)
	msg := result.Err.Error()
	assert.Contains(t, msg, "no source")
	assert.Contains(t, msg, "start 10 is after end 5")
	assert.Contains(t, msg, "outside [0, 100]")
	assert.Contains(t, msg, "outside [0, 1]")
	assert.Contains(t, msg, "count must be positive")
	assert.Contains(t, msg, "interval window must be positive")
	assert.Contains(t, msg, "negative limit")
}

func TestValidate_Warnings(t *testing.T) {
	p := validPlan()
	p.AddAggregation(Aggregation{Function: Custom("mad")})
	p.AddWindow(Window{Kind: RangeWindow{DurationMs: 1000}})
	p.Hints.SetCustom("slimit", "10")

	result := Validate(p)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 3)
	assert.Contains(t, result.Warnings[0], `custom aggregate "mad"`)
	assert.Contains(t, result.Warnings[1], "2 windows")
	assert.Contains(t, result.Warnings[2], "unmapped feature")
}

func TestValidate_RecursesIntoSubqueries(t *testing.T) {
	inner := NewPlan(InfluxQL, "")
	inner.AddWindow(Window{Kind: SessionWindow{GapMs: -1}})
	inner.AddAggregation(Agg(AggCount, ""))

	outer := NewPlan(InfluxQL, "")
	outer.AddSource(DataSource{Kind: SourceSubquery, Subquery: inner})

	result := Validate(outer)
	require.False(t, result.Valid())
	msg := result.Err.Error()
	assert.Contains(t, msg, "subquery 0: plan has no source")
	assert.Contains(t, msg, "subquery 0: session gap must be positive")
}
