// Package translate renders a queryir.QueryPlan as query text in a target
// dialect.
//
// Every back end implements Translator. A translator never mutates the
// plan, and the text it returns parses again with the target's parser.
// Plan parts a target has no spelling for are left out of the output
// rather than failing the translation; the only hard failure is a plan
// with no source.
//
// AGGREGATION CHAINS
//
// Aggregations with an empty Column apply to the result of the previous
// aggregation (PromQL's sum(rate(x[5m])) is [rate, sum]). Aggregations
// naming a column are independent select-list items (SQL's avg(a), max(b)).
// Targets that cannot nest aggregates keep the innermost one of a chain
// and express the outer ones through grouping.
//
// TIME
//
// A RangeWindow (PromQL's [5m]) becomes the query's lookback when the plan
// carries no time range. Relative bounds are offsets from evaluation time.
//
// TARGET NOTES
//
//   - InfluxQL: ORDER BY only sorts by time; Changes, Resets, PredictLinear,
//     Twa, Variance, HyperLogLog and HistogramQuantile are dropped.
//   - Flux: output always carries a range() stage, -1h when the plan has no
//     time range; label_replace/label_join are dropped.
//   - PromQL, MetricsQL: the lower bound is left to the caller; an absolute
//     upper bound becomes @ and an offset_ms hint becomes offset. Numeric
//     comparisons have no matcher form and are dropped. PromQL drops Or
//     filters that are not alternatives over one label; MetricsQL renders
//     them as or-groups.
//   - SQL family: nested aggregates collapse to the innermost; Derivative,
//     Difference and MovingAverage are kept only by TDengine.
//   - QuestDB: FILL(NEXT) has no spelling and is dropped.
//   - ClickHouse: window fill is dropped.
//   - Graphite: name paths with wildcards stay paths, anything tagged
//     becomes seriesByTag(); numeric comparisons are dropped. Render
//     parameters are appended only when the plan has a time range or a
//     format.
//   - OpenTSDB: transformations other than Derivative are dropped; each
//     source becomes one sub-query carrying the same filters.
//   - Druid native requests are parsed but never produced.
package translate
