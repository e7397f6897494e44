// Package queryir defines QueryPlan, the dialect-agnostic intermediate
// representation shared by every query-language front end and back end.
//
// ARCHITECTURE:
//
// Every supported dialect parses into the same plan, and every target
// renders from it:
//
//	[InfluxQL] ─┐                ┌─> [InfluxQL]
//	[PromQL]   ─┤                ├─> [PromQL]
//	[Flux]     ─┼─> QueryPlan ───┼─> [Flux]
//	[SQL ext.] ─┤                ├─> [SQL ext.]
//	[JSON req] ─┘                └─> [Graphite, OpenTSDB]
//
// N front ends and M back ends therefore need N+M implementations, not N×M.
//
// SEALED INTERFACES:
//
// Value, Condition, TimeRange, WindowKind, GroupExpr and TransformOp are
// sealed interfaces using the marker method pattern. Only types in this
// package implement them, so back ends can switch exhaustively:
//
//	switch w := window.Kind.(type) {
//	case queryir.IntervalWindow:
//	    // GROUP BY time(...)
//	case queryir.RangeWindow:
//	    // [5m]
//	default:
//	    // omit, documented per target
//	}
//
// AggFunction is a closed enum (AggKind) plus the parameter its kind
// carries rather than an interface, since every variant shares one shape.
//
// UNITS:
//
// Every duration and timestamp is stored in milliseconds. Dialect-native
// literals ("5m", "PT5M", '5 minutes') never appear in plan fields; the
// one exception is QueryHints.Custom, which keeps the raw text of features
// a front end could not map so back ends and diagnostics can recover it.
//
// COMPOSITION ORDER:
//
// Aggregations and Transformations preserve the order in which the source
// text composes functions, innermost first. For PromQL
//
//	sum by (job) (rate(x[5m]))
//
// the plan holds [rate, sum]. Back ends replay the slice in order to
// rebuild the wrapping.
//
// LIFECYCLE:
//
// A plan is built by exactly one parser call through the Add* helpers and
// must not be mutated once returned. Plans are never cached or persisted
// by this module; Describe and MarshalPlan give a deterministic snapshot
// for diagnostics instead.
//
// ERRORS:
//
// ParseError and TranslateError are the only error types front and back
// ends return. Validate reports structural problems combined with multierr
// plus non-fatal warnings.
package queryir
