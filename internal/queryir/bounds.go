package queryir

// Bound is one side of a time predicate. A relative bound is an offset in
// ms from query evaluation time (negative is the past); an absolute bound
// is Unix ms.
type Bound struct {
	Ms       int64
	Relative bool
}

// Now is the relative bound at evaluation time.
var Now = Bound{Relative: true}

// TimeBounds accumulates the lower and upper bounds a parser finds in
// WHERE-style predicates and folds them into a TimeRange.
type TimeBounds struct {
	Lower *Bound
	Upper *Bound
}

// Empty reports whether no bound was recorded.
func (b *TimeBounds) Empty() bool { return b.Lower == nil && b.Upper == nil }

// SetLower records a lower bound, keeping the tighter of two.
func (b *TimeBounds) SetLower(v Bound) {
	if b.Lower == nil || (b.Lower.Relative == v.Relative && v.Ms > b.Lower.Ms) {
		b.Lower = &v
	}
}

// SetUpper records an upper bound, keeping the tighter of two.
func (b *TimeBounds) SetUpper(v Bound) {
	if b.Upper == nil || (b.Upper.Relative == v.Relative && v.Ms < b.Upper.Ms) {
		b.Upper = &v
	}
}

// Range folds the bounds:
//
//	lower now-d, upper absent or relative -> Relative{d}
//	lower now-d, upper absolute e         -> Relative{d, anchor e}
//	lower and upper absolute              -> Absolute
//	only absolute lower                   -> Since
//	only absolute upper                   -> Until
//
// It returns nil when nothing usable was recorded.
func (b *TimeBounds) Range() TimeRange {
	lo, hi := b.Lower, b.Upper
	switch {
	case lo == nil && hi == nil:
		return nil
	case lo != nil && lo.Relative:
		d := -lo.Ms
		if d < 0 {
			d = 0
		}
		r := Relative{DurationMs: d}
		if hi != nil && !hi.Relative {
			r.AnchorMs = Int64Ptr(hi.Ms)
		}
		return r
	case lo != nil && hi != nil && !hi.Relative:
		return Absolute{StartMs: lo.Ms, EndMs: hi.Ms}
	case lo != nil:
		return Since{StartMs: lo.Ms}
	case !hi.Relative:
		return Until{EndMs: hi.Ms}
	default:
		return nil
	}
}
