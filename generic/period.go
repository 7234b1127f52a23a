package generic

// =============================================================================
// DATE RANGE - Effective window of a priced record
// =============================================================================

// DateRange is an inclusive [From, To] window. A nil To is open-ended:
// the range extends from From onwards forever.
type DateRange struct {
	From Date
	To   *Date
}

// NewDateRange builds an inclusive range; pass nil for an open end.
func NewDateRange(from Date, to *Date) DateRange {
	return DateRange{From: from, To: to}
}

// IsOpenEnded reports whether the range has no end date.
func (r DateRange) IsOpenEnded() bool { return r.To == nil }

// Valid requires To, when present, to be strictly after From.
func (r DateRange) Valid() bool {
	return r.To == nil || r.To.After(r.From)
}

// Contains returns true if d is within [From, To].
func (r DateRange) Contains(d Date) bool {
	if d.Before(r.From) {
		return false
	}
	return r.To == nil || d.BeforeOrEqual(*r.To)
}

// Overlaps implements a1 <= b2 AND b1 <= a2 where a missing end counts as
// +infinity.
func (r DateRange) Overlaps(other DateRange) bool {
	if other.To != nil && r.From.After(*other.To) {
		return false
	}
	if r.To != nil && other.From.After(*r.To) {
		return false
	}
	return true
}

// String returns a string representation of the range.
func (r DateRange) String() string {
	end := "open"
	if r.To != nil {
		end = r.To.String()
	}
	return "[" + r.From.String() + ", " + end + "]"
}

// OptionalWindow treats both bounds as optional; used for applicability
// windows where a missing start means "always".
type OptionalWindow struct {
	From *Date
	To   *Date
}

// Valid requires To > From when both are present.
func (w OptionalWindow) Valid() bool {
	if w.From == nil || w.To == nil {
		return true
	}
	return w.To.After(*w.From)
}

// Contains treats open bounds as always-applicable.
func (w OptionalWindow) Contains(d Date) bool {
	if w.From != nil && d.Before(*w.From) {
		return false
	}
	if w.To != nil && d.After(*w.To) {
		return false
	}
	return true
}
