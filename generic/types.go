/*
Package generic provides the domain-agnostic building blocks of the fee engine.

PURPOSE:
  Everything here is independent of hostels and fees: calendar dates and
  ranges, fixed-point money arithmetic, error kinds, and the audit context
  threaded through every mutation. The fees package builds the pricing
  domain on top of these types.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal helpers with half-up rounding to 2 places
  - StringSet: set-valued applicability lists (hostels, room types)
  - NewID: row identifiers

DESIGN PRINCIPLES:
  1. Precision: money is never a float64; every quantization point rounds
     half-up to 2 places
  2. Explicitness: the acting user and timestamp travel as a parameter,
     never as ambient state

SEE ALSO:
  - time.go: Date and calendar arithmetic
  - period.go: DateRange overlap and containment
  - errors.go: Error kinds
*/
package generic

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point amounts
// =============================================================================

// MoneyPlaces is the number of decimal places every stored amount carries.
const MoneyPlaces = 2

var (
	Hundred = decimal.NewFromInt(100)
)

// Round2 rounds half away from zero to 2 places, which is half-up for the
// non-negative amounts this engine deals in.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Percent returns round(base * pct / 100, 2).
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return Round2(base.Mul(pct).Div(Hundred))
}

// Money parses a literal amount; invalid input yields zero.
func Money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return Round2(d)
}

// MoneyFromInt is a convenience for whole amounts.
func MoneyFromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// NonNegative clamps negative values to zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// NewID returns a random row identifier.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// STRING SET - Set-valued applicability lists
// =============================================================================

// StringSet holds identifiers such as hostel ids or room types. An empty set
// means "unrestricted". Membership is exact: "A1" never matches "A10".
type StringSet map[string]struct{}

func NewStringSet(values ...string) StringSet {
	s := make(StringSet, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			s[v] = struct{}{}
		}
	}
	return s
}

func (s StringSet) Contains(v string) bool {
	_, ok := s[v]
	return ok
}

func (s StringSet) IsEmpty() bool { return len(s) == 0 }

// Allows is true when the set is unrestricted or contains v.
func (s StringSet) Allows(v string) bool {
	return s.IsEmpty() || s.Contains(v)
}

// Values returns the members sorted, for stable storage and output.
func (s StringSet) Values() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

func (s *StringSet) UnmarshalJSON(b []byte) error {
	var values []string
	if err := json.Unmarshal(b, &values); err != nil {
		return err
	}
	*s = NewStringSet(values...)
	return nil
}
