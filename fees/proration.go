/*
proration.go - Partial-period billing, early termination and notice penalties

PURPOSE:
  ProrationEngine scales monthly charges to a partial month and prices the
  two ways a stay can end badly: leaving before the planned date (refund
  with a tiered penalty) and leaving without enough notice.

PRORATION FACTOR:
  actualDays  = (end - start) + 1          (both endpoints count)
  daysInMonth = days in the START month

  daily:   factor = actualDays / daysInMonth
  weekly:  factor = (actualDays/7) / (daysInMonth/7)
  monthly: factor = 1

  The window must not end before it starts and must fit in the start
  month, so the factor is always in (0, 1].

WHAT IS PRORATED:
  - base rent (monthly equivalent of the structure amount)
  - mess charge, unless mess is included
  - fixed-monthly utilities
  - proration-allowed components: recurring ones scale by the factor,
    one-time ones are charged in full when the window starts inside their
    applicability window and not at all otherwise
  The security deposit is never prorated.

ROUNDING:
  Each prorated amount is round(amount × actualDays / daysInMonth, 2),
  computed from the exact ratio so 9000 × 10/30 is exactly 3000.00.

EARLY TERMINATION:
  owed          = wholeMonths × monthly + prorated remainder days
  preDeposit    = max(0, paid - deposit - owed) + refundable charges
  penalty       = preDeposit × tier%   (>60 days left: 25, 31-60: 15, else 5)
  refund        = preDeposit - penalty + deposit

SEE ALSO:
  - calculation.go: First-month proration of a new stay
*/
package fees

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fee-engine/generic"
)

type ProrationMethod string

const (
	ProrateDaily   ProrationMethod = "daily"
	ProrateWeekly  ProrationMethod = "weekly"
	ProrateMonthly ProrationMethod = "monthly"
)

func (m ProrationMethod) Valid() bool {
	switch m {
	case ProrateDaily, ProrateWeekly, ProrateMonthly:
		return true
	}
	return false
}

// DefaultNoticePeriodDays applies when neither the engine nor the request
// sets a required notice period.
const DefaultNoticePeriodDays = 30

// ProrationEngine is stateless apart from configuration.
type ProrationEngine struct {
	NoticePeriodDays int
	Logger           *zap.Logger
}

func (e *ProrationEngine) logger() *zap.Logger { return nopIfNil(e.Logger) }

// =============================================================================
// FACTOR
// =============================================================================

// Factor is an exact ratio kept as numerator/denominator so amounts can be
// scaled without intermediate rounding.
type Factor struct {
	Num int
	Den int
}

// FullFactor means no proration.
var FullFactor = Factor{Num: 1, Den: 1}

// ComputeFactor validates the window and returns the factor for method.
func ComputeFactor(start, end generic.Date, method ProrationMethod) (Factor, int, error) {
	if !method.Valid() {
		return Factor{}, 0, generic.Validation("method", "invalid proration method %q", method)
	}
	if start.IsZero() || end.IsZero() {
		return Factor{}, 0, generic.Validation("start_date", "start and end dates are required")
	}
	if end.Before(start) {
		return Factor{}, 0, generic.BusinessRule("proration window ends (%s) before it starts (%s)", end, start)
	}
	days := generic.DaysInclusive(start, end)
	dim := start.DaysInMonth()
	if days > dim {
		return Factor{}, 0, generic.BusinessRule("proration window of %d days exceeds the %d days of %s", days, dim, start.Time.Format("January 2006"))
	}

	switch method {
	case ProrateMonthly:
		return FullFactor, days, nil
	case ProrateWeekly:
		// (days/7) / (dim/7): the sevens cancel
		return Factor{Num: days * 7, Den: dim * 7}, days, nil
	default:
		return Factor{Num: days, Den: dim}, days, nil
	}
}

// Apply returns round(amount × Num / Den, 2).
func (f Factor) Apply(amount decimal.Decimal) decimal.Decimal {
	if f.Num == f.Den {
		return amount
	}
	return generic.Round2(amount.Mul(decimal.NewFromInt(int64(f.Num))).Div(decimal.NewFromInt(int64(f.Den))))
}

// Decimal is the factor rounded for display and storage.
func (f Factor) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(f.Num)).DivRound(decimal.NewFromInt(int64(f.Den)), 6)
}

func (f Factor) IsFull() bool { return f.Num == f.Den }

// =============================================================================
// CALCULATE
// =============================================================================

type ProrationParams struct {
	StructureID string
	StartDate   generic.Date
	EndDate     generic.Date
	Method      ProrationMethod
}

type ProratedItem struct {
	Label          string          `json:"label"`
	ComponentID    string          `json:"component_id,omitempty"`
	Recurring      bool            `json:"recurring"`
	FullAmount     decimal.Decimal `json:"full_amount"`
	ProratedAmount decimal.Decimal `json:"prorated_amount"`
}

type ProrationResult struct {
	StructureID string          `json:"structure_id"`
	Method      ProrationMethod `json:"method"`
	StartDate   generic.Date    `json:"start_date"`
	EndDate     generic.Date    `json:"end_date"`
	ActualDays  int             `json:"actual_days"`
	DaysInMonth int             `json:"days_in_month"`
	Factor      decimal.Decimal `json:"factor"`

	MonthlyRent     decimal.Decimal `json:"monthly_rent"`
	ProratedRent    decimal.Decimal `json:"prorated_rent"`
	MessCharge      decimal.Decimal `json:"mess_charge"`
	ProratedMess    decimal.Decimal `json:"prorated_mess"`
	UtilityCharge   decimal.Decimal `json:"utility_charge"`
	ProratedUtility decimal.Decimal `json:"prorated_utility"`
	Components      []ProratedItem  `json:"components,omitempty"`
	SecurityDeposit decimal.Decimal `json:"security_deposit"`

	// TotalFull and TotalProrated exclude the deposit.
	TotalFull     decimal.Decimal `json:"total_full"`
	TotalProrated decimal.Decimal `json:"total_prorated"`
}

// Adjustment is TotalProrated - TotalFull (zero or negative).
func (r *ProrationResult) Adjustment() decimal.Decimal {
	return r.TotalProrated.Sub(r.TotalFull)
}

// Calculate prorates a structure and its components over [start, end].
func (e *ProrationEngine) Calculate(ctx context.Context, tx Store, p ProrationParams) (*ProrationResult, error) {
	s, err := tx.GetStructure(ctx, p.StructureID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.DeletedAt != nil {
		return nil, generic.NotFound("fee structure", p.StructureID)
	}
	comps, err := tx.ListComponents(ctx, s.ID, false)
	if err != nil {
		return nil, err
	}
	return Prorate(s, comps, p.StartDate, p.EndDate, p.Method)
}

// Prorate is the pure form of Calculate.
func Prorate(s *FeeStructure, comps []ChargeComponent, start, end generic.Date, method ProrationMethod) (*ProrationResult, error) {
	f, days, err := ComputeFactor(start, end, method)
	if err != nil {
		return nil, err
	}

	r := &ProrationResult{
		StructureID:     s.ID,
		Method:          method,
		StartDate:       start,
		EndDate:         end,
		ActualDays:      days,
		DaysInMonth:     start.DaysInMonth(),
		Factor:          f.Decimal(),
		MonthlyRent:     s.MonthlyRent(),
		MessCharge:      s.MonthlyMess(),
		UtilityCharge:   s.MonthlyUtilities(),
		SecurityDeposit: s.SecurityDeposit,
	}
	r.ProratedRent = f.Apply(r.MonthlyRent)
	r.ProratedMess = f.Apply(r.MessCharge)
	r.ProratedUtility = f.Apply(r.UtilityCharge)

	r.TotalFull = generic.Sum(r.MonthlyRent, r.MessCharge, r.UtilityCharge)
	r.TotalProrated = generic.Sum(r.ProratedRent, r.ProratedMess, r.ProratedUtility)

	for i := range comps {
		c := &comps[i]
		if !c.ProrationAllowed || c.DeletedAt != nil || !c.AppliesToRoomType(s.RoomType) {
			continue
		}
		item := ProratedItem{Label: c.Name, ComponentID: c.ID, Recurring: c.IsRecurring, FullAmount: c.Amount}
		switch {
		case c.IsRecurring:
			item.ProratedAmount = f.Apply(c.Amount)
		case c.AppliesOn(start):
			item.ProratedAmount = c.Amount
		default:
			item.ProratedAmount = decimal.Zero
		}
		r.Components = append(r.Components, item)
		r.TotalFull = r.TotalFull.Add(item.FullAmount)
		r.TotalProrated = r.TotalProrated.Add(item.ProratedAmount)
	}
	return r, nil
}

// =============================================================================
// EARLY TERMINATION
// =============================================================================

type EarlyTerminationParams struct {
	StructureID       string
	MoveInDate        generic.Date
	PlannedMoveOut    generic.Date
	ActualMoveOut     generic.Date
	AmountPaid        decimal.Decimal
	DepositPaid       decimal.Decimal
	RefundableCharges decimal.Decimal
}

type EarlyTerminationResult struct {
	DaysStayed        int             `json:"days_stayed"`
	RemainingDays     int             `json:"remaining_days"`
	WholeMonths       int             `json:"whole_months"`
	RemainderDays     int             `json:"remainder_days"`
	MonthlyCharge     decimal.Decimal `json:"monthly_charge"`
	AmountOwed        decimal.Decimal `json:"amount_owed"`
	PreDepositRefund  decimal.Decimal `json:"pre_deposit_refund"`
	PenaltyPercentage decimal.Decimal `json:"penalty_percentage"`
	Penalty           decimal.Decimal `json:"penalty"`
	DepositRefund     decimal.Decimal `json:"deposit_refund"`
	RefundableCharges decimal.Decimal `json:"refundable_charges"`
	TotalRefund       decimal.Decimal `json:"total_refund"`
}

// PenaltyTier returns the early-termination penalty percentage for the
// number of days left on the stay.
func PenaltyTier(remainingDays int) decimal.Decimal {
	switch {
	case remainingDays > 60:
		return decimal.NewFromInt(25)
	case remainingDays > 30:
		return decimal.NewFromInt(15)
	default:
		return decimal.NewFromInt(5)
	}
}

func (e *ProrationEngine) EarlyTermination(ctx context.Context, tx Store, p EarlyTerminationParams) (*EarlyTerminationResult, error) {
	s, err := tx.GetStructure(ctx, p.StructureID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.DeletedAt != nil {
		return nil, generic.NotFound("fee structure", p.StructureID)
	}
	res, err := EarlyTermination(s, p)
	if err != nil {
		return nil, err
	}
	e.logger().Debug("early termination computed",
		zap.String("structure_id", s.ID),
		zap.Int("remaining_days", res.RemainingDays),
		zap.String("refund", res.TotalRefund.String()))
	return res, nil
}

// EarlyTermination is the pure refund computation.
func EarlyTermination(s *FeeStructure, p EarlyTerminationParams) (*EarlyTerminationResult, error) {
	if p.MoveInDate.IsZero() || p.PlannedMoveOut.IsZero() || p.ActualMoveOut.IsZero() {
		return nil, generic.Validation("move_in_date", "move-in, planned and actual move-out dates are required")
	}
	if p.AmountPaid.IsNegative() || p.DepositPaid.IsNegative() || p.RefundableCharges.IsNegative() {
		return nil, generic.Validation("amount_paid", "amounts must be >= 0")
	}
	if p.ActualMoveOut.Before(p.MoveInDate) {
		return nil, generic.BusinessRule("actual move-out %s is before move-in %s", p.ActualMoveOut, p.MoveInDate)
	}
	if !p.ActualMoveOut.Before(p.PlannedMoveOut) {
		return nil, generic.BusinessRule("actual move-out %s is not before planned move-out %s", p.ActualMoveOut, p.PlannedMoveOut)
	}

	monthly := generic.Sum(s.MonthlyRent(), s.MonthlyMess(), s.MonthlyUtilities())

	// whole months fully stayed (the day after the last night is the boundary)
	whole := generic.MonthsBetween(p.MoveInDate, p.ActualMoveOut.AddDays(1))
	remainderStart := p.MoveInDate.AddMonths(whole)
	remainder := 0
	if !remainderStart.After(p.ActualMoveOut) {
		remainder = generic.DaysInclusive(remainderStart, p.ActualMoveOut)
	}

	owed := monthly.Mul(decimal.NewFromInt(int64(whole)))
	if remainder > 0 {
		f := Factor{Num: remainder, Den: remainderStart.DaysInMonth()}
		if f.Num > f.Den {
			f.Num = f.Den
		}
		owed = owed.Add(f.Apply(monthly))
	}
	owed = generic.Round2(owed)

	remaining := generic.DaysBetween(p.ActualMoveOut, p.PlannedMoveOut)
	pct := PenaltyTier(remaining)

	preDeposit := generic.NonNegative(p.AmountPaid.Sub(p.DepositPaid).Sub(owed)).Add(p.RefundableCharges)
	penalty := generic.Percent(preDeposit, pct)

	return &EarlyTerminationResult{
		DaysStayed:        generic.DaysInclusive(p.MoveInDate, p.ActualMoveOut),
		RemainingDays:     remaining,
		WholeMonths:       whole,
		RemainderDays:     remainder,
		MonthlyCharge:     monthly,
		AmountOwed:        owed,
		PreDepositRefund:  preDeposit,
		PenaltyPercentage: pct,
		Penalty:           penalty,
		DepositRefund:     p.DepositPaid,
		RefundableCharges: p.RefundableCharges,
		TotalRefund:       preDeposit.Sub(penalty).Add(p.DepositPaid),
	}, nil
}

// =============================================================================
// NOTICE PENALTY
// =============================================================================

type NoticePenaltyParams struct {
	StructureID string
	NoticeDate  generic.Date
	MoveOutDate generic.Date
	// RequiredNoticeDays overrides the engine default when > 0.
	RequiredNoticeDays int
}

type NoticePenaltyResult struct {
	RequiredDays  int             `json:"required_days"`
	GivenDays     int             `json:"given_days"`
	ShortfallDays int             `json:"shortfall_days"`
	DailyRent     decimal.Decimal `json:"daily_rent"`
	Penalty       decimal.Decimal `json:"penalty"`
}

func (e *ProrationEngine) requiredNotice(override int) int {
	if override > 0 {
		return override
	}
	if e.NoticePeriodDays > 0 {
		return e.NoticePeriodDays
	}
	return DefaultNoticePeriodDays
}

// NoticePenalty charges the daily rent of the move-out month for every day
// of notice short of the requirement.
func (e *ProrationEngine) NoticePenalty(ctx context.Context, tx Store, p NoticePenaltyParams) (*NoticePenaltyResult, error) {
	s, err := tx.GetStructure(ctx, p.StructureID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.DeletedAt != nil {
		return nil, generic.NotFound("fee structure", p.StructureID)
	}
	if p.NoticeDate.IsZero() || p.MoveOutDate.IsZero() {
		return nil, generic.Validation("notice_date", "notice and move-out dates are required")
	}
	if p.MoveOutDate.Before(p.NoticeDate) {
		return nil, generic.BusinessRule("move-out %s is before notice date %s", p.MoveOutDate, p.NoticeDate)
	}

	required := e.requiredNotice(p.RequiredNoticeDays)
	given := generic.DaysBetween(p.NoticeDate, p.MoveOutDate)
	shortfall := required - given
	if shortfall < 0 {
		shortfall = 0
	}

	daily := generic.Round2(s.MonthlyRent().Div(decimal.NewFromInt(int64(p.MoveOutDate.DaysInMonth()))))
	return &NoticePenaltyResult{
		RequiredDays:  required,
		GivenDays:     given,
		ShortfallDays: shortfall,
		DailyRent:     daily,
		Penalty:       generic.Round2(daily.Mul(decimal.NewFromInt(int64(shortfall)))),
	}, nil
}
