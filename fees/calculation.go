/*
calculation.go - Full fee calculation for a stay

PURPOSE:
  CalculationEngine turns (hostel, room type, fee type, move-in date,
  duration) into an itemized, immutable FeeCalculation. Estimate returns
  the result without persisting; Create persists it together with the
  discount redemption and an audit entry in the caller's transaction.

CALCULATION FLOW:
  ┌────────────────────────────────────────────────────────────────────┐
  │ 1. Resolve structure effective on the move-in date                 │
  │ 2. moveOut = moveIn + N months (clamped to month end)              │
  │ 3. rent = monthlyRent × N, mess × N, fixed utilities × N           │
  │ 4. components: room type + date filter, rules, recurring × N       │
  │ 5. optional first-month proration (adjustment ≤ 0)                 │
  │ 6. subtotal = rent + deposit + mess + utilities + other + adj      │
  │ 7. one discount (explicit code or best applicable), ≤ subtotal     │
  │ 8. tax = round((subtotal - discount) × tax% / 100, 2)              │
  │ 9. total = subtotal - discount + tax                               │
  │10. first month, monthly recurring, payment schedule                │
  └────────────────────────────────────────────────────────────────────┘

DERIVED AMOUNTS:
  monthlyRecurring = monthlyRent + round(recurringCharges / N, 2)
      recurringCharges = mess + utilities + recurring components (all months)
  firstMonthTotal  = monthlyRecurring + deposit + oneTimeCharges
                     + prorationAdjustment - discount + tax

SCHEDULE:
  One entry per month. Entry 1 is the first-month total; the rest are the
  monthly recurring amount. Due dates step by calendar month from the
  move-in date with the same month-end clamping.

SEE ALSO:
  - structure.go: GetCurrent
  - discount.go: BestApplicable, IncrementUsage
  - proration.go: Factor
*/
package fees

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fee-engine/generic"
)

// MaxDurationMonths bounds a single calculation.
const MaxDurationMonths = 60

// CalculationEngine orchestrates the other catalogs.
type CalculationEngine struct {
	Structures *StructureCatalog
	Discounts  *DiscountCatalog

	// DefaultTaxPercentage applies when a request carries none.
	DefaultTaxPercentage decimal.Decimal
	Logger               *zap.Logger
}

func (e *CalculationEngine) logger() *zap.Logger { return nopIfNil(e.Logger) }

// CalculationParams describes the stay to price.
type CalculationParams struct {
	HostelID        string
	RoomType        string
	FeeType         FeeType
	CalculationType CalculationType
	StudentID       *string
	BookingID       *string
	MoveInDate      generic.Date
	DurationMonths  int

	// DiscountCode selects a discount explicitly; otherwise, when
	// AutoApplyDiscount is set, the best applicable discount is used.
	DiscountCode      *string
	AutoApplyDiscount bool
	IsNewStudent      bool

	OptOutMess           bool
	ProrateFirstMonth    bool
	OptionalComponentIDs []string
	TaxPercentage        *decimal.Decimal
}

// =============================================================================
// ENTRY POINTS
// =============================================================================

// Estimate prices a stay without persisting anything.
func (e *CalculationEngine) Estimate(ctx context.Context, tx Store, p CalculationParams) (*FeeCalculation, error) {
	if p.CalculationType == "" {
		p.CalculationType = CalculationEstimate
	}
	calc, _, err := e.compute(ctx, tx, p)
	return calc, err
}

// Create prices a stay and persists the result, the discount redemption and
// an audit entry. Any failure leaves the transaction to roll back.
func (e *CalculationEngine) Create(ctx context.Context, tx Store, audit generic.AuditContext, p CalculationParams) (*FeeCalculation, error) {
	if p.CalculationType == "" {
		p.CalculationType = CalculationBooking
	}
	calc, discount, err := e.compute(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	calc.CreatedBy = audit.ActorID
	calc.CreatedAt = audit.At

	if discount != nil {
		if err := e.Discounts.IncrementUsage(ctx, tx, audit, discount.ID); err != nil {
			return nil, err
		}
	}
	if err := tx.InsertCalculation(ctx, calc); err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, audit.Entry(generic.AuditCalculationCreated, "fee_calculation", calc.ID, map[string]any{
		"fee_structure_id": calc.FeeStructureID,
		"total_payable":    calc.TotalPayable.String(),
		"discount_applied": calc.DiscountApplied.String(),
	})); err != nil {
		return nil, err
	}

	e.logger().Info("fee calculation created",
		zap.String("id", calc.ID),
		zap.String("fee_structure_id", calc.FeeStructureID),
		zap.String("type", string(calc.CalculationType)),
		zap.String("total_payable", calc.TotalPayable.String()))
	return calc, nil
}

func (e *CalculationEngine) Get(ctx context.Context, tx Store, id string) (*FeeCalculation, error) {
	calc, err := tx.GetCalculation(ctx, id)
	if err != nil {
		return nil, err
	}
	if calc == nil {
		return nil, generic.NotFound("fee calculation", id)
	}
	return calc, nil
}

func (e *CalculationEngine) List(ctx context.Context, tx Store, filter CalculationFilter) ([]FeeCalculation, error) {
	return tx.ListCalculations(ctx, filter)
}

// Approve sets the approval fields, the only mutation a calculation allows.
func (e *CalculationEngine) Approve(ctx context.Context, tx Store, audit generic.AuditContext, id string) (*FeeCalculation, error) {
	ok, err := tx.ApproveCalculation(ctx, id, audit.ActorID, audit.At)
	if err != nil {
		return nil, err
	}
	calc, err := e.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, generic.BusinessRule("fee calculation %s is already approved", id)
	}
	if err := tx.AppendAudit(ctx, audit.Entry(generic.AuditCalculationApproved, "fee_calculation", id, nil)); err != nil {
		return nil, err
	}
	return calc, nil
}

// =============================================================================
// COMPUTATION
// =============================================================================

func validateCalculationParams(p *CalculationParams) error {
	if strings.TrimSpace(p.HostelID) == "" {
		return generic.Validation("hostel_id", "hostel id is required")
	}
	if strings.TrimSpace(p.RoomType) == "" {
		return generic.Validation("room_type", "room type is required")
	}
	if !p.FeeType.Valid() {
		return generic.Validation("fee_type", "invalid fee type %q", p.FeeType)
	}
	if !p.CalculationType.Valid() {
		return generic.Validation("calculation_type", "invalid calculation type %q", p.CalculationType)
	}
	if p.MoveInDate.IsZero() {
		return generic.Validation("move_in_date", "move-in date is required")
	}
	if p.DurationMonths < 1 || p.DurationMonths > MaxDurationMonths {
		return generic.Validation("duration_months", "duration must be between 1 and %d months", MaxDurationMonths)
	}
	if p.TaxPercentage != nil && (p.TaxPercentage.IsNegative() || p.TaxPercentage.GreaterThan(generic.Hundred)) {
		return generic.Validation("tax_percentage", "tax percentage must be between 0 and 100")
	}
	return nil
}

// lineTotals accumulates the component part of a calculation.
type lineTotals struct {
	recurring     decimal.Decimal // all months
	oneTime       decimal.Decimal
	prorateDelta  decimal.Decimal
	items         []BreakdownItem
	excludedNames []string
}

func (e *CalculationEngine) compute(ctx context.Context, tx Store, p CalculationParams) (*FeeCalculation, *DiscountConfiguration, error) {
	if err := validateCalculationParams(&p); err != nil {
		return nil, nil, err
	}

	s, err := e.Structures.GetCurrent(ctx, tx, p.HostelID, p.RoomType, p.FeeType, p.MoveInDate)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, generic.NotFound("fee structure",
			fmt.Sprintf("for %s/%s/%s on %s", p.HostelID, p.RoomType, p.FeeType, p.MoveInDate))
	}

	months := p.DurationMonths
	n := decimal.NewFromInt(int64(months))
	moveOut := p.MoveInDate.AddMonths(months)

	monthlyRent := s.MonthlyRent()
	monthlyMess := s.MonthlyMess()
	if p.OptOutMess {
		monthlyMess = decimal.Zero
	}
	monthlyUtilities := s.MonthlyUtilities()

	rentTotal := monthlyRent.Mul(n)
	messTotal := monthlyMess.Mul(n)
	utilityTotal := monthlyUtilities.Mul(n)
	deposit := s.SecurityDeposit

	// first-month proration
	factor := FullFactor
	var proration *ProrationResult
	if p.ProrateFirstMonth && p.MoveInDate.Day() != 1 {
		f, _, err := ComputeFactor(p.MoveInDate, p.MoveInDate.EndOfMonth(), ProrateDaily)
		if err != nil {
			return nil, nil, err
		}
		factor = f
	}
	rentAdj := factor.Apply(monthlyRent).Sub(monthlyRent)
	messAdj := factor.Apply(monthlyMess).Sub(monthlyMess)
	utilityAdj := factor.Apply(monthlyUtilities).Sub(monthlyUtilities)

	lines, err := e.components(ctx, tx, s, p, factor)
	if err != nil {
		return nil, nil, err
	}

	prorationAdjustment := generic.Sum(rentAdj, messAdj, utilityAdj, lines.prorateDelta)
	otherCharges := lines.recurring.Add(lines.oneTime)
	subtotal := generic.Sum(rentTotal, deposit, messTotal, utilityTotal, otherCharges, prorationAdjustment)

	if !factor.IsFull() {
		proration = &ProrationResult{
			StructureID:     s.ID,
			Method:          ProrateDaily,
			StartDate:       p.MoveInDate,
			EndDate:         p.MoveInDate.EndOfMonth(),
			ActualDays:      factor.Num,
			DaysInMonth:     factor.Den,
			Factor:          factor.Decimal(),
			MonthlyRent:     monthlyRent,
			ProratedRent:    factor.Apply(monthlyRent),
			MessCharge:      monthlyMess,
			ProratedMess:    factor.Apply(monthlyMess),
			UtilityCharge:   monthlyUtilities,
			ProratedUtility: factor.Apply(monthlyUtilities),
			SecurityDeposit: deposit,
		}
	}

	// discount
	base := DiscountBase{
		BaseRent: rentTotal.Add(rentAdj),
		Mess:     messTotal.Add(messAdj),
		Deposit:  deposit,
		Total:    subtotal,
	}
	discount, discountAmount, err := e.resolveDiscount(ctx, tx, p, base)
	if err != nil {
		return nil, nil, err
	}
	discountAmount = generic.MinDecimal(discountAmount, subtotal)

	taxPct := e.DefaultTaxPercentage
	if p.TaxPercentage != nil {
		taxPct = *p.TaxPercentage
	}
	afterDiscount := subtotal.Sub(discountAmount)
	tax := generic.Percent(afterDiscount, taxPct)
	total := afterDiscount.Add(tax)

	recurringCharges := generic.Sum(messTotal, utilityTotal, lines.recurring)
	monthlyRecurring := monthlyRent.Add(generic.Round2(recurringCharges.Div(n)))
	firstMonth := generic.Sum(monthlyRecurring, deposit, lines.oneTime, prorationAdjustment).Sub(discountAmount).Add(tax)

	calc := &FeeCalculation{
		ID:                  generic.NewID(),
		FeeStructureID:      s.ID,
		HostelID:            s.HostelID,
		RoomType:            s.RoomType,
		FeeType:             s.FeeType,
		CalculationType:     p.CalculationType,
		StudentID:           p.StudentID,
		BookingID:           p.BookingID,
		MoveInDate:          p.MoveInDate,
		MoveOutDate:         moveOut,
		DurationMonths:      months,
		MonthlyRent:         monthlyRent,
		RentTotal:           rentTotal,
		SecurityDeposit:     deposit,
		MessCharges:         messTotal,
		UtilityCharges:      utilityTotal,
		OtherCharges:        otherCharges,
		Subtotal:            subtotal,
		DiscountApplied:     discountAmount,
		TaxPercentage:       taxPct,
		TaxAmount:           tax,
		TotalPayable:        total,
		FirstMonthTotal:     firstMonth,
		MonthlyRecurring:    monthlyRecurring,
		ProrationAdjustment: prorationAdjustment,
	}
	if discount != nil {
		calc.DiscountID = &discount.ID
		calc.DiscountCode = discount.Code
	}
	if proration != nil {
		days := proration.ActualDays
		f := proration.Factor
		calc.IsProrated = true
		calc.ProratedDays = &days
		calc.ProrationFactor = &f
		proration.TotalFull = generic.Sum(monthlyRent, monthlyMess, monthlyUtilities)
		proration.TotalProrated = proration.TotalFull.Add(prorationAdjustment)
	}

	calc.PaymentSchedule = buildSchedule(p.MoveInDate, months, firstMonth, monthlyRecurring)
	calc.Breakdown = buildBreakdown(s, months, monthlyRent, monthlyMess, lines, proration)
	if discount != nil {
		code := ""
		if discount.Code != nil {
			code = *discount.Code
		}
		calc.Breakdown.Discount = &DiscountSummary{
			DiscountID: discount.ID,
			Name:       discount.Name,
			Code:       code,
			Type:       discount.Type,
			AppliesTo:  discount.AppliesTo,
			Base:       base.For(discount.AppliesTo),
			Amount:     discountAmount,
		}
	}
	return calc, discount, nil
}

// components prices every applicable component after its rules.
func (e *CalculationEngine) components(ctx context.Context, tx Store, s *FeeStructure, p CalculationParams, factor Factor) (*lineTotals, error) {
	comps, err := tx.ListComponents(ctx, s.ID, false)
	if err != nil {
		return nil, err
	}
	rules, err := tx.ListRulesForStructure(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	byComponent := rulesByComponent(rules)
	optional := generic.NewStringSet(p.OptionalComponentIDs...)

	rc := RuleContext{
		RoomType:     p.RoomType,
		StayMonths:   p.DurationMonths,
		IsNewStudent: p.IsNewStudent,
		MoveInDate:   p.MoveInDate,
	}
	n := decimal.NewFromInt(int64(p.DurationMonths))

	out := &lineTotals{recurring: decimal.Zero, oneTime: decimal.Zero, prorateDelta: decimal.Zero}
	for i := range comps {
		c := &comps[i]
		if !c.AppliesToRoomType(p.RoomType) || !c.AppliesOn(p.MoveInDate) {
			continue
		}
		if !c.IsMandatory && !optional.Contains(c.ID) {
			continue
		}

		outcome := EvaluateRules(c.Amount, byComponent[c.ID], rc)
		if outcome.Excluded {
			out.excludedNames = append(out.excludedNames, c.Name)
			continue
		}

		item := BreakdownItem{
			Label:        c.Name,
			Category:     string(c.Type),
			ComponentID:  c.ID,
			UnitAmount:   outcome.Amount,
			Quantity:     1,
			Total:        outcome.Amount,
			Recurring:    c.IsRecurring,
			Refundable:   c.IsRefundable,
			AppliedRules: outcome.Applied,
		}
		if c.IsRecurring {
			item.Quantity = p.DurationMonths
			item.Total = outcome.Amount.Mul(n)
			out.recurring = out.recurring.Add(item.Total)
			if c.ProrationAllowed || outcome.Prorate {
				out.prorateDelta = out.prorateDelta.Add(factor.Apply(outcome.Amount).Sub(outcome.Amount))
			}
		} else {
			out.oneTime = out.oneTime.Add(item.Total)
		}
		out.items = append(out.items, item)
	}
	return out, nil
}

func (e *CalculationEngine) resolveDiscount(ctx context.Context, tx Store, p CalculationParams, base DiscountBase) (*DiscountConfiguration, decimal.Decimal, error) {
	elig := Eligibility{
		HostelID:     p.HostelID,
		RoomType:     p.RoomType,
		IsNewStudent: p.IsNewStudent,
		StayMonths:   p.DurationMonths,
		AsOf:         p.MoveInDate,
	}

	if p.DiscountCode != nil && strings.TrimSpace(*p.DiscountCode) != "" {
		d, err := e.Discounts.FindByCode(ctx, tx, *p.DiscountCode, p.MoveInDate)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if d == nil {
			return nil, decimal.Zero, generic.BusinessRule("discount code %q is not valid", NormalizeCode(*p.DiscountCode))
		}
		if a := CheckApplicability(d, elig); !a.Eligible {
			return nil, decimal.Zero, generic.BusinessRule("discount code %q: %s", *d.Code, a.Reason)
		}
		return d, d.AmountFor(base.For(d.AppliesTo)), nil
	}

	if p.AutoApplyDiscount {
		d, amount, err := e.Discounts.BestApplicable(ctx, tx, elig, base)
		if err != nil || d == nil || amount.IsZero() {
			return nil, decimal.Zero, err
		}
		return d, amount, nil
	}
	return nil, decimal.Zero, nil
}

func buildSchedule(moveIn generic.Date, months int, firstMonth, recurring decimal.Decimal) []ScheduleEntry {
	schedule := make([]ScheduleEntry, 0, months)
	for i := 1; i <= months; i++ {
		entry := ScheduleEntry{
			Installment: i,
			DueDate:     moveIn.AddMonths(i - 1),
			Amount:      recurring,
			Description: fmt.Sprintf("Month %d rent and recurring charges", i),
		}
		if i == 1 {
			entry.Amount = firstMonth
			entry.Description = "First month: rent, deposit, one-time charges, discount and tax"
		}
		schedule = append(schedule, entry)
	}
	return schedule
}

func buildBreakdown(s *FeeStructure, months int, rent, mess decimal.Decimal, lines *lineTotals, proration *ProrationResult) Breakdown {
	n := decimal.NewFromInt(int64(months))
	items := []BreakdownItem{{
		Label:      "Base rent",
		Category:   string(ComponentRent),
		UnitAmount: rent,
		Quantity:   months,
		Total:      rent.Mul(n),
		Recurring:  true,
	}}
	if s.SecurityDeposit.IsPositive() {
		items = append(items, BreakdownItem{
			Label:      "Security deposit",
			Category:   string(ComponentDeposit),
			UnitAmount: s.SecurityDeposit,
			Quantity:   1,
			Total:      s.SecurityDeposit,
			Refundable: true,
		})
	}
	if mess.IsPositive() {
		items = append(items, BreakdownItem{
			Label: "Mess charges", Category: string(ComponentMess),
			UnitAmount: mess, Quantity: months, Total: mess.Mul(n), Recurring: true,
		})
	}
	if s.UtilityChargeType == UtilityFixedMonthly {
		if s.ElectricityCharge.IsPositive() {
			items = append(items, BreakdownItem{
				Label: "Electricity", Category: string(ComponentElectricity),
				UnitAmount: s.ElectricityCharge, Quantity: months, Total: s.ElectricityCharge.Mul(n), Recurring: true,
			})
		}
		if s.WaterCharge.IsPositive() {
			items = append(items, BreakdownItem{
				Label: "Water", Category: string(ComponentWater),
				UnitAmount: s.WaterCharge, Quantity: months, Total: s.WaterCharge.Mul(n), Recurring: true,
			})
		}
	}
	items = append(items, lines.items...)

	return Breakdown{
		Items:           items,
		Proration:       proration,
		ExcludedCharges: lines.excludedNames,
	}
}
