/*
discount.go - Standalone discount definitions with quotas and eligibility

PURPOSE:
  DiscountCatalog manages reusable discounts that are independent of any
  fee structure. A discount is a percentage, a fixed amount or a full
  waiver of one part of the bill (base rent, mess, deposit or total).

VALUE FIELDS:
  percentage   Percentage in (0, 100], Amount nil
  fixed_amount Amount > 0, Percentage nil
  waiver       Percentage = 100, Amount nil (normalized on write)

ELIGIBILITY (ValidateApplicability):
  Checks run in this exact order; the first failure is the reason given
  to the user:

    1. active (and not deleted)
    2. validity window contains the date
    3. usage below cap
    4. hostel list empty or contains the hostel
    5. room-type list empty or contains the room type
    6. new-students-only flag satisfied
    7. stay length >= minimum stay months

USAGE COUNTER:
  IncrementUsage is one conditional UPDATE (... WHERE count < max), so two
  concurrent redemptions of the last slot cannot both succeed.

BEST APPLICABLE:
  Largest computed amount wins. Ties go to the discount created first,
  then to the lowest id, so the choice never depends on query order.

SEE ALSO:
  - calculation.go: Applies at most one discount per calculation
*/
package fees

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fee-engine/generic"
)

// DiscountCatalog manages discount configurations.
type DiscountCatalog struct {
	Logger *zap.Logger
}

func (c *DiscountCatalog) logger() *zap.Logger { return nopIfNil(c.Logger) }

// NormalizeCode trims and upper-cases a discount code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// =============================================================================
// PARAMETERS
// =============================================================================

type DiscountParams struct {
	Name            string
	Code            *string
	Type            DiscountType
	Percentage      *decimal.Decimal
	Amount          *decimal.Decimal
	AppliesTo       DiscountTarget
	Description     string
	HostelIDs       []string
	RoomTypes       []string
	MinStayMonths   *int
	NewStudentsOnly bool
	MaxUsageCount   *int
	ValidFrom       *generic.Date
	ValidTo         *generic.Date
	// IsActive defaults to true.
	IsActive *bool
}

type DiscountChanges struct {
	Name            *string
	Code            *string
	ClearCode       bool
	Type            *DiscountType
	Percentage      *decimal.Decimal
	Amount          *decimal.Decimal
	AppliesTo       *DiscountTarget
	Description     *string
	HostelIDs       *[]string
	RoomTypes       *[]string
	MinStayMonths   *int
	NewStudentsOnly *bool
	MaxUsageCount   *int
	ValidFrom       *generic.Date
	ValidTo         *generic.Date
	IsActive        *bool
}

// Eligibility describes a stay a discount is checked against.
type Eligibility struct {
	HostelID     string
	RoomType     string
	IsNewStudent bool
	StayMonths   int
	AsOf         generic.Date
}

// Applicability is the result of ValidateApplicability.
type Applicability struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// DiscountBase gives the amount each target is computed against.
type DiscountBase struct {
	BaseRent decimal.Decimal
	Mess     decimal.Decimal
	Deposit  decimal.Decimal
	Total    decimal.Decimal
}

// UniformBase uses the same amount for every target.
func UniformBase(amount decimal.Decimal) DiscountBase {
	return DiscountBase{BaseRent: amount, Mess: amount, Deposit: amount, Total: amount}
}

func (b DiscountBase) For(target DiscountTarget) decimal.Decimal {
	switch target {
	case TargetBaseRent:
		return b.BaseRent
	case TargetMess:
		return b.Mess
	case TargetDeposit:
		return b.Deposit
	default:
		return b.Total
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateDiscount(d *DiscountConfiguration) error {
	if strings.TrimSpace(d.Name) == "" {
		return generic.Validation("name", "discount name is required")
	}
	if d.Code != nil && *d.Code == "" {
		return generic.Validation("code", "discount code must not be blank")
	}
	if !d.Type.Valid() {
		return generic.Validation("type", "invalid discount type %q", d.Type)
	}
	if !d.AppliesTo.Valid() {
		return generic.Validation("applies_to", "invalid discount target %q", d.AppliesTo)
	}

	if d.Type == DiscountWaiver && d.Percentage == nil && d.Amount == nil {
		full := generic.Hundred
		d.Percentage = &full
	}
	if (d.Percentage == nil) == (d.Amount == nil) {
		return generic.Validation("percentage", "exactly one of percentage or amount must be set")
	}
	switch d.Type {
	case DiscountPercentage:
		if d.Percentage == nil {
			return generic.Validation("percentage", "percentage discount requires a percentage")
		}
		if !d.Percentage.IsPositive() || d.Percentage.GreaterThan(generic.Hundred) {
			return generic.Validation("percentage", "percentage must be in (0, 100]")
		}
	case DiscountFixedAmount:
		if d.Amount == nil {
			return generic.Validation("amount", "fixed amount discount requires an amount")
		}
		if !d.Amount.IsPositive() {
			return generic.Validation("amount", "amount must be positive")
		}
	case DiscountWaiver:
		if d.Percentage == nil || !d.Percentage.Equal(generic.Hundred) {
			return generic.Validation("percentage", "waiver discounts cover the full base")
		}
	}

	if d.MinStayMonths != nil && *d.MinStayMonths < 0 {
		return generic.Validation("min_stay_months", "must not be negative")
	}
	if d.MaxUsageCount != nil && *d.MaxUsageCount < 0 {
		return generic.Validation("max_usage_count", "must not be negative")
	}
	if d.MaxUsageCount != nil && d.CurrentUsageCount > *d.MaxUsageCount {
		return generic.Validation("max_usage_count", "cap %d is below current usage %d", *d.MaxUsageCount, d.CurrentUsageCount)
	}
	if !d.Window().Valid() {
		return generic.Validation("valid_to", "valid_to must be after valid_from")
	}
	return nil
}

func (c *DiscountCatalog) ensureUniqueCode(ctx context.Context, tx Store, d *DiscountConfiguration) error {
	if d.Code == nil {
		return nil
	}
	existing, err := tx.GetDiscountByCode(ctx, *d.Code)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != d.ID {
		return generic.Conflict("discount code %q already exists", *d.Code)
	}
	return nil
}

// =============================================================================
// CRUD
// =============================================================================

func (c *DiscountCatalog) Create(ctx context.Context, tx Store, audit generic.AuditContext, p DiscountParams) (*DiscountConfiguration, error) {
	d := &DiscountConfiguration{
		ID:              generic.NewID(),
		Name:            strings.TrimSpace(p.Name),
		Type:            p.Type,
		Percentage:      p.Percentage,
		Amount:          p.Amount,
		AppliesTo:       p.AppliesTo,
		Description:     p.Description,
		HostelIDs:       generic.NewStringSet(p.HostelIDs...),
		RoomTypes:       generic.NewStringSet(p.RoomTypes...),
		MinStayMonths:   p.MinStayMonths,
		NewStudentsOnly: p.NewStudentsOnly,
		MaxUsageCount:   p.MaxUsageCount,
		ValidFrom:       p.ValidFrom,
		ValidTo:         p.ValidTo,
		IsActive:        p.IsActive == nil || *p.IsActive,
		CreatedBy:       audit.ActorID,
		UpdatedBy:       audit.ActorID,
		CreatedAt:       audit.At,
		UpdatedAt:       audit.At,
	}
	if d.AppliesTo == "" {
		d.AppliesTo = TargetTotal
	}
	if p.Code != nil {
		code := NormalizeCode(*p.Code)
		d.Code = &code
	}
	if d.Amount != nil {
		amt := generic.Round2(*d.Amount)
		d.Amount = &amt
	}
	if err := validateDiscount(d); err != nil {
		return nil, err
	}
	if err := c.ensureUniqueCode(ctx, tx, d); err != nil {
		return nil, err
	}

	if err := tx.InsertDiscount(ctx, d); err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, audit.Entry(generic.AuditDiscountCreated, "discount", d.ID, map[string]any{
		"name": d.Name,
		"type": string(d.Type),
	})); err != nil {
		return nil, err
	}

	c.logger().Info("discount created", zap.String("id", d.ID), zap.String("name", d.Name))
	return d, nil
}

func (c *DiscountCatalog) Update(ctx context.Context, tx Store, audit generic.AuditContext, id string, ch DiscountChanges) (*DiscountConfiguration, error) {
	d, err := c.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if ch.Name != nil {
		d.Name = strings.TrimSpace(*ch.Name)
	}
	if ch.ClearCode {
		d.Code = nil
	} else if ch.Code != nil {
		code := NormalizeCode(*ch.Code)
		d.Code = &code
	}
	if ch.Type != nil {
		d.Type = *ch.Type
		// switching type resets the value fields unless new ones are given
		d.Percentage, d.Amount = nil, nil
	}
	if ch.Percentage != nil {
		d.Percentage, d.Amount = ch.Percentage, nil
	}
	if ch.Amount != nil {
		amt := generic.Round2(*ch.Amount)
		d.Amount, d.Percentage = &amt, nil
	}
	if ch.AppliesTo != nil {
		d.AppliesTo = *ch.AppliesTo
	}
	if ch.Description != nil {
		d.Description = *ch.Description
	}
	if ch.HostelIDs != nil {
		d.HostelIDs = generic.NewStringSet(*ch.HostelIDs...)
	}
	if ch.RoomTypes != nil {
		d.RoomTypes = generic.NewStringSet(*ch.RoomTypes...)
	}
	if ch.MinStayMonths != nil {
		d.MinStayMonths = ch.MinStayMonths
	}
	if ch.NewStudentsOnly != nil {
		d.NewStudentsOnly = *ch.NewStudentsOnly
	}
	if ch.MaxUsageCount != nil {
		d.MaxUsageCount = ch.MaxUsageCount
	}
	if ch.ValidFrom != nil {
		d.ValidFrom = ch.ValidFrom
	}
	if ch.ValidTo != nil {
		d.ValidTo = ch.ValidTo
	}
	if ch.IsActive != nil {
		d.IsActive = *ch.IsActive
	}

	if err := validateDiscount(d); err != nil {
		return nil, err
	}
	if err := c.ensureUniqueCode(ctx, tx, d); err != nil {
		return nil, err
	}

	d.UpdatedBy = audit.ActorID
	d.UpdatedAt = audit.At
	if err := tx.UpdateDiscount(ctx, d); err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, audit.Entry(generic.AuditDiscountUpdated, "discount", d.ID, nil)); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete soft-deletes and deactivates a discount.
func (c *DiscountCatalog) Delete(ctx context.Context, tx Store, audit generic.AuditContext, id string) error {
	d, err := c.Get(ctx, tx, id)
	if err != nil {
		return err
	}
	at := audit.At
	d.DeletedAt = &at
	d.IsActive = false
	d.UpdatedBy = audit.ActorID
	d.UpdatedAt = audit.At
	if err := tx.UpdateDiscount(ctx, d); err != nil {
		return err
	}
	return tx.AppendAudit(ctx, audit.Entry(generic.AuditDiscountDeleted, "discount", d.ID, nil))
}

func (c *DiscountCatalog) Get(ctx context.Context, tx Store, id string) (*DiscountConfiguration, error) {
	d, err := tx.GetDiscount(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil || d.DeletedAt != nil {
		return nil, generic.NotFound("discount", id)
	}
	return d, nil
}

func (c *DiscountCatalog) List(ctx context.Context, tx Store, filter DiscountFilter) ([]DiscountConfiguration, error) {
	return tx.ListDiscounts(ctx, filter)
}

// FindByCode returns the discount for code when it is active, in its
// validity window on asOf and below its cap; otherwise (nil, nil).
func (c *DiscountCatalog) FindByCode(ctx context.Context, tx Store, code string, asOf generic.Date) (*DiscountConfiguration, error) {
	d, err := tx.GetDiscountByCode(ctx, NormalizeCode(code))
	if err != nil || d == nil {
		return nil, err
	}
	if !d.IsActive || d.DeletedAt != nil || !d.Window().Contains(asOf) || !d.HasCapacity() {
		return nil, nil
	}
	return d, nil
}

// =============================================================================
// ELIGIBILITY & AMOUNTS
// =============================================================================

// CheckApplicability runs the ordered eligibility checks on d.
func CheckApplicability(d *DiscountConfiguration, e Eligibility) Applicability {
	switch {
	case !d.IsActive || d.DeletedAt != nil:
		return Applicability{Reason: "discount is not active"}
	case !d.Window().Contains(e.AsOf):
		return Applicability{Reason: "discount is not valid on " + e.AsOf.String()}
	case !d.HasCapacity():
		return Applicability{Reason: "discount usage limit reached"}
	case !d.HostelIDs.Allows(e.HostelID):
		return Applicability{Reason: "discount does not apply to this hostel"}
	case !d.RoomTypes.Allows(e.RoomType):
		return Applicability{Reason: "discount does not apply to this room type"}
	case d.NewStudentsOnly && !e.IsNewStudent:
		return Applicability{Reason: "discount is only for new students"}
	case d.MinStayMonths != nil && e.StayMonths < *d.MinStayMonths:
		return Applicability{Reason: "minimum stay is " + strconv.Itoa(*d.MinStayMonths) + " months"}
	}
	return Applicability{Eligible: true}
}

func (c *DiscountCatalog) ValidateApplicability(ctx context.Context, tx Store, id string, e Eligibility) (Applicability, error) {
	d, err := c.Get(ctx, tx, id)
	if err != nil {
		return Applicability{}, err
	}
	return CheckApplicability(d, e), nil
}

// AmountFor computes the discount on base:
// percentage → round(base × pct / 100, 2), fixed → min(amount, base),
// waiver → base.
func (d *DiscountConfiguration) AmountFor(base decimal.Decimal) decimal.Decimal {
	base = generic.NonNegative(base)
	switch d.Type {
	case DiscountWaiver:
		return base
	case DiscountFixedAmount:
		if d.Amount == nil {
			return decimal.Zero
		}
		return generic.MinDecimal(*d.Amount, base)
	default:
		if d.Percentage == nil {
			return decimal.Zero
		}
		return generic.Percent(base, *d.Percentage)
	}
}

func (c *DiscountCatalog) CalculateAmount(ctx context.Context, tx Store, id string, base decimal.Decimal) (decimal.Decimal, error) {
	d, err := c.Get(ctx, tx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return d.AmountFor(base), nil
}

// BestApplicable returns the eligible discount with the largest amount, or
// nil when none applies.
func (c *DiscountCatalog) BestApplicable(ctx context.Context, tx Store, e Eligibility, base DiscountBase) (*DiscountConfiguration, decimal.Decimal, error) {
	candidates, err := tx.ListDiscounts(ctx, DiscountFilter{ActiveOnly: true})
	if err != nil {
		return nil, decimal.Zero, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	var best *DiscountConfiguration
	bestAmount := decimal.Zero
	for i := range candidates {
		d := &candidates[i]
		if !CheckApplicability(d, e).Eligible {
			continue
		}
		amount := d.AmountFor(base.For(d.AppliesTo))
		// strict comparison keeps the earlier candidate on ties
		if best == nil || amount.GreaterThan(bestAmount) {
			best, bestAmount = d, amount
		}
	}
	return best, bestAmount, nil
}

// =============================================================================
// USAGE COUNTER
// =============================================================================

// IncrementUsage records one redemption; at the cap it fails with a
// business-rule error and leaves the counter unchanged.
func (c *DiscountCatalog) IncrementUsage(ctx context.Context, tx Store, audit generic.AuditContext, id string) error {
	ok, err := tx.IncrementDiscountUsage(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		d, err := tx.GetDiscount(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return generic.NotFound("discount", id)
		}
		return generic.BusinessRule("discount %q has reached its usage limit", d.Name)
	}
	return tx.AppendAudit(ctx, audit.Entry(generic.AuditDiscountUsage, "discount", id, map[string]any{"delta": 1}))
}

// DecrementUsage releases one redemption; the counter never goes below 0.
func (c *DiscountCatalog) DecrementUsage(ctx context.Context, tx Store, audit generic.AuditContext, id string) error {
	if _, err := c.Get(ctx, tx, id); err != nil {
		return err
	}
	if err := tx.DecrementDiscountUsage(ctx, id); err != nil {
		return err
	}
	return tx.AppendAudit(ctx, audit.Entry(generic.AuditDiscountUsage, "discount", id, map[string]any{"delta": -1}))
}
