/*
structure.go - Versioned base pricing per (hostel, room type, fee type)

PURPOSE:
  StructureCatalog owns the FeeStructure lifecycle: creation, amendment,
  versioning, soft delete and "what is the price on date X" lookups.

TEMPORAL INVARIANT:
  For one tuple, no two ACTIVE rows have overlapping [EffectiveFrom,
  EffectiveTo] ranges (an open end extends forever).

  Writing a new active row:

    existing: [2025-01-01, open)        ← open-ended, starts earlier
    new:                  [2025-07-01, open)

    result:   [2025-01-01, 2025-06-30]  inactive, SupersededBy=new
              [2025-07-01, open)        active, version+1

  Any other overlap (a closed range, or an open range starting on or
  after the new row) is a conflict. The check runs in the caller's
  transaction; the database backs it with an exclusion constraint
  (PostgreSQL) or a serialized writer (SQLite).

VERSIONS:
  Version = highest existing version for the tuple + 1, so versions are
  strictly increasing per tuple even across deletes.

APPROVAL:
  When approval is required, new rows (and new versions) are stored
  inactive and only placed on the timeline by ApprovalWorkflow.Approve,
  which runs the same overlap/supersede step.

SEE ALSO:
  - approval.go: Activates structures on approval
  - calculation.go: Resolves the current structure for a stay
*/
package fees

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fee-engine/generic"
)

var (
	MinStructureAmount = decimal.NewFromInt(500)
	MaxStructureAmount = decimal.NewFromInt(100000)
	MaxMessCharge      = decimal.NewFromInt(10000)
	maxDepositFactor   = decimal.NewFromInt(3)
)

// StructureCatalog manages fee structures.
type StructureCatalog struct {
	// RequireApproval stores new rows inactive until approved.
	RequireApproval bool
	Logger          *zap.Logger
}

func (c *StructureCatalog) logger() *zap.Logger { return nopIfNil(c.Logger) }

// =============================================================================
// PARAMETERS
// =============================================================================

type CreateStructureParams struct {
	HostelID          string
	RoomType          string
	FeeType           FeeType
	Amount            decimal.Decimal
	SecurityDeposit   decimal.Decimal
	IncludesMess      bool
	MessChargeMonthly decimal.Decimal
	UtilityChargeType UtilityChargeType
	ElectricityCharge decimal.Decimal
	WaterCharge       decimal.Decimal
	EffectiveFrom     generic.Date
	EffectiveTo       *generic.Date
	Description       string

	// RequireApproval overrides the catalog default when set.
	RequireApproval *bool
}

// StructureChanges updates only the populated fields.
type StructureChanges struct {
	Amount            *decimal.Decimal
	SecurityDeposit   *decimal.Decimal
	IncludesMess      *bool
	MessChargeMonthly *decimal.Decimal
	UtilityChargeType *UtilityChargeType
	ElectricityCharge *decimal.Decimal
	WaterCharge       *decimal.Decimal
	EffectiveFrom     *generic.Date
	EffectiveTo       *generic.Date
	ClearEffectiveTo  bool
	Description       *string
}

// pricesChanged is true when any field that feeds a calculation changes.
func (ch StructureChanges) pricesChanged() bool {
	return ch.Amount != nil || ch.SecurityDeposit != nil || ch.IncludesMess != nil ||
		ch.MessChargeMonthly != nil || ch.UtilityChargeType != nil ||
		ch.ElectricityCharge != nil || ch.WaterCharge != nil
}

func (ch StructureChanges) apply(s *FeeStructure) {
	if ch.Amount != nil {
		s.Amount = generic.Round2(*ch.Amount)
	}
	if ch.SecurityDeposit != nil {
		s.SecurityDeposit = generic.Round2(*ch.SecurityDeposit)
	}
	if ch.IncludesMess != nil {
		s.IncludesMess = *ch.IncludesMess
	}
	if ch.MessChargeMonthly != nil {
		s.MessChargeMonthly = generic.Round2(*ch.MessChargeMonthly)
	}
	if ch.UtilityChargeType != nil {
		s.UtilityChargeType = *ch.UtilityChargeType
	}
	if ch.ElectricityCharge != nil {
		s.ElectricityCharge = generic.Round2(*ch.ElectricityCharge)
	}
	if ch.WaterCharge != nil {
		s.WaterCharge = generic.Round2(*ch.WaterCharge)
	}
	if ch.EffectiveFrom != nil {
		s.EffectiveFrom = *ch.EffectiveFrom
	}
	if ch.ClearEffectiveTo {
		s.EffectiveTo = nil
	} else if ch.EffectiveTo != nil {
		s.EffectiveTo = ch.EffectiveTo
	}
	if ch.Description != nil {
		s.Description = *ch.Description
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateStructure checks every per-row invariant of a fee structure.
func ValidateStructure(s *FeeStructure) error {
	if strings.TrimSpace(s.HostelID) == "" {
		return generic.Validation("hostel_id", "hostel id is required")
	}
	if strings.TrimSpace(s.RoomType) == "" {
		return generic.Validation("room_type", "room type is required")
	}
	if !s.FeeType.Valid() {
		return generic.Validation("fee_type", "invalid fee type %q", s.FeeType)
	}
	if s.Amount.LessThan(MinStructureAmount) || s.Amount.GreaterThan(MaxStructureAmount) {
		return generic.Validation("amount", "amount must be between %s and %s", MinStructureAmount, MaxStructureAmount)
	}
	maxDeposit := s.Amount.Mul(maxDepositFactor)
	if s.SecurityDeposit.IsNegative() || s.SecurityDeposit.GreaterThan(maxDeposit) {
		return generic.Validation("security_deposit", "security deposit must be between 0 and %s (3x amount)", maxDeposit.StringFixed(2))
	}
	if s.MessChargeMonthly.IsNegative() || s.MessChargeMonthly.GreaterThan(MaxMessCharge) {
		return generic.Validation("mess_charge_monthly", "mess charge must be between 0 and %s", MaxMessCharge)
	}
	if s.IncludesMess && s.MessChargeMonthly.IsPositive() {
		return generic.Validation("mess_charge_monthly", "mess charge must be zero when mess is included")
	}
	if !s.UtilityChargeType.Valid() {
		return generic.Validation("utility_charge_type", "invalid utility charge type %q", s.UtilityChargeType)
	}
	if s.ElectricityCharge.IsNegative() || s.WaterCharge.IsNegative() {
		return generic.Validation("utility_charges", "utility charges must be >= 0")
	}
	if s.EffectiveFrom.IsZero() {
		return generic.Validation("effective_from", "effective from date is required")
	}
	if !s.Range().Valid() {
		return generic.Validation("effective_to", "effective to must be after effective from")
	}
	return nil
}

// =============================================================================
// CREATE
// =============================================================================

// Create inserts a new structure for a tuple, active or pending approval.
func (c *StructureCatalog) Create(ctx context.Context, tx Store, audit generic.AuditContext, p CreateStructureParams) (*FeeStructure, error) {
	utility := p.UtilityChargeType
	if utility == "" {
		utility = UtilityIncluded
	}
	s := &FeeStructure{
		ID:                generic.NewID(),
		HostelID:          strings.TrimSpace(p.HostelID),
		RoomType:          strings.TrimSpace(p.RoomType),
		FeeType:           p.FeeType,
		Amount:            generic.Round2(p.Amount),
		SecurityDeposit:   generic.Round2(p.SecurityDeposit),
		IncludesMess:      p.IncludesMess,
		MessChargeMonthly: generic.Round2(p.MessChargeMonthly),
		UtilityChargeType: utility,
		ElectricityCharge: generic.Round2(p.ElectricityCharge),
		WaterCharge:       generic.Round2(p.WaterCharge),
		EffectiveFrom:     p.EffectiveFrom,
		EffectiveTo:       p.EffectiveTo,
		Description:       p.Description,
		CreatedBy:         audit.ActorID,
		UpdatedBy:         audit.ActorID,
		CreatedAt:         audit.At,
		UpdatedAt:         audit.At,
	}
	if err := ValidateStructure(s); err != nil {
		return nil, err
	}

	version, err := tx.MaxStructureVersion(ctx, s.Tuple())
	if err != nil {
		return nil, err
	}
	s.Version = version + 1

	requireApproval := c.RequireApproval
	if p.RequireApproval != nil {
		requireApproval = *p.RequireApproval
	}

	if requireApproval {
		if err := c.insertPending(ctx, tx, s); err != nil {
			return nil, err
		}
	} else {
		if err := c.place(ctx, tx, audit, s, true); err != nil {
			return nil, err
		}
	}

	if err := tx.AppendAudit(ctx, audit.Entry(generic.AuditStructureCreated, "fee_structure", s.ID, map[string]any{
		"hostel_id": s.HostelID,
		"room_type": s.RoomType,
		"fee_type":  string(s.FeeType),
		"amount":    s.Amount.String(),
		"version":   s.Version,
		"active":    s.IsActive,
	})); err != nil {
		return nil, err
	}

	c.logger().Info("fee structure created",
		zap.String("id", s.ID),
		zap.String("hostel_id", s.HostelID),
		zap.String("room_type", s.RoomType),
		zap.String("fee_type", string(s.FeeType)),
		zap.Int("version", s.Version),
		zap.Bool("active", s.IsActive))
	return s, nil
}

// Activate places an existing inactive structure on the timeline. Used by
// the approval workflow.
func (c *StructureCatalog) Activate(ctx context.Context, tx Store, audit generic.AuditContext, s *FeeStructure) error {
	if err := ValidateStructure(s); err != nil {
		return err
	}
	s.UpdatedBy = audit.ActorID
	s.UpdatedAt = audit.At
	return c.place(ctx, tx, audit, s, false)
}

// insertPending stores s inactive. The timeline is checked now so a
// structure that could never be approved is refused up front.
func (c *StructureCatalog) insertPending(ctx context.Context, tx Store, s *FeeStructure) error {
	if _, err := supersedeSet(ctx, tx, s); err != nil {
		return err
	}
	s.IsActive = false
	return tx.InsertStructure(ctx, s)
}

// supersedeSet returns the active rows that placing s would supersede, or
// a conflict when some overlapping row cannot be superseded. A row is
// supersedable when s names it in Supersedes, or when it is open-ended
// and starts earlier.
func supersedeSet(ctx context.Context, tx Store, s *FeeStructure) ([]FeeStructure, error) {
	active, err := tx.ListStructures(ctx, StructureFilter{
		HostelID:   s.HostelID,
		RoomType:   s.RoomType,
		FeeType:    s.FeeType,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}

	predecessorID := ""
	if s.Supersedes != nil {
		predecessorID = *s.Supersedes
	}

	newRange := s.Range()
	var superseded []FeeStructure
	for _, existing := range active {
		if existing.ID == s.ID || !existing.Range().Overlaps(newRange) {
			continue
		}
		supersedable := existing.ID == predecessorID ||
			(existing.IsOpenEnded() && existing.EffectiveFrom.Before(s.EffectiveFrom))
		// the shortened predecessor must still satisfy to > from
		if !supersedable || !s.EffectiveFrom.AddDays(-1).After(existing.EffectiveFrom) {
			return nil, generic.Conflict("fee structure overlaps active version %d (%s) for %s/%s/%s",
				existing.Version, existing.Range(), s.HostelID, s.RoomType, s.FeeType)
		}
		superseded = append(superseded, existing)
	}
	return superseded, nil
}

// place makes s the active row for its range. Overlapping active rows are
// either superseded or reported as a conflict; insert selects between a new
// row and an update of an existing one.
func (c *StructureCatalog) place(ctx context.Context, tx Store, audit generic.AuditContext, s *FeeStructure, insert bool) error {
	superseded, err := supersedeSet(ctx, tx, s)
	if err != nil {
		return err
	}

	// End-date predecessors first so the new active range never overlaps.
	end := s.EffectiveFrom.AddDays(-1)
	for i := range superseded {
		old := &superseded[i]
		old.EffectiveTo = &end
		old.IsActive = false
		old.UpdatedBy = audit.ActorID
		old.UpdatedAt = audit.At
		if err := tx.UpdateStructure(ctx, old); err != nil {
			return err
		}
	}

	s.IsActive = true
	if insert {
		err = tx.InsertStructure(ctx, s)
	} else {
		err = tx.UpdateStructure(ctx, s)
	}
	if err != nil {
		return err
	}

	for i := range superseded {
		old := &superseded[i]
		old.SupersededBy = &s.ID
		if err := tx.UpdateStructure(ctx, old); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, audit.Entry(generic.AuditStructureSuperseded, "fee_structure", old.ID, map[string]any{
			"superseded_by": s.ID,
			"effective_to":  end.String(),
		})); err != nil {
			return err
		}
		c.logger().Info("fee structure superseded",
			zap.String("id", old.ID),
			zap.String("superseded_by", s.ID),
			zap.String("effective_to", end.String()))
	}
	return nil
}

// IsOpenEnded reports whether the structure has no end date.
func (s *FeeStructure) IsOpenEnded() bool { return s.EffectiveTo == nil }

// =============================================================================
// AMEND
// =============================================================================

// Amend changes a structure. With createNewVersion the current row is
// end-dated and linked to a new row carrying the changes; otherwise the
// row is mutated in place, which is refused for priced fields once a
// calculation references it.
func (c *StructureCatalog) Amend(ctx context.Context, tx Store, audit generic.AuditContext, id string, ch StructureChanges, createNewVersion bool) (*FeeStructure, error) {
	current, err := c.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if createNewVersion {
		return c.newVersion(ctx, tx, audit, current, ch)
	}

	if ch.pricesChanged() {
		refs, err := tx.CountCalculationsForStructure(ctx, current.ID)
		if err != nil {
			return nil, err
		}
		if refs > 0 {
			return nil, generic.BusinessRule("fee structure %s is referenced by %d calculation(s); create a new version instead", current.ID, refs)
		}
	}

	rangeChanged := ch.EffectiveFrom != nil || ch.EffectiveTo != nil || ch.ClearEffectiveTo
	ch.apply(current)
	if err := ValidateStructure(current); err != nil {
		return nil, err
	}

	if current.IsActive && rangeChanged {
		if err := checkNoOverlap(ctx, tx, current); err != nil {
			return nil, err
		}
	}

	current.UpdatedBy = audit.ActorID
	current.UpdatedAt = audit.At
	if err := tx.UpdateStructure(ctx, current); err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, audit.Entry(generic.AuditStructureAmended, "fee_structure", current.ID, map[string]any{
		"amount":         current.Amount.String(),
		"effective_from": current.EffectiveFrom.String(),
	})); err != nil {
		return nil, err
	}
	return current, nil
}

func (c *StructureCatalog) newVersion(ctx context.Context, tx Store, audit generic.AuditContext, current *FeeStructure, ch StructureChanges) (*FeeStructure, error) {
	if current.SupersededBy != nil {
		return nil, generic.BusinessRule("fee structure %s is already superseded by %s", current.ID, *current.SupersededBy)
	}

	from := audit.Date()
	if ch.EffectiveFrom != nil {
		from = *ch.EffectiveFrom
	}
	if !from.AddDays(-1).After(current.EffectiveFrom) {
		return nil, generic.Validation("effective_from", "new version must start at least two days after %s", current.EffectiveFrom)
	}
	if current.EffectiveTo != nil && from.After(*current.EffectiveTo) {
		return nil, generic.Validation("effective_from", "new version must start within the current range %s", current.Range())
	}

	next := *current
	next.ID = generic.NewID()
	next.SupersededBy = nil
	next.Supersedes = nil
	next.IsActive = false
	next.DeletedAt = nil
	next.EffectiveTo = nil
	ch.apply(&next)
	next.EffectiveFrom = from
	next.CreatedBy = audit.ActorID
	next.UpdatedBy = audit.ActorID
	next.CreatedAt = audit.At
	next.UpdatedAt = audit.At
	if err := ValidateStructure(&next); err != nil {
		return nil, err
	}

	version, err := tx.MaxStructureVersion(ctx, next.Tuple())
	if err != nil {
		return nil, err
	}
	next.Version = version + 1

	if current.IsActive {
		next.Supersedes = &current.ID
	}
	if c.RequireApproval {
		if err := c.insertPending(ctx, tx, &next); err != nil {
			return nil, err
		}
	} else {
		if err := c.place(ctx, tx, audit, &next, true); err != nil {
			return nil, err
		}
	}

	if err := tx.AppendAudit(ctx, audit.Entry(generic.AuditStructureVersioned, "fee_structure", next.ID, map[string]any{
		"previous_id":      current.ID,
		"previous_version": current.Version,
		"version":          next.Version,
		"amount":           next.Amount.String(),
	})); err != nil {
		return nil, err
	}

	c.logger().Info("fee structure versioned",
		zap.String("id", next.ID),
		zap.String("previous_id", current.ID),
		zap.Int("version", next.Version))
	return &next, nil
}

// checkNoOverlap rejects any overlap with another active row of the tuple.
func checkNoOverlap(ctx context.Context, tx Store, s *FeeStructure) error {
	active, err := tx.ListStructures(ctx, StructureFilter{
		HostelID:   s.HostelID,
		RoomType:   s.RoomType,
		FeeType:    s.FeeType,
		ActiveOnly: true,
	})
	if err != nil {
		return err
	}
	for _, existing := range active {
		if existing.ID != s.ID && existing.Range().Overlaps(s.Range()) {
			return generic.Conflict("fee structure overlaps active version %d (%s)", existing.Version, existing.Range())
		}
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// GetCurrent returns the active structure whose range contains asOf, or
// (nil, nil) when no pricing is defined for that date.
func (c *StructureCatalog) GetCurrent(ctx context.Context, tx Store, hostelID, roomType string, feeType FeeType, asOf generic.Date) (*FeeStructure, error) {
	active, err := tx.ListStructures(ctx, StructureFilter{
		HostelID:   hostelID,
		RoomType:   roomType,
		FeeType:    feeType,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}
	for i := range active {
		if active[i].Range().Contains(asOf) {
			return &active[i], nil
		}
	}
	return nil, nil
}

// GetVersionHistory returns every version of a tuple, newest first.
func (c *StructureCatalog) GetVersionHistory(ctx context.Context, tx Store, hostelID, roomType string, feeType FeeType) ([]FeeStructure, error) {
	return tx.ListStructures(ctx, StructureFilter{
		HostelID:       hostelID,
		RoomType:       roomType,
		FeeType:        feeType,
		IncludeDeleted: true,
	})
}

// Get returns a live structure or a not-found error.
func (c *StructureCatalog) Get(ctx context.Context, tx Store, id string) (*FeeStructure, error) {
	s, err := tx.GetStructure(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil || s.DeletedAt != nil {
		return nil, generic.NotFound("fee structure", id)
	}
	return s, nil
}

func (c *StructureCatalog) List(ctx context.Context, tx Store, filter StructureFilter) ([]FeeStructure, error) {
	return tx.ListStructures(ctx, filter)
}

// Delete soft-deletes a structure that no calculation references.
func (c *StructureCatalog) Delete(ctx context.Context, tx Store, audit generic.AuditContext, id string) error {
	s, err := c.Get(ctx, tx, id)
	if err != nil {
		return err
	}
	refs, err := tx.CountCalculationsForStructure(ctx, s.ID)
	if err != nil {
		return err
	}
	if refs > 0 {
		return generic.BusinessRule("fee structure %s is referenced by %d calculation(s)", s.ID, refs)
	}

	at := audit.At
	s.DeletedAt = &at
	s.IsActive = false
	s.UpdatedBy = audit.ActorID
	s.UpdatedAt = audit.At
	if err := tx.UpdateStructure(ctx, s); err != nil {
		return err
	}
	return tx.AppendAudit(ctx, audit.Entry(generic.AuditStructureDeleted, "fee_structure", s.ID, nil))
}
