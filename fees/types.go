// Package fees implements hostel fee-structure versioning and fee calculation.
// It builds on the generic package's dates, money and error kinds.
package fees

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

// FeeType is the billing period a structure's amount is quoted for.
type FeeType string

const (
	FeeMonthly    FeeType = "monthly"
	FeeQuarterly  FeeType = "quarterly"
	FeeHalfYearly FeeType = "half_yearly"
	FeeYearly     FeeType = "yearly"
)

// MonthsPerPeriod converts the quoted amount to a monthly rent.
func (f FeeType) MonthsPerPeriod() int {
	switch f {
	case FeeQuarterly:
		return 3
	case FeeHalfYearly:
		return 6
	case FeeYearly:
		return 12
	default:
		return 1
	}
}

func (f FeeType) Valid() bool {
	switch f {
	case FeeMonthly, FeeQuarterly, FeeHalfYearly, FeeYearly:
		return true
	}
	return false
}

type UtilityChargeType string

const (
	UtilityIncluded     UtilityChargeType = "included"
	UtilityFixedMonthly UtilityChargeType = "fixed_monthly"
	UtilityActualUsage  UtilityChargeType = "actual_usage"
)

func (u UtilityChargeType) Valid() bool {
	switch u {
	case UtilityIncluded, UtilityFixedMonthly, UtilityActualUsage:
		return true
	}
	return false
}

type ComponentType string

const (
	ComponentRent        ComponentType = "rent"
	ComponentDeposit     ComponentType = "deposit"
	ComponentMess        ComponentType = "mess"
	ComponentElectricity ComponentType = "electricity"
	ComponentWater       ComponentType = "water"
	ComponentMaintenance ComponentType = "maintenance"
	ComponentAmenity     ComponentType = "amenity"
	ComponentOther       ComponentType = "other"
)

func (c ComponentType) Valid() bool {
	switch c {
	case ComponentRent, ComponentDeposit, ComponentMess, ComponentElectricity,
		ComponentWater, ComponentMaintenance, ComponentAmenity, ComponentOther:
		return true
	}
	return false
}

type CalculationMethod string

const (
	MethodFixed       CalculationMethod = "fixed"
	MethodVariable    CalculationMethod = "variable"
	MethodPercentage  CalculationMethod = "percentage"
	MethodTiered      CalculationMethod = "tiered"
	MethodActualUsage CalculationMethod = "actual_usage"
)

func (m CalculationMethod) Valid() bool {
	switch m {
	case MethodFixed, MethodVariable, MethodPercentage, MethodTiered, MethodActualUsage:
		return true
	}
	return false
}

type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
	DiscountWaiver      DiscountType = "waiver"
)

func (d DiscountType) Valid() bool {
	switch d {
	case DiscountPercentage, DiscountFixedAmount, DiscountWaiver:
		return true
	}
	return false
}

// DiscountTarget is the part of the bill a discount is computed against.
type DiscountTarget string

const (
	TargetBaseRent DiscountTarget = "base_rent"
	TargetMess     DiscountTarget = "mess"
	TargetTotal    DiscountTarget = "total"
	TargetDeposit  DiscountTarget = "deposit"
)

func (t DiscountTarget) Valid() bool {
	switch t {
	case TargetBaseRent, TargetMess, TargetTotal, TargetDeposit:
		return true
	}
	return false
}

type CalculationType string

const (
	CalculationEstimate     CalculationType = "estimate"
	CalculationBooking      CalculationType = "booking"
	CalculationStudent      CalculationType = "student"
	CalculationRenewal      CalculationType = "renewal"
	CalculationModification CalculationType = "modification"
)

func (c CalculationType) Valid() bool {
	switch c {
	case CalculationEstimate, CalculationBooking, CalculationStudent,
		CalculationRenewal, CalculationModification:
		return true
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// =============================================================================
// FEE STRUCTURE - Versioned base price for (hostel, room type, fee type)
// =============================================================================

// Tuple identifies the pricing line a structure belongs to.
type Tuple struct {
	HostelID string
	RoomType string
	FeeType  FeeType
}

type FeeStructure struct {
	ID       string
	HostelID string
	RoomType string
	FeeType  FeeType

	Amount          decimal.Decimal
	SecurityDeposit decimal.Decimal

	IncludesMess      bool
	MessChargeMonthly decimal.Decimal

	UtilityChargeType UtilityChargeType
	ElectricityCharge decimal.Decimal
	WaterCharge       decimal.Decimal

	EffectiveFrom generic.Date
	EffectiveTo   *generic.Date
	IsActive      bool

	// Versioning
	Version      int
	SupersededBy *string
	// Supersedes names the version a pending row replaces once approved.
	Supersedes *string

	Description string

	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (s *FeeStructure) Tuple() Tuple {
	return Tuple{HostelID: s.HostelID, RoomType: s.RoomType, FeeType: s.FeeType}
}

func (s *FeeStructure) Range() generic.DateRange {
	return generic.NewDateRange(s.EffectiveFrom, s.EffectiveTo)
}

// MonthlyRent normalizes the quoted amount to one month.
func (s *FeeStructure) MonthlyRent() decimal.Decimal {
	return generic.Round2(s.Amount.Div(decimal.NewFromInt(int64(s.FeeType.MonthsPerPeriod()))))
}

// MonthlyMess is the separately billed mess charge (zero when included).
func (s *FeeStructure) MonthlyMess() decimal.Decimal {
	if s.IncludesMess {
		return decimal.Zero
	}
	return s.MessChargeMonthly
}

// MonthlyUtilities is only non-zero in fixed_monthly mode.
func (s *FeeStructure) MonthlyUtilities() decimal.Decimal {
	if s.UtilityChargeType != UtilityFixedMonthly {
		return decimal.Zero
	}
	return s.ElectricityCharge.Add(s.WaterCharge)
}

// =============================================================================
// CHARGE COMPONENT - Itemized charge under a structure
// =============================================================================

type ChargeComponent struct {
	ID             string
	FeeStructureID string
	Name           string
	Type           ComponentType
	Amount         decimal.Decimal

	IsMandatory      bool
	IsRefundable     bool
	IsRecurring      bool
	IsTaxable        bool
	VisibleToStudent bool
	ProrationAllowed bool

	CalculationMethod CalculationMethod
	TaxPercentage     decimal.Decimal

	AppliesFrom *generic.Date
	AppliesTo   *generic.Date
	RoomTypes   generic.StringSet

	DisplayOrder int
	Description  string

	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (c *ChargeComponent) Window() generic.OptionalWindow {
	return generic.OptionalWindow{From: c.AppliesFrom, To: c.AppliesTo}
}

// AppliesOn reports whether the component is in effect on d.
func (c *ChargeComponent) AppliesOn(d generic.Date) bool {
	return c.Window().Contains(d)
}

// AppliesToRoomType uses set membership; an empty set applies everywhere.
func (c *ChargeComponent) AppliesToRoomType(roomType string) bool {
	return c.RoomTypes.Allows(roomType)
}

// TaxAmount is round(amount * tax% / 100, 2) for taxable components.
func (c *ChargeComponent) TaxAmount() decimal.Decimal {
	if !c.IsTaxable {
		return decimal.Zero
	}
	return generic.Percent(c.Amount, c.TaxPercentage)
}

// =============================================================================
// DISCOUNT CONFIGURATION - Standalone, reusable discount
// =============================================================================

type DiscountConfiguration struct {
	ID          string
	Name        string
	Code        *string
	Type        DiscountType
	Percentage  *decimal.Decimal
	Amount      *decimal.Decimal
	AppliesTo   DiscountTarget
	Description string

	HostelIDs       generic.StringSet
	RoomTypes       generic.StringSet
	MinStayMonths   *int
	NewStudentsOnly bool

	MaxUsageCount     *int
	CurrentUsageCount int

	ValidFrom *generic.Date
	ValidTo   *generic.Date
	IsActive  bool

	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (d *DiscountConfiguration) Window() generic.OptionalWindow {
	return generic.OptionalWindow{From: d.ValidFrom, To: d.ValidTo}
}

// HasCapacity is true when uncapped or below the cap.
func (d *DiscountConfiguration) HasCapacity() bool {
	return d.MaxUsageCount == nil || d.CurrentUsageCount < *d.MaxUsageCount
}

// =============================================================================
// FEE CALCULATION - Immutable snapshot of a computed fee
// =============================================================================

type FeeCalculation struct {
	ID              string
	FeeStructureID  string
	HostelID        string
	RoomType        string
	FeeType         FeeType
	CalculationType CalculationType
	StudentID       *string
	BookingID       *string

	MoveInDate     generic.Date
	MoveOutDate    generic.Date
	DurationMonths int

	MonthlyRent     decimal.Decimal
	RentTotal       decimal.Decimal
	SecurityDeposit decimal.Decimal
	MessCharges     decimal.Decimal
	UtilityCharges  decimal.Decimal
	OtherCharges    decimal.Decimal
	Subtotal        decimal.Decimal

	DiscountID      *string
	DiscountCode    *string
	DiscountApplied decimal.Decimal

	TaxPercentage decimal.Decimal
	TaxAmount     decimal.Decimal
	TotalPayable  decimal.Decimal

	FirstMonthTotal  decimal.Decimal
	MonthlyRecurring decimal.Decimal

	IsProrated          bool
	ProratedDays        *int
	ProrationFactor     *decimal.Decimal
	ProrationAdjustment decimal.Decimal

	PaymentSchedule []ScheduleEntry
	Breakdown       Breakdown

	IsApproved bool
	ApprovedBy *string
	ApprovedAt *time.Time

	CreatedBy string
	CreatedAt time.Time
}

// ScheduleEntry is one installment of the payment schedule.
type ScheduleEntry struct {
	Installment int             `json:"installment"`
	DueDate     generic.Date    `json:"due_date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Breakdown itemizes how a calculation's totals were reached.
type Breakdown struct {
	Items           []BreakdownItem  `json:"items"`
	Discount        *DiscountSummary `json:"discount,omitempty"`
	Proration       *ProrationResult `json:"proration,omitempty"`
	ExcludedCharges []string         `json:"excluded_charges,omitempty"`
}

type BreakdownItem struct {
	Label        string          `json:"label"`
	Category     string          `json:"category"`
	ComponentID  string          `json:"component_id,omitempty"`
	UnitAmount   decimal.Decimal `json:"unit_amount"`
	Quantity     int             `json:"quantity"`
	Total        decimal.Decimal `json:"total"`
	Recurring    bool            `json:"recurring"`
	Refundable   bool            `json:"refundable"`
	AppliedRules []AppliedRule   `json:"applied_rules,omitempty"`
}

type DiscountSummary struct {
	DiscountID string          `json:"discount_id"`
	Name       string          `json:"name"`
	Code       string          `json:"code,omitempty"`
	Type       DiscountType    `json:"type"`
	AppliesTo  DiscountTarget  `json:"applies_to"`
	Base       decimal.Decimal `json:"base"`
	Amount     decimal.Decimal `json:"amount"`
}

// =============================================================================
// FEE APPROVAL - One record per submission cycle
// =============================================================================

type FeeApproval struct {
	ID             string
	FeeStructureID string
	Status         ApprovalStatus

	RequestedAmount decimal.Decimal
	PreviousAmount  *decimal.Decimal
	Justification   string
	RevisionNotes   []RevisionNote

	SubmittedBy string
	SubmittedAt time.Time

	ResolvedBy           *string
	ResolvedAt           *time.Time
	RejectionReason      string
	RequiresResubmission bool
	EffectiveFrom        *generic.Date // approved effective-date override
}

// RevisionNote is one "please revise" request; the approval stays pending.
type RevisionNote struct {
	By               string    `json:"by"`
	At               time.Time `json:"at"`
	Note             string    `json:"note"`
	RequestedChanges []string  `json:"requested_changes,omitempty"`
}

type ApprovalEventKind string

const (
	EventSubmitted         ApprovalEventKind = "submitted"
	EventApproved          ApprovalEventKind = "approved"
	EventRejected          ApprovalEventKind = "rejected"
	EventRevisionRequested ApprovalEventKind = "revision_requested"
)

// ApprovalEvent is an append-only history row of the workflow.
type ApprovalEvent struct {
	ID             string
	ApprovalID     string
	FeeStructureID string
	Kind           ApprovalEventKind
	ActorID        string
	Note           string
	Amount         decimal.Decimal
	OccurredAt     time.Time
	Seq            int64
}

func nopIfNil(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
