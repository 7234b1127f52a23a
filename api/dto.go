/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in fees/ (which carries no JSON tags) from the external
  API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Structures:   FeeStructureDTO, AmendStructureRequest
                (creation takes factory.StructureJSON directly)
  Components:   ChargeComponentDTO, UpdateComponentRequest
                (creation takes factory.ComponentJSON directly)
  Rules:        ChargeRuleDTO, RuleRequest
  Discounts:    DiscountDTO, DiscountRequest, UpdateDiscountRequest,
                EligibilityRequest, DiscountAmountRequest, BestDiscountRequest
  Calculations: FeeCalculationDTO, CalculationRequest
  Proration:    ProrationRequest, EarlyTerminationRequest, NoticePenaltyRequest
  Approvals:    ApprovalDTO, ApprovalEventDTO, SubmitApprovalRequest,
                ApproveRequest, RejectRequest, RevisionRequest
  Audit:        AuditEntryDTO
  Scenarios:    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Shape checks (required fields, enum spelling, small integer ranges) are
  `validate` struct tags checked by go-playground/validator before the
  request reaches the domain. Business invariants (amount ranges, deposit
  multiple, overlap) stay in fees/ so every caller gets them.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/template.go: StructureJSON, ComponentJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// FEE STRUCTURES
// =============================================================================

type FeeStructureDTO struct {
	ID                string          `json:"id"`
	HostelID          string          `json:"hostel_id"`
	RoomType          string          `json:"room_type"`
	FeeType           fees.FeeType    `json:"fee_type"`
	Amount            decimal.Decimal `json:"amount"`
	MonthlyRent       decimal.Decimal `json:"monthly_rent"`
	SecurityDeposit   decimal.Decimal `json:"security_deposit"`
	IncludesMess      bool            `json:"includes_mess"`
	MessChargeMonthly decimal.Decimal `json:"mess_charge_monthly"`
	UtilityChargeType string          `json:"utility_charge_type"`
	ElectricityCharge decimal.Decimal `json:"electricity_charge"`
	WaterCharge       decimal.Decimal `json:"water_charge"`
	EffectiveFrom     generic.Date    `json:"effective_from"`
	EffectiveTo       *generic.Date   `json:"effective_to,omitempty"`
	IsActive          bool            `json:"is_active"`
	Version           int             `json:"version"`
	SupersededBy      *string         `json:"superseded_by,omitempty"`
	Supersedes        *string         `json:"supersedes,omitempty"`
	Description       string          `json:"description,omitempty"`
	CreatedBy         string          `json:"created_by"`
	UpdatedBy         string          `json:"updated_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeletedAt         *time.Time      `json:"deleted_at,omitempty"`
}

// CreatedStructureDTO is returned when a template is installed.
type CreatedStructureDTO struct {
	Structure  FeeStructureDTO      `json:"structure"`
	Components []ChargeComponentDTO `json:"components"`
	Rules      []ChargeRuleDTO      `json:"rules"`
}

// AmendStructureRequest changes only the fields that are present.
type AmendStructureRequest struct {
	Amount            *decimal.Decimal `json:"amount"`
	SecurityDeposit   *decimal.Decimal `json:"security_deposit"`
	IncludesMess      *bool            `json:"includes_mess"`
	MessChargeMonthly *decimal.Decimal `json:"mess_charge_monthly"`
	UtilityChargeType *string          `json:"utility_charge_type" validate:"omitempty,oneof=included fixed_monthly actual_usage"`
	ElectricityCharge *decimal.Decimal `json:"electricity_charge"`
	WaterCharge       *decimal.Decimal `json:"water_charge"`
	EffectiveFrom     *generic.Date    `json:"effective_from"`
	EffectiveTo       *generic.Date    `json:"effective_to"`
	ClearEffectiveTo  bool             `json:"clear_effective_to"`
	Description       *string          `json:"description"`
	CreateNewVersion  bool             `json:"create_new_version"`
}

func (r AmendStructureRequest) changes() fees.StructureChanges {
	ch := fees.StructureChanges{
		Amount:            r.Amount,
		SecurityDeposit:   r.SecurityDeposit,
		IncludesMess:      r.IncludesMess,
		MessChargeMonthly: r.MessChargeMonthly,
		ElectricityCharge: r.ElectricityCharge,
		WaterCharge:       r.WaterCharge,
		EffectiveFrom:     r.EffectiveFrom,
		EffectiveTo:       r.EffectiveTo,
		ClearEffectiveTo:  r.ClearEffectiveTo,
		Description:       r.Description,
	}
	if r.UtilityChargeType != nil {
		u := fees.UtilityChargeType(*r.UtilityChargeType)
		ch.UtilityChargeType = &u
	}
	return ch
}

func toStructureDTO(s *fees.FeeStructure) FeeStructureDTO {
	return FeeStructureDTO{
		ID:                s.ID,
		HostelID:          s.HostelID,
		RoomType:          s.RoomType,
		FeeType:           s.FeeType,
		Amount:            s.Amount,
		MonthlyRent:       s.MonthlyRent(),
		SecurityDeposit:   s.SecurityDeposit,
		IncludesMess:      s.IncludesMess,
		MessChargeMonthly: s.MessChargeMonthly,
		UtilityChargeType: string(s.UtilityChargeType),
		ElectricityCharge: s.ElectricityCharge,
		WaterCharge:       s.WaterCharge,
		EffectiveFrom:     s.EffectiveFrom,
		EffectiveTo:       s.EffectiveTo,
		IsActive:          s.IsActive,
		Version:           s.Version,
		SupersededBy:      s.SupersededBy,
		Supersedes:        s.Supersedes,
		Description:       s.Description,
		CreatedBy:         s.CreatedBy,
		UpdatedBy:         s.UpdatedBy,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
		DeletedAt:         s.DeletedAt,
	}
}

func toStructureDTOs(list []fees.FeeStructure) []FeeStructureDTO {
	out := make([]FeeStructureDTO, 0, len(list))
	for i := range list {
		out = append(out, toStructureDTO(&list[i]))
	}
	return out
}

// =============================================================================
// CHARGE COMPONENTS & RULES
// =============================================================================

type ChargeComponentDTO struct {
	ID                string          `json:"id"`
	FeeStructureID    string          `json:"fee_structure_id"`
	Name              string          `json:"name"`
	Type              string          `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	IsMandatory       bool            `json:"is_mandatory"`
	IsRefundable      bool            `json:"is_refundable"`
	IsRecurring       bool            `json:"is_recurring"`
	IsTaxable         bool            `json:"is_taxable"`
	VisibleToStudent  bool            `json:"visible_to_student"`
	ProrationAllowed  bool            `json:"proration_allowed"`
	CalculationMethod string          `json:"calculation_method"`
	TaxPercentage     decimal.Decimal `json:"tax_percentage"`
	TaxAmount         decimal.Decimal `json:"tax_amount"`
	AppliesFrom       *generic.Date   `json:"applies_from,omitempty"`
	AppliesTo         *generic.Date   `json:"applies_to,omitempty"`
	RoomTypes         []string        `json:"room_types"`
	DisplayOrder      int             `json:"display_order"`
	Description       string          `json:"description,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeletedAt         *time.Time      `json:"deleted_at,omitempty"`
}

type UpdateComponentRequest struct {
	Name              *string          `json:"name" validate:"omitempty,min=1,max=120"`
	Type              *string          `json:"type" validate:"omitempty,oneof=rent deposit mess electricity water maintenance amenity other"`
	Amount            *decimal.Decimal `json:"amount"`
	IsMandatory       *bool            `json:"is_mandatory"`
	IsRefundable      *bool            `json:"is_refundable"`
	IsRecurring       *bool            `json:"is_recurring"`
	IsTaxable         *bool            `json:"is_taxable"`
	VisibleToStudent  *bool            `json:"visible_to_student"`
	ProrationAllowed  *bool            `json:"proration_allowed"`
	CalculationMethod *string          `json:"calculation_method" validate:"omitempty,oneof=fixed variable percentage tiered actual_usage"`
	TaxPercentage     *decimal.Decimal `json:"tax_percentage"`
	AppliesFrom       *generic.Date    `json:"applies_from"`
	AppliesTo         *generic.Date    `json:"applies_to"`
	ClearAppliesFrom  bool             `json:"clear_applies_from"`
	ClearAppliesTo    bool             `json:"clear_applies_to"`
	RoomTypes         *[]string        `json:"room_types"`
	DisplayOrder      *int             `json:"display_order" validate:"omitempty,min=0"`
	Description       *string          `json:"description"`
}

func (r UpdateComponentRequest) changes() fees.ComponentChanges {
	ch := fees.ComponentChanges{
		Name:             r.Name,
		Amount:           r.Amount,
		IsMandatory:      r.IsMandatory,
		IsRefundable:     r.IsRefundable,
		IsRecurring:      r.IsRecurring,
		IsTaxable:        r.IsTaxable,
		VisibleToStudent: r.VisibleToStudent,
		ProrationAllowed: r.ProrationAllowed,
		TaxPercentage:    r.TaxPercentage,
		AppliesFrom:      r.AppliesFrom,
		AppliesTo:        r.AppliesTo,
		ClearAppliesFrom: r.ClearAppliesFrom,
		ClearAppliesTo:   r.ClearAppliesTo,
		RoomTypes:        r.RoomTypes,
		DisplayOrder:     r.DisplayOrder,
		Description:      r.Description,
	}
	if r.Type != nil {
		t := fees.ComponentType(*r.Type)
		ch.Type = &t
	}
	if r.CalculationMethod != nil {
		m := fees.CalculationMethod(*r.CalculationMethod)
		ch.CalculationMethod = &m
	}
	return ch
}

func toComponentDTO(c *fees.ChargeComponent) ChargeComponentDTO {
	return ChargeComponentDTO{
		ID:                c.ID,
		FeeStructureID:    c.FeeStructureID,
		Name:              c.Name,
		Type:              string(c.Type),
		Amount:            c.Amount,
		IsMandatory:       c.IsMandatory,
		IsRefundable:      c.IsRefundable,
		IsRecurring:       c.IsRecurring,
		IsTaxable:         c.IsTaxable,
		VisibleToStudent:  c.VisibleToStudent,
		ProrationAllowed:  c.ProrationAllowed,
		CalculationMethod: string(c.CalculationMethod),
		TaxPercentage:     c.TaxPercentage,
		TaxAmount:         c.TaxAmount(),
		AppliesFrom:       c.AppliesFrom,
		AppliesTo:         c.AppliesTo,
		RoomTypes:         c.RoomTypes.Values(),
		DisplayOrder:      c.DisplayOrder,
		Description:       c.Description,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
		DeletedAt:         c.DeletedAt,
	}
}

func toComponentDTOs(list []fees.ChargeComponent) []ChargeComponentDTO {
	out := make([]ChargeComponentDTO, 0, len(list))
	for i := range list {
		out = append(out, toComponentDTO(&list[i]))
	}
	return out
}

type ChargeRuleDTO struct {
	ID          string             `json:"id"`
	ComponentID string             `json:"component_id"`
	Name        string             `json:"name"`
	Type        string             `json:"type"`
	Condition   fees.RuleCondition `json:"condition"`
	Action      fees.RuleAction    `json:"action"`
	Priority    int                `json:"priority"`
	IsActive    bool               `json:"is_active"`
	CreatedBy   string             `json:"created_by"`
	CreatedAt   time.Time          `json:"created_at"`
}

type RuleRequest struct {
	Name      string             `json:"name" validate:"required,max=120"`
	Type      string             `json:"type" validate:"required,oneof=discount surcharge waiver proration conditional"`
	Condition fees.RuleCondition `json:"condition"`
	Action    fees.RuleAction    `json:"action"`
	Priority  int                `json:"priority"`
}

func (r RuleRequest) params() fees.RuleParams {
	return fees.RuleParams{
		Name:      r.Name,
		Type:      fees.RuleType(r.Type),
		Condition: r.Condition,
		Action:    r.Action,
		Priority:  r.Priority,
	}
}

func toRuleDTO(r *fees.ChargeRule) ChargeRuleDTO {
	return ChargeRuleDTO{
		ID:          r.ID,
		ComponentID: r.ComponentID,
		Name:        r.Name,
		Type:        string(r.Type),
		Condition:   r.Condition,
		Action:      r.Action,
		Priority:    r.Priority,
		IsActive:    r.IsActive,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
	}
}

func toRuleDTOs(list []fees.ChargeRule) []ChargeRuleDTO {
	out := make([]ChargeRuleDTO, 0, len(list))
	for i := range list {
		out = append(out, toRuleDTO(&list[i]))
	}
	return out
}

// =============================================================================
// DISCOUNTS
// =============================================================================

type DiscountDTO struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	Code              *string          `json:"code,omitempty"`
	Type              string           `json:"type"`
	Percentage        *decimal.Decimal `json:"percentage,omitempty"`
	Amount            *decimal.Decimal `json:"amount,omitempty"`
	AppliesTo         string           `json:"applies_to"`
	Description       string           `json:"description,omitempty"`
	HostelIDs         []string         `json:"hostel_ids"`
	RoomTypes         []string         `json:"room_types"`
	MinStayMonths     *int             `json:"min_stay_months,omitempty"`
	NewStudentsOnly   bool             `json:"new_students_only"`
	MaxUsageCount     *int             `json:"max_usage_count,omitempty"`
	CurrentUsageCount int              `json:"current_usage_count"`
	ValidFrom         *generic.Date    `json:"valid_from,omitempty"`
	ValidTo           *generic.Date    `json:"valid_to,omitempty"`
	IsActive          bool             `json:"is_active"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type DiscountRequest struct {
	Name            string           `json:"name" validate:"required,max=120"`
	Code            *string          `json:"code" validate:"omitempty,min=2,max=40"`
	Type            string           `json:"type" validate:"required,oneof=percentage fixed_amount waiver"`
	Percentage      *decimal.Decimal `json:"percentage"`
	Amount          *decimal.Decimal `json:"amount"`
	AppliesTo       string           `json:"applies_to" validate:"required,oneof=base_rent mess total deposit"`
	Description     string           `json:"description"`
	HostelIDs       []string         `json:"hostel_ids"`
	RoomTypes       []string         `json:"room_types"`
	MinStayMonths   *int             `json:"min_stay_months" validate:"omitempty,min=0"`
	NewStudentsOnly bool             `json:"new_students_only"`
	MaxUsageCount   *int             `json:"max_usage_count" validate:"omitempty,min=1"`
	ValidFrom       *generic.Date    `json:"valid_from"`
	ValidTo         *generic.Date    `json:"valid_to"`
	IsActive        *bool            `json:"is_active"`
}

func (r DiscountRequest) params() fees.DiscountParams {
	return fees.DiscountParams{
		Name:            r.Name,
		Code:            r.Code,
		Type:            fees.DiscountType(r.Type),
		Percentage:      r.Percentage,
		Amount:          r.Amount,
		AppliesTo:       fees.DiscountTarget(r.AppliesTo),
		Description:     r.Description,
		HostelIDs:       r.HostelIDs,
		RoomTypes:       r.RoomTypes,
		MinStayMonths:   r.MinStayMonths,
		NewStudentsOnly: r.NewStudentsOnly,
		MaxUsageCount:   r.MaxUsageCount,
		ValidFrom:       r.ValidFrom,
		ValidTo:         r.ValidTo,
		IsActive:        r.IsActive,
	}
}

type UpdateDiscountRequest struct {
	Name            *string          `json:"name" validate:"omitempty,min=1,max=120"`
	Code            *string          `json:"code" validate:"omitempty,min=2,max=40"`
	ClearCode       bool             `json:"clear_code"`
	Type            *string          `json:"type" validate:"omitempty,oneof=percentage fixed_amount waiver"`
	Percentage      *decimal.Decimal `json:"percentage"`
	Amount          *decimal.Decimal `json:"amount"`
	AppliesTo       *string          `json:"applies_to" validate:"omitempty,oneof=base_rent mess total deposit"`
	Description     *string          `json:"description"`
	HostelIDs       *[]string        `json:"hostel_ids"`
	RoomTypes       *[]string        `json:"room_types"`
	MinStayMonths   *int             `json:"min_stay_months" validate:"omitempty,min=0"`
	NewStudentsOnly *bool            `json:"new_students_only"`
	MaxUsageCount   *int             `json:"max_usage_count" validate:"omitempty,min=1"`
	ValidFrom       *generic.Date    `json:"valid_from"`
	ValidTo         *generic.Date    `json:"valid_to"`
	IsActive        *bool            `json:"is_active"`
}

func (r UpdateDiscountRequest) changes() fees.DiscountChanges {
	ch := fees.DiscountChanges{
		Name:            r.Name,
		Code:            r.Code,
		ClearCode:       r.ClearCode,
		Percentage:      r.Percentage,
		Amount:          r.Amount,
		Description:     r.Description,
		HostelIDs:       r.HostelIDs,
		RoomTypes:       r.RoomTypes,
		MinStayMonths:   r.MinStayMonths,
		NewStudentsOnly: r.NewStudentsOnly,
		MaxUsageCount:   r.MaxUsageCount,
		ValidFrom:       r.ValidFrom,
		ValidTo:         r.ValidTo,
		IsActive:        r.IsActive,
	}
	if r.Type != nil {
		t := fees.DiscountType(*r.Type)
		ch.Type = &t
	}
	if r.AppliesTo != nil {
		t := fees.DiscountTarget(*r.AppliesTo)
		ch.AppliesTo = &t
	}
	return ch
}

// EligibilityRequest describes the stay a discount is checked against.
// AsOf defaults to today.
type EligibilityRequest struct {
	HostelID     string        `json:"hostel_id" validate:"required"`
	RoomType     string        `json:"room_type" validate:"required"`
	IsNewStudent bool          `json:"is_new_student"`
	StayMonths   int           `json:"stay_months" validate:"min=0"`
	AsOf         *generic.Date `json:"as_of"`
}

func (r EligibilityRequest) eligibility() fees.Eligibility {
	asOf := generic.Today()
	if r.AsOf != nil {
		asOf = *r.AsOf
	}
	return fees.Eligibility{
		HostelID:     r.HostelID,
		RoomType:     r.RoomType,
		IsNewStudent: r.IsNewStudent,
		StayMonths:   r.StayMonths,
		AsOf:         asOf,
	}
}

type DiscountAmountRequest struct {
	Base decimal.Decimal `json:"base"`
}

type DiscountAmountDTO struct {
	DiscountID string          `json:"discount_id"`
	Base       decimal.Decimal `json:"base"`
	Amount     decimal.Decimal `json:"amount"`
}

// BestDiscountRequest asks for the best discount on a stay. Base is used
// for every target; the calculation engine passes per-target bases.
type BestDiscountRequest struct {
	EligibilityRequest
	Base decimal.Decimal `json:"base"`
}

type BestDiscountDTO struct {
	Discount *DiscountDTO    `json:"discount"`
	Amount   decimal.Decimal `json:"amount"`
}

func toDiscountDTO(d *fees.DiscountConfiguration) DiscountDTO {
	return DiscountDTO{
		ID:                d.ID,
		Name:              d.Name,
		Code:              d.Code,
		Type:              string(d.Type),
		Percentage:        d.Percentage,
		Amount:            d.Amount,
		AppliesTo:         string(d.AppliesTo),
		Description:       d.Description,
		HostelIDs:         d.HostelIDs.Values(),
		RoomTypes:         d.RoomTypes.Values(),
		MinStayMonths:     d.MinStayMonths,
		NewStudentsOnly:   d.NewStudentsOnly,
		MaxUsageCount:     d.MaxUsageCount,
		CurrentUsageCount: d.CurrentUsageCount,
		ValidFrom:         d.ValidFrom,
		ValidTo:           d.ValidTo,
		IsActive:          d.IsActive,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func toDiscountDTOs(list []fees.DiscountConfiguration) []DiscountDTO {
	out := make([]DiscountDTO, 0, len(list))
	for i := range list {
		out = append(out, toDiscountDTO(&list[i]))
	}
	return out
}

// =============================================================================
// CALCULATIONS
// =============================================================================

type CalculationRequest struct {
	HostelID             string           `json:"hostel_id" validate:"required"`
	RoomType             string           `json:"room_type" validate:"required"`
	FeeType              string           `json:"fee_type" validate:"required,oneof=monthly quarterly half_yearly yearly"`
	CalculationType      string           `json:"calculation_type" validate:"omitempty,oneof=estimate booking student renewal modification"`
	StudentID            *string          `json:"student_id"`
	BookingID            *string          `json:"booking_id"`
	MoveInDate           generic.Date     `json:"move_in_date"`
	DurationMonths       int              `json:"duration_months" validate:"required,min=1,max=60"`
	DiscountCode         *string          `json:"discount_code"`
	AutoApplyDiscount    bool             `json:"auto_apply_discount"`
	IsNewStudent         bool             `json:"is_new_student"`
	OptOutMess           bool             `json:"opt_out_mess"`
	ProrateFirstMonth    bool             `json:"prorate_first_month"`
	OptionalComponentIDs []string         `json:"optional_component_ids"`
	TaxPercentage        *decimal.Decimal `json:"tax_percentage"`
}

func (r CalculationRequest) params() fees.CalculationParams {
	return fees.CalculationParams{
		HostelID:             r.HostelID,
		RoomType:             r.RoomType,
		FeeType:              fees.FeeType(r.FeeType),
		CalculationType:      fees.CalculationType(r.CalculationType),
		StudentID:            r.StudentID,
		BookingID:            r.BookingID,
		MoveInDate:           r.MoveInDate,
		DurationMonths:       r.DurationMonths,
		DiscountCode:         r.DiscountCode,
		AutoApplyDiscount:    r.AutoApplyDiscount,
		IsNewStudent:         r.IsNewStudent,
		OptOutMess:           r.OptOutMess,
		ProrateFirstMonth:    r.ProrateFirstMonth,
		OptionalComponentIDs: r.OptionalComponentIDs,
		TaxPercentage:        r.TaxPercentage,
	}
}

type FeeCalculationDTO struct {
	ID              string  `json:"id,omitempty"`
	FeeStructureID  string  `json:"fee_structure_id"`
	HostelID        string  `json:"hostel_id"`
	RoomType        string  `json:"room_type"`
	FeeType         string  `json:"fee_type"`
	CalculationType string  `json:"calculation_type"`
	StudentID       *string `json:"student_id,omitempty"`
	BookingID       *string `json:"booking_id,omitempty"`

	MoveInDate     generic.Date `json:"move_in_date"`
	MoveOutDate    generic.Date `json:"move_out_date"`
	DurationMonths int          `json:"duration_months"`

	MonthlyRent     decimal.Decimal `json:"monthly_rent"`
	RentTotal       decimal.Decimal `json:"rent_total"`
	SecurityDeposit decimal.Decimal `json:"security_deposit"`
	MessCharges     decimal.Decimal `json:"mess_charges"`
	UtilityCharges  decimal.Decimal `json:"utility_charges"`
	OtherCharges    decimal.Decimal `json:"other_charges"`
	Subtotal        decimal.Decimal `json:"subtotal"`

	DiscountID      *string         `json:"discount_id,omitempty"`
	DiscountCode    *string         `json:"discount_code,omitempty"`
	DiscountApplied decimal.Decimal `json:"discount_applied"`

	TaxPercentage decimal.Decimal `json:"tax_percentage"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TotalPayable  decimal.Decimal `json:"total_payable"`

	FirstMonthTotal  decimal.Decimal `json:"first_month_total"`
	MonthlyRecurring decimal.Decimal `json:"monthly_recurring"`

	IsProrated          bool             `json:"is_prorated"`
	ProratedDays        *int             `json:"prorated_days,omitempty"`
	ProrationFactor     *decimal.Decimal `json:"proration_factor,omitempty"`
	ProrationAdjustment decimal.Decimal  `json:"proration_adjustment"`

	PaymentSchedule []fees.ScheduleEntry `json:"payment_schedule"`
	Breakdown       fees.Breakdown       `json:"breakdown"`

	IsApproved bool       `json:"is_approved"`
	ApprovedBy *string    `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	CreatedBy  string     `json:"created_by,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

func toCalculationDTO(c *fees.FeeCalculation) FeeCalculationDTO {
	dto := FeeCalculationDTO{
		ID:                  c.ID,
		FeeStructureID:      c.FeeStructureID,
		HostelID:            c.HostelID,
		RoomType:            c.RoomType,
		FeeType:             string(c.FeeType),
		CalculationType:     string(c.CalculationType),
		StudentID:           c.StudentID,
		BookingID:           c.BookingID,
		MoveInDate:          c.MoveInDate,
		MoveOutDate:         c.MoveOutDate,
		DurationMonths:      c.DurationMonths,
		MonthlyRent:         c.MonthlyRent,
		RentTotal:           c.RentTotal,
		SecurityDeposit:     c.SecurityDeposit,
		MessCharges:         c.MessCharges,
		UtilityCharges:      c.UtilityCharges,
		OtherCharges:        c.OtherCharges,
		Subtotal:            c.Subtotal,
		DiscountID:          c.DiscountID,
		DiscountCode:        c.DiscountCode,
		DiscountApplied:     c.DiscountApplied,
		TaxPercentage:       c.TaxPercentage,
		TaxAmount:           c.TaxAmount,
		TotalPayable:        c.TotalPayable,
		FirstMonthTotal:     c.FirstMonthTotal,
		MonthlyRecurring:    c.MonthlyRecurring,
		IsProrated:          c.IsProrated,
		ProratedDays:        c.ProratedDays,
		ProrationFactor:     c.ProrationFactor,
		ProrationAdjustment: c.ProrationAdjustment,
		PaymentSchedule:     c.PaymentSchedule,
		Breakdown:           c.Breakdown,
		IsApproved:          c.IsApproved,
		ApprovedBy:          c.ApprovedBy,
		ApprovedAt:          c.ApprovedAt,
		CreatedBy:           c.CreatedBy,
	}
	if !c.CreatedAt.IsZero() {
		at := c.CreatedAt
		dto.CreatedAt = &at
	}
	if dto.PaymentSchedule == nil {
		dto.PaymentSchedule = []fees.ScheduleEntry{}
	}
	return dto
}

func toCalculationDTOs(list []fees.FeeCalculation) []FeeCalculationDTO {
	out := make([]FeeCalculationDTO, 0, len(list))
	for i := range list {
		out = append(out, toCalculationDTO(&list[i]))
	}
	return out
}

// =============================================================================
// PRORATION
// =============================================================================

type ProrationRequest struct {
	StructureID string       `json:"structure_id" validate:"required"`
	StartDate   generic.Date `json:"start_date"`
	EndDate     generic.Date `json:"end_date"`
	Method      string       `json:"method" validate:"omitempty,oneof=daily weekly monthly"`
}

type EarlyTerminationRequest struct {
	StructureID       string          `json:"structure_id" validate:"required"`
	MoveInDate        generic.Date    `json:"move_in_date"`
	PlannedMoveOut    generic.Date    `json:"planned_move_out"`
	ActualMoveOut     generic.Date    `json:"actual_move_out"`
	AmountPaid        decimal.Decimal `json:"amount_paid"`
	DepositPaid       decimal.Decimal `json:"deposit_paid"`
	RefundableCharges decimal.Decimal `json:"refundable_charges"`
}

type NoticePenaltyRequest struct {
	StructureID        string       `json:"structure_id" validate:"required"`
	NoticeDate         generic.Date `json:"notice_date"`
	MoveOutDate        generic.Date `json:"move_out_date"`
	RequiredNoticeDays int          `json:"required_notice_days" validate:"min=0,max=365"`
}

// =============================================================================
// APPROVALS
// =============================================================================

type ApprovalDTO struct {
	ID                   string              `json:"id"`
	FeeStructureID       string              `json:"fee_structure_id"`
	Status               string              `json:"status"`
	RequestedAmount      decimal.Decimal     `json:"requested_amount"`
	PreviousAmount       *decimal.Decimal    `json:"previous_amount,omitempty"`
	Justification        string              `json:"justification,omitempty"`
	RevisionNotes        []fees.RevisionNote `json:"revision_notes"`
	SubmittedBy          string              `json:"submitted_by"`
	SubmittedAt          time.Time           `json:"submitted_at"`
	ResolvedBy           *string             `json:"resolved_by,omitempty"`
	ResolvedAt           *time.Time          `json:"resolved_at,omitempty"`
	RejectionReason      string              `json:"rejection_reason,omitempty"`
	RequiresResubmission bool                `json:"requires_resubmission"`
	EffectiveFrom        *generic.Date       `json:"effective_from,omitempty"`
}

type ApprovalEventDTO struct {
	ID             string          `json:"id"`
	ApprovalID     string          `json:"approval_id"`
	FeeStructureID string          `json:"fee_structure_id"`
	Kind           string          `json:"kind"`
	ActorID        string          `json:"actor_id"`
	Note           string          `json:"note,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// ApprovalResultDTO is returned by every approval transition.
type ApprovalResultDTO struct {
	Approval  ApprovalDTO       `json:"approval"`
	Structure FeeStructureDTO   `json:"structure"`
	Event     *ApprovalEventDTO `json:"event,omitempty"`
}

type SubmitApprovalRequest struct {
	StructureID   string `json:"structure_id" validate:"required"`
	Justification string `json:"justification" validate:"max=2000"`
}

type ApproveRequest struct {
	Note          string        `json:"note" validate:"max=2000"`
	EffectiveFrom *generic.Date `json:"effective_from"`
}

type RejectRequest struct {
	Reason               string `json:"reason" validate:"required,max=2000"`
	RequiresResubmission bool   `json:"requires_resubmission"`
}

type RevisionRequest struct {
	Note             string   `json:"note" validate:"required,max=2000"`
	RequestedChanges []string `json:"requested_changes"`
}

func toApprovalDTO(a *fees.FeeApproval) ApprovalDTO {
	notes := a.RevisionNotes
	if notes == nil {
		notes = []fees.RevisionNote{}
	}
	return ApprovalDTO{
		ID:                   a.ID,
		FeeStructureID:       a.FeeStructureID,
		Status:               string(a.Status),
		RequestedAmount:      a.RequestedAmount,
		PreviousAmount:       a.PreviousAmount,
		Justification:        a.Justification,
		RevisionNotes:        notes,
		SubmittedBy:          a.SubmittedBy,
		SubmittedAt:          a.SubmittedAt,
		ResolvedBy:           a.ResolvedBy,
		ResolvedAt:           a.ResolvedAt,
		RejectionReason:      a.RejectionReason,
		RequiresResubmission: a.RequiresResubmission,
		EffectiveFrom:        a.EffectiveFrom,
	}
}

func toApprovalDTOs(list []fees.FeeApproval) []ApprovalDTO {
	out := make([]ApprovalDTO, 0, len(list))
	for i := range list {
		out = append(out, toApprovalDTO(&list[i]))
	}
	return out
}

func toApprovalEventDTO(e *fees.ApprovalEvent) ApprovalEventDTO {
	return ApprovalEventDTO{
		ID:             e.ID,
		ApprovalID:     e.ApprovalID,
		FeeStructureID: e.FeeStructureID,
		Kind:           string(e.Kind),
		ActorID:        e.ActorID,
		Note:           e.Note,
		Amount:         e.Amount,
		OccurredAt:     e.OccurredAt,
	}
}

func toApprovalEventDTOs(list []fees.ApprovalEvent) []ApprovalEventDTO {
	out := make([]ApprovalEventDTO, 0, len(list))
	for i := range list {
		out = append(out, toApprovalEventDTO(&list[i]))
	}
	return out
}

func toApprovalResultDTO(r *fees.ApprovalResult) ApprovalResultDTO {
	dto := ApprovalResultDTO{
		Approval:  toApprovalDTO(r.Approval),
		Structure: toStructureDTO(r.Structure),
	}
	if r.Event != nil {
		e := toApprovalEventDTO(r.Event)
		dto.Event = &e
	}
	return dto
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID          string         `json:"id"`
	At          time.Time      `json:"at"`
	ActorID     string         `json:"actor_id"`
	Action      string         `json:"action"`
	SubjectType string         `json:"subject_type"`
	SubjectID   string         `json:"subject_id"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func toAuditDTOs(list []generic.AuditEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, 0, len(list))
	for _, e := range list {
		out = append(out, AuditEntryDTO{
			ID:          e.ID,
			At:          e.At,
			ActorID:     e.ActorID,
			Action:      string(e.Action),
			SubjectType: e.SubjectType,
			SubjectID:   e.SubjectID,
			Payload:     e.Payload,
		})
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}
