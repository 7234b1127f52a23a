/*
Package factory provides JSON to Go fee-structure conversion.

PURPOSE:
  Converts JSON fee-structure templates into the creation params of the
  fees package, then installs them (structure, components, rules) inside
  one transaction. Hostel admins can keep a pricing sheet per room type
  in JSON and roll it out without hand-entering every component.

JSON SCHEMA:
  {
    "hostel_id": "h1",
    "room_type": "single",
    "fee_type": "monthly",
    "amount": "8000",
    "security_deposit": "16000",
    "includes_mess": false,
    "mess_charge_monthly": "3000",
    "utility_charge_type": "fixed_monthly",
    "electricity_charge": "500",
    "water_charge": "200",
    "effective_from": "2025-07-01",
    "components": [
      {
        "name": "Laundry",
        "type": "amenity",
        "amount": "400",
        "mandatory": false,
        "recurring": true,
        "rules": [
          {"name": "Long stay", "type": "discount", "priority": 10,
           "condition": {"min_stay_months": 6},
           "action": {"percentage": "25"}}
        ]
      }
    ]
  }

DEFAULTS:
  fee_type             monthly
  utility_charge_type  included
  component mandatory  true
  component recurring  true
  visible_to_student   true
  calculation_method   fixed (applied by ComponentCatalog.Add)

USAGE:
  tmpl, err := factory.ParseTemplate(jsonString)
  err = store.WithTx(ctx, func(tx fees.Store) error {
      installed, err = factory.Install(ctx, tx, audit, catalogs, tmpl)
      return err
  })

SEE ALSO:
  - fees/structure.go: StructureCatalog.Create
  - fees/component.go: ComponentCatalog.Add
  - fees/rules.go: ComponentCatalog.AddRule
  - presets.go: Ready-made templates
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// StructureJSON is the JSON representation of a fee-structure template.
type StructureJSON struct {
	HostelID          string          `json:"hostel_id"`
	RoomType          string          `json:"room_type"`
	FeeType           string          `json:"fee_type,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	SecurityDeposit   decimal.Decimal `json:"security_deposit"`
	IncludesMess      bool            `json:"includes_mess,omitempty"`
	MessChargeMonthly decimal.Decimal `json:"mess_charge_monthly,omitempty"`
	UtilityChargeType string          `json:"utility_charge_type,omitempty"`
	ElectricityCharge decimal.Decimal `json:"electricity_charge,omitempty"`
	WaterCharge       decimal.Decimal `json:"water_charge,omitempty"`
	EffectiveFrom     generic.Date    `json:"effective_from"`
	EffectiveTo       *generic.Date   `json:"effective_to,omitempty"`
	Description       string          `json:"description,omitempty"`
	RequireApproval   *bool           `json:"require_approval,omitempty"`
	Components        []ComponentJSON `json:"components,omitempty"`
}

// ComponentJSON represents one itemized charge and its rules.
type ComponentJSON struct {
	Name              string          `json:"name"`
	Type              string          `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	Mandatory         *bool           `json:"mandatory,omitempty"` // default true
	Refundable        bool            `json:"refundable,omitempty"`
	Recurring         *bool           `json:"recurring,omitempty"` // default true
	Taxable           bool            `json:"taxable,omitempty"`
	TaxPercentage     decimal.Decimal `json:"tax_percentage,omitempty"`
	VisibleToStudent  *bool           `json:"visible_to_student,omitempty"` // default true
	ProrationAllowed  bool            `json:"proration_allowed,omitempty"`
	CalculationMethod string          `json:"calculation_method,omitempty"`
	AppliesFrom       *generic.Date   `json:"applies_from,omitempty"`
	AppliesTo         *generic.Date   `json:"applies_to,omitempty"`
	RoomTypes         []string        `json:"room_types,omitempty"`
	DisplayOrder      int             `json:"display_order,omitempty"`
	Description       string          `json:"description,omitempty"`
	Rules             []RuleJSON      `json:"rules,omitempty"`
}

// RuleJSON represents a charge rule. Condition and action use the same
// JSON shape the store persists.
type RuleJSON struct {
	Name      string             `json:"name"`
	Type      string             `json:"type"`
	Condition fees.RuleCondition `json:"condition,omitempty"`
	Action    fees.RuleAction    `json:"action,omitempty"`
	Priority  int                `json:"priority,omitempty"`
}

// =============================================================================
// PARSED TEMPLATE
// =============================================================================

// Template is a parsed, validated template ready to install.
type Template struct {
	Structure  fees.CreateStructureParams
	Components []ComponentTemplate
}

type ComponentTemplate struct {
	Params fees.ComponentParams
	Rules  []fees.RuleParams
}

// ParseTemplate parses a JSON template and fills in defaults. It checks
// enum values and structure amounts up front so a bad sheet is rejected
// before anything is written.
func ParseTemplate(jsonStr string) (*Template, error) {
	var sj StructureJSON
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sj); err != nil {
		return nil, generic.Validation("template", "invalid JSON: %v", err)
	}
	return FromJSON(sj)
}

// FromJSON converts an already decoded template.
func FromJSON(sj StructureJSON) (*Template, error) {
	feeType := fees.FeeType(defaultString(sj.FeeType, string(fees.FeeMonthly)))
	utility := fees.UtilityChargeType(defaultString(sj.UtilityChargeType, string(fees.UtilityIncluded)))

	t := &Template{
		Structure: fees.CreateStructureParams{
			HostelID:          strings.TrimSpace(sj.HostelID),
			RoomType:          strings.TrimSpace(sj.RoomType),
			FeeType:           feeType,
			Amount:            sj.Amount,
			SecurityDeposit:   sj.SecurityDeposit,
			IncludesMess:      sj.IncludesMess,
			MessChargeMonthly: sj.MessChargeMonthly,
			UtilityChargeType: utility,
			ElectricityCharge: sj.ElectricityCharge,
			WaterCharge:       sj.WaterCharge,
			EffectiveFrom:     sj.EffectiveFrom,
			EffectiveTo:       sj.EffectiveTo,
			Description:       sj.Description,
			RequireApproval:   sj.RequireApproval,
		},
	}
	if err := fees.ValidateStructure(structureFromParams(t.Structure)); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(sj.Components))
	for i, cj := range sj.Components {
		ct, err := ComponentFromJSON(cj)
		if err != nil {
			return nil, fmt.Errorf("component %d (%s): %w", i, cj.Name, err)
		}
		key := strings.ToLower(ct.Params.Name)
		if seen[key] {
			return nil, generic.Conflict("component %q appears twice in the template", ct.Params.Name)
		}
		seen[key] = true
		t.Components = append(t.Components, *ct)
	}
	return t, nil
}

// ComponentFromJSON converts one component and its rules, applying the
// component defaults.
func ComponentFromJSON(cj ComponentJSON) (*ComponentTemplate, error) {
	name := strings.TrimSpace(cj.Name)
	if name == "" {
		return nil, generic.Validation("name", "component name is required")
	}
	ct := fees.ComponentType(cj.Type)
	if !ct.Valid() {
		return nil, generic.Validation("type", "unknown component type %q", cj.Type)
	}
	method := fees.CalculationMethod(cj.CalculationMethod)
	if cj.CalculationMethod != "" && !method.Valid() {
		return nil, generic.Validation("calculation_method", "unknown calculation method %q", cj.CalculationMethod)
	}

	out := &ComponentTemplate{
		Params: fees.ComponentParams{
			Name:              name,
			Type:              ct,
			Amount:            cj.Amount,
			IsMandatory:       boolOr(cj.Mandatory, true),
			IsRefundable:      cj.Refundable,
			IsRecurring:       boolOr(cj.Recurring, true),
			IsTaxable:         cj.Taxable,
			VisibleToStudent:  boolOr(cj.VisibleToStudent, true),
			ProrationAllowed:  cj.ProrationAllowed,
			CalculationMethod: method,
			TaxPercentage:     cj.TaxPercentage,
			AppliesFrom:       cj.AppliesFrom,
			AppliesTo:         cj.AppliesTo,
			RoomTypes:         cj.RoomTypes,
			DisplayOrder:      cj.DisplayOrder,
			Description:       cj.Description,
		},
	}
	for _, rj := range cj.Rules {
		rt := fees.RuleType(rj.Type)
		if !rt.Valid() {
			return nil, generic.Validation("rules.type", "unknown rule type %q", rj.Type)
		}
		out.Rules = append(out.Rules, fees.RuleParams{
			Name:      strings.TrimSpace(rj.Name),
			Type:      rt,
			Condition: rj.Condition,
			Action:    rj.Action,
			Priority:  rj.Priority,
		})
	}
	return out, nil
}

// structureFromParams builds an unsaved row so the catalog's validation
// can run before install.
func structureFromParams(p fees.CreateStructureParams) *fees.FeeStructure {
	return &fees.FeeStructure{
		HostelID:          p.HostelID,
		RoomType:          p.RoomType,
		FeeType:           p.FeeType,
		Amount:            p.Amount,
		SecurityDeposit:   p.SecurityDeposit,
		IncludesMess:      p.IncludesMess,
		MessChargeMonthly: p.MessChargeMonthly,
		UtilityChargeType: p.UtilityChargeType,
		ElectricityCharge: p.ElectricityCharge,
		WaterCharge:       p.WaterCharge,
		EffectiveFrom:     p.EffectiveFrom,
		EffectiveTo:       p.EffectiveTo,
	}
}

// =============================================================================
// INSTALL
// =============================================================================

// Catalogs groups the services Install writes through.
type Catalogs struct {
	Structures *fees.StructureCatalog
	Components *fees.ComponentCatalog
}

// Installed is what Install created.
type Installed struct {
	Structure  *fees.FeeStructure
	Components []fees.ChargeComponent
	Rules      []fees.ChargeRule
}

// Install creates the structure, then every component and its rules. The
// caller owns the transaction; any failure leaves nothing behind once it
// rolls back.
func Install(ctx context.Context, tx fees.Store, audit generic.AuditContext, c Catalogs, t *Template) (*Installed, error) {
	s, err := c.Structures.Create(ctx, tx, audit, t.Structure)
	if err != nil {
		return nil, err
	}
	out := &Installed{Structure: s}

	for _, ct := range t.Components {
		comp, rules, err := InstallComponent(ctx, tx, audit, c.Components, s.ID, ct)
		if err != nil {
			return nil, err
		}
		out.Components = append(out.Components, *comp)
		out.Rules = append(out.Rules, rules...)
	}
	return out, nil
}

// InstallComponent adds one component and its rules to an existing
// structure.
func InstallComponent(ctx context.Context, tx fees.Store, audit generic.AuditContext, catalog *fees.ComponentCatalog, structureID string, ct ComponentTemplate) (*fees.ChargeComponent, []fees.ChargeRule, error) {
	comp, err := catalog.Add(ctx, tx, audit, structureID, ct.Params)
	if err != nil {
		return nil, nil, fmt.Errorf("component %s: %w", ct.Params.Name, err)
	}
	rules := make([]fees.ChargeRule, 0, len(ct.Rules))
	for _, rp := range ct.Rules {
		rule, err := catalog.AddRule(ctx, tx, audit, comp.ID, rp)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %s on %s: %w", rp.Name, ct.Params.Name, err)
		}
		rules = append(rules, *rule)
	}
	return comp, rules, nil
}

func defaultString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
