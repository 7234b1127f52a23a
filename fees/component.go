/*
component.go - Itemized charges under a fee structure

PURPOSE:
  ComponentCatalog manages the itemized charges (maintenance, amenities,
  utilities, ...) attached to a FeeStructure and computes aggregate views
  over them. Components are owned by their structure and tombstoned on
  delete so historical calculations keep pointing at real rows.

APPLICABILITY:
  A component applies to a stay when:
  - it is not deleted
  - its room-type set is empty or contains the room type (exact membership)
  - its [AppliesFrom, AppliesTo] window contains the date (open bounds
    always match)

AGGREGATES:
  Totals:        subtotal (without tax), tax, total (with tax)
  TaxBreakdown:  tax grouped by rate and by component type
  Breakdown:     mandatory/optional x recurring/one-time groups

  All aggregates sum decimal.Decimal values; nothing passes through float64.

SEE ALSO:
  - rules.go: ChargeRule management and evaluation
  - calculation.go: Consumes applicable components for a stay
*/
package fees

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fee-engine/generic"
)

// ComponentCatalog manages charge components and their rules.
type ComponentCatalog struct {
	Logger *zap.Logger
}

func (c *ComponentCatalog) logger() *zap.Logger { return nopIfNil(c.Logger) }

// =============================================================================
// PARAMETERS
// =============================================================================

type ComponentParams struct {
	Name              string
	Type              ComponentType
	Amount            decimal.Decimal
	IsMandatory       bool
	IsRefundable      bool
	IsRecurring       bool
	IsTaxable         bool
	VisibleToStudent  bool
	ProrationAllowed  bool
	CalculationMethod CalculationMethod
	TaxPercentage     decimal.Decimal
	AppliesFrom       *generic.Date
	AppliesTo         *generic.Date
	RoomTypes         []string
	DisplayOrder      int
	Description       string
}

// ComponentChanges updates only the populated fields.
type ComponentChanges struct {
	Name              *string
	Type              *ComponentType
	Amount            *decimal.Decimal
	IsMandatory       *bool
	IsRefundable      *bool
	IsRecurring       *bool
	IsTaxable         *bool
	VisibleToStudent  *bool
	ProrationAllowed  *bool
	CalculationMethod *CalculationMethod
	TaxPercentage     *decimal.Decimal
	AppliesFrom       *generic.Date
	AppliesTo         *generic.Date
	ClearAppliesFrom  bool
	ClearAppliesTo    bool
	RoomTypes         *[]string
	DisplayOrder      *int
	Description       *string
}

// ComponentFilter narrows List. Nil flags are ignored.
type ComponentFilter struct {
	Type             ComponentType
	IsMandatory      *bool
	IsRecurring      *bool
	IsTaxable        *bool
	IsRefundable     *bool
	ProrationAllowed *bool
	VisibleToStudent *bool
	RoomType         string
	AsOf             *generic.Date
	IncludeDeleted   bool
}

func (f ComponentFilter) matches(c *ChargeComponent) bool {
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	flags := []struct {
		want *bool
		got  bool
	}{
		{f.IsMandatory, c.IsMandatory},
		{f.IsRecurring, c.IsRecurring},
		{f.IsTaxable, c.IsTaxable},
		{f.IsRefundable, c.IsRefundable},
		{f.ProrationAllowed, c.ProrationAllowed},
		{f.VisibleToStudent, c.VisibleToStudent},
	}
	for _, fl := range flags {
		if fl.want != nil && *fl.want != fl.got {
			return false
		}
	}
	if f.RoomType != "" && !c.AppliesToRoomType(f.RoomType) {
		return false
	}
	if f.AsOf != nil && !c.AppliesOn(*f.AsOf) {
		return false
	}
	return true
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateComponent(c *ChargeComponent) error {
	if c.Name == "" {
		return generic.Validation("name", "component name is required")
	}
	if !c.Type.Valid() {
		return generic.Validation("type", "invalid component type %q", c.Type)
	}
	if c.Amount.IsNegative() {
		return generic.Validation("amount", "amount must be >= 0")
	}
	if c.TaxPercentage.IsNegative() || c.TaxPercentage.GreaterThan(generic.Hundred) {
		return generic.Validation("tax_percentage", "tax percentage must be between 0 and 100")
	}
	if !c.CalculationMethod.Valid() {
		return generic.Validation("calculation_method", "invalid calculation method %q", c.CalculationMethod)
	}
	if !c.Window().Valid() {
		return generic.Validation("applies_to", "applies_to must be after applies_from")
	}
	return nil
}

// ensureUniqueName rejects a second live component with the same name
// (case-insensitive) under one structure.
func ensureUniqueName(ctx context.Context, tx Store, structureID, name, selfID string) error {
	existing, err := tx.ListComponents(ctx, structureID, false)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.ID != selfID && strings.EqualFold(e.Name, name) {
			return generic.Conflict("component %q already exists on fee structure %s", name, structureID)
		}
	}
	return nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Add creates a component under a live fee structure.
func (c *ComponentCatalog) Add(ctx context.Context, tx Store, audit generic.AuditContext, structureID string, p ComponentParams) (*ChargeComponent, error) {
	structure, err := tx.GetStructure(ctx, structureID)
	if err != nil {
		return nil, err
	}
	if structure == nil || structure.DeletedAt != nil {
		return nil, generic.NotFound("fee structure", structureID)
	}

	method := p.CalculationMethod
	if method == "" {
		method = MethodFixed
	}
	comp := &ChargeComponent{
		ID:                generic.NewID(),
		FeeStructureID:    structure.ID,
		Name:              strings.TrimSpace(p.Name),
		Type:              p.Type,
		Amount:            generic.Round2(p.Amount),
		IsMandatory:       p.IsMandatory,
		IsRefundable:      p.IsRefundable,
		IsRecurring:       p.IsRecurring,
		IsTaxable:         p.IsTaxable,
		VisibleToStudent:  p.VisibleToStudent,
		ProrationAllowed:  p.ProrationAllowed,
		CalculationMethod: method,
		TaxPercentage:     p.TaxPercentage,
		AppliesFrom:       p.AppliesFrom,
		AppliesTo:         p.AppliesTo,
		RoomTypes:         generic.NewStringSet(p.RoomTypes...),
		DisplayOrder:      p.DisplayOrder,
		Description:       p.Description,
		CreatedBy:         audit.ActorID,
		UpdatedBy:         audit.ActorID,
		CreatedAt:         audit.At,
		UpdatedAt:         audit.At,
	}
	if err := validateComponent(comp); err != nil {
		return nil, err
	}
	if err := ensureUniqueName(ctx, tx, structure.ID, comp.Name, ""); err != nil {
		return nil, err
	}

	if err := tx.InsertComponent(ctx, comp); err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, audit.Entry(generic.AuditComponentAdded, "charge_component", comp.ID, map[string]any{
		"fee_structure_id": structure.ID,
		"name":             comp.Name,
		"amount":           comp.Amount.String(),
	})); err != nil {
		return nil, err
	}

	c.logger().Info("charge component added",
		zap.String("component_id", comp.ID),
		zap.String("fee_structure_id", structure.ID),
		zap.String("name", comp.Name))
	return comp, nil
}

// Update applies changes and re-validates the whole component.
func (c *ComponentCatalog) Update(ctx context.Context, tx Store, audit generic.AuditContext, id string, ch ComponentChanges) (*ChargeComponent, error) {
	comp, err := c.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	structure, err := tx.GetStructure(ctx, comp.FeeStructureID)
	if err != nil {
		return nil, err
	}
	if structure == nil || structure.DeletedAt != nil {
		return nil, generic.NotFound("fee structure", comp.FeeStructureID)
	}

	if ch.Name != nil {
		comp.Name = strings.TrimSpace(*ch.Name)
	}
	if ch.Type != nil {
		comp.Type = *ch.Type
	}
	if ch.Amount != nil {
		comp.Amount = generic.Round2(*ch.Amount)
	}
	if ch.IsMandatory != nil {
		comp.IsMandatory = *ch.IsMandatory
	}
	if ch.IsRefundable != nil {
		comp.IsRefundable = *ch.IsRefundable
	}
	if ch.IsRecurring != nil {
		comp.IsRecurring = *ch.IsRecurring
	}
	if ch.IsTaxable != nil {
		comp.IsTaxable = *ch.IsTaxable
	}
	if ch.VisibleToStudent != nil {
		comp.VisibleToStudent = *ch.VisibleToStudent
	}
	if ch.ProrationAllowed != nil {
		comp.ProrationAllowed = *ch.ProrationAllowed
	}
	if ch.CalculationMethod != nil {
		comp.CalculationMethod = *ch.CalculationMethod
	}
	if ch.TaxPercentage != nil {
		comp.TaxPercentage = *ch.TaxPercentage
	}
	if ch.ClearAppliesFrom {
		comp.AppliesFrom = nil
	} else if ch.AppliesFrom != nil {
		comp.AppliesFrom = ch.AppliesFrom
	}
	if ch.ClearAppliesTo {
		comp.AppliesTo = nil
	} else if ch.AppliesTo != nil {
		comp.AppliesTo = ch.AppliesTo
	}
	if ch.RoomTypes != nil {
		comp.RoomTypes = generic.NewStringSet(*ch.RoomTypes...)
	}
	if ch.DisplayOrder != nil {
		comp.DisplayOrder = *ch.DisplayOrder
	}
	if ch.Description != nil {
		comp.Description = *ch.Description
	}

	if err := validateComponent(comp); err != nil {
		return nil, err
	}
	if ch.Name != nil {
		if err := ensureUniqueName(ctx, tx, comp.FeeStructureID, comp.Name, comp.ID); err != nil {
			return nil, err
		}
	}

	comp.UpdatedBy = audit.ActorID
	comp.UpdatedAt = audit.At
	if err := tx.UpdateComponent(ctx, comp); err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, audit.Entry(generic.AuditComponentUpdated, "charge_component", comp.ID, map[string]any{
		"amount": comp.Amount.String(),
	})); err != nil {
		return nil, err
	}
	return comp, nil
}

// Delete tombstones a component.
func (c *ComponentCatalog) Delete(ctx context.Context, tx Store, audit generic.AuditContext, id string) error {
	comp, err := c.Get(ctx, tx, id)
	if err != nil {
		return err
	}

	at := audit.At
	comp.DeletedAt = &at
	comp.UpdatedBy = audit.ActorID
	comp.UpdatedAt = audit.At
	if err := tx.UpdateComponent(ctx, comp); err != nil {
		return err
	}
	return tx.AppendAudit(ctx, audit.Entry(generic.AuditComponentDeleted, "charge_component", comp.ID, map[string]any{
		"fee_structure_id": comp.FeeStructureID,
	}))
}

// Get returns a live component or a not-found error.
func (c *ComponentCatalog) Get(ctx context.Context, tx Store, id string) (*ChargeComponent, error) {
	comp, err := tx.GetComponent(ctx, id)
	if err != nil {
		return nil, err
	}
	if comp == nil || comp.DeletedAt != nil {
		return nil, generic.NotFound("charge component", id)
	}
	return comp, nil
}

// List returns a structure's components matching filter, in display order.
func (c *ComponentCatalog) List(ctx context.Context, tx Store, structureID string, filter ComponentFilter) ([]ChargeComponent, error) {
	structure, err := tx.GetStructure(ctx, structureID)
	if err != nil {
		return nil, err
	}
	if structure == nil {
		return nil, generic.NotFound("fee structure", structureID)
	}

	all, err := tx.ListComponents(ctx, structureID, filter.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	out := make([]ChargeComponent, 0, len(all))
	for i := range all {
		if filter.matches(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Summary computes all aggregates over the components matching filter.
func (c *ComponentCatalog) Summary(ctx context.Context, tx Store, structureID string, filter ComponentFilter) (*ComponentSummary, error) {
	comps, err := c.List(ctx, tx, structureID, filter)
	if err != nil {
		return nil, err
	}
	return &ComponentSummary{
		FeeStructureID: structureID,
		Totals:         Totals(comps),
		Tax:            ComputeTaxBreakdown(comps),
		Breakdown:      GroupComponents(comps),
	}, nil
}

// =============================================================================
// AGGREGATES
// =============================================================================

type ComponentTotals struct {
	Count    int             `json:"count"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Totals sums amounts without and with tax.
func Totals(components []ChargeComponent) ComponentTotals {
	t := ComponentTotals{Subtotal: decimal.Zero, Tax: decimal.Zero}
	for i := range components {
		t.Count++
		t.Subtotal = t.Subtotal.Add(components[i].Amount)
		t.Tax = t.Tax.Add(components[i].TaxAmount())
	}
	t.Total = t.Subtotal.Add(t.Tax)
	return t
}

type TaxLine struct {
	Key     string          `json:"key"`
	Count   int             `json:"count"`
	Taxable decimal.Decimal `json:"taxable"`
	Tax     decimal.Decimal `json:"tax"`
}

type TaxBreakdown struct {
	ByRate   []TaxLine       `json:"by_rate"`
	ByType   []TaxLine       `json:"by_type"`
	TotalTax decimal.Decimal `json:"total_tax"`
}

// ComputeTaxBreakdown groups taxable components by rate and by type.
func ComputeTaxBreakdown(components []ChargeComponent) TaxBreakdown {
	byRate := map[string]*TaxLine{}
	byType := map[string]*TaxLine{}
	total := decimal.Zero

	add := func(m map[string]*TaxLine, key string, amount, tax decimal.Decimal) {
		line, ok := m[key]
		if !ok {
			line = &TaxLine{Key: key, Taxable: decimal.Zero, Tax: decimal.Zero}
			m[key] = line
		}
		line.Count++
		line.Taxable = line.Taxable.Add(amount)
		line.Tax = line.Tax.Add(tax)
	}

	for i := range components {
		comp := &components[i]
		if !comp.IsTaxable {
			continue
		}
		tax := comp.TaxAmount()
		add(byRate, comp.TaxPercentage.StringFixed(2), comp.Amount, tax)
		add(byType, string(comp.Type), comp.Amount, tax)
		total = total.Add(tax)
	}

	return TaxBreakdown{ByRate: sortedLines(byRate), ByType: sortedLines(byType), TotalTax: total}
}

func sortedLines(m map[string]*TaxLine) []TaxLine {
	out := make([]TaxLine, 0, len(m))
	for _, l := range m {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

type ComponentLine struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Type   ComponentType   `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Tax    decimal.Decimal `json:"tax"`
}

type ComponentGroup struct {
	Items  []ComponentLine `json:"items"`
	Totals ComponentTotals `json:"totals"`
}

type ComponentBreakdown struct {
	MandatoryRecurring ComponentGroup  `json:"mandatory_recurring"`
	MandatoryOneTime   ComponentGroup  `json:"mandatory_one_time"`
	OptionalRecurring  ComponentGroup  `json:"optional_recurring"`
	OptionalOneTime    ComponentGroup  `json:"optional_one_time"`
	Overall            ComponentTotals `json:"overall"`
}

// GroupComponents splits components by mandatory and recurring status.
func GroupComponents(components []ChargeComponent) ComponentBreakdown {
	var mr, mo, or, oo []ChargeComponent
	for _, comp := range components {
		switch {
		case comp.IsMandatory && comp.IsRecurring:
			mr = append(mr, comp)
		case comp.IsMandatory:
			mo = append(mo, comp)
		case comp.IsRecurring:
			or = append(or, comp)
		default:
			oo = append(oo, comp)
		}
	}
	return ComponentBreakdown{
		MandatoryRecurring: group(mr),
		MandatoryOneTime:   group(mo),
		OptionalRecurring:  group(or),
		OptionalOneTime:    group(oo),
		Overall:            Totals(components),
	}
}

func group(components []ChargeComponent) ComponentGroup {
	items := make([]ComponentLine, 0, len(components))
	for i := range components {
		comp := &components[i]
		items = append(items, ComponentLine{
			ID:     comp.ID,
			Name:   comp.Name,
			Type:   comp.Type,
			Amount: comp.Amount,
			Tax:    comp.TaxAmount(),
		})
	}
	return ComponentGroup{Items: items, Totals: Totals(components)}
}

type ComponentSummary struct {
	FeeStructureID string             `json:"fee_structure_id"`
	Totals         ComponentTotals    `json:"totals"`
	Tax            TaxBreakdown       `json:"tax"`
	Breakdown      ComponentBreakdown `json:"breakdown"`
}
