/*
rules.go - Conditional charge rules attached to a component

PURPOSE:
  A ChargeRule adjusts a single component's charge for a particular stay.
  Rules are typed variants rather than free-text expressions: the Condition
  says WHEN a rule applies, the Action says by HOW MUCH, and the Type says
  what kind of adjustment it is.

RULE TYPES:
  discount     reduce the charge by Action (percentage or amount), floor at 0
  surcharge    increase the charge by Action
  waiver       charge becomes 0; evaluation stops
  proration    the component follows first-month proration even when it is
               not flagged proration-allowed
  conditional  the component is only charged when the condition holds;
               a mismatch excludes it from the calculation

EVALUATION ORDER:
  Active rules only, highest Priority first, ties broken by ID so two runs
  over the same rules always produce the same result.

EXAMPLE:
  out := EvaluateRules(component.Amount, rules, RuleContext{
      RoomType:     "single",
      StayMonths:   12,
      IsNewStudent: true,
      MoveInDate:   generic.MustParseDate("2025-07-01"),
  })
  if out.Excluded { ... }
  charge := out.Amount

SEE ALSO:
  - component.go: AddRule / ListRules / DeactivateRule
  - calculation.go: Applies rules to each component of a stay
*/
package fees

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// RULE TYPES
// =============================================================================

type RuleType string

const (
	RuleDiscount    RuleType = "discount"
	RuleSurcharge   RuleType = "surcharge"
	RuleWaiver      RuleType = "waiver"
	RuleProration   RuleType = "proration"
	RuleConditional RuleType = "conditional"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleDiscount, RuleSurcharge, RuleWaiver, RuleProration, RuleConditional:
		return true
	}
	return false
}

// needsAction is true for the variants that carry an amount.
func (t RuleType) needsAction() bool {
	return t == RuleDiscount || t == RuleSurcharge
}

// RuleCondition is a conjunction: every populated field must match.
// An empty condition always matches.
type RuleCondition struct {
	MinStayMonths   *int              `json:"min_stay_months,omitempty"`
	MaxStayMonths   *int              `json:"max_stay_months,omitempty"`
	RoomTypes       generic.StringSet `json:"room_types,omitempty"`
	NewStudentsOnly bool              `json:"new_students_only,omitempty"`
	MoveInFrom      *generic.Date     `json:"move_in_from,omitempty"`
	MoveInTo        *generic.Date     `json:"move_in_to,omitempty"`
}

// RuleAction holds exactly one of Percentage or Amount for discount and
// surcharge rules, and neither for the other variants.
type RuleAction struct {
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
}

type ChargeRule struct {
	ID          string
	ComponentID string
	Name        string
	Type        RuleType
	Condition   RuleCondition
	Action      RuleAction
	Priority    int
	IsActive    bool

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RuleContext describes the stay a rule is evaluated against.
type RuleContext struct {
	RoomType     string
	StayMonths   int
	IsNewStudent bool
	MoveInDate   generic.Date
}

// Matches reports whether every populated condition holds for rc.
func (c RuleCondition) Matches(rc RuleContext) bool {
	if c.MinStayMonths != nil && rc.StayMonths < *c.MinStayMonths {
		return false
	}
	if c.MaxStayMonths != nil && rc.StayMonths > *c.MaxStayMonths {
		return false
	}
	if !c.RoomTypes.Allows(rc.RoomType) {
		return false
	}
	if c.NewStudentsOnly && !rc.IsNewStudent {
		return false
	}
	window := generic.OptionalWindow{From: c.MoveInFrom, To: c.MoveInTo}
	return window.Contains(rc.MoveInDate)
}

// AppliedRule records the effect of one rule on a charge.
type AppliedRule struct {
	RuleID string          `json:"rule_id"`
	Name   string          `json:"name"`
	Type   RuleType        `json:"type"`
	Before decimal.Decimal `json:"before"`
	After  decimal.Decimal `json:"after"`
}

// RuleOutcome is the result of running a component's rules.
type RuleOutcome struct {
	Amount   decimal.Decimal
	Excluded bool // a conditional rule did not match
	Waived   bool
	Prorate  bool // a proration rule matched
	Applied  []AppliedRule
}

// =============================================================================
// INTERPRETER
// =============================================================================

// EvaluateRules applies rules to amount for the given stay.
func EvaluateRules(amount decimal.Decimal, rules []ChargeRule, rc RuleContext) RuleOutcome {
	out := RuleOutcome{Amount: amount}

	for _, r := range sortRules(rules) {
		if !r.IsActive {
			continue
		}
		matched := r.Condition.Matches(rc)

		if r.Type == RuleConditional {
			if !matched {
				out.Excluded = true
				out.Amount = decimal.Zero
				out.Applied = append(out.Applied, AppliedRule{
					RuleID: r.ID, Name: r.Name, Type: r.Type, Before: amount, After: decimal.Zero,
				})
				return out
			}
			continue
		}
		if !matched {
			continue
		}

		before := out.Amount
		switch r.Type {
		case RuleWaiver:
			out.Amount = decimal.Zero
			out.Waived = true
		case RuleDiscount:
			out.Amount = generic.NonNegative(before.Sub(r.Action.effect(before)))
		case RuleSurcharge:
			out.Amount = before.Add(r.Action.effect(before))
		case RuleProration:
			out.Prorate = true
		}
		out.Applied = append(out.Applied, AppliedRule{
			RuleID: r.ID, Name: r.Name, Type: r.Type, Before: before, After: out.Amount,
		})
		if out.Waived {
			return out
		}
	}
	return out
}

func (a RuleAction) effect(base decimal.Decimal) decimal.Decimal {
	if a.Percentage != nil {
		return generic.Percent(base, *a.Percentage)
	}
	if a.Amount != nil {
		return *a.Amount
	}
	return decimal.Zero
}

func sortRules(rules []ChargeRule) []ChargeRule {
	sorted := make([]ChargeRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// =============================================================================
// RULE MANAGEMENT
// =============================================================================

type RuleParams struct {
	Name      string
	Type      RuleType
	Condition RuleCondition
	Action    RuleAction
	Priority  int
}

func validateRule(r *ChargeRule) error {
	if strings.TrimSpace(r.Name) == "" {
		return generic.Validation("name", "rule name is required")
	}
	if !r.Type.Valid() {
		return generic.Validation("type", "invalid rule type %q", r.Type)
	}

	hasPct, hasAmt := r.Action.Percentage != nil, r.Action.Amount != nil
	if r.Type.needsAction() {
		if hasPct == hasAmt {
			return generic.Validation("action", "%s rule needs exactly one of percentage or amount", r.Type)
		}
		if hasPct && (r.Action.Percentage.LessThanOrEqual(decimal.Zero) || r.Action.Percentage.GreaterThan(generic.Hundred)) {
			return generic.Validation("action.percentage", "percentage must be in (0, 100]")
		}
		if hasAmt && !r.Action.Amount.IsPositive() {
			return generic.Validation("action.amount", "amount must be positive")
		}
	} else if hasPct || hasAmt {
		return generic.Validation("action", "%s rule takes no action amount", r.Type)
	}

	c := r.Condition
	if c.MinStayMonths != nil && *c.MinStayMonths < 0 {
		return generic.Validation("condition.min_stay_months", "must not be negative")
	}
	if c.MinStayMonths != nil && c.MaxStayMonths != nil && *c.MaxStayMonths < *c.MinStayMonths {
		return generic.Validation("condition.max_stay_months", "must be >= min_stay_months")
	}
	if !(generic.OptionalWindow{From: c.MoveInFrom, To: c.MoveInTo}).Valid() {
		return generic.Validation("condition.move_in_to", "move-in window end must be after its start")
	}
	return nil
}

// AddRule attaches a rule to a live component.
func (c *ComponentCatalog) AddRule(ctx context.Context, tx Store, audit generic.AuditContext, componentID string, p RuleParams) (*ChargeRule, error) {
	comp, err := c.Get(ctx, tx, componentID)
	if err != nil {
		return nil, err
	}

	rule := &ChargeRule{
		ID:          generic.NewID(),
		ComponentID: comp.ID,
		Name:        strings.TrimSpace(p.Name),
		Type:        p.Type,
		Condition:   p.Condition,
		Action:      p.Action,
		Priority:    p.Priority,
		IsActive:    true,
		CreatedBy:   audit.ActorID,
		CreatedAt:   audit.At,
		UpdatedAt:   audit.At,
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	if err := tx.InsertRule(ctx, rule); err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, audit.Entry(generic.AuditRuleAdded, "charge_rule", rule.ID, map[string]any{
		"component_id": comp.ID,
		"type":         string(rule.Type),
		"priority":     rule.Priority,
	})); err != nil {
		return nil, err
	}

	c.logger().Info("charge rule added",
		zap.String("rule_id", rule.ID),
		zap.String("component_id", comp.ID),
		zap.String("type", string(rule.Type)))
	return rule, nil
}

// ListRules returns a component's rules in evaluation order.
func (c *ComponentCatalog) ListRules(ctx context.Context, tx Store, componentID string) ([]ChargeRule, error) {
	if _, err := c.Get(ctx, tx, componentID); err != nil {
		return nil, err
	}
	rules, err := tx.ListRules(ctx, componentID)
	if err != nil {
		return nil, err
	}
	return sortRules(rules), nil
}

// DeactivateRule switches a rule off. Rules are never deleted.
func (c *ComponentCatalog) DeactivateRule(ctx context.Context, tx Store, audit generic.AuditContext, ruleID string) (*ChargeRule, error) {
	rule, err := tx.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, generic.NotFound("charge rule", ruleID)
	}
	if !rule.IsActive {
		return rule, nil
	}

	rule.IsActive = false
	rule.UpdatedAt = audit.At
	if err := tx.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, audit.Entry(generic.AuditRuleDeactivated, "charge_rule", rule.ID, nil)); err != nil {
		return nil, err
	}
	return rule, nil
}

// rulesByComponent groups a structure's rules for evaluation.
func rulesByComponent(rules []ChargeRule) map[string][]ChargeRule {
	out := make(map[string][]ChargeRule)
	for _, r := range rules {
		out[r.ComponentID] = append(out[r.ComponentID], r)
	}
	return out
}
