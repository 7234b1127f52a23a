package fees_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

func intPtr(v int) *int { return &v }

var stay = fees.RuleContext{
	RoomType:     "single",
	StayMonths:   6,
	IsNewStudent: true,
	MoveInDate:   generic.MustParseDate("2025-07-01"),
}

func TestEvaluateRules_PriorityOrder(t *testing.T) {
	// GIVEN: A 10% discount at priority 10 and a 100 surcharge at priority 5
	rules := []fees.ChargeRule{
		{ID: "b", Name: "Surcharge", Type: fees.RuleSurcharge, Action: fees.RuleAction{Amount: moneyPtr("100")}, Priority: 5, IsActive: true},
		{ID: "a", Name: "Discount", Type: fees.RuleDiscount, Action: fees.RuleAction{Percentage: moneyPtr("10")}, Priority: 10, IsActive: true},
	}

	// WHEN
	out := fees.EvaluateRules(money("1000"), rules, stay)

	// THEN: Discount first (1000 -> 900), then surcharge (-> 1000)
	require.Len(t, out.Applied, 2)
	assert.Equal(t, "a", out.Applied[0].RuleID)
	assertMoney(t, "900", out.Applied[0].After)
	assertMoney(t, "1000", out.Amount)
}

func TestEvaluateRules_TiesBrokenByID(t *testing.T) {
	rules := []fees.ChargeRule{
		{ID: "z", Name: "Flat", Type: fees.RuleDiscount, Action: fees.RuleAction{Amount: moneyPtr("100")}, IsActive: true},
		{ID: "m", Name: "Half", Type: fees.RuleDiscount, Action: fees.RuleAction{Percentage: moneyPtr("50")}, IsActive: true},
	}

	out := fees.EvaluateRules(money("1000"), rules, stay)

	// 50% of 1000, then 100 off
	assertMoney(t, "400", out.Amount)
	assert.Equal(t, "m", out.Applied[0].RuleID)
}

func TestEvaluateRules_WaiverStops(t *testing.T) {
	rules := []fees.ChargeRule{
		{ID: "w", Name: "Waive", Type: fees.RuleWaiver, Priority: 10, IsActive: true},
		{ID: "s", Name: "Later", Type: fees.RuleSurcharge, Action: fees.RuleAction{Amount: moneyPtr("100")}, Priority: 1, IsActive: true},
	}

	out := fees.EvaluateRules(money("1000"), rules, stay)

	assert.True(t, out.Waived)
	assert.True(t, out.Amount.IsZero())
	assert.Len(t, out.Applied, 1)
}

func TestEvaluateRules_DiscountFloorsAtZero(t *testing.T) {
	rules := []fees.ChargeRule{
		{ID: "d", Name: "Big", Type: fees.RuleDiscount, Action: fees.RuleAction{Amount: moneyPtr("5000")}, IsActive: true},
	}

	out := fees.EvaluateRules(money("1000"), rules, stay)

	assert.True(t, out.Amount.IsZero())
}

func TestEvaluateRules_Conditions(t *testing.T) {
	tests := []struct {
		name      string
		condition fees.RuleCondition
		applies   bool
	}{
		{"empty matches", fees.RuleCondition{}, true},
		{"min stay met", fees.RuleCondition{MinStayMonths: intPtr(6)}, true},
		{"min stay not met", fees.RuleCondition{MinStayMonths: intPtr(12)}, false},
		{"max stay exceeded", fees.RuleCondition{MaxStayMonths: intPtr(3)}, false},
		{"room type member", fees.RuleCondition{RoomTypes: generic.NewStringSet("single", "double")}, true},
		{"room type exact membership", fees.RuleCondition{RoomTypes: generic.NewStringSet("single_ac")}, false},
		{"new students", fees.RuleCondition{NewStudentsOnly: true}, true},
		{"move-in window", fees.RuleCondition{MoveInFrom: datePtr("2025-07-01"), MoveInTo: datePtr("2025-07-31")}, true},
		{"move-in too early", fees.RuleCondition{MoveInFrom: datePtr("2025-08-01")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := []fees.ChargeRule{{ID: "r", Name: "r", Type: fees.RuleWaiver, Condition: tt.condition, IsActive: true}}

			out := fees.EvaluateRules(money("1000"), rules, stay)

			assert.Equal(t, tt.applies, out.Waived)
		})
	}
}

func TestEvaluateRules_ConditionalExcludes(t *testing.T) {
	// GIVEN: A charge only for stays of 12+ months
	rules := []fees.ChargeRule{
		{ID: "c", Name: "Long stay only", Type: fees.RuleConditional, Condition: fees.RuleCondition{MinStayMonths: intPtr(12)}, IsActive: true},
	}

	// WHEN / THEN: Six months excludes the component
	out := fees.EvaluateRules(money("1000"), rules, stay)
	assert.True(t, out.Excluded)
	assert.True(t, out.Amount.IsZero())

	// WHEN / THEN: Twelve months keeps it unchanged
	long := stay
	long.StayMonths = 12
	out = fees.EvaluateRules(money("1000"), rules, long)
	assert.False(t, out.Excluded)
	assertMoney(t, "1000", out.Amount)
	assert.Empty(t, out.Applied)
}

func TestEvaluateRules_InactiveAndProration(t *testing.T) {
	rules := []fees.ChargeRule{
		{ID: "off", Name: "Off", Type: fees.RuleWaiver, IsActive: false},
		{ID: "p", Name: "Prorate", Type: fees.RuleProration, IsActive: true},
	}

	out := fees.EvaluateRules(money("1000"), rules, stay)

	assert.False(t, out.Waived)
	assert.True(t, out.Prorate)
	assertMoney(t, "1000", out.Amount)
}

func TestAddRule_Validation(t *testing.T) {
	store := newTestStore(t)
	s := mustCreateStructure(t, store, &fees.StructureCatalog{}, structureParams("2025-01-01", ""))
	cat := &fees.ComponentCatalog{}
	comp := mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Maintenance", Type: fees.ComponentMaintenance, Amount: money("300")})

	tests := []struct {
		name  string
		p     fees.RuleParams
		field string
	}{
		{"discount without action", fees.RuleParams{Name: "d", Type: fees.RuleDiscount}, "action"},
		{"both action values", fees.RuleParams{Name: "d", Type: fees.RuleDiscount, Action: fees.RuleAction{Percentage: moneyPtr("10"), Amount: moneyPtr("5")}}, "action"},
		{"percentage over 100", fees.RuleParams{Name: "d", Type: fees.RuleSurcharge, Action: fees.RuleAction{Percentage: moneyPtr("101")}}, "action.percentage"},
		{"waiver with amount", fees.RuleParams{Name: "w", Type: fees.RuleWaiver, Action: fees.RuleAction{Amount: moneyPtr("5")}}, "action"},
		{"bad stay range", fees.RuleParams{Name: "c", Type: fees.RuleConditional, Condition: fees.RuleCondition{MinStayMonths: intPtr(6), MaxStayMonths: intPtr(3)}}, "condition.max_stay_months"},
		{"unknown type", fees.RuleParams{Name: "x", Type: "bonus"}, "type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.WithTx(ctx, func(tx fees.Store) error {
				_, err := cat.AddRule(ctx, tx, testAudit, comp.ID, tt.p)
				return err
			})

			assertField(t, err, tt.field)
		})
	}
}

func TestRuleLifecycle(t *testing.T) {
	// GIVEN: Two rules with different priorities
	store := newTestStore(t)
	s := mustCreateStructure(t, store, &fees.StructureCatalog{}, structureParams("2025-01-01", ""))
	cat := &fees.ComponentCatalog{}
	comp := mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Maintenance", Type: fees.ComponentMaintenance, Amount: money("300")})

	var low, high *fees.ChargeRule
	require.NoError(t, store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		if low, err = cat.AddRule(ctx, tx, testAudit, comp.ID, fees.RuleParams{Name: "Low", Type: fees.RuleProration, Priority: 1}); err != nil {
			return err
		}
		high, err = cat.AddRule(ctx, tx, testAudit, comp.ID, fees.RuleParams{Name: "High", Type: fees.RuleWaiver, Priority: 9})
		return err
	}))

	// WHEN: Listing
	rules, err := cat.ListRules(ctx, store, comp.ID)

	// THEN: Highest priority first
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, high.ID, rules[0].ID)
	assert.Equal(t, low.ID, rules[1].ID)

	// AND: Deactivation is idempotent and keeps the row
	for i := 0; i < 2; i++ {
		require.NoError(t, store.WithTx(ctx, func(tx fees.Store) error {
			r, err := cat.DeactivateRule(ctx, tx, testAudit, high.ID)
			if err == nil {
				assert.False(t, r.IsActive)
			}
			return err
		}))
	}
	rules, err = cat.ListRules(ctx, store, comp.ID)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	err = store.WithTx(ctx, func(tx fees.Store) error {
		_, err := cat.DeactivateRule(ctx, tx, testAudit, "missing")
		return err
	})
	assertKind(t, generic.ErrNotFound, err)
}
