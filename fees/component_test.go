package fees_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

func boolPtr(v bool) *bool { return &v }

func addComponent(t *testing.T, store fees.TxStore, structureID string, p fees.ComponentParams) (*fees.ChargeComponent, error) {
	t.Helper()
	var comp *fees.ChargeComponent
	err := store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		comp, err = (&fees.ComponentCatalog{}).Add(ctx, tx, testAudit, structureID, p)
		return err
	})
	return comp, err
}

func TestAddComponent(t *testing.T) {
	// GIVEN: A structure
	store := newTestStore(t)
	s := mustCreateStructure(t, store, &fees.StructureCatalog{}, structureParams("2025-01-01", ""))

	// WHEN: Adding a taxable maintenance charge without a method
	comp, err := addComponent(t, store, s.ID, fees.ComponentParams{
		Name:          "  Maintenance ",
		Type:          fees.ComponentMaintenance,
		Amount:        money("300"),
		IsTaxable:     true,
		TaxPercentage: money("18"),
		RoomTypes:     []string{"single"},
	})

	// THEN: Name is trimmed, method defaults to fixed, tax is derived
	require.NoError(t, err)
	assert.Equal(t, "Maintenance", comp.Name)
	assert.Equal(t, fees.MethodFixed, comp.CalculationMethod)
	assertMoney(t, "54", comp.TaxAmount())
	assert.True(t, comp.AppliesToRoomType("single"))
	assert.False(t, comp.AppliesToRoomType("double"))
}

func TestAddComponent_Errors(t *testing.T) {
	store := newTestStore(t)
	s := mustCreateStructure(t, store, &fees.StructureCatalog{}, structureParams("2025-01-01", ""))
	mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Laundry", Type: fees.ComponentAmenity, Amount: money("600")})

	// same name in another case
	_, err := addComponent(t, store, s.ID, fees.ComponentParams{Name: "LAUNDRY", Type: fees.ComponentAmenity, Amount: money("700")})
	assertKind(t, generic.ErrConflict, err)

	_, err = addComponent(t, store, "missing", fees.ComponentParams{Name: "x", Type: fees.ComponentOther})
	assertKind(t, generic.ErrNotFound, err)

	tests := []struct {
		name  string
		p     fees.ComponentParams
		field string
	}{
		{"no name", fees.ComponentParams{Type: fees.ComponentOther}, "name"},
		{"bad type", fees.ComponentParams{Name: "x", Type: "snacks"}, "type"},
		{"negative amount", fees.ComponentParams{Name: "x", Type: fees.ComponentOther, Amount: money("-1")}, "amount"},
		{"tax over 100", fees.ComponentParams{Name: "x", Type: fees.ComponentOther, TaxPercentage: money("101")}, "tax_percentage"},
		{"bad method", fees.ComponentParams{Name: "x", Type: fees.ComponentOther, CalculationMethod: "guess"}, "calculation_method"},
		{"inverted window", fees.ComponentParams{Name: "x", Type: fees.ComponentOther,
			AppliesFrom: datePtr("2025-06-01"), AppliesTo: datePtr("2025-05-01")}, "applies_to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := addComponent(t, store, s.ID, tt.p)
			assertField(t, err, tt.field)
		})
	}
}

func TestUpdateComponent(t *testing.T) {
	store := newTestStore(t)
	s := mustCreateStructure(t, store, &fees.StructureCatalog{}, structureParams("2025-01-01", ""))
	laundry := mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Laundry", Type: fees.ComponentAmenity, Amount: money("600")})
	mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Gym", Type: fees.ComponentAmenity, Amount: money("900")})
	cat := &fees.ComponentCatalog{}

	// WHEN: Changing the amount and clearing nothing else
	var updated *fees.ChargeComponent
	require.NoError(t, store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		updated, err = cat.Update(ctx, tx, testAudit, laundry.ID, fees.ComponentChanges{Amount: moneyPtr("650")})
		return err
	}))
	assertMoney(t, "650", updated.Amount)
	assert.Equal(t, "Laundry", updated.Name)

	// WHEN / THEN: Renaming onto a sibling conflicts
	gym := "gym"
	err := store.WithTx(ctx, func(tx fees.Store) error {
		_, err := cat.Update(ctx, tx, testAudit, laundry.ID, fees.ComponentChanges{Name: &gym})
		return err
	})
	assertKind(t, generic.ErrConflict, err)
}

func TestUpdateComponent_DeletedStructure(t *testing.T) {
	// GIVEN: A component whose structure has been deleted
	store := newTestStore(t)
	structures := &fees.StructureCatalog{}
	s := mustCreateStructure(t, store, structures, structureParams("2025-01-01", ""))
	laundry := mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Laundry", Type: fees.ComponentAmenity, Amount: money("600")})
	require.NoError(t, store.WithTx(ctx, func(tx fees.Store) error {
		return structures.Delete(ctx, tx, testAudit, s.ID)
	}))

	// WHEN
	err := store.WithTx(ctx, func(tx fees.Store) error {
		_, err := (&fees.ComponentCatalog{}).Update(ctx, tx, testAudit, laundry.ID, fees.ComponentChanges{Amount: moneyPtr("650")})
		return err
	})

	// THEN: The parent is gone and the amount is unchanged
	assertKind(t, generic.ErrNotFound, err)
	comp, err := store.GetComponent(ctx, laundry.ID)
	require.NoError(t, err)
	assertMoney(t, "600", comp.Amount)
}

func TestDeleteComponent_Tombstones(t *testing.T) {
	// GIVEN: Two components
	store := newTestStore(t)
	s := mustCreateStructure(t, store, &fees.StructureCatalog{}, structureParams("2025-01-01", ""))
	laundry := mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Laundry", Type: fees.ComponentAmenity, Amount: money("600")})
	mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Gym", Type: fees.ComponentAmenity, Amount: money("900")})
	cat := &fees.ComponentCatalog{}

	// WHEN: Deleting one
	require.NoError(t, store.WithTx(ctx, func(tx fees.Store) error {
		return cat.Delete(ctx, tx, testAudit, laundry.ID)
	}))

	// THEN: It is hidden from lookups but still listed with IncludeDeleted
	_, err := cat.Get(ctx, store, laundry.ID)
	assertKind(t, generic.ErrNotFound, err)

	live, err := cat.List(ctx, store, s.ID, fees.ComponentFilter{})
	require.NoError(t, err)
	assert.Len(t, live, 1)

	all, err := cat.List(ctx, store, s.ID, fees.ComponentFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// AND: The name is free again
	_, err = addComponent(t, store, s.ID, fees.ComponentParams{Name: "Laundry", Type: fees.ComponentAmenity, Amount: money("700")})
	assert.NoError(t, err)
}

func TestListComponents_Filters(t *testing.T) {
	// GIVEN: Components with different flags, room types and windows
	store := newTestStore(t)
	s := mustCreateStructure(t, store, &fees.StructureCatalog{}, structureParams("2025-01-01", ""))
	mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Maintenance", Type: fees.ComponentMaintenance, Amount: money("300"),
		IsMandatory: true, IsRecurring: true, DisplayOrder: 1})
	mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Key deposit", Type: fees.ComponentDeposit, Amount: money("500"),
		IsMandatory: true, IsRefundable: true, DisplayOrder: 2})
	mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "AC", Type: fees.ComponentAmenity, Amount: money("1200"),
		IsRecurring: true, RoomTypes: []string{"double"}, DisplayOrder: 3})
	mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Summer pool", Type: fees.ComponentAmenity, Amount: money("400"),
		IsRecurring: true, AppliesFrom: datePtr("2025-05-01"), AppliesTo: datePtr("2025-08-31"), DisplayOrder: 4})
	cat := &fees.ComponentCatalog{}

	names := func(filter fees.ComponentFilter) []string {
		list, err := cat.List(ctx, store, s.ID, filter)
		require.NoError(t, err)
		out := make([]string, 0, len(list))
		for _, c := range list {
			out = append(out, c.Name)
		}
		return out
	}

	// THEN
	assert.Equal(t, []string{"Maintenance", "Key deposit", "AC", "Summer pool"}, names(fees.ComponentFilter{}))
	assert.Equal(t, []string{"Maintenance", "Key deposit"}, names(fees.ComponentFilter{IsMandatory: boolPtr(true)}))
	assert.Equal(t, []string{"Key deposit"}, names(fees.ComponentFilter{IsRefundable: boolPtr(true)}))
	assert.Equal(t, []string{"AC", "Summer pool"}, names(fees.ComponentFilter{Type: fees.ComponentAmenity}))
	assert.Equal(t, []string{"Maintenance", "Key deposit", "Summer pool"}, names(fees.ComponentFilter{RoomType: "single"}))
	assert.Equal(t, []string{"Maintenance", "Key deposit", "AC"}, names(fees.ComponentFilter{AsOf: datePtr("2025-12-01")}))

	_, err := cat.List(ctx, store, "missing", fees.ComponentFilter{})
	assertKind(t, generic.ErrNotFound, err)
}

func TestComputeTaxBreakdown(t *testing.T) {
	// GIVEN: Two 18% charges of different types, one 5% charge and one untaxed
	comps := []fees.ChargeComponent{
		{Name: "Maintenance", Type: fees.ComponentMaintenance, Amount: money("300"), IsTaxable: true, TaxPercentage: money("18")},
		{Name: "Gym", Type: fees.ComponentAmenity, Amount: money("1000"), IsTaxable: true, TaxPercentage: money("18")},
		{Name: "Laundry", Type: fees.ComponentAmenity, Amount: money("600"), IsTaxable: true, TaxPercentage: money("5")},
		{Name: "Key deposit", Type: fees.ComponentDeposit, Amount: money("500")},
	}

	// WHEN
	tb := fees.ComputeTaxBreakdown(comps)

	// THEN: 54 + 180 + 30
	assertMoney(t, "264", tb.TotalTax)

	require.Len(t, tb.ByRate, 2)
	assert.Equal(t, "18.00", tb.ByRate[0].Key)
	assert.Equal(t, 2, tb.ByRate[0].Count)
	assertMoney(t, "1300", tb.ByRate[0].Taxable)
	assertMoney(t, "234", tb.ByRate[0].Tax)
	assert.Equal(t, "5.00", tb.ByRate[1].Key)
	assertMoney(t, "30", tb.ByRate[1].Tax)

	require.Len(t, tb.ByType, 2)
	assert.Equal(t, "amenity", tb.ByType[0].Key)
	assertMoney(t, "210", tb.ByType[0].Tax)
	assert.Equal(t, "maintenance", tb.ByType[1].Key)
	assertMoney(t, "54", tb.ByType[1].Tax)

	// AND: Totals agree with the breakdown
	totals := fees.Totals(comps)
	assert.Equal(t, 4, totals.Count)
	assertMoney(t, "2400", totals.Subtotal)
	assertMoney(t, "264", totals.Tax)
	assertMoney(t, "2664", totals.Total)
}

func TestComponentSummary_Groups(t *testing.T) {
	store := newTestStore(t)
	s := mustCreateStructure(t, store, &fees.StructureCatalog{}, structureParams("2025-01-01", ""))
	mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Maintenance", Type: fees.ComponentMaintenance, Amount: money("300"),
		IsMandatory: true, IsRecurring: true, IsTaxable: true, TaxPercentage: money("18")})
	mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Key deposit", Type: fees.ComponentDeposit, Amount: money("500"), IsMandatory: true})
	mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Gym", Type: fees.ComponentAmenity, Amount: money("900"), IsRecurring: true})
	mustAddComponent(t, store, s.ID, fees.ComponentParams{Name: "Welcome kit", Type: fees.ComponentOther, Amount: money("250")})

	sum, err := (&fees.ComponentCatalog{}).Summary(ctx, store, s.ID, fees.ComponentFilter{})

	require.NoError(t, err)
	assert.Equal(t, s.ID, sum.FeeStructureID)
	assert.Len(t, sum.Breakdown.MandatoryRecurring.Items, 1)
	assert.Len(t, sum.Breakdown.MandatoryOneTime.Items, 1)
	assert.Len(t, sum.Breakdown.OptionalRecurring.Items, 1)
	assert.Len(t, sum.Breakdown.OptionalOneTime.Items, 1)
	assertMoney(t, "54", sum.Breakdown.MandatoryRecurring.Totals.Tax)
	assertMoney(t, "2004", sum.Totals.Total)
	assertMoney(t, "54", sum.Tax.TotalTax)
}
