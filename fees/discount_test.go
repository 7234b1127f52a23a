package fees_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

func strPtr(s string) *string { return &s }

func createDiscount(t *testing.T, store fees.TxStore, audit generic.AuditContext, p fees.DiscountParams) (*fees.DiscountConfiguration, error) {
	t.Helper()
	var d *fees.DiscountConfiguration
	err := store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		d, err = (&fees.DiscountCatalog{}).Create(ctx, tx, audit, p)
		return err
	})
	return d, err
}

func mustCreateDiscount(t *testing.T, store fees.TxStore, p fees.DiscountParams) *fees.DiscountConfiguration {
	t.Helper()
	d, err := createDiscount(t, store, testAudit, p)
	require.NoError(t, err)
	return d
}

func percentOff(name, pct string) fees.DiscountParams {
	return fees.DiscountParams{Name: name, Type: fees.DiscountPercentage, Percentage: moneyPtr(pct), AppliesTo: fees.TargetTotal}
}

func amountOff(name, amount string) fees.DiscountParams {
	return fees.DiscountParams{Name: name, Type: fees.DiscountFixedAmount, Amount: moneyPtr(amount), AppliesTo: fees.TargetTotal}
}

// =============================================================================
// VALUES
// =============================================================================

func TestAmountFor(t *testing.T) {
	tests := []struct {
		name string
		d    fees.DiscountConfiguration
		base string
		want string
	}{
		{"percentage", fees.DiscountConfiguration{Type: fees.DiscountPercentage, Percentage: moneyPtr("10")}, "9000", "900"},
		{"percentage rounds", fees.DiscountConfiguration{Type: fees.DiscountPercentage, Percentage: moneyPtr("12.5")}, "333.33", "41.67"},
		{"fixed below base", fees.DiscountConfiguration{Type: fees.DiscountFixedAmount, Amount: moneyPtr("500")}, "9000", "500"},
		{"fixed capped at base", fees.DiscountConfiguration{Type: fees.DiscountFixedAmount, Amount: moneyPtr("500")}, "300", "300"},
		{"waiver is the base", fees.DiscountConfiguration{Type: fees.DiscountWaiver, Percentage: moneyPtr("100")}, "9000", "9000"},
		{"negative base", fees.DiscountConfiguration{Type: fees.DiscountPercentage, Percentage: moneyPtr("10")}, "-50", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertMoney(t, tt.want, tt.d.AmountFor(money(tt.base)))
		})
	}
}

func TestCreateDiscount(t *testing.T) {
	store := newTestStore(t)

	// waiver without a value covers 100%
	w := mustCreateDiscount(t, store, fees.DiscountParams{Name: "Staff", Type: fees.DiscountWaiver, AppliesTo: fees.TargetMess})
	require.NotNil(t, w.Percentage)
	assertMoney(t, "100", *w.Percentage)
	assert.True(t, w.IsActive)

	// code is normalized and the target defaults to total
	p := percentOff("Early", "10")
	p.Code = strPtr("  early10 ")
	p.AppliesTo = ""
	d := mustCreateDiscount(t, store, p)
	assert.Equal(t, "EARLY10", *d.Code)
	assert.Equal(t, fees.TargetTotal, d.AppliesTo)

	// codes are unique regardless of case
	dup := amountOff("Other", "500")
	dup.Code = strPtr("Early10")
	_, err := createDiscount(t, store, testAudit, dup)
	assertKind(t, generic.ErrConflict, err)
}

func TestCreateDiscount_Validation(t *testing.T) {
	tests := []struct {
		name  string
		p     fees.DiscountParams
		field string
	}{
		{"no name", fees.DiscountParams{Type: fees.DiscountPercentage, Percentage: moneyPtr("10")}, "name"},
		{"both values", fees.DiscountParams{Name: "x", Type: fees.DiscountPercentage, Percentage: moneyPtr("10"), Amount: moneyPtr("5")}, "percentage"},
		{"neither value", fees.DiscountParams{Name: "x", Type: fees.DiscountFixedAmount}, "percentage"},
		{"percentage over 100", fees.DiscountParams{Name: "x", Type: fees.DiscountPercentage, Percentage: moneyPtr("120")}, "percentage"},
		{"fixed without amount", fees.DiscountParams{Name: "x", Type: fees.DiscountFixedAmount, Percentage: moneyPtr("10")}, "amount"},
		{"partial waiver", fees.DiscountParams{Name: "x", Type: fees.DiscountWaiver, Percentage: moneyPtr("50")}, "percentage"},
		{"bad target", fees.DiscountParams{Name: "x", Type: fees.DiscountPercentage, Percentage: moneyPtr("10"), AppliesTo: "utilities"}, "applies_to"},
		{"blank code", fees.DiscountParams{Name: "x", Type: fees.DiscountPercentage, Percentage: moneyPtr("10"), Code: strPtr("  ")}, "code"},
		{"inverted window", fees.DiscountParams{Name: "x", Type: fees.DiscountPercentage, Percentage: moneyPtr("10"),
			ValidFrom: datePtr("2025-06-01"), ValidTo: datePtr("2025-01-01")}, "valid_to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			_, err := createDiscount(t, store, testAudit, tt.p)
			assertField(t, err, tt.field)
		})
	}
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestCheckApplicability_Order(t *testing.T) {
	eligible := fees.Eligibility{HostelID: "h1", RoomType: "single", IsNewStudent: true, StayMonths: 6, AsOf: date("2025-06-01")}
	full := func() fees.DiscountConfiguration {
		return fees.DiscountConfiguration{
			Type:            fees.DiscountPercentage,
			Percentage:      moneyPtr("10"),
			IsActive:        true,
			HostelIDs:       generic.NewStringSet("h1"),
			RoomTypes:       generic.NewStringSet("single"),
			NewStudentsOnly: true,
			MinStayMonths:   intPtr(6),
			MaxUsageCount:   intPtr(5),
			ValidFrom:       datePtr("2025-01-01"),
			ValidTo:         datePtr("2025-12-31"),
		}
	}

	tests := []struct {
		name   string
		edit   func(d *fees.DiscountConfiguration, e *fees.Eligibility)
		reason string
	}{
		{"eligible", func(*fees.DiscountConfiguration, *fees.Eligibility) {}, ""},
		// inactive wins over every later failure
		{"inactive", func(d *fees.DiscountConfiguration, e *fees.Eligibility) {
			d.IsActive = false
			e.AsOf = date("2026-06-01")
			e.HostelID = "other"
		}, "discount is not active"},
		{"outside window", func(d *fees.DiscountConfiguration, e *fees.Eligibility) {
			e.AsOf = date("2026-06-01")
			d.CurrentUsageCount = 5
		}, "discount is not valid on 2026-06-01"},
		{"cap reached", func(d *fees.DiscountConfiguration, e *fees.Eligibility) {
			d.CurrentUsageCount = 5
			e.HostelID = "other"
		}, "discount usage limit reached"},
		{"hostel", func(d *fees.DiscountConfiguration, e *fees.Eligibility) {
			e.HostelID = "other"
			e.RoomType = "double"
		}, "discount does not apply to this hostel"},
		{"room type", func(d *fees.DiscountConfiguration, e *fees.Eligibility) {
			e.RoomType = "double"
			e.IsNewStudent = false
		}, "discount does not apply to this room type"},
		{"new students", func(d *fees.DiscountConfiguration, e *fees.Eligibility) {
			e.IsNewStudent = false
			e.StayMonths = 1
		}, "discount is only for new students"},
		{"minimum stay", func(d *fees.DiscountConfiguration, e *fees.Eligibility) {
			e.StayMonths = 5
		}, "minimum stay is 6 months"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, e := full(), eligible
			tt.edit(&d, &e)

			got := fees.CheckApplicability(&d, e)

			assert.Equal(t, tt.reason == "", got.Eligible)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestBestApplicable(t *testing.T) {
	// GIVEN: 10% and 500 off, plus a 20% discount for another hostel
	store := newTestStore(t)
	pct := mustCreateDiscount(t, store, percentOff("Ten", "10"))
	mustCreateDiscount(t, store, amountOff("Flat", "500"))
	other := percentOff("Elsewhere", "20")
	other.HostelIDs = []string{"h2"}
	mustCreateDiscount(t, store, other)
	cat := &fees.DiscountCatalog{}
	e := fees.Eligibility{HostelID: "h1", RoomType: "single", StayMonths: 6, AsOf: date("2025-06-01")}

	// WHEN / THEN: On 10000 the percentage wins
	best, amount, err := cat.BestApplicable(ctx, store, e, fees.UniformBase(money("10000")))
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, pct.ID, best.ID)
	assertMoney(t, "1000", amount)

	// WHEN / THEN: On 4000 the flat amount wins
	best, amount, err = cat.BestApplicable(ctx, store, e, fees.UniformBase(money("4000")))
	require.NoError(t, err)
	assert.Equal(t, "Flat", best.Name)
	assertMoney(t, "500", amount)

	// WHEN / THEN: Only the hostel-specific discount is ineligible elsewhere
	e.HostelID = "h2"
	best, amount, err = cat.BestApplicable(ctx, store, e, fees.UniformBase(money("10000")))
	require.NoError(t, err)
	assert.Equal(t, "Elsewhere", best.Name)
	assertMoney(t, "2000", amount)
}

func TestBestApplicable_NoneEligible(t *testing.T) {
	store := newTestStore(t)
	p := percentOff("New only", "10")
	p.NewStudentsOnly = true
	mustCreateDiscount(t, store, p)

	best, amount, err := (&fees.DiscountCatalog{}).BestApplicable(ctx, store,
		fees.Eligibility{HostelID: "h1", RoomType: "single", AsOf: date("2025-06-01")},
		fees.UniformBase(money("10000")))

	require.NoError(t, err)
	assert.Nil(t, best)
	assert.True(t, amount.Equal(decimal.Zero))
}

func TestBestApplicable_TieGoesToEarliest(t *testing.T) {
	// GIVEN: Two discounts worth 1000 on 10000, the flat one created first
	store := newTestStore(t)
	later := testAudit
	later.At = later.At.Add(time.Hour)
	_, err := createDiscount(t, store, later, percentOff("Later", "10"))
	require.NoError(t, err)
	first, err := createDiscount(t, store, testAudit, amountOff("Earlier", "1000"))
	require.NoError(t, err)

	// WHEN
	best, amount, err := (&fees.DiscountCatalog{}).BestApplicable(ctx, store,
		fees.Eligibility{HostelID: "h1", RoomType: "single", AsOf: date("2025-06-01")},
		fees.UniformBase(money("10000")))

	// THEN
	require.NoError(t, err)
	assert.Equal(t, first.ID, best.ID)
	assertMoney(t, "1000", amount)
}

func TestBestApplicable_TargetBase(t *testing.T) {
	store := newTestStore(t)
	mess := percentOff("Mess half", "50")
	mess.AppliesTo = fees.TargetMess
	mustCreateDiscount(t, store, mess)
	mustCreateDiscount(t, store, percentOff("Total five", "5"))

	best, amount, err := (&fees.DiscountCatalog{}).BestApplicable(ctx, store,
		fees.Eligibility{HostelID: "h1", RoomType: "single", AsOf: date("2025-06-01")},
		fees.DiscountBase{BaseRent: money("48000"), Mess: money("18000"), Total: money("80000")})

	// 50% of 18000 beats 5% of 80000
	require.NoError(t, err)
	assert.Equal(t, "Mess half", best.Name)
	assertMoney(t, "9000", amount)
}

// =============================================================================
// USAGE
// =============================================================================

func TestUsageCounter(t *testing.T) {
	// GIVEN: A discount capped at two uses
	store := newTestStore(t)
	p := percentOff("Twice", "10")
	p.MaxUsageCount = intPtr(2)
	p.Code = strPtr("TWICE")
	d := mustCreateDiscount(t, store, p)
	cat := &fees.DiscountCatalog{}
	use := func() error {
		return store.WithTx(ctx, func(tx fees.Store) error { return cat.IncrementUsage(ctx, tx, testAudit, d.ID) })
	}
	release := func() error {
		return store.WithTx(ctx, func(tx fees.Store) error { return cat.DecrementUsage(ctx, tx, testAudit, d.ID) })
	}

	// WHEN / THEN: Two uses succeed, the third fails
	require.NoError(t, use())
	require.NoError(t, use())
	assertKind(t, generic.ErrBusinessRule, use())

	got, err := cat.Get(ctx, store, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentUsageCount)

	// AND: An exhausted code is not found
	found, err := cat.FindByCode(ctx, store, "twice", date("2025-06-01"))
	require.NoError(t, err)
	assert.Nil(t, found)

	// AND: Releasing frees a slot and never goes below zero
	for i := 0; i < 3; i++ {
		require.NoError(t, release())
	}
	got, err = cat.Get(ctx, store, d.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CurrentUsageCount)

	found, err = cat.FindByCode(ctx, store, "twice", date("2025-06-01"))
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestFindByCode_Window(t *testing.T) {
	store := newTestStore(t)
	p := amountOff("Spring", "500")
	p.Code = strPtr("SPRING")
	p.ValidFrom = datePtr("2025-03-01")
	p.ValidTo = datePtr("2025-05-31")
	mustCreateDiscount(t, store, p)
	cat := &fees.DiscountCatalog{}

	for asOf, want := range map[string]bool{
		"2025-02-28": false,
		"2025-03-01": true,
		"2025-05-31": true,
		"2025-06-01": false,
	} {
		d, err := cat.FindByCode(ctx, store, "spring", date(asOf))
		require.NoError(t, err)
		assert.Equal(t, want, d != nil, asOf)
	}

	d, err := cat.FindByCode(ctx, store, "NOPE", date("2025-04-01"))
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestUpdateDiscount_SwitchType(t *testing.T) {
	store := newTestStore(t)
	d := mustCreateDiscount(t, store, percentOff("Ten", "10"))
	cat := &fees.DiscountCatalog{}

	fixed := fees.DiscountFixedAmount
	var updated *fees.DiscountConfiguration
	require.NoError(t, store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		updated, err = cat.Update(ctx, tx, testAudit, d.ID, fees.DiscountChanges{Type: &fixed, Amount: moneyPtr("750")})
		return err
	}))

	assert.Nil(t, updated.Percentage)
	require.NotNil(t, updated.Amount)
	assertMoney(t, "750", *updated.Amount)

	// switching type without a new value leaves neither set
	pct := fees.DiscountPercentage
	err := store.WithTx(ctx, func(tx fees.Store) error {
		_, err := cat.Update(ctx, tx, testAudit, d.ID, fees.DiscountChanges{Type: &pct})
		return err
	})
	assertField(t, err, "percentage")
}

func TestDeleteDiscount(t *testing.T) {
	store := newTestStore(t)
	d := mustCreateDiscount(t, store, percentOff("Ten", "10"))
	cat := &fees.DiscountCatalog{}

	require.NoError(t, store.WithTx(ctx, func(tx fees.Store) error {
		return cat.Delete(ctx, tx, testAudit, d.ID)
	}))

	_, err := cat.Get(ctx, store, d.ID)
	assertKind(t, generic.ErrNotFound, err)
	active, err := cat.List(ctx, store, fees.DiscountFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDeleteDiscount_ReleasesCode(t *testing.T) {
	// GIVEN: A deleted discount that used code EARLY10
	store := newTestStore(t)
	p := percentOff("Early bird", "10")
	p.Code = strPtr("early10")
	old := mustCreateDiscount(t, store, p)
	require.NoError(t, store.WithTx(ctx, func(tx fees.Store) error {
		return (&fees.DiscountCatalog{}).Delete(ctx, tx, testAudit, old.ID)
	}))

	// WHEN: Issuing the same code again
	p.Name = "Early bird 2026"
	fresh, err := createDiscount(t, store, testAudit, p)

	// THEN: The code resolves to the new discount
	require.NoError(t, err)
	found, err := (&fees.DiscountCatalog{}).FindByCode(ctx, store, "EARLY10", date("2025-06-01"))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, fresh.ID, found.ID)

	// AND: A second live discount with that code still conflicts
	_, err = createDiscount(t, store, testAudit, p)
	assertKind(t, generic.ErrConflict, err)
}
