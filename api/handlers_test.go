/*
handlers_test.go - HTTP tests for the fee engine API

Tests for:
- Health and metrics endpoints
- Structure creation, validation, overlap conflicts, versions
- Calculations (estimate vs persisted) and discount usage caps
- Approval workflow with notifications
- Error body shape and status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/metrics"
	"github.com/warp/fee-engine/notify"
	"github.com/warp/fee-engine/store/sqlstore"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	store, err := sqlstore.Open(sqlstore.Options{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	h := NewHandler(store, opts)
	return &testServer{t: t, handler: h, router: NewRouter(h, RouterOptions{})}
}

// do sends body (a string is sent verbatim, anything else as JSON) as
// actor "admin-1".
func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "admin-1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, generic.Money(want).Equal(got), "want %s, got %s", want, got.String())
}

// plainStructure has no mess, no utilities and no components, so totals
// are rent × months + deposit.
func plainStructure(hostelID string, amount int, from string, to string) factory.StructureJSON {
	sj := factory.StructureJSON{
		HostelID:        hostelID,
		RoomType:        "single",
		FeeType:         "monthly",
		Amount:          decimal.NewFromInt(int64(amount)),
		SecurityDeposit: decimal.NewFromInt(16000),
		EffectiveFrom:   generic.MustParseDate(from),
	}
	if to != "" {
		end := generic.MustParseDate(to)
		sj.EffectiveTo = &end
	}
	return sj
}

func (s *testServer) createStructure(sj factory.StructureJSON) CreatedStructureDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/fee-structures", sj)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeAs[CreatedStructureDTO](s.t, rec)
}

// =============================================================================
// HEALTH & METRICS
// =============================================================================

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := srv.do(http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeAs[map[string]string](t, rec)["status"])
}

func TestMetricsEndpoint_CountsStructureWrites(t *testing.T) {
	// GIVEN: One structure created through the API
	srv := newTestServer(t, Options{})
	srv.createStructure(plainStructure("h1", 8000, "2025-01-01", ""))

	// WHEN: Scraping /metrics
	rec := srv.do(http.MethodGet, "/metrics", nil)

	// THEN: The write counter and the request counter are exported
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `fee_structure_versions_total{action="created"} 1`)
	assert.Contains(t, body, "http_requests_total")
}

// =============================================================================
// FEE STRUCTURES
// =============================================================================

func TestCreateStructure_WithComponents(t *testing.T) {
	// GIVEN: A preset with three components, one carrying a rule
	srv := newTestServer(t, Options{})

	// WHEN: Posting it
	rec := srv.do(http.MethodPost, "/api/fee-structures", factory.StandardRoomJSON("h1", "single", 8000, 16000, 3000, "2025-01-01"))

	// THEN: Everything is created and the structure is live
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAs[CreatedStructureDTO](t, rec)
	assert.True(t, created.Structure.IsActive)
	assert.Equal(t, 1, created.Structure.Version)
	assert.Equal(t, "admin-1", created.Structure.CreatedBy)
	assertMoney(t, "8000", created.Structure.MonthlyRent)
	assert.Len(t, created.Components, 3)
	assert.Len(t, created.Rules, 1)

	list := srv.do(http.MethodGet, "/api/fee-structures/"+created.Structure.ID+"/components", nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, decodeAs[[]ChargeComponentDTO](t, list), 3)
}

func TestCreateStructure_ValidationError(t *testing.T) {
	// GIVEN: An amount below the minimum
	srv := newTestServer(t, Options{})

	// WHEN: Posting it
	rec := srv.do(http.MethodPost, "/api/fee-structures", plainStructure("h1", 100, "2025-01-01", ""))

	// THEN: 400 naming the field
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, "amount", body.Field)
	assert.NotEmpty(t, body.Error)
}

func TestCreateStructure_UnknownFieldRejected(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := srv.do(http.MethodPost, "/api/fee-structures", `{"hostel": "h1"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "body", decodeAs[ErrorResponse](t, rec).Field)
}

func TestCreateStructure_OverlapConflict(t *testing.T) {
	// GIVEN: A closed range for the first half of the year
	srv := newTestServer(t, Options{})
	srv.createStructure(plainStructure("h1", 8000, "2025-01-01", "2025-06-30"))

	// WHEN: Creating an open range starting inside it
	rec := srv.do(http.MethodPost, "/api/fee-structures", plainStructure("h1", 9000, "2025-03-01", ""))

	// THEN: 409, nothing changes
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	history := srv.do(http.MethodGet, "/api/fee-structures/history?hostel_id=h1&room_type=single&fee_type=monthly", nil)
	assert.Len(t, decodeAs[[]FeeStructureDTO](t, history), 1)
}

func TestCreateStructure_SupersedesOpenEnded(t *testing.T) {
	// GIVEN: An open-ended structure from January
	srv := newTestServer(t, Options{})
	first := srv.createStructure(plainStructure("h1", 8000, "2025-01-01", ""))

	// WHEN: Creating a new open-ended one from July
	second := srv.createStructure(plainStructure("h1", 9000, "2025-07-01", ""))

	// THEN: The first is end-dated, inactive and linked to the second
	assert.Equal(t, 2, second.Structure.Version)

	rec := srv.do(http.MethodGet, "/api/fee-structures/"+first.Structure.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	old := decodeAs[FeeStructureDTO](t, rec)
	assert.False(t, old.IsActive)
	require.NotNil(t, old.EffectiveTo)
	assert.Equal(t, "2025-06-30", old.EffectiveTo.String())
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, second.Structure.ID, *old.SupersededBy)

	// AND: The current structure in August is the new one
	rec = srv.do(http.MethodGet, "/api/fee-structures/current?hostel_id=h1&room_type=single&fee_type=monthly&as_of=2025-08-15", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, second.Structure.ID, decodeAs[FeeStructureDTO](t, rec).ID)
}

func TestGetCurrentStructure_NotFoundAndBadParams(t *testing.T) {
	srv := newTestServer(t, Options{})
	srv.createStructure(plainStructure("h1", 8000, "2025-01-01", ""))

	tests := []struct {
		name   string
		query  string
		status int
		field  string
	}{
		{"before first version", "hostel_id=h1&room_type=single&fee_type=monthly&as_of=2024-12-31", http.StatusNotFound, ""},
		{"missing hostel", "room_type=single&fee_type=monthly", http.StatusBadRequest, "hostel_id"},
		{"bad fee type", "hostel_id=h1&room_type=single&fee_type=weekly", http.StatusBadRequest, "fee_type"},
		{"bad date", "hostel_id=h1&room_type=single&fee_type=monthly&as_of=15/08/2025", http.StatusBadRequest, "as_of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(http.MethodGet, "/api/fee-structures/current?"+tt.query, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.field, decodeAs[ErrorResponse](t, rec).Field)
		})
	}
}

func TestAmendStructure_NewVersion(t *testing.T) {
	// GIVEN: A structure from January
	srv := newTestServer(t, Options{})
	first := srv.createStructure(plainStructure("h1", 8000, "2025-01-01", ""))

	// WHEN: Amending with create_new_version from July
	rec := srv.do(http.MethodPatch, "/api/fee-structures/"+first.Structure.ID, map[string]any{
		"amount":             "8800",
		"effective_from":     "2025-07-01",
		"create_new_version": true,
	})

	// THEN: A second version carries the new price
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	next := decodeAs[FeeStructureDTO](t, rec)
	assert.NotEqual(t, first.Structure.ID, next.ID)
	assert.Equal(t, 2, next.Version)
	assertMoney(t, "8800", next.Amount)

	history := decodeAs[[]FeeStructureDTO](t, srv.do(http.MethodGet, "/api/fee-structures/history?hostel_id=h1&room_type=single&fee_type=monthly", nil))
	require.Len(t, history, 2)
	assert.Equal(t, next.ID, history[0].ID, "newest first")
}

func TestDeleteStructure(t *testing.T) {
	srv := newTestServer(t, Options{})
	created := srv.createStructure(plainStructure("h1", 8000, "2025-01-01", ""))

	rec := srv.do(http.MethodDelete, "/api/fee-structures/"+created.Structure.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(http.MethodGet, "/api/fee-structures/"+created.Structure.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// COMPONENTS & RULES
// =============================================================================

func TestAddComponentAndRule(t *testing.T) {
	// GIVEN: A bare structure
	srv := newTestServer(t, Options{})
	created := srv.createStructure(plainStructure("h1", 8000, "2025-01-01", ""))

	// WHEN: Adding a taxable maintenance component
	rec := srv.do(http.MethodPost, "/api/fee-structures/"+created.Structure.ID+"/components", map[string]any{
		"name":           "Maintenance",
		"type":           "maintenance",
		"amount":         "300",
		"taxable":        true,
		"tax_percentage": "18",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	comp := decodeAs[ChargeComponentDTO](t, rec)
	assertMoney(t, "54", comp.TaxAmount)

	// AND: A surcharge rule on it
	rec = srv.do(http.MethodPost, "/api/components/"+comp.ID+"/rules", map[string]any{
		"name":   "Short stay surcharge",
		"type":   "surcharge",
		"action": map[string]any{"amount": "100"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rule := decodeAs[ChargeRuleDTO](t, rec)
	assert.True(t, rule.IsActive)

	// THEN: The summary reports the tax line
	rec = srv.do(http.MethodGet, "/api/fee-structures/"+created.Structure.ID+"/components/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeAs[fees.ComponentSummary](t, rec)
	assertMoney(t, "54", summary.Tax.TotalTax)

	// AND: The rule can be deactivated
	rec = srv.do(http.MethodPost, "/api/rules/"+rule.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeAs[ChargeRuleDTO](t, rec).IsActive)
}

func TestAddComponent_DuplicateNameConflict(t *testing.T) {
	srv := newTestServer(t, Options{})
	created := srv.createStructure(plainStructure("h1", 8000, "2025-01-01", ""))
	body := map[string]any{"name": "Laundry", "type": "amenity", "amount": "400"}

	rec := srv.do(http.MethodPost, "/api/fee-structures/"+created.Structure.ID+"/components", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = srv.do(http.MethodPost, "/api/fee-structures/"+created.Structure.ID+"/components", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// CALCULATIONS
// =============================================================================

func calcRequest(hostelID string) map[string]any {
	return map[string]any{
		"hostel_id":       hostelID,
		"room_type":       "single",
		"fee_type":        "monthly",
		"move_in_date":    "2025-01-01",
		"duration_months": 6,
	}
}

func TestEstimateCalculation(t *testing.T) {
	// GIVEN: 8000/month with a 16000 deposit
	srv := newTestServer(t, Options{})
	srv.createStructure(plainStructure("h1", 8000, "2025-01-01", ""))

	// WHEN: Estimating six months
	rec := srv.do(http.MethodPost, "/api/calculations/estimate", calcRequest("h1"))

	// THEN: Totals and schedule, nothing persisted
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	calc := decodeAs[FeeCalculationDTO](t, rec)
	assertMoney(t, "48000", calc.RentTotal)
	assertMoney(t, "64000", calc.Subtotal)
	assertMoney(t, "64000", calc.TotalPayable)
	assertMoney(t, "24000", calc.FirstMonthTotal)
	assertMoney(t, "8000", calc.MonthlyRecurring)
	assert.Equal(t, "2025-07-01", calc.MoveOutDate.String())
	assert.Len(t, calc.PaymentSchedule, 6)
	assert.Equal(t, "estimate", calc.CalculationType)

	list := srv.do(http.MethodGet, "/api/calculations?hostel_id=h1", nil)
	assert.Empty(t, decodeAs[[]FeeCalculationDTO](t, list))
}

func TestEstimateCalculation_ValidationAndMissingStructure(t *testing.T) {
	srv := newTestServer(t, Options{})

	req := calcRequest("h1")
	req["duration_months"] = 0
	rec := srv.do(http.MethodPost, "/api/calculations/estimate", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "duration_months", decodeAs[ErrorResponse](t, rec).Field)

	rec = srv.do(http.MethodPost, "/api/calculations/estimate", calcRequest("nowhere"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCalculation_PersistsAndApproves(t *testing.T) {
	// GIVEN: A structure and an 18% tax default
	srv := newTestServer(t, Options{DefaultTaxPercentage: decimal.NewFromInt(18)})
	srv.createStructure(plainStructure("h1", 8000, "2025-01-01", ""))

	// WHEN: Creating a calculation
	rec := srv.do(http.MethodPost, "/api/calculations", calcRequest("h1"))

	// THEN: It is saved with tax applied
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	calc := decodeAs[FeeCalculationDTO](t, rec)
	require.NotEmpty(t, calc.ID)
	assertMoney(t, "11520", calc.TaxAmount)
	assertMoney(t, "75520", calc.TotalPayable)
	assert.Equal(t, "booking", calc.CalculationType)
	assert.Equal(t, "admin-1", calc.CreatedBy)

	// AND: Approving works once
	rec = srv.do(http.MethodPost, "/api/calculations/"+calc.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeAs[FeeCalculationDTO](t, rec).IsApproved)

	rec = srv.do(http.MethodPost, "/api/calculations/"+calc.ID+"/approve", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// AND: A priced amendment is refused now that a calculation references it
	rec = srv.do(http.MethodPatch, "/api/fee-structures/"+calc.FeeStructureID, map[string]any{"amount": "9000"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateCalculation_DiscountCodeCap(t *testing.T) {
	// GIVEN: A 10% base-rent code usable once
	srv := newTestServer(t, Options{})
	srv.createStructure(plainStructure("h1", 8000, "2025-01-01", ""))
	rec := srv.do(http.MethodPost, "/api/discounts", map[string]any{
		"name":            "One-off",
		"code":            "once10",
		"type":            "percentage",
		"percentage":      "10",
		"applies_to":      "base_rent",
		"max_usage_count": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	discount := decodeAs[DiscountDTO](t, rec)
	require.NotNil(t, discount.Code)
	assert.Equal(t, "ONCE10", *discount.Code)

	req := calcRequest("h1")
	req["discount_code"] = "once10"

	// WHEN: Using it twice
	first := srv.do(http.MethodPost, "/api/calculations", req)
	second := srv.do(http.MethodPost, "/api/calculations", req)

	// THEN: The first gets 10% of 48000, the second is refused
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	calc := decodeAs[FeeCalculationDTO](t, first)
	assertMoney(t, "4800", calc.DiscountApplied)
	assertMoney(t, "59200", calc.TotalPayable)
	assert.Equal(t, http.StatusUnprocessableEntity, second.Code)

	rec = srv.do(http.MethodGet, "/api/discounts/"+discount.ID, nil)
	assert.Equal(t, 1, decodeAs[DiscountDTO](t, rec).CurrentUsageCount)

	// AND: The code is no longer found as usable
	rec = srv.do(http.MethodGet, "/api/discounts/code/ONCE10?as_of=2025-01-01", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// AND: Releasing a use makes it usable again
	rec = srv.do(http.MethodPost, "/api/discounts/"+discount.ID+"/release", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeAs[DiscountDTO](t, rec).CurrentUsageCount)
	rec = srv.do(http.MethodGet, "/api/discounts/code/ONCE10?as_of=2025-01-01", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateDiscount_DuplicateCodeConflict(t *testing.T) {
	srv := newTestServer(t, Options{})
	body := map[string]any{"name": "A", "code": "SUMMER", "type": "fixed_amount", "amount": "500", "applies_to": "total"}

	require.Equal(t, http.StatusCreated, srv.do(http.MethodPost, "/api/discounts", body).Code)
	body["name"] = "B"
	body["code"] = " summer "
	assert.Equal(t, http.StatusConflict, srv.do(http.MethodPost, "/api/discounts", body).Code)
}

func TestBestDiscount(t *testing.T) {
	// GIVEN: A 10% total discount and a fixed 500 one
	srv := newTestServer(t, Options{})
	for _, body := range []map[string]any{
		{"name": "Ten percent", "type": "percentage", "percentage": "10", "applies_to": "total"},
		{"name": "Flat", "type": "fixed_amount", "amount": "500", "applies_to": "total"},
	} {
		require.Equal(t, http.StatusCreated, srv.do(http.MethodPost, "/api/discounts", body).Code)
	}

	// WHEN: Asking for the best on a 10000 base
	rec := srv.do(http.MethodPost, "/api/discounts/best", map[string]any{
		"hostel_id": "h1", "room_type": "single", "base": "10000", "as_of": "2025-01-01",
	})

	// THEN: 10% wins (1000 > 500)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	best := decodeAs[BestDiscountDTO](t, rec)
	require.NotNil(t, best.Discount)
	assert.Equal(t, "Ten percent", best.Discount.Name)
	assertMoney(t, "1000", best.Amount)
}

// =============================================================================
// PRORATION
// =============================================================================

func TestProrate_DefaultsToDaily(t *testing.T) {
	srv := newTestServer(t, Options{})
	created := srv.createStructure(plainStructure("h1", 9000, "2025-01-01", ""))

	rec := srv.do(http.MethodPost, "/api/proration", map[string]any{
		"structure_id": created.Structure.ID,
		"start_date":   "2025-06-16",
		"end_date":     "2025-06-30",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeAs[fees.ProrationResult](t, rec)
	assert.Equal(t, fees.ProrateDaily, result.Method)
	assert.Equal(t, 15, result.ActualDays)
	assertMoney(t, "4500", result.ProratedRent)
}

// =============================================================================
// APPROVALS
// =============================================================================

type recordingPublisher struct {
	mu    sync.Mutex
	notes []fees.Notification
}

func (p *recordingPublisher) publisher() notify.Func {
	return func(_ context.Context, n fees.Notification) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.notes = append(p.notes, n)
		return nil
	}
}

func (p *recordingPublisher) kinds() []fees.ApprovalEventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []fees.ApprovalEventKind
	for _, n := range p.notes {
		out = append(out, n.Kind)
	}
	return out
}

func TestApprovalFlow_PublishesAfterCommit(t *testing.T) {
	// GIVEN: Approval required for new structures
	rp := &recordingPublisher{}
	srv := newTestServer(t, Options{RequireApproval: true, Publisher: rp.publisher()})
	created := srv.createStructure(plainStructure("h1", 8000, "2025-01-01", ""))
	assert.False(t, created.Structure.IsActive)

	// WHEN: Submitting
	rec := srv.do(http.MethodPost, "/api/approvals", map[string]any{
		"structure_id":  created.Structure.ID,
		"justification": "New wing",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	submitted := decodeAs[ApprovalResultDTO](t, rec)
	assert.Equal(t, "pending", submitted.Approval.Status)

	pending := decodeAs[[]ApprovalDTO](t, srv.do(http.MethodGet, "/api/approvals/pending", nil))
	require.Len(t, pending, 1)

	// AND: Rejecting without a reason fails validation
	rec = srv.do(http.MethodPost, "/api/approvals/"+submitted.Approval.ID+"/reject", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "reason", decodeAs[ErrorResponse](t, rec).Field)

	// AND: Approving
	rec = srv.do(http.MethodPost, "/api/approvals/"+submitted.Approval.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeAs[ApprovalResultDTO](t, rec)

	// THEN: The structure is live and both transitions were published
	assert.Equal(t, "approved", approved.Approval.Status)
	assert.True(t, approved.Structure.IsActive)
	assert.Equal(t, []fees.ApprovalEventKind{fees.EventSubmitted, fees.EventApproved}, rp.kinds())

	// AND: A second approval is a business-rule error and publishes nothing
	rec = srv.do(http.MethodPost, "/api/approvals/"+submitted.Approval.ID+"/approve", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Len(t, rp.kinds(), 2)

	timeline := decodeAs[[]ApprovalEventDTO](t, srv.do(http.MethodGet, "/api/fee-structures/"+created.Structure.ID+"/approvals", nil))
	require.Len(t, timeline, 2)
	assert.Equal(t, "submitted", timeline[0].Kind)
	assert.Equal(t, "approved", timeline[1].Kind)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestQueryAudit(t *testing.T) {
	srv := newTestServer(t, Options{})
	created := srv.createStructure(plainStructure("h1", 8000, "2025-01-01", ""))

	rec := srv.do(http.MethodGet, "/api/audit?subject_type=fee_structure&subject_id="+created.Structure.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeAs[[]AuditEntryDTO](t, rec)
	require.NotEmpty(t, entries)
	assert.Equal(t, "admin-1", entries[0].ActorID)

	rec = srv.do(http.MethodGet, "/api/audit?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "from", decodeAs[ErrorResponse](t, rec).Field)
}
