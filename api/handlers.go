/*
handlers.go - HTTP request handlers for the fee engine API

PURPOSE:
  Implements all REST API endpoints. Handlers are thin: they decode and
  validate the request, run one fees operation inside Store.WithTx, and
  encode the result. No pricing logic lives here.

ENDPOINTS:
  Fee structures:
    GET    /api/fee-structures                       List (hostel_id, room_type, fee_type, active_only, include_deleted)
    POST   /api/fee-structures                       Create from a template (structure + optional components)
    GET    /api/fee-structures/current               Structure in effect (hostel_id, room_type, fee_type, as_of)
    GET    /api/fee-structures/history               Every version of a tuple, newest first
    GET    /api/fee-structures/{id}                  Get
    PATCH  /api/fee-structures/{id}                  Amend in place or create_new_version
    DELETE /api/fee-structures/{id}                  Soft delete
    GET    /api/fee-structures/{id}/components       List components (filters as query params)
    POST   /api/fee-structures/{id}/components       Add component (+ rules)
    GET    /api/fee-structures/{id}/components/summary  Totals, tax breakdown, grouping
    GET    /api/fee-structures/{id}/approvals        Approval timeline

  Components and rules:
    GET    /api/components/{id}                      Get
    PATCH  /api/components/{id}                      Update
    DELETE /api/components/{id}                      Soft delete
    GET    /api/components/{id}/rules                List rules
    POST   /api/components/{id}/rules                Add rule
    POST   /api/rules/{id}/deactivate                Deactivate rule

  Discounts:
    GET    /api/discounts                            List (active_only, include_deleted)
    POST   /api/discounts                            Create
    POST   /api/discounts/best                       Best applicable discount for a stay
    GET    /api/discounts/code/{code}                Look up a usable code (as_of)
    GET    /api/discounts/{id}                       Get
    PATCH  /api/discounts/{id}                       Update
    DELETE /api/discounts/{id}                       Soft delete
    POST   /api/discounts/{id}/applicability         Eligibility check with reason
    POST   /api/discounts/{id}/amount                Discount amount on a base
    POST   /api/discounts/{id}/redeem                Increment usage
    POST   /api/discounts/{id}/release               Decrement usage

  Calculations:
    POST   /api/calculations/estimate                Price a stay without saving
    POST   /api/calculations                         Price and persist
    GET    /api/calculations                         List (hostel_id, fee_structure_id, student_id, booking_id, limit)
    GET    /api/calculations/{id}                    Get
    POST   /api/calculations/{id}/approve            Approve

  Proration:
    POST   /api/proration                            Prorate a partial period
    POST   /api/proration/early-termination          Refund on early move-out
    POST   /api/proration/notice-penalty             Short-notice penalty

  Approvals:
    POST   /api/approvals                            Submit
    GET    /api/approvals/pending                    List pending
    GET    /api/approvals/{id}                       Get
    POST   /api/approvals/{id}/approve               Approve (activates the structure)
    POST   /api/approvals/{id}/reject                Reject
    POST   /api/approvals/{id}/revise                Request revision

  Audit:
    GET    /api/audit                                Query (subject_type, subject_id, actor_id, action, from, to, limit)

ACTOR:
  Mutations read the acting user from the X-Actor-ID header ("system"
  when absent). Authentication is out of scope for this service.

ERROR RESPONSES:
  All errors return JSON: {"error": "message", "field": "...", "details": "..."}
  Status codes follow the error kind:
    400 - validation error
    404 - not found
    409 - conflict (overlapping structure, duplicate name or code)
    422 - business rule (approval not pending, usage cap reached, ...)
    500 - anything else (details are logged, not returned)

SEE ALSO:
  - server.go: Route definitions
  - dto.go: Request/response types
  - fees/: The operations each handler runs
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/metrics"
)

// ActorHeader carries the id of the user performing a mutation.
const ActorHeader = "X-Actor-ID"

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Store        fees.TxStore
	Structures   *fees.StructureCatalog
	Components   *fees.ComponentCatalog
	Discounts    *fees.DiscountCatalog
	Calculations *fees.CalculationEngine
	Proration    *fees.ProrationEngine
	Approvals    *fees.ApprovalWorkflow
	Metrics      *metrics.Metrics
	Logger       *zap.Logger

	validate *validator.Validate
}

// Options configures NewHandler. The zero value is usable.
type Options struct {
	RequireApproval      bool
	DefaultTaxPercentage decimal.Decimal
	NoticePeriodDays     int
	Publisher            fees.Publisher
	Metrics              *metrics.Metrics
	Logger               *zap.Logger
}

// NewHandler wires the fee services around one store.
func NewHandler(store fees.TxStore, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	structures := &fees.StructureCatalog{RequireApproval: opts.RequireApproval, Logger: logger.Named("structures")}
	discounts := &fees.DiscountCatalog{Logger: logger.Named("discounts")}

	return &Handler{
		Store:      store,
		Structures: structures,
		Components: &fees.ComponentCatalog{Logger: logger.Named("components")},
		Discounts:  discounts,
		Calculations: &fees.CalculationEngine{
			Structures:           structures,
			Discounts:            discounts,
			DefaultTaxPercentage: opts.DefaultTaxPercentage,
			Logger:               logger.Named("calculations"),
		},
		Proration: &fees.ProrationEngine{NoticePeriodDays: opts.NoticePeriodDays, Logger: logger.Named("proration")},
		Approvals: &fees.ApprovalWorkflow{
			Structures: structures,
			Publisher:  opts.Publisher,
			Logger:     logger.Named("approvals"),
		},
		Metrics:  opts.Metrics,
		Logger:   logger,
		validate: newValidator(),
	}
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// FEE STRUCTURE ENDPOINTS
// =============================================================================

// ListStructures returns structures matching the query filters.
func (h *Handler) ListStructures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := fees.StructureFilter{
		HostelID:       q.Get("hostel_id"),
		RoomType:       q.Get("room_type"),
		FeeType:        fees.FeeType(q.Get("fee_type")),
		ActiveOnly:     q.Get("active_only") == "true",
		IncludeDeleted: q.Get("include_deleted") == "true",
	}
	list, err := h.Structures.List(r.Context(), h.Store, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStructureDTOs(list))
}

// CreateStructure installs a template: the structure plus any components
// and rules it carries, all in one transaction.
func (h *Handler) CreateStructure(w http.ResponseWriter, r *http.Request) {
	var req factory.StructureJSON
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	tmpl, err := factory.FromJSON(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx := r.Context()
	audit := actor(r)
	catalogs := factory.Catalogs{Structures: h.Structures, Components: h.Components}
	var installed *factory.Installed
	err = h.Store.WithTx(ctx, func(tx fees.Store) error {
		installed, err = factory.Install(ctx, tx, audit, catalogs, tmpl)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Metrics.StructureWritten("created")

	writeJSON(w, http.StatusCreated, CreatedStructureDTO{
		Structure:  toStructureDTO(installed.Structure),
		Components: toComponentDTOs(installed.Components),
		Rules:      toRuleDTOs(installed.Rules),
	})
}

// GetCurrentStructure returns the structure priced for a date (today by
// default).
func (h *Handler) GetCurrentStructure(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tuple, err := tupleParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	asOf := generic.Today()
	if v := q.Get("as_of"); v != "" {
		if asOf, err = generic.ParseDate(v); err != nil {
			h.fail(w, r, generic.Validation("as_of", "expected YYYY-MM-DD"))
			return
		}
	}

	s, err := h.Structures.GetCurrent(r.Context(), h.Store, tuple.HostelID, tuple.RoomType, tuple.FeeType, asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if s == nil {
		h.fail(w, r, generic.NotFound("fee structure", fmt.Sprintf("for %s/%s/%s on %s", tuple.HostelID, tuple.RoomType, tuple.FeeType, asOf)))
		return
	}
	writeJSON(w, http.StatusOK, toStructureDTO(s))
}

// GetStructureHistory returns every version of a tuple, newest first.
func (h *Handler) GetStructureHistory(w http.ResponseWriter, r *http.Request) {
	tuple, err := tupleParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.Structures.GetVersionHistory(r.Context(), h.Store, tuple.HostelID, tuple.RoomType, tuple.FeeType)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStructureDTOs(list))
}

func (h *Handler) GetStructure(w http.ResponseWriter, r *http.Request) {
	s, err := h.Structures.Get(r.Context(), h.Store, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStructureDTO(s))
}

// AmendStructure changes a structure in place, or supersedes it with a new
// version when create_new_version is set.
func (h *Handler) AmendStructure(w http.ResponseWriter, r *http.Request) {
	var req AmendStructureRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	ctx := r.Context()
	audit := actor(r)
	var s *fees.FeeStructure
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		s, err = h.Structures.Amend(ctx, tx, audit, chi.URLParam(r, "id"), req.changes(), req.CreateNewVersion)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.CreateNewVersion {
		h.Metrics.StructureWritten("versioned")
	} else {
		h.Metrics.StructureWritten("amended")
	}
	writeJSON(w, http.StatusOK, toStructureDTO(s))
}

func (h *Handler) DeleteStructure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	audit := actor(r)
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		return h.Structures.Delete(ctx, tx, audit, chi.URLParam(r, "id"))
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Metrics.StructureWritten("deleted")
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CHARGE COMPONENT ENDPOINTS
// =============================================================================

// ListComponents returns the live components of a structure. Boolean
// filters: mandatory, recurring, taxable, refundable, proration_allowed,
// visible_to_student. Also type, room_type, as_of, include_deleted.
func (h *Handler) ListComponents(w http.ResponseWriter, r *http.Request) {
	filter, err := componentFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.Components.List(r.Context(), h.Store, chi.URLParam(r, "id"), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toComponentDTOs(list))
}

// AddComponent adds one component, with any rules it carries.
func (h *Handler) AddComponent(w http.ResponseWriter, r *http.Request) {
	var req factory.ComponentJSON
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ct, err := factory.ComponentFromJSON(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx := r.Context()
	audit := actor(r)
	var (
		comp  *fees.ChargeComponent
		rules []fees.ChargeRule
	)
	err = h.Store.WithTx(ctx, func(tx fees.Store) error {
		comp, rules, err = factory.InstallComponent(ctx, tx, audit, h.Components, chi.URLParam(r, "id"), *ct)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		ChargeComponentDTO
		Rules []ChargeRuleDTO `json:"rules"`
	}{toComponentDTO(comp), toRuleDTOs(rules)})
}

// ComponentSummary returns totals, the tax breakdown and the
// mandatory/optional grouping for the filtered components.
func (h *Handler) ComponentSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := componentFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	summary, err := h.Components.Summary(r.Context(), h.Store, chi.URLParam(r, "id"), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) GetComponent(w http.ResponseWriter, r *http.Request) {
	c, err := h.Components.Get(r.Context(), h.Store, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toComponentDTO(c))
}

func (h *Handler) UpdateComponent(w http.ResponseWriter, r *http.Request) {
	var req UpdateComponentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	ctx := r.Context()
	audit := actor(r)
	var c *fees.ChargeComponent
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		c, err = h.Components.Update(ctx, tx, audit, chi.URLParam(r, "id"), req.changes())
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toComponentDTO(c))
}

func (h *Handler) DeleteComponent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	audit := actor(r)
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		return h.Components.Delete(ctx, tx, audit, chi.URLParam(r, "id"))
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Components.ListRules(r.Context(), h.Store, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTOs(rules))
}

func (h *Handler) AddRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	ctx := r.Context()
	audit := actor(r)
	var rule *fees.ChargeRule
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		rule, err = h.Components.AddRule(ctx, tx, audit, chi.URLParam(r, "id"), req.params())
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleDTO(rule))
}

func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	audit := actor(r)
	var rule *fees.ChargeRule
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		rule, err = h.Components.DeactivateRule(ctx, tx, audit, chi.URLParam(r, "id"))
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(rule))
}

// =============================================================================
// DISCOUNT ENDPOINTS
// =============================================================================

func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.Discounts.List(r.Context(), h.Store, fees.DiscountFilter{
		ActiveOnly:     q.Get("active_only") == "true",
		IncludeDeleted: q.Get("include_deleted") == "true",
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscountDTOs(list))
}

func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req DiscountRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	ctx := r.Context()
	audit := actor(r)
	var d *fees.DiscountConfiguration
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		d, err = h.Discounts.Create(ctx, tx, audit, req.params())
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDiscountDTO(d))
}

func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	d, err := h.Discounts.Get(r.Context(), h.Store, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscountDTO(d))
}

// GetDiscountByCode returns the discount for a code only if it is usable
// on as_of (today by default).
func (h *Handler) GetDiscountByCode(w http.ResponseWriter, r *http.Request) {
	asOf := generic.Today()
	if v := r.URL.Query().Get("as_of"); v != "" {
		var err error
		if asOf, err = generic.ParseDate(v); err != nil {
			h.fail(w, r, generic.Validation("as_of", "expected YYYY-MM-DD"))
			return
		}
	}
	code := chi.URLParam(r, "code")
	d, err := h.Discounts.FindByCode(r.Context(), h.Store, code, asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if d == nil {
		h.fail(w, r, generic.NotFound("usable discount code", fees.NormalizeCode(code)))
		return
	}
	writeJSON(w, http.StatusOK, toDiscountDTO(d))
}

func (h *Handler) UpdateDiscount(w http.ResponseWriter, r *http.Request) {
	var req UpdateDiscountRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	ctx := r.Context()
	audit := actor(r)
	var d *fees.DiscountConfiguration
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		d, err = h.Discounts.Update(ctx, tx, audit, chi.URLParam(r, "id"), req.changes())
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscountDTO(d))
}

func (h *Handler) DeleteDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	audit := actor(r)
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		return h.Discounts.Delete(ctx, tx, audit, chi.URLParam(r, "id"))
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DiscountApplicability explains whether a discount applies to a stay.
func (h *Handler) DiscountApplicability(w http.ResponseWriter, r *http.Request) {
	var req EligibilityRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.Discounts.ValidateApplicability(r.Context(), h.Store, chi.URLParam(r, "id"), req.eligibility())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) DiscountAmount(w http.ResponseWriter, r *http.Request) {
	var req DiscountAmountRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	amount, err := h.Discounts.CalculateAmount(r.Context(), h.Store, id, req.Base)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DiscountAmountDTO{DiscountID: id, Base: req.Base, Amount: amount})
}

// BestDiscount returns the applicable discount worth the most on base, or
// a null discount when none applies.
func (h *Handler) BestDiscount(w http.ResponseWriter, r *http.Request) {
	var req BestDiscountRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	d, amount, err := h.Discounts.BestApplicable(r.Context(), h.Store, req.eligibility(), fees.UniformBase(req.Base))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := BestDiscountDTO{Amount: amount}
	if d != nil {
		dto := toDiscountDTO(d)
		resp.Discount = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// RedeemDiscount records one use outside a calculation (e.g. a manual
// invoice); calculations redeem automatically.
func (h *Handler) RedeemDiscount(w http.ResponseWriter, r *http.Request) {
	h.changeUsage(w, r, h.Discounts.IncrementUsage)
}

// ReleaseDiscount gives back one use, e.g. after a cancelled booking.
func (h *Handler) ReleaseDiscount(w http.ResponseWriter, r *http.Request) {
	h.changeUsage(w, r, h.Discounts.DecrementUsage)
}

type usageFunc func(ctx context.Context, tx fees.Store, audit generic.AuditContext, id string) error

func (h *Handler) changeUsage(w http.ResponseWriter, r *http.Request, change usageFunc) {
	ctx := r.Context()
	audit := actor(r)
	id := chi.URLParam(r, "id")
	var d *fees.DiscountConfiguration
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		if err := change(ctx, tx, audit, id); err != nil {
			return err
		}
		var err error
		d, err = h.Discounts.Get(ctx, tx, id)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscountDTO(d))
}

// =============================================================================
// CALCULATION ENDPOINTS
// =============================================================================

// EstimateCalculation prices a stay. Nothing is written and no discount
// usage is consumed.
func (h *Handler) EstimateCalculation(w http.ResponseWriter, r *http.Request) {
	var req CalculationRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	calc, err := h.Calculations.Estimate(r.Context(), h.Store, req.params())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Metrics.CalculationRecorded(calc, false)
	writeJSON(w, http.StatusOK, toCalculationDTO(calc))
}

// CreateCalculation prices a stay and persists the snapshot together with
// the discount redemption.
func (h *Handler) CreateCalculation(w http.ResponseWriter, r *http.Request) {
	var req CalculationRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	ctx := r.Context()
	audit := actor(r)
	var calc *fees.FeeCalculation
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		calc, err = h.Calculations.Create(ctx, tx, audit, req.params())
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Metrics.CalculationRecorded(calc, true)
	writeJSON(w, http.StatusCreated, toCalculationDTO(calc))
}

func (h *Handler) ListCalculations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := fees.CalculationFilter{
		HostelID:       q.Get("hostel_id"),
		FeeStructureID: q.Get("fee_structure_id"),
		StudentID:      q.Get("student_id"),
		BookingID:      q.Get("booking_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(w, r, generic.Validation("limit", "must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}
	list, err := h.Calculations.List(r.Context(), h.Store, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCalculationDTOs(list))
}

func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	calc, err := h.Calculations.Get(r.Context(), h.Store, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCalculationDTO(calc))
}

func (h *Handler) ApproveCalculation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	audit := actor(r)
	var calc *fees.FeeCalculation
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		calc, err = h.Calculations.Approve(ctx, tx, audit, chi.URLParam(r, "id"))
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCalculationDTO(calc))
}

// =============================================================================
// PRORATION ENDPOINTS
// =============================================================================

// Prorate splits a partial month; method defaults to daily.
func (h *Handler) Prorate(w http.ResponseWriter, r *http.Request) {
	var req ProrationRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	method := fees.ProrateDaily
	if req.Method != "" {
		method = fees.ProrationMethod(req.Method)
	}
	result, err := h.Proration.Calculate(r.Context(), h.Store, fees.ProrationParams{
		StructureID: req.StructureID,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Method:      method,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) EarlyTermination(w http.ResponseWriter, r *http.Request) {
	var req EarlyTerminationRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.Proration.EarlyTermination(r.Context(), h.Store, fees.EarlyTerminationParams{
		StructureID:       req.StructureID,
		MoveInDate:        req.MoveInDate,
		PlannedMoveOut:    req.PlannedMoveOut,
		ActualMoveOut:     req.ActualMoveOut,
		AmountPaid:        req.AmountPaid,
		DepositPaid:       req.DepositPaid,
		RefundableCharges: req.RefundableCharges,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) NoticePenalty(w http.ResponseWriter, r *http.Request) {
	var req NoticePenaltyRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.Proration.NoticePenalty(r.Context(), h.Store, fees.NoticePenaltyParams{
		StructureID:        req.StructureID,
		NoticeDate:         req.NoticeDate,
		MoveOutDate:        req.MoveOutDate,
		RequiredNoticeDays: req.RequiredNoticeDays,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// APPROVAL ENDPOINTS
// =============================================================================

type transition func(ctx context.Context, tx fees.Store, audit generic.AuditContext) (*fees.ApprovalResult, error)

// runTransition commits one workflow step, then publishes it. Publishing
// happens after commit so a rolled-back step never notifies anyone.
func (h *Handler) runTransition(w http.ResponseWriter, r *http.Request, status int, step transition) {
	ctx := r.Context()
	audit := actor(r)
	var result *fees.ApprovalResult
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		result, err = step(ctx, tx, audit)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Approvals.Publish(context.WithoutCancel(ctx), result)
	writeJSON(w, status, toApprovalResultDTO(result))
}

func (h *Handler) SubmitApproval(w http.ResponseWriter, r *http.Request) {
	var req SubmitApprovalRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.runTransition(w, r, http.StatusCreated, func(ctx context.Context, tx fees.Store, audit generic.AuditContext) (*fees.ApprovalResult, error) {
		return h.Approvals.Submit(ctx, tx, audit, fees.SubmitParams{
			StructureID:   req.StructureID,
			Justification: req.Justification,
		})
	})
}

func (h *Handler) ApproveApproval(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	h.runTransition(w, r, http.StatusOK, func(ctx context.Context, tx fees.Store, audit generic.AuditContext) (*fees.ApprovalResult, error) {
		return h.Approvals.Approve(ctx, tx, audit, id, fees.ApproveParams{
			Note:          req.Note,
			EffectiveFrom: req.EffectiveFrom,
		})
	})
}

func (h *Handler) RejectApproval(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	h.runTransition(w, r, http.StatusOK, func(ctx context.Context, tx fees.Store, audit generic.AuditContext) (*fees.ApprovalResult, error) {
		return h.Approvals.Reject(ctx, tx, audit, id, fees.RejectParams{
			Reason:               req.Reason,
			RequiresResubmission: req.RequiresResubmission,
		})
	})
}

func (h *Handler) RequestRevision(w http.ResponseWriter, r *http.Request) {
	var req RevisionRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	h.runTransition(w, r, http.StatusOK, func(ctx context.Context, tx fees.Store, audit generic.AuditContext) (*fees.ApprovalResult, error) {
		return h.Approvals.RequestRevision(ctx, tx, audit, id, fees.RevisionParams{
			Note:             req.Note,
			RequestedChanges: req.RequestedChanges,
		})
	})
}

func (h *Handler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	list, err := h.Approvals.ListPending(r.Context(), h.Store)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTOs(list))
}

func (h *Handler) GetApproval(w http.ResponseWriter, r *http.Request) {
	a, err := h.Approvals.Get(r.Context(), h.Store, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(a))
}

// ApprovalTimeline returns the approval history of a structure, oldest
// first.
func (h *Handler) ApprovalTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.Approvals.Timeline(r.Context(), h.Store, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalEventDTOs(events))
}

// =============================================================================
// AUDIT ENDPOINT
// =============================================================================

func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := generic.AuditFilter{
		SubjectType: q.Get("subject_type"),
		SubjectID:   q.Get("subject_id"),
		ActorID:     q.Get("actor_id"),
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, generic.AuditAction(a))
	}
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.fail(w, r, generic.Validation(name, "expected an RFC 3339 timestamp"))
			return
		}
		*dst = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(w, r, generic.Validation("limit", "must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	entries, err := h.Store.QueryAudit(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, generic.ErrBusinessRule):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status of its kind. Unclassified errors are
// logged and hidden from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, status, "internal error", nil)
		return
	}

	resp := ErrorResponse{Error: generic.Message(err)}
	var ge *generic.Error
	if errors.As(err, &ge) {
		resp.Field = ge.Field
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into dst and runs the struct's validate tags.
// An empty body decodes as {}.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return generic.Validation("body", "invalid JSON: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError reports the first failing field.
func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return generic.Validation("body", "%v", err)
	}
	fe := ve[0]
	switch fe.Tag() {
	case "required":
		return generic.Validation(fe.Field(), "is required")
	case "oneof":
		return generic.Validation(fe.Field(), "must be one of: %s", fe.Param())
	case "min":
		return generic.Validation(fe.Field(), "must be at least %s", fe.Param())
	case "max":
		return generic.Validation(fe.Field(), "must be at most %s", fe.Param())
	default:
		return generic.Validation(fe.Field(), "failed %s check", fe.Tag())
	}
}

// actor builds the audit context for a mutation.
func actor(r *http.Request) generic.AuditContext {
	return generic.NewAuditContext(strings.TrimSpace(r.Header.Get(ActorHeader)))
}

// tupleParams reads hostel_id, room_type and fee_type from the query.
func tupleParams(r *http.Request) (fees.Tuple, error) {
	q := r.URL.Query()
	t := fees.Tuple{
		HostelID: q.Get("hostel_id"),
		RoomType: q.Get("room_type"),
		FeeType:  fees.FeeType(q.Get("fee_type")),
	}
	switch {
	case t.HostelID == "":
		return t, generic.Validation("hostel_id", "is required")
	case t.RoomType == "":
		return t, generic.Validation("room_type", "is required")
	case !t.FeeType.Valid():
		return t, generic.Validation("fee_type", "must be one of: monthly quarterly half_yearly yearly")
	}
	return t, nil
}

func componentFilter(r *http.Request) (fees.ComponentFilter, error) {
	q := r.URL.Query()
	f := fees.ComponentFilter{
		Type:           fees.ComponentType(q.Get("type")),
		RoomType:       q.Get("room_type"),
		IncludeDeleted: q.Get("include_deleted") == "true",
	}
	flags := map[string]**bool{
		"mandatory":          &f.IsMandatory,
		"recurring":          &f.IsRecurring,
		"taxable":            &f.IsTaxable,
		"refundable":         &f.IsRefundable,
		"proration_allowed":  &f.ProrationAllowed,
		"visible_to_student": &f.VisibleToStudent,
	}
	for name, dst := range flags {
		v := q.Get(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, generic.Validation(name, "must be true or false")
		}
		*dst = &b
	}
	if v := q.Get("as_of"); v != "" {
		d, err := generic.ParseDate(v)
		if err != nil {
			return f, generic.Validation("as_of", "expected YYYY-MM-DD")
		}
		f.AsOf = &d
	}
	return f, nil
}
