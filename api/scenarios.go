/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	fee data for demos and manual testing. Each scenario installs fee
	structures from factory presets, adds discounts and walks structures
	through versioning or approval.

AVAILABLE SCENARIOS:

	standard-hostel:  Single and double rooms (monthly) plus a yearly plan,
	                  an early-bird code and a new-student discount
	price-revision:   A monthly plan revised mid-year as a new version
	pending-approval: A structure waiting for approval with one revision note

HOW SCENARIOS WORK:
 1. Pick a fresh hostel id (demo-xxxxxxxx) so loads never collide
 2. Install structures via factory templates
 3. Add discounts, versions or approvals
 4. Commit everything in one transaction

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "standard-hostel"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, tx, audit, h, hostelID)
 3. Register it in 'loaders'

SEE ALSO:
  - handlers.go: Handler wiring
  - factory/presets.go: Template JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-hostel",
		Name:        "Standard Hostel",
		Description: "Monthly single/double rooms, a yearly all-inclusive plan and two discounts",
	},
	{
		ID:          "price-revision",
		Name:        "Price Revision",
		Description: "A monthly plan superseded by a higher-priced version from July",
	},
	{
		ID:          "pending-approval",
		Name:        "Pending Approval",
		Description: "A new structure awaiting approval, with a revision requested",
	},
}

type scenarioLoader func(ctx context.Context, tx fees.Store, audit generic.AuditContext, h *Handler, hostelID string) (*ScenarioResult, error)

var loaders = map[string]scenarioLoader{
	"standard-hostel":  loadStandardHostelScenario,
	"price-revision":   loadPriceRevisionScenario,
	"pending-approval": loadPendingApprovalScenario,
}

// ScenarioResult lists what a scenario created.
type ScenarioResult struct {
	ScenarioID string            `json:"scenario_id"`
	HostelID   string            `json:"hostel_id"`
	Structures []FeeStructureDTO `json:"structures"`
	Discounts  []DiscountDTO     `json:"discounts"`
	Approvals  []ApprovalDTO     `json:"approvals"`

	transitions []*fees.ApprovalResult
}

func (res *ScenarioResult) addStructure(s *fees.FeeStructure) {
	res.Structures = append(res.Structures, toStructureDTO(s))
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario runs one loader in a single transaction.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		h.fail(w, r, generic.NotFound("scenario", req.ScenarioID))
		return
	}

	ctx := r.Context()
	audit := actor(r)
	hostelID := "demo-" + strings.SplitN(generic.NewID(), "-", 2)[0]

	var result *ScenarioResult
	err := h.Store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		result, err = load(ctx, tx, audit, h, hostelID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for _, t := range result.transitions {
		h.Approvals.Publish(context.WithoutCancel(ctx), t)
	}
	for range result.Structures {
		h.Metrics.StructureWritten("created")
	}

	h.Logger.Info("scenario loaded",
		zap.String("scenario", req.ScenarioID),
		zap.String("hostel_id", hostelID),
		zap.Int("structures", len(result.Structures)))
	writeJSON(w, http.StatusCreated, result)
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) installPreset(ctx context.Context, tx fees.Store, audit generic.AuditContext, preset string) (*fees.FeeStructure, error) {
	tmpl, err := factory.ParseTemplate(preset)
	if err != nil {
		return nil, err
	}
	installed, err := factory.Install(ctx, tx, audit, factory.Catalogs{Structures: h.Structures, Components: h.Components}, tmpl)
	if err != nil {
		return nil, err
	}
	return installed.Structure, nil
}

func loadStandardHostelScenario(ctx context.Context, tx fees.Store, audit generic.AuditContext, h *Handler, hostelID string) (*ScenarioResult, error) {
	res := &ScenarioResult{ScenarioID: "standard-hostel", HostelID: hostelID}
	from := audit.Date().StartOfMonth().String()

	presets := []string{
		factory.StandardRoomJSON(hostelID, "single", 8000, 16000, 3000, from),
		factory.StandardRoomJSON(hostelID, "double", 6000, 12000, 3000, from),
		factory.MessIncludedYearlyJSON(hostelID, "single", 96000, 16000, from),
	}
	for _, p := range presets {
		s, err := h.installPreset(ctx, tx, audit, p)
		if err != nil {
			return nil, err
		}
		res.addStructure(s)
	}

	suffix := strings.ToUpper(strings.TrimPrefix(hostelID, "demo-"))
	early := "EARLY-" + suffix
	ten := decimal.NewFromInt(10)
	fiveHundred := decimal.NewFromInt(500)
	discounts := []fees.DiscountParams{
		{
			Name:       "Early bird",
			Code:       &early,
			Type:       fees.DiscountPercentage,
			Percentage: &ten,
			AppliesTo:  fees.TargetBaseRent,
			HostelIDs:  []string{hostelID},
			ValidTo:    audit.Date().AddMonths(3).Ptr(),
		},
		{
			Name:            "New student welcome",
			Type:            fees.DiscountFixedAmount,
			AppliesTo:       fees.TargetTotal,
			HostelIDs:       []string{hostelID},
			Amount:          &fiveHundred,
			NewStudentsOnly: true,
		},
	}
	for _, p := range discounts {
		d, err := h.Discounts.Create(ctx, tx, audit, p)
		if err != nil {
			return nil, err
		}
		res.Discounts = append(res.Discounts, toDiscountDTO(d))
	}
	return res, nil
}

func loadPriceRevisionScenario(ctx context.Context, tx fees.Store, audit generic.AuditContext, h *Handler, hostelID string) (*ScenarioResult, error) {
	res := &ScenarioResult{ScenarioID: "price-revision", HostelID: hostelID}
	year := audit.Date().Year()

	s, err := h.installPreset(ctx, tx, audit, factory.StandardRoomJSON(hostelID, "single", 8000, 16000, 3000, fmt.Sprintf("%d-01-01", year)))
	if err != nil {
		return nil, err
	}

	amount := decimal.NewFromInt(8800)
	from := generic.NewDate(year, 7, 1)
	note := "Revised for the second half of the year"
	next, err := h.Structures.Amend(ctx, tx, audit, s.ID, fees.StructureChanges{
		Amount:        &amount,
		EffectiveFrom: &from,
		Description:   &note,
	}, true)
	if err != nil {
		return nil, err
	}

	history, err := h.Structures.GetVersionHistory(ctx, tx, next.HostelID, next.RoomType, next.FeeType)
	if err != nil {
		return nil, err
	}
	res.Structures = toStructureDTOs(history)
	return res, nil
}

func loadPendingApprovalScenario(ctx context.Context, tx fees.Store, audit generic.AuditContext, h *Handler, hostelID string) (*ScenarioResult, error) {
	res := &ScenarioResult{ScenarioID: "pending-approval", HostelID: hostelID}

	tmpl, err := factory.ParseTemplate(factory.StandardRoomJSON(hostelID, "single", 9000, 18000, 3200, audit.Date().AddMonths(1).StartOfMonth().String()))
	if err != nil {
		return nil, err
	}
	requireApproval := true
	tmpl.Structure.RequireApproval = &requireApproval
	installed, err := factory.Install(ctx, tx, audit, factory.Catalogs{Structures: h.Structures, Components: h.Components}, tmpl)
	if err != nil {
		return nil, err
	}

	submitted, err := h.Approvals.Submit(ctx, tx, audit, fees.SubmitParams{
		StructureID:   installed.Structure.ID,
		Justification: "New wing opening next month",
	})
	if err != nil {
		return nil, err
	}
	revised, err := h.Approvals.RequestRevision(ctx, tx, audit, submitted.Approval.ID, fees.RevisionParams{
		Note:             "Deposit looks high for a single room",
		RequestedChanges: []string{"security_deposit"},
	})
	if err != nil {
		return nil, err
	}

	res.addStructure(revised.Structure)
	res.Approvals = append(res.Approvals, toApprovalDTO(revised.Approval))
	res.transitions = append(res.transitions, submitted, revised)
	return res, nil
}
