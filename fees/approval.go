/*
approval.go - Approval state machine for fee-structure changes

PURPOSE:
  ApprovalWorkflow gates whether a fee structure is treated as effective.
  Each submission cycle is one FeeApproval record; every transition also
  appends an ApprovalEvent, so a structure's full history can be read back
  as a timeline.

STATES:
  pending ──approve──▶ approved   terminal, structure activated
  pending ──reject───▶ rejected   terminal
  pending ──revise───▶ pending    revision note appended

RULES:
  - At most one pending approval per structure (also a unique index).
  - Approve activates the structure, optionally moving its effective date,
    through the same overlap/supersede step as StructureCatalog.Create.
  - Reject without requiresResubmission deactivates the structure.

NOTIFICATIONS:
  Transitions return an ApprovalResult. After the transaction commits the
  caller hands it to Publish; a failing publisher is logged and never
  undoes the transition.

SEE ALSO:
  - structure.go: Activate
  - notify/: Publisher implementations
*/
package fees

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fee-engine/generic"
)

// Notification is what a publisher receives after a transition commits.
type Notification struct {
	Kind       ApprovalEventKind
	Approval   FeeApproval
	Structure  FeeStructure
	ActorID    string
	Note       string
	OccurredAt time.Time
}

// Publisher delivers approval notifications. Implementations must not block
// for long; errors are logged by the workflow.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// ApprovalWorkflow runs the approval state machine.
type ApprovalWorkflow struct {
	Structures *StructureCatalog
	Publisher  Publisher
	Logger     *zap.Logger
}

func (w *ApprovalWorkflow) logger() *zap.Logger { return nopIfNil(w.Logger) }

// ApprovalResult is returned by every transition.
type ApprovalResult struct {
	Approval  *FeeApproval
	Structure *FeeStructure
	Event     *ApprovalEvent
}

// =============================================================================
// TRANSITIONS
// =============================================================================

type SubmitParams struct {
	StructureID   string
	Justification string
}

// Submit opens a pending approval for a structure.
func (w *ApprovalWorkflow) Submit(ctx context.Context, tx Store, audit generic.AuditContext, p SubmitParams) (*ApprovalResult, error) {
	s, err := w.Structures.Get(ctx, tx, p.StructureID)
	if err != nil {
		return nil, err
	}

	pending, err := tx.PendingApprovalFor(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, generic.BusinessRule("fee structure %s already has pending approval %s", s.ID, pending.ID)
	}

	a := &FeeApproval{
		ID:              generic.NewID(),
		FeeStructureID:  s.ID,
		Status:          ApprovalPending,
		RequestedAmount: s.Amount,
		Justification:   strings.TrimSpace(p.Justification),
		SubmittedBy:     audit.ActorID,
		SubmittedAt:     audit.At,
	}
	prev, err := w.previousAmount(ctx, tx, s)
	if err != nil {
		return nil, err
	}
	a.PreviousAmount = prev

	if err := tx.InsertApproval(ctx, a); err != nil {
		return nil, err
	}
	return w.record(ctx, tx, audit, a, s, EventSubmitted, a.Justification, generic.AuditApprovalSubmitted)
}

// previousAmount is the amount of the row currently priced for the
// structure's start date, when that is a different row.
func (w *ApprovalWorkflow) previousAmount(ctx context.Context, tx Store, s *FeeStructure) (*decimal.Decimal, error) {
	current, err := w.Structures.GetCurrent(ctx, tx, s.HostelID, s.RoomType, s.FeeType, s.EffectiveFrom)
	if err != nil || current == nil || current.ID == s.ID {
		return nil, err
	}
	amount := current.Amount
	return &amount, nil
}

type ApproveParams struct {
	Note string
	// EffectiveFrom moves the structure's start date on approval.
	EffectiveFrom *generic.Date
}

// Approve resolves a pending approval and activates the structure.
func (w *ApprovalWorkflow) Approve(ctx context.Context, tx Store, audit generic.AuditContext, approvalID string, p ApproveParams) (*ApprovalResult, error) {
	a, s, err := w.loadPending(ctx, tx, approvalID)
	if err != nil {
		return nil, err
	}

	if p.EffectiveFrom != nil {
		s.EffectiveFrom = *p.EffectiveFrom
		a.EffectiveFrom = p.EffectiveFrom
	}
	if err := w.Structures.Activate(ctx, tx, audit, s); err != nil {
		return nil, err
	}

	a.Status = ApprovalApproved
	w.resolve(a, audit)
	if err := tx.UpdateApproval(ctx, a); err != nil {
		return nil, err
	}
	return w.record(ctx, tx, audit, a, s, EventApproved, p.Note, generic.AuditApprovalApproved)
}

type RejectParams struct {
	Reason               string
	RequiresResubmission bool
}

// Reject resolves a pending approval as rejected.
func (w *ApprovalWorkflow) Reject(ctx context.Context, tx Store, audit generic.AuditContext, approvalID string, p RejectParams) (*ApprovalResult, error) {
	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		return nil, generic.Validation("reason", "rejection reason is required")
	}
	a, s, err := w.loadPending(ctx, tx, approvalID)
	if err != nil {
		return nil, err
	}

	a.Status = ApprovalRejected
	a.RejectionReason = reason
	a.RequiresResubmission = p.RequiresResubmission
	w.resolve(a, audit)
	if err := tx.UpdateApproval(ctx, a); err != nil {
		return nil, err
	}

	if !p.RequiresResubmission && s.IsActive {
		s.IsActive = false
		s.UpdatedBy = audit.ActorID
		s.UpdatedAt = audit.At
		if err := tx.UpdateStructure(ctx, s); err != nil {
			return nil, err
		}
	}
	return w.record(ctx, tx, audit, a, s, EventRejected, reason, generic.AuditApprovalRejected)
}

type RevisionParams struct {
	Note             string
	RequestedChanges []string
}

// RequestRevision appends a note; the approval stays pending.
func (w *ApprovalWorkflow) RequestRevision(ctx context.Context, tx Store, audit generic.AuditContext, approvalID string, p RevisionParams) (*ApprovalResult, error) {
	note := strings.TrimSpace(p.Note)
	if note == "" {
		return nil, generic.Validation("note", "revision note is required")
	}
	a, s, err := w.loadPending(ctx, tx, approvalID)
	if err != nil {
		return nil, err
	}

	a.RevisionNotes = append(a.RevisionNotes, RevisionNote{
		By:               audit.ActorID,
		At:               audit.At,
		Note:             note,
		RequestedChanges: p.RequestedChanges,
	})
	if err := tx.UpdateApproval(ctx, a); err != nil {
		return nil, err
	}
	return w.record(ctx, tx, audit, a, s, EventRevisionRequested, note, generic.AuditApprovalRevision)
}

func (w *ApprovalWorkflow) loadPending(ctx context.Context, tx Store, approvalID string) (*FeeApproval, *FeeStructure, error) {
	a, err := w.Get(ctx, tx, approvalID)
	if err != nil {
		return nil, nil, err
	}
	if a.Status != ApprovalPending {
		return nil, nil, generic.BusinessRule("approval %s is %s, not pending", a.ID, a.Status)
	}
	s, err := w.Structures.Get(ctx, tx, a.FeeStructureID)
	if err != nil {
		return nil, nil, err
	}
	return a, s, nil
}

func (w *ApprovalWorkflow) resolve(a *FeeApproval, audit generic.AuditContext) {
	by, at := audit.ActorID, audit.At
	a.ResolvedBy = &by
	a.ResolvedAt = &at
}

// record appends the history event and audit entry for a transition.
func (w *ApprovalWorkflow) record(ctx context.Context, tx Store, audit generic.AuditContext, a *FeeApproval, s *FeeStructure, kind ApprovalEventKind, note string, action generic.AuditAction) (*ApprovalResult, error) {
	ev := &ApprovalEvent{
		ID:             generic.NewID(),
		ApprovalID:     a.ID,
		FeeStructureID: s.ID,
		Kind:           kind,
		ActorID:        audit.ActorID,
		Note:           note,
		Amount:         a.RequestedAmount,
		OccurredAt:     audit.At,
	}
	if err := tx.AppendApprovalEvent(ctx, ev); err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, audit.Entry(action, "fee_approval", a.ID, map[string]any{
		"fee_structure_id": s.ID,
		"status":           string(a.Status),
	})); err != nil {
		return nil, err
	}

	w.logger().Info("approval transition",
		zap.String("approval_id", a.ID),
		zap.String("fee_structure_id", s.ID),
		zap.String("event", string(kind)),
		zap.String("actor", audit.ActorID))
	return &ApprovalResult{Approval: a, Structure: s, Event: ev}, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (w *ApprovalWorkflow) Get(ctx context.Context, tx Store, id string) (*FeeApproval, error) {
	a, err := tx.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, generic.NotFound("approval", id)
	}
	return a, nil
}

func (w *ApprovalWorkflow) ListPending(ctx context.Context, tx Store) ([]FeeApproval, error) {
	return tx.ListApprovals(ctx, ApprovalFilter{Status: ApprovalPending})
}

// Timeline returns every transition for a structure in the order it
// happened.
func (w *ApprovalWorkflow) Timeline(ctx context.Context, tx Store, structureID string) ([]ApprovalEvent, error) {
	s, err := tx.GetStructure(ctx, structureID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, generic.NotFound("fee structure", structureID)
	}
	return tx.ListApprovalEvents(ctx, structureID)
}

// =============================================================================
// NOTIFICATION
// =============================================================================

// Publish notifies the publisher about a committed transition. It never
// returns an error: failures (and panics) are logged.
func (w *ApprovalWorkflow) Publish(ctx context.Context, r *ApprovalResult) {
	if w.Publisher == nil || r == nil || r.Event == nil {
		return
	}
	n := Notification{
		Kind:       r.Event.Kind,
		Approval:   *r.Approval,
		Structure:  *r.Structure,
		ActorID:    r.Event.ActorID,
		Note:       r.Event.Note,
		OccurredAt: r.Event.OccurredAt,
	}

	defer func() {
		if rec := recover(); rec != nil {
			w.logger().Error("approval notification panicked",
				zap.String("approval_id", n.Approval.ID),
				zap.Any("panic", rec))
		}
	}()
	if err := w.Publisher.Publish(ctx, n); err != nil {
		w.logger().Warn("approval notification failed",
			zap.String("approval_id", n.Approval.ID),
			zap.String("event", string(n.Kind)),
			zap.Error(err))
	}
}
