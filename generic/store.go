package generic

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT CONTEXT - Who is acting, and when
// =============================================================================

// AuditContext is passed explicitly to every mutating operation.
type AuditContext struct {
	ActorID string
	At      time.Time
}

// SystemActor is used when no user is attached to a request.
const SystemActor = "system"

// NewAuditContext stamps the current time (UTC).
func NewAuditContext(actorID string) AuditContext {
	if actorID == "" {
		actorID = SystemActor
	}
	return AuditContext{ActorID: actorID, At: time.Now().UTC()}
}

// Date is the calendar day the action happens on.
func (a AuditContext) Date() Date {
	if a.At.IsZero() {
		return Today()
	}
	return DateOf(a.At.UTC())
}

// =============================================================================
// AUDIT LOG - Append-only, tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID          string
	At          time.Time
	ActorID     string
	Action      AuditAction
	SubjectType string
	SubjectID   string
	Payload     map[string]any
}

type AuditAction string

const (
	AuditStructureCreated    AuditAction = "fee_structure_created"
	AuditStructureAmended    AuditAction = "fee_structure_amended"
	AuditStructureVersioned  AuditAction = "fee_structure_versioned"
	AuditStructureSuperseded AuditAction = "fee_structure_superseded"
	AuditStructureDeleted    AuditAction = "fee_structure_deleted"
	AuditComponentAdded      AuditAction = "charge_component_added"
	AuditComponentUpdated    AuditAction = "charge_component_updated"
	AuditComponentDeleted    AuditAction = "charge_component_deleted"
	AuditRuleAdded           AuditAction = "charge_rule_added"
	AuditRuleDeactivated     AuditAction = "charge_rule_deactivated"
	AuditDiscountCreated     AuditAction = "discount_created"
	AuditDiscountUpdated     AuditAction = "discount_updated"
	AuditDiscountDeleted     AuditAction = "discount_deleted"
	AuditDiscountUsage       AuditAction = "discount_usage_changed"
	AuditCalculationCreated  AuditAction = "fee_calculation_created"
	AuditCalculationApproved AuditAction = "fee_calculation_approved"
	AuditApprovalSubmitted   AuditAction = "fee_approval_submitted"
	AuditApprovalApproved    AuditAction = "fee_approval_approved"
	AuditApprovalRejected    AuditAction = "fee_approval_rejected"
	AuditApprovalRevision    AuditAction = "fee_approval_revision_requested"
)

// Entry builds an audit entry stamped from the audit context.
func (a AuditContext) Entry(action AuditAction, subjectType, subjectID string, payload map[string]any) AuditEntry {
	at := a.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return AuditEntry{
		ID:          NewID(),
		At:          at,
		ActorID:     a.ActorID,
		Action:      action,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Payload:     payload,
	}
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	SubjectType string
	SubjectID   string
	ActorID     string
	Actions     []AuditAction
	From        *time.Time
	To          *time.Time
	Limit       int
}
