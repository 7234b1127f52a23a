package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/fees"
)

// =============================================================================
// FEE APPROVALS
// =============================================================================

const approvalColumns = `id, fee_structure_id, status, requested_amount, previous_amount,
	justification, revision_notes, submitted_by, submitted_at,
	resolved_by, resolved_at, rejection_reason, requires_resubmission, effective_from`

func (c *conn) InsertApproval(ctx context.Context, a *fees.FeeApproval) error {
	notes, err := revisionNotesArg(a.RevisionNotes)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, `INSERT INTO fee_approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.FeeStructureID, string(a.Status), decArg(a.RequestedAmount), nullDecArg(a.PreviousAmount),
		a.Justification, notes, a.SubmittedBy, a.SubmittedAt.UTC(),
		nullStringArg(a.ResolvedBy), nullTimeArg(a.ResolvedAt), a.RejectionReason,
		a.RequiresResubmission, nullDateArg(a.EffectiveFrom),
	)
	return translate(err, "insert fee approval")
}

func (c *conn) UpdateApproval(ctx context.Context, a *fees.FeeApproval) error {
	notes, err := revisionNotesArg(a.RevisionNotes)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, `UPDATE fee_approvals SET
			status = ?, revision_notes = ?, resolved_by = ?, resolved_at = ?,
			rejection_reason = ?, requires_resubmission = ?, effective_from = ?
		WHERE id = ?`,
		string(a.Status), notes, nullStringArg(a.ResolvedBy), nullTimeArg(a.ResolvedAt),
		a.RejectionReason, a.RequiresResubmission, nullDateArg(a.EffectiveFrom),
		a.ID,
	)
	return translate(err, "update fee approval")
}

func (c *conn) GetApproval(ctx context.Context, id string) (*fees.FeeApproval, error) {
	return c.getApproval(ctx, `SELECT `+approvalColumns+` FROM fee_approvals WHERE id = ?`, id)
}

func (c *conn) PendingApprovalFor(ctx context.Context, structureID string) (*fees.FeeApproval, error) {
	return c.getApproval(ctx, `SELECT `+approvalColumns+` FROM fee_approvals
		WHERE fee_structure_id = ? AND status = ?`, structureID, string(fees.ApprovalPending))
}

func (c *conn) getApproval(ctx context.Context, query string, args ...any) (*fees.FeeApproval, error) {
	a, err := scanApproval(c.queryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListApprovals orders by submission time, oldest first.
func (c *conn) ListApprovals(ctx context.Context, filter fees.ApprovalFilter) ([]fees.FeeApproval, error) {
	var w where
	if filter.FeeStructureID != "" {
		w.add("fee_structure_id = ?", filter.FeeStructureID)
	}
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	rows, err := c.query(ctx, `SELECT `+approvalColumns+` FROM fee_approvals`+w.String()+
		` ORDER BY submitted_at, id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fees.FeeApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func revisionNotesArg(notes []fees.RevisionNote) (string, error) {
	if notes == nil {
		notes = []fees.RevisionNote{}
	}
	return jsonArg(notes)
}

func scanApproval(r rowScanner) (*fees.FeeApproval, error) {
	var (
		a          fees.FeeApproval
		status     string
		previous   decimal.NullDecimal
		notes      []byte
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
		effective  dateCol
	)
	err := r.Scan(
		&a.ID, &a.FeeStructureID, &status, &a.RequestedAmount, &previous,
		&a.Justification, &notes, &a.SubmittedBy, &a.SubmittedAt,
		&resolvedBy, &resolvedAt, &a.RejectionReason, &a.RequiresResubmission, &effective,
	)
	if err != nil {
		return nil, err
	}
	a.Status = fees.ApprovalStatus(status)
	a.PreviousAmount = decPtr(previous)
	if err := scanJSON(notes, &a.RevisionNotes); err != nil {
		return nil, err
	}
	a.SubmittedAt = a.SubmittedAt.UTC()
	a.ResolvedBy = strPtr(resolvedBy)
	a.ResolvedAt = timePtr(resolvedAt)
	a.EffectiveFrom = effective.Ptr()
	return &a, nil
}

// =============================================================================
// APPROVAL EVENTS - Append-only history
// =============================================================================

// AppendApprovalEvent inserts the event and fills in its sequence number.
func (c *conn) AppendApprovalEvent(ctx context.Context, e *fees.ApprovalEvent) error {
	err := c.queryRow(ctx, `INSERT INTO fee_approval_events
			(id, approval_id, fee_structure_id, kind, actor_id, note, amount, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`,
		e.ID, e.ApprovalID, e.FeeStructureID, string(e.Kind), e.ActorID, e.Note,
		decArg(e.Amount), e.OccurredAt.UTC(),
	).Scan(&e.Seq)
	return translate(err, "append approval event")
}

func (c *conn) ListApprovalEvents(ctx context.Context, structureID string) ([]fees.ApprovalEvent, error) {
	rows, err := c.query(ctx, `SELECT seq, id, approval_id, fee_structure_id, kind, actor_id, note, amount, occurred_at
		FROM fee_approval_events
		WHERE fee_structure_id = ?
		ORDER BY occurred_at, seq`, structureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fees.ApprovalEvent
	for rows.Next() {
		var (
			e    fees.ApprovalEvent
			kind string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.ApprovalID, &e.FeeStructureID, &kind,
			&e.ActorID, &e.Note, &e.Amount, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Kind = fees.ApprovalEventKind(kind)
		e.OccurredAt = e.OccurredAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
