package sqlstore

import (
	"context"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

func (c *conn) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	payload := entry.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := jsonArg(payload)
	if err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = generic.NewID()
	}
	_, err = c.exec(ctx, `INSERT INTO audit_log (id, at, actor_id, action, subject_type, subject_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.At.UTC(), entry.ActorID, string(entry.Action),
		entry.SubjectType, entry.SubjectID, body,
	)
	return translate(err, "append audit entry")
}

// QueryAudit returns entries oldest first.
func (c *conn) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	var w where
	if filter.SubjectType != "" {
		w.add("subject_type = ?", filter.SubjectType)
	}
	if filter.SubjectID != "" {
		w.add("subject_id = ?", filter.SubjectID)
	}
	if filter.ActorID != "" {
		w.add("actor_id = ?", filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		in := "action IN (?"
		args := []any{string(filter.Actions[0])}
		for _, a := range filter.Actions[1:] {
			in += ", ?"
			args = append(args, string(a))
		}
		w.add(in+")", args...)
	}
	if filter.From != nil {
		w.add("at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		w.add("at < ?", filter.To.UTC())
	}

	query := `SELECT id, at, actor_id, action, subject_type, subject_id, payload FROM audit_log` +
		w.String() + ` ORDER BY at, id`
	args := w.args
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var (
			e       generic.AuditEntry
			action  string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.At, &e.ActorID, &action, &e.SubjectType, &e.SubjectID, &payload); err != nil {
			return nil, err
		}
		e.Action = generic.AuditAction(action)
		e.At = e.At.UTC()
		if err := scanJSON(payload, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
