package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/warp/fee-engine/fees"
)

// =============================================================================
// CHARGE COMPONENTS
// =============================================================================

const componentColumns = `id, fee_structure_id, name, component_type, amount,
	is_mandatory, is_refundable, is_recurring, is_taxable, visible_to_student, proration_allowed,
	calculation_method, tax_percentage, applies_from, applies_to, room_types,
	display_order, description, created_by, updated_by, created_at, updated_at, deleted_at`

func (c *conn) InsertComponent(ctx context.Context, comp *fees.ChargeComponent) error {
	_, err := c.exec(ctx, `INSERT INTO charge_components (`+componentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		comp.ID, comp.FeeStructureID, comp.Name, string(comp.Type), decArg(comp.Amount),
		comp.IsMandatory, comp.IsRefundable, comp.IsRecurring, comp.IsTaxable,
		comp.VisibleToStudent, comp.ProrationAllowed,
		string(comp.CalculationMethod), decArg(comp.TaxPercentage),
		nullDateArg(comp.AppliesFrom), nullDateArg(comp.AppliesTo), setArg(comp.RoomTypes),
		comp.DisplayOrder, comp.Description,
		comp.CreatedBy, comp.UpdatedBy, comp.CreatedAt.UTC(), comp.UpdatedAt.UTC(), nullTimeArg(comp.DeletedAt),
	)
	return translate(err, "insert charge component")
}

func (c *conn) UpdateComponent(ctx context.Context, comp *fees.ChargeComponent) error {
	_, err := c.exec(ctx, `UPDATE charge_components SET
			name = ?, component_type = ?, amount = ?,
			is_mandatory = ?, is_refundable = ?, is_recurring = ?, is_taxable = ?,
			visible_to_student = ?, proration_allowed = ?,
			calculation_method = ?, tax_percentage = ?,
			applies_from = ?, applies_to = ?, room_types = ?,
			display_order = ?, description = ?, updated_by = ?, updated_at = ?, deleted_at = ?
		WHERE id = ?`,
		comp.Name, string(comp.Type), decArg(comp.Amount),
		comp.IsMandatory, comp.IsRefundable, comp.IsRecurring, comp.IsTaxable,
		comp.VisibleToStudent, comp.ProrationAllowed,
		string(comp.CalculationMethod), decArg(comp.TaxPercentage),
		nullDateArg(comp.AppliesFrom), nullDateArg(comp.AppliesTo), setArg(comp.RoomTypes),
		comp.DisplayOrder, comp.Description, comp.UpdatedBy, comp.UpdatedAt.UTC(), nullTimeArg(comp.DeletedAt),
		comp.ID,
	)
	return translate(err, "update charge component")
}

func (c *conn) GetComponent(ctx context.Context, id string) (*fees.ChargeComponent, error) {
	row := c.queryRow(ctx, `SELECT `+componentColumns+` FROM charge_components WHERE id = ?`, id)
	comp, err := scanComponent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return comp, nil
}

func (c *conn) ListComponents(ctx context.Context, structureID string, includeDeleted bool) ([]fees.ChargeComponent, error) {
	var w where
	w.add("fee_structure_id = ?", structureID)
	if !includeDeleted {
		w.add("deleted_at IS NULL")
	}
	rows, err := c.query(ctx, `SELECT `+componentColumns+` FROM charge_components`+w.String()+
		` ORDER BY display_order, name, id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fees.ChargeComponent
	for rows.Next() {
		comp, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *comp)
	}
	return out, rows.Err()
}

func scanComponent(r rowScanner) (*fees.ChargeComponent, error) {
	var (
		comp          fees.ChargeComponent
		componentType string
		method        string
		from, to      dateCol
		roomTypes     []byte
		deletedAt     sql.NullTime
	)
	err := r.Scan(
		&comp.ID, &comp.FeeStructureID, &comp.Name, &componentType, &comp.Amount,
		&comp.IsMandatory, &comp.IsRefundable, &comp.IsRecurring, &comp.IsTaxable,
		&comp.VisibleToStudent, &comp.ProrationAllowed,
		&method, &comp.TaxPercentage, &from, &to, &roomTypes,
		&comp.DisplayOrder, &comp.Description,
		&comp.CreatedBy, &comp.UpdatedBy, &comp.CreatedAt, &comp.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	comp.Type = fees.ComponentType(componentType)
	comp.CalculationMethod = fees.CalculationMethod(method)
	comp.AppliesFrom = from.Ptr()
	comp.AppliesTo = to.Ptr()
	if comp.RoomTypes, err = scanSet(roomTypes); err != nil {
		return nil, err
	}
	comp.DeletedAt = timePtr(deletedAt)
	comp.CreatedAt = comp.CreatedAt.UTC()
	comp.UpdatedAt = comp.UpdatedAt.UTC()
	return &comp, nil
}

// =============================================================================
// CHARGE RULES
// =============================================================================

const ruleColumns = `id, component_id, name, rule_type, condition_json, action_json,
	priority, is_active, created_by, created_at, updated_at`

func (c *conn) InsertRule(ctx context.Context, r *fees.ChargeRule) error {
	cond, err := jsonArg(r.Condition)
	if err != nil {
		return err
	}
	action, err := jsonArg(r.Action)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, `INSERT INTO charge_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ComponentID, r.Name, string(r.Type), cond, action,
		r.Priority, r.IsActive, r.CreatedBy, r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	return translate(err, "insert charge rule")
}

func (c *conn) UpdateRule(ctx context.Context, r *fees.ChargeRule) error {
	cond, err := jsonArg(r.Condition)
	if err != nil {
		return err
	}
	action, err := jsonArg(r.Action)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, `UPDATE charge_rules SET
			name = ?, rule_type = ?, condition_json = ?, action_json = ?,
			priority = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		r.Name, string(r.Type), cond, action, r.Priority, r.IsActive, r.UpdatedAt.UTC(),
		r.ID,
	)
	return translate(err, "update charge rule")
}

func (c *conn) GetRule(ctx context.Context, id string) (*fees.ChargeRule, error) {
	row := c.queryRow(ctx, `SELECT `+ruleColumns+` FROM charge_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (c *conn) ListRules(ctx context.Context, componentID string) ([]fees.ChargeRule, error) {
	return c.queryRules(ctx, `SELECT `+ruleColumns+` FROM charge_rules
		WHERE component_id = ? ORDER BY priority DESC, id`, componentID)
}

// ListRulesForStructure loads the rules of every live component in one
// query.
func (c *conn) ListRulesForStructure(ctx context.Context, structureID string) ([]fees.ChargeRule, error) {
	return c.queryRules(ctx, `SELECT r.id, r.component_id, r.name, r.rule_type, r.condition_json, r.action_json,
			r.priority, r.is_active, r.created_by, r.created_at, r.updated_at
		FROM charge_rules r
		JOIN charge_components cc ON cc.id = r.component_id
		WHERE cc.fee_structure_id = ? AND cc.deleted_at IS NULL
		ORDER BY r.component_id, r.priority DESC, r.id`, structureID)
}

func (c *conn) queryRules(ctx context.Context, query string, args ...any) ([]fees.ChargeRule, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fees.ChargeRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRule(row rowScanner) (*fees.ChargeRule, error) {
	var (
		r            fees.ChargeRule
		ruleType     string
		cond, action []byte
	)
	err := row.Scan(&r.ID, &r.ComponentID, &r.Name, &ruleType, &cond, &action,
		&r.Priority, &r.IsActive, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Type = fees.RuleType(ruleType)
	if err := scanJSON(cond, &r.Condition); err != nil {
		return nil, err
	}
	if err := scanJSON(action, &r.Action); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}
