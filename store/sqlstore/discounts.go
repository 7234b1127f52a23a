package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/fees"
)

// =============================================================================
// DISCOUNT CONFIGURATIONS
// =============================================================================

const discountColumns = `id, name, code, discount_type, percentage, amount, applies_to, description,
	hostel_ids, room_types, min_stay_months, new_students_only,
	max_usage_count, current_usage_count, valid_from, valid_to, is_active,
	created_by, updated_by, created_at, updated_at, deleted_at`

func (c *conn) InsertDiscount(ctx context.Context, d *fees.DiscountConfiguration) error {
	_, err := c.exec(ctx, `INSERT INTO discount_configurations (`+discountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, nullStringArg(d.Code), string(d.Type), nullDecArg(d.Percentage), nullDecArg(d.Amount),
		string(d.AppliesTo), d.Description,
		setArg(d.HostelIDs), setArg(d.RoomTypes), nullIntArg(d.MinStayMonths), d.NewStudentsOnly,
		nullIntArg(d.MaxUsageCount), d.CurrentUsageCount,
		nullDateArg(d.ValidFrom), nullDateArg(d.ValidTo), d.IsActive,
		d.CreatedBy, d.UpdatedBy, d.CreatedAt.UTC(), d.UpdatedAt.UTC(), nullTimeArg(d.DeletedAt),
	)
	return translate(err, "insert discount")
}

// UpdateDiscount leaves current_usage_count alone; the counter only moves
// through Increment/DecrementDiscountUsage.
func (c *conn) UpdateDiscount(ctx context.Context, d *fees.DiscountConfiguration) error {
	_, err := c.exec(ctx, `UPDATE discount_configurations SET
			name = ?, code = ?, discount_type = ?, percentage = ?, amount = ?,
			applies_to = ?, description = ?, hostel_ids = ?, room_types = ?,
			min_stay_months = ?, new_students_only = ?, max_usage_count = ?,
			valid_from = ?, valid_to = ?, is_active = ?,
			updated_by = ?, updated_at = ?, deleted_at = ?
		WHERE id = ?`,
		d.Name, nullStringArg(d.Code), string(d.Type), nullDecArg(d.Percentage), nullDecArg(d.Amount),
		string(d.AppliesTo), d.Description, setArg(d.HostelIDs), setArg(d.RoomTypes),
		nullIntArg(d.MinStayMonths), d.NewStudentsOnly, nullIntArg(d.MaxUsageCount),
		nullDateArg(d.ValidFrom), nullDateArg(d.ValidTo), d.IsActive,
		d.UpdatedBy, d.UpdatedAt.UTC(), nullTimeArg(d.DeletedAt),
		d.ID,
	)
	return translate(err, "update discount")
}

func (c *conn) GetDiscount(ctx context.Context, id string) (*fees.DiscountConfiguration, error) {
	return c.getDiscount(ctx, `SELECT `+discountColumns+` FROM discount_configurations WHERE id = ?`, id)
}

// GetDiscountByCode expects an already normalized code.
func (c *conn) GetDiscountByCode(ctx context.Context, code string) (*fees.DiscountConfiguration, error) {
	return c.getDiscount(ctx, `SELECT `+discountColumns+` FROM discount_configurations
		WHERE code = ? AND deleted_at IS NULL`, code)
}

func (c *conn) getDiscount(ctx context.Context, query string, args ...any) (*fees.DiscountConfiguration, error) {
	d, err := scanDiscount(c.queryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (c *conn) ListDiscounts(ctx context.Context, filter fees.DiscountFilter) ([]fees.DiscountConfiguration, error) {
	var w where
	if filter.ActiveOnly {
		w.add("is_active = ?", true)
	}
	if !filter.IncludeDeleted {
		w.add("deleted_at IS NULL")
	}
	rows, err := c.query(ctx, `SELECT `+discountColumns+` FROM discount_configurations`+w.String()+
		` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fees.DiscountConfiguration
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// IncrementDiscountUsage checks the cap and bumps the counter in one
// statement, so two concurrent redemptions of the last slot cannot both
// succeed.
func (c *conn) IncrementDiscountUsage(ctx context.Context, id string) (bool, error) {
	res, err := c.exec(ctx, `UPDATE discount_configurations
		SET current_usage_count = current_usage_count + 1
		WHERE id = ? AND deleted_at IS NULL
		  AND (max_usage_count IS NULL OR current_usage_count < max_usage_count)`, id)
	if err != nil {
		return false, translate(err, "increment discount usage")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *conn) DecrementDiscountUsage(ctx context.Context, id string) error {
	_, err := c.exec(ctx, `UPDATE discount_configurations
		SET current_usage_count = CASE WHEN current_usage_count > 0 THEN current_usage_count - 1 ELSE 0 END
		WHERE id = ?`, id)
	return translate(err, "decrement discount usage")
}

func scanDiscount(r rowScanner) (*fees.DiscountConfiguration, error) {
	var (
		d                    fees.DiscountConfiguration
		code                 sql.NullString
		discountType         string
		percentage, amount   decimal.NullDecimal
		appliesTo            string
		hostelIDs, roomTypes []byte
		minStay, maxUsage    sql.NullInt64
		from, to             dateCol
		deletedAt            sql.NullTime
	)
	err := r.Scan(
		&d.ID, &d.Name, &code, &discountType, &percentage, &amount, &appliesTo, &d.Description,
		&hostelIDs, &roomTypes, &minStay, &d.NewStudentsOnly,
		&maxUsage, &d.CurrentUsageCount, &from, &to, &d.IsActive,
		&d.CreatedBy, &d.UpdatedBy, &d.CreatedAt, &d.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Code = strPtr(code)
	d.Type = fees.DiscountType(discountType)
	d.Percentage = decPtr(percentage)
	d.Amount = decPtr(amount)
	d.AppliesTo = fees.DiscountTarget(appliesTo)
	if d.HostelIDs, err = scanSet(hostelIDs); err != nil {
		return nil, err
	}
	if d.RoomTypes, err = scanSet(roomTypes); err != nil {
		return nil, err
	}
	d.MinStayMonths = intPtr(minStay)
	d.MaxUsageCount = intPtr(maxUsage)
	d.ValidFrom = from.Ptr()
	d.ValidTo = to.Ptr()
	d.DeletedAt = timePtr(deletedAt)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}
