package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/warp/fee-engine/fees"
)

// =============================================================================
// FEE STRUCTURES
// =============================================================================

const structureColumns = `id, hostel_id, room_type, fee_type, amount, security_deposit,
	includes_mess, mess_charge_monthly, utility_charge_type, electricity_charge, water_charge,
	effective_from, effective_to, is_active, version, superseded_by, supersedes, description,
	created_by, updated_by, created_at, updated_at, deleted_at`

func (c *conn) InsertStructure(ctx context.Context, s *fees.FeeStructure) error {
	_, err := c.exec(ctx, `INSERT INTO fee_structures (`+structureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.HostelID, s.RoomType, string(s.FeeType), decArg(s.Amount), decArg(s.SecurityDeposit),
		s.IncludesMess, decArg(s.MessChargeMonthly), string(s.UtilityChargeType),
		decArg(s.ElectricityCharge), decArg(s.WaterCharge),
		dateArg(s.EffectiveFrom), nullDateArg(s.EffectiveTo), s.IsActive, s.Version,
		nullStringArg(s.SupersededBy), nullStringArg(s.Supersedes), s.Description,
		s.CreatedBy, s.UpdatedBy, s.CreatedAt.UTC(), s.UpdatedAt.UTC(), nullTimeArg(s.DeletedAt),
	)
	return translate(err, "insert fee structure")
}

// UpdateStructure rewrites every mutable column. The tuple and version
// never change after insert.
func (c *conn) UpdateStructure(ctx context.Context, s *fees.FeeStructure) error {
	_, err := c.exec(ctx, `UPDATE fee_structures SET
			amount = ?, security_deposit = ?, includes_mess = ?, mess_charge_monthly = ?,
			utility_charge_type = ?, electricity_charge = ?, water_charge = ?,
			effective_from = ?, effective_to = ?, is_active = ?, superseded_by = ?,
			supersedes = ?, description = ?, updated_by = ?, updated_at = ?, deleted_at = ?
		WHERE id = ?`,
		decArg(s.Amount), decArg(s.SecurityDeposit), s.IncludesMess, decArg(s.MessChargeMonthly),
		string(s.UtilityChargeType), decArg(s.ElectricityCharge), decArg(s.WaterCharge),
		dateArg(s.EffectiveFrom), nullDateArg(s.EffectiveTo), s.IsActive, nullStringArg(s.SupersededBy),
		nullStringArg(s.Supersedes), s.Description, s.UpdatedBy, s.UpdatedAt.UTC(), nullTimeArg(s.DeletedAt),
		s.ID,
	)
	return translate(err, "update fee structure")
}

func (c *conn) GetStructure(ctx context.Context, id string) (*fees.FeeStructure, error) {
	row := c.queryRow(ctx, `SELECT `+structureColumns+` FROM fee_structures WHERE id = ?`, id)
	s, err := scanStructure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (c *conn) ListStructures(ctx context.Context, filter fees.StructureFilter) ([]fees.FeeStructure, error) {
	var w where
	if filter.HostelID != "" {
		w.add("hostel_id = ?", filter.HostelID)
	}
	if filter.RoomType != "" {
		w.add("room_type = ?", filter.RoomType)
	}
	if filter.FeeType != "" {
		w.add("fee_type = ?", string(filter.FeeType))
	}
	if filter.ActiveOnly {
		w.add("is_active = ?", true)
	}
	if !filter.IncludeDeleted {
		w.add("deleted_at IS NULL")
	}

	rows, err := c.query(ctx, `SELECT `+structureColumns+` FROM fee_structures`+w.String()+
		` ORDER BY hostel_id, room_type, fee_type, version DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fees.FeeStructure
	for rows.Next() {
		s, err := scanStructure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// MaxStructureVersion counts soft-deleted rows too, so a version number is
// never reused.
func (c *conn) MaxStructureVersion(ctx context.Context, t fees.Tuple) (int, error) {
	var version sql.NullInt64
	err := c.queryRow(ctx, `SELECT MAX(version) FROM fee_structures
		WHERE hostel_id = ? AND room_type = ? AND fee_type = ?`,
		t.HostelID, t.RoomType, string(t.FeeType),
	).Scan(&version)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

func (c *conn) CountCalculationsForStructure(ctx context.Context, structureID string) (int, error) {
	var n int
	err := c.queryRow(ctx, `SELECT COUNT(*) FROM fee_calculations WHERE fee_structure_id = ?`, structureID).Scan(&n)
	return n, err
}

func scanStructure(r rowScanner) (*fees.FeeStructure, error) {
	var (
		s            fees.FeeStructure
		feeType      string
		utilityType  string
		from, to     dateCol
		supersededBy sql.NullString
		supersedes   sql.NullString
		deletedAt    sql.NullTime
	)
	err := r.Scan(
		&s.ID, &s.HostelID, &s.RoomType, &feeType, &s.Amount, &s.SecurityDeposit,
		&s.IncludesMess, &s.MessChargeMonthly, &utilityType, &s.ElectricityCharge, &s.WaterCharge,
		&from, &to, &s.IsActive, &s.Version, &supersededBy, &supersedes, &s.Description,
		&s.CreatedBy, &s.UpdatedBy, &s.CreatedAt, &s.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	s.FeeType = fees.FeeType(feeType)
	s.UtilityChargeType = fees.UtilityChargeType(utilityType)
	s.EffectiveFrom = from.Date
	s.EffectiveTo = to.Ptr()
	s.SupersededBy = strPtr(supersededBy)
	s.Supersedes = strPtr(supersedes)
	s.DeletedAt = timePtr(deletedAt)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}
