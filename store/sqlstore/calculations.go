package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/fees"
)

// =============================================================================
// FEE CALCULATIONS - Insert once, only the approval fields change later
// =============================================================================

const calculationColumns = `id, fee_structure_id, hostel_id, room_type, fee_type, calculation_type,
	student_id, booking_id, move_in_date, move_out_date, duration_months,
	monthly_rent, rent_total, security_deposit, mess_charges, utility_charges, other_charges, subtotal,
	discount_id, discount_code, discount_applied, tax_percentage, tax_amount, total_payable,
	first_month_total, monthly_recurring,
	is_prorated, prorated_days, proration_factor, proration_adjustment,
	payment_schedule, breakdown, is_approved, approved_by, approved_at, created_by, created_at`

func (c *conn) InsertCalculation(ctx context.Context, calc *fees.FeeCalculation) error {
	schedule, err := jsonArg(calc.PaymentSchedule)
	if err != nil {
		return err
	}
	breakdown, err := jsonArg(calc.Breakdown)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, `INSERT INTO fee_calculations (`+calculationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		calc.ID, calc.FeeStructureID, calc.HostelID, calc.RoomType, string(calc.FeeType), string(calc.CalculationType),
		nullStringArg(calc.StudentID), nullStringArg(calc.BookingID),
		dateArg(calc.MoveInDate), dateArg(calc.MoveOutDate), calc.DurationMonths,
		decArg(calc.MonthlyRent), decArg(calc.RentTotal), decArg(calc.SecurityDeposit),
		decArg(calc.MessCharges), decArg(calc.UtilityCharges), decArg(calc.OtherCharges), decArg(calc.Subtotal),
		nullStringArg(calc.DiscountID), nullStringArg(calc.DiscountCode), decArg(calc.DiscountApplied),
		decArg(calc.TaxPercentage), decArg(calc.TaxAmount), decArg(calc.TotalPayable),
		decArg(calc.FirstMonthTotal), decArg(calc.MonthlyRecurring),
		calc.IsProrated, nullIntArg(calc.ProratedDays), nullDecArg(calc.ProrationFactor), decArg(calc.ProrationAdjustment),
		schedule, breakdown, calc.IsApproved, nullStringArg(calc.ApprovedBy), nullTimeArg(calc.ApprovedAt),
		calc.CreatedBy, calc.CreatedAt.UTC(),
	)
	return translate(err, "insert fee calculation")
}

func (c *conn) GetCalculation(ctx context.Context, id string) (*fees.FeeCalculation, error) {
	row := c.queryRow(ctx, `SELECT `+calculationColumns+` FROM fee_calculations WHERE id = ?`, id)
	calc, err := scanCalculation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return calc, nil
}

// ListCalculations returns newest first.
func (c *conn) ListCalculations(ctx context.Context, filter fees.CalculationFilter) ([]fees.FeeCalculation, error) {
	var w where
	if filter.HostelID != "" {
		w.add("hostel_id = ?", filter.HostelID)
	}
	if filter.FeeStructureID != "" {
		w.add("fee_structure_id = ?", filter.FeeStructureID)
	}
	if filter.StudentID != "" {
		w.add("student_id = ?", filter.StudentID)
	}
	if filter.BookingID != "" {
		w.add("booking_id = ?", filter.BookingID)
	}
	query := `SELECT ` + calculationColumns + ` FROM fee_calculations` + w.String() +
		` ORDER BY created_at DESC, id`
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

	var out []fees.FeeCalculation
	for rows.Next() {
		calc, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *calc)
	}
	return out, rows.Err()
}

func (c *conn) ApproveCalculation(ctx context.Context, id, approvedBy string, at time.Time) (bool, error) {
	res, err := c.exec(ctx, `UPDATE fee_calculations
		SET is_approved = ?, approved_by = ?, approved_at = ?
		WHERE id = ? AND is_approved = ?`,
		true, approvedBy, at.UTC(), id, false)
	if err != nil {
		return false, translate(err, "approve fee calculation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanCalculation(r rowScanner) (*fees.FeeCalculation, error) {
	var (
		calc                 fees.FeeCalculation
		feeType, calcType    string
		studentID, bookingID sql.NullString
		moveIn, moveOut      dateCol
		discountID, code     sql.NullString
		proratedDays         sql.NullInt64
		factor               decimal.NullDecimal
		schedule, breakdown  []byte
		approvedBy           sql.NullString
		approvedAt           sql.NullTime
	)
	err := r.Scan(
		&calc.ID, &calc.FeeStructureID, &calc.HostelID, &calc.RoomType, &feeType, &calcType,
		&studentID, &bookingID, &moveIn, &moveOut, &calc.DurationMonths,
		&calc.MonthlyRent, &calc.RentTotal, &calc.SecurityDeposit,
		&calc.MessCharges, &calc.UtilityCharges, &calc.OtherCharges, &calc.Subtotal,
		&discountID, &code, &calc.DiscountApplied,
		&calc.TaxPercentage, &calc.TaxAmount, &calc.TotalPayable,
		&calc.FirstMonthTotal, &calc.MonthlyRecurring,
		&calc.IsProrated, &proratedDays, &factor, &calc.ProrationAdjustment,
		&schedule, &breakdown, &calc.IsApproved, &approvedBy, &approvedAt,
		&calc.CreatedBy, &calc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	calc.FeeType = fees.FeeType(feeType)
	calc.CalculationType = fees.CalculationType(calcType)
	calc.StudentID = strPtr(studentID)
	calc.BookingID = strPtr(bookingID)
	calc.MoveInDate = moveIn.Date
	calc.MoveOutDate = moveOut.Date
	calc.DiscountID = strPtr(discountID)
	calc.DiscountCode = strPtr(code)
	calc.ProratedDays = intPtr(proratedDays)
	calc.ProrationFactor = decPtr(factor)
	if err := scanJSON(schedule, &calc.PaymentSchedule); err != nil {
		return nil, err
	}
	if err := scanJSON(breakdown, &calc.Breakdown); err != nil {
		return nil, err
	}
	calc.ApprovedBy = strPtr(approvedBy)
	calc.ApprovedAt = timePtr(approvedAt)
	calc.CreatedAt = calc.CreatedAt.UTC()
	return &calc, nil
}
