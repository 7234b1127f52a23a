package sqlstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/fee-engine/generic"
)

// translate maps driver constraint violations onto the generic error kinds
// so the API layer can answer 409/400 instead of 500.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintTrigger:
			return conflictFor(liteErr.Error())
		case sqlite3.ErrConstraintForeignKey:
			return generic.Validation("", "%s references a missing record", what)
		case sqlite3.ErrConstraintCheck:
			return generic.Validation("", "%s violates a table constraint", what)
		}
		return conflictFor(liteErr.Error())
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23P01":
			return conflictFor(pgErr.ConstraintName + " " + pgErr.TableName)
		case "23503":
			return generic.Validation("", "%s references a missing record", what)
		case "23514":
			return generic.Validation("", "%s violates constraint %s", what, pgErr.ConstraintName)
		case "40001", "40P01":
			return generic.Conflict("concurrent update on %s, retry", what)
		}
	}

	return fmt.Errorf("%s: %w", what, err)
}

func conflictFor(detail string) error {
	switch {
	case strings.Contains(detail, "no_overlap"):
		return generic.Conflict("an active fee structure already covers part of this date range")
	case strings.Contains(detail, "fee_approvals"):
		return generic.BusinessRule("fee structure already has a pending approval")
	case strings.Contains(detail, "charge_components"):
		return generic.Conflict("a component with this name already exists on the fee structure")
	case strings.Contains(detail, "discount_configurations"), strings.Contains(detail, "code"):
		return generic.Conflict("discount code already exists")
	case strings.Contains(detail, "fee_structures"):
		return generic.Conflict("fee structure version already exists, retry")
	}
	return generic.Conflict("%s", detail)
}
