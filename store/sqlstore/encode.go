package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// ARGUMENTS - Go values to column values
// =============================================================================

func dateArg(d generic.Date) string { return d.String() }

func nullDateArg(d *generic.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func decArg(d decimal.Decimal) string { return d.String() }

func nullDecArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullStringArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullIntArg(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func jsonArg(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(b), nil
}

func setArg(s generic.StringSet) string {
	b, _ := json.Marshal(s.Values())
	return string(b)
}

// =============================================================================
// SCANNERS - Column values to Go values
// =============================================================================

// dateCol scans a DATE column. SQLite hands back time.Time for DATE
// columns written as 'YYYY-MM-DD', PostgreSQL does the same through pgx;
// strings are accepted for hand-written rows.
type dateCol struct {
	Date  generic.Date
	Valid bool
}

func (c *dateCol) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		c.Date, c.Valid = generic.Date{}, false
		return nil
	case time.Time:
		c.Date, c.Valid = generic.DateOf(v), true
		return nil
	case string:
		return c.parse(v)
	case []byte:
		return c.parse(string(v))
	}
	return fmt.Errorf("cannot scan %T into date", value)
}

func (c *dateCol) parse(s string) error {
	d, err := generic.ParseDate(s)
	if err != nil {
		return err
	}
	c.Date, c.Valid = d, true
	return nil
}

func (c dateCol) Ptr() *generic.Date {
	if !c.Valid {
		return nil
	}
	d := c.Date
	return &d
}

func decPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

func strPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

func scanSet(b []byte) (generic.StringSet, error) {
	var set generic.StringSet
	if len(b) == 0 {
		return generic.NewStringSet(), nil
	}
	if err := json.Unmarshal(b, &set); err != nil {
		return nil, fmt.Errorf("decode set column: %w", err)
	}
	return set, nil
}

func scanJSON(b []byte, into any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, into); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
