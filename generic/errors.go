/*
errors.go - Centralized error kinds for the fee engine

PURPOSE:
  Every failure surfaced to a caller belongs to exactly one kind. Callers
  branch on the kind with errors.Is and read the structured details with
  errors.As; nothing is retried automatically.

ERROR KINDS:
  1. Validation    - out-of-range amount/deposit/tax, bad enum, bad date range
  2. Conflict      - overlapping fee structure, duplicate name or code
  3. NotFound      - unknown structure/component/discount/calculation/approval
  4. BusinessRule  - approval not pending, usage cap reached, invalid windows

USAGE:
  if amount.LessThan(min) {
      return generic.Validation("amount", "amount must be between %s and %s", min, max)
  }

  if errors.Is(err, generic.ErrConflict) {
      // 409
  }

SEE ALSO:
  - api/handlers.go: Maps kinds to HTTP status codes
  - store/sqlstore/errors.go: Translates constraint violations to ErrConflict
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when caller input is malformed or out of range.
	ErrValidation = errors.New("validation error")

	// ErrConflict is returned when a write would violate a uniqueness or
	// temporal-overlap invariant.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrBusinessRule is returned when input is well-formed but the current
	// state forbids the operation.
	ErrBusinessRule = errors.New("business rule violation")
)

// =============================================================================
// STRUCTURED ERROR - Carries kind plus context
// =============================================================================

// Error is the structured error every domain operation returns.
type Error struct {
	Kind    error  // one of the sentinels above
	Field   string // offending input field, if any
	Message string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func Validation(field, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFound formats "<resource> <id> not found".
func NotFound(resource, id string) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

func BusinessRule(format string, args ...any) error {
	return &Error{Kind: ErrBusinessRule, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can fix the error by changing input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrBusinessRule)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Message returns the human-readable part of a structured error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
