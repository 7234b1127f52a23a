/*
store.go - Persistence interfaces for the fee engine

PURPOSE:
  Defines the boundary between the pricing logic and the database. Every
  catalog operation receives a Store that is already bound to the caller's
  transaction, so "check overlap, then write" sequences, calculation inserts
  and usage-counter updates all commit or roll back together.

KEY INTERFACES:
  StructureStore:   fee_structures
  ComponentStore:   charge_components, charge_rules
  DiscountStore:    discount_configurations (atomic usage counter)
  CalculationStore: fee_calculations (insert + approval fields only)
  ApprovalStore:    fee_approvals, fee_approval_events
  generic.AuditLog: audit_log

LOOKUP CONTRACT:
  Get* methods return (nil, nil) for a missing row. Catalogs turn that into
  generic.NotFound where the caller asked for a specific id.

TRANSACTIONS:
  TxStore.WithTx runs fn inside one database transaction and rolls back on
  any error:

    err := store.WithTx(ctx, func(tx fees.Store) error {
        _, err := catalog.Create(ctx, tx, audit, params)
        return err
    })

SEE ALSO:
  - store/sqlstore: SQLite and PostgreSQL implementation
*/
package fees

import (
	"context"
	"time"

	"github.com/warp/fee-engine/generic"
)

type StructureFilter struct {
	HostelID       string
	RoomType       string
	FeeType        FeeType
	ActiveOnly     bool
	IncludeDeleted bool
}

type StructureStore interface {
	InsertStructure(ctx context.Context, s *FeeStructure) error
	UpdateStructure(ctx context.Context, s *FeeStructure) error
	GetStructure(ctx context.Context, id string) (*FeeStructure, error)
	// ListStructures orders by version descending.
	ListStructures(ctx context.Context, filter StructureFilter) ([]FeeStructure, error)
	MaxStructureVersion(ctx context.Context, tuple Tuple) (int, error)
	CountCalculationsForStructure(ctx context.Context, structureID string) (int, error)
}

type ComponentStore interface {
	InsertComponent(ctx context.Context, c *ChargeComponent) error
	UpdateComponent(ctx context.Context, c *ChargeComponent) error
	GetComponent(ctx context.Context, id string) (*ChargeComponent, error)
	// ListComponents orders by display order, then name.
	ListComponents(ctx context.Context, structureID string, includeDeleted bool) ([]ChargeComponent, error)

	InsertRule(ctx context.Context, r *ChargeRule) error
	UpdateRule(ctx context.Context, r *ChargeRule) error
	GetRule(ctx context.Context, id string) (*ChargeRule, error)
	ListRules(ctx context.Context, componentID string) ([]ChargeRule, error)
	ListRulesForStructure(ctx context.Context, structureID string) ([]ChargeRule, error)
}

type DiscountFilter struct {
	ActiveOnly     bool
	IncludeDeleted bool
}

type DiscountStore interface {
	InsertDiscount(ctx context.Context, d *DiscountConfiguration) error
	UpdateDiscount(ctx context.Context, d *DiscountConfiguration) error
	GetDiscount(ctx context.Context, id string) (*DiscountConfiguration, error)
	GetDiscountByCode(ctx context.Context, code string) (*DiscountConfiguration, error)
	// ListDiscounts orders by creation time, then id.
	ListDiscounts(ctx context.Context, filter DiscountFilter) ([]DiscountConfiguration, error)

	// IncrementDiscountUsage bumps the counter in a single conditional
	// statement; it reports false when the cap is already reached.
	IncrementDiscountUsage(ctx context.Context, id string) (bool, error)
	// DecrementDiscountUsage lowers the counter, never below zero.
	DecrementDiscountUsage(ctx context.Context, id string) error
}

type CalculationFilter struct {
	HostelID       string
	FeeStructureID string
	StudentID      string
	BookingID      string
	Limit          int
}

type CalculationStore interface {
	InsertCalculation(ctx context.Context, c *FeeCalculation) error
	GetCalculation(ctx context.Context, id string) (*FeeCalculation, error)
	ListCalculations(ctx context.Context, filter CalculationFilter) ([]FeeCalculation, error)
	// ApproveCalculation sets the approval fields only if not yet approved.
	ApproveCalculation(ctx context.Context, id, approvedBy string, at time.Time) (bool, error)
}

type ApprovalFilter struct {
	FeeStructureID string
	Status         ApprovalStatus
}

type ApprovalStore interface {
	InsertApproval(ctx context.Context, a *FeeApproval) error
	UpdateApproval(ctx context.Context, a *FeeApproval) error
	GetApproval(ctx context.Context, id string) (*FeeApproval, error)
	PendingApprovalFor(ctx context.Context, structureID string) (*FeeApproval, error)
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]FeeApproval, error)

	AppendApprovalEvent(ctx context.Context, e *ApprovalEvent) error
	// ListApprovalEvents orders chronologically (occurred_at, seq).
	ListApprovalEvents(ctx context.Context, structureID string) ([]ApprovalEvent, error)
}

// Store is everything an operation may touch inside one transaction.
type Store interface {
	StructureStore
	ComponentStore
	DiscountStore
	CalculationStore
	ApprovalStore
	generic.AuditLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
