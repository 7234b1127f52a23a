/*
scheduler.go - Periodic housekeeping for discounts and approvals

PURPOSE:
  Periodically deactivates discounts whose validity window has ended and
  warns about approvals that have been pending for too long.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Expired discounts are already ignored by eligibility checks; the sweep
    flips is_active so listings and admin screens agree with pricing
  - Each deactivation is its own transaction, so one bad row does not
    block the rest
  - Acts as the "system" actor in the audit log

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - StaleAfter:    Pending approvals older than this are logged (default: 7 days)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewExpiryScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - fees/discount.go: DiscountCatalog.Update
  - fees/approval.go: ApprovalWorkflow.ListPending
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

// ExpiryScheduler handles automated discount expiry.
type ExpiryScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	StaleAfter    time.Duration
	Enabled       bool

	// Now is the clock; tests replace it.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpiryScheduler creates a new scheduler.
func NewExpiryScheduler(h *Handler) *ExpiryScheduler {
	return &ExpiryScheduler{
		Handler:       h,
		CheckInterval: 1 * time.Hour,
		StaleAfter:    7 * 24 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

func (es *ExpiryScheduler) logger() *zap.Logger {
	return es.Handler.Logger.Named("scheduler")
}

// Start begins the scheduler.
func (es *ExpiryScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.logger().Info("scheduler disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.stop = make(chan struct{})
	es.wg.Add(1)

	go es.run()

	es.logger().Info("scheduler started", zap.Duration("interval", es.CheckInterval))
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		es.ticker = nil
		es.logger().Info("scheduler stopped")
	}
}

func (es *ExpiryScheduler) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.checkAndProcess()

	for {
		select {
		case <-es.ticker.C:
			es.checkAndProcess()
		case <-es.stop:
			return
		}
	}
}

func (es *ExpiryScheduler) checkAndProcess() {
	ctx := context.Background()
	expired, err := es.SweepExpiredDiscounts(ctx)
	if err != nil {
		es.logger().Error("discount sweep failed", zap.Error(err))
	}
	stale, err := es.StaleApprovals(ctx)
	if err != nil {
		es.logger().Error("approval check failed", zap.Error(err))
	}
	for _, a := range stale {
		es.logger().Warn("fee approval pending too long",
			zap.String("approval_id", a.ID),
			zap.String("fee_structure_id", a.FeeStructureID),
			zap.Time("submitted_at", a.SubmittedAt))
	}
	if expired > 0 || len(stale) > 0 {
		es.logger().Info("sweep completed", zap.Int("expired_discounts", expired), zap.Int("stale_approvals", len(stale)))
	}
}

// SweepExpiredDiscounts deactivates active discounts whose ValidTo is
// before today and returns how many it changed.
func (es *ExpiryScheduler) SweepExpiredDiscounts(ctx context.Context) (int, error) {
	h := es.Handler
	today := generic.DateOf(es.Now().UTC())

	active, err := h.Discounts.List(ctx, h.Store, fees.DiscountFilter{ActiveOnly: true})
	if err != nil {
		return 0, err
	}

	audit := generic.AuditContext{ActorID: generic.SystemActor, At: es.Now().UTC()}
	inactive := false
	count := 0
	for _, d := range active {
		if d.ValidTo == nil || !d.ValidTo.Before(today) {
			continue
		}
		err := h.Store.WithTx(ctx, func(tx fees.Store) error {
			_, err := h.Discounts.Update(ctx, tx, audit, d.ID, fees.DiscountChanges{IsActive: &inactive})
			return err
		})
		if err != nil {
			es.logger().Error("deactivate expired discount",
				zap.String("discount_id", d.ID),
				zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

// StaleApprovals returns pending approvals submitted more than StaleAfter
// ago.
func (es *ExpiryScheduler) StaleApprovals(ctx context.Context) ([]fees.FeeApproval, error) {
	h := es.Handler
	pending, err := h.Approvals.ListPending(ctx, h.Store)
	if err != nil {
		return nil, err
	}
	cutoff := es.Now().Add(-es.StaleAfter)
	var stale []fees.FeeApproval
	for _, a := range pending {
		if a.SubmittedAt.Before(cutoff) {
			stale = append(stale, a)
		}
	}
	return stale, nil
}
