package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiredDiscounts(t *testing.T) {
	// GIVEN: One discount that ended in March and one still running
	srv := newTestServer(t, Options{})
	for _, body := range []map[string]any{
		{"name": "Spring", "type": "fixed_amount", "amount": "500", "applies_to": "total", "valid_to": "2025-03-31"},
		{"name": "Always", "type": "fixed_amount", "amount": "300", "applies_to": "total"},
	} {
		require.Equal(t, http.StatusCreated, srv.do(http.MethodPost, "/api/discounts", body).Code)
	}

	scheduler := NewExpiryScheduler(srv.handler)
	scheduler.Now = func() time.Time { return time.Date(2025, time.April, 2, 3, 0, 0, 0, time.UTC) }

	// WHEN: Sweeping on April 2nd
	n, err := scheduler.SweepExpiredDiscounts(context.Background())

	// THEN: Only the expired one is deactivated
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active := decodeAs[[]DiscountDTO](t, srv.do(http.MethodGet, "/api/discounts?active_only=true", nil))
	require.Len(t, active, 1)
	assert.Equal(t, "Always", active[0].Name)

	// AND: The deactivation is audited as the system actor
	entries := decodeAs[[]AuditEntryDTO](t, srv.do(http.MethodGet, "/api/audit?actor_id=system", nil))
	assert.NotEmpty(t, entries)

	// AND: A second sweep has nothing to do
	n, err = scheduler.SweepExpiredDiscounts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStaleApprovals(t *testing.T) {
	// GIVEN: A pending approval submitted now
	srv := newTestServer(t, Options{RequireApproval: true})
	created := srv.createStructure(plainStructure("h1", 8000, "2025-01-01", ""))
	rec := srv.do(http.MethodPost, "/api/approvals", map[string]any{"structure_id": created.Structure.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	scheduler := NewExpiryScheduler(srv.handler)

	// WHEN / THEN: Not stale today
	stale, err := scheduler.StaleApprovals(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stale)

	// WHEN / THEN: Stale once the clock moves past StaleAfter
	scheduler.Now = func() time.Time { return time.Now().Add(scheduler.StaleAfter + time.Hour) }
	stale, err = scheduler.StaleApprovals(context.Background())
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, created.Structure.ID, stale[0].FeeStructureID)
}

func TestExpiryScheduler_StartStop(t *testing.T) {
	srv := newTestServer(t, Options{})
	scheduler := NewExpiryScheduler(srv.handler)
	scheduler.CheckInterval = time.Hour

	scheduler.Start()
	scheduler.Start() // no second goroutine
	scheduler.Stop()
	scheduler.Stop()

	disabled := NewExpiryScheduler(srv.handler)
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
}
