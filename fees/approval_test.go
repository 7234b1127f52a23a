package fees_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

// recorder collects notifications; fail and explode simulate broken publishers.
type recorder struct {
	mu      sync.Mutex
	kinds   []fees.ApprovalEventKind
	fail    bool
	explode bool
}

func (r *recorder) Publish(_ context.Context, n fees.Notification) error {
	r.mu.Lock()
	r.kinds = append(r.kinds, n.Kind)
	r.mu.Unlock()
	if r.explode {
		panic("publisher exploded")
	}
	if r.fail {
		return errors.New("smtp down")
	}
	return nil
}

type approvalFixture struct {
	store    fees.TxStore
	catalog  *fees.StructureCatalog
	workflow *fees.ApprovalWorkflow
	rec      *recorder
}

func newApprovalFixture(t *testing.T, requireApproval bool) *approvalFixture {
	cat := &fees.StructureCatalog{RequireApproval: requireApproval}
	rec := &recorder{}
	return &approvalFixture{
		store:    newTestStore(t),
		catalog:  cat,
		workflow: &fees.ApprovalWorkflow{Structures: cat, Publisher: rec},
		rec:      rec,
	}
}

// transition runs fn in a transaction and publishes after commit.
func (f *approvalFixture) transition(fn func(tx fees.Store) (*fees.ApprovalResult, error)) (*fees.ApprovalResult, error) {
	var res *fees.ApprovalResult
	err := f.store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		res, err = fn(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	f.workflow.Publish(ctx, res)
	return res, nil
}

func (f *approvalFixture) submit(structureID string) (*fees.ApprovalResult, error) {
	return f.transition(func(tx fees.Store) (*fees.ApprovalResult, error) {
		return f.workflow.Submit(ctx, tx, testAudit, fees.SubmitParams{StructureID: structureID, Justification: "annual revision"})
	})
}

func (f *approvalFixture) approve(approvalID string, p fees.ApproveParams) (*fees.ApprovalResult, error) {
	return f.transition(func(tx fees.Store) (*fees.ApprovalResult, error) {
		return f.workflow.Approve(ctx, tx, testAudit, approvalID, p)
	})
}

func (f *approvalFixture) reject(approvalID string, p fees.RejectParams) (*fees.ApprovalResult, error) {
	return f.transition(func(tx fees.Store) (*fees.ApprovalResult, error) {
		return f.workflow.Reject(ctx, tx, testAudit, approvalID, p)
	})
}

func (f *approvalFixture) revise(approvalID string, p fees.RevisionParams) (*fees.ApprovalResult, error) {
	return f.transition(func(tx fees.Store) (*fees.ApprovalResult, error) {
		return f.workflow.RequestRevision(ctx, tx, testAudit, approvalID, p)
	})
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_OnePendingPerStructure(t *testing.T) {
	// GIVEN: A structure awaiting approval
	f := newApprovalFixture(t, true)
	s := mustCreateStructure(t, f.store, f.catalog, structureParams("2025-01-01", ""))

	// WHEN: Submitting twice
	first, err := f.submit(s.ID)
	require.NoError(t, err)
	_, err = f.submit(s.ID)

	// THEN: The second submission is refused and one approval is pending
	assertKind(t, generic.ErrBusinessRule, err)
	pending, err := f.workflow.ListPending(ctx, f.store)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.Approval.ID, pending[0].ID)
	assert.Equal(t, "annual revision", pending[0].Justification)
	assertMoney(t, "8000", pending[0].RequestedAmount)
	assert.Nil(t, pending[0].PreviousAmount)

	// AND: Only the successful submission was published
	assert.Equal(t, []fees.ApprovalEventKind{fees.EventSubmitted}, f.rec.kinds)

	_, err = f.submit("missing")
	assertKind(t, generic.ErrNotFound, err)
}

// =============================================================================
// APPROVE
// =============================================================================

func TestApprove_ActivatesStructure(t *testing.T) {
	// GIVEN: An inactive structure with a pending approval
	f := newApprovalFixture(t, true)
	s := mustCreateStructure(t, f.store, f.catalog, structureParams("2025-01-01", ""))
	sub, err := f.submit(s.ID)
	require.NoError(t, err)

	// WHEN: Approving with a later start date
	res, err := f.approve(sub.Approval.ID, fees.ApproveParams{Note: "ok", EffectiveFrom: datePtr("2025-02-01")})

	// THEN: The structure is live from February
	require.NoError(t, err)
	assert.Equal(t, fees.ApprovalApproved, res.Approval.Status)
	require.NotNil(t, res.Approval.ResolvedBy)
	assert.Equal(t, "admin-1", *res.Approval.ResolvedBy)

	current, err := f.catalog.GetCurrent(ctx, f.store, "h1", "single", fees.FeeMonthly, date("2025-02-01"))
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, s.ID, current.ID)
	current, err = f.catalog.GetCurrent(ctx, f.store, "h1", "single", fees.FeeMonthly, date("2025-01-15"))
	require.NoError(t, err)
	assert.Nil(t, current)

	// AND: A resolved approval cannot be approved again
	_, err = f.approve(sub.Approval.ID, fees.ApproveParams{})
	assertKind(t, generic.ErrBusinessRule, err)
	assert.Equal(t, []fees.ApprovalEventKind{fees.EventSubmitted, fees.EventApproved}, f.rec.kinds)
}

func TestApprove_NewVersionSupersedes(t *testing.T) {
	// GIVEN: An approved January structure and a July revision awaiting approval
	f := newApprovalFixture(t, true)
	v1 := mustCreateStructure(t, f.store, f.catalog, structureParams("2025-01-01", ""))
	sub, err := f.submit(v1.ID)
	require.NoError(t, err)
	_, err = f.approve(sub.Approval.ID, fees.ApproveParams{})
	require.NoError(t, err)

	var v2 *fees.FeeStructure
	require.NoError(t, f.store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		v2, err = f.catalog.Amend(ctx, tx, testAudit, v1.ID, fees.StructureChanges{
			Amount:        moneyPtr("8800"),
			EffectiveFrom: datePtr("2025-07-01"),
		}, true)
		return err
	}))
	assert.False(t, v2.IsActive)

	// WHEN: Submitting the revision
	sub, err = f.submit(v2.ID)

	// THEN: The previous amount is the one currently priced
	require.NoError(t, err)
	require.NotNil(t, sub.Approval.PreviousAmount)
	assertMoney(t, "8000", *sub.Approval.PreviousAmount)
	assertMoney(t, "8800", sub.Approval.RequestedAmount)

	// WHEN: Approving it
	_, err = f.approve(sub.Approval.ID, fees.ApproveParams{})
	require.NoError(t, err)

	// THEN: Version 1 ends June 30th and links to version 2
	old, err := f.catalog.Get(ctx, f.store, v1.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Equal(t, "2025-06-30", old.EffectiveTo.String())
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, v2.ID, *old.SupersededBy)
}

func TestApprove_NewVersionOfClosedRange(t *testing.T) {
	// GIVEN: An approved 2025 structure with a fixed end date
	f := newApprovalFixture(t, true)
	v1 := mustCreateStructure(t, f.store, f.catalog, structureParams("2025-01-01", "2025-12-31"))
	sub, err := f.submit(v1.ID)
	require.NoError(t, err)
	_, err = f.approve(sub.Approval.ID, fees.ApproveParams{})
	require.NoError(t, err)

	// AND: A July revision awaiting approval
	var v2 *fees.FeeStructure
	require.NoError(t, f.store.WithTx(ctx, func(tx fees.Store) error {
		var err error
		v2, err = f.catalog.Amend(ctx, tx, testAudit, v1.ID, fees.StructureChanges{
			Amount:        moneyPtr("8800"),
			EffectiveFrom: datePtr("2025-07-01"),
		}, true)
		return err
	}))
	require.NotNil(t, v2.Supersedes)
	assert.Equal(t, v1.ID, *v2.Supersedes)
	sub, err = f.submit(v2.ID)
	require.NoError(t, err)

	// WHEN
	res, err := f.approve(sub.Approval.ID, fees.ApproveParams{})

	// THEN: Version 1 is end-dated, deactivated and linked to version 2
	require.NoError(t, err)
	assert.True(t, res.Structure.IsActive)

	old, err := f.catalog.Get(ctx, f.store, v1.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Equal(t, "2025-06-30", old.EffectiveTo.String())
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, v2.ID, *old.SupersededBy)

	current, err := f.catalog.GetCurrent(ctx, f.store, "h1", "single", fees.FeeMonthly, date("2025-08-01"))
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, v2.ID, current.ID)
}

func TestApprove_OverlapWithClosedRangeRollsBack(t *testing.T) {
	// GIVEN: A structure awaiting approval, then a live closed range
	// covering part of it
	f := newApprovalFixture(t, false)
	p := structureParams("2025-07-01", "")
	p.RequireApproval = boolPtr(true)
	pendingStructure := mustCreateStructure(t, f.store, f.catalog, p)
	sub, err := f.submit(pendingStructure.ID)
	require.NoError(t, err)
	mustCreateStructure(t, f.store, f.catalog, structureParams("2025-01-01", "2025-12-31"))

	// WHEN
	_, err = f.approve(sub.Approval.ID, fees.ApproveParams{})

	// THEN: Conflict, and the approval is still pending
	assertKind(t, generic.ErrConflict, err)
	a, err := f.workflow.Get(ctx, f.store, sub.Approval.ID)
	require.NoError(t, err)
	assert.Equal(t, fees.ApprovalPending, a.Status)
}

// =============================================================================
// REJECT & REVISE
// =============================================================================

func TestReject(t *testing.T) {
	tests := []struct {
		name         string
		resubmission bool
		stillActive  bool
	}{
		{"final rejection deactivates", false, false},
		{"resubmission keeps the structure", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: A live structure submitted for review
			f := newApprovalFixture(t, false)
			s := mustCreateStructure(t, f.store, f.catalog, structureParams("2025-01-01", ""))
			sub, err := f.submit(s.ID)
			require.NoError(t, err)

			// WHEN
			res, err := f.reject(sub.Approval.ID, fees.RejectParams{Reason: "too expensive", RequiresResubmission: tt.resubmission})

			// THEN
			require.NoError(t, err)
			assert.Equal(t, fees.ApprovalRejected, res.Approval.Status)
			assert.Equal(t, "too expensive", res.Approval.RejectionReason)
			got, err := f.catalog.Get(ctx, f.store, s.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.stillActive, got.IsActive)

			// AND: A new cycle can start after a rejection
			_, err = f.submit(s.ID)
			assert.NoError(t, err)
		})
	}
}

func TestReject_RequiresReason(t *testing.T) {
	f := newApprovalFixture(t, true)
	s := mustCreateStructure(t, f.store, f.catalog, structureParams("2025-01-01", ""))
	sub, err := f.submit(s.ID)
	require.NoError(t, err)

	_, err = f.reject(sub.Approval.ID, fees.RejectParams{Reason: "   "})

	assertField(t, err, "reason")
}

func TestRequestRevision(t *testing.T) {
	// GIVEN: A pending approval
	f := newApprovalFixture(t, true)
	s := mustCreateStructure(t, f.store, f.catalog, structureParams("2025-01-01", ""))
	sub, err := f.submit(s.ID)
	require.NoError(t, err)

	// WHEN / THEN: An empty note is refused
	_, err = f.revise(sub.Approval.ID, fees.RevisionParams{})
	assertField(t, err, "note")

	// WHEN: Asking for a revision
	res, err := f.revise(sub.Approval.ID, fees.RevisionParams{Note: "lower the deposit", RequestedChanges: []string{"security_deposit"}})

	// THEN: Still pending with the note attached
	require.NoError(t, err)
	assert.Equal(t, fees.ApprovalPending, res.Approval.Status)
	stored, err := f.workflow.Get(ctx, f.store, sub.Approval.ID)
	require.NoError(t, err)
	require.Len(t, stored.RevisionNotes, 1)
	assert.Equal(t, "lower the deposit", stored.RevisionNotes[0].Note)
	assert.Equal(t, []string{"security_deposit"}, stored.RevisionNotes[0].RequestedChanges)

	// AND: It can still be approved, and the timeline shows every step
	_, err = f.approve(sub.Approval.ID, fees.ApproveParams{})
	require.NoError(t, err)

	events, err := f.workflow.Timeline(ctx, f.store, s.ID)
	require.NoError(t, err)
	kinds := make([]fees.ApprovalEventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	want := []fees.ApprovalEventKind{fees.EventSubmitted, fees.EventRevisionRequested, fees.EventApproved}
	assert.Equal(t, want, kinds)
	assert.Equal(t, want, f.rec.kinds)

	_, err = f.workflow.Timeline(ctx, f.store, "missing")
	assertKind(t, generic.ErrNotFound, err)
}

// =============================================================================
// PUBLISH
// =============================================================================

func TestPublish_FailuresDoNotUndoTransitions(t *testing.T) {
	for _, rec := range []*recorder{{fail: true}, {explode: true}} {
		f := newApprovalFixture(t, true)
		f.workflow.Publisher = rec
		s := mustCreateStructure(t, f.store, f.catalog, structureParams("2025-01-01", ""))

		var sub *fees.ApprovalResult
		assert.NotPanics(t, func() {
			var err error
			sub, err = f.submit(s.ID)
			require.NoError(t, err)
		})

		a, err := f.workflow.Get(ctx, f.store, sub.Approval.ID)
		require.NoError(t, err)
		assert.Equal(t, fees.ApprovalPending, a.Status)
		assert.Len(t, rec.kinds, 1)
	}
}

func TestPublish_NilPublisher(t *testing.T) {
	w := &fees.ApprovalWorkflow{}
	assert.NotPanics(t, func() {
		w.Publish(ctx, &fees.ApprovalResult{})
		w.Publish(ctx, nil)
	})
}
