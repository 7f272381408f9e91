package wallet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(statuses ...ApprovalStatus) []ApprovalRecord {
	out := make([]ApprovalRecord, len(statuses))
	for i, s := range statuses {
		out[i] = ApprovalRecord{
			ID:            ApprovalID(string(rune('a' + i))),
			TransactionID: "tx-1",
			ApproverID:    UserID(string(rune('p' + i))),
			Status:        s,
		}
	}
	return out
}

func TestAggregate_Counts(t *testing.T) {
	p := Aggregate(records(ApprovalApproved, ApprovalPending, ApprovalApproved), 3)

	assert.Equal(t, 2, p.Approved)
	assert.Equal(t, 0, p.Rejected)
	assert.Equal(t, 1, p.Pending)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 1, p.Remaining())
	assert.False(t, p.IsComplete)
	assert.False(t, p.IsRejected)
	assert.Equal(t, []UserID{"p", "r"}, p.ApprovedBy)
	assert.Equal(t, []UserID{"q"}, p.PendingFor)
}

func TestAggregate_CompleteAtThreshold(t *testing.T) {
	p := Aggregate(records(ApprovalApproved, ApprovalApproved, ApprovalApproved), 3)

	assert.True(t, p.IsComplete)
	assert.Equal(t, 0, p.Remaining())
}

func TestAggregate_SingleRejectionWins(t *testing.T) {
	// GIVEN: Every record but one approved
	// WHEN: The last one rejected
	// THEN: Rejected, even though the approved count alone would not matter
	p := Aggregate(records(ApprovalApproved, ApprovalApproved, ApprovalRejected), 2)

	assert.True(t, p.IsComplete)
	assert.True(t, p.IsRejected)
	assert.Equal(t, []UserID{"r"}, p.RejectedBy)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	a := Aggregate(records(ApprovalApproved, ApprovalPending, ApprovalRejected), 3)
	b := Aggregate(records(ApprovalRejected, ApprovalApproved, ApprovalPending), 3)

	assert.Equal(t, a.Approved, b.Approved)
	assert.Equal(t, a.Rejected, b.Rejected)
	assert.Equal(t, a.Pending, b.Pending)
	assert.Equal(t, a.IsRejected, b.IsRejected)
}

func TestApprovalSet_DecideOnce(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	set, err := NewApprovalSet("tx-1", []UserID{"u-1", "u-2", "u-3"}, now)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())

	rec, err := set.Decide("u-2", ActionApprove, "ok", now)
	require.NoError(t, err)
	assert.Equal(t, ApprovalApproved, rec.Status)
	require.NotNil(t, rec.DecidedAt)

	// Second decision by the same approver
	_, err = set.Decide("u-2", ActionReject, "changed my mind", now)
	var decided *AlreadyDecidedError
	require.ErrorAs(t, err, &decided)
	assert.Equal(t, ApprovalApproved, decided.Status)

	// Approver without a record
	_, err = set.Decide("u-9", ActionApprove, "", now)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, set.Progress(3).Approved)
}

func TestApprovalSet_RejectsDuplicateApprovers(t *testing.T) {
	_, err := NewApprovalSet("tx-1", []UserID{"u-1", "u-1"}, time.Now())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLoadApprovalSet_ForeignRecord(t *testing.T) {
	recs := records(ApprovalPending)
	recs[0].TransactionID = "tx-other"

	_, err := LoadApprovalSet("tx-1", recs)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestApprovalSet_RecordsIsACopy(t *testing.T) {
	set, err := NewApprovalSet("tx-1", []UserID{"u-1"}, time.Now())
	require.NoError(t, err)

	recs := set.Records()
	recs[0].Status = ApprovalRejected

	r, ok := set.Lookup("u-1")
	require.True(t, ok)
	assert.Equal(t, ApprovalPending, r.Status)
}
