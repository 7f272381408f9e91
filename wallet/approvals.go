package wallet

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// APPROVAL SET - Fixed-size, indexed by approver
// =============================================================================

// ApprovalSet is the collection of approval records owned by one transaction.
// It is sized once, when the transaction is created, and never resized.
type ApprovalSet struct {
	transactionID TransactionID
	records       []ApprovalRecord
	byApprover    map[UserID]int
}

// NewApprovalSet allocates one PENDING record per approver.
// Duplicate approvers violate the (transaction, approver) uniqueness invariant.
func NewApprovalSet(id TransactionID, approvers []UserID, now time.Time) (*ApprovalSet, error) {
	records := make([]ApprovalRecord, len(approvers))
	for i, approver := range approvers {
		records[i] = ApprovalRecord{
			ID:            ApprovalID(uuid.NewString()),
			TransactionID: id,
			ApproverID:    approver,
			Status:        ApprovalPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	return LoadApprovalSet(id, records)
}

// LoadApprovalSet indexes records read back from a store.
func LoadApprovalSet(id TransactionID, records []ApprovalRecord) (*ApprovalSet, error) {
	set := &ApprovalSet{
		transactionID: id,
		records:       records,
		byApprover:    make(map[UserID]int, len(records)),
	}
	for i, r := range records {
		if r.TransactionID != id {
			return nil, &ValidationError{Field: "approval", Message: "record belongs to another transaction"}
		}
		if _, dup := set.byApprover[r.ApproverID]; dup {
			return nil, &ValidationError{Field: "approver", Message: "duplicate approver " + string(r.ApproverID)}
		}
		set.byApprover[r.ApproverID] = i
	}
	return set, nil
}

func (s *ApprovalSet) TransactionID() TransactionID { return s.transactionID }

func (s *ApprovalSet) Len() int { return len(s.records) }

// Records returns a copy of the records in creation order.
func (s *ApprovalSet) Records() []ApprovalRecord {
	out := make([]ApprovalRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Approvers lists every approver holding a record.
func (s *ApprovalSet) Approvers() []UserID {
	out := make([]UserID, len(s.records))
	for i, r := range s.records {
		out[i] = r.ApproverID
	}
	return out
}

// Lookup returns the approver's record.
func (s *ApprovalSet) Lookup(approver UserID) (ApprovalRecord, bool) {
	i, ok := s.byApprover[approver]
	if !ok {
		return ApprovalRecord{}, false
	}
	return s.records[i], true
}

// Pending returns the approver's record if it can still be decided.
func (s *ApprovalSet) Pending(approver UserID) (ApprovalRecord, error) {
	r, ok := s.Lookup(approver)
	if !ok {
		return ApprovalRecord{}, &NotFoundError{Kind: "approval", ID: string(s.transactionID) + "/" + string(approver)}
	}
	if !r.IsPending() {
		return r, &AlreadyDecidedError{TransactionID: s.transactionID, ApproverID: approver, Status: r.Status}
	}
	return r, nil
}

// Decide records the approver's decision in the set.
func (s *ApprovalSet) Decide(approver UserID, action Action, comment string, at time.Time) (ApprovalRecord, error) {
	r, err := s.Pending(approver)
	if err != nil {
		return r, err
	}
	i := s.byApprover[approver]
	decidedAt := at
	s.records[i].Status = action.status()
	s.records[i].Comment = comment
	s.records[i].DecidedAt = &decidedAt
	s.records[i].UpdatedAt = at
	return s.records[i], nil
}
