package wallet

// Progress is the aggregate state of an approval set.
type Progress struct {
	Approved int
	Rejected int
	Pending  int
	Required int
	Total    int

	// IsComplete is Approved >= Required.
	IsComplete bool
	// IsRejected is Rejected > 0. It takes precedence over IsComplete.
	IsRejected bool

	ApprovedBy []UserID
	RejectedBy []UserID
	PendingFor []UserID
}

// Remaining is how many more approvals are needed, never negative.
func (p Progress) Remaining() int {
	if n := p.Required - p.Approved; n > 0 {
		return n
	}
	return 0
}

// Aggregate counts the records of a set against the required threshold.
// Order of decisions is irrelevant.
func Aggregate(records []ApprovalRecord, required int) Progress {
	p := Progress{Required: required, Total: len(records)}
	for _, r := range records {
		switch r.Status {
		case ApprovalApproved:
			p.Approved++
			p.ApprovedBy = append(p.ApprovedBy, r.ApproverID)
		case ApprovalRejected:
			p.Rejected++
			p.RejectedBy = append(p.RejectedBy, r.ApproverID)
		default:
			p.Pending++
			p.PendingFor = append(p.PendingFor, r.ApproverID)
		}
	}
	p.IsComplete = p.Approved >= required
	p.IsRejected = p.Rejected > 0
	return p
}

// Progress aggregates the set against its transaction's threshold.
func (s *ApprovalSet) Progress(required int) Progress {
	return Aggregate(s.records, required)
}
