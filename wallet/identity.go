package wallet

import (
	"fmt"
	"time"
)

// =============================================================================
// ROLES - Closed enumeration with a capability table
// =============================================================================

type Role string

const (
	RoleInitiator Role = "INITIATOR"
	RoleApprover1 Role = "APPROVER_1"
	RoleApprover2 Role = "APPROVER_2"
	RoleApprover3 Role = "APPROVER_3"
	RoleApprover4 Role = "APPROVER_4"
	RoleApprover5 Role = "APPROVER_5"
	RoleAdmin     Role = "ADMIN"
)

// Capabilities are what a role may do. Resolved once per user in NewUser.
type Capabilities struct {
	CanCreate  bool
	CanApprove bool
	CanAdmin   bool
}

var roleCapabilities = map[Role]Capabilities{
	RoleInitiator: {CanCreate: true},
	RoleApprover1: {CanApprove: true},
	RoleApprover2: {CanApprove: true},
	RoleApprover3: {CanApprove: true},
	RoleApprover4: {CanApprove: true},
	RoleApprover5: {CanApprove: true},
	RoleAdmin:     {CanAdmin: true},
}

// ParseRole rejects roles outside the enumeration.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleCapabilities[r]; !ok {
		return "", &ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", s)}
	}
	return r, nil
}

// =============================================================================
// USER
// =============================================================================

// User is the identity consumed from the auth collaborator.
type User struct {
	ID        UserID
	Email     string
	FullName  string
	Role      Role
	CityID    CityID
	Active    bool
	CreatedAt time.Time

	caps Capabilities
}

// NewUser builds a user and resolves its capabilities from the role table.
// An unknown role yields a user with no capabilities.
func NewUser(id UserID, email, fullName string, role Role, city CityID, active bool) User {
	return User{
		ID:       id,
		Email:    email,
		FullName: fullName,
		Role:     role,
		CityID:   city,
		Active:   active,
		caps:     roleCapabilities[role],
	}
}

func (u User) Capabilities() Capabilities { return u.caps }

// CanCreateRequests is true only for active initiators.
func (u User) CanCreateRequests() bool { return u.Active && u.caps.CanCreate }

// CanApproveRequests is true for active approvers of any level.
func (u User) CanApproveRequests() bool { return u.Active && u.caps.CanApprove }

func (u User) IsAdmin() bool { return u.Active && u.caps.CanAdmin }

// =============================================================================
// VISIBILITY AND PERMISSIONS
// =============================================================================

// CanView reports whether u may see t. approvers is the set of users holding
// an approval record on t.
func CanView(u User, t Transaction, approvers []UserID) bool {
	if u.IsAdmin() {
		return true
	}
	if u.CityID != "" && t.CityID != "" && u.CityID != t.CityID {
		return false
	}
	if u.CanCreateRequests() && t.CreatedBy == u.ID {
		return true
	}
	if u.CanApproveRequests() {
		for _, id := range approvers {
			if id == u.ID {
				return true
			}
		}
	}
	return false
}

// CanCancel reports whether u may cancel t: admins, or the initiator who created it.
func CanCancel(u User, t Transaction) bool {
	if u.IsAdmin() {
		return true
	}
	return u.CanCreateRequests() && t.CreatedBy == u.ID
}

// VisibleFilter narrows a listing to what u may see. ok is false when u sees nothing.
func VisibleFilter(u User, f TransactionFilter) (TransactionFilter, bool) {
	if u.IsAdmin() {
		return f, true
	}
	if u.CityID != "" {
		f.CityID = u.CityID
	}
	switch {
	case u.CanCreateRequests():
		f.CreatedBy = u.ID
	case u.CanApproveRequests():
		f.ApproverID = u.ID
	default:
		return f, false
	}
	return f, true
}
