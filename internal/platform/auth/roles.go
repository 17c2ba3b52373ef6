package auth

import (
	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDentist      Role = "dentist"
	RoleManager      Role = "manager"
	RoleNurse        Role = "nurse"
	RoleReceptionist Role = "receptionist"
	RolePatient      Role = "patient"
)

// precedence orders roles from strongest to weakest. PrimaryRole picks the
// first one held.
var precedence = []Role{RoleAdmin, RoleDentist, RoleManager, RoleNurse, RoleReceptionist, RolePatient}

// AllRoles returns every known role in precedence order.
func AllRoles() []Role {
	out := make([]Role, len(precedence))
	copy(out, precedence)
	return out
}

func ParseRole(s string) (Role, bool) {
	for _, r := range precedence {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

type Dashboard string

const (
	DashboardAdmin   Dashboard = "admin"
	DashboardDentist Dashboard = "dentist"
	DashboardPatient Dashboard = "patient"
)

// AuthorizationContext is the caller's identity and role set, loaded once per
// request and handed to every gated service operation.
type AuthorizationContext struct {
	AccountID uuid.UUID
	Roles     []Role
}

func NewAuthorizationContext(accountID uuid.UUID, roles []Role) AuthorizationContext {
	return AuthorizationContext{AccountID: accountID, Roles: roles}
}

func (a AuthorizationContext) Has(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a AuthorizationContext) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if a.Has(r) {
			return true
		}
	}
	return false
}

// PrimaryRole returns the highest-precedence role held. ok is false when the
// role set is empty.
func (a AuthorizationContext) PrimaryRole() (Role, bool) {
	return PrimaryRole(a.Roles)
}

func PrimaryRole(roles []Role) (Role, bool) {
	held := make(map[Role]bool, len(roles))
	for _, r := range roles {
		held[r] = true
	}
	for _, r := range precedence {
		if held[r] {
			return r, true
		}
	}
	return "", false
}

// Dashboard selects the view for the primary role. Staff roles below dentist
// share the patient view. ok is false for an empty role set.
func (a AuthorizationContext) Dashboard() (Dashboard, bool) {
	return DashboardFor(a.Roles)
}

func DashboardFor(roles []Role) (Dashboard, bool) {
	primary, ok := PrimaryRole(roles)
	if !ok {
		return "", false
	}
	switch primary {
	case RoleAdmin:
		return DashboardAdmin, true
	case RoleDentist:
		return DashboardDentist, true
	default:
		return DashboardPatient, true
	}
}

func (a AuthorizationContext) IsSelf(accountID uuid.UUID) bool {
	return a.AccountID == accountID
}

// CanManageRoles gates role grant, revoke and promotion.
func (a AuthorizationContext) CanManageRoles() bool {
	return a.Has(RoleAdmin)
}

// CanManageAppointments gates appointment status changes and rescheduling.
func (a AuthorizationContext) CanManageAppointments() bool {
	return a.HasAny(RoleAdmin, RoleDentist, RoleReceptionist)
}

func (a AuthorizationContext) CanReviewTreatments() bool {
	return a.HasAny(RoleAdmin, RoleDentist)
}

// CanPrescribe covers treatment plan creation and prescriptions.
func (a AuthorizationContext) CanPrescribe() bool {
	return a.HasAny(RoleAdmin, RoleDentist)
}

// CanReadClinicalRecords covers other patients' history, images, plans and
// prescriptions.
func (a AuthorizationContext) CanReadClinicalRecords() bool {
	return a.HasAny(RoleAdmin, RoleDentist, RoleNurse)
}

func (a AuthorizationContext) CanWriteClinicalRecords() bool {
	return a.HasAny(RoleAdmin, RoleDentist)
}

func (a AuthorizationContext) CanViewPayments() bool {
	return a.HasAny(RoleAdmin, RoleManager, RoleReceptionist)
}

func (a AuthorizationContext) CanViewStats() bool {
	return a.HasAny(RoleAdmin, RoleManager)
}

// CanManageWaitlist covers listing all entries and moving them through the
// waitlist workflow.
func (a AuthorizationContext) CanManageWaitlist() bool {
	return a.HasAny(RoleAdmin, RoleDentist, RoleReceptionist, RoleManager)
}
