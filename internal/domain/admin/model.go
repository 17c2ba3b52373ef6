package admin

import (
	"github.com/google/uuid"

	"github.com/dentalcare/dentalcare/internal/domain/identity"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
)

// RoleView is an account's role set after a mutation, with the derived
// primary role and dashboard.
type RoleView struct {
	AccountID   uuid.UUID       `json:"account_id"`
	Roles       []auth.Role     `json:"roles"`
	PrimaryRole *auth.Role      `json:"primary_role"`
	Dashboard   *auth.Dashboard `json:"dashboard"`
}

func NewRoleView(accountID uuid.UUID, roles []auth.Role) *RoleView {
	if roles == nil {
		roles = []auth.Role{}
	}
	v := &RoleView{AccountID: accountID, Roles: roles}
	if primary, ok := auth.PrimaryRole(roles); ok {
		v.PrimaryRole = &primary
	}
	if dash, ok := auth.DashboardFor(roles); ok {
		v.Dashboard = &dash
	}
	return v
}

// AccountWithRoles is one row of the role-management screen.
type AccountWithRoles struct {
	*identity.Account
	Roles       []auth.Role `json:"roles"`
	PrimaryRole *auth.Role  `json:"primary_role"`
}

// Stats are the clinic-wide counters shown on the admin dashboard.
type Stats struct {
	TotalUsers             int     `json:"total_users"`
	TotalAppointments      int     `json:"total_appointments"`
	PendingAppointments    int     `json:"pending_appointments"`
	CompletedAppointments  int     `json:"completed_appointments"`
	TotalTreatments        int     `json:"total_treatments"`
	TotalRevenue           float64 `json:"total_revenue"`
	ActivePrescriptions    int     `json:"active_prescriptions"`
	WaitingWaitlistEntries int     `json:"waiting_waitlist_entries"`
}

type RoleRequest struct {
	Role string `json:"role"`
}

type PromoteRequest struct {
	Email string `json:"email"`
}
