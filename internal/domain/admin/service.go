package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/domain/identity"
	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
)

// Service implements role management and clinic statistics. Every exported
// operation that takes an AuthorizationContext checks its gate first.
type Service struct {
	accounts identity.AccountRepository
	roles    identity.RoleRepository
	stats    StatsRepository
	logger   zerolog.Logger
}

func NewService(accounts identity.AccountRepository, roles identity.RoleRepository, stats StatsRepository, logger zerolog.Logger) *Service {
	return &Service{accounts: accounts, roles: roles, stats: stats, logger: logger}
}

func parseRole(s string) (auth.Role, error) {
	role, ok := auth.ParseRole(strings.TrimSpace(s))
	if !ok {
		return "", apperr.Invalid("role", "unknown role %q", s)
	}
	return role, nil
}

// GrantRole adds role to the account. Granting a role the account already
// holds is a conflict and inserts nothing.
func (s *Service) GrantRole(ctx context.Context, authz auth.AuthorizationContext, accountID uuid.UUID, role auth.Role) (*RoleView, error) {
	if !authz.CanManageRoles() {
		return nil, apperr.ErrForbidden
	}
	return s.grant(ctx, authz.AccountID, accountID, role)
}

func (s *Service) grant(ctx context.Context, actor, accountID uuid.UUID, role auth.Role) (*RoleView, error) {
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		return nil, err
	}
	inserted, err := s.roles.Grant(ctx, accountID, role)
	if err != nil {
		return nil, fmt.Errorf("grant role: %w", err)
	}
	if !inserted {
		return nil, fmt.Errorf("%w: account already has role %s", apperr.ErrConflict, role)
	}
	s.logger.Info().
		Str("actor_id", actor.String()).
		Str("account_id", accountID.String()).
		Str("role", string(role)).
		Msg("role granted")
	return s.view(ctx, accountID)
}

// RevokeRole removes role from the account. Revoking a role that is not held
// succeeds without change.
func (s *Service) RevokeRole(ctx context.Context, authz auth.AuthorizationContext, accountID uuid.UUID, role auth.Role) (*RoleView, error) {
	if !authz.CanManageRoles() {
		return nil, apperr.ErrForbidden
	}
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		return nil, err
	}
	removed, err := s.roles.Revoke(ctx, accountID, role)
	if err != nil {
		return nil, fmt.Errorf("revoke role: %w", err)
	}
	if removed {
		s.logger.Info().
			Str("actor_id", authz.AccountID.String()).
			Str("account_id", accountID.String()).
			Str("role", string(role)).
			Msg("role revoked")
	}
	return s.view(ctx, accountID)
}

// PromoteByEmail grants admin to the account registered under email.
func (s *Service) PromoteByEmail(ctx context.Context, authz auth.AuthorizationContext, email string) (*RoleView, error) {
	if !authz.CanManageRoles() {
		return nil, apperr.ErrForbidden
	}
	return s.promote(ctx, authz.AccountID, email)
}

// BootstrapAdmin is PromoteByEmail without a caller. It is reserved for the
// operator CLI, which runs with database credentials.
func (s *Service) BootstrapAdmin(ctx context.Context, email string) (*RoleView, error) {
	return s.promote(ctx, uuid.Nil, email)
}

func (s *Service) promote(ctx context.Context, actor uuid.UUID, email string) (*RoleView, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperr.Invalid("email", "is required")
	}
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.grant(ctx, actor, account.ID, auth.RoleAdmin)
}

func (s *Service) view(ctx context.Context, accountID uuid.UUID) (*RoleView, error) {
	roles, err := s.roles.RolesFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return NewRoleView(accountID, roles), nil
}

func (s *Service) ListAccountsWithRoles(ctx context.Context, authz auth.AuthorizationContext, limit, offset int) ([]*AccountWithRoles, int, error) {
	if !authz.CanManageRoles() {
		return nil, 0, apperr.ErrForbidden
	}
	accounts, total, err := s.accounts.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]uuid.UUID, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	roleSets, err := s.roles.RolesForAccounts(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	out := make([]*AccountWithRoles, len(accounts))
	for i, a := range accounts {
		roles := roleSets[a.ID]
		if roles == nil {
			roles = []auth.Role{}
		}
		row := &AccountWithRoles{Account: a, Roles: roles}
		if primary, ok := auth.PrimaryRole(roles); ok {
			row.PrimaryRole = &primary
		}
		out[i] = row
	}
	return out, total, nil
}

func (s *Service) Stats(ctx context.Context, authz auth.AuthorizationContext) (*Stats, error) {
	if !authz.CanViewStats() {
		return nil, apperr.ErrForbidden
	}
	return s.stats.Stats(ctx)
}
