package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/dentalcare/dentalcare/internal/platform/auth"
)

type AccountRepository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	UpdateProfile(ctx context.Context, a *Account) error
	List(ctx context.Context, limit, offset int) ([]*Account, int, error)
}

// RoleRepository manages user_roles rows. It also satisfies auth.RoleLoader.
type RoleRepository interface {
	RolesFor(ctx context.Context, accountID uuid.UUID) ([]auth.Role, error)
	// Grant reports whether a new row was inserted.
	Grant(ctx context.Context, accountID uuid.UUID, role auth.Role) (bool, error)
	// Revoke reports whether a row was removed.
	Revoke(ctx context.Context, accountID uuid.UUID, role auth.Role) (bool, error)
	RolesForAccounts(ctx context.Context, accountIDs []uuid.UUID) (map[uuid.UUID][]auth.Role, error)
}
