package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/db"
)

// =========== Account Repository ===========

type accountRepoPG struct{ pool *pgxpool.Pool }

func NewAccountRepoPG(pool *pgxpool.Pool) AccountRepository {
	return &accountRepoPG{pool: pool}
}

func (r *accountRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const accountCols = `id, email, full_name, phone, password_hash, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.FullName, &a.Phone, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	return &a, nil
}

func (r *accountRepoPG) Create(ctx context.Context, a *Account) error {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO accounts (id, email, full_name, phone, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Email, a.FullName, a.Phone, a.PasswordHash, a.CreatedAt, a.UpdatedAt)
	return apperr.FromDB(err)
}

func (r *accountRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
}

func (r *accountRepoPG) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE LOWER(email) = LOWER($1)`, email))
}

func (r *accountRepoPG) UpdateProfile(ctx context.Context, a *Account) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE accounts SET full_name = $2, phone = $3, updated_at = NOW()
		WHERE id = $1`,
		a.ID, a.FullName, a.Phone)
	if err != nil {
		return apperr.FromDB(err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *accountRepoPG) List(ctx context.Context, limit, offset int) ([]*Account, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+accountCols+` FROM accounts ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	defer rows.Close()
	var items []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// =========== Role Repository ===========

type roleRepoPG struct{ pool *pgxpool.Pool }

func NewRoleRepoPG(pool *pgxpool.Pool) RoleRepository {
	return &roleRepoPG{pool: pool}
}

func (r *roleRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *roleRepoPG) RolesFor(ctx context.Context, accountID uuid.UUID) ([]auth.Role, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT role FROM user_roles WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	defer rows.Close()
	var roles []auth.Role
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		if role, ok := auth.ParseRole(s); ok {
			roles = append(roles, role)
		}
	}
	return roles, rows.Err()
}

func (r *roleRepoPG) Grant(ctx context.Context, accountID uuid.UUID, role auth.Role) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO user_roles (id, account_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, role) DO NOTHING`,
		uuid.New(), accountID, string(role))
	if err != nil {
		return false, apperr.FromDB(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *roleRepoPG) Revoke(ctx context.Context, accountID uuid.UUID, role auth.Role) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM user_roles WHERE account_id = $1 AND role = $2`, accountID, string(role))
	if err != nil {
		return false, apperr.FromDB(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *roleRepoPG) RolesForAccounts(ctx context.Context, accountIDs []uuid.UUID) (map[uuid.UUID][]auth.Role, error) {
	out := make(map[uuid.UUID][]auth.Role, len(accountIDs))
	if len(accountIDs) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT account_id, role FROM user_roles WHERE account_id = ANY($1)`, accountIDs)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var s string
		if err := rows.Scan(&id, &s); err != nil {
			return nil, err
		}
		if role, ok := auth.ParseRole(s); ok {
			out[id] = append(out[id], role)
		}
	}
	return out, rows.Err()
}
