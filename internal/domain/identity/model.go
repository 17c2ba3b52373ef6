package identity

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
)

// Account is a person who can sign in. Its role memberships live in
// user_roles.
type Account struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	FullName     string    `db:"full_name" json:"full_name"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type SignUpRequest struct {
	FullName string  `json:"full_name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone,omitempty"`
	Password string  `json:"password"`
}

// Normalize trims the fields and lower-cases the email.
func (r *SignUpRequest) Normalize() {
	r.FullName = strings.TrimSpace(r.FullName)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Phone != nil {
		p := strings.TrimSpace(*r.Phone)
		if p == "" {
			r.Phone = nil
		} else {
			r.Phone = &p
		}
	}
}

func (r *SignUpRequest) Validate() error {
	if err := validateFullName(r.FullName); err != nil {
		return err
	}
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if err := validatePhone(r.Phone); err != nil {
		return err
	}
	n := utf8.RuneCountInString(r.Password)
	if n < 6 || n > 128 {
		return apperr.Invalid("password", "must be between 6 and 128 characters")
	}
	return nil
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UpdateProfileRequest struct {
	FullName *string `json:"full_name,omitempty"`
	Phone    *string `json:"phone,omitempty"`
}

func validateFullName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < 2 || n > 100 {
		return apperr.Invalid("full_name", "must be between 2 and 100 characters")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return apperr.Invalid("email", "is required")
	}
	if len(email) > 255 {
		return apperr.Invalid("email", "must be at most 255 characters")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperr.Invalid("email", "is not a valid address")
	}
	return nil
}

func validatePhone(phone *string) error {
	if phone != nil && utf8.RuneCountInString(*phone) > 20 {
		return apperr.Invalid("phone", "must be at most 20 characters")
	}
	return nil
}

// Session is returned by sign-up and sign-in.
type Session struct {
	Account *Account          `json:"account"`
	Token   *auth.IssuedToken `json:"token"`
}

// Me is the current account with its derived role view.
type Me struct {
	Account     *Account        `json:"account"`
	Roles       []auth.Role     `json:"roles"`
	PrimaryRole *auth.Role      `json:"primary_role"`
	Dashboard   *auth.Dashboard `json:"dashboard"`
}

// NewMe derives the primary role and dashboard from roles. Both are nil for
// an empty role set.
func NewMe(account *Account, roles []auth.Role) *Me {
	if roles == nil {
		roles = []auth.Role{}
	}
	me := &Me{Account: account, Roles: roles}
	if primary, ok := auth.PrimaryRole(roles); ok {
		me.PrimaryRole = &primary
	}
	if dash, ok := auth.DashboardFor(roles); ok {
		me.Dashboard = &dash
	}
	return me
}
