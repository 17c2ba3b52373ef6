package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/db"
)

var errInvalidCredentials = fmt.Errorf("%w: invalid email or password", apperr.ErrUnauthenticated)

// Service owns sign-up, sign-in and the caller's own profile.
type Service struct {
	accounts    AccountRepository
	roles       RoleRepository
	tx          db.Transactor
	tokens      *auth.Tokens
	revocations *auth.TokenRevocationStore
	defaultRole auth.Role
	hashCost    int
	logger      zerolog.Logger

	// dummyHash is compared against when the email is unknown so both paths
	// cost one bcrypt comparison.
	dummyHash []byte
}

type Option func(*Service)

// WithDefaultRole sets the role granted at sign-up. An empty role grants none.
func WithDefaultRole(role auth.Role) Option {
	return func(s *Service) { s.defaultRole = role }
}

// WithHashCost overrides the bcrypt cost.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.hashCost = cost }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(accounts AccountRepository, roles RoleRepository, tx db.Transactor, tokens *auth.Tokens, revocations *auth.TokenRevocationStore, opts ...Option) *Service {
	s := &Service{
		accounts:    accounts,
		roles:       roles,
		tx:          tx,
		tokens:      tokens,
		revocations: revocations,
		defaultRole: auth.RolePatient,
		hashCost:    bcrypt.DefaultCost,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.hashCost)
	return s
}

// SignUp creates the account and its default role in one transaction and
// returns a session for it.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*Session, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.accounts.GetByEmail(ctx, req.Email); err == nil {
		return nil, fmt.Errorf("%w: email is already registered", apperr.ErrConflict)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := &Account{
		Email:        req.Email,
		FullName:     req.FullName,
		Phone:        req.Phone,
		PasswordHash: string(hash),
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.accounts.Create(ctx, account); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		if s.defaultRole != "" {
			if _, err := s.roles.Grant(ctx, account.ID, s.defaultRole); err != nil {
				return fmt.Errorf("grant default role: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("account_id", account.ID.String()).Msg("account created")
	return s.session(account)
}

func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, errInvalidCredentials
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errInvalidCredentials
	}
	return s.session(account)
}

func (s *Service) session(account *Account) (*Session, error) {
	token, err := s.tokens.Issue(account.ID, account.Email)
	if err != nil {
		return nil, err
	}
	return &Session{Account: account, Token: token}, nil
}

// SignOut revokes the token described by claims until it would have expired.
func (s *Service) SignOut(_ context.Context, claims *auth.Claims) error {
	if claims == nil || claims.ID == "" {
		return apperr.ErrUnauthenticated
	}
	if claims.ExpiresAt != nil {
		s.revocations.Revoke(claims.ID, claims.ExpiresAt.Time)
	}
	return nil
}

// Current returns the caller's profile with the role set loaded for this
// request.
func (s *Service) Current(ctx context.Context, authz auth.AuthorizationContext) (*Me, error) {
	account, err := s.accounts.GetByID(ctx, authz.AccountID)
	if err != nil {
		return nil, err
	}
	return NewMe(account, authz.Roles), nil
}

// UpdateProfile edits the caller's own name and phone. An empty phone clears
// it.
func (s *Service) UpdateProfile(ctx context.Context, authz auth.AuthorizationContext, req UpdateProfileRequest) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, authz.AccountID)
	if err != nil {
		return nil, err
	}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if err := validateFullName(name); err != nil {
			return nil, err
		}
		account.FullName = name
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		if phone == "" {
			account.Phone = nil
		} else {
			if err := validatePhone(&phone); err != nil {
				return nil, err
			}
			account.Phone = &phone
		}
	}
	if err := s.accounts.UpdateProfile(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}
