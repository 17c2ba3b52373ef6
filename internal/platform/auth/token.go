package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries only identity. Roles are never read from a token.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// AccountID parses the subject. Tokens issued here always carry an account
// UUID there.
func (c *Claims) AccountID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not an account id", ErrInvalidToken)
	}
	return id, nil
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	TTL        time.Duration
}

// Tokens issues and verifies HS256 access tokens.
type Tokens struct {
	cfg JWTConfig
	now func() time.Time
}

func NewTokens(cfg JWTConfig) *Tokens {
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	return &Tokens{cfg: cfg, now: time.Now}
}

// IssuedToken is an access token plus the claims it was minted with.
type IssuedToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	JTI         string    `json:"-"`
}

func (t *Tokens) Issue(accountID uuid.UUID, email string) (*IssuedToken, error) {
	now := t.now()
	exp := now.Add(t.cfg.TTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   accountID.String(),
			Issuer:    t.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: email,
	}
	if t.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{t.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &IssuedToken{AccessToken: signed, TokenType: "Bearer", ExpiresAt: exp, JTI: claims.ID}, nil
}

var ErrInvalidToken = errors.New("invalid token")

// Verify parses tokenStr and checks signature, expiry, issuer and audience.
func (t *Tokens) Verify(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.cfg.Issuer))
	}
	if t.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(t.cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, err
	}
	return claims, nil
}
