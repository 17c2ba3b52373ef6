package blobstore

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// URLAudience is the audience of object URL tokens. Access tokens carry a
// different audience, so neither can stand in for the other.
const URLAudience = "dentalcare-storage"

var ErrInvalidSignature = errors.New("invalid or expired object token")

// URLSigner issues and checks HS256 tokens scoped to one bucket/path.
type URLSigner struct {
	key     []byte
	baseURL string
	now     func() time.Time
}

func NewURLSigner(key []byte, baseURL string) *URLSigner {
	return &URLSigner{key: key, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// Sign returns <base>/storage/<bucket>/<path>?token=<jwt> and its expiry.
func (s *URLSigner) Sign(bucket, objectPath string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("signed url ttl must be positive")
	}
	now := s.now()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   bucket + "/" + objectPath,
		Audience:  jwt.ClaimStrings{URLAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign object url: %w", err)
	}

	var escaped []string
	for _, part := range strings.Split(objectPath, "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	u := fmt.Sprintf("%s/storage/%s/%s?token=%s",
		s.baseURL, url.PathEscape(bucket), strings.Join(escaped, "/"), url.QueryEscape(token))
	return u, exp, nil
}

// Verify checks that token was issued for bucket/objectPath and is unexpired.
func (s *URLSigner) Verify(token, bucket, objectPath string) error {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(URLAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.Subject != bucket+"/"+objectPath {
		return ErrInvalidSignature
	}
	return nil
}
