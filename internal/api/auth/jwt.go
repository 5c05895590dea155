// Package auth issues and validates API bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer   = "blazealert"
	audience = "blazealert-api"

	// DefaultTTL applies when no token lifetime is configured.
	DefaultTTL = 24 * time.Hour
)

var (
	// ErrTokenExpired is returned for a well-signed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers every other rejection.
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims are the API token claims. The subject is the acting user recorded
// on acknowledgements and resolutions. Read-only tokens may only query.
type Claims struct {
	jwt.RegisteredClaims
	Name     string `json:"name,omitempty"`
	ReadOnly bool   `json:"ro,omitempty"`
}

// TokenRequest describes a token to issue. Zero TTL uses the service TTL.
type TokenRequest struct {
	Subject  string
	Name     string
	ReadOnly bool
	TTL      time.Duration
}

// JWTService signs and verifies HS256 tokens.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService creates a JWT service. ttl <= 0 means DefaultTTL.
func NewJWTService(secret []byte, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &JWTService{secret: secret, ttl: ttl, now: time.Now}
}

// GenerateToken issues a read-write token for subject.
func (s *JWTService) GenerateToken(subject, name string) (string, error) {
	return s.Issue(TokenRequest{Subject: subject, Name: name})
}

// Issue signs a token for req.
func (s *JWTService) Issue(req TokenRequest) (string, error) {
	if req.Subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			Subject:   req.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:     req.Name,
		ReadOnly: req.ReadOnly,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken verifies signature, issuer, audience and expiry. Errors wrap
// ErrTokenExpired or ErrTokenInvalid.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case !token.Valid:
		return nil, ErrTokenInvalid
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: no subject", ErrTokenInvalid)
	}
	return claims, nil
}

// TTL returns the default token lifetime.
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}
