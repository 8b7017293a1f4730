package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Domain errors
var (
	ErrInvalidToken   = errors.New("invalid identity token")
	ErrMissingSubject = errors.New("identity token has no subject")
)

// Owner is the identity asserted by the external identity provider
type Owner struct {
	Ref   string `json:"owner_ref"` // JWT sub: stable account id
	Email string `json:"email"`     // Display only, never used as a reference
}

// Claims are the identity provider's owner token claims
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 owner tokens issued by the identity provider
type TokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

// NewTokenVerifier creates a verifier bound to one issuer and audience
func NewTokenVerifier(secret, issuer, audience string) (*TokenVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("identity token secret must be at least 32 bytes")
	}
	return &TokenVerifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		leeway:   30 * time.Second,
	}, nil
}

// Verify parses and validates a token and returns the owner it asserts
func (v *TokenVerifier) Verify(raw string) (*Owner, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMissingSubject
	}

	return &Owner{Ref: claims.Subject, Email: claims.Email}, nil
}

// SignToken issues an owner token. Used by the development token command
// and tests; production tokens come from the identity provider.
func SignToken(secret, issuer, audience, subject, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
