package issuer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/sessionkit/core"
)

const (
	AudienceAccess  = "session:access"
	AudienceRefresh = "session:refresh"
)

// AccessClaims are the claims of an access token. The embedded core.Claims
// are what clients decode; RefreshID ties the token to its refresh token so
// that revoking one revokes both.
type AccessClaims struct {
	core.Claims
	RefreshID string `json:"rid"`
}

// RefreshClaims are just the standard claims for refresh tokens
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// grant is what a token pair is minted from
type grant struct {
	User          User
	SessionID     string
	RefreshID     string
	IssuedAt      time.Time
	AccessExpiry  time.Time
	RefreshExpiry time.Time
}

// Tokenizer signs and verifies ES256 tokens
type Tokenizer struct {
	signKey *ecdsa.PrivateKey
	now     func() time.Time
}

// NewTokenizer creates a tokenizer. now drives expiry validation.
func NewTokenizer(signKey *ecdsa.PrivateKey, now func() time.Time) *Tokenizer {
	if now == nil {
		now = time.Now
	}
	return &Tokenizer{signKey: signKey, now: now}
}

// AccessToken signs the access token of a grant
func (t *Tokenizer) AccessToken(g grant) (string, error) {
	claims := AccessClaims{
		Claims: core.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   g.User.ID,
				ID:        g.SessionID,
				ExpiresAt: jwt.NewNumericDate(g.AccessExpiry),
				IssuedAt:  jwt.NewNumericDate(g.IssuedAt),
				Audience:  jwt.ClaimStrings{AudienceAccess},
			},
			Scope:    g.User.Scope,
			Username: g.User.Username,
		},
		RefreshID: g.RefreshID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(t.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// RefreshToken signs the refresh token of a grant
func (t *Tokenizer) RefreshToken(g grant) (string, error) {
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   g.User.ID,
			ID:        g.RefreshID, // the refresh id is the token's jti
			ExpiresAt: jwt.NewNumericDate(g.RefreshExpiry),
			IssuedAt:  jwt.NewNumericDate(g.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceRefresh},
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(t.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, nil
}

// ParseAccess verifies an access token, expiry included
func (t *Tokenizer) ParseAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := t.parse(token, claims, AudienceAccess); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseAccessIgnoringExpiry verifies an access token's signature only. Logout
// accepts expired access tokens.
func (t *Tokenizer) ParseAccessIgnoringExpiry(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := t.parse(token, claims, AudienceAccess, jwt.WithoutClaimsValidation()); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token, expiry included
func (t *Tokenizer) ParseRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := t.parse(token, claims, AudienceRefresh); err != nil {
		return nil, err
	}
	return claims, nil
}

func (t *Tokenizer) parse(token string, claims jwt.Claims, audience string, opts ...jwt.ParserOption) error {
	opts = append(opts,
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
	)

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return &t.signKey.PublicKey, nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case err != nil:
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	case !parsed.Valid:
		return ErrInvalidToken
	}
	return nil
}
