package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSkew is subtracted from a credential's expiry before comparing it
// with the current time.
const DefaultSkew = 5 * time.Minute

// Claims is the decoded, unverified payload of a credential
type Claims struct {
	jwt.RegisteredClaims
	Scope    string `json:"scope,omitempty"`
	Username string `json:"preferred_username,omitempty"`
	UID      string `json:"uid,omitempty"`
}

// Expiry returns the expiry claim, or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// UserID prefers the uid claim and falls back to the subject
func (c *Claims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject
}

// DisplayName prefers preferred_username and falls back to the subject
func (c *Claims) DisplayName() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Subject
}

// ScopeTokens splits the scope on whitespace, dropping empty tokens.
func (c *Claims) ScopeTokens() []string {
	return strings.Fields(c.Scope)
}

// DecodeClaims decodes the payload segment of c without verifying its
// signature. Both URL-safe and standard alphabets are accepted, padded or
// not. Every failure wraps ErrDecode.
func DecodeClaims(c Credential) (*Claims, error) {
	parts := strings.Split(string(c), ".")
	if len(parts) < 2 || parts[1] == "" {
		return nil, fmt.Errorf("missing payload segment: %w", ErrDecode)
	}

	segment := strings.NewReplacer("-", "+", "_", "/").Replace(parts[1])
	segment = strings.TrimRight(segment, "=")
	if rem := len(segment) % 4; rem != 0 {
		segment += strings.Repeat("=", 4-rem)
	}

	raw, err := base64.StdEncoding.DecodeString(segment)
	if err != nil {
		return nil, fmt.Errorf("invalid payload encoding: %w", ErrDecode)
	}

	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", ErrDecode)
	}

	return &claims, nil
}

// Claims is the non-failing form of DecodeClaims.
func (c Credential) Claims() (*Claims, bool) {
	claims, err := DecodeClaims(c)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// IsExpired reports whether c must be renewed before use at now. An
// undecodable credential, or one without an exp claim, counts as expired.
func IsExpired(c Credential, now time.Time, skew time.Duration) bool {
	claims, ok := c.Claims()
	if !ok || claims.ExpiresAt == nil {
		return true
	}
	return !claims.Expiry().Add(-skew).After(now)
}
