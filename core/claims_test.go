package core_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/sessionkit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mint(t *testing.T, claims core.Claims) core.Credential {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return core.Credential(signed)
}

func TestDecodeClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	cred := mint(t, core.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Scope:    "ROLE_DOCTOR appointments:read",
		Username: "dr.house",
	})

	claims, err := core.DecodeClaims(cred)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "dr.house", claims.DisplayName())
	assert.True(t, exp.Equal(claims.Expiry()))
	assert.Equal(t, []string{"ROLE_DOCTOR", "appointments:read"}, claims.ScopeTokens())
}

func TestDecodeClaimsAcceptsBothAlphabets(t *testing.T) {
	// The first payload encodes to both '+' and '/' in the standard
	// alphabet; the second encodes to '+' and needs padding.
	subjects := []string{"a??>>b??", "a??>>b"}

	for name, enc := range map[string]*base64.Encoding{
		"raw url":  base64.RawURLEncoding,
		"url":      base64.URLEncoding,
		"standard": base64.StdEncoding,
		"raw std":  base64.RawStdEncoding,
	} {
		t.Run(name, func(t *testing.T) {
			for _, sub := range subjects {
				payload := []byte(`{"sub":"` + sub + `"}`)
				cred := core.Credential("h." + enc.EncodeToString(payload) + ".s")
				claims, err := core.DecodeClaims(cred)
				require.NoError(t, err)
				assert.Equal(t, sub, claims.Subject)
			}
		})
	}
}

func TestDecodeClaimsMalformed(t *testing.T) {
	cases := map[string]core.Credential{
		"empty":          "",
		"single segment": "abc",
		"empty payload":  "a..c",
		"invalid base64": "a.!!!!.c",
		"not json":       core.Credential("a." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".c"),
		"json array":     core.Credential("a." + base64.RawURLEncoding.EncodeToString([]byte(`[1,2]`)) + ".c"),
		"bad exp type":   core.Credential("a." + base64.RawURLEncoding.EncodeToString([]byte(`{"exp":"soon"}`)) + ".c"),
	}

	for name, cred := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				claims, err := core.DecodeClaims(cred)
				assert.Nil(t, claims)
				assert.ErrorIs(t, err, core.ErrDecode)

				claims, ok := cred.Claims()
				assert.Nil(t, claims)
				assert.False(t, ok)
			})
		})
	}
}

func TestDecodeClaimsIgnoresHeaderAndSignature(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"x"}`))
	claims, err := core.DecodeClaims(core.Credential("%%%." + payload))
	require.NoError(t, err)
	assert.Equal(t, "x", claims.Subject)
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	at := func(exp time.Time) core.Credential {
		return mint(t, core.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}})
	}

	tests := []struct {
		name string
		cred core.Credential
		want bool
	}{
		{"past", at(now.Add(-time.Hour)), true},
		{"inside skew", at(now.Add(4 * time.Minute)), true},
		{"exactly at skew", at(now.Add(core.DefaultSkew)), true},
		{"beyond skew", at(now.Add(6 * time.Minute)), false},
		{"far future", at(now.Add(24 * time.Hour)), false},
		{"no exp", mint(t, core.Claims{Scope: "x"}), true},
		{"undecodable", "garbage", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, core.IsExpired(tt.cred, now, core.DefaultSkew))
		})
	}
}
