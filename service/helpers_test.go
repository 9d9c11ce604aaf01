package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/sessionkit/core"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store down")

func mint(t *testing.T, subject, scope string, exp time.Time) core.Credential {
	t.Helper()
	claims := core.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Scope:    scope,
		Username: subject + "@example.com",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	require.NoError(t, err)
	return core.Credential(signed)
}

// MockIssuer is a testify mock of ports.Issuer
type MockIssuer struct {
	mock.Mock
}

func (m *MockIssuer) Login(ctx context.Context, username, password string) (core.TokenPair, error) {
	args := m.Called(ctx, username, password)
	return args.Get(0).(core.TokenPair), args.Error(1)
}

func (m *MockIssuer) Refresh(ctx context.Context, renewal core.Credential) (core.TokenPair, error) {
	args := m.Called(ctx, renewal)
	return args.Get(0).(core.TokenPair), args.Error(1)
}

func (m *MockIssuer) Introspect(ctx context.Context, access core.Credential) (bool, error) {
	args := m.Called(ctx, access)
	return args.Bool(0), args.Error(1)
}

func (m *MockIssuer) Logout(ctx context.Context, access core.Credential) error {
	args := m.Called(ctx, access)
	return args.Error(0)
}

// brokenStore fails every operation
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, error) { return "", errStoreDown }
func (brokenStore) Set(context.Context, string, string) error    { return errStoreDown }
func (brokenStore) Delete(context.Context, ...string) error      { return errStoreDown }

// recordingPublisher keeps every published event
type recordingPublisher struct {
	events []core.SessionEvent
}

func (p *recordingPublisher) PublishSession(_ context.Context, e core.SessionEvent) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []core.SessionEventType {
	out := make([]core.SessionEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
