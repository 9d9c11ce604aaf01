package issuer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/sessionkit/core"
	"github.com/layer-3/sessionkit/logging"
	"github.com/layer-3/sessionkit/ports"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 5 * 24 * time.Hour // 5 days
)

const revokedPrefix = "revoked:"

// Service is a reference issuing server. It issues ES256 token pairs,
// rotates refresh tokens and keeps revoked refresh ids in a store.
type Service struct {
	users   *Directory
	tokens  *Tokenizer
	revoked ports.Store
	logger  logging.Logger

	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Option customizes a Service
type Option func(*Service)

// WithClock overrides the time source used for issuing and validating
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTTL sets access and refresh token lifetimes
func WithTTL(access, refresh time.Duration) Option {
	return func(s *Service) {
		s.accessTTL = access
		s.refreshTTL = refresh
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates an issuing service
func NewService(signKey *ecdsa.PrivateKey, users *Directory, revoked ports.Store, opts ...Option) *Service {
	s := &Service{
		users:      users,
		revoked:    revoked,
		logger:     logging.Nop,
		now:        time.Now,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tokens = NewTokenizer(signKey, s.now)
	return s
}

// AccessTTL is the lifetime of issued access tokens
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// Login authenticates a user and issues a token pair
func (s *Service) Login(ctx context.Context, username, password string) (core.TokenPair, error) {
	user, err := s.users.Authenticate(username, password)
	if err != nil {
		return core.TokenPair{}, err
	}

	pair, err := s.issue(user)
	if err != nil {
		return core.TokenPair{}, err
	}

	s.logger.Infof("issued session for %s", user.ID)
	return pair, nil
}

// Refresh rotates the refresh token and issues new access and refresh tokens
func (s *Service) Refresh(ctx context.Context, refresh string) (core.TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(refresh)
	if err != nil {
		return core.TokenPair{}, fmt.Errorf("invalid refresh token: %w", err)
	}

	revoked, err := s.isRevoked(ctx, claims.ID)
	if err != nil {
		return core.TokenPair{}, err
	}
	if revoked {
		return core.TokenPair{}, ErrTokenRevoked
	}

	// The scope is read again so that role changes apply on the next renewal.
	user, err := s.users.Lookup(claims.Subject)
	if err != nil {
		return core.TokenPair{}, fmt.Errorf("cannot refresh: %w", err)
	}

	if err := s.revoke(ctx, claims.ID); err != nil {
		return core.TokenPair{}, fmt.Errorf("failed to invalidate old token: %w", err)
	}

	return s.issue(user)
}

// Validate verifies an access token and checks that its refresh id has not
// been revoked
func (s *Service) Validate(ctx context.Context, access string) (*AccessClaims, error) {
	claims, err := s.tokens.ParseAccess(access)
	if err != nil {
		return nil, err
	}

	if claims.RefreshID != "" {
		revoked, err := s.isRevoked(ctx, claims.RefreshID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// Introspect reports whether an access token is currently valid
func (s *Service) Introspect(ctx context.Context, access string) (bool, error) {
	_, err := s.Validate(ctx, access)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenRevoked), errors.Is(err, ErrInvalidToken):
		return false, nil
	default:
		return false, err
	}
}

// Logout revokes the session an access token belongs to. Expired access
// tokens are accepted.
func (s *Service) Logout(ctx context.Context, access string) error {
	claims, err := s.tokens.ParseAccessIgnoringExpiry(access)
	if err != nil {
		return err
	}
	if claims.RefreshID == "" {
		return nil
	}

	if err := s.revoke(ctx, claims.RefreshID); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	s.logger.Infof("session for %s logged out", claims.Subject)
	return nil
}

// Revoke invalidates a refresh token and every access token minted with it
func (s *Service) Revoke(ctx context.Context, refresh string) error {
	claims, err := s.tokens.ParseRefresh(refresh)
	switch {
	case errors.Is(err, ErrTokenExpired):
		return nil
	case err != nil:
		return err
	}
	return s.revoke(ctx, claims.ID)
}

func (s *Service) issue(user User) (core.TokenPair, error) {
	now := s.now()
	g := grant{
		User:          user,
		SessionID:     uuid.New().String(),
		RefreshID:     uuid.New().String(),
		IssuedAt:      now,
		AccessExpiry:  now.Add(s.accessTTL),
		RefreshExpiry: now.Add(s.refreshTTL),
	}

	access, err := s.tokens.AccessToken(g)
	if err != nil {
		return core.TokenPair{}, err
	}
	refresh, err := s.tokens.RefreshToken(g)
	if err != nil {
		return core.TokenPair{}, err
	}

	return core.TokenPair{Access: core.Credential(access), Renewal: core.Credential(refresh)}, nil
}

func (s *Service) revoke(ctx context.Context, refreshID string) error {
	return s.revoked.Set(ctx, revokedPrefix+refreshID, s.now().UTC().Format(time.RFC3339))
}

func (s *Service) isRevoked(ctx context.Context, refreshID string) (bool, error) {
	_, err := s.revoked.Get(ctx, revokedPrefix+refreshID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ports.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check token invalidation: %w", err)
	}
}
