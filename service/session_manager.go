package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/layer-3/sessionkit/core"
	"github.com/layer-3/sessionkit/logging"
	"github.com/layer-3/sessionkit/permission"
	"github.com/layer-3/sessionkit/ports"
)

// DefaultLogoutTimeout bounds the best-effort logout notification
const DefaultLogoutTimeout = 5 * time.Second

// SessionManager owns the session record and is the only writer of the
// credential store. All state transitions go through its methods.
type SessionManager struct {
	mu      sync.RWMutex
	session core.Session
	// epoch changes whenever the session identity changes (establish,
	// terminate) so that a renewal started for an older session cannot
	// overwrite a newer one.
	epoch uint64

	issuer      ports.Issuer
	store       *CredentialStore
	coordinator *RefreshCoordinator
	events      ports.EventPublisher
	evaluator   *permission.Evaluator
	logger      logging.Logger

	skew            time.Duration
	now             func() time.Time
	verifyOnRestore bool
	logoutTimeout   time.Duration
}

// ManagerOption customizes a SessionManager
type ManagerOption func(*SessionManager)

// WithEvents publishes lifecycle events to p
func WithEvents(p ports.EventPublisher) ManagerOption {
	return func(m *SessionManager) { m.events = p }
}

// WithEvaluator sets the permission evaluator used for roles and queries
func WithEvaluator(e *permission.Evaluator) ManagerOption {
	return func(m *SessionManager) { m.evaluator = e }
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) ManagerOption {
	return func(m *SessionManager) { m.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) ManagerOption {
	return func(m *SessionManager) { m.now = now }
}

// WithSkew sets the expiry skew used when restoring
func WithSkew(skew time.Duration) ManagerOption {
	return func(m *SessionManager) { m.skew = skew }
}

// WithVerifyOnRestore confirms restored credentials with the issuer
func WithVerifyOnRestore(verify bool) ManagerOption {
	return func(m *SessionManager) { m.verifyOnRestore = verify }
}

// WithLogoutTimeout bounds the logout notification
func WithLogoutTimeout(d time.Duration) ManagerOption {
	return func(m *SessionManager) { m.logoutTimeout = d }
}

// NewSessionManager creates a session manager in the unauthenticated state
func NewSessionManager(
	issuer ports.Issuer,
	store *CredentialStore,
	coordinator *RefreshCoordinator,
	opts ...ManagerOption,
) *SessionManager {
	m := &SessionManager{
		session:       core.Session{State: core.StateUnauthenticated},
		issuer:        issuer,
		store:         store,
		coordinator:   coordinator,
		events:        ports.NopPublisher{},
		evaluator:     permission.Default,
		logger:        logging.Nop,
		skew:          core.DefaultSkew,
		now:           time.Now,
		logoutTimeout: DefaultLogoutTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore rebuilds the session from storage. It is called once at startup.
// An expired or malformed stored credential is cleared and the session stays
// unauthenticated.
func (m *SessionManager) Restore(ctx context.Context) error {
	stored, ok, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stored session: %w", err)
	}
	if !ok {
		return nil
	}

	claims, decoded := stored.AccessCredential.Claims()
	if !decoded || core.IsExpired(stored.AccessCredential, m.now(), m.skew) {
		m.logger.Infof("stored credential is expired or malformed, clearing")
		return m.store.Clear(ctx)
	}

	if m.verifyOnRestore {
		valid, err := m.issuer.Introspect(ctx, stored.AccessCredential)
		switch {
		case err != nil:
			m.logger.Warnf("introspection failed, keeping stored session: %v", err)
		case !valid:
			m.logger.Infof("stored credential rejected by issuer, clearing")
			return m.store.Clear(ctx)
		}
	}

	m.mu.Lock()
	m.epoch++
	m.session = m.authenticated(stored.AccessCredential, stored.RenewalCredential, claims, stored.Remember)
	principal := m.session.Principal.ID
	m.mu.Unlock()

	m.logger.Infof("session restored for %s", principal)
	m.publish(ctx, core.EventRestored, principal, core.KindNone)
	return nil
}

// Login authenticates against the issuer and establishes the session. While
// the call is out the session is pending; on failure the previous state is
// kept and LastError records the failure kind.
func (m *SessionManager) Login(ctx context.Context, username, password string, remember bool) error {
	m.mu.Lock()
	previous := m.session.State
	m.session.State = core.StateAuthenticating
	m.session.IsPending = true
	m.session.LastError = core.KindNone
	m.mu.Unlock()

	pair, err := m.issuer.Login(ctx, username, password)
	if err != nil {
		m.loginFailed(previous, core.KindOf(err))
		return fmt.Errorf("login failed: %w", err)
	}

	if err := m.Establish(ctx, pair.Access, pair.Renewal, remember); err != nil {
		m.loginFailed(previous, core.KindOf(err))
		return err
	}
	return nil
}

// loginFailed returns from the authenticating state to the one the session
// was in before the attempt.
func (m *SessionManager) loginFailed(previous core.SessionState, kind core.ErrorKind) {
	if kind == core.KindNone {
		kind = core.KindServer
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.State == core.StateAuthenticating {
		m.session.State = previous
	}
	m.session.IsPending = false
	m.session.LastError = kind
}

// Establish installs a freshly issued credential pair, persists it in the
// tier selected by remember and enters the authenticated state.
func (m *SessionManager) Establish(ctx context.Context, access, renewal core.Credential, remember bool) error {
	claims, err := core.DecodeClaims(access)
	if err != nil {
		m.establishFailed(core.KindDecode)
		return fmt.Errorf("cannot establish session: %w", err)
	}

	if err := m.store.Save(ctx, access, renewal, remember); err != nil {
		m.establishFailed(core.KindStorage)
		return fmt.Errorf("cannot establish session: %w", err)
	}

	m.mu.Lock()
	m.epoch++
	m.session = m.authenticated(access, renewal, claims, remember)
	principal := m.session.Principal.ID
	m.mu.Unlock()

	m.logger.Infof("session established for %s", principal)
	m.publish(ctx, core.EventEstablished, principal, core.KindNone)
	return nil
}

// establishFailed records why a credential pair was not installed. The
// session held before, if any, is left as it was.
func (m *SessionManager) establishFailed(kind core.ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.IsPending = false
	m.session.LastError = kind
}

// Renew obtains a fresh access credential. Concurrent callers share one
// renewal call; a failed renewal terminates the session.
func (m *SessionManager) Renew(ctx context.Context) (core.Credential, error) {
	return m.RenewFrom(ctx, "")
}

// RenewFrom is Renew for a caller that found stale unusable. If by the time
// the renewal starts the session already holds a different credential that
// has not expired, that credential is returned without calling the issuer.
func (m *SessionManager) RenewFrom(ctx context.Context, stale core.Credential) (core.Credential, error) {
	return m.coordinator.Do(ctx, func(ctx context.Context) (core.Credential, error) {
		return m.renewOnce(ctx, stale)
	})
}

func (m *SessionManager) renewOnce(ctx context.Context, stale core.Credential) (core.Credential, error) {
	m.mu.Lock()
	current := m.session.AccessCredential
	if !stale.IsZero() && current.IsZero() {
		// the session the trigger belonged to has already ended
		m.mu.Unlock()
		return "", fmt.Errorf("session ended before renewal: %w", core.ErrNoSession)
	}
	if !stale.IsZero() && current != stale && !core.IsExpired(current, m.now(), m.skew) {
		m.mu.Unlock()
		return current, nil
	}
	epoch := m.epoch
	renewal := m.session.RenewalCredential
	remember := m.session.Remember
	if m.session.State == core.StateAuthenticated {
		m.session.State = core.StateRenewing
	}
	m.mu.Unlock()

	if renewal.IsZero() {
		err := fmt.Errorf("no renewal credential: %w", core.ErrRenewalFailed)
		return m.renewalFailed(ctx, epoch, err)
	}

	pair, err := m.issuer.Refresh(ctx, renewal)
	if err == nil {
		_, err = core.DecodeClaims(pair.Access)
	}
	if err != nil {
		return m.renewalFailed(ctx, epoch, fmt.Errorf("%w: %w", core.ErrRenewalFailed, err))
	}
	if pair.Renewal.IsZero() {
		pair.Renewal = renewal
	}

	m.mu.Lock()
	if m.epoch != epoch {
		current := m.session.AccessCredential
		m.mu.Unlock()
		return m.superseded(current)
	}
	claims, _ := pair.Access.Claims()
	m.session = m.authenticated(pair.Access, pair.Renewal, claims, remember)
	principal := m.session.Principal.ID
	m.mu.Unlock()

	if err := m.store.Save(ctx, pair.Access, pair.Renewal, remember); err != nil {
		m.logger.Errorf("renewed credential could not be persisted: %v", err)
	}

	m.logger.Debugf("credential renewed for %s", principal)
	m.publish(ctx, core.EventRenewed, principal, core.KindNone)
	return pair.Access, nil
}

// renewalFailed terminates the session locally, unless it was already
// replaced while the renewal was running.
func (m *SessionManager) renewalFailed(ctx context.Context, epoch uint64, cause error) (core.Credential, error) {
	m.mu.Lock()
	if m.epoch != epoch {
		current := m.session.AccessCredential
		m.mu.Unlock()
		return m.superseded(current)
	}
	m.epoch++
	principal := m.principalID()
	m.session = core.Session{
		State:     core.StateUnauthenticated,
		LastError: core.KindRenewalFailed,
	}
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Errorf("failed to clear credentials after renewal failure: %v", err)
	}

	m.logger.Warnf("session for %s terminated: %v", principal, cause)
	m.publish(ctx, core.EventTerminated, principal, core.KindRenewalFailed)
	return "", cause
}

func (m *SessionManager) superseded(current core.Credential) (core.Credential, error) {
	if current.IsZero() {
		return "", fmt.Errorf("session ended during renewal: %w", core.ErrNoSession)
	}
	return current, nil
}

// Terminate ends the session. The issuer is notified on a best-effort basis;
// its answer, including a 401 for an already expired credential, is ignored.
// Local state and storage are cleared unconditionally.
func (m *SessionManager) Terminate(ctx context.Context) error {
	m.mu.Lock()
	m.epoch++
	access := m.session.AccessCredential
	principal := m.principalID()
	m.session = core.Session{State: core.StateTerminated}
	m.mu.Unlock()

	if !access.IsZero() {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.logoutTimeout)
		if err := m.issuer.Logout(notifyCtx, access); err != nil {
			m.logger.Debugf("logout notification ignored: %v", err)
		}
		cancel()
	}

	err := m.store.Clear(ctx)

	m.mu.Lock()
	if m.session.State == core.StateTerminated {
		m.session.State = core.StateUnauthenticated
	}
	m.mu.Unlock()

	if principal != "" {
		m.logger.Infof("session terminated for %s", principal)
	}
	m.publish(ctx, core.EventTerminated, principal, core.KindNone)

	if err != nil {
		return fmt.Errorf("failed to clear stored credentials: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the session record
func (m *SessionManager) Snapshot() core.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.session
	if s.Principal != nil {
		p := *s.Principal
		s.Principal = &p
	}
	return s
}

// AccessCredential returns the access credential currently held
func (m *SessionManager) AccessCredential() core.Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.AccessCredential
}

// IsAuthenticated reports whether a usable access credential is held
func (m *SessionManager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.IsAuthenticated
}

// IsPending reports whether a login is in progress
func (m *SessionManager) IsPending() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.IsPending
}

// LastError returns the kind of the last session failure
func (m *SessionManager) LastError() core.ErrorKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.LastError
}

// Principal returns the authenticated principal, or nil
func (m *SessionManager) Principal() *core.Principal {
	return m.Snapshot().Principal
}

// Permissions returns the permission vocabulary queries are answered against
func (m *SessionManager) Permissions() []permission.Permission {
	return m.evaluator.Vocabulary()
}

// HasPermission reports whether the current credential grants p
func (m *SessionManager) HasPermission(p permission.Permission) bool {
	return m.evaluator.HasPermission(m.AccessCredential(), p)
}

// HasAny reports whether the current credential grants any of ps
func (m *SessionManager) HasAny(ps ...permission.Permission) bool {
	return m.evaluator.HasAny(m.AccessCredential(), ps...)
}

// HasAll reports whether the current credential grants all of ps
func (m *SessionManager) HasAll(ps ...permission.Permission) bool {
	return m.evaluator.HasAll(m.AccessCredential(), ps...)
}

// authenticated builds the record for a held credential pair. Callers hold mu.
func (m *SessionManager) authenticated(access, renewal core.Credential, claims *core.Claims, remember bool) core.Session {
	return core.Session{
		State:             core.StateAuthenticated,
		AccessCredential:  access,
		RenewalCredential: renewal,
		Principal: &core.Principal{
			ID:       claims.UserID(),
			Username: claims.DisplayName(),
			Role:     m.evaluator.RoleOf(claims),
		},
		IsAuthenticated: !core.IsExpired(access, m.now(), 0),
		Remember:        remember,
	}
}

// principalID returns the current principal's id. Callers hold mu.
func (m *SessionManager) principalID() string {
	if m.session.Principal == nil {
		return ""
	}
	return m.session.Principal.ID
}

func (m *SessionManager) publish(ctx context.Context, typ core.SessionEventType, principal string, reason core.ErrorKind) {
	event := core.SessionEvent{
		Type:        typ,
		PrincipalID: principal,
		Reason:      reason,
		At:          m.now(),
	}
	if err := m.events.PublishSession(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warnf("failed to publish %s event: %v", typ, err)
	}
}
