package core

import "time"

// Credential is a compact three-segment token (header.payload.signature).
// Only the payload is ever inspected on this side of the wire.
type Credential string

// String returns the raw token.
func (c Credential) String() string {
	return string(c)
}

// IsZero reports whether no credential is held.
func (c Credential) IsZero() bool {
	return c == ""
}

// TokenPair is what the issuing server hands out on login and refresh.
type TokenPair struct {
	Access  Credential
	Renewal Credential
}

// Role is the coarse role derived from scope markers.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RoleNurse   Role = "nurse"
	RolePatient Role = "patient"
)

// Principal identifies the authenticated user
type Principal struct {
	ID       string
	Username string
	Role     Role
}

// SessionState is the state of the session state machine
type SessionState string

const (
	StateUnauthenticated SessionState = "unauthenticated"
	StateAuthenticating  SessionState = "authenticating"
	StateAuthenticated   SessionState = "authenticated"
	StateRenewing        SessionState = "renewing"
	StateTerminated      SessionState = "terminated"
)

// Session is the canonical in-memory session record
type Session struct {
	State             SessionState
	AccessCredential  Credential
	RenewalCredential Credential
	Principal         *Principal
	IsAuthenticated   bool
	IsPending         bool
	LastError         ErrorKind
	Remember          bool
}

// StoredCredential is the persisted form of a session
type StoredCredential struct {
	AccessCredential  Credential
	RenewalCredential Credential
	Remember          bool
}

// SessionEventType names a session lifecycle transition
type SessionEventType string

const (
	EventEstablished SessionEventType = "established"
	EventRestored    SessionEventType = "restored"
	EventRenewed     SessionEventType = "renewed"
	EventTerminated  SessionEventType = "terminated"
)

// SessionEvent is published after every lifecycle transition. Consumers
// holding caches keyed by principal must drop them on established and
// terminated events.
type SessionEvent struct {
	Type        SessionEventType `json:"type"`
	PrincipalID string           `json:"principal_id,omitempty"`
	Reason      ErrorKind        `json:"reason,omitempty"`
	At          time.Time        `json:"at"`
}
